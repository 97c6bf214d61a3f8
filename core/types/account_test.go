package types

import (
	"math/big"
	"testing"
)

func TestAccountNormalize(t *testing.T) {
	var acc *Account
	normalized := acc.Normalize()
	if normalized.BalanceNative == nil || normalized.BalanceTokens == nil {
		t.Fatalf("expected normalized nil account")
	}

	acc = &Account{}
	acc.Normalize()
	if acc.BalanceNative == nil || acc.BalanceTokens == nil {
		t.Fatalf("expected fields populated in place")
	}
}

func TestAccountTokenBalances(t *testing.T) {
	acc := NewAccount()
	if acc.TokenBalance("USDQ").Sign() != 0 {
		t.Fatalf("expected zero default balance")
	}
	acc.SetTokenBalance("USDQ", big.NewInt(50))
	if got := acc.TokenBalance("USDQ").String(); got != "50" {
		t.Fatalf("expected 50, got %s", got)
	}

	// The returned balance is a copy.
	acc.TokenBalance("USDQ").SetInt64(7)
	if got := acc.TokenBalance("USDQ").String(); got != "50" {
		t.Fatalf("token balance aliased, got %s", got)
	}
}

func TestAccountCloneIsDeep(t *testing.T) {
	acc := NewAccount()
	acc.BalanceNative = big.NewInt(10)
	acc.SetTokenBalance("USDQ", big.NewInt(20))

	clone := acc.Clone()
	clone.BalanceNative.SetInt64(99)
	clone.SetTokenBalance("USDQ", big.NewInt(99))

	if acc.BalanceNative.String() != "10" {
		t.Fatalf("clone aliased native balance")
	}
	if acc.TokenBalance("USDQ").String() != "20" {
		t.Fatalf("clone aliased token balance")
	}
}
