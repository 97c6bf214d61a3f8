package types

import "math/big"

// Account tracks the balances held by a single address: the native asset
// balance plus one balance per fungible token symbol.
type Account struct {
	BalanceNative *big.Int            `json:"balanceNative"`
	BalanceTokens map[string]*big.Int `json:"balanceTokens,omitempty"`
}

// NewAccount returns an account with zeroed balances.
func NewAccount() *Account {
	return &Account{
		BalanceNative: big.NewInt(0),
		BalanceTokens: make(map[string]*big.Int),
	}
}

// Normalize ensures every balance field is non-nil so callers can operate on
// the account without nil checks. It returns the receiver for chaining.
func (a *Account) Normalize() *Account {
	if a == nil {
		return NewAccount()
	}
	if a.BalanceNative == nil {
		a.BalanceNative = big.NewInt(0)
	}
	if a.BalanceTokens == nil {
		a.BalanceTokens = make(map[string]*big.Int)
	}
	return a
}

// TokenBalance returns the balance recorded for the supplied token symbol,
// defaulting to zero.
func (a *Account) TokenBalance(symbol string) *big.Int {
	if a == nil || a.BalanceTokens == nil {
		return big.NewInt(0)
	}
	if bal, ok := a.BalanceTokens[symbol]; ok && bal != nil {
		return new(big.Int).Set(bal)
	}
	return big.NewInt(0)
}

// SetTokenBalance overwrites the balance recorded for the supplied token
// symbol.
func (a *Account) SetTokenBalance(symbol string, amount *big.Int) {
	if a == nil {
		return
	}
	if a.BalanceTokens == nil {
		a.BalanceTokens = make(map[string]*big.Int)
	}
	if amount == nil {
		amount = big.NewInt(0)
	}
	a.BalanceTokens[symbol] = new(big.Int).Set(amount)
}

// Clone returns a deep copy of the account so callers can safely mutate the
// copy without affecting the stored instance.
func (a *Account) Clone() *Account {
	if a == nil {
		return NewAccount()
	}
	clone := NewAccount()
	if a.BalanceNative != nil {
		clone.BalanceNative = new(big.Int).Set(a.BalanceNative)
	}
	for symbol, bal := range a.BalanceTokens {
		if bal != nil {
			clone.BalanceTokens[symbol] = new(big.Int).Set(bal)
		}
	}
	return clone
}
