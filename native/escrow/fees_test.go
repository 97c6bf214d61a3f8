package escrow

import (
	"errors"
	"math/big"
	"testing"
)

func TestFeePolicyValid(t *testing.T) {
	collector := newTestAddress(0x0F)
	cases := []struct {
		name   string
		policy FeePolicy
		valid  bool
	}{
		{"zero rate without collector", FeePolicy{Rate: 0, Denominator: 10_000}, true},
		{"typical basis points", FeePolicy{Rate: 250, Denominator: 10_000, Collector: collector}, true},
		{"zero denominator", FeePolicy{Rate: 0, Denominator: 0}, false},
		{"rate equals denominator", FeePolicy{Rate: 100, Denominator: 100, Collector: collector}, false},
		{"rate above denominator", FeePolicy{Rate: 101, Denominator: 100, Collector: collector}, false},
		{"nonzero rate without collector", FeePolicy{Rate: 1, Denominator: 10_000}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.policy.Valid()
			if tc.valid && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tc.valid && !errors.Is(err, ErrInvalidParameters) {
				t.Fatalf("expected invalid parameters, got %v", err)
			}
		})
	}
}

func TestFeePolicyApply(t *testing.T) {
	collector := newTestAddress(0x0F)
	cases := []struct {
		name    string
		policy  FeePolicy
		amount  int64
		wantFee string
		wantNet string
	}{
		{"basis points", FeePolicy{Rate: 250, Denominator: 10_000, Collector: collector}, 1000, "25", "975"},
		{"rounds down", FeePolicy{Rate: 25, Denominator: 10_000, Collector: collector}, 40, "0", "40"},
		{"rounds down odd", FeePolicy{Rate: 333, Denominator: 1000, Collector: collector}, 10, "3", "7"},
		{"zero rate", FeePolicy{Rate: 0, Denominator: 10_000}, 1000, "0", "1000"},
		{"zero amount", FeePolicy{Rate: 250, Denominator: 10_000, Collector: collector}, 0, "0", "0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fee, net := tc.policy.Apply(big.NewInt(tc.amount))
			if fee.String() != tc.wantFee {
				t.Fatalf("expected fee %s, got %s", tc.wantFee, fee)
			}
			if net.String() != tc.wantNet {
				t.Fatalf("expected net %s, got %s", tc.wantNet, net)
			}
			total := new(big.Int).Add(fee, net)
			if total.Cmp(big.NewInt(tc.amount)) != 0 {
				t.Fatalf("fee and net must sum to amount, got %s", total)
			}
		})
	}

	fee, net := FeePolicy{Rate: 250, Denominator: 10_000, Collector: collector}.Apply(nil)
	if fee.Sign() != 0 || net.Sign() != 0 {
		t.Fatalf("expected zero split for nil amount")
	}
}
