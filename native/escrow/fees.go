package escrow

import (
	"fmt"
	"math/big"
)

// FeePolicy captures the process-wide proportional fee applied to payouts.
// A payout of amount yields fee = floor(amount * Rate / Denominator) to the
// collector and amount - fee to the recipient.
type FeePolicy struct {
	Rate        uint64
	Denominator uint64
	Collector   [20]byte
}

// Valid reports whether the policy can be applied without losing value.
func (p FeePolicy) Valid() error {
	if p.Denominator == 0 {
		return fmt.Errorf("%w: fee denominator must be positive", ErrInvalidParameters)
	}
	if p.Rate >= p.Denominator {
		return fmt.Errorf("%w: fee rate must be below denominator", ErrInvalidParameters)
	}
	if p.Rate > 0 && p.Collector == ([20]byte{}) {
		return fmt.Errorf("%w: fee collector required for non-zero rate", ErrInvalidParameters)
	}
	return nil
}

// Apply splits the supplied payout amount into the collector fee and the net
// remainder. The fee rounds down so fee + net always equals amount exactly.
func (p FeePolicy) Apply(amount *big.Int) (fee, net *big.Int) {
	if amount == nil || amount.Sign() <= 0 {
		return big.NewInt(0), big.NewInt(0)
	}
	if p.Rate == 0 || p.Denominator == 0 {
		return big.NewInt(0), new(big.Int).Set(amount)
	}
	fee = new(big.Int).Mul(amount, new(big.Int).SetUint64(p.Rate))
	fee.Div(fee, new(big.Int).SetUint64(p.Denominator))
	net = new(big.Int).Sub(amount, fee)
	return fee, net
}
