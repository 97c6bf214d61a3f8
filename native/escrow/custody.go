package escrow

import (
	"errors"
	"math/big"
)

// Failure modes reported by custody adapters. Pull reports the first two,
// Push reports the third.
var (
	ErrInsufficientFunds     = errors.New("custody: insufficient funds")
	ErrInsufficientAllowance = errors.New("custody: insufficient allowance")
	ErrPushFailed            = errors.New("custody: transfer failed")
)

// Custody is the external capability that physically moves value into and out
// of escrow custody. Calls return synchronously and never partially succeed;
// the engine does not retry failed transfers.
type Custody interface {
	// Pull moves amount of asset from the supplied address into escrow
	// custody.
	Pull(asset Asset, from [20]byte, amount *big.Int) error
	// Push moves amount of asset out of escrow custody to the supplied
	// address.
	Push(asset Asset, to [20]byte, amount *big.Int) error
	// Reclaim moves a previously pushed amount back into custody. Unlike
	// Pull it must not require an allowance: it only ever reverses a push
	// the adapter itself delivered within the same operation.
	Reclaim(asset Asset, from [20]byte, amount *big.Int) error
}
