package escrow

import (
	"fmt"
	"math/big"
)

// Status represents the lifecycle states of an escrow agreement.
type Status uint8

const (
	// StatusActive marks escrows holding funds and accepting milestone
	// releases.
	StatusActive Status = iota + 1
	// StatusDisputed marks escrows frozen pending arbitration.
	StatusDisputed
	// StatusCompleted marks escrows whose full amount has been disbursed.
	// Terminal.
	StatusCompleted
	// StatusCancelled marks escrows refunded to the payer before any release.
	// Terminal.
	StatusCancelled
)

// Valid reports whether the status value is within the supported range.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusDisputed, StatusCompleted, StatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// String returns the canonical lowercase name of the status.
func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusDisputed:
		return "disputed"
	case StatusCompleted:
		return "completed"
	case StatusCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Milestone is a fixed-amount sub-portion of an escrow's total. It is owned
// exclusively by its escrow and has no independent lifecycle; the Released
// flag is write-once true.
type Milestone struct {
	Amount      *big.Int `json:"amount"`
	Released    bool     `json:"released"`
	Description string   `json:"description"`
}

// Clone returns a deep copy of the milestone.
func (m *Milestone) Clone() *Milestone {
	if m == nil {
		return nil
	}
	clone := *m
	if m.Amount != nil {
		clone.Amount = new(big.Int).Set(m.Amount)
	}
	return &clone
}

// Validate ensures the milestone fields are sane prior to persistence.
func (m *Milestone) Validate() error {
	if m == nil {
		return fmt.Errorf("%w: milestone must not be nil", ErrInvalidParameters)
	}
	if m.Amount == nil || m.Amount.Sign() <= 0 {
		return fmt.Errorf("%w: milestone amount must be positive", ErrInvalidParameters)
	}
	return nil
}

// Escrow captures one custodial agreement between exactly two parties. The
// identity fields, asset, total amount, deadline and the milestone schedule
// are immutable after creation; only Status, ReleasedAmount and the
// milestones' Released flags advance.
type Escrow struct {
	ID             [32]byte     `json:"id"`
	Payer          [20]byte     `json:"payer"`
	Payee          [20]byte     `json:"payee"`
	Arbitrator     [20]byte     `json:"arbitrator"`
	Asset          Asset        `json:"asset"`
	TotalAmount    *big.Int     `json:"totalAmount"`
	ReleasedAmount *big.Int     `json:"releasedAmount"`
	Deadline       int64        `json:"deadline"`
	CreatedAt      int64        `json:"createdAt"`
	Status         Status       `json:"status"`
	Milestones     []*Milestone `json:"milestones"`
}

// Clone returns a deep copy of the escrow so callers can safely mutate the
// copy without affecting the stored instance.
func (e *Escrow) Clone() *Escrow {
	if e == nil {
		return nil
	}
	clone := *e
	if e.TotalAmount != nil {
		clone.TotalAmount = new(big.Int).Set(e.TotalAmount)
	} else {
		clone.TotalAmount = big.NewInt(0)
	}
	if e.ReleasedAmount != nil {
		clone.ReleasedAmount = new(big.Int).Set(e.ReleasedAmount)
	} else {
		clone.ReleasedAmount = big.NewInt(0)
	}
	if len(e.Milestones) > 0 {
		clone.Milestones = make([]*Milestone, len(e.Milestones))
		for i, ms := range e.Milestones {
			clone.Milestones[i] = ms.Clone()
		}
	}
	return &clone
}

// HasArbitrator reports whether an arbitration path is configured.
func (e *Escrow) HasArbitrator() bool {
	return e != nil && e.Arbitrator != ([20]byte{})
}

// Remainder returns the undisbursed portion of the total amount.
func (e *Escrow) Remainder() *big.Int {
	if e == nil || e.TotalAmount == nil {
		return big.NewInt(0)
	}
	released := e.ReleasedAmount
	if released == nil {
		released = big.NewInt(0)
	}
	return new(big.Int).Sub(e.TotalAmount, released)
}

// SanitizeEscrow validates the structural invariants of the supplied escrow
// and returns a clone with non-nil amount fields. The milestone sum must equal
// the total amount and the released amount must never exceed it.
func SanitizeEscrow(e *Escrow) (*Escrow, error) {
	if e == nil {
		return nil, fmt.Errorf("%w: nil escrow", ErrInvalidParameters)
	}
	clone := e.Clone()
	if !clone.Asset.Valid() {
		return nil, fmt.Errorf("%w: malformed asset", ErrInvalidParameters)
	}
	if clone.TotalAmount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: total amount must be positive", ErrInvalidParameters)
	}
	if clone.ReleasedAmount.Sign() < 0 || clone.ReleasedAmount.Cmp(clone.TotalAmount) > 0 {
		return nil, fmt.Errorf("%w: released amount out of range", ErrInvalidParameters)
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("%w: invalid status %d", ErrInvalidParameters, clone.Status)
	}
	if len(clone.Milestones) == 0 {
		return nil, fmt.Errorf("%w: at least one milestone required", ErrInvalidParameters)
	}
	sum := big.NewInt(0)
	for _, ms := range clone.Milestones {
		if err := ms.Validate(); err != nil {
			return nil, err
		}
		sum.Add(sum, ms.Amount)
	}
	if sum.Cmp(clone.TotalAmount) != 0 {
		return nil, fmt.Errorf("%w: milestone amounts must sum to total", ErrInvalidParameters)
	}
	return clone, nil
}
