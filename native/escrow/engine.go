package escrow

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	"escrowd/core/events"
	"escrowd/core/types"
)

var (
	errNilState   = errors.New("escrow engine: state not configured")
	errNilCustody = errors.New("escrow engine: custody adapter not configured")
)

// IndexRole selects one of the per-participant secondary indices.
type IndexRole uint8

const (
	// IndexPayer lists escrows by their funding party.
	IndexPayer IndexRole = iota + 1
	// IndexPayee lists escrows by their receiving party.
	IndexPayee
)

// EngineState is the registry backend consumed by the engine. EscrowGet must
// return an instance the engine may mutate freely; mutations become visible
// only through EscrowPut.
type EngineState interface {
	EscrowPut(*Escrow) error
	EscrowGet(id [32]byte) (*Escrow, bool)
	IndexAppend(role IndexRole, addr [20]byte, id [32]byte) error
	IndexList(role IndexRole, addr [20]byte) ([][32]byte, error)
}

type escrowEvent struct {
	evt *types.Event
}

func (e escrowEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

// Event returns the underlying typed payload.
func (e escrowEvent) Event() *types.Event { return e.evt }

// Engine owns every status transition and authorization check of the escrow
// lifecycle. It holds a per-escrow mutual-exclusion guard across any call
// sequence containing external transfers, so a custody callback re-entering
// the same escrow blocks until the first operation has fully committed or
// fully reverted.
type Engine struct {
	state   EngineState
	custody Custody
	emitter events.Emitter
	nowFn   func() int64

	feeMu     sync.RWMutex
	fees      FeePolicy
	authority [20]byte

	locksMu sync.Mutex
	locks   map[[32]byte]*sync.Mutex
}

// NewEngine creates an escrow engine with a no-op emitter and a zero fee
// policy. Callers wire state, custody and fees through the setters.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
		fees:    FeePolicy{Denominator: 10_000},
		locks:   make(map[[32]byte]*sync.Mutex),
	}
}

// SetState configures the registry backend used by the engine.
func (e *Engine) SetState(state EngineState) { e.state = state }

// SetCustody configures the custody adapter used for all value movement.
func (e *Engine) SetCustody(custody Custody) { e.custody = custody }

// SetAuthority configures the privileged address allowed to update the fee
// policy.
func (e *Engine) SetAuthority(addr [20]byte) { e.authority = addr }

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetFeePolicy installs the initial fee policy during wiring. Runtime changes
// go through UpdateFeePolicy.
func (e *Engine) SetFeePolicy(policy FeePolicy) error {
	if err := policy.Valid(); err != nil {
		return err
	}
	e.feeMu.Lock()
	e.fees = policy
	e.feeMu.Unlock()
	return nil
}

// UpdateFeePolicy replaces the fee policy when invoked by the configured
// authority address.
func (e *Engine) UpdateFeePolicy(caller [20]byte, policy FeePolicy) error {
	if e.authority == ([20]byte{}) || caller != e.authority {
		return fmt.Errorf("%w: fee policy requires authority", ErrUnauthorized)
	}
	return e.SetFeePolicy(policy)
}

// FeePolicy returns the currently configured fee policy.
func (e *Engine) FeePolicy() FeePolicy {
	e.feeMu.RLock()
	defer e.feeMu.RUnlock()
	return e.fees
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(escrowEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

// lockEscrow acquires the per-escrow guard and returns its release func.
// Unrelated escrow identifiers never contend.
func (e *Engine) lockEscrow(id [32]byte) func() {
	e.locksMu.Lock()
	if e.locks == nil {
		e.locks = make(map[[32]byte]*sync.Mutex)
	}
	mu, ok := e.locks[id]
	if !ok {
		mu = &sync.Mutex{}
		e.locks[id] = mu
	}
	e.locksMu.Unlock()
	mu.Lock()
	return mu.Unlock
}

func (e *Engine) loadEscrow(id [32]byte) (*Escrow, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	esc, ok := e.state.EscrowGet(id)
	if !ok {
		return nil, ErrNotFound
	}
	return esc, nil
}

// CreateParams carries the inputs for Create. AttachedValue is the value
// delivered alongside the call and is only meaningful for the native asset,
// where it must equal TotalAmount exactly.
type CreateParams struct {
	Payer                 [20]byte
	Payee                 [20]byte
	Asset                 Asset
	TotalAmount           *big.Int
	Deadline              int64
	Arbitrator            [20]byte
	MilestoneAmounts      []*big.Int
	MilestoneDescriptions []string
	AttachedValue         *big.Int
}

// Create validates the agreement, pulls exactly TotalAmount of the asset from
// the payer into custody and persists the escrow in the active status. The
// identifier is derived from the participants and a random nonce, so repeated
// creations by the same pair never collide.
func (e *Engine) Create(p CreateParams) (*Escrow, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.custody == nil {
		return nil, errNilCustody
	}
	if !p.Asset.Valid() {
		return nil, fmt.Errorf("%w: malformed asset", ErrInvalidParameters)
	}
	if p.Payee == ([20]byte{}) {
		return nil, fmt.Errorf("%w: payee required", ErrInvalidParameters)
	}
	if p.Payer == ([20]byte{}) {
		return nil, fmt.Errorf("%w: payer required", ErrInvalidParameters)
	}
	if p.Payee == p.Payer {
		return nil, fmt.Errorf("%w: payer and payee must differ", ErrInvalidParameters)
	}
	if p.TotalAmount == nil || p.TotalAmount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: total amount must be positive", ErrInvalidParameters)
	}
	now := e.now()
	if p.Deadline <= now {
		return nil, fmt.Errorf("%w: deadline must be in the future", ErrInvalidParameters)
	}
	if len(p.MilestoneAmounts) == 0 {
		return nil, fmt.Errorf("%w: at least one milestone required", ErrInvalidParameters)
	}
	if len(p.MilestoneAmounts) != len(p.MilestoneDescriptions) {
		return nil, fmt.Errorf("%w: milestone amounts and descriptions must match", ErrInvalidParameters)
	}
	milestones := make([]*Milestone, len(p.MilestoneAmounts))
	sum := big.NewInt(0)
	for i, amount := range p.MilestoneAmounts {
		if amount == nil || amount.Sign() <= 0 {
			return nil, fmt.Errorf("%w: milestone %d amount must be positive", ErrInvalidParameters, i)
		}
		milestones[i] = &Milestone{
			Amount:      new(big.Int).Set(amount),
			Description: p.MilestoneDescriptions[i],
		}
		sum.Add(sum, amount)
	}
	if sum.Cmp(p.TotalAmount) != 0 {
		return nil, fmt.Errorf("%w: milestone amounts must sum to total", ErrInvalidParameters)
	}

	attached := p.AttachedValue
	if attached == nil {
		attached = big.NewInt(0)
	}
	if p.Asset.IsNative() {
		if attached.Cmp(p.TotalAmount) != 0 {
			return nil, ErrFundingMismatch
		}
	} else if attached.Sign() != 0 {
		return nil, ErrFundingMismatch
	}

	nonce := uuid.New()
	id := ethcrypto.Keccak256Hash(p.Payer[:], p.Payee[:], nonce[:])

	if err := e.custody.Pull(p.Asset, p.Payer, p.TotalAmount); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFundingFailed, err)
	}
	esc := &Escrow{
		ID:             id,
		Payer:          p.Payer,
		Payee:          p.Payee,
		Arbitrator:     p.Arbitrator,
		Asset:          p.Asset,
		TotalAmount:    new(big.Int).Set(p.TotalAmount),
		ReleasedAmount: big.NewInt(0),
		Deadline:       p.Deadline,
		CreatedAt:      now,
		Status:         StatusActive,
		Milestones:     milestones,
	}
	if err := e.persistNew(esc); err != nil {
		// Creation failed after the funds were pulled; hand them back.
		if pushErr := e.custody.Push(p.Asset, p.Payer, p.TotalAmount); pushErr != nil {
			return nil, fmt.Errorf("persist escrow: %w (refund also failed: %v)", err, pushErr)
		}
		return nil, fmt.Errorf("persist escrow: %w", err)
	}
	e.emit(NewCreatedEvent(esc))
	return esc.Clone(), nil
}

func (e *Engine) persistNew(esc *Escrow) error {
	if err := e.state.EscrowPut(esc); err != nil {
		return err
	}
	if err := e.state.IndexAppend(IndexPayer, esc.Payer, esc.ID); err != nil {
		return err
	}
	return e.state.IndexAppend(IndexPayee, esc.Payee, esc.ID)
}

// ReleaseMilestone pays out a single unreleased milestone to the payee, net of
// the configured fee. Only the payer may release, and only while the escrow is
// active. The operation either fully commits or leaves no trace: a failed
// payout aborts before anything is persisted.
func (e *Engine) ReleaseMilestone(id [32]byte, caller [20]byte, index int) error {
	unlock := e.lockEscrow(id)
	defer unlock()

	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if esc.Status != StatusActive {
		return fmt.Errorf("%w: status %s", ErrNotActive, esc.Status)
	}
	if caller != esc.Payer {
		return fmt.Errorf("%w: only the payer releases milestones", ErrUnauthorized)
	}
	if index < 0 || index >= len(esc.Milestones) {
		return fmt.Errorf("%w: index %d", ErrInvalidMilestone, index)
	}
	ms := esc.Milestones[index]
	if ms.Released {
		return fmt.Errorf("%w: index %d", ErrAlreadyReleased, index)
	}
	if e.custody == nil {
		return errNilCustody
	}

	policy := e.FeePolicy()
	fee, net := policy.Apply(ms.Amount)
	payouts := []payment{
		{to: esc.Payee, amount: net},
		{to: policy.Collector, amount: fee},
	}
	if err := e.payout(esc.Asset, payouts); err != nil {
		return err
	}

	ms.Released = true
	esc.ReleasedAmount = new(big.Int).Add(esc.ReleasedAmount, ms.Amount)
	completed := esc.ReleasedAmount.Cmp(esc.TotalAmount) == 0
	if completed {
		esc.Status = StatusCompleted
	}
	if err := e.state.EscrowPut(esc); err != nil {
		if reclaimErr := e.reclaim(esc.Asset, payouts); reclaimErr != nil {
			return fmt.Errorf("persist escrow: %w (reclaim also failed: %v)", err, reclaimErr)
		}
		return fmt.Errorf("persist escrow: %w", err)
	}
	e.emit(NewMilestoneReleasedEvent(esc, index, ms.Amount, fee))
	if completed {
		e.emit(NewCompletedEvent(esc))
	}
	return nil
}

// RaiseDispute freezes an active escrow pending arbitration. Either party may
// raise; no funds move.
func (e *Engine) RaiseDispute(id [32]byte, caller [20]byte) error {
	unlock := e.lockEscrow(id)
	defer unlock()

	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if esc.Status != StatusActive {
		return fmt.Errorf("%w: status %s", ErrNotActive, esc.Status)
	}
	if caller != esc.Payer && caller != esc.Payee {
		return fmt.Errorf("%w: only payer or payee may dispute", ErrUnauthorized)
	}
	esc.Status = StatusDisputed
	if err := e.state.EscrowPut(esc); err != nil {
		return fmt.Errorf("persist escrow: %w", err)
	}
	e.emit(NewDisputeRaisedEvent(esc))
	return nil
}

// ResolveDispute settles a disputed escrow according to the arbitrator's
// split of the undisbursed remainder. The payer's share is paid fee-free; the
// fee is deducted only from the payee's share. The split must account for the
// remainder exactly.
func (e *Engine) ResolveDispute(id [32]byte, caller [20]byte, payerAmount, payeeAmount *big.Int) error {
	unlock := e.lockEscrow(id)
	defer unlock()

	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if esc.Status != StatusDisputed {
		return fmt.Errorf("%w: status %s", ErrNotDisputed, esc.Status)
	}
	if !esc.HasArbitrator() || caller != esc.Arbitrator {
		return fmt.Errorf("%w: only the arbitrator resolves disputes", ErrUnauthorized)
	}
	if payerAmount == nil || payerAmount.Sign() < 0 || payeeAmount == nil || payeeAmount.Sign() < 0 {
		return fmt.Errorf("%w: amounts must be non-negative", ErrInvalidSplit)
	}
	split := new(big.Int).Add(payerAmount, payeeAmount)
	if split.Cmp(esc.Remainder()) != 0 {
		return fmt.Errorf("%w: got %s, remainder %s", ErrInvalidSplit, split, esc.Remainder())
	}
	if e.custody == nil {
		return errNilCustody
	}

	policy := e.FeePolicy()
	fee, net := policy.Apply(payeeAmount)
	payouts := []payment{
		{to: esc.Payer, amount: payerAmount},
		{to: esc.Payee, amount: net},
		{to: policy.Collector, amount: fee},
	}
	if err := e.payout(esc.Asset, payouts); err != nil {
		return err
	}

	esc.ReleasedAmount = new(big.Int).Set(esc.TotalAmount)
	esc.Status = StatusCompleted
	if err := e.state.EscrowPut(esc); err != nil {
		if reclaimErr := e.reclaim(esc.Asset, payouts); reclaimErr != nil {
			return fmt.Errorf("persist escrow: %w (reclaim also failed: %v)", err, reclaimErr)
		}
		return fmt.Errorf("persist escrow: %w", err)
	}
	e.emit(NewDisputeResolvedEvent(esc, payerAmount, payeeAmount, fee))
	e.emit(NewCompletedEvent(esc))
	return nil
}

// Cancel refunds the full amount to the payer. Cancellation is only open to
// the payer while the escrow is active, before any milestone has been paid
// and strictly before the deadline.
func (e *Engine) Cancel(id [32]byte, caller [20]byte) error {
	unlock := e.lockEscrow(id)
	defer unlock()

	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if esc.Status != StatusActive {
		return fmt.Errorf("%w: status %s", ErrNotActive, esc.Status)
	}
	if caller != esc.Payer {
		return fmt.Errorf("%w: only the payer cancels", ErrUnauthorized)
	}
	if esc.ReleasedAmount.Sign() != 0 {
		return ErrAlreadyStarted
	}
	if e.now() >= esc.Deadline {
		return ErrExpired
	}
	if e.custody == nil {
		return errNilCustody
	}

	refund := []payment{{to: esc.Payer, amount: esc.TotalAmount}}
	if err := e.payout(esc.Asset, refund); err != nil {
		return err
	}
	esc.Status = StatusCancelled
	if err := e.state.EscrowPut(esc); err != nil {
		if reclaimErr := e.reclaim(esc.Asset, refund); reclaimErr != nil {
			return fmt.Errorf("persist escrow: %w (reclaim also failed: %v)", err, reclaimErr)
		}
		return fmt.Errorf("persist escrow: %w", err)
	}
	e.emit(NewCancelledEvent(esc, esc.TotalAmount))
	return nil
}

// GetEscrow returns a copy of the stored escrow record.
func (e *Engine) GetEscrow(id [32]byte) (*Escrow, error) {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return nil, err
	}
	return esc.Clone(), nil
}

// GetMilestones returns copies of the ordered milestone schedule.
func (e *Engine) GetMilestones(id [32]byte) ([]*Milestone, error) {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return nil, err
	}
	milestones := make([]*Milestone, len(esc.Milestones))
	for i, ms := range esc.Milestones {
		milestones[i] = ms.Clone()
	}
	return milestones, nil
}

// EscrowsByPayer lists the identifiers of every escrow funded by the address.
func (e *Engine) EscrowsByPayer(addr [20]byte) ([][32]byte, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.state.IndexList(IndexPayer, addr)
}

// EscrowsByPayee lists the identifiers of every escrow receivable by the
// address.
func (e *Engine) EscrowsByPayee(addr [20]byte) ([][32]byte, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.state.IndexList(IndexPayee, addr)
}

type payment struct {
	to     [20]byte
	amount *big.Int
}

// payout pushes each leg in order. When a later push fails the already
// delivered legs are reclaimed into custody before the error is surfaced,
// so a failed operation never leaks value.
func (e *Engine) payout(asset Asset, legs []payment) error {
	for i, leg := range legs {
		if leg.amount == nil || leg.amount.Sign() == 0 {
			continue
		}
		if err := e.custody.Push(asset, leg.to, leg.amount); err != nil {
			if reclaimErr := e.reclaim(asset, legs[:i]); reclaimErr != nil {
				return fmt.Errorf("%w: %v (reclaim also failed: %v)", ErrTransferFailed, err, reclaimErr)
			}
			return fmt.Errorf("%w: %v", ErrTransferFailed, err)
		}
	}
	return nil
}

// reclaim reverses already delivered payout legs. A failed reclaim means
// value left custody without the matching record; the caller must surface it.
func (e *Engine) reclaim(asset Asset, legs []payment) error {
	var firstErr error
	for _, leg := range legs {
		if leg.amount == nil || leg.amount.Sign() == 0 {
			continue
		}
		if err := e.custody.Reclaim(asset, leg.to, leg.amount); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
