package escrow

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"escrowd/core/types"
)

const (
	EventTypeCreated           = "escrow.created"
	EventTypeMilestoneReleased = "escrow.milestone_released"
	EventTypeCompleted         = "escrow.completed"
	EventTypeDisputeRaised     = "escrow.dispute_raised"
	EventTypeDisputeResolved   = "escrow.dispute_resolved"
	EventTypeCancelled         = "escrow.cancelled"
)

// NewCreatedEvent returns the canonical event payload for a newly created and
// funded escrow.
func NewCreatedEvent(e *Escrow) *types.Event { return newEscrowEvent(EventTypeCreated, e) }

// NewMilestoneReleasedEvent returns the canonical event payload emitted when a
// single milestone is paid out to the payee.
func NewMilestoneReleasedEvent(e *Escrow, index int, amount, fee *big.Int) *types.Event {
	evt := newEscrowEvent(EventTypeMilestoneReleased, e)
	evt.Attributes["milestoneIndex"] = strconv.Itoa(index)
	evt.Attributes["amount"] = bigString(amount)
	evt.Attributes["fee"] = bigString(fee)
	return evt
}

// NewCompletedEvent returns the canonical event payload emitted once when an
// escrow reaches the completed status.
func NewCompletedEvent(e *Escrow) *types.Event { return newEscrowEvent(EventTypeCompleted, e) }

// NewDisputeRaisedEvent returns the canonical event payload emitted when an
// escrow is frozen pending arbitration.
func NewDisputeRaisedEvent(e *Escrow) *types.Event { return newEscrowEvent(EventTypeDisputeRaised, e) }

// NewDisputeResolvedEvent returns the canonical event payload for an
// arbitrator-determined split of the undisbursed remainder.
func NewDisputeResolvedEvent(e *Escrow, payerAmount, payeeAmount, fee *big.Int) *types.Event {
	evt := newEscrowEvent(EventTypeDisputeResolved, e)
	evt.Attributes["payerAmount"] = bigString(payerAmount)
	evt.Attributes["payeeAmount"] = bigString(payeeAmount)
	evt.Attributes["fee"] = bigString(fee)
	return evt
}

// NewCancelledEvent returns the canonical event payload for a full refund to
// the payer.
func NewCancelledEvent(e *Escrow, refund *big.Int) *types.Event {
	evt := newEscrowEvent(EventTypeCancelled, e)
	evt.Attributes["refund"] = bigString(refund)
	return evt
}

func newEscrowEvent(eventType string, e *Escrow) *types.Event {
	attrs := make(map[string]string)
	if e == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["id"] = hex.EncodeToString(e.ID[:])
	attrs["payer"] = hex.EncodeToString(e.Payer[:])
	attrs["payee"] = hex.EncodeToString(e.Payee[:])
	attrs["asset"] = e.Asset.String()
	attrs["totalAmount"] = bigString(e.TotalAmount)
	attrs["releasedAmount"] = bigString(e.ReleasedAmount)
	attrs["status"] = e.Status.String()
	if e.HasArbitrator() {
		attrs["arbitrator"] = hex.EncodeToString(e.Arbitrator[:])
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
