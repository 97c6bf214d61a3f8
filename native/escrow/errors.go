package escrow

import "errors"

// Validation failures. The requested operation was malformed; no state was
// touched.
var (
	ErrInvalidParameters = errors.New("escrow: invalid parameters")
	ErrInvalidSplit      = errors.New("escrow: resolution split must equal undisbursed remainder")
	ErrFundingMismatch   = errors.New("escrow: attached value must equal total amount")
)

// Authorization failures. The caller holds no right to the operation.
var ErrUnauthorized = errors.New("escrow: unauthorized caller")

// State failures. The operation is not valid for the escrow's current status.
var (
	ErrNotFound         = errors.New("escrow: escrow not found")
	ErrNotActive        = errors.New("escrow: escrow not active")
	ErrNotDisputed      = errors.New("escrow: escrow not disputed")
	ErrInvalidMilestone = errors.New("escrow: milestone index out of range")
	ErrAlreadyReleased  = errors.New("escrow: milestone already released")
	ErrAlreadyStarted   = errors.New("escrow: released milestones block cancellation")
	ErrExpired          = errors.New("escrow: cancellation window closed")
)

// Transfer failures. The custody adapter reported a failed movement of value;
// the whole operation aborted with no state persisted.
var (
	ErrFundingFailed  = errors.New("escrow: funding transfer failed")
	ErrTransferFailed = errors.New("escrow: payout transfer failed")
)
