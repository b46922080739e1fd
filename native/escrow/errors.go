package escrow

import "errors"

// Failure taxonomy for the escrow engine. Every failed operation returns one
// of these sentinels (possibly wrapped) and rolls back all of its state
// writes; failed operations leave no event trace.
var (
	// ErrNotBuyer rejects buyer-gated operations invoked by another caller.
	ErrNotBuyer = errors.New("escrow: caller is not the buyer")
	// ErrNotSeller is defined for seller-gated operations. No current
	// operation is seller-gated.
	ErrNotSeller = errors.New("escrow: caller is not the seller")
	// ErrNotArbitrator rejects dispute resolution by anyone but the fixed
	// arbitrator.
	ErrNotArbitrator = errors.New("escrow: caller is not the arbitrator")

	// ErrInvalidState rejects an operation attempted from a source state
	// other than the one it requires.
	ErrInvalidState = errors.New("escrow: invalid agreement state")
	// ErrNotFound indicates no agreement exists for the supplied id.
	ErrNotFound = errors.New("escrow: agreement not found")

	// ErrInvalidNativeAmount indicates the attached native value is below
	// the agreement amount.
	ErrInvalidNativeAmount = errors.New("escrow: attached native value below agreement amount")
	// ErrNativeNotAccepted indicates native value was attached to a
	// token-asset deposit.
	ErrNativeNotAccepted = errors.New("escrow: native value attached to token deposit")

	// ErrNativeTransferFailed indicates the native value movement reported
	// failure.
	ErrNativeTransferFailed = errors.New("escrow: native transfer failed")
	// ErrTokenTransferFailed indicates the token ledger reported failure.
	ErrTokenTransferFailed = errors.New("escrow: token transfer failed")
)
