package track

import (
	"errors"

	"github.com/fortiblox/X1-Engine/pkg/fee"
)

var (
	// ErrNotFound is returned when a substate doesn't exist.
	ErrNotFound = errors.New("substate not found")

	// ErrNotAvailable is returned when a lock conflicts with the current holder.
	ErrNotAvailable = errors.New("substate not available")

	// ErrAlreadyLoaded is returned for a write-through lock on a resident substate.
	ErrAlreadyLoaded = errors.New("substate already loaded")

	// ErrNodeToSubstateFailure is returned when a borrowed resource object
	// cannot be converted back into a substate.
	ErrNodeToSubstateFailure = errors.New("node to substate failure")

	// ErrNotLocked is returned when releasing or borrowing without a lock.
	ErrNotLocked = errors.New("substate not locked")

	// ErrFinalized is returned for any operation after Finalize.
	ErrFinalized = errors.New("track finalized")

	// ErrAlreadyExists is returned when creating a substate that exists.
	ErrAlreadyExists = errors.New("substate already exists")

	// ErrKindMismatch is returned when a key-value write carries the wrong kind.
	ErrKindMismatch = errors.New("substate kind mismatch")
)

// Rejection reasons.
var (
	// ErrSuccessButFeeLoanNotRepaid rejects a successful transaction that
	// could not repay its loan.
	ErrSuccessButFeeLoanNotRepaid = errors.New("success but fee loan not repaid")

	// ErrErrorBeforeFeeLoanRepaid rejects a transaction that failed before
	// repaying its loan.
	ErrErrorBeforeFeeLoanRepaid = errors.New("error before fee loan repaid")
)

// PreExecutionError is returned when pre-execution costs cannot be charged.
// Summary reports what was charged.
type PreExecutionError struct {
	Summary *fee.Summary
	Err     error
}

func (e *PreExecutionError) Error() string {
	return "pre-execution costs: " + e.Err.Error()
}

func (e *PreExecutionError) Unwrap() error {
	return e.Err
}
