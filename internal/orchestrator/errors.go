package orchestrator

import "errors"

var (
	// ErrNotFound covers a missing run or stage, and deliberately also an
	// ownership mismatch on read paths so reads never confirm existence to
	// non-owners.
	ErrNotFound = errors.New("not found")

	// ErrForbidden is returned on mutation paths when the run exists but
	// the caller does not own it.
	ErrForbidden = errors.New("forbidden")

	// ErrVersionConflict rejects a patch whose expected version no longer
	// matches the stored record.
	ErrVersionConflict = errors.New("version conflict")
)

// ValidationError rejects malformed input before any record is mutated.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// StateError rejects an operation that is not legal for the entity's
// current state, naming the reason so callers can react without guessing.
type StateError struct {
	Reason string
}

func (e *StateError) Error() string { return e.Reason }
