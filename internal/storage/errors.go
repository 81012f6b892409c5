package storage

import "errors"

// Error taxonomy for the engine. User-facing surfaces translate
// ErrAlreadyMember directly; everything else collapses to a generic
// "try again" or stays in background logs.
var (
	// ErrNotFound means the group or membership does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyMember means the member already holds an active
	// membership in some non-terminal group.
	ErrAlreadyMember = errors.New("member already holds an active membership")

	// ErrNoCapacity means the selected group filled between selection
	// and write. Callers retry against a different or new group.
	ErrNoCapacity = errors.New("group is at capacity")

	// ErrConflict is a transient storage conflict, retryable with
	// backoff.
	ErrConflict = errors.New("storage conflict")
)
