package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrActorMissing occurs when an operation requires an acting user but
	// the context carries none.
	ErrActorMissing = errors.New("actor missing from context")
)
