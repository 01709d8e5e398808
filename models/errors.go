package models

import "errors"

// Engine error taxonomy. Handlers and CLIs branch on these with errors.Is;
// everything else is treated as an unrecoverable store failure.
var (
	// ErrNotFound means the referenced project or source hierarchy row does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrValidation covers negative amounts and malformed level transitions,
	// rejected before any write happens.
	ErrValidation = errors.New("validation failed")

	// ErrConcurrentSync is returned on per-project lock contention.
	// Callers may retry with backoff.
	ErrConcurrentSync = errors.New("a synchronization is already running for this project")

	// ErrCancelled reports a caller-initiated deadline/cancellation.
	// The transaction is rolled back before this is returned.
	ErrCancelled = errors.New("operation cancelled")

	// ErrPartialStore wraps a write failure inside the unit of work.
	// The whole run is rolled back; this is never reported as a soft warning.
	ErrPartialStore = errors.New("store write failed")
)
