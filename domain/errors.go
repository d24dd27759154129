package domain

import "errors"

// Core error taxonomy. Callers branch on these with errors.Is; the API
// layer maps them to HTTP status codes.
var (
	// ErrValidationFailed indicates a command violated a business rule.
	// No event is written.
	ErrValidationFailed = errors.New("validation failed")

	// ErrUnauthorized indicates the acting user is not allowed to mutate
	// the aggregate. No event is written.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrConcurrencyConflict indicates an append lost a version race.
	// The command handler retries a bounded number of times before
	// surfacing this.
	ErrConcurrencyConflict = errors.New("concurrency conflict")

	// ErrNotFound indicates the aggregate has no events.
	ErrNotFound = errors.New("not found")

	// ErrCorruptStream indicates an event type unknown to the fold or
	// projection. Fatal to the single operation, never to the process.
	ErrCorruptStream = errors.New("corrupt event stream")
)
