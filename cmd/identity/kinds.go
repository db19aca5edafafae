package identity

import "errors"

// Sentinel error kinds (stable for errors.Is and for mapping to API status codes).
var (
	// ErrConnection is a transport or driver failure. It is transient; callers
	// may retry with backoff.
	ErrConnection = errors.New("connection")

	// ErrConflict is a uniqueness violation (duplicate token). Not retryable
	// without changing the input.
	ErrConflict = errors.New("conflict")

	// ErrNotFound reports that no row matched. Expected, not exceptional.
	ErrNotFound = errors.New("not_found")

	// ErrInvalidInput rejects values the schema cannot hold.
	ErrInvalidInput = errors.New("invalid_input")

	// ErrUnsupportedBackend is returned by ParseBackend and Open.
	ErrUnsupportedBackend = errors.New("unsupported backend")
)
