package session

import "errors"

var (
	// ErrInvalidUserID is returned by Remember and RevokeAll for an empty subject.
	ErrInvalidUserID = errors.New("invalid user id")

	// ErrTokenGenerationExhausted is returned when every Remember attempt
	// collided. It points at a broken random source rather than bad luck.
	ErrTokenGenerationExhausted = errors.New("token generation exhausted")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)
