package token

import "errors"

// Public, stable errors for callers.
var (
	ErrEntropy = errors.New("token entropy source failed")
)
