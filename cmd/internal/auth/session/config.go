package session

import (
	"fmt"
	"time"
)

// Config defines the runtime policy knobs of the Service.
type Config struct {
	// TokenMaxAttempts caps how many fresh tokens Remember tries before it
	// gives up with ErrTokenGenerationExhausted.
	TokenMaxAttempts int

	// MaxIdle expires sessions not resolved for this long. Zero keeps them
	// until they are forgotten or revoked.
	MaxIdle time.Duration
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		TokenMaxAttempts: 5,
		MaxIdle:          0,
	}
}

// Validate reports ErrConfig for values the Service cannot run with.
func (c Config) Validate() error {
	if c.TokenMaxAttempts < 1 || c.TokenMaxAttempts > 100 {
		return fmt.Errorf("%w: token max attempts must be in [1,100], got %d", ErrConfig, c.TokenMaxAttempts)
	}
	if c.MaxIdle < 0 {
		return fmt.Errorf("%w: max idle must not be negative", ErrConfig)
	}
	return nil
}
