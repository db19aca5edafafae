package authapi

import "strings"

// DefaultHeaderName carries freshly issued tokens back to the client.
const DefaultHeaderName = "X-Identity-Token"

// Config controls adapter behavior.
type Config struct {
	// HeaderName is the response header Remember writes the token into.
	HeaderName string

	// TrustProxy honours X-Forwarded-For / X-Real-IP for the client address.
	// Enable only behind a proxy that overwrites them.
	TrustProxy bool

	// MaxBodyBytes bounds JSON request bodies.
	MaxBodyBytes int64

	// DemoLogin mounts POST /auth/login, which remembers any user id it is
	// given. It performs no credential check; never enable it in production.
	DemoLogin bool
}

// DefaultConfig returns safe defaults.
func DefaultConfig() Config {
	return Config{
		HeaderName:   DefaultHeaderName,
		TrustProxy:   false,
		MaxBodyBytes: 1 << 20, // 1 MiB
		DemoLogin:    false,
	}
}

func (c Config) normalized() Config {
	c.HeaderName = strings.TrimSpace(c.HeaderName)
	if c.HeaderName == "" {
		c.HeaderName = DefaultHeaderName
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 1 << 20
	}
	return c
}
