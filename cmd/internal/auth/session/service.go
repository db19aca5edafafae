package session

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"sqlident/cmd/identity"
	"sqlident/cmd/security/token"
)

// Service implements the identity policy on top of a token Store.
//
// All inputs and outputs are explicit values; nothing is read from or written
// to a request object. It is safe for concurrent use.
type Service struct {
	cfg     Config
	store   Store
	tokens  token.Generator
	now     func() time.Time
	metrics *Metrics
}

// Option customizes a Service.
type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTokenSource replaces crypto/rand as the token entropy source.
func WithTokenSource(r io.Reader) Option {
	return func(s *Service) { s.tokens = token.NewGenerator(r) }
}

// WithMetrics records outcomes and store latency on m.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService constructs a Service over store. The store (and its pool) stays
// owned by the caller.
func NewService(cfg Config, store Store, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrConfig)
	}

	s := &Service{
		cfg:   cfg,
		store: store,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics != nil {
		s.store = timedStore{next: store, m: s.metrics}
	}
	return s, nil
}

// Resolve maps a presented token to its user id and refreshes the session's
// ip, user agent and modified time.
//
// ok is false, with a nil error, when no token was presented, the token is
// unknown or idle-expired, or the row vanished between lookup and touch.
// Only store failures are returned as errors.
func (s *Service) Resolve(ctx context.Context, presented string, client Client) (userID string, ok bool, err error) {
	presented = strings.TrimSpace(presented)
	if presented == "" {
		s.metrics.resolved(resultAbsent)
		return "", false, nil
	}
	// Cheap reject: garbage never reaches the database.
	if !token.Plausible(presented) {
		s.metrics.resolved(resultUnknown)
		return "", false, nil
	}

	rec, found, err := s.store.FindByToken(ctx, presented)
	if err != nil {
		s.metrics.resolved(resultError)
		return "", false, err
	}
	if !found {
		s.metrics.resolved(resultUnknown)
		return "", false, nil
	}

	now := s.now()
	if s.idle(rec, now) {
		// Conditional: a peer with a later clock may have just refreshed it.
		if err := s.store.DeleteIfIdle(ctx, presented, now.Add(-s.cfg.MaxIdle)); err != nil && !identity.IsNotFound(err) {
			s.metrics.resolved(resultError)
			return "", false, err
		}
		s.metrics.resolved(resultExpired)
		return "", false, nil
	}

	if err := s.store.Touch(ctx, presented, client.IP, client.UserAgent, now); err != nil {
		if identity.IsNotFound(err) {
			// Forgotten or revoked after the lookup.
			s.metrics.resolved(resultRaced)
			return "", false, nil
		}
		s.metrics.resolved(resultError)
		return "", false, err
	}

	s.metrics.resolved(resultOK)
	return rec.UserID, true, nil
}

// Remember opens a new session for an already authenticated userID and
// returns the token to hand to the client.
//
// A token collision is retried with a fresh token up to TokenMaxAttempts
// times, then reported as ErrTokenGenerationExhausted.
func (s *Service) Remember(ctx context.Context, userID string, client Client) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		s.metrics.remembered(resultError)
		return "", ErrInvalidUserID
	}

	now := s.now()
	for attempt := 0; attempt < s.cfg.TokenMaxAttempts; attempt++ {
		tok, err := s.tokens.New()
		if err != nil {
			s.metrics.remembered(resultError)
			return "", err
		}

		_, err = s.store.Insert(ctx, identity.NewIdentity{
			Token:     tok,
			UserID:    userID,
			IP:        client.IP,
			UserAgent: client.UserAgent,
			Created:   now,
			Modified:  now,
		})
		if err == nil {
			s.metrics.remembered(resultOK)
			return tok, nil
		}
		if !identity.IsConflict(err) {
			s.metrics.remembered(resultError)
			return "", err
		}
		s.metrics.collided()
	}

	s.metrics.remembered(resultExhausted)
	return "", fmt.Errorf("%w after %d attempts", ErrTokenGenerationExhausted, s.cfg.TokenMaxAttempts)
}

// Forget ends the session behind presented. A token that is already gone
// (or was never issued) is not an error, so Forget is idempotent.
func (s *Service) Forget(ctx context.Context, presented string) error {
	presented = strings.TrimSpace(presented)
	if !token.Plausible(presented) {
		s.metrics.forgot(resultAbsent)
		return nil
	}

	err := s.store.Delete(ctx, presented)
	switch {
	case err == nil:
		s.metrics.forgot(resultOK)
		return nil
	case identity.IsNotFound(err):
		s.metrics.forgot(resultAbsent)
		return nil
	default:
		s.metrics.forgot(resultError)
		return err
	}
}

// Revoke removes a session by its surrogate id. Unlike Forget it reports
// identity.ErrNotFound so operators learn about a stale id.
func (s *Service) Revoke(ctx context.Context, id int64) error {
	if err := s.store.DeleteByID(ctx, id); err != nil {
		return err
	}
	s.metrics.revokedN("id", 1)
	return nil
}

// RevokeAll removes every session of userID (logout everywhere) and returns
// how many were removed.
func (s *Service) RevokeAll(ctx context.Context, userID string) (int64, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return 0, ErrInvalidUserID
	}
	n, err := s.store.DeleteByUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	s.metrics.revokedN("user", n)
	return n, nil
}

// Prune removes sessions idle for longer than MaxIdle as of now.
// Without MaxIdle nothing ever expires and Prune is a no-op.
func (s *Service) Prune(ctx context.Context, now time.Time) (int64, error) {
	if s.cfg.MaxIdle <= 0 {
		return 0, nil
	}
	n, err := s.store.DeleteIdleBefore(ctx, now.Add(-s.cfg.MaxIdle))
	if err != nil {
		return 0, err
	}
	s.metrics.revokedN("prune", n)
	return n, nil
}

// Config returns the policy the Service runs with.
func (s *Service) Config() Config { return s.cfg }

func (s *Service) idle(rec identity.Identity, now time.Time) bool {
	if s.cfg.MaxIdle <= 0 {
		return false
	}
	return rec.Modified.Before(now.Add(-s.cfg.MaxIdle))
}
