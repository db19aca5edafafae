package session

import (
	"context"
	"time"

	"sqlident/cmd/identity"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels.
const (
	resultOK        = "ok"
	resultAbsent    = "absent"
	resultUnknown   = "unknown"
	resultExpired   = "expired"
	resultRaced     = "raced"
	resultError     = "error"
	resultExhausted = "exhausted"
)

// Metrics holds the policy counters. A nil *Metrics records nothing.
type Metrics struct {
	resolve    *prometheus.CounterVec
	remember   *prometheus.CounterVec
	collisions prometheus.Counter
	forget     *prometheus.CounterVec
	revoked    *prometheus.CounterVec
	storeOps   *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them on reg.
// A nil reg leaves them unregistered, which is what tests want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		resolve: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sqlident_resolve_total",
			Help: "Token resolutions by outcome.",
		}, []string{"result"}),
		remember: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sqlident_remember_total",
			Help: "Token issuances by outcome.",
		}, []string{"result"}),
		collisions: f.NewCounter(prometheus.CounterOpts{
			Name: "sqlident_token_collisions_total",
			Help: "Generated tokens rejected by the unique index.",
		}),
		forget: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sqlident_forget_total",
			Help: "Forget calls by outcome.",
		}, []string{"result"}),
		revoked: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sqlident_revoked_total",
			Help: "Sessions removed outside Forget, by path.",
		}, []string{"path"}),
		storeOps: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sqlident_store_op_duration_seconds",
			Help:    "Token store call latency.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"op"}),
	}
}

func (m *Metrics) resolved(result string) {
	if m != nil {
		m.resolve.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) remembered(result string) {
	if m != nil {
		m.remember.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) collided() {
	if m != nil {
		m.collisions.Inc()
	}
}

func (m *Metrics) forgot(result string) {
	if m != nil {
		m.forget.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) revokedN(path string, n int64) {
	if m != nil && n > 0 {
		m.revoked.WithLabelValues(path).Add(float64(n))
	}
}

func (m *Metrics) observe(op string, start time.Time) {
	if m != nil {
		m.storeOps.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}

// timedStore records the latency of every store call.
type timedStore struct {
	next Store
	m    *Metrics
}

func (s timedStore) Insert(ctx context.Context, in identity.NewIdentity) (int64, error) {
	defer s.m.observe("insert", time.Now())
	return s.next.Insert(ctx, in)
}

func (s timedStore) FindByToken(ctx context.Context, tok string) (identity.Identity, bool, error) {
	defer s.m.observe("find_by_token", time.Now())
	return s.next.FindByToken(ctx, tok)
}

func (s timedStore) Touch(ctx context.Context, tok, ip, userAgent string, modified time.Time) error {
	defer s.m.observe("touch", time.Now())
	return s.next.Touch(ctx, tok, ip, userAgent, modified)
}

func (s timedStore) Delete(ctx context.Context, tok string) error {
	defer s.m.observe("delete", time.Now())
	return s.next.Delete(ctx, tok)
}

func (s timedStore) DeleteByID(ctx context.Context, id int64) error {
	defer s.m.observe("delete_by_id", time.Now())
	return s.next.DeleteByID(ctx, id)
}

func (s timedStore) DeleteIfIdle(ctx context.Context, tok string, cutoff time.Time) error {
	defer s.m.observe("delete_if_idle", time.Now())
	return s.next.DeleteIfIdle(ctx, tok, cutoff)
}

func (s timedStore) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	defer s.m.observe("delete_by_user", time.Now())
	return s.next.DeleteByUser(ctx, userID)
}

func (s timedStore) DeleteIdleBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	defer s.m.observe("delete_idle_before", time.Now())
	return s.next.DeleteIdleBefore(ctx, cutoff)
}
