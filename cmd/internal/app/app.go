// Package app wires the sqlident server runtime: config, logging, storage,
// the identity policy, HTTP routes and the operator CLI.
package app

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"sqlident/cmd/identity"
	authapi "sqlident/cmd/internal/auth/api"
	"sqlident/cmd/internal/auth/session"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
)

// App owns the database pool, the session service and the HTTP surface.
type App struct {
	cfg Config
	log *slog.Logger

	db       *identity.DB
	sessions *session.Service
	auth     *authapi.Handler
	registry *prometheus.Registry
}

// New opens the configured backend and wires every dependency on top of it.
func New(ctx context.Context, cfg Config, log *slog.Logger) (*App, error) {
	if log == nil {
		log = slog.Default()
	}

	db, err := OpenDB(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	a, err := newWithDB(cfg, log, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return a, nil
}

func newWithDB(cfg Config, log *slog.Logger, db *identity.DB) (*App, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	sessions, err := session.NewService(cfg.SessionConfig(), db.Store(),
		session.WithMetrics(session.NewMetrics(reg)))
	if err != nil {
		return nil, err
	}

	auth, err := authapi.NewHandler(log, sessions, cfg.AuthConfig())
	if err != nil {
		return nil, err
	}

	return &App{
		cfg:      cfg,
		log:      log,
		db:       db,
		sessions: sessions,
		auth:     auth,
		registry: reg,
	}, nil
}

// Sessions exposes the policy for operator commands.
func (a *App) Sessions() *session.Service { return a.sessions }

// Handler returns the full HTTP surface, middleware included.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.db, a.registry, a.auth)
	return WithRequestLogging(WithSecurityHeaders(mux), a.log)
}

// Run serves HTTP until ctx is cancelled or the listener fails, then shuts
// down gracefully. The idle-session janitor runs alongside when configured.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"url", runtimeBaseURL(a.cfg.HTTPAddr),
		"backend", a.db.Backend(),
		"demo_login", a.cfg.DemoLogin,
		"max_idle", a.cfg.MaxIdle,
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("server.fail", "err", err)
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("server.stop", "reason", "context_done")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Error("server.shutdown.fail", "err", err)
			return err
		}
		return nil
	})

	if a.cfg.PruneInterval > 0 && a.cfg.MaxIdle > 0 {
		g.Go(func() error {
			runJanitor(gctx, a.log, a.sessions, a.cfg.PruneInterval, time.Now)
			return nil
		})
	}

	err := g.Wait()
	a.log.Info("server.stopped")
	return err
}

// Close releases the database pool.
func (a *App) Close() error {
	if a == nil {
		return nil
	}
	if err := a.db.Close(); err != nil {
		a.log.Error("db.close.fail", "err", err)
		return err
	}
	return nil
}

// runtimeBaseURL is the URL a local client would use to reach addr.
func runtimeBaseURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
