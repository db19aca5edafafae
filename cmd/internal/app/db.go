package app

import (
	"context"
	"log/slog"
	"time"

	"sqlident/cmd/identity"
)

// OpenDB opens the configured backend and validates connectivity.
// With AutoMigrate set it also applies pending schema migrations; otherwise
// the schema is expected to be provisioned by `sqlident migrate up`.
func OpenDB(ctx context.Context, cfg Config, log *slog.Logger) (*identity.DB, error) {
	db, err := identity.Open(ctx, cfg.IdentityOptions())
	if err != nil {
		return nil, err
	}
	log.Info("db.open", "backend", db.Backend(), "pool_size", cfg.PoolSize)

	if cfg.AutoMigrate {
		if err := identity.Migrate(ctx, db); err != nil {
			_ = db.Close()
			return nil, err
		}
		log.Info("db.migrated", "backend", db.Backend())
	}
	return db, nil
}

// PingDB checks that a connection can be acquired within timeout.
func PingDB(parent context.Context, db *identity.DB, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	return db.Ping(ctx)
}
