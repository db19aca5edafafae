package identity

import (
	"context"
	"embed"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
)

//go:embed migrations
var migrations embed.FS

// MigrationsFS returns the embedded migration scripts for backend.
func MigrationsFS(backend Backend) (fs.FS, error) {
	switch backend {
	case BackendSQLite, BackendMySQL, BackendPostgres:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedBackend, backend)
	}
	return fs.Sub(migrations, "migrations/"+string(backend))
}

func gooseDialect(backend Backend) (goose.Dialect, error) {
	switch backend {
	case BackendSQLite:
		return goose.DialectSQLite3, nil
	case BackendMySQL:
		return goose.DialectMySQL, nil
	case BackendPostgres:
		return goose.DialectPostgres, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedBackend, backend)
	}
}

// NewMigrator returns a goose provider for the identities schema of d's backend.
// Schema provisioning is a setup step; the Store never creates tables itself.
func NewMigrator(d *DB) (*goose.Provider, error) {
	dialect, err := gooseDialect(d.Backend())
	if err != nil {
		return nil, err
	}
	fsys, err := MigrationsFS(d.Backend())
	if err != nil {
		return nil, err
	}
	return goose.NewProvider(dialect, d.SQL(), fsys)
}

// Migrate applies every pending migration.
func Migrate(ctx context.Context, d *DB) error {
	p, err := NewMigrator(d)
	if err != nil {
		return err
	}
	if _, err := p.Up(ctx); err != nil {
		return fmt.Errorf("identity: migrate %s: %w", d.Backend(), err)
	}
	return nil
}
