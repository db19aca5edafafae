package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Options selects and sizes the backend pool.
type Options struct {
	Backend         Backend
	DSN             string
	PoolSize        int
	ConnMaxLifetime time.Duration
	PingTimeout     time.Duration
}

// DB is an open pool for one backend plus the Store bound to it.
// The DB owns the pool; stores built from it must not outlive Close.
type DB struct {
	backend Backend
	sql     *sql.DB
	pg      *pgxpool.Pool
	store   Store
}

// Open builds the pool for opts.Backend, verifies connectivity and binds the
// matching Store implementation.
func Open(ctx context.Context, opts Options) (*DB, error) {
	if opts.PoolSize <= 0 {
		opts.PoolSize = 3
	}
	if opts.PingTimeout <= 0 {
		opts.PingTimeout = 3 * time.Second
	}

	var (
		d   *DB
		err error
	)
	switch opts.Backend {
	case BackendSQLite:
		d, err = openSQLite(opts)
	case BackendMySQL:
		d, err = openMySQL(opts)
	case BackendPostgres:
		d, err = openPostgres(ctx, opts)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedBackend, opts.Backend)
	}
	if err != nil {
		return nil, err
	}

	pctx, cancel := context.WithTimeout(ctx, opts.PingTimeout)
	defer cancel()
	if err := d.Ping(pctx); err != nil {
		_ = d.Close()
		return nil, err
	}
	return d, nil
}

func openSQLite(opts Options) (*DB, error) {
	dsn := SQLiteDSN(opts.DSN)
	if sqliteInMemory(dsn) {
		// Every connection to a private in-memory database sees its own copy.
		opts.PoolSize = 1
		opts.ConnMaxLifetime = 0
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("identity: open sqlite: %w", err)
	}
	sizeSQLPool(db, opts)
	return &DB{backend: BackendSQLite, sql: db, store: NewSQLiteStore(db)}, nil
}

func openMySQL(opts Options) (*DB, error) {
	cfg, err := MySQLConfig(opts.DSN)
	if err != nil {
		return nil, err
	}
	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("identity: mysql connector: %w", err)
	}
	db := sql.OpenDB(connector)
	sizeSQLPool(db, opts)
	return &DB{backend: BackendMySQL, sql: db, store: NewMySQLStore(db)}, nil
}

func openPostgres(ctx context.Context, opts Options) (*DB, error) {
	pcfg, err := pgxpool.ParseConfig(opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("identity: parse postgres dsn: %w", err)
	}
	pcfg.MaxConns = int32(opts.PoolSize)
	if opts.ConnMaxLifetime > 0 {
		pcfg.MaxConnLifetime = opts.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("identity: postgres pool: %w", err)
	}

	return &DB{
		backend: BackendPostgres,
		sql:     stdlib.OpenDBFromPool(pool),
		pg:      pool,
		store:   NewPostgresStore(pool),
	}, nil
}

func sqliteInMemory(dsn string) bool {
	if strings.Contains(dsn, "cache=shared") {
		return false
	}
	return strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
}

func sizeSQLPool(db *sql.DB, opts Options) {
	db.SetMaxOpenConns(opts.PoolSize)
	db.SetMaxIdleConns(opts.PoolSize)
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}
}

// Backend reports which dialect the pool speaks.
func (d *DB) Backend() Backend { return d.backend }

// Store returns the Store bound to this pool.
func (d *DB) Store() Store { return d.store }

// SQL returns a database/sql view of the pool. For PostgreSQL it borrows
// connections from the pgx pool; it exists for schema migrations.
func (d *DB) SQL() *sql.DB { return d.sql }

// Ping checks that a connection can be acquired.
func (d *DB) Ping(ctx context.Context) error {
	return d.store.Ping(ctx)
}

// Close releases the pool. It is safe to call more than once.
func (d *DB) Close() error {
	if d == nil {
		return nil
	}
	var errs []error
	if d.sql != nil {
		errs = append(errs, d.sql.Close())
	}
	if d.pg != nil {
		d.pg.Close()
	}
	return errors.Join(errs...)
}
