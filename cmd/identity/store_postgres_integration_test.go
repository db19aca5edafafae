package identity

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"sqlident/cmd/identity/ids"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Integration tests are opt-in and require SQLIDENT_TEST_POSTGRES_DSN or
// SQLIDENT_TEST_MYSQL_DSN. In non-CI runs an unreachable server skips them to
// keep local runs fast.

func TestPostgresStore_Contract(t *testing.T) {
	t.Parallel()

	raw := integrationDSN(t, "SQLIDENT_TEST_POSTGRES_DSN")

	pool := mustOpenTestPool(t, raw)
	defer pool.Close()

	schema := mustCreateTestSchema(t, pool)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })

	db := mustOpenIntegrationDB(t, BackendPostgres, withSearchPath(raw, schema))

	if _, ok := db.Store().(*PostgresStore); !ok {
		t.Fatalf("expected *PostgresStore, got %T", db.Store())
	}
	runStoreContract(t, db.Store())
}

func TestPostgresStore_ModifiedColumnHasNoZone(t *testing.T) {
	t.Parallel()

	raw := integrationDSN(t, "SQLIDENT_TEST_POSTGRES_DSN")

	pool := mustOpenTestPool(t, raw)
	defer pool.Close()

	schema := mustCreateTestSchema(t, pool)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })

	db := mustOpenIntegrationDB(t, BackendPostgres, withSearchPath(raw, schema))

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	tok := mustToken(t)
	at := time.Date(2024, 7, 1, 23, 30, 0, 0, time.FixedZone("PDT", -7*3600))
	if _, err := db.Store().Insert(ctx, NewIdentity{Token: tok, UserID: "zone-user", Created: at}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	// The wall clock stored must be the UTC one, whatever the session zone.
	var wall string
	err := pool.QueryRow(ctx,
		`SELECT to_char(modified, 'YYYY-MM-DD HH24:MI:SS') FROM `+pgIdent(schema, "identities")+` WHERE token = $1`,
		tok,
	).Scan(&wall)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if wall != "2024-07-02 06:30:00" {
		t.Fatalf("expected UTC wall clock, got %q", wall)
	}
}

func TestMySQLStore_Contract(t *testing.T) {
	t.Parallel()

	raw := integrationDSN(t, "SQLIDENT_TEST_MYSQL_DSN")
	db := mustOpenIntegrationDB(t, BackendMySQL, raw)

	runStoreContract(t, db.Store())
}

// ---- helpers ----

func integrationDSN(t *testing.T, env string) string {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv(env))
	if raw == "" {
		t.Skipf("integration test skipped: %s is not set", env)
	}
	return raw
}

func mustOpenIntegrationDB(t *testing.T, backend Backend, dsn string) *DB {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	db, err := Open(ctx, Options{Backend: backend, DSN: dsn, PoolSize: 4, PingTimeout: 3 * time.Second})
	if err != nil {
		if shouldSkipIntegration(err) {
			t.Skipf("integration test skipped: %s unreachable: %v", backend, err)
		}
		t.Fatalf("open %s: %v", backend, err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := Migrate(ctx, db); err != nil {
		t.Fatalf("migrate %s: %v", backend, err)
	}
	return db
}

func mustOpenTestPool(t *testing.T, raw string) *pgxpool.Pool {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 12*time.Second)
	defer cancel()

	cfg, err := pgxpool.ParseConfig(raw)
	if err != nil {
		t.Fatalf("parse SQLIDENT_TEST_POSTGRES_DSN: %v", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}

	// Validate acquire quickly (fast fail).
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer pingCancel()

	c, err := pool.Acquire(pingCtx)
	if err != nil {
		pool.Close()
		if shouldSkipIntegration(err) {
			t.Skipf("integration test skipped: Postgres unreachable: %v", err)
		}
		t.Fatalf("acquire: %v", err)
	}
	c.Release()

	return pool
}

func mustCreateTestSchema(t *testing.T, pool *pgxpool.Pool) string {
	t.Helper()

	id, err := ids.NewULID(time.Now().UTC())
	if err != nil {
		t.Fatalf("ulid: %v", err)
	}
	schema := "sqlident_it_" + strings.ToLower(id)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := pool.Exec(ctx, `CREATE SCHEMA `+pgIdent(schema)); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	return schema
}

func mustDropSchema(t *testing.T, pool *pgxpool.Pool, schema string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, _ = pool.Exec(ctx, `DROP SCHEMA IF EXISTS `+pgIdent(schema)+` CASCADE`)
}

// withSearchPath pins every pooled connection to schema. pgx forwards unknown
// DSN parameters as runtime parameters.
func withSearchPath(dsn, schema string) string {
	if strings.Contains(dsn, "://") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		return dsn + sep + "search_path=" + schema
	}
	return dsn + " search_path=" + schema
}

func shouldSkipIntegration(err error) bool {
	if err == nil {
		return false
	}
	if os.Getenv("CI") != "" {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "context deadline exceeded") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "dial tcp") ||
		strings.Contains(msg, "no such host") {
		return true
	}
	return false
}

func pgIdent(parts ...string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection in dynamic DDL.
	return pgx.Identifier(parts).Sanitize()
}
