package identity

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"sqlident/cmd/security/token"
)

// Backend names one of the supported SQL dialects.
type Backend string

const (
	// BackendSQLite is modernc.org/sqlite (pure Go, no cgo).
	BackendSQLite Backend = "sqlite"
	// BackendMySQL is MySQL/MariaDB through go-sql-driver/mysql.
	BackendMySQL Backend = "mysql"
	// BackendPostgres is PostgreSQL through pgx.
	BackendPostgres Backend = "postgres"
)

// ParseBackend accepts the canonical names plus common aliases.
func ParseBackend(s string) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sqlite", "sqlite3":
		return BackendSQLite, nil
	case "mysql", "mariadb":
		return BackendMySQL, nil
	case "postgres", "postgresql", "pg", "pgx":
		return BackendPostgres, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedBackend, s)
	}
}

// Identity mirrors one row of the identities table.
// IP and UserAgent are empty when the column is NULL.
type Identity struct {
	ID        int64
	Token     string
	UserID    string
	IP        string
	UserAgent string
	Created   time.Time
	Modified  time.Time
}

// NewIdentity is the input to Store.Insert.
type NewIdentity struct {
	Token     string
	UserID    string
	IP        string
	UserAgent string
	Created   time.Time
	Modified  time.Time
}

// Store is the token persistence boundary.
//
// Every method is a single statement, so an abandoned context never leaves a
// partial row behind. Implementations must not close the handle they run on.
type Store interface {
	// Backend reports the dialect this store speaks.
	Backend() Backend

	// Ping checks that the underlying handle can reach the database.
	Ping(ctx context.Context) error

	// Insert creates an active row and returns its surrogate id.
	// A duplicate token fails with ErrConflict.
	Insert(ctx context.Context, in NewIdentity) (int64, error)

	// FindByToken is an exact-match lookup in one round trip.
	// A missing token returns ok=false and a nil error.
	FindByToken(ctx context.Context, tok string) (rec Identity, ok bool, err error)

	// Touch refreshes ip, useragent and modified for the row holding tok.
	// modified never moves backwards. No matching row fails with ErrNotFound.
	Touch(ctx context.Context, tok, ip, userAgent string, modified time.Time) error

	// Delete removes the row holding tok, or fails with ErrNotFound.
	Delete(ctx context.Context, tok string) error

	// DeleteByID removes a row by surrogate id, or fails with ErrNotFound.
	DeleteByID(ctx context.Context, id int64) error

	// DeleteByUser removes every row for userID and returns how many went.
	DeleteByUser(ctx context.Context, userID string) (int64, error)

	// DeleteIfIdle removes the row holding tok only while its modified is
	// still strictly before cutoff. A row refreshed in the meantime, or one
	// already gone, fails with ErrNotFound.
	DeleteIfIdle(ctx context.Context, tok string, cutoff time.Time) error

	// DeleteIdleBefore removes rows whose modified is strictly before cutoff.
	DeleteIdleBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Column widths every backend honours (the narrowest schema is MySQL's).
// Lengths count characters, not bytes.
const (
	MaxUserIDLength    = 255
	MaxIPLength        = 45
	MaxUserAgentLength = 512
)

// NormalizeTime puts t in the single reference zone every backend stores:
// UTC, microsecond precision (the finest MySQL and PostgreSQL keep).
func NormalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

func validateNew(op string, in NewIdentity) (NewIdentity, error) {
	if len(in.Token) != token.Length {
		return NewIdentity{}, invalid(op, fmt.Sprintf("token must be %d characters", token.Length))
	}
	in.UserID = strings.TrimSpace(in.UserID)
	if in.UserID == "" {
		return NewIdentity{}, invalid(op, "userid is required")
	}
	if utf8.RuneCountInString(in.UserID) > MaxUserIDLength {
		return NewIdentity{}, invalid(op, fmt.Sprintf("userid longer than %d characters", MaxUserIDLength))
	}
	in.IP = clampText(in.IP, MaxIPLength)
	in.UserAgent = clampText(in.UserAgent, MaxUserAgentLength)
	now := time.Now()
	if in.Created.IsZero() {
		in.Created = now
	}
	if in.Modified.IsZero() {
		in.Modified = in.Created
	}
	in.Created = NormalizeTime(in.Created)
	in.Modified = NormalizeTime(in.Modified)
	if in.Modified.Before(in.Created) {
		in.Modified = in.Created
	}
	return in, nil
}

// clampText cuts s to at most limit characters. Client-supplied bookkeeping
// is truncated, never rejected.
func clampText(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i]
		}
		n++
	}
	return s
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
