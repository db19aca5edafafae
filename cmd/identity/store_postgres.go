package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	// pgUniqueViolation is SQLSTATE unique_violation.
	pgUniqueViolation = "23505"
	// pgDataExceptionClass prefixes every SQLSTATE in class 22 (data exception).
	pgDataExceptionClass = "22"
)

// PgxDB is the subset of pgx the PostgreSQL store runs on.
// *pgxpool.Pool, *pgxpool.Conn and pgx.Tx all satisfy it.
type PgxDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store over PostgreSQL.
//
// The id column is a BIGSERIAL; the sequence is read back with RETURNING so
// callers never see the difference from AUTO_INCREMENT backends.
type PostgresStore struct {
	db PgxDB
}

// NewPostgresStore creates a Postgres-backed token store. The handle is owned by the caller.
func NewPostgresStore(db PgxDB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Backend() Backend { return BackendPostgres }

func (s *PostgresStore) Ping(ctx context.Context) error {
	p, ok := s.db.(interface{ Ping(context.Context) error })
	if !ok {
		return nil
	}
	if err := p.Ping(ctx); err != nil {
		return OpError{Op: "identity.Ping", Kind: ErrConnection, Err: err}
	}
	return nil
}

// Insert creates a row and returns the sequence-assigned id.
func (s *PostgresStore) Insert(ctx context.Context, in NewIdentity) (int64, error) {
	in, err := validateNew(OpInsert, in)
	if err != nil {
		return 0, err
	}

	var id int64
	err = s.db.QueryRow(ctx, `
		INSERT INTO identities (token, userid, ip, useragent, created, modified)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, in.Token, in.UserID, nullIfEmpty(in.IP), nullIfEmpty(in.UserAgent), in.Created, in.Modified).Scan(&id)
	if err != nil {
		return 0, classify(OpInsert, err, pgIsUniqueViolation)
	}
	return id, nil
}

// FindByToken loads the row holding tok.
func (s *PostgresStore) FindByToken(ctx context.Context, tok string) (Identity, bool, error) {
	if tok == "" {
		return Identity{}, false, nil
	}

	var (
		rec Identity
		ip  *string
		ua  *string
	)
	err := s.db.QueryRow(ctx, `
		SELECT id, token, userid, ip, useragent, created, modified
		FROM identities
		WHERE token = $1
	`, tok).Scan(
		&rec.ID,
		&rec.Token,
		&rec.UserID,
		&ip,
		&ua,
		&rec.Created,
		&rec.Modified,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Identity{}, false, nil
	}
	if err != nil {
		return Identity{}, false, classify(OpFindByToken, err, nil)
	}

	if ip != nil {
		rec.IP = *ip
	}
	if ua != nil {
		rec.UserAgent = *ua
	}
	rec.Created = rec.Created.UTC()
	rec.Modified = rec.Modified.UTC()
	return rec, true, nil
}

// Touch refreshes bookkeeping for tok; modified never moves backwards.
func (s *PostgresStore) Touch(ctx context.Context, tok, ip, userAgent string, modified time.Time) error {
	if tok == "" {
		return notFound(OpTouch)
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE identities
		SET ip = $2,
		    useragent = $3,
		    modified = GREATEST(modified, $4)
		WHERE token = $1
	`, tok, nullIfEmpty(clampText(ip, MaxIPLength)), nullIfEmpty(clampText(userAgent, MaxUserAgentLength)), NormalizeTime(modified))
	return expectPgRow(OpTouch, tag, err)
}

// Delete removes the row holding tok.
func (s *PostgresStore) Delete(ctx context.Context, tok string) error {
	if tok == "" {
		return notFound(OpDelete)
	}
	tag, err := s.db.Exec(ctx, `DELETE FROM identities WHERE token = $1`, tok)
	return expectPgRow(OpDelete, tag, err)
}

// DeleteByID removes a row by surrogate id.
func (s *PostgresStore) DeleteByID(ctx context.Context, id int64) error {
	if id <= 0 {
		return notFound(OpDeleteByID)
	}
	tag, err := s.db.Exec(ctx, `DELETE FROM identities WHERE id = $1`, id)
	return expectPgRow(OpDeleteByID, tag, err)
}

// DeleteIfIdle removes the row holding tok only while it is still idle.
func (s *PostgresStore) DeleteIfIdle(ctx context.Context, tok string, cutoff time.Time) error {
	if tok == "" {
		return notFound(OpDeleteIfIdle)
	}
	tag, err := s.db.Exec(ctx, `DELETE FROM identities WHERE token = $1 AND modified < $2`, tok, NormalizeTime(cutoff))
	return expectPgRow(OpDeleteIfIdle, tag, err)
}

// DeleteByUser removes all rows for userID.
func (s *PostgresStore) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM identities WHERE userid = $1`, userID)
	if err != nil {
		return 0, classify(OpDeleteByUser, err, nil)
	}
	return tag.RowsAffected(), nil
}

// DeleteIdleBefore removes rows not touched since cutoff.
func (s *PostgresStore) DeleteIdleBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM identities WHERE modified < $1`, NormalizeTime(cutoff))
	if err != nil {
		return 0, classify(OpDeleteIdleBefore, err, nil)
	}
	return tag.RowsAffected(), nil
}

func expectPgRow(op string, tag pgconn.CommandTag, err error) error {
	if err != nil {
		return classify(op, err, nil)
	}
	if tag.RowsAffected() == 0 {
		return notFound(op)
	}
	return nil
}

func pgIsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgUniqueViolation
}

func pgIsDataError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return strings.HasPrefix(pgErr.Code, pgDataExceptionClass)
}
