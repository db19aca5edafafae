package identity

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// DBTX is the subset of database/sql the SQLite and MySQL stores run on.
// *sql.DB, *sql.Conn and *sql.Tx all satisfy it.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type pinger interface {
	PingContext(ctx context.Context) error
}

// sqlStatements is the dialect-owned statement text for database/sql stores.
type sqlStatements struct {
	insert           string
	findByToken      string
	touch            string
	deleteByToken    string
	deleteByID       string
	deleteByUser     string
	deleteIfIdle     string
	deleteIdleBefore string
}

// sqlStore implements Store over database/sql for dialects whose driver
// reports LastInsertId. Each dialect supplies its statements and its
// duplicate-key detector.
type sqlStore struct {
	db       DBTX
	backend  Backend
	stmts    sqlStatements
	isUnique func(error) bool
}

func (s *sqlStore) Backend() Backend { return s.backend }

func (s *sqlStore) Ping(ctx context.Context) error {
	if p, ok := s.db.(pinger); ok {
		if err := p.PingContext(ctx); err != nil {
			return OpError{Op: "identity.Ping", Kind: ErrConnection, Err: err}
		}
	}
	return nil
}

func (s *sqlStore) Insert(ctx context.Context, in NewIdentity) (int64, error) {
	in, err := validateNew(OpInsert, in)
	if err != nil {
		return 0, err
	}

	res, err := s.db.ExecContext(ctx, s.stmts.insert,
		in.Token, in.UserID, nullIfEmpty(in.IP), nullIfEmpty(in.UserAgent), in.Created, in.Modified)
	if err != nil {
		return 0, classify(OpInsert, err, s.isUnique)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, classify(OpInsert, err, nil)
	}
	return id, nil
}

func (s *sqlStore) FindByToken(ctx context.Context, tok string) (Identity, bool, error) {
	if tok == "" {
		return Identity{}, false, nil
	}

	var (
		rec Identity
		ip  sql.NullString
		ua  sql.NullString
	)
	err := s.db.QueryRowContext(ctx, s.stmts.findByToken, tok).Scan(
		&rec.ID,
		&rec.Token,
		&rec.UserID,
		&ip,
		&ua,
		&rec.Created,
		&rec.Modified,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Identity{}, false, nil
	}
	if err != nil {
		return Identity{}, false, classify(OpFindByToken, err, nil)
	}

	rec.IP = ip.String
	rec.UserAgent = ua.String
	rec.Created = rec.Created.UTC()
	rec.Modified = rec.Modified.UTC()
	return rec, true, nil
}

func (s *sqlStore) Touch(ctx context.Context, tok, ip, userAgent string, modified time.Time) error {
	if tok == "" {
		return notFound(OpTouch)
	}
	res, err := s.db.ExecContext(ctx, s.stmts.touch,
		nullIfEmpty(clampText(ip, MaxIPLength)), nullIfEmpty(clampText(userAgent, MaxUserAgentLength)),
		NormalizeTime(modified), tok)
	return s.expectRow(OpTouch, res, err)
}

func (s *sqlStore) Delete(ctx context.Context, tok string) error {
	if tok == "" {
		return notFound(OpDelete)
	}
	res, err := s.db.ExecContext(ctx, s.stmts.deleteByToken, tok)
	return s.expectRow(OpDelete, res, err)
}

func (s *sqlStore) DeleteByID(ctx context.Context, id int64) error {
	if id <= 0 {
		return notFound(OpDeleteByID)
	}
	res, err := s.db.ExecContext(ctx, s.stmts.deleteByID, id)
	return s.expectRow(OpDeleteByID, res, err)
}

func (s *sqlStore) DeleteIfIdle(ctx context.Context, tok string, cutoff time.Time) error {
	if tok == "" {
		return notFound(OpDeleteIfIdle)
	}
	res, err := s.db.ExecContext(ctx, s.stmts.deleteIfIdle, tok, NormalizeTime(cutoff))
	return s.expectRow(OpDeleteIfIdle, res, err)
}

func (s *sqlStore) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.stmts.deleteByUser, userID)
	return s.count(OpDeleteByUser, res, err)
}

func (s *sqlStore) DeleteIdleBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.stmts.deleteIdleBefore, NormalizeTime(cutoff))
	return s.count(OpDeleteIdleBefore, res, err)
}

func (s *sqlStore) expectRow(op string, res sql.Result, err error) error {
	n, err := s.count(op, res, err)
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound(op)
	}
	return nil
}

func (s *sqlStore) count(op string, res sql.Result, err error) (int64, error) {
	if err != nil {
		return 0, classify(op, err, nil)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, classify(op, err, nil)
	}
	return n, nil
}
