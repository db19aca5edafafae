package identity

import (
	"errors"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// SQLite keeps timestamps as text in the driver's "sqlite" time format, which
// sorts lexicographically in UTC; MAX() therefore keeps modified monotonic.
var sqliteStatements = sqlStatements{
	insert: `
		INSERT INTO identities (token, userid, ip, useragent, created, modified)
		VALUES (?, ?, ?, ?, ?, ?)`,
	findByToken: `
		SELECT id, token, userid, ip, useragent, created, modified
		FROM identities
		WHERE token = ?
		LIMIT 1`,
	touch: `
		UPDATE identities
		SET ip = ?, useragent = ?, modified = MAX(modified, ?)
		WHERE token = ?`,
	deleteByToken:    `DELETE FROM identities WHERE token = ?`,
	deleteByID:       `DELETE FROM identities WHERE id = ?`,
	deleteByUser:     `DELETE FROM identities WHERE userid = ?`,
	deleteIfIdle:     `DELETE FROM identities WHERE token = ? AND modified < ?`,
	deleteIdleBefore: `DELETE FROM identities WHERE modified < ?`,
}

// NewSQLiteStore returns a Store speaking SQLite on db.
// The handle should come from a DSN passed through SQLiteDSN.
func NewSQLiteStore(db DBTX) Store {
	return &sqlStore{
		db:       db,
		backend:  BackendSQLite,
		stmts:    sqliteStatements,
		isUnique: sqliteIsUniqueViolation,
	}
}

func sqliteIsUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	}
	// Without extended result codes only the primary code is set.
	return se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(se.Error(), "UNIQUE")
}

func sqliteIsDataError(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() & 0xff {
	case sqlite3.SQLITE_TOOBIG, sqlite3.SQLITE_MISMATCH, sqlite3.SQLITE_RANGE:
		return true
	}
	return false
}

// SQLiteDSN adds the connection parameters the store depends on unless the
// caller already set them: a busy timeout so concurrent writers wait instead
// of failing, and the sortable "sqlite" time format.
func SQLiteDSN(dsn string) string {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		dsn = "file::memory:"
	}

	var params []string
	if !strings.Contains(dsn, "busy_timeout") {
		params = append(params, "_pragma=busy_timeout(5000)")
	}
	if !strings.Contains(dsn, "foreign_keys") {
		params = append(params, "_pragma=foreign_keys(1)")
	}
	if !strings.Contains(dsn, "_time_format") {
		params = append(params, "_time_format=sqlite")
	}
	if len(params) == 0 {
		return dsn
	}

	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(params, "&")
}
