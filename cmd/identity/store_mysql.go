package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
)

// MySQL server error numbers.
const (
	mysqlDuplicateEntry    = 1062 // ER_DUP_ENTRY
	mysqlOutOfRange        = 1264 // ER_WARN_DATA_OUT_OF_RANGE
	mysqlInvalidCharString = 1300 // ER_INVALID_CHARACTER_STRING
	mysqlTruncatedValue    = 1366 // ER_TRUNCATED_WRONG_VALUE_FOR_FIELD
	mysqlDataTooLong       = 1406 // ER_DATA_TOO_LONG
)

var mysqlStatements = sqlStatements{
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
		SET ip = ?, useragent = ?, modified = GREATEST(modified, ?)
		WHERE token = ?`,
	deleteByToken:    `DELETE FROM identities WHERE token = ?`,
	deleteByID:       `DELETE FROM identities WHERE id = ?`,
	deleteByUser:     `DELETE FROM identities WHERE userid = ?`,
	deleteIfIdle:     `DELETE FROM identities WHERE token = ? AND modified < ?`,
	deleteIdleBefore: `DELETE FROM identities WHERE modified < ?`,
}

// NewMySQLStore returns a Store speaking MySQL on db.
//
// The connection must use clientFoundRows (see MySQLConfig); otherwise a touch
// that changes nothing reports zero affected rows and reads as ErrNotFound.
func NewMySQLStore(db DBTX) Store {
	return &sqlStore{
		db:       db,
		backend:  BackendMySQL,
		stmts:    mysqlStatements,
		isUnique: mysqlIsUniqueViolation,
	}
}

func mysqlIsUniqueViolation(err error) bool {
	var me *mysql.MySQLError
	if !errors.As(err, &me) {
		return false
	}
	return me.Number == mysqlDuplicateEntry
}

func mysqlIsDataError(err error) bool {
	var me *mysql.MySQLError
	if !errors.As(err, &me) {
		return false
	}
	switch me.Number {
	case mysqlOutOfRange, mysqlTruncatedValue, mysqlDataTooLong, mysqlInvalidCharString:
		return true
	}
	return false
}

// MySQLConfig parses dsn and forces the settings the store relies on:
// DATETIME scanned into time.Time in UTC, and matched-rows semantics for
// UPDATE so Touch can tell "unchanged" from "absent".
func MySQLConfig(dsn string) (*mysql.Config, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("identity: parse mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	cfg.ClientFoundRows = true
	return cfg, nil
}
