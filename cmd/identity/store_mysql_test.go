package identity

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/require"
)

var identityColumns = []string{"id", "token", "userid", "ip", "useragent", "created", "modified"}

func newMySQLMock(t *testing.T) (Store, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return NewMySQLStore(db), mock
}

func TestMySQLStore_Insert(t *testing.T) {
	t.Parallel()

	st, mock := newMySQLMock(t)
	tok := mustToken(t)

	mock.ExpectExec(`INSERT INTO identities`).
		WithArgs(tok, "alice", "1.2.3.4", nil, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(7, 1))

	id, err := st.Insert(context.Background(), NewIdentity{Token: tok, UserID: "alice", IP: "1.2.3.4"})
	require.NoError(t, err)
	require.EqualValues(t, 7, id)
}

func TestMySQLStore_Insert_DuplicateIsConflict(t *testing.T) {
	t.Parallel()

	st, mock := newMySQLMock(t)

	mock.ExpectExec(`INSERT INTO identities`).
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry for key 'token'"})

	_, err := st.Insert(context.Background(), NewIdentity{Token: mustToken(t), UserID: "alice"})
	require.True(t, IsConflict(err), "got %v", err)

	var me *mysql.MySQLError
	require.True(t, errors.As(err, &me), "driver cause must stay reachable")
}

func TestMySQLStore_Insert_OtherServerErrorIsConnection(t *testing.T) {
	t.Parallel()

	st, mock := newMySQLMock(t)

	mock.ExpectExec(`INSERT INTO identities`).
		WillReturnError(&mysql.MySQLError{Number: 1205, Message: "Lock wait timeout exceeded"})

	_, err := st.Insert(context.Background(), NewIdentity{Token: mustToken(t), UserID: "alice"})
	require.True(t, IsConnection(err), "got %v", err)
	require.False(t, IsConflict(err))
}

func TestMySQLStore_DataErrorsAreInvalidInput(t *testing.T) {
	t.Parallel()

	for _, number := range []uint16{1264, 1300, 1366, 1406} {
		st, mock := newMySQLMock(t)
		tok := mustToken(t)

		mock.ExpectExec(`UPDATE identities`).
			WillReturnError(&mysql.MySQLError{Number: number, Message: "Data too long for column 'useragent' at row 1"})

		err := st.Touch(context.Background(), tok, "", "curl/8", time.Now())
		require.True(t, IsInvalidInput(err), "error %d: got %v", number, err)
		require.False(t, IsConnection(err), "error %d must not read as an outage", number)
	}
}

func TestMySQLStore_Touch_ClampsUserAgent(t *testing.T) {
	t.Parallel()

	st, mock := newMySQLMock(t)
	tok := mustToken(t)
	longUA := strings.Repeat("a", 600)

	mock.ExpectExec(`UPDATE identities`).
		WithArgs(nil, longUA[:MaxUserAgentLength], sqlmock.AnyArg(), tok).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, st.Touch(context.Background(), tok, "", longUA, time.Now()))
}

func TestMySQLStore_DeleteIfIdle(t *testing.T) {
	t.Parallel()

	st, mock := newMySQLMock(t)
	tok := mustToken(t)
	cutoff := time.Date(2024, 3, 3, 10, 0, 0, 0, time.UTC)

	mock.ExpectExec(`DELETE FROM identities WHERE token = \? AND modified < \?`).
		WithArgs(tok, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := st.DeleteIfIdle(context.Background(), tok, cutoff)
	require.True(t, IsNotFound(err), "got %v", err)
}

func TestMySQLStore_Find(t *testing.T) {
	t.Parallel()

	st, mock := newMySQLMock(t)
	tok := mustToken(t)
	at := time.Date(2024, 3, 3, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT id, token, userid, ip, useragent, created, modified FROM identities`).
		WithArgs(tok).
		WillReturnRows(sqlmock.NewRows(identityColumns).AddRow(3, tok, "alice", nil, "curl/8", at, at))

	rec, ok, err := st.FindByToken(context.Background(), tok)
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 3, rec.ID)
	require.Equal(t, "alice", rec.UserID)
	require.Empty(t, rec.IP)
	require.Equal(t, "curl/8", rec.UserAgent)
	require.True(t, rec.Modified.Equal(at))
}

func TestMySQLStore_Find_Missing(t *testing.T) {
	t.Parallel()

	st, mock := newMySQLMock(t)
	tok := mustToken(t)

	mock.ExpectQuery(`SELECT .* FROM identities`).
		WithArgs(tok).
		WillReturnRows(sqlmock.NewRows(identityColumns))

	_, ok, err := st.FindByToken(context.Background(), tok)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMySQLStore_Find_ConnectionFailure(t *testing.T) {
	t.Parallel()

	st, mock := newMySQLMock(t)

	mock.ExpectQuery(`SELECT .* FROM identities`).WillReturnError(mysql.ErrInvalidConn)

	_, ok, err := st.FindByToken(context.Background(), mustToken(t))
	require.False(t, ok)
	require.True(t, IsConnection(err), "got %v", err)
	require.ErrorIs(t, err, mysql.ErrInvalidConn)

	var opErr OpError
	require.True(t, errors.As(err, &opErr))
	require.Equal(t, OpFindByToken, opErr.Op)
}

func TestMySQLStore_Touch(t *testing.T) {
	t.Parallel()

	st, mock := newMySQLMock(t)
	tok := mustToken(t)
	at := time.Date(2024, 3, 3, 10, 0, 0, 999, time.UTC)

	mock.ExpectExec(`UPDATE identities SET ip = \?, useragent = \?, modified = GREATEST\(modified, \?\)`).
		WithArgs("9.9.9.9", "ua", NormalizeTime(at), tok).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, st.Touch(context.Background(), tok, "9.9.9.9", "ua", at))
}

func TestMySQLStore_Touch_NoRowIsNotFound(t *testing.T) {
	t.Parallel()

	st, mock := newMySQLMock(t)

	mock.ExpectExec(`UPDATE identities`).WillReturnResult(sqlmock.NewResult(0, 0))

	err := st.Touch(context.Background(), mustToken(t), "", "", time.Now())
	require.True(t, IsNotFound(err), "got %v", err)
}

func TestMySQLStore_DeleteByUser_ReportsCount(t *testing.T) {
	t.Parallel()

	st, mock := newMySQLMock(t)

	mock.ExpectExec(`DELETE FROM identities WHERE userid = \?`).
		WithArgs("alice").
		WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := st.DeleteByUser(context.Background(), "alice")
	require.NoError(t, err)
	require.EqualValues(t, 4, n)
}

func TestMySQLStore_EmptyTokenSkipsDatabase(t *testing.T) {
	t.Parallel()

	st, _ := newMySQLMock(t)

	_, ok, err := st.FindByToken(context.Background(), "")
	require.NoError(t, err)
	require.False(t, ok)
	require.True(t, IsNotFound(st.Delete(context.Background(), "")))
	require.True(t, IsNotFound(st.DeleteByID(context.Background(), 0)))
}

func TestMySQLConfig_ForcesStoreSettings(t *testing.T) {
	t.Parallel()

	cfg, err := MySQLConfig("app:secret@tcp(db:3306)/sqlident?parseTime=false&loc=Local")
	require.NoError(t, err)
	require.True(t, cfg.ParseTime)
	require.Equal(t, time.UTC, cfg.Loc)
	require.True(t, cfg.ClientFoundRows)
	require.Equal(t, "sqlident", cfg.DBName)

	_, err = MySQLConfig("not a dsn")
	require.Error(t, err)
}
