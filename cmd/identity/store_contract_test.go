package identity

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"sqlident/cmd/security/token"

	"github.com/stretchr/testify/require"
)

// runStoreContract exercises the behaviour every backend must share.
// Each subtest uses its own user id so integration databases can be shared.
func runStoreContract(t *testing.T, st Store) {
	t.Helper()

	t.Run("insert then find round-trips every column", func(t *testing.T) {
		ctx := context.Background()
		user := uniqueUser(t)
		tok := mustToken(t)
		created := time.Date(2024, 1, 2, 3, 4, 5, 123456789, time.FixedZone("CET", 3600))

		id, err := st.Insert(ctx, NewIdentity{
			Token:     tok,
			UserID:    user,
			IP:        "1.2.3.4",
			UserAgent: "curl/8",
			Created:   created,
			Modified:  created,
		})
		require.NoError(t, err)
		require.Positive(t, id)

		rec, ok, err := st.FindByToken(ctx, tok)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, id, rec.ID)
		require.Equal(t, tok, rec.Token)
		require.Equal(t, user, rec.UserID)
		require.Equal(t, "1.2.3.4", rec.IP)
		require.Equal(t, "curl/8", rec.UserAgent)
		require.True(t, rec.Created.Equal(NormalizeTime(created)), "created=%v", rec.Created)
		require.True(t, rec.Modified.Equal(NormalizeTime(created)), "modified=%v", rec.Modified)
		require.Equal(t, time.UTC, rec.Created.Location())
	})

	t.Run("empty ip and useragent are stored as null", func(t *testing.T) {
		ctx := context.Background()
		tok := mustToken(t)

		_, err := st.Insert(ctx, NewIdentity{Token: tok, UserID: uniqueUser(t)})
		require.NoError(t, err)

		rec, ok, err := st.FindByToken(ctx, tok)
		require.NoError(t, err)
		require.True(t, ok)
		require.Empty(t, rec.IP)
		require.Empty(t, rec.UserAgent)
		require.False(t, rec.Created.IsZero())
	})

	t.Run("duplicate token is a conflict", func(t *testing.T) {
		ctx := context.Background()
		tok := mustToken(t)

		_, err := st.Insert(ctx, NewIdentity{Token: tok, UserID: uniqueUser(t)})
		require.NoError(t, err)

		_, err = st.Insert(ctx, NewIdentity{Token: tok, UserID: uniqueUser(t)})
		require.Error(t, err)
		require.True(t, IsConflict(err), "got %v", err)

		var opErr OpError
		require.True(t, errors.As(err, &opErr))
		require.Equal(t, OpInsert, opErr.Op)
	})

	t.Run("invalid input is rejected before the database", func(t *testing.T) {
		ctx := context.Background()

		_, err := st.Insert(ctx, NewIdentity{Token: "short", UserID: "u"})
		require.True(t, IsInvalidInput(err), "got %v", err)

		_, err = st.Insert(ctx, NewIdentity{Token: mustToken(t), UserID: "   "})
		require.True(t, IsInvalidInput(err), "got %v", err)
	})

	t.Run("unknown token is absent, not an error", func(t *testing.T) {
		ctx := context.Background()

		_, ok, err := st.FindByToken(ctx, mustToken(t))
		require.NoError(t, err)
		require.False(t, ok)

		_, ok, err = st.FindByToken(ctx, "")
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("touch refreshes bookkeeping and never rewinds modified", func(t *testing.T) {
		ctx := context.Background()
		tok := mustToken(t)
		t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

		_, err := st.Insert(ctx, NewIdentity{Token: tok, UserID: uniqueUser(t), IP: "10.0.0.1", UserAgent: "a", Created: t0})
		require.NoError(t, err)

		t1 := t0.Add(90 * time.Second)
		require.NoError(t, st.Touch(ctx, tok, "10.0.0.2", "b", t1))

		rec, ok, err := st.FindByToken(ctx, tok)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, "10.0.0.2", rec.IP)
		require.Equal(t, "b", rec.UserAgent)
		require.True(t, rec.Modified.Equal(t1), "modified=%v want %v", rec.Modified, t1)
		require.True(t, rec.Created.Equal(t0), "created must not change")

		// A skewed clock must not move modified backwards.
		require.NoError(t, st.Touch(ctx, tok, "10.0.0.3", "c", t0))
		rec, _, err = st.FindByToken(ctx, tok)
		require.NoError(t, err)
		require.Equal(t, "10.0.0.3", rec.IP)
		require.True(t, rec.Modified.Equal(t1), "modified=%v want %v", rec.Modified, t1)

		// Identical values still count as a match.
		require.NoError(t, st.Touch(ctx, tok, "10.0.0.3", "c", t1))
	})

	t.Run("touch on a missing token is not found", func(t *testing.T) {
		err := st.Touch(context.Background(), mustToken(t), "1.1.1.1", "x", time.Now())
		require.True(t, IsNotFound(err), "got %v", err)

		var opErr OpError
		require.True(t, errors.As(err, &opErr))
		require.Equal(t, OpTouch, opErr.Op)
	})

	t.Run("delete removes the row and reports absence afterwards", func(t *testing.T) {
		ctx := context.Background()
		tok := mustToken(t)

		_, err := st.Insert(ctx, NewIdentity{Token: tok, UserID: uniqueUser(t)})
		require.NoError(t, err)

		require.NoError(t, st.Delete(ctx, tok))

		_, ok, err := st.FindByToken(ctx, tok)
		require.NoError(t, err)
		require.False(t, ok)

		err = st.Delete(ctx, tok)
		require.True(t, IsNotFound(err), "got %v", err)
	})

	t.Run("delete by id revokes without the token", func(t *testing.T) {
		ctx := context.Background()
		tok := mustToken(t)

		id, err := st.Insert(ctx, NewIdentity{Token: tok, UserID: uniqueUser(t)})
		require.NoError(t, err)

		require.NoError(t, st.DeleteByID(ctx, id))

		_, ok, err := st.FindByToken(ctx, tok)
		require.NoError(t, err)
		require.False(t, ok)

		require.True(t, IsNotFound(st.DeleteByID(ctx, id)))
	})

	t.Run("delete by user removes every session of that user only", func(t *testing.T) {
		ctx := context.Background()
		user := uniqueUser(t)
		other := uniqueUser(t)

		for i := 0; i < 3; i++ {
			_, err := st.Insert(ctx, NewIdentity{Token: mustToken(t), UserID: user})
			require.NoError(t, err)
		}
		keep := mustToken(t)
		_, err := st.Insert(ctx, NewIdentity{Token: keep, UserID: other})
		require.NoError(t, err)

		n, err := st.DeleteByUser(ctx, user)
		require.NoError(t, err)
		require.EqualValues(t, 3, n)

		_, ok, err := st.FindByToken(ctx, keep)
		require.NoError(t, err)
		require.True(t, ok)
	})

	t.Run("delete idle before prunes only stale rows", func(t *testing.T) {
		ctx := context.Background()
		stale := mustToken(t)
		fresh := mustToken(t)
		long := time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)

		_, err := st.Insert(ctx, NewIdentity{Token: stale, UserID: uniqueUser(t), Created: long})
		require.NoError(t, err)
		_, err = st.Insert(ctx, NewIdentity{Token: fresh, UserID: uniqueUser(t)})
		require.NoError(t, err)

		n, err := st.DeleteIdleBefore(ctx, long.Add(24*time.Hour))
		require.NoError(t, err)
		require.GreaterOrEqual(t, n, int64(1))

		_, ok, err := st.FindByToken(ctx, stale)
		require.NoError(t, err)
		require.False(t, ok)

		_, ok, err = st.FindByToken(ctx, fresh)
		require.NoError(t, err)
		require.True(t, ok)
	})

	t.Run("oversized client bookkeeping is clamped to the column widths", func(t *testing.T) {
		ctx := context.Background()
		tok := mustToken(t)
		longUA := strings.Repeat("Mozilla/5.0 ", 50) // 600 characters
		longIP := strings.Repeat("f", 60)

		_, err := st.Insert(ctx, NewIdentity{Token: tok, UserID: uniqueUser(t), IP: longIP, UserAgent: longUA})
		require.NoError(t, err)

		rec, ok, err := st.FindByToken(ctx, tok)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, longUA[:MaxUserAgentLength], rec.UserAgent)
		require.Equal(t, longIP[:MaxIPLength], rec.IP)

		require.NoError(t, st.Touch(ctx, tok, longIP, "é"+longUA, time.Now()))
		rec, _, err = st.FindByToken(ctx, tok)
		require.NoError(t, err)
		require.Equal(t, MaxUserAgentLength, utf8.RuneCountInString(rec.UserAgent))
		require.True(t, utf8.ValidString(rec.UserAgent))
	})

	t.Run("oversized user id is invalid input", func(t *testing.T) {
		_, err := st.Insert(context.Background(), NewIdentity{
			Token:  mustToken(t),
			UserID: strings.Repeat("u", MaxUserIDLength+1),
		})
		require.True(t, IsInvalidInput(err), "got %v", err)
	})

	t.Run("delete if idle spares a row refreshed after the cutoff", func(t *testing.T) {
		ctx := context.Background()
		tok := mustToken(t)
		long := time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)
		cutoff := long.Add(time.Hour)

		_, err := st.Insert(ctx, NewIdentity{Token: tok, UserID: uniqueUser(t), Created: long})
		require.NoError(t, err)

		require.NoError(t, st.Touch(ctx, tok, "", "", cutoff.Add(time.Minute)))
		err = st.DeleteIfIdle(ctx, tok, cutoff)
		require.True(t, IsNotFound(err), "got %v", err)

		var opErr OpError
		require.True(t, errors.As(err, &opErr))
		require.Equal(t, OpDeleteIfIdle, opErr.Op)

		_, ok, err := st.FindByToken(ctx, tok)
		require.NoError(t, err)
		require.True(t, ok)

		require.NoError(t, st.DeleteIfIdle(ctx, tok, cutoff.Add(time.Hour)))
		_, ok, err = st.FindByToken(ctx, tok)
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("cancelled context surfaces as connection failure", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := st.Insert(ctx, NewIdentity{Token: mustToken(t), UserID: uniqueUser(t)})
		require.Error(t, err)
		require.True(t, IsConnection(err), "got %v", err)
		require.ErrorIs(t, err, context.Canceled)
	})
}

func mustToken(t *testing.T) string {
	t.Helper()
	tok, err := token.New()
	require.NoError(t, err)
	return tok
}

func uniqueUser(t *testing.T) string {
	t.Helper()
	return "user-" + mustToken(t)[:12]
}
