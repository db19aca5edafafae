package authapi

import "context"

type ctxKey int

const identityKey ctxKey = iota

type resolved struct {
	userID string
	token  string
}

// UserID returns the user the request's bearer token resolved to.
func UserID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(identityKey).(resolved)
	if !ok || id.userID == "" {
		return "", false
	}
	return id.userID, true
}

func withIdentity(ctx context.Context, userID, token string) context.Context {
	return context.WithValue(ctx, identityKey, resolved{userID: userID, token: token})
}

func identityFrom(ctx context.Context) (resolved, bool) {
	id, ok := ctx.Value(identityKey).(resolved)
	return id, ok
}
