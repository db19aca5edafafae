package session

import (
	"context"
	"time"

	"sqlident/cmd/identity"
)

// Store is the slice of identity.Store the Service depends on.
// Every identity backend satisfies it.
type Store interface {
	Insert(ctx context.Context, in identity.NewIdentity) (int64, error)
	FindByToken(ctx context.Context, tok string) (identity.Identity, bool, error)
	Touch(ctx context.Context, tok, ip, userAgent string, modified time.Time) error
	Delete(ctx context.Context, tok string) error
	DeleteByID(ctx context.Context, id int64) error
	DeleteIfIdle(ctx context.Context, tok string, cutoff time.Time) error
	DeleteByUser(ctx context.Context, userID string) (int64, error)
	DeleteIdleBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Client is what the transport knows about the caller on this request.
type Client struct {
	IP        string
	UserAgent string
}
