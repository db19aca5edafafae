// Package session is the identity policy: it turns "who is this?",
// "remember this user" and "forget this session" into token store calls.
//
// Tokens are opaque random identifiers (see cmd/security/token), not signed
// claims. The store's unique index is the only guard against duplicates, so
// Remember retries on a collision instead of locking.
//
// The Service keeps no per-request state. Transport (HTTP) integration lives
// in cmd/internal/auth/api.
package session
