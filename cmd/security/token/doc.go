// Package token mints and shape-checks session tokens.
//
// A token is 16 bytes from a cryptographic random source rendered as
// lowercase hex, so it is always exactly 32 characters and carries 128 bits
// of entropy. Tokens are capabilities: they encode nothing about the user and
// are stored verbatim as the lookup key of an identity record.
//
// The random source is injectable so that tests can force collisions.
package token
