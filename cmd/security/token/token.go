package token

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
)

const (
	// RandomBytes is the number of random bytes behind every token.
	RandomBytes = 16

	// Length is the encoded token length in characters.
	Length = RandomBytes * 2
)

// Generator mints tokens from a random source.
// The zero value reads from crypto/rand.
type Generator struct {
	Source io.Reader
}

// NewGenerator returns a Generator reading from src (crypto/rand when nil).
func NewGenerator(src io.Reader) Generator {
	return Generator{Source: src}
}

// New returns a fresh 32-character hex token.
func (g Generator) New() (string, error) {
	src := g.Source
	if src == nil {
		src = rand.Reader
	}

	var b [RandomBytes]byte
	if _, err := io.ReadFull(src, b[:]); err != nil {
		return "", fmt.Errorf("%w: %v", ErrEntropy, err)
	}
	return hex.EncodeToString(b[:]), nil
}

// New mints a token from crypto/rand.
func New() (string, error) {
	return Generator{}.New()
}

// Plausible reports whether s has the shape of a minted token.
// It lets callers reject garbage without a database round trip.
func Plausible(s string) bool {
	if len(s) != Length {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		default:
			return false
		}
	}
	return true
}
