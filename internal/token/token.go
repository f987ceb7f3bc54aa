// Package token implements the capability tokens placed on documents.
// A token is the only credential a client needs to view or act on a
// document, so it is generated from a cryptographically strong source
// and is never derived from the document id.
package token

import (
	"crypto/rand"
	"fmt"
)

// Token is distinct from string so capability tokens cannot be mixed
// up with internal ids in signatures.
type Token string

// Alphabet excludes visually confusable characters (0/O, 1/I/l).
const Alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz23456789"

const Length = 24

// New returns a fresh capability token.
func New() (Token, error) {
	buf := make([]byte, Length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	for i, b := range buf {
		buf[i] = Alphabet[int(b)%len(Alphabet)]
	}
	return Token(buf), nil
}

// Suffix returns a short random string from the same alphabet, used as
// the disambiguator appended to generated document numbers.
func Suffix(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	for i, b := range buf {
		buf[i] = Alphabet[int(b)%len(Alphabet)]
	}
	return string(buf), nil
}

func (t Token) String() string { return string(t) }

// Valid reports whether a candidate string has the shape of a token.
// It is a cheap pre-filter, not an authenticity check.
func Valid(s string) bool {
	if len(s) != Length {
		return false
	}
	for _, r := range s {
		ok := (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') || (r >= '2' && r <= '9')
		if !ok {
			return false
		}
		switch r {
		case 'O', 'I', 'l':
			return false
		}
	}
	return true
}
