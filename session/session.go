// Package session keeps track of who is logged in.
//
// A session is an opaque random token mapped to a record id. Tokens live in
// a Store (in memory or redis) and reach the server as a cookie or as a
// bearer token.
package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"time"
)

type (
	Store interface {
		// Establish creates a new session for recordID and returns its token.
		Establish(ctx context.Context, recordID string) (string, error)
		// Lookup returns the record id bound to token. Unknown and expired
		// tokens return found == false and no error.
		Lookup(ctx context.Context, token string) (recordID string, found bool, err error)
		// Clear removes token, clearing an unknown token is not an error.
		Clear(ctx context.Context, token string) error
	}
)

const (
	DefaultTTL = 24 * time.Hour
	tokenLen   = 32
)

func newToken(random io.Reader) (string, error) {
	var buf [tokenLen]byte
	if _, err := io.ReadFull(random, buf[:]); err != nil {
		return "", fmt.Errorf("unable to generate session token, cause %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf[:]), nil
}

func defaultRandom(r io.Reader) io.Reader {
	if r == nil {
		return rand.Reader
	}
	return r
}
