// Package auth provides the handshake credential for the live-events server.
//
// The server authenticates the WebSocket upgrade with an opaque bearer
// token. Obtaining and storing that token is outside this package; it only
// reads it from config or from a file kept fresh by another process.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
)

// ErrEmptyToken is returned when a token source yields no token.
var ErrEmptyToken = errors.New("empty token")

// TokenSource yields the current bearer token.
type TokenSource interface {
	Token() (string, error)
}

// StaticToken is a fixed token.
type StaticToken string

// Token returns the token.
func (s StaticToken) Token() (string, error) {
	tok := strings.TrimSpace(string(s))
	if tok == "" {
		return "", ErrEmptyToken
	}
	return tok, nil
}

// FileToken reads the token from a file on every call, so a rotated token is
// picked up on the next reconnect.
type FileToken struct {
	Path string
}

// Token reads and trims the file contents.
func (f FileToken) Token() (string, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}
	tok := strings.TrimSpace(string(data))
	if tok == "" {
		return "", fmt.Errorf("token file %s: %w", f.Path, ErrEmptyToken)
	}
	return tok, nil
}

// Credentials builds handshake headers from a token source.
type Credentials struct {
	Source    TokenSource // Nil sends no Authorization header
	UserAgent string
}

// LoadCredentials picks a token source from config values. tokenFile wins
// over token when both are set. Both empty means an anonymous connection.
func LoadCredentials(token, tokenFile, userAgent string) (*Credentials, error) {
	creds := &Credentials{UserAgent: userAgent}

	switch {
	case tokenFile != "":
		src := FileToken{Path: tokenFile}
		if _, err := src.Token(); err != nil {
			return nil, err
		}
		creds.Source = src
	case token != "":
		creds.Source = StaticToken(token)
	}

	return creds, nil
}

// Header returns the headers for one WebSocket handshake. Its signature
// matches connection.HeaderFunc.
func (c *Credentials) Header() (http.Header, error) {
	h := http.Header{}
	if c.UserAgent != "" {
		h.Set("User-Agent", c.UserAgent)
	}
	if c.Source == nil {
		return h, nil
	}

	tok, err := c.Source.Token()
	if err != nil {
		return nil, fmt.Errorf("auth token: %w", err)
	}
	h.Set("Authorization", "Bearer "+tok)
	return h, nil
}
