package core

import (
	"context"
	"errors"
	"time"
)

// Session represents one authenticated participant's live context.
type Session struct {
	Username  string    `json:"username"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

var (
	ErrBadCredentials  = errors.New("invalid credentials")
	ErrUnauthenticated = errors.New("unauthenticated")
)

type AuthStore interface {
	// NewSession verifies the credentials and issues a new session token.
	NewSession(ctx context.Context, username, password string) (*Session, error)

	// DestroySession invalidates the session token.
	DestroySession(ctx context.Context, session Session) error

	// Session verifies a token and resolves it into a session.
	// It returns ErrUnauthenticated if the token is invalid, expired,
	// or has been destroyed.
	Session(ctx context.Context, token string) (*Session, error)
}
