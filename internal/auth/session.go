package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dukerupert/famcal/internal/model"
	"github.com/golang-jwt/jwt/v5"
)

// TokenSession decides whether remote writes may be attempted, based on the
// bearer token the remote store will receive.
type TokenSession struct {
	mu     sync.RWMutex
	token  string
	secret []byte
	now    func() time.Time
}

// NewTokenSession creates a session for token. When secret is empty the
// token signature is not checked, only its expiry.
func NewTokenSession(token string, secret []byte) *TokenSession {
	return &TokenSession{token: token, secret: secret, now: time.Now}
}

func (s *TokenSession) SetToken(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

func (s *TokenSession) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// EnsureWriteSession returns an error wrapping model.ErrSessionNotReady when
// there is no usable token.
func (s *TokenSession) EnsureWriteSession(ctx context.Context) error {
	s.mu.RLock()
	token, secret, now := s.token, s.secret, s.now
	s.mu.RUnlock()

	if token == "" {
		return fmt.Errorf("%w: no token", model.ErrSessionNotReady)
	}

	if len(secret) > 0 {
		_, err := jwt.Parse(token, func(*jwt.Token) (any, error) {
			return secret, nil
		}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}), jwt.WithTimeFunc(now))
		if err != nil {
			return fmt.Errorf("%w: %v", model.ErrSessionNotReady, err)
		}
		return nil
	}

	tok, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrSessionNotReady, err)
	}
	exp, err := tok.Claims.GetExpirationTime()
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrSessionNotReady, err)
	}
	if exp != nil && !now().Before(exp.Time) {
		return fmt.Errorf("%w: token expired", model.ErrSessionNotReady)
	}
	return nil
}

// SessionFunc adapts a function to the write-session check.
type SessionFunc func(ctx context.Context) error

func (f SessionFunc) EnsureWriteSession(ctx context.Context) error { return f(ctx) }

// AlwaysReady is a session check that never blocks writes.
var AlwaysReady = SessionFunc(func(context.Context) error { return nil })
