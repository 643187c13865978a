package remote

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrNoSession is returned when no signed-in session exists.
	ErrNoSession = errors.New("no active session")
	// ErrConfirmationPending is returned by SignUp when the backend wants
	// the email address confirmed before the first sign-in.
	ErrConfirmationPending = errors.New("check your email to confirm the account, then sign in")
)

// Identity is the signed-in account.
type Identity struct {
	UserID string `json:"id"`
	Email  string `json:"email"`
}

// Session is a signed-in identity plus the tokens a hosted backend needs.
type Session struct {
	Identity     Identity  `json:"user"`
	AccessToken  string    `json:"access_token,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Expired reports whether the access token needs refreshing.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt.Add(-30*time.Second))
}

// Authenticator is the identity half of a backend.
type Authenticator interface {
	SignIn(ctx context.Context, email, password string) (Session, error)
	SignUp(ctx context.Context, email, password string) (Session, error)
	SignOut(ctx context.Context) error
	ResetPassword(ctx context.Context, email string) error
	// Session returns the current session, refreshing it when needed, or
	// ErrNoSession.
	Session(ctx context.Context) (Session, error)
}

// TokenStore persists the signed-in session between daemon restarts.
type TokenStore interface {
	Load() (Session, error)
	Save(Session) error
	Clear() error
}

// MemoryTokens is a TokenStore that keeps the session in memory.
type MemoryTokens struct {
	mu      sync.Mutex
	session *Session
}

// Load returns the stored session or ErrNoSession.
func (m *MemoryTokens) Load() (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return Session{}, ErrNoSession
	}
	return *m.session, nil
}

// Save stores s.
func (m *MemoryTokens) Save(s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = &s
	return nil
}

// Clear forgets the session.
func (m *MemoryTokens) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = nil
	return nil
}
