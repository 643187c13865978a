package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/chatterbox/internal/remote"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var _ remote.Authenticator = (*LocalAuth)(nil)

// LocalAuth authenticates accounts against the users table of a local
// backend. Sessions carry no tokens and never expire.
type LocalAuth struct {
	db     *DB
	tokens remote.TokenStore

	mu      sync.Mutex
	current *remote.Session
}

// NewLocalAuth creates an authenticator persisting sessions in tokens.
func NewLocalAuth(db *DB, tokens remote.TokenStore) *LocalAuth {
	if tokens == nil {
		tokens = &remote.MemoryTokens{}
	}
	return &LocalAuth{db: db, tokens: tokens}
}

var errBadCredentials = &remote.Error{Code: remote.CodeUnauthorized, Message: "invalid login credentials", Status: 400}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// SignUp registers a new account and signs it in.
func (a *LocalAuth) SignUp(ctx context.Context, email, password string) (remote.Session, error) {
	email = normalizeEmail(email)
	if email == "" || len(password) < 6 {
		return remote.Session{}, &remote.Error{Code: remote.CodeUnauthorized, Message: "email and a password of at least 6 characters are required", Status: 422}
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return remote.Session{}, fmt.Errorf("hash password: %w", err)
	}
	id := uuid.NewString()
	_, err = a.db.ExecContext(ctx, a.db.Rebind("INSERT INTO users (id, email, password_hash, created_at) VALUES (?, ?, ?, ?)"),
		id, email, string(hash), time.Now().UTC())
	if err != nil {
		return remote.Session{}, classify("insert user", err)
	}
	a.db.logger.Info("account registered", zap.String("user_id", id))
	return a.establish(remote.Identity{UserID: id, Email: email})
}

// SignIn verifies credentials and stores the session.
func (a *LocalAuth) SignIn(ctx context.Context, email, password string) (remote.Session, error) {
	email = normalizeEmail(email)
	var user struct {
		ID   string `db:"id"`
		Hash string `db:"password_hash"`
	}
	err := a.db.GetContext(ctx, &user, a.db.Rebind("SELECT id, password_hash FROM users WHERE email = ?"), email)
	if err != nil {
		if remote.IsNotFound(classify("select user", err)) {
			return remote.Session{}, errBadCredentials
		}
		return remote.Session{}, classify("select user", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(user.Hash), []byte(password)) != nil {
		return remote.Session{}, errBadCredentials
	}
	return a.establish(remote.Identity{UserID: user.ID, Email: email})
}

func (a *LocalAuth) establish(id remote.Identity) (remote.Session, error) {
	s := remote.Session{Identity: id}
	if err := a.tokens.Save(s); err != nil {
		return remote.Session{}, fmt.Errorf("save session: %w", err)
	}
	a.mu.Lock()
	a.current = &s
	a.mu.Unlock()
	return s, nil
}

// SignOut forgets the stored session.
func (a *LocalAuth) SignOut(_ context.Context) error {
	a.mu.Lock()
	a.current = nil
	a.mu.Unlock()
	return a.tokens.Clear()
}

// ResetPassword is not available without a mail transport.
func (a *LocalAuth) ResetPassword(_ context.Context, _ string) error {
	return fmt.Errorf("local backend: %w", errors.ErrUnsupported)
}

// Session returns the signed-in session, restoring it from the token
// store when the account still exists.
func (a *LocalAuth) Session(ctx context.Context) (remote.Session, error) {
	a.mu.Lock()
	if a.current != nil {
		s := *a.current
		a.mu.Unlock()
		return s, nil
	}
	a.mu.Unlock()

	s, err := a.tokens.Load()
	if err != nil {
		return remote.Session{}, remote.ErrNoSession
	}
	var n int
	if err := a.db.GetContext(ctx, &n, a.db.Rebind("SELECT COUNT(*) FROM users WHERE id = ?"), s.Identity.UserID); err != nil {
		return remote.Session{}, classify("select user", err)
	}
	if n == 0 {
		_ = a.tokens.Clear()
		return remote.Session{}, remote.ErrNoSession
	}
	a.mu.Lock()
	a.current = &s
	a.mu.Unlock()
	return s, nil
}
