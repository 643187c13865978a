package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/matheus3301/chatterbox/internal/remote"
)

var (
	_ remote.Authenticator = (*Auth)(nil)
	_ TokenSource          = (*Auth)(nil)
)

// Auth signs accounts in against GoTrue and keeps the session fresh.
type Auth struct {
	baseURL    string
	apiKey     string
	tokens     remote.TokenStore
	httpClient *http.Client
	now        func() time.Time

	mu      sync.Mutex
	current *remote.Session
}

// NewAuth creates a GoTrue client persisting sessions in tokens.
func NewAuth(baseURL, apiKey string, tokens remote.TokenStore, httpClient *http.Client) *Auth {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if tokens == nil {
		tokens = &remote.MemoryTokens{}
	}
	return &Auth{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		tokens:     tokens,
		httpClient: httpClient,
		now:        time.Now,
	}
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password,omitempty"`
}

type tokenResponse struct {
	AccessToken  string          `json:"access_token"`
	RefreshToken string          `json:"refresh_token"`
	ExpiresIn    int64           `json:"expires_in"`
	ExpiresAt    int64           `json:"expires_at"`
	User         remote.Identity `json:"user"`
}

func (t tokenResponse) session(now time.Time) remote.Session {
	s := remote.Session{
		Identity:     t.User,
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
	}
	switch {
	case t.ExpiresAt > 0:
		s.ExpiresAt = time.Unix(t.ExpiresAt, 0).UTC()
	case t.ExpiresIn > 0:
		s.ExpiresAt = now.Add(time.Duration(t.ExpiresIn) * time.Second).UTC()
	}
	return s
}

// SignIn exchanges email and password for a session.
func (a *Auth) SignIn(ctx context.Context, email, password string) (remote.Session, error) {
	var resp tokenResponse
	if err := a.post(ctx, "/auth/v1/token?grant_type=password", "", credentials{Email: email, Password: password}, &resp); err != nil {
		return remote.Session{}, err
	}
	return a.establish(resp.session(a.now()))
}

// SignUp registers an account. Projects that require email confirmation
// return no session, which is reported as remote.ErrConfirmationPending.
func (a *Auth) SignUp(ctx context.Context, email, password string) (remote.Session, error) {
	var resp tokenResponse
	if err := a.post(ctx, "/auth/v1/signup", "", credentials{Email: email, Password: password}, &resp); err != nil {
		return remote.Session{}, err
	}
	if resp.AccessToken == "" {
		return remote.Session{}, remote.ErrConfirmationPending
	}
	return a.establish(resp.session(a.now()))
}

// SignOut revokes the session server-side and forgets it locally. A token
// the server already rejects counts as signed out.
func (a *Auth) SignOut(ctx context.Context) error {
	a.mu.Lock()
	cur := a.current
	a.current = nil
	a.mu.Unlock()
	if err := a.tokens.Clear(); err != nil {
		return fmt.Errorf("clear tokens: %w", err)
	}
	if cur == nil || cur.AccessToken == "" {
		return nil
	}
	err := a.post(ctx, "/auth/v1/logout", cur.AccessToken, nil, nil)
	if remote.Code(err) == remote.CodeUnauthorized {
		return nil
	}
	return err
}

// ResetPassword asks GoTrue to email a reset link.
func (a *Auth) ResetPassword(ctx context.Context, email string) error {
	return a.post(ctx, "/auth/v1/recover", "", credentials{Email: email}, nil)
}

// Session returns the current session, restoring it from the token store
// and refreshing an expired access token.
func (a *Auth) Session(ctx context.Context) (remote.Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.current == nil {
		s, err := a.tokens.Load()
		if err != nil {
			return remote.Session{}, err
		}
		a.current = &s
	}
	if !a.current.Expired(a.now()) {
		return *a.current, nil
	}

	var resp tokenResponse
	err := a.post(ctx, "/auth/v1/token?grant_type=refresh_token", "",
		map[string]string{"refresh_token": a.current.RefreshToken}, &resp)
	if err != nil {
		if remote.Code(err) == remote.CodeUnauthorized {
			a.current = nil
			_ = a.tokens.Clear()
			return remote.Session{}, remote.ErrNoSession
		}
		return remote.Session{}, fmt.Errorf("refresh session: %w", err)
	}
	s := resp.session(a.now())
	if err := a.tokens.Save(s); err != nil {
		return remote.Session{}, fmt.Errorf("save tokens: %w", err)
	}
	a.current = &s
	return s, nil
}

// AccessToken returns the signed-in user's token, or the anon key when
// nobody is signed in.
func (a *Auth) AccessToken(ctx context.Context) (string, error) {
	s, err := a.Session(ctx)
	if errors.Is(err, remote.ErrNoSession) {
		return a.apiKey, nil
	}
	if err != nil {
		return "", err
	}
	return s.AccessToken, nil
}

func (a *Auth) establish(s remote.Session) (remote.Session, error) {
	if err := a.tokens.Save(s); err != nil {
		return remote.Session{}, fmt.Errorf("save tokens: %w", err)
	}
	a.mu.Lock()
	a.current = &s
	a.mu.Unlock()
	return s, nil
}

func (a *Auth) post(ctx context.Context, path, bearer string, body, out any) error {
	var reqBody io.Reader = http.NoBody
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if bearer == "" {
		bearer = a.apiKey
	}
	req.Header.Set("apikey", a.apiKey)
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return &remote.Error{Code: remote.CodeNetwork, Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &remote.Error{Code: remote.CodeNetwork, Message: err.Error()}
	}
	if resp.StatusCode >= 400 {
		return decodeError(resp.StatusCode, raw)
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &remote.Error{Code: remote.CodeShape, Message: fmt.Sprintf("parse auth response: %v", err)}
	}
	return nil
}
