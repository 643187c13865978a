// Package chat ties the signed-in account to conversations and the
// windows that display them.
package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/chatterbox/internal/delivery"
	"github.com/matheus3301/chatterbox/internal/remote"
	"go.uber.org/zap"
)

// ErrSignedOut is returned by operations that need a signed-in account.
var ErrSignedOut = errors.New("not signed in")

// Service is the account-level entry point used by the control API and
// the view server.
type Service struct {
	client   *remote.Client
	auth     remote.Authenticator
	logger   *zap.Logger
	location *time.Location

	mu      sync.RWMutex
	profile *remote.Profile

	openMu sync.Mutex
	open   map[*delivery.Reconciler]struct{}
}

// NewService creates a service over a store client and authenticator.
// loc is used for date headers; nil means the local zone.
func NewService(client *remote.Client, auth remote.Authenticator, logger *zap.Logger, loc *time.Location) *Service {
	return &Service{
		client:   client,
		auth:     auth,
		logger:   logger.With(zap.String("component", "chat")),
		location: loc,
		open:     make(map[*delivery.Reconciler]struct{}),
	}
}

// Client returns the typed store client.
func (s *Service) Client() *remote.Client { return s.client }

// Restore resumes a stored session. It returns remote.ErrNoSession when
// there is none.
func (s *Service) Restore(ctx context.Context) (remote.Profile, error) {
	sess, err := s.auth.Session(ctx)
	if err != nil {
		return remote.Profile{}, err
	}
	return s.activate(ctx, sess.Identity)
}

// SignIn authenticates and loads the account's profile.
func (s *Service) SignIn(ctx context.Context, email, password string) (remote.Profile, error) {
	sess, err := s.auth.SignIn(ctx, email, password)
	if err != nil {
		return remote.Profile{}, err
	}
	return s.activate(ctx, sess.Identity)
}

// SignUp registers an account and signs it in.
func (s *Service) SignUp(ctx context.Context, email, password string) (remote.Profile, error) {
	sess, err := s.auth.SignUp(ctx, email, password)
	if err != nil {
		return remote.Profile{}, err
	}
	return s.activate(ctx, sess.Identity)
}

// SignOut ends the session.
func (s *Service) SignOut(ctx context.Context) error {
	s.mu.Lock()
	s.profile = nil
	s.mu.Unlock()
	return s.auth.SignOut(ctx)
}

// ResetPassword asks the backend to send a reset link.
func (s *Service) ResetPassword(ctx context.Context, email string) error {
	return s.auth.ResetPassword(ctx, email)
}

func (s *Service) activate(ctx context.Context, id remote.Identity) (remote.Profile, error) {
	p, err := EnsureProfile(ctx, s.client, id, s.logger)
	if err != nil {
		return remote.Profile{}, err
	}
	s.mu.Lock()
	s.profile = &p
	s.mu.Unlock()
	s.logger.Info("signed in", zap.String("user_id", p.ID), zap.String("username", p.Username))
	return p, nil
}

// Me returns the signed-in profile.
func (s *Service) Me() (remote.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.profile == nil {
		return remote.Profile{}, ErrSignedOut
	}
	return *s.profile, nil
}

// Conversations lists the account's conversations.
func (s *Service) Conversations(ctx context.Context) ([]Summary, error) {
	me, err := s.Me()
	if err != nil {
		return nil, err
	}
	return ListConversations(ctx, s.client, me.ID)
}

// Profiles lists everyone else.
func (s *Service) Profiles(ctx context.Context) ([]remote.Profile, error) {
	me, err := s.Me()
	if err != nil {
		return nil, err
	}
	return s.client.ListProfiles(ctx, me.ID)
}

// StartConversation opens a conversation with the profile matching ref,
// an id or a username.
func (s *Service) StartConversation(ctx context.Context, ref string) (remote.Conversation, error) {
	me, err := s.Me()
	if err != nil {
		return remote.Conversation{}, err
	}
	if names(me, ref) {
		return remote.Conversation{}, ErrSelfConversation
	}
	other, err := ResolveProfile(ctx, s.client, me.ID, ref)
	if err != nil {
		return remote.Conversation{}, err
	}
	return CreateConversation(ctx, s.client, me.ID, other.ID, time.Now())
}

// reconciler builds a reconciler for one of my conversations.
func (s *Service) reconciler(ctx context.Context, conversationID string, focus delivery.FocusSignal, opts ...delivery.Option) (*delivery.Reconciler, error) {
	me, err := s.Me()
	if err != nil {
		return nil, err
	}
	ok, err := s.client.IsParticipant(ctx, conversationID, me.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotParticipant
	}
	opts = append([]delivery.Option{delivery.WithLogger(s.logger)}, opts...)
	return delivery.New(s.client, focus, delivery.Config{
		ConversationID: conversationID,
		LocalUser:      me.ID,
		Profile:        &me,
		Location:       s.location,
	}, opts...), nil
}

type unfocused struct{}

func (unfocused) Focused() bool { return false }

// Thread loads a conversation once and returns its rendered rows. Like
// any client that materializes messages, it marks them received.
func (s *Service) Thread(ctx context.Context, conversationID string) ([]delivery.Row, error) {
	r, err := s.reconciler(ctx, conversationID, unfocused{})
	if err != nil {
		return nil, err
	}
	if err := r.Load(ctx); err != nil {
		return nil, fmt.Errorf("load thread: %w", err)
	}
	return r.Rows(), nil
}

// Watch passes the conversation's rows to fn after every change until ctx
// ends or fn fails. Like Thread it marks messages received only.
func (s *Service) Watch(ctx context.Context, conversationID string, fn func([]delivery.Row) error) error {
	r, err := s.reconciler(ctx, conversationID, unfocused{})
	if err != nil {
		return err
	}
	if err := r.Open(ctx); err != nil {
		return err
	}
	defer r.Close()
	defer s.track(r)()

	if err := fn(r.Rows()); err != nil {
		return err
	}
	for {
		select {
		case <-r.Changes():
			if err := fn(r.Rows()); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// track registers an open reconciler for Resync until the returned func
// is called.
func (s *Service) track(r *delivery.Reconciler) func() {
	s.openMu.Lock()
	s.open[r] = struct{}{}
	s.openMu.Unlock()
	return func() {
		s.openMu.Lock()
		delete(s.open, r)
		s.openMu.Unlock()
	}
}

// Resync refetches every open conversation. Changes committed while the
// feed was down never arrive as events, so this runs when it comes back.
// It returns how many conversations were reloaded.
func (s *Service) Resync(ctx context.Context) int {
	s.openMu.Lock()
	recs := make([]*delivery.Reconciler, 0, len(s.open))
	for r := range s.open {
		recs = append(recs, r)
	}
	s.openMu.Unlock()

	n := 0
	for _, r := range recs {
		if err := r.Load(ctx); err != nil {
			s.logger.Warn("resync failed", zap.String("conversation_id", r.ConversationID()), zap.Error(err))
			continue
		}
		n++
	}
	if len(recs) > 0 {
		s.logger.Info("resynced open conversations", zap.Int("count", n), zap.Int("open", len(recs)))
	}
	return n
}

// Send posts text to a conversation without a window.
func (s *Service) Send(ctx context.Context, conversationID, text string) (remote.Message, error) {
	r, err := s.reconciler(ctx, conversationID, unfocused{})
	if err != nil {
		return remote.Message{}, err
	}
	return r.SendMessage(ctx, text)
}

// NewWindow creates a window with the given initial focus.
func (s *Service) NewWindow(focused bool, notifier delivery.Notifier) *Window {
	return newWindow(s, focused, notifier)
}
