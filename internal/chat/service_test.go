package chat

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/matheus3301/chatterbox/internal/bus"
	"github.com/matheus3301/chatterbox/internal/delivery"
	"github.com/matheus3301/chatterbox/internal/remote"
	"github.com/matheus3301/chatterbox/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type harness struct {
	db   *store.DB
	feed *store.JournalFeed
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "chat.db"), bus.New(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	_, err = db.Migrate()
	require.NoError(t, err)

	feed := store.NewJournalFeed(db)
	require.NoError(t, feed.Rewind(context.Background()))
	return &harness{db: db, feed: feed}
}

// account signs up a new user on its own service, as a separate client
// process would.
func (h *harness) account(t *testing.T, email string) *Service {
	t.Helper()
	svc := NewService(remote.NewClient(h.db), store.NewLocalAuth(h.db, nil), zap.NewNop(), time.UTC)
	_, err := svc.SignUp(context.Background(), email, "secret123")
	require.NoError(t, err)
	return svc
}

// pump publishes pending journal entries until stop reports true.
func (h *harness) pump(t *testing.T, stop func() bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		if _, err := h.feed.Poll(context.Background()); err != nil {
			return false
		}
		return stop()
	}, 5*time.Second, 20*time.Millisecond)
}

// lookup reads a stored message; errors yield the zero value so it can be
// polled from Eventually.
func (h *harness) lookup(id string) remote.Message {
	rows, err := h.db.Select(context.Background(), remote.Query{
		Table:   remote.TableMessages,
		Filters: []remote.Filter{remote.Eq("id", id)},
	})
	if err != nil {
		return remote.Message{}
	}
	m, _ := remote.DecodeOne[remote.Message](rows)
	return m
}

func (h *harness) message(t *testing.T, id string) remote.Message {
	t.Helper()
	rows, err := h.db.Select(context.Background(), remote.Query{
		Table:   remote.TableMessages,
		Filters: []remote.Filter{remote.Eq("id", id)},
	})
	require.NoError(t, err)
	m, err := remote.DecodeOne[remote.Message](rows)
	require.NoError(t, err)
	return m
}

func TestSignUpCreatesProfile(t *testing.T) {
	h := newHarness(t)
	svc := h.account(t, "Dana@Example.com")

	me, err := svc.Me()
	require.NoError(t, err)
	assert.Equal(t, "dana", me.Username)

	require.NoError(t, svc.SignOut(context.Background()))
	_, err = svc.Me()
	assert.ErrorIs(t, err, ErrSignedOut)

	me2, err := svc.SignIn(context.Background(), "dana@example.com", "secret123")
	require.NoError(t, err)
	assert.Equal(t, me.ID, me2.ID, "sign-in must reuse the existing profile")
}

func TestSignedOutOperationsFail(t *testing.T) {
	h := newHarness(t)
	svc := NewService(remote.NewClient(h.db), store.NewLocalAuth(h.db, nil), zap.NewNop(), time.UTC)

	_, err := svc.Conversations(context.Background())
	assert.ErrorIs(t, err, ErrSignedOut)
	_, err = svc.Send(context.Background(), "c1", "hi")
	assert.ErrorIs(t, err, ErrSignedOut)
	_, err = svc.Restore(context.Background())
	assert.ErrorIs(t, err, remote.ErrNoSession)
}

func TestConversationsListOtherParty(t *testing.T) {
	h := newHarness(t)
	ana := h.account(t, "ana@example.com")
	ben := h.account(t, "ben@example.com")
	ctx := context.Background()

	_, err := ana.StartConversation(ctx, "ana")
	assert.ErrorIs(t, err, ErrSelfConversation)
	_, err = ana.StartConversation(ctx, "nobody")
	assert.ErrorIs(t, err, ErrProfileNotFound)

	conv, err := ana.StartConversation(ctx, "BEN")
	require.NoError(t, err)

	for _, svc := range []*Service{ana, ben} {
		list, err := svc.Conversations(ctx)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, conv.ID, list[0].Conversation.ID)
		require.NotNil(t, list[0].Other)
	}
	list, _ := ana.Conversations(ctx)
	assert.Equal(t, "ben", list[0].Other.Username)

	profiles, err := ben.Profiles(ctx)
	require.NoError(t, err)
	require.Len(t, profiles, 1)
	assert.Equal(t, "ana", profiles[0].Username)
}

func TestCreateConversationRejectsSelf(t *testing.T) {
	h := newHarness(t)
	ana := h.account(t, "ana@example.com")
	me, _ := ana.Me()

	_, err := CreateConversation(context.Background(), ana.Client(), me.ID, me.ID, time.Now())
	assert.ErrorIs(t, err, ErrSelfConversation)

	for _, ref := range []string{me.ID, "ana", " ANA "} {
		_, err := ana.StartConversation(context.Background(), ref)
		assert.ErrorIs(t, err, ErrSelfConversation, ref)
	}
}

func TestSendUpdatesPreview(t *testing.T) {
	h := newHarness(t)
	ana := h.account(t, "ana@example.com")
	h.account(t, "ben@example.com")
	ctx := context.Background()
	conv, err := ana.StartConversation(ctx, "ben")
	require.NoError(t, err)

	_, err = ana.Send(ctx, conv.ID, "  ")
	assert.ErrorIs(t, err, delivery.ErrEmptyMessage)

	sent, err := ana.Send(ctx, conv.ID, "lunch?")
	require.NoError(t, err)
	assert.False(t, sent.IsPlaceholder())

	list, err := ana.Conversations(ctx)
	require.NoError(t, err)
	require.NotNil(t, list[0].Conversation.LastMessage)
	assert.Equal(t, "lunch?", *list[0].Conversation.LastMessage)
}

func TestWindowDrivesDeliveryToRead(t *testing.T) {
	h := newHarness(t)
	ana := h.account(t, "ana@example.com")
	ben := h.account(t, "ben@example.com")
	ctx := context.Background()
	conv, err := ana.StartConversation(ctx, "ben")
	require.NoError(t, err)

	win := ben.NewWindow(false, nil)
	defer win.Close()
	require.NoError(t, win.Open(ctx, conv.ID))
	assert.Equal(t, conv.ID, win.ConversationID())

	sent, err := ana.Send(ctx, conv.ID, "hi ben")
	require.NoError(t, err)

	// Unfocused: the insert event only marks it received.
	h.pump(t, func() bool { return h.lookup(sent.ID).IsReceived })
	assert.False(t, h.message(t, sent.ID).IsDelivered)

	win.SetFocused(ctx, true)
	h.pump(t, func() bool { return h.lookup(sent.ID).IsDelivered })
	assert.False(t, h.message(t, sent.ID).IsRead, "not seen yet")

	win.Rendered([]string{sent.ID})
	win.Intersect(ctx, sent.ID, 0.3)
	assert.False(t, h.message(t, sent.ID).IsRead, "below threshold")
	win.Intersect(ctx, sent.ID, 0.8)
	h.pump(t, func() bool { return h.lookup(sent.ID).IsRead })

	// The sender's view picks up the read state through its own window.
	anaWin := ana.NewWindow(true, nil)
	defer anaWin.Close()
	require.NoError(t, anaWin.Open(ctx, conv.ID))
	rows := anaWin.Rows()
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Own)
	assert.Equal(t, delivery.StatusRead, rows[0].Status)
}

func TestWindowSwitchReleasesPreviousConversation(t *testing.T) {
	h := newHarness(t)
	ana := h.account(t, "ana@example.com")
	ben := h.account(t, "ben@example.com")
	h.account(t, "cy@example.com")
	ctx := context.Background()
	first, err := ana.StartConversation(ctx, "ben")
	require.NoError(t, err)
	second, err := ana.StartConversation(ctx, "cy")
	require.NoError(t, err)

	win := ana.NewWindow(true, nil)
	defer win.Close()
	require.NoError(t, win.Open(ctx, first.ID))
	require.NoError(t, win.Open(ctx, second.ID))
	assert.Equal(t, second.ID, win.ConversationID())

	// A message in the first conversation must not be touched by the
	// window now showing the second.
	msg, err := ben.Send(ctx, first.ID, "still there?")
	require.NoError(t, err)
	_, err = h.feed.Poll(ctx)
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond)
	assert.False(t, h.message(t, msg.ID).IsReceived)
	assert.Empty(t, win.Rows())
}

func TestResyncReloadsOpenWindows(t *testing.T) {
	h := newHarness(t)
	ana := h.account(t, "ana@example.com")
	ben := h.account(t, "ben@example.com")
	ctx := context.Background()
	conv, err := ana.StartConversation(ctx, "ben")
	require.NoError(t, err)

	win := ben.NewWindow(false, nil)
	require.NoError(t, win.Open(ctx, conv.ID))

	// The feed is never polled, as if the message landed while it was down.
	sent, err := ana.Send(ctx, conv.ID, "missed this?")
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, win.Rows())

	assert.Equal(t, 1, ben.Resync(ctx))
	rows := win.Rows()
	require.Len(t, rows, 1)
	assert.Equal(t, sent.ID, rows[0].Message.ID)
	assert.Eventually(t, func() bool { return h.lookup(sent.ID).IsReceived }, 2*time.Second, 20*time.Millisecond)

	win.Close()
	assert.Equal(t, 0, ben.Resync(ctx))
}

func TestWindowSendWithoutConversation(t *testing.T) {
	h := newHarness(t)
	ana := h.account(t, "ana@example.com")
	win := ana.NewWindow(true, nil)
	_, err := win.Send(context.Background(), "hi")
	assert.ErrorIs(t, err, ErrNoConversation)
	win.Close()
}

func TestWatchStreamsNewMessages(t *testing.T) {
	h := newHarness(t)
	ana := h.account(t, "ana@example.com")
	ben := h.account(t, "ben@example.com")
	conv, err := ana.StartConversation(context.Background(), "ben")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	updates := make(chan []delivery.Row, 16)
	done := make(chan error, 1)
	go func() {
		done <- ben.Watch(ctx, conv.ID, func(rows []delivery.Row) error {
			updates <- rows
			return nil
		})
	}()

	first := <-updates
	assert.Empty(t, first)

	sent, err := ana.Send(context.Background(), conv.ID, "are you there")
	require.NoError(t, err)
	h.pump(t, func() bool {
		for {
			select {
			case rows := <-updates:
				if len(rows) == 1 && rows[0].Message.ID == sent.ID {
					return true
				}
			default:
				return false
			}
		}
	})
	h.pump(t, func() bool { return h.lookup(sent.ID).IsReceived })
	assert.False(t, h.lookup(sent.ID).IsDelivered, "watching is not a focused window")

	cancel()
	assert.NoError(t, <-done)
}

func TestOutsidersCannotReadOrWrite(t *testing.T) {
	h := newHarness(t)
	ana := h.account(t, "ana@example.com")
	h.account(t, "ben@example.com")
	cy := h.account(t, "cy@example.com")
	ctx := context.Background()
	conv, err := ana.StartConversation(ctx, "ben")
	require.NoError(t, err)

	_, err = cy.Send(ctx, conv.ID, "hello?")
	assert.ErrorIs(t, err, ErrNotParticipant)
	_, err = cy.Thread(ctx, conv.ID)
	assert.ErrorIs(t, err, ErrNotParticipant)
	win := cy.NewWindow(true, nil)
	assert.ErrorIs(t, win.Open(ctx, conv.ID), ErrNotParticipant)
	assert.Empty(t, win.ConversationID())
}
