// Package delivery keeps one open conversation's messages reconciled with
// the store and advances their received, delivered and read states.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/chatterbox/internal/metrics"
	"github.com/matheus3301/chatterbox/internal/remote"
	"go.uber.org/zap"
)

// ErrEmptyMessage rejects blank sends before any network call.
var ErrEmptyMessage = errors.New("message text is empty")

// Store is what the reconciler needs from the remote store client.
type Store interface {
	FetchMessages(ctx context.Context, conversationID string) ([]remote.Message, error)
	InsertMessage(ctx context.Context, m remote.Message) (remote.Message, error)
	SetFlagIfUnset(ctx context.Context, ids []string, stage remote.Stage, at time.Time) ([]string, error)
	TouchConversation(ctx context.Context, conversationID, text string, at time.Time) error
	SubscribeMessages(ctx context.Context, conversationID string, fn func(remote.Change)) (remote.Handle, error)
}

// FocusSignal reports whether the window has input focus.
type FocusSignal interface {
	Focused() bool
}

// Notifier announces a message from the other party.
type Notifier interface {
	Notify(ctx context.Context, m remote.Message) error
}

// Config identifies the conversation and the local user.
type Config struct {
	ConversationID string
	LocalUser      string
	// Profile is attached to optimistic sends so they render with a sender.
	Profile  *remote.Profile
	Location *time.Location
}

// Option customizes a Reconciler.
type Option func(*Reconciler)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Reconciler) { r.logger = l }
}

// WithNotifier sets the inbound message notifier.
func WithNotifier(n Notifier) Option {
	return func(r *Reconciler) { r.notifier = n }
}

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// Reconciler owns the local message sequence of one open conversation.
// Store IO never runs under mu; convergence relies on compare-and-set
// writes and full refetches after every change notification.
type Reconciler struct {
	cfg      Config
	store    Store
	focus    FocusSignal
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time

	mu         sync.Mutex
	thread     Thread
	fetchGen   uint64
	appliedGen uint64
	handle     remote.Handle
	cancel     context.CancelFunc
	closed     bool

	changes chan struct{}
}

// New creates a reconciler. Call Open to subscribe and load.
func New(store Store, focus FocusSignal, cfg Config, opts ...Option) *Reconciler {
	r := &Reconciler{
		cfg:     cfg,
		store:   store,
		focus:   focus,
		logger:  zap.NewNop(),
		now:     time.Now,
		changes: make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(r)
	}
	r.logger = r.logger.With(zap.String("conversation", cfg.ConversationID))
	return r
}

// ConversationID returns the conversation this reconciler serves.
func (r *Reconciler) ConversationID() string { return r.cfg.ConversationID }

// Open subscribes to the conversation's message changes and performs the
// first load. The subscription is released by Close; a failed load still
// leaves it open, since the next change triggers a refetch.
func (r *Reconciler) Open(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	h, err := r.store.SubscribeMessages(ctx, r.cfg.ConversationID, func(c remote.Change) {
		r.handleChange(ctx, c)
	})
	if err != nil {
		cancel()
		return fmt.Errorf("subscribe: %w", err)
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		cancel()
		_ = h.Close()
		return errors.New("reconciler closed")
	}
	r.handle, r.cancel = h, cancel
	r.mu.Unlock()

	_ = r.Load(ctx)
	return nil
}

// Close releases the subscription. It is safe to call more than once.
func (r *Reconciler) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	h, cancel := r.handle, r.cancel
	r.handle, r.cancel = nil, nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if h != nil {
		return h.Close()
	}
	return nil
}

// Changes fires after every change to the local sequence. Signals
// coalesce, so readers should re-read the full state.
func (r *Reconciler) Changes() <-chan struct{} { return r.changes }

func (r *Reconciler) changed() {
	select {
	case r.changes <- struct{}{}:
	default:
	}
}

// Messages returns the current sequence in display order.
func (r *Reconciler) Messages() []remote.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.thread.Messages()
}

// Rows returns the current sequence prepared for display.
func (r *Reconciler) Rows() []Row {
	return Render(r.Messages(), r.cfg.LocalUser, r.cfg.Location)
}

func (r *Reconciler) handleChange(ctx context.Context, c remote.Change) {
	metrics.ChangeEvent(c.Table, string(c.Type))
	switch c.Type {
	case remote.EventInsert:
		msgs, err := remote.Decode[remote.Message]([]remote.Row{c.Record})
		if err != nil {
			r.logger.Warn("undecodable insert event, refetching", zap.Error(err))
			_ = r.Load(ctx)
			return
		}
		r.ApplyInboundInsert(ctx, msgs[0])
	case remote.EventUpdate:
		r.ApplyInboundUpdate(ctx)
	}
}

// Load fetches the whole conversation and replaces the local sequence.
// Messages from the other party that are not yet received get marked
// received, and with focus every undelivered one gets marked delivered.
// A fetch error is logged and leaves the current view in place.
func (r *Reconciler) Load(ctx context.Context) error {
	r.mu.Lock()
	r.fetchGen++
	gen := r.fetchGen
	r.mu.Unlock()

	start := time.Now()
	msgs, err := r.store.FetchMessages(ctx, r.cfg.ConversationID)
	if err != nil {
		metrics.Fetch(start, false, err)
		r.logger.Error("failed to fetch messages", zap.Error(err))
		return err
	}

	r.mu.Lock()
	if gen <= r.appliedGen {
		r.mu.Unlock()
		metrics.Fetch(start, true, nil)
		r.logger.Debug("discarding stale fetch", zap.Uint64("generation", gen))
		return nil
	}
	r.appliedGen = gen
	r.thread.Replace(msgs)
	snapshot := r.thread.Messages()
	r.mu.Unlock()
	metrics.Fetch(start, false, nil)
	r.changed()

	if r.focus.Focused() {
		r.advance(ctx, r.pendingFrom(snapshot, remote.Delivered), remote.Delivered)
	} else {
		r.advance(ctx, r.pendingFrom(snapshot, remote.Received), remote.Received)
	}
	return nil
}

// pendingFrom returns the messages from the other party lacking stage.
func (r *Reconciler) pendingFrom(msgs []remote.Message, stage remote.Stage) []remote.Message {
	var out []remote.Message
	for _, m := range msgs {
		if r.eligible(m) && !m.Has(stage) {
			out = append(out, m)
		}
	}
	return out
}

// ApplyInboundInsert handles a new row in this conversation. For messages
// from the other party it notifies, marks the message received (and
// delivered with focus), then refetches.
func (r *Reconciler) ApplyInboundInsert(ctx context.Context, m remote.Message) {
	if m.ConversationID != r.cfg.ConversationID {
		return
	}
	if m.ProfileID != r.cfg.LocalUser {
		if r.notifier != nil {
			if err := r.notifier.Notify(ctx, m); err != nil {
				r.logger.Debug("notification failed", zap.Error(err))
			}
		}
		target := remote.Received
		if r.focus.Focused() {
			target = remote.Delivered
		}
		r.advance(ctx, []remote.Message{m}, target)
	}
	_ = r.Load(ctx)
}

// ApplyInboundUpdate refetches the conversation.
func (r *Reconciler) ApplyInboundUpdate(ctx context.Context) {
	_ = r.Load(ctx)
}

// SendMessage shows text immediately under a placeholder id, stores it,
// and on success refreshes the conversation preview. On failure the
// placeholder is removed and the error returned.
func (r *Reconciler) SendMessage(ctx context.Context, text string) (remote.Message, error) {
	placeholder, err := r.Place(text)
	if err != nil {
		return remote.Message{}, err
	}
	return r.Commit(ctx, placeholder)
}

// Place adds text to the thread under a placeholder id and returns the
// placeholder. Nothing is written to the store until Commit.
func (r *Reconciler) Place(text string) (remote.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return remote.Message{}, ErrEmptyMessage
	}
	placeholder := remote.Message{
		ID:             remote.PlaceholderPrefix + uuid.NewString(),
		ConversationID: r.cfg.ConversationID,
		ProfileID:      r.cfg.LocalUser,
		Content:        text,
		CreatedAt:      r.now().UTC().Truncate(time.Microsecond),
		Profile:        r.cfg.Profile,
	}
	r.mu.Lock()
	r.thread.Upsert(placeholder)
	r.mu.Unlock()
	r.changed()
	return placeholder, nil
}

// Commit stores a placeholder returned by Place and swaps in the stored
// row. On failure the placeholder is removed.
func (r *Reconciler) Commit(ctx context.Context, placeholder remote.Message) (remote.Message, error) {
	stored, err := r.store.InsertMessage(ctx, placeholder)
	metrics.Send(err)
	if err != nil {
		r.mu.Lock()
		r.thread.Remove(placeholder.ID)
		r.mu.Unlock()
		r.changed()
		r.logger.Error("failed to send message", zap.Error(err), zap.String("placeholder", placeholder.ID))
		return remote.Message{}, fmt.Errorf("send message: %w", err)
	}
	if stored.Profile == nil {
		stored.Profile = r.cfg.Profile
	}
	r.mu.Lock()
	r.thread.Confirm(placeholder.ID, stored)
	r.mu.Unlock()
	r.changed()
	r.logger.Info("message sent", zap.String("message_id", stored.ID))

	if err := r.store.TouchConversation(ctx, r.cfg.ConversationID, placeholder.Content, placeholder.CreatedAt); err != nil {
		r.logger.Warn("failed to update conversation preview", zap.Error(err))
	}
	return stored, nil
}

// AdvanceToReceived marks a known message from the other party received.
func (r *Reconciler) AdvanceToReceived(ctx context.Context, id string) {
	r.advance(ctx, r.known([]string{id}), remote.Received)
}

// AdvanceToDelivered marks a known message from the other party
// delivered, and received first if needed.
func (r *Reconciler) AdvanceToDelivered(ctx context.Context, id string) {
	r.advance(ctx, r.known([]string{id}), remote.Delivered)
}

// AdvanceToRead marks known messages from the other party read in one
// batch, after the lower states.
func (r *Reconciler) AdvanceToRead(ctx context.Context, ids []string) {
	r.advance(ctx, r.known(ids), remote.Read)
}

// ReconcileVisibleUnread marks read every unread message from the other
// party among visible, provided the window has focus.
func (r *Reconciler) ReconcileVisibleUnread(ctx context.Context, visible []string, focused bool) {
	if !focused || len(visible) == 0 {
		return
	}
	var unread []remote.Message
	for _, m := range r.Messages() {
		if r.eligible(m) && !m.IsRead && slices.Contains(visible, m.ID) {
			unread = append(unread, m)
		}
	}
	r.advance(ctx, unread, remote.Read)
}

// SweepDelivered marks delivered every received message from the other
// party that is not delivered yet. It runs when focus returns.
func (r *Reconciler) SweepDelivered(ctx context.Context) {
	if !r.focus.Focused() {
		return
	}
	var pending []remote.Message
	for _, m := range r.Messages() {
		if r.eligible(m) && m.IsReceived && !m.IsDelivered {
			pending = append(pending, m)
		}
	}
	r.advance(ctx, pending, remote.Delivered)
}

// FocusGained implements visibility.Listener.
func (r *Reconciler) FocusGained(ctx context.Context) {
	r.SweepDelivered(ctx)
}

// VisibilityChanged implements visibility.Listener.
func (r *Reconciler) VisibilityChanged(ctx context.Context, visible []string, focused bool) {
	r.ReconcileVisibleUnread(ctx, visible, focused)
}

func (r *Reconciler) known(ids []string) []remote.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]remote.Message, 0, len(ids))
	for _, id := range ids {
		if m, ok := r.thread.Get(id); ok {
			out = append(out, m)
		}
	}
	return out
}

// eligible reports whether this client may advance m's states: stored
// rows of this conversation sent by someone else.
func (r *Reconciler) eligible(m remote.Message) bool {
	return m.ProfileID != r.cfg.LocalUser &&
		!m.IsPlaceholder() &&
		m.ConversationID == r.cfg.ConversationID
}

// advance brings msgs up to target, writing each lower stage first so
// that read implies delivered implies received. Every write is a
// compare-and-set; a failed stage stops the cascade until the next
// trigger.
func (r *Reconciler) advance(ctx context.Context, msgs []remote.Message, target remote.Stage) {
	msgs = slices.DeleteFunc(slices.Clone(msgs), func(m remote.Message) bool { return !r.eligible(m) })
	if len(msgs) == 0 {
		return
	}
	for _, stage := range remote.Stages {
		if stage > target {
			break
		}
		var ids []string
		for _, m := range msgs {
			if !m.Has(stage) && !slices.Contains(ids, m.ID) {
				ids = append(ids, m.ID)
			}
		}
		if len(ids) == 0 {
			continue
		}
		at := r.now().UTC()
		changed, err := r.store.SetFlagIfUnset(ctx, ids, stage, at)
		metrics.DeliveryWrite(stage.String(), len(changed), err)
		if err != nil {
			r.logger.Warn("delivery state write failed",
				zap.Error(err), zap.Stringer("stage", stage), zap.Strings("message_ids", ids))
			return
		}
		r.mu.Lock()
		r.thread.setStage(ids, changed, stage, at)
		r.mu.Unlock()
		if len(changed) > 0 {
			r.logger.Debug("delivery state advanced", zap.Stringer("stage", stage), zap.Strings("message_ids", changed))
			r.changed()
		}
	}
}
