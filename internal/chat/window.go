package chat

import (
	"context"
	"sync"

	"github.com/matheus3301/chatterbox/internal/delivery"
	"github.com/matheus3301/chatterbox/internal/remote"
	"github.com/matheus3301/chatterbox/internal/visibility"
	"go.uber.org/zap"
)

// Window is one attached display: its own focus and visibility state and
// at most one open conversation.
type Window struct {
	svc      *Service
	tracker  *visibility.Tracker
	notifier delivery.Notifier

	mu      sync.Mutex
	rec     *delivery.Reconciler
	cancel  context.CancelFunc
	done    chan struct{}
	untrack func()

	updates chan struct{}
}

func newWindow(s *Service, focused bool, notifier delivery.Notifier) *Window {
	return &Window{
		svc:      s,
		tracker:  visibility.New(focused),
		notifier: notifier,
		updates:  make(chan struct{}, 1),
	}
}

// Updates fires whenever the open conversation's rows change.
func (w *Window) Updates() <-chan struct{} { return w.updates }

func (w *Window) signal() {
	select {
	case w.updates <- struct{}{}:
	default:
	}
}

// Open switches the window to conversationID, releasing the previous
// conversation's subscription first.
func (w *Window) Open(ctx context.Context, conversationID string) error {
	w.closeCurrent()

	var opts []delivery.Option
	if w.notifier != nil {
		opts = append(opts, delivery.WithNotifier(w.notifier))
	}
	rec, err := w.svc.reconciler(ctx, conversationID, w.tracker, opts...)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	w.tracker.SetListener(rec)
	if err := rec.Open(ctx); err != nil {
		cancel()
		w.tracker.SetListener(nil)
		return err
	}

	done := make(chan struct{})
	w.mu.Lock()
	w.rec, w.cancel, w.done = rec, cancel, done
	w.untrack = w.svc.track(rec)
	w.mu.Unlock()

	go w.forward(ctx, rec, done)
	w.signal()
	return nil
}

// forward re-runs the visibility pass on every change, since a refetch can
// bring in rows that were already seen, and passes the change on.
func (w *Window) forward(ctx context.Context, rec *delivery.Reconciler, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-rec.Changes():
			w.tracker.Refresh(ctx)
			w.signal()
		case <-ctx.Done():
			return
		}
	}
}

func (w *Window) closeCurrent() {
	w.mu.Lock()
	rec, cancel, done, untrack := w.rec, w.cancel, w.done, w.untrack
	w.rec, w.cancel, w.done, w.untrack = nil, nil, nil, nil
	w.mu.Unlock()

	if rec == nil {
		return
	}
	untrack()
	w.tracker.SetListener(nil)
	cancel()
	<-done
	if err := rec.Close(); err != nil {
		w.svc.logger.Warn("failed to release conversation subscription", zap.Error(err))
	}
}

func (w *Window) current() *delivery.Reconciler {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rec
}

// ConversationID returns the open conversation, or "".
func (w *Window) ConversationID() string {
	if rec := w.current(); rec != nil {
		return rec.ConversationID()
	}
	return ""
}

// Rows returns the open conversation's rendered rows.
func (w *Window) Rows() []delivery.Row {
	if rec := w.current(); rec != nil {
		return rec.Rows()
	}
	return nil
}

// SetFocused records a window focus or blur.
func (w *Window) SetFocused(ctx context.Context, focused bool) {
	w.tracker.SetFocused(ctx, focused)
}

// Rendered reports the ids currently rendered.
func (w *Window) Rendered(ids []string) {
	w.tracker.Rendered(ids)
}

// Intersect reports how much of a rendered message is on screen.
func (w *Window) Intersect(ctx context.Context, id string, ratio float64) {
	w.tracker.Intersect(ctx, id, ratio)
}

// Send posts text to the open conversation.
func (w *Window) Send(ctx context.Context, text string) (remote.Message, error) {
	rec := w.current()
	if rec == nil {
		return remote.Message{}, ErrNoConversation
	}
	return rec.SendMessage(ctx, text)
}

// Compose shows text in the open conversation right away and returns the
// func that stores it. The commit targets the conversation open at the
// time of the call even if the window switches meanwhile.
func (w *Window) Compose(text string) (func(context.Context) (remote.Message, error), error) {
	rec := w.current()
	if rec == nil {
		return nil, ErrNoConversation
	}
	placeholder, err := rec.Place(text)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context) (remote.Message, error) {
		return rec.Commit(ctx, placeholder)
	}, nil
}

// Close releases the open conversation.
func (w *Window) Close() {
	w.closeCurrent()
}
