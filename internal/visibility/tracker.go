// Package visibility tracks which rendered messages the user has actually
// seen and whether the window has input focus.
package visibility

import (
	"context"
	"slices"
	"sync"
)

// Threshold is the fraction of a message's area that must intersect the
// viewport for it to count as seen.
const Threshold = 0.5

// Listener receives the tracker's signals.
type Listener interface {
	// FocusGained runs when the window regains focus.
	FocusGained(ctx context.Context)
	// VisibilityChanged runs when the seen set grows or focus changes.
	VisibilityChanged(ctx context.Context, seen []string, focused bool)
}

// Tracker owns the focus flag and the sticky seen set of one window. It is
// the only writer of focus; everyone else reads it through Focused.
type Tracker struct {
	mu       sync.Mutex
	focused  bool
	observed map[string]bool
	seen     map[string]bool
	order    []string
	listener Listener
}

// New creates a tracker with the initial focus state.
func New(focused bool) *Tracker {
	return &Tracker{
		focused:  focused,
		observed: make(map[string]bool),
		seen:     make(map[string]bool),
	}
}

// SetListener replaces the listener; nil detaches it.
func (t *Tracker) SetListener(l Listener) {
	t.mu.Lock()
	t.listener = l
	t.mu.Unlock()
}

// Focused reports whether the window currently has focus.
func (t *Tracker) Focused() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.focused
}

// SetFocused records a focus or blur signal. Gaining focus triggers a
// delivered sweep and a visibility pass; repeated signals are ignored.
func (t *Tracker) SetFocused(ctx context.Context, focused bool) {
	t.mu.Lock()
	if t.focused == focused {
		t.mu.Unlock()
		return
	}
	t.focused = focused
	l := t.listener
	seen := t.seenLocked()
	t.mu.Unlock()

	if l == nil {
		return
	}
	if focused {
		l.FocusGained(ctx)
	}
	l.VisibilityChanged(ctx, seen, focused)
}

// Rendered re-derives the observed set from the currently rendered ids.
// Seen ids stay seen even when they are no longer rendered.
func (t *Tracker) Rendered(ids []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	clear(t.observed)
	for _, id := range ids {
		t.observed[id] = true
	}
}

// Intersect reports the visible fraction of a rendered message. The first
// time an observed message reaches Threshold it becomes seen and the
// listener is told.
func (t *Tracker) Intersect(ctx context.Context, id string, ratio float64) {
	t.mu.Lock()
	if !t.observed[id] || ratio < Threshold || t.seen[id] {
		t.mu.Unlock()
		return
	}
	t.seen[id] = true
	t.order = append(t.order, id)
	l := t.listener
	seen := t.seenLocked()
	focused := t.focused
	t.mu.Unlock()

	if l != nil {
		l.VisibilityChanged(ctx, seen, focused)
	}
}

// Seen returns every id seen so far, in the order they were seen.
func (t *Tracker) Seen() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.seenLocked()
}

// Refresh replays the current state to the listener, for example after a
// new listener is attached.
func (t *Tracker) Refresh(ctx context.Context) {
	t.mu.Lock()
	l := t.listener
	seen := t.seenLocked()
	focused := t.focused
	t.mu.Unlock()
	if l != nil {
		l.VisibilityChanged(ctx, seen, focused)
	}
}

func (t *Tracker) seenLocked() []string {
	return slices.Clone(t.order)
}
