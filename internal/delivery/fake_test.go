package delivery

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/matheus3301/chatterbox/internal/remote"
)

type write struct {
	stage   remote.Stage
	ids     []string
	changed []string
}

// fakeStore is an in-memory Store with compare-and-set semantics.
type fakeStore struct {
	mu      sync.Mutex
	msgs    []*remote.Message
	seq     int64
	writes  []write
	fetches int

	insertGate chan struct{}
	insertErr  error
	fetchErr   error
	writeErr   map[remote.Stage]error
	onFetch    func(n int)

	subs   map[int]func(remote.Change)
	nextID int
}

func newFakeStore() *fakeStore {
	return &fakeStore{subs: make(map[int]func(remote.Change)), writeErr: make(map[remote.Stage]error)}
}

func (f *fakeStore) add(m remote.Message) remote.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	m.Seq = f.seq
	if m.ID == "" {
		m.ID = fmt.Sprintf("m%d", f.seq)
	}
	f.msgs = append(f.msgs, &m)
	return m
}

func (f *fakeStore) get(id string) remote.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.msgs {
		if m.ID == id {
			return *m
		}
	}
	return remote.Message{}
}

func (f *fakeStore) writesFor(stage remote.Stage) []write {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []write
	for _, w := range f.writes {
		if w.stage == stage {
			out = append(out, w)
		}
	}
	return out
}

func (f *fakeStore) allWrites() []write {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.writes)
}

func (f *fakeStore) FetchMessages(_ context.Context, conversationID string) ([]remote.Message, error) {
	f.mu.Lock()
	f.fetches++
	n := f.fetches
	hook := f.onFetch
	err := f.fetchErr
	var out []remote.Message
	for _, m := range f.msgs {
		if m.ConversationID == conversationID {
			out = append(out, *m)
		}
	}
	f.mu.Unlock()
	if hook != nil {
		hook(n)
	}
	if err != nil {
		return nil, err
	}
	slices.SortFunc(out, func(a, b remote.Message) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return int(a.Seq - b.Seq)
	})
	return out, nil
}

func (f *fakeStore) InsertMessage(_ context.Context, m remote.Message) (remote.Message, error) {
	if f.insertGate != nil {
		<-f.insertGate
	}
	f.mu.Lock()
	err := f.insertErr
	f.mu.Unlock()
	if err != nil {
		return remote.Message{}, err
	}
	m.ID = ""
	return f.add(m), nil
}

func (f *fakeStore) SetFlagIfUnset(_ context.Context, ids []string, stage remote.Stage, at time.Time) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.writeErr[stage]; err != nil {
		f.writes = append(f.writes, write{stage: stage, ids: ids})
		return nil, err
	}
	var changed []string
	for _, m := range f.msgs {
		if !slices.Contains(ids, m.ID) || m.Has(stage) {
			continue
		}
		ts := at
		switch stage {
		case remote.Received:
			m.IsReceived, m.ReceivedAt = true, &ts
		case remote.Delivered:
			m.IsDelivered, m.DeliveredAt = true, &ts
		case remote.Read:
			m.IsRead, m.ReadAt = true, &ts
		}
		changed = append(changed, m.ID)
	}
	f.writes = append(f.writes, write{stage: stage, ids: slices.Clone(ids), changed: changed})
	return changed, nil
}

func (f *fakeStore) TouchConversation(context.Context, string, string, time.Time) error {
	return nil
}

func (f *fakeStore) SubscribeMessages(_ context.Context, _ string, fn func(remote.Change)) (remote.Handle, error) {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.subs[id] = fn
	f.mu.Unlock()
	return remote.HandleFunc(func() error {
		f.mu.Lock()
		delete(f.subs, id)
		f.mu.Unlock()
		return nil
	}), nil
}

func (f *fakeStore) subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// emit delivers a change to every subscriber synchronously.
func (f *fakeStore) emit(typ remote.EventType, m remote.Message) {
	f.mu.Lock()
	fns := make([]func(remote.Change), 0, len(f.subs))
	for _, fn := range f.subs {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	rec := remote.Row{
		"id": m.ID, "seq": m.Seq, "conversation_id": m.ConversationID, "profile_id": m.ProfileID,
		"content": m.Content, "created_at": m.CreatedAt,
		"is_received": m.IsReceived, "is_delivered": m.IsDelivered, "is_read": m.IsRead,
	}
	for _, fn := range fns {
		fn(remote.Change{Table: remote.TableMessages, Type: typ, Record: rec})
	}
}

type focusFlag struct{ atomic.Bool }

func (f *focusFlag) Focused() bool { return f.Load() }

func focused(v bool) *focusFlag {
	f := &focusFlag{}
	f.Store(v)
	return f
}

// tickClock returns strictly increasing times one second apart.
func tickClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	t := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}
