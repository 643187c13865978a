package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("session.", 10)
	defer unsub()

	b.Emit(KindStatusChanged, "test")

	select {
	case evt := <-ch:
		if evt.Kind != KindStatusChanged {
			t.Errorf("got kind %q, want %s", evt.Kind, KindStatusChanged)
		}
		if evt.Timestamp.IsZero() {
			t.Error("Emit should stamp the event")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(NamespaceChange+"messages.", 10)
	defer unsub()

	b.Emit(ChangeKind("conversations", "UPDATE"), nil)
	b.Emit(ChangeKind("messages", "INSERT"), nil)

	select {
	case evt := <-ch:
		if evt.Kind != "db.messages.insert" {
			t.Errorf("got kind %q, want db.messages.insert", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	// The conversations change must not be delivered.
	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("session.", 10)
	unsub()
	unsub()

	b.Emit(KindStatusChanged, nil)

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	var hooked []string
	b := New(WithDropHook(func(e Event) { hooked = append(hooked, e.Kind) }))
	ch, unsub := b.Subscribe("test.", 1)
	defer unsub()

	b.Publish(Event{Kind: "test.one"})
	// Buffer is full: dropped without blocking.
	b.Publish(Event{Kind: "test.two"})

	evt := <-ch
	if evt.Kind != "test.one" {
		t.Errorf("got %q, want test.one", evt.Kind)
	}
	if b.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", b.Dropped())
	}
	if len(hooked) != 1 || hooked[0] != "test.two" {
		t.Errorf("drop hook saw %v, want [test.two]", hooked)
	}
}

func TestChangeKind(t *testing.T) {
	if got := ChangeKind("conversation_participants", "UPDATE"); got != "db.conversation_participants.update" {
		t.Errorf("ChangeKind = %q", got)
	}
}
