package delivery

import (
	"cmp"
	"math"
	"slices"
	"time"

	"github.com/matheus3301/chatterbox/internal/remote"
)

// Thread is the ordered message sequence of one conversation. Messages
// sort by created_at, then by server sequence, then by the order this
// thread first saw them.
type Thread struct {
	entries []entry
	next    uint64
}

type entry struct {
	msg   remote.Message
	order uint64
}

// Len returns the number of messages.
func (t *Thread) Len() int { return len(t.entries) }

// Messages returns a copy of the sequence in display order.
func (t *Thread) Messages() []remote.Message {
	out := make([]remote.Message, len(t.entries))
	for i, e := range t.entries {
		out[i] = e.msg
	}
	return out
}

// Get returns the message with id.
func (t *Thread) Get(id string) (remote.Message, bool) {
	if i := t.index(id); i >= 0 {
		return t.entries[i].msg, true
	}
	return remote.Message{}, false
}

func (t *Thread) index(id string) int {
	return slices.IndexFunc(t.entries, func(e entry) bool { return e.msg.ID == id })
}

// Upsert inserts m, or merges it into the message with the same id.
func (t *Thread) Upsert(m remote.Message) {
	if i := t.index(m.ID); i >= 0 {
		t.entries[i].msg = merge(t.entries[i].msg, m)
	} else {
		t.entries = append(t.entries, entry{msg: m, order: t.next})
		t.next++
	}
	t.sort()
}

// Remove drops the message with id and reports whether it was present.
func (t *Thread) Remove(id string) bool {
	i := t.index(id)
	if i < 0 {
		return false
	}
	t.entries = slices.Delete(t.entries, i, i+1)
	return true
}

// Confirm swaps a placeholder for its stored row. If a refetch already
// brought the stored row in, the placeholder is simply dropped.
func (t *Thread) Confirm(placeholderID string, stored remote.Message) {
	i := t.index(placeholderID)
	if t.index(stored.ID) >= 0 {
		if i >= 0 {
			t.entries = slices.Delete(t.entries, i, i+1)
		}
		t.Upsert(stored)
		return
	}
	if i < 0 {
		t.Upsert(stored)
		return
	}
	t.entries[i].msg = stored
	t.sort()
}

// Replace makes fetched the new sequence. Pending placeholders survive
// unless a fetched row confirms them, and delivery flags never move
// backwards relative to what this thread already knew.
func (t *Thread) Replace(fetched []remote.Message) {
	prev := make(map[string]entry, len(t.entries))
	var pending []entry
	for _, e := range t.entries {
		if e.msg.IsPlaceholder() {
			pending = append(pending, e)
			continue
		}
		prev[e.msg.ID] = e
	}

	entries := make([]entry, 0, len(fetched)+len(pending))
	for _, m := range fetched {
		if old, ok := prev[m.ID]; ok {
			entries = append(entries, entry{msg: merge(old.msg, m), order: old.order})
			continue
		}
		entries = append(entries, entry{msg: m, order: t.next})
		t.next++
	}
	for _, p := range pending {
		confirmed := slices.ContainsFunc(fetched, func(m remote.Message) bool { return confirms(m, p.msg) })
		if !confirmed {
			entries = append(entries, p)
		}
	}
	t.entries = entries
	t.sort()
}

// confirms reports whether stored row m is the persisted form of
// placeholder p.
func confirms(m, p remote.Message) bool {
	return m.ProfileID == p.ProfileID &&
		m.Content == p.Content &&
		m.CreatedAt.Truncate(time.Millisecond).Equal(p.CreatedAt.Truncate(time.Millisecond))
}

// merge returns next with every delivery state that prev already had.
func merge(prev, next remote.Message) remote.Message {
	if prev.IsReceived && !next.IsReceived {
		next.IsReceived, next.ReceivedAt = true, prev.ReceivedAt
	}
	if prev.IsDelivered && !next.IsDelivered {
		next.IsDelivered, next.DeliveredAt = true, prev.DeliveredAt
	}
	if prev.IsRead && !next.IsRead {
		next.IsRead, next.ReadAt = true, prev.ReadAt
	}
	if next.Profile == nil {
		next.Profile = prev.Profile
	}
	return next
}

func seqKey(m remote.Message) int64 {
	if m.Seq <= 0 {
		return math.MaxInt64
	}
	return m.Seq
}

func (t *Thread) sort() {
	slices.SortStableFunc(t.entries, func(a, b entry) int {
		return cmp.Or(
			a.msg.CreatedAt.Compare(b.msg.CreatedAt),
			cmp.Compare(seqKey(a.msg), seqKey(b.msg)),
			cmp.Compare(a.order, b.order),
		)
	})
}

// setStage marks ids as having reached stage. at is recorded only for ids
// in changed, whose timestamps this client wrote itself.
func (t *Thread) setStage(ids, changed []string, stage remote.Stage, at time.Time) {
	for _, id := range ids {
		i := t.index(id)
		if i < 0 {
			continue
		}
		m := &t.entries[i].msg
		var ts *time.Time
		if slices.Contains(changed, id) {
			v := at
			ts = &v
		}
		switch stage {
		case remote.Received:
			if !m.IsReceived {
				m.IsReceived, m.ReceivedAt = true, ts
			}
		case remote.Delivered:
			if !m.IsDelivered {
				m.IsDelivered, m.DeliveredAt = true, ts
			}
		case remote.Read:
			if !m.IsRead {
				m.IsRead, m.ReadAt = true, ts
			}
		}
	}
}
