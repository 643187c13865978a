package bus

import (
	"strings"
	"time"
)

// Event kinds and namespaces published on the bus.
const (
	// NamespaceChange prefixes row-level change events: "db.<table>.<op>".
	NamespaceChange = "db."

	KindStatusChanged = "session.status_changed"
	KindFeedDown      = "feed.down"
	KindFeedUp        = "feed.up"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// ChangeKind returns the event kind for a row change, e.g. "db.messages.insert".
func ChangeKind(table, op string) string {
	return NamespaceChange + table + "." + strings.ToLower(op)
}

