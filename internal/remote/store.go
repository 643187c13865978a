// Package remote defines the backend-agnostic store client: generic
// record/filter/subscription operations plus the typed records decoded
// from them.
package remote

import (
	"context"
	"time"
)

// Table names shared by every backend.
const (
	TableProfiles      = "profiles"
	TableConversations = "conversations"
	TableParticipants  = "conversation_participants"
	TableMessages      = "messages"
)

// Row is one loosely-typed record as returned by a backend.
type Row map[string]any

// Op is a filter operator.
type Op string

const (
	OpEq  Op = "eq"
	OpNeq Op = "neq"
	OpIn  Op = "in"
	OpLt  Op = "lt"
	OpGt  Op = "gt"
)

// Filter restricts a select or update to rows whose Column matches Value.
// For OpIn, Value must be a []string.
type Filter struct {
	Column string
	Op     Op
	Value  any
}

// Eq returns an equality filter.
func Eq(column string, value any) Filter { return Filter{Column: column, Op: OpEq, Value: value} }

// Neq returns an inequality filter.
func Neq(column string, value any) Filter { return Filter{Column: column, Op: OpNeq, Value: value} }

// In returns a set-membership filter.
func In(column string, values []string) Filter { return Filter{Column: column, Op: OpIn, Value: values} }

// Order is one sort key.
type Order struct {
	Column string
	Desc   bool
}

// Embed joins a related record into each result row under As, following
// the foreign key Column into Table's id.
type Embed struct {
	As     string
	Table  string
	Column string
}

// Query describes a select.
type Query struct {
	Table   string
	Filters []Filter
	Order   []Order
	Embeds  []Embed
	Limit   int
}

// EventType is a change-feed event kind.
type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// Change is one row-level notification from a change feed.
type Change struct {
	Table       string
	Type        EventType
	Record      Row
	Old         Row
	CommittedAt time.Time
}

// Subscription scopes a change feed to one table, a set of event types and
// an optional equality filter.
type Subscription struct {
	Table  string
	Events []EventType
	Filter *Filter
}

// Matches reports whether c falls inside the subscription.
func (s Subscription) Matches(c Change) bool {
	if c.Table != s.Table {
		return false
	}
	if len(s.Events) > 0 {
		ok := false
		for _, e := range s.Events {
			if e == c.Type {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if s.Filter == nil {
		return true
	}
	v, ok := c.Record[s.Filter.Column]
	if !ok {
		return false
	}
	return FormatValue(v) == FormatValue(s.Filter.Value)
}

// Handle releases a subscription.
type Handle interface {
	Close() error
}

// HandleFunc adapts a function to Handle.
type HandleFunc func() error

// Close calls f.
func (f HandleFunc) Close() error { return f() }

// Store is the generic record store every backend implements.
type Store interface {
	Select(ctx context.Context, q Query) ([]Row, error)
	Insert(ctx context.Context, table string, rows []Row) ([]Row, error)
	Update(ctx context.Context, table string, patch Row, filters []Filter) ([]Row, error)
	Delete(ctx context.Context, table string, filters []Filter) error
	Subscribe(ctx context.Context, sub Subscription, fn func(Change)) (Handle, error)
}
