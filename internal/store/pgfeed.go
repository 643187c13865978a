package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/matheus3301/chatterbox/internal/bus"
	"github.com/matheus3301/chatterbox/internal/remote"
	"go.uber.org/zap"
)

// NotifyChannel is the pg_notify channel the change triggers write to.
const NotifyChannel = "chatterbox_changes"

// PGFeed listens for pg_notify payloads and republishes them on the bus.
// Notifications carry only the row identity; the record is re-read before
// publishing, so message content never counts against the 8000 byte
// payload limit.
type PGFeed struct {
	db       *DB
	dsn      string
	listener *pq.Listener
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewPGFeed creates a feed for a Postgres store.
func NewPGFeed(db *DB, dsn string) *PGFeed {
	return &PGFeed{db: db, dsn: dsn}
}

type notifyPayload struct {
	Table           string    `json:"table"`
	Type            string    `json:"type"`
	ID              string    `json:"id"`
	ConversationID  string    `json:"conversation_id,omitempty"`
	CommitTimestamp time.Time `json:"commit_timestamp"`
}

// Start opens the listener connection and begins relaying notifications.
func (f *PGFeed) Start(ctx context.Context) error {
	logger := f.db.logger
	f.listener = pq.NewListener(f.dsn, 2*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventDisconnected:
			logger.Warn("change feed disconnected", zap.Error(err))
			f.db.bus.Emit(bus.KindFeedDown, err)
		case pq.ListenerEventReconnected:
			logger.Info("change feed reconnected")
			f.db.bus.Emit(bus.KindFeedUp, nil)
		case pq.ListenerEventConnectionAttemptFailed:
			logger.Warn("change feed connection attempt failed", zap.Error(err))
		}
	})
	if err := f.listener.Listen(NotifyChannel); err != nil {
		_ = f.listener.Close()
		return fmt.Errorf("listen %s: %w", NotifyChannel, err)
	}
	ctx, f.cancel = context.WithCancel(ctx)
	f.done = make(chan struct{})
	go f.loop(ctx)
	return nil
}

// Stop closes the listener.
func (f *PGFeed) Stop() {
	if f.cancel == nil {
		return
	}
	f.cancel()
	<-f.done
	_ = f.listener.Close()
}

func (f *PGFeed) loop(ctx context.Context) {
	defer close(f.done)
	ping := time.NewTicker(90 * time.Second)
	defer ping.Stop()

	for {
		select {
		case n := <-f.listener.Notify:
			if n == nil {
				// Nil after a reconnect; notifications in between are lost.
				continue
			}
			f.relay(ctx, n.Extra)
		case <-ping.C:
			go func() { _ = f.listener.Ping() }()
		case <-ctx.Done():
			return
		}
	}
}

func (f *PGFeed) relay(ctx context.Context, extra string) {
	p, err := decodeNotify(extra)
	if err != nil {
		f.db.logger.Warn("dropping malformed change notification", zap.Error(err))
		return
	}
	rows, err := f.db.Select(ctx, remote.Query{
		Table:   p.Table,
		Filters: []remote.Filter{remote.Eq("id", p.ID)},
		Limit:   1,
	})
	if err != nil {
		f.db.logger.Warn("change row lookup failed", zap.Error(err),
			zap.String("table", p.Table), zap.String("row_id", p.ID))
		return
	}
	if len(rows) == 0 {
		return
	}
	f.db.bus.Emit(bus.ChangeKind(p.Table, p.Type), remote.Change{
		Table:       p.Table,
		Type:        remote.EventType(p.Type),
		Record:      rows[0],
		CommittedAt: p.CommitTimestamp.UTC(),
	})
}

func decodeNotify(extra string) (notifyPayload, error) {
	var p notifyPayload
	if err := json.Unmarshal([]byte(extra), &p); err != nil {
		return notifyPayload{}, err
	}
	if _, ok := columns[p.Table]; !ok {
		return notifyPayload{}, fmt.Errorf("unknown table %q", p.Table)
	}
	if p.ID == "" {
		return notifyPayload{}, fmt.Errorf("%s notification without id", p.Table)
	}
	if p.CommitTimestamp.IsZero() {
		p.CommitTimestamp = time.Now()
	}
	return p, nil
}
