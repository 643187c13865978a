package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/chatterbox/internal/bus"
	"github.com/matheus3301/chatterbox/internal/remote"
	"go.uber.org/zap"
)

// Feed publishes row changes of a backend onto the bus.
type Feed interface {
	Start(ctx context.Context) error
	Stop()
}

// NewFeed returns the change feed matching the connection's dialect.
// dsn is only used by Postgres, which needs its own listener connection.
func (db *DB) NewFeed(dsn string) Feed {
	if db.Dialect() == Postgres {
		return NewPGFeed(db, dsn)
	}
	return NewJournalFeed(db)
}

const (
	journalInterval  = 250 * time.Millisecond
	journalBatch     = 500
	journalRetention = time.Hour
	journalPruneEach = 240
)

// JournalFeed tails the sqlite change_journal table, which triggers fill
// on every insert and update. Each process keeps its own cursor, so
// several daemons sharing one file all see every change.
type JournalFeed struct {
	db     *DB
	cursor int64
	polls  int
	cancel context.CancelFunc
	done   chan struct{}
}

// NewJournalFeed creates a journal feed for a sqlite store.
func NewJournalFeed(db *DB) *JournalFeed {
	return &JournalFeed{db: db}
}

// Start positions the cursor at the journal's end and begins polling.
func (f *JournalFeed) Start(ctx context.Context) error {
	if err := f.Rewind(ctx); err != nil {
		return err
	}
	ctx, f.cancel = context.WithCancel(ctx)
	f.done = make(chan struct{})
	go f.loop(ctx)
	return nil
}

// Stop stops the polling loop.
func (f *JournalFeed) Stop() {
	if f.cancel != nil {
		f.cancel()
		<-f.done
	}
}

// Rewind moves the cursor to the latest journal entry.
func (f *JournalFeed) Rewind(ctx context.Context) error {
	var last sql.NullInt64
	if err := f.db.GetContext(ctx, &last, "SELECT MAX(id) FROM change_journal"); err != nil {
		return fmt.Errorf("journal cursor: %w", err)
	}
	f.cursor = last.Int64
	return nil
}

func (f *JournalFeed) loop(ctx context.Context) {
	defer close(f.done)
	ticker := time.NewTicker(journalInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := f.Poll(ctx); err != nil && !errors.Is(err, context.Canceled) {
				f.db.logger.Error("failed to poll change journal", zap.Error(err))
			}
			f.polls++
			if f.polls%journalPruneEach == 0 {
				f.prune(ctx)
			}
		case <-ctx.Done():
			return
		}
	}
}

type journalEntry struct {
	ID        int64  `db:"id"`
	TableName string `db:"table_name"`
	Op        string `db:"op"`
	RowID     string `db:"row_id"`
}

// Poll publishes every journal entry past the cursor and returns how many
// were published. Records carry the row's current state.
func (f *JournalFeed) Poll(ctx context.Context) (int, error) {
	var entries []journalEntry
	err := f.db.SelectContext(ctx, &entries,
		"SELECT id, table_name, op, row_id FROM change_journal WHERE id > ? ORDER BY id LIMIT ?",
		f.cursor, journalBatch)
	if err != nil {
		return 0, fmt.Errorf("read journal: %w", err)
	}
	published := 0
	for _, e := range entries {
		f.cursor = e.ID
		rows, err := f.db.Select(ctx, remote.Query{
			Table:   e.TableName,
			Filters: []remote.Filter{remote.Eq("id", e.RowID)},
			Limit:   1,
		})
		if err != nil {
			f.db.logger.Warn("journal row lookup failed", zap.Error(err),
				zap.String("table", e.TableName), zap.String("row_id", e.RowID))
			continue
		}
		if len(rows) == 0 {
			continue
		}
		f.db.bus.Emit(bus.ChangeKind(e.TableName, e.Op), remote.Change{
			Table:       e.TableName,
			Type:        remote.EventType(e.Op),
			Record:      rows[0],
			CommittedAt: time.Now().UTC(),
		})
		published++
	}
	return published, nil
}

func (f *JournalFeed) prune(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-journalRetention)
	if _, err := f.db.ExecContext(ctx, "DELETE FROM change_journal WHERE created_at < ?", cutoff); err != nil {
		f.db.logger.Warn("failed to prune change journal", zap.Error(err))
	}
}
