package store

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/matheus3301/chatterbox/internal/bus"
	"github.com/matheus3301/chatterbox/internal/remote"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var _ remote.Store = (*DB)(nil)

var tracer = otel.Tracer("github.com/matheus3301/chatterbox/internal/store")

func (db *DB) startSpan(ctx context.Context, op, table string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "store."+op, trace.WithAttributes(
		attribute.String("db.system", db.Dialect()),
		attribute.String("db.table", table),
	))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

var operators = map[remote.Op]string{
	remote.OpEq:  "=",
	remote.OpNeq: "<>",
	remote.OpLt:  "<",
	remote.OpGt:  ">",
}

// where renders filters as a WHERE clause with '?' placeholders.
func where(table string, filters []remote.Filter) (string, []any, error) {
	if len(filters) == 0 {
		return "", nil, nil
	}
	parts := make([]string, 0, len(filters))
	args := make([]any, 0, len(filters))
	for _, f := range filters {
		if err := checkColumn(table, f.Column); err != nil {
			return "", nil, err
		}
		switch f.Op {
		case remote.OpEq, remote.OpNeq, remote.OpLt, remote.OpGt:
			if f.Value == nil {
				if f.Op == remote.OpEq {
					parts = append(parts, f.Column+" IS NULL")
				} else {
					parts = append(parts, f.Column+" IS NOT NULL")
				}
				continue
			}
			parts = append(parts, f.Column+" "+operators[f.Op]+" ?")
			args = append(args, f.Value)
		case remote.OpIn:
			values, ok := f.Value.([]string)
			if !ok {
				return "", nil, fmt.Errorf("filter %s in: want []string, got %T", f.Column, f.Value)
			}
			if len(values) == 0 {
				parts = append(parts, "1 = 0")
				continue
			}
			parts = append(parts, f.Column+" IN (?)")
			args = append(args, values)
		default:
			return "", nil, fmt.Errorf("unsupported filter op %q", f.Op)
		}
	}
	return " WHERE " + strings.Join(parts, " AND "), args, nil
}

func (db *DB) bind(query string, args []any) (string, []any, error) {
	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return "", nil, err
	}
	return db.Rebind(query), args, nil
}

type queryer interface {
	QueryxContext(ctx context.Context, query string, args ...any) (*sqlx.Rows, error)
}

func (db *DB) queryRows(ctx context.Context, q queryer, table, query string, args []any) ([]remote.Row, error) {
	query, args, err := db.bind(query, args)
	if err != nil {
		return nil, err
	}
	rows, err := q.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []remote.Row
	for rows.Next() {
		raw := make(map[string]any)
		if err := rows.MapScan(raw); err != nil {
			return nil, err
		}
		row, err := normalize(table, raw)
		if err != nil {
			return nil, &remote.Error{Code: remote.CodeShape, Message: err.Error()}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Select runs a filtered, ordered read and resolves embeds.
func (db *DB) Select(ctx context.Context, q remote.Query) (rows []remote.Row, err error) {
	ctx, span := db.startSpan(ctx, "select", q.Table)
	defer func() { endSpan(span, err) }()

	if _, ok := columns[q.Table]; !ok {
		return nil, fmt.Errorf("unknown table %q", q.Table)
	}
	clause, args, err := where(q.Table, q.Filters)
	if err != nil {
		return nil, err
	}
	query := "SELECT * FROM " + q.Table + clause
	if len(q.Order) > 0 {
		keys := make([]string, 0, len(q.Order))
		for _, o := range q.Order {
			if err := checkColumn(q.Table, o.Column); err != nil {
				return nil, err
			}
			dir := " ASC"
			if o.Desc {
				dir = " DESC"
			}
			keys = append(keys, o.Column+dir)
		}
		query += " ORDER BY " + strings.Join(keys, ", ")
	}
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
	}

	rows, err = db.queryRows(ctx, db.DB, q.Table, query, args)
	if err != nil {
		return nil, classify("select "+q.Table, err)
	}
	for _, e := range q.Embeds {
		if err := db.embed(ctx, q.Table, rows, e); err != nil {
			return nil, err
		}
	}
	return rows, nil
}

func (db *DB) embed(ctx context.Context, table string, rows []remote.Row, e remote.Embed) error {
	if err := checkColumn(table, e.Column); err != nil {
		return err
	}
	seen := make(map[string]bool)
	var keys []string
	for _, r := range rows {
		k, ok := r[e.Column].(string)
		if ok && !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return nil
	}
	related, err := db.Select(ctx, remote.Query{Table: e.Table, Filters: []remote.Filter{remote.In("id", keys)}})
	if err != nil {
		return fmt.Errorf("embed %s: %w", e.As, err)
	}
	byID := make(map[string]remote.Row, len(related))
	for _, r := range related {
		if id, ok := r["id"].(string); ok {
			byID[id] = r
		}
	}
	for _, r := range rows {
		k, _ := r[e.Column].(string)
		if rel, ok := byID[k]; ok {
			r[e.As] = rel
		} else {
			r[e.As] = nil
		}
	}
	return nil
}

// Insert creates rows in one transaction and returns them as stored.
// Rows without an id get a fresh UUID.
func (db *DB) Insert(ctx context.Context, table string, rows []remote.Row) (out []remote.Row, err error) {
	ctx, span := db.startSpan(ctx, "insert", table)
	defer func() { endSpan(span, err) }()

	if len(rows) == 0 {
		return nil, nil
	}
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, r := range rows {
		if id, _ := r["id"].(string); id == "" {
			r = maps.Clone(r)
			r["id"] = uuid.NewString()
		}
		cols := make([]string, 0, len(r))
		for col := range r {
			if err := checkColumn(table, col); err != nil {
				return nil, err
			}
			cols = append(cols, col)
		}
		slices.Sort(cols)
		args := make([]any, len(cols))
		for i, col := range cols {
			args[i] = r[col]
		}
		query := "INSERT INTO " + table + " (" + strings.Join(cols, ", ") + ") VALUES (" +
			strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ") + ") RETURNING *"
		inserted, err := db.queryRows(ctx, tx, table, query, args)
		if err != nil {
			return nil, classify("insert "+table, err)
		}
		out = append(out, inserted...)
	}
	if err := tx.Commit(); err != nil {
		return nil, classify("commit", err)
	}
	db.logger.Debug("rows inserted", zap.String("table", table), zap.Int("count", len(out)))
	return out, nil
}

// Update applies patch to every row matching filters and returns only the
// rows it changed. With a flag guard among the filters this is a
// compare-and-set.
func (db *DB) Update(ctx context.Context, table string, patch remote.Row, filters []remote.Filter) (out []remote.Row, err error) {
	ctx, span := db.startSpan(ctx, "update", table)
	defer func() { endSpan(span, err) }()

	if len(patch) == 0 {
		return nil, fmt.Errorf("update %s: empty patch", table)
	}
	if len(filters) == 0 {
		return nil, fmt.Errorf("update %s: refusing unfiltered update", table)
	}
	cols := make([]string, 0, len(patch))
	for col := range patch {
		if err := checkColumn(table, col); err != nil {
			return nil, err
		}
		cols = append(cols, col)
	}
	slices.Sort(cols)
	sets := make([]string, len(cols))
	args := make([]any, 0, len(cols)+len(filters))
	for i, col := range cols {
		sets[i] = col + " = ?"
		args = append(args, patch[col])
	}
	clause, whereArgs, err := where(table, filters)
	if err != nil {
		return nil, err
	}
	args = append(args, whereArgs...)
	query := "UPDATE " + table + " SET " + strings.Join(sets, ", ") + clause + " RETURNING *"
	out, err = db.queryRows(ctx, db.DB, table, query, args)
	if err != nil {
		return nil, classify("update "+table, err)
	}
	return out, nil
}

// Delete removes every row matching filters.
func (db *DB) Delete(ctx context.Context, table string, filters []remote.Filter) (err error) {
	ctx, span := db.startSpan(ctx, "delete", table)
	defer func() { endSpan(span, err) }()

	if len(filters) == 0 {
		return fmt.Errorf("delete %s: refusing unfiltered delete", table)
	}
	clause, args, err := where(table, filters)
	if err != nil {
		return err
	}
	query, args, err := db.bind("DELETE FROM "+table+clause, args)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return classify("delete "+table, err)
	}
	return nil
}

// Subscribe delivers change events for sub until the handle is closed or
// ctx is done. Events come from whichever feed publishes on the bus.
func (db *DB) Subscribe(ctx context.Context, sub remote.Subscription, fn func(remote.Change)) (remote.Handle, error) {
	if _, ok := columns[sub.Table]; !ok {
		return nil, fmt.Errorf("unknown table %q", sub.Table)
	}
	return subscribeBus(ctx, db.bus, sub, fn), nil
}

func subscribeBus(ctx context.Context, b *bus.Bus, sub remote.Subscription, fn func(remote.Change)) remote.Handle {
	ch, unsub := b.Subscribe(bus.NamespaceChange+sub.Table+".", 256)
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case evt := <-ch:
				c, ok := evt.Payload.(remote.Change)
				if ok && sub.Matches(c) {
					fn(c)
				}
			}
		}
	}()
	var once sync.Once
	// Close must not be called from fn: it waits for the delivery loop.
	return remote.HandleFunc(func() error {
		once.Do(func() {
			unsub()
			close(done)
			<-stopped
		})
		return nil
	})
}

