package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/matheus3301/chatterbox/internal/remote"
	"github.com/mattn/go-sqlite3"
)

// classify maps driver errors onto backend codes so callers can react to
// unique violations the same way on every backend.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return &remote.Error{Code: remote.CodeUniqueViolation, Message: sqliteErr.Error(), Status: 409}
		}
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return &remote.Error{Code: string(pqErr.Code), Message: pqErr.Message}
	}
	if errors.Is(err, sql.ErrNoRows) {
		return &remote.Error{Code: remote.CodeNotFound, Message: "no rows", Status: 406}
	}
	return fmt.Errorf("%s: %w", op, err)
}
