package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Records stores named opaque records, one payload per name.
type Records struct {
	db *sql.DB
}

// NewRecords creates a record store on an opened database
func NewRecords(db *sql.DB) *Records {
	return &Records{db: db}
}

// Get returns the payload stored under name.
func (r *Records) Get(ctx context.Context, name string) ([]byte, bool, error) {
	var payload []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT payload FROM session_record WHERE name = ?`, name).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read record %s: %w", name, err)
	}
	return payload, true, nil
}

// Put replaces the payload stored under name.
func (r *Records) Put(ctx context.Context, name string, payload []byte) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO session_record (name, payload, updated_at) VALUES (?, ?, ?)`,
		name, payload, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to write record %s: %w", name, err)
	}
	return nil
}

// Delete removes the record; deleting a missing record is not an error.
func (r *Records) Delete(ctx context.Context, name string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM session_record WHERE name = ?`, name); err != nil {
		return fmt.Errorf("failed to delete record %s: %w", name, err)
	}
	return nil
}
