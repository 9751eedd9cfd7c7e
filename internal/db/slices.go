package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Slices stores raw slice payloads keyed by (session id, slice index).
type Slices struct {
	db *sql.DB
}

// NewSlices creates a slice byte store on an opened database
func NewSlices(db *sql.DB) *Slices {
	return &Slices{db: db}
}

// Get returns the payload for one slice.
func (s *Slices) Get(ctx context.Context, sessionID string, index int) ([]byte, bool, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM slice_bytes WHERE session_id = ? AND slice_index = ?`,
		sessionID, index).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read slice %s/%d: %w", sessionID, index, err)
	}
	return payload, true, nil
}

// Put replaces the payload for one slice.
func (s *Slices) Put(ctx context.Context, sessionID string, index int, payload []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO slice_bytes (session_id, slice_index, payload, stored_at) VALUES (?, ?, ?, ?)`,
		sessionID, index, payload, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to write slice %s/%d: %w", sessionID, index, err)
	}
	return nil
}

// Delete removes one slice payload.
func (s *Slices) Delete(ctx context.Context, sessionID string, index int) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM slice_bytes WHERE session_id = ? AND slice_index = ?`, sessionID, index)
	if err != nil {
		return fmt.Errorf("failed to delete slice %s/%d: %w", sessionID, index, err)
	}
	return nil
}

// DeleteSession removes every slice payload of a session.
func (s *Slices) DeleteSession(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM slice_bytes WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("failed to delete slices of %s: %w", sessionID, err)
	}
	return nil
}

// Indexes lists the stored slice indexes of a session in ascending order.
func (s *Slices) Indexes(ctx context.Context, sessionID string) ([]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT slice_index FROM slice_bytes WHERE session_id = ? ORDER BY slice_index`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list slices of %s: %w", sessionID, err)
	}
	defer rows.Close()

	var indexes []int
	for rows.Next() {
		var idx int
		if err := rows.Scan(&idx); err != nil {
			return nil, fmt.Errorf("failed to scan slice index: %w", err)
		}
		indexes = append(indexes, idx)
	}
	return indexes, rows.Err()
}

// Sessions lists the ids of every session with stored slices.
func (s *Slices) Sessions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT session_id FROM slice_bytes ORDER BY session_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list stored sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
