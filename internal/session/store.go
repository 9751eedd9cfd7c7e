package session

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/strrl/ctslice/internal/auth"
	"github.com/strrl/ctslice/internal/errs"
	"github.com/strrl/ctslice/pkg/models"
)

const (
	recordName    = "current_session"
	schemaVersion = 1
)

// RecordStore is the durable storage for one named record.
type RecordStore interface {
	Get(ctx context.Context, name string) ([]byte, bool, error)
	Put(ctx context.Context, name string, payload []byte) error
	Delete(ctx context.Context, name string) error
}

type record struct {
	Version int            `json:"version"`
	Session models.Session `json:"session"`
}

// Store persists the current upload session across restarts.
type Store struct {
	records RecordStore
	auth    auth.Checker
	logger  *zap.Logger
}

// NewStore creates a session store
func NewStore(records RecordStore, checker auth.Checker, logger *zap.Logger) *Store {
	return &Store{records: records, auth: checker, logger: logger}
}

// Load returns the saved session. It reports absent when the caller is not
// authenticated (the record is kept), when nothing was saved, or when the
// record cannot be read (the record is cleared).
func (s *Store) Load(ctx context.Context) (models.Session, bool) {
	if s.auth == nil || !s.auth.Authenticated() {
		return models.Session{}, false
	}

	payload, ok, err := s.records.Get(ctx, recordName)
	if err != nil {
		s.logger.Warn("Failed to read session record", zap.Error(err))
		return models.Session{}, false
	}
	if !ok {
		return models.Session{}, false
	}

	sess, err := decode(payload)
	if err != nil {
		corrupt := &errs.CorruptStateError{Store: "session", Key: recordName, Cause: err}
		s.logger.Warn("Discarding unreadable session record", zap.Error(corrupt))
		if err := s.records.Delete(ctx, recordName); err != nil {
			s.logger.Warn("Failed to clear session record", zap.Error(err))
		}
		return models.Session{}, false
	}
	return sess, true
}

// Save replaces the saved session.
func (s *Store) Save(ctx context.Context, sess models.Session) error {
	if sess.IsZero() {
		return fmt.Errorf("cannot save a session without id")
	}
	sess.CreatedAt = sess.CreatedAt.UTC()

	payload, err := json.Marshal(record{Version: schemaVersion, Session: sess})
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := s.records.Put(ctx, recordName, payload); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	s.logger.Debug("Session saved", zap.String("session_id", sess.SessionID))
	return nil
}

// Clear removes the saved session. Idempotent.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.records.Delete(ctx, recordName); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}

func decode(payload []byte) (models.Session, error) {
	var rec record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return models.Session{}, err
	}
	if rec.Version != schemaVersion {
		return models.Session{}, fmt.Errorf("unsupported schema version %d", rec.Version)
	}
	sess := rec.Session
	switch {
	case sess.SessionID == "":
		return models.Session{}, fmt.Errorf("missing session id")
	case sess.SliceCount < 0:
		return models.Session{}, fmt.Errorf("negative slice count %d", sess.SliceCount)
	case sess.SourceSizeBytes < 0:
		return models.Session{}, fmt.Errorf("negative source size %d", sess.SourceSizeBytes)
	}
	return sess, nil
}
