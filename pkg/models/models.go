package models

import (
	"fmt"
	"time"
)

// Session identifies one uploaded scan on the server.
// A Session is never mutated after creation; a new upload produces a new value.
type Session struct {
	SessionID       string    `json:"session_id"`
	SliceCount      int       `json:"slice_count"`
	SourceFilename  string    `json:"source_filename"`
	SourceSizeBytes int64     `json:"source_size_bytes"`
	CreatedAt       time.Time `json:"created_at"`
}

// IsZero reports whether s carries no session id.
func (s Session) IsZero() bool {
	return s.SessionID == ""
}

// Equal compares sessions field by field, using time.Time.Equal for CreatedAt.
func (s Session) Equal(o Session) bool {
	return s.SessionID == o.SessionID &&
		s.SliceCount == o.SliceCount &&
		s.SourceFilename == o.SourceFilename &&
		s.SourceSizeBytes == o.SourceSizeBytes &&
		s.CreatedAt.Equal(o.CreatedAt)
}

// SliceKey uniquely identifies one rendered slice of a session.
type SliceKey struct {
	SessionID string
	Index     int
}

func (k SliceKey) String() string {
	return fmt.Sprintf("%s/%d", k.SessionID, k.Index)
}
