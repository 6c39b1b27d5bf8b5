// Package capture flattens a journal session into a portable, file-based
// format for sharing or offline replay, adapting the teacher's in-memory
// Session/Recorder pair onto internal/journal's persisted wire traces
// instead of duplicating the recording concern journal already owns.
package capture

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/anodyne74/obdcore/internal/journal"
)

// Frame is one request/response exchange captured off the wire.
type Frame struct {
	Timestamp time.Time `json:"timestamp"`
	Request   []byte    `json:"request"`
	Response  []byte    `json:"response"`
}

// Session is an exported snapshot of every frame journal.Entries recorded
// for one session ID.
type Session struct {
	SessionID string    `json:"session_id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Frames    []Frame   `json:"frames"`
}

// FromJournal builds a Session from every entry recorded for sessionID, in
// the order journal.Entries returns them (sent_at ascending).
func FromJournal(j *journal.SQLiteJournal, sessionID string) (*Session, error) {
	entries, err := j.Entries(sessionID)
	if err != nil {
		return nil, fmt.Errorf("capture: load journal entries: %w", err)
	}

	s := &Session{SessionID: sessionID}
	for i, e := range entries {
		if i == 0 {
			s.StartTime = e.Sent
		}
		s.EndTime = e.Sent
		s.Frames = append(s.Frames, Frame{Timestamp: e.Sent, Request: e.Request, Response: e.Response})
	}
	return s, nil
}

// Save writes the session as indented JSON to path.
func (s *Session) Save(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("capture: marshal session: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("capture: write %s: %w", path, err)
	}
	return nil
}

// LoadSession reads a Session previously written by Save.
func LoadSession(path string) (*Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("capture: read %s: %w", path, err)
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("capture: unmarshal %s: %w", path, err)
	}
	return &s, nil
}
