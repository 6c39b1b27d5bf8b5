// Package journal implements an optional, append-only record of raw
// request/response wire bytes for field debugging, grounded on the
// teacher's internal/datastore/sqlite.go schema-creation style
// (CREATE TABLE IF NOT EXISTS, database/sql over github.com/mattn/go-sqlite3).
//
// Unlike the teacher's datastore, which persists decoded vehicles,
// profiles, and performance reports, this journal stores only the raw
// bytes and timestamps of each request/response cycle: no decoded DTCs, no
// PID dictionaries, no session metadata. Disabled unless a config path is
// given.
package journal

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Entry is one raw request/response cycle as it appeared on the wire.
type Entry struct {
	SessionID string
	Sent      time.Time
	Request   []byte
	Response  []byte
}

// SQLiteJournal is an append-only sink for Entry records.
type SQLiteJournal struct {
	db *sql.DB
}

// Open creates (or reuses) a SQLite database at path and ensures the
// journal table exists.
func Open(path string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("journal: open database: %w", err)
	}

	j := &SQLiteJournal{db: db}
	if err := j.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

func (j *SQLiteJournal) initialize() error {
	const schema = `CREATE TABLE IF NOT EXISTS wire_trace (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		sent_at TIMESTAMP NOT NULL,
		request BLOB NOT NULL,
		response BLOB
	)`
	if _, err := j.db.Exec(schema); err != nil {
		return fmt.Errorf("journal: create table: %w", err)
	}
	const index = `CREATE INDEX IF NOT EXISTS idx_wire_trace_session
		ON wire_trace(session_id, sent_at)`
	if _, err := j.db.Exec(index); err != nil {
		return fmt.Errorf("journal: create index: %w", err)
	}
	return nil
}

// Record appends one request/response cycle.
func (j *SQLiteJournal) Record(e Entry) error {
	const query = `INSERT INTO wire_trace (session_id, sent_at, request, response)
		VALUES (?, ?, ?, ?)`
	if _, err := j.db.Exec(query, e.SessionID, e.Sent, e.Request, e.Response); err != nil {
		return fmt.Errorf("journal: record entry: %w", err)
	}
	return nil
}

// Entries returns every recorded cycle for a session, oldest first.
func (j *SQLiteJournal) Entries(sessionID string) ([]Entry, error) {
	rows, err := j.db.Query(
		`SELECT session_id, sent_at, request, response FROM wire_trace
		 WHERE session_id = ? ORDER BY sent_at ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("journal: query entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.SessionID, &e.Sent, &e.Request, &e.Response); err != nil {
			return nil, fmt.Errorf("journal: scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// RecordWire adapts Record to elm327.WireRecorder: best-effort, so a
// transient write failure here never surfaces as a diagnostic request
// failure. Errors are dropped rather than returned for that reason.
func (j *SQLiteJournal) RecordWire(sessionID string, sent time.Time, request, response []byte) {
	_ = j.Record(Entry{SessionID: sessionID, Sent: sent, Request: request, Response: response})
}

// Close closes the underlying database handle.
func (j *SQLiteJournal) Close() error {
	if err := j.db.Close(); err != nil {
		return fmt.Errorf("journal: close: %w", err)
	}
	return nil
}
