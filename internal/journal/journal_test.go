package journal

import (
	"path/filepath"
	"testing"
	"time"
)

func TestRecordAndEntriesRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer j.Close()

	now := time.Now().UTC().Truncate(time.Second)
	entries := []Entry{
		{SessionID: "s1", Sent: now, Request: []byte{0x01, 0x0C}, Response: []byte{0x41, 0x0C, 0x1A, 0xF8}},
		{SessionID: "s1", Sent: now.Add(time.Second), Request: []byte{0x03}, Response: []byte{0x43, 0x00}},
		{SessionID: "s2", Sent: now, Request: []byte{0x09, 0x02}, Response: nil},
	}
	for _, e := range entries {
		if err := j.Record(e); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	got, err := j.Entries("s1")
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries for s1, got %d", len(got))
	}
	if got[0].Sent.After(got[1].Sent) {
		t.Fatalf("entries not ordered oldest-first: %v", got)
	}

	other, err := j.Entries("s2")
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(other) != 1 || other[0].Response != nil {
		t.Fatalf("got %+v", other)
	}
}

func TestRecordWireIsBestEffort(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer j.Close()

	now := time.Now().UTC().Truncate(time.Second)
	j.RecordWire("s1", now, []byte("010C"), []byte("41 0C 1A F8"))

	got, err := j.Entries("s1")
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(got) != 1 || string(got[0].Request) != "010C" {
		t.Fatalf("got %+v", got)
	}
}

func TestEntriesUnknownSessionIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer j.Close()

	got, err := j.Entries("nonexistent")
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no entries, got %v", got)
	}
}
