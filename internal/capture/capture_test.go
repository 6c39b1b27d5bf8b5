package capture

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/anodyne74/obdcore/internal/journal"
)

func openTestJournal(t *testing.T) *journal.SQLiteJournal {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := journal.Open(path)
	if err != nil {
		t.Fatalf("journal.Open: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestFromJournal(t *testing.T) {
	j := openTestJournal(t)
	base := time.Now().Truncate(time.Second)

	entries := []journal.Entry{
		{SessionID: "trip-1", Sent: base, Request: []byte("0100"), Response: []byte("41 00 BE 1F A8 13")},
		{SessionID: "trip-1", Sent: base.Add(time.Second), Request: []byte("010C"), Response: []byte("41 0C 1A F8")},
		{SessionID: "trip-2", Sent: base, Request: []byte("0902"), Response: nil},
	}
	for _, e := range entries {
		if err := j.Record(e); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	sess, err := FromJournal(j, "trip-1")
	if err != nil {
		t.Fatalf("FromJournal: %v", err)
	}
	if sess.SessionID != "trip-1" {
		t.Fatalf("SessionID = %q", sess.SessionID)
	}
	if len(sess.Frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(sess.Frames))
	}
	if string(sess.Frames[0].Request) != "0100" {
		t.Fatalf("Frames[0].Request = %q", sess.Frames[0].Request)
	}
	if !sess.EndTime.After(sess.StartTime) {
		t.Fatalf("expected EndTime after StartTime: %v / %v", sess.EndTime, sess.StartTime)
	}
}

func TestSaveAndLoadSession(t *testing.T) {
	j := openTestJournal(t)
	now := time.Now().Truncate(time.Second)
	if err := j.Record(journal.Entry{SessionID: "trip-1", Sent: now, Request: []byte("0100"), Response: []byte("41 00 BE 1F A8 13")}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	sess, err := FromJournal(j, "trip-1")
	if err != nil {
		t.Fatalf("FromJournal: %v", err)
	}

	path := filepath.Join(t.TempDir(), "trip-1.json")
	if err := sess.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected file to exist: %v", err)
	}

	loaded, err := LoadSession(path)
	if err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	if len(loaded.Frames) != 1 || string(loaded.Frames[0].Response) != "41 00 BE 1F A8 13" {
		t.Fatalf("got %+v", loaded.Frames)
	}
}

func TestFromJournalUnknownSessionIsEmpty(t *testing.T) {
	j := openTestJournal(t)
	sess, err := FromJournal(j, "nonexistent")
	if err != nil {
		t.Fatalf("FromJournal: %v", err)
	}
	if len(sess.Frames) != 0 {
		t.Fatalf("expected no frames, got %+v", sess.Frames)
	}
}
