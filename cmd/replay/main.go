// Command replay prints (and optionally paces) the frames of a captured
// session, either a JSON file written by capture.Session.Save or read
// directly out of a journal database.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/anodyne74/obdcore/internal/capture"
	"github.com/anodyne74/obdcore/internal/journal"
)

func main() {
	var (
		captureFile string
		journalPath string
		sessionID   string
		speed       float64
	)

	flag.StringVar(&captureFile, "file", "", "Capture file to replay (JSON, as written by capture.Session.Save)")
	flag.StringVar(&journalPath, "journal", "", "Journal database to read the session from instead of -file")
	flag.StringVar(&sessionID, "session", "", "Session ID to load from -journal")
	flag.Float64Var(&speed, "speed", 0, "Replay speed multiplier (0 = print immediately, no pacing)")
	flag.Parse()

	var session *capture.Session
	var err error

	switch {
	case captureFile != "":
		session, err = capture.LoadSession(captureFile)
	case journalPath != "" && sessionID != "":
		var j *journal.SQLiteJournal
		j, err = journal.Open(journalPath)
		if err == nil {
			defer j.Close()
			session, err = capture.FromJournal(j, sessionID)
		}
	default:
		fmt.Fprintln(os.Stderr, "usage: replay -file capture.json | -journal path -session id [-speed multiplier]")
		os.Exit(1)
	}
	if err != nil {
		log.Fatalf("loading session: %v", err)
	}

	fmt.Printf("Session %s: %d frames, %s to %s\n",
		session.SessionID, len(session.Frames), session.StartTime, session.EndTime)

	var last time.Time
	for _, f := range session.Frames {
		if speed > 0 && !last.IsZero() {
			time.Sleep(time.Duration(float64(f.Timestamp.Sub(last)) / speed))
		}
		last = f.Timestamp
		fmt.Printf("[%s] > %s\n", f.Timestamp.Format(time.RFC3339Nano), f.Request)
		fmt.Printf("[%s] < %s\n", f.Timestamp.Format(time.RFC3339Nano), f.Response)
	}
}
