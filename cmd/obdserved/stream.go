package main

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// upgrader allows all origins, matching the teacher's wsHandler: this is a
// local diagnostic tool, not a public-facing service.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleLiveWS upgrades to a websocket and forwards vehicle.StreamLiveData
// snapshots as JSON text frames until the client disconnects, generalizing
// the teacher's wsHandler/broadcastTelemetry pair (one shared broadcast
// loop over a client set) into one stream per connection scoped to the
// PIDs and interval that connection asked for.
func (s *server) handleLiveWS(w http.ResponseWriter, r *http.Request) {
	pids, err := parsePIDs(r.URL.Query().Get("pids"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	interval := time.Second
	if ms := r.URL.Query().Get("interval_ms"); ms != "" {
		n, err := strconv.Atoi(ms)
		if err != nil || n <= 0 {
			http.Error(w, "invalid interval_ms", http.StatusBadRequest)
			return
		}
		interval = time.Duration(n) * time.Millisecond
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade: %v", err)
		return
	}
	defer conn.Close()

	ctx := r.Context()

	// Drain and discard client messages so a dropped TCP connection is
	// noticed (ReadMessage returns an error) without requiring the client
	// to send anything.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for snap := range s.facade.StreamLiveData(ctx, pids, interval) {
		payload, err := json.Marshal(snap)
		if err != nil {
			log.Printf("marshal snapshot: %v", err)
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
}

func parsePIDs(s string) ([]uint16, error) {
	var pids []uint16
	for _, tok := range strings.Split(s, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		p, err := strconv.ParseUint(tok, 16, 16)
		if err != nil {
			return nil, err
		}
		pids = append(pids, uint16(p))
	}
	if len(pids) == 0 {
		return nil, errors.New("missing or empty ?pids= query parameter")
	}
	return pids, nil
}
