// Command obdserved exposes the vehicle facade over HTTP/websocket,
// generalizing the teacher's mux.Router + websocket broadcast main.go to
// the facade's primitives instead of a fixed CAN-bus telemetry struct: a
// thin byte-level/JSON API, not a UI, per spec.md's "UI is out of scope".
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/gorilla/mux"

	"github.com/anodyne74/obdcore/core"
	"github.com/anodyne74/obdcore/internal/config"
	"github.com/anodyne74/obdcore/internal/diagservice"
	"github.com/anodyne74/obdcore/internal/elm327"
	"github.com/anodyne74/obdcore/internal/session"
	"github.com/anodyne74/obdcore/vehicle"
)

type server struct {
	facade *vehicle.Facade
}

func (s *server) handleVIN(w http.ResponseWriter, r *http.Request) {
	vin, err := s.facade.ReadVIN(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]string{"vin": vin})
}

func (s *server) handleDTC(w http.ResponseWriter, r *http.Request) {
	kind := core.DTCStored
	if q := r.URL.Query().Get("kind"); q != "" {
		k, ok := dtcKindFromQuery(q)
		if !ok {
			http.Error(w, fmt.Sprintf("unknown dtc kind %q", q), http.StatusBadRequest)
			return
		}
		kind = k
	}
	dtcs, err := s.facade.ReadTroubleCodes(r.Context(), kind)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, dtcs)
}

func (s *server) handleClearDTC(w http.ResponseWriter, r *http.Request) {
	if err := s.facade.ClearTroubleCodes(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]bool{"cleared": true})
}

func (s *server) handleFreezeFrame(w http.ResponseWriter, r *http.Request) {
	frameNo, err := strconv.ParseUint(mux.Vars(r)["n"], 10, 8)
	if err != nil {
		http.Error(w, "invalid frame number", http.StatusBadRequest)
		return
	}
	pid, err := strconv.ParseUint(r.URL.Query().Get("pid"), 16, 16)
	if err != nil {
		http.Error(w, "invalid or missing ?pid= (hex)", http.StatusBadRequest)
		return
	}
	v, err := s.facade.ReadFreezeFrame(r.Context(), uint16(pid), byte(frameNo))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, v)
}

func (s *server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	rm, err := s.facade.ReadReadinessMonitors(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, rm)
}

func dtcKindFromQuery(s string) (core.DTCKind, bool) {
	switch s {
	case "stored":
		return core.DTCStored, true
	case "pending":
		return core.DTCPending, true
	case "permanent":
		return core.DTCPermanent, true
	default:
		return 0, false
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	if err := enc.Encode(v); err != nil {
		log.Printf("encode response: %v", err)
	}
}

// writeError maps a *core.Error onto an HTTP status the way cmd/obdcli
// maps the same Kind onto a process exit code, so an HTTP client gets the
// same taxonomy a CLI script would from its exit status.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var ce *core.Error
	if errors.As(err, &ce) {
		switch ce.Kind {
		case core.ErrTimeout:
			status = http.StatusGatewayTimeout
		case core.ErrCancelled:
			status = http.StatusRequestTimeout
		case core.ErrNegativeResponse, core.ErrSecurityAccessDenied, core.ErrInvalidKey, core.ErrConditionsNotCorrect, core.ErrRequestOutOfRange:
			status = http.StatusUnprocessableEntity
		case core.ErrNoData:
			status = http.StatusNotFound
		case core.ErrNoProtocolNegotiated, core.ErrUnsupportedProtocol, core.ErrAdapterInitFailed:
			status = http.StatusBadGateway
		case core.ErrInvalidArgument, core.ErrParse:
			status = http.StatusBadRequest
		}
	}
	http.Error(w, err.Error(), status)
}

func main() {
	var configFile string
	flag.StringVar(&configFile, "config", "config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tr := cfg.GetTransportConfig()
	if err := tr.Connect(ctx); err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer tr.Disconnect()

	opts := cfg.GetCoreOptions()
	driver := elm327.New(tr, opts.ELM327)
	svc := diagservice.New(driver, opts.Diagservice)
	mgr := session.NewManager(opts.SessionQueueDepth)
	defer mgr.Close()
	facade := vehicle.New(mgr, driver, svc, vehicle.Options{RequestDeadline: opts.Diagservice.P2ClientMS + opts.Diagservice.P2StarMS})

	srv := &server{facade: facade}

	router := mux.NewRouter()
	router.HandleFunc("/vin", srv.handleVIN).Methods(http.MethodGet)
	router.HandleFunc("/dtc", srv.handleDTC).Methods(http.MethodGet)
	router.HandleFunc("/dtc/clear", srv.handleClearDTC).Methods(http.MethodPost)
	router.HandleFunc("/freeze-frame/{n}", srv.handleFreezeFrame).Methods(http.MethodGet)
	router.HandleFunc("/readiness", srv.handleReadiness).Methods(http.MethodGet)
	router.HandleFunc("/live", srv.handleLiveWS)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{Addr: addr, Handler: router}

	go func() {
		<-ctx.Done()
		httpServer.Close()
	}()

	log.Printf("obdserved listening on http://%s", addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal(err)
	}
}
