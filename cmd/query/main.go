// Command query runs a one-shot aggregate report (detect, VIN, DTCs,
// readiness monitors, and optionally live data) against a configured
// adapter and writes it as JSON, the config-driven counterpart to
// cmd/obdcli's single-verb dispatch.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/anodyne74/obdcore/internal/config"
	"github.com/anodyne74/obdcore/internal/datastore"
	"github.com/anodyne74/obdcore/internal/diagservice"
	"github.com/anodyne74/obdcore/internal/elm327"
	"github.com/anodyne74/obdcore/internal/logging"
	"github.com/anodyne74/obdcore/internal/profile"
	"github.com/anodyne74/obdcore/internal/session"
	"github.com/anodyne74/obdcore/vehicle"
)

func main() {
	var (
		configFile string
		outputFile string
		livePIDs   string
	)
	flag.StringVar(&configFile, "config", "config.yaml", "Path to configuration file")
	flag.StringVar(&outputFile, "output", "", "Output file for the query results (default: stdout)")
	flag.StringVar(&livePIDs, "live", "", "Comma-separated hex PIDs to include as a live-data snapshot, e.g. 0C,0D")
	flag.Parse()

	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}
	log := logging.New(logging.ParseLevel(cfg.Logging.Level), os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tr := cfg.GetTransportConfig()
	if err := tr.Connect(ctx); err != nil {
		log.Error("connect: %v", err)
		os.Exit(2)
	}
	defer tr.Disconnect()

	opts := cfg.GetCoreOptions()
	driver := elm327.New(tr, opts.ELM327)
	svc := diagservice.New(driver, opts.Diagservice)
	mgr := session.NewManager(opts.SessionQueueDepth)
	defer mgr.Close()
	facade := vehicle.New(mgr, driver, svc, vehicle.Options{RequestDeadline: opts.Diagservice.P2ClientMS + opts.Diagservice.P2StarMS})

	var pids []uint16
	for _, tok := range strings.Split(livePIDs, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		p, err := strconv.ParseUint(tok, 16, 16)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid pid %q: %v\n", tok, err)
			os.Exit(1)
		}
		pids = append(pids, uint16(p))
	}

	report, err := facade.FullReport(ctx, pids)
	if err != nil {
		log.Error("full report: %v", err)
		os.Exit(1)
	}

	if cfg.Datastore.Enabled {
		if err := persistReport(cfg.Datastore.Path, report); err != nil {
			log.Warn("persisting report: %v", err)
		}
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		log.Error("encode: %v", err)
		os.Exit(1)
	}

	if outputFile == "" {
		fmt.Println(string(data))
		return
	}
	if err := os.WriteFile(outputFile, data, 0644); err != nil {
		log.Error("write %s: %v", outputFile, err)
		os.Exit(1)
	}
}

// persistReport registers the queried vehicle and records one alert per
// reported DTC in the SQLite datastore, so the history is kept even when
// nothing has ever called through internal/profile's in-memory Manager.
func persistReport(path string, report vehicle.Report) error {
	store, err := datastore.NewStore(&datastore.Config{SQLitePath: path})
	if err != nil {
		return fmt.Errorf("open datastore: %w", err)
	}
	defer store.Close()

	if report.VIN == "" {
		return nil
	}

	now := time.Now().UTC()
	v, err := store.GetVehicle(report.VIN)
	if err != nil {
		v = &profile.Vehicle{VIN: report.VIN}
	}
	v.Live = report.Live
	v.DTCs = report.DTCs
	v.LastUpdated = now
	if err := store.SaveVehicle(v); err != nil {
		return fmt.Errorf("save vehicle: %w", err)
	}

	for _, dtc := range report.DTCs {
		alert := &profile.Alert{
			Type:      "DTC",
			Severity:  "warning",
			Message:   fmt.Sprintf("stored trouble code %s", dtc.Code),
			Timestamp: now,
			Codes:     []string{dtc.Code},
		}
		if err := store.SaveAlert(report.VIN, alert); err != nil {
			return fmt.Errorf("save alert: %w", err)
		}
	}
	return nil
}
