// Command obdcli is a thin CLI wrapper over the vehicle facade, exercising
// detect/read-trouble-codes/clear-trouble-codes/stream-live-data/
// freeze-frame/vin/readiness against one configured adapter. It generalizes
// the teacher's main.go flag-based bootstrapping (-config flag, YAML
// config, log.Fatalf on unrecoverable startup errors) to the exit taxonomy
// spec.md §6 recommends: transport, adapter-init, and protocol-negotiation
// failures, NRCs, timeouts and cancellations each get a distinct code so
// scripts driving this tool can react without parsing log text.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/anodyne74/obdcore/core"
	"github.com/anodyne74/obdcore/internal/config"
	"github.com/anodyne74/obdcore/internal/diagservice"
	"github.com/anodyne74/obdcore/internal/elm327"
	"github.com/anodyne74/obdcore/internal/journal"
	"github.com/anodyne74/obdcore/internal/logging"
	"github.com/anodyne74/obdcore/internal/pidregistry"
	"github.com/anodyne74/obdcore/internal/session"
	"github.com/anodyne74/obdcore/internal/telemetry"
	"github.com/anodyne74/obdcore/vehicle"
)

const (
	exitSuccess             = 0
	exitTransportFailure    = 2
	exitAdapterInitFailure  = 3
	exitProtocolNegotiation = 4
	exitNRC                 = 5
	exitTimeout             = 6
	exitCancelled           = 7
	exitInvalidConfig       = 8
)

func main() {
	var configFile string
	flag.StringVar(&configFile, "config", "config.yaml", "Path to configuration file")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: obdcli [-config path] <detect|dtc|clear-dtc|live|freeze-frame|vin|readiness> [args]")
		os.Exit(exitInvalidConfig)
	}

	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(exitInvalidConfig)
	}
	log := logging.New(logging.ParseLevel(cfg.Logging.Level), os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tr := cfg.GetTransportConfig()
	if err := tr.Connect(ctx); err != nil {
		log.Error("connect: %v", err)
		os.Exit(exitTransportFailure)
	}
	defer tr.Disconnect()

	opts := cfg.GetCoreOptions()
	driver := elm327.New(tr, opts.ELM327)

	if cfg.Journal.Enabled {
		jrn, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			log.Error("opening journal: %v", err)
			os.Exit(exitInvalidConfig)
		}
		defer jrn.Close()
		driver.SetRecorder(fmt.Sprintf("obdcli-%d", time.Now().UnixNano()), jrn)
	}

	svc := diagservice.New(driver, opts.Diagservice)
	mgr := session.NewManager(opts.SessionQueueDepth)
	defer mgr.Close()

	facade := vehicle.New(mgr, driver, svc, vehicle.Options{RequestDeadline: opts.Diagservice.P2ClientMS + opts.Diagservice.P2StarMS})

	var sink *telemetry.InfluxSink
	if cfg.Telemetry.InfluxDB.Enabled {
		sink, err = telemetry.NewInfluxSink(cfg.Telemetry.InfluxDB.URL, cfg.Telemetry.InfluxDB.Token,
			cfg.Telemetry.InfluxDB.Org, cfg.Telemetry.InfluxDB.Bucket)
		if err != nil {
			log.Error("connecting telemetry sink: %v", err)
			os.Exit(exitInvalidConfig)
		}
		defer sink.Close()
	}

	code := dispatch(ctx, facade, log, sink, args[0], args[1:])
	os.Exit(code)
}

func dispatch(ctx context.Context, f *vehicle.Facade, log *logging.Logger, sink *telemetry.InfluxSink, cmd string, rest []string) int {
	switch cmd {
	case "detect":
		info, err := f.Detect(ctx)
		if err != nil {
			return reportErr(log, err)
		}
		return printJSON(info)
	case "vin":
		vin, err := f.ReadVIN(ctx)
		if err != nil {
			return reportErr(log, err)
		}
		return printJSON(map[string]string{"vin": vin})
	case "dtc":
		kind := core.DTCStored
		if len(rest) > 0 {
			k, err := parseDTCKind(rest[0])
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				return exitInvalidConfig
			}
			kind = k
		}
		dtcs, err := f.ReadTroubleCodes(ctx, kind)
		if err != nil {
			return reportErr(log, err)
		}
		return printJSON(dtcs)
	case "clear-dtc":
		if err := f.ClearTroubleCodes(ctx); err != nil {
			return reportErr(log, err)
		}
		return printJSON(map[string]bool{"cleared": true})
	case "freeze-frame":
		if len(rest) < 2 {
			fmt.Fprintln(os.Stderr, "usage: obdcli freeze-frame <pid-hex> <frame-no>")
			return exitInvalidConfig
		}
		pid, err := strconv.ParseUint(rest[0], 16, 16)
		if err != nil {
			fmt.Fprintln(os.Stderr, "invalid pid:", err)
			return exitInvalidConfig
		}
		frameNo, err := strconv.ParseUint(rest[1], 10, 8)
		if err != nil {
			fmt.Fprintln(os.Stderr, "invalid frame number:", err)
			return exitInvalidConfig
		}
		v, err := f.ReadFreezeFrame(ctx, uint16(pid), byte(frameNo))
		if err != nil {
			return reportErr(log, err)
		}
		return printJSON(v)
	case "readiness":
		rm, err := f.ReadReadinessMonitors(ctx)
		if err != nil {
			return reportErr(log, err)
		}
		return printJSON(rm)
	case "live":
		return streamLive(ctx, f, log, sink, rest)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		return exitInvalidConfig
	}
}

func streamLive(ctx context.Context, f *vehicle.Facade, log *logging.Logger, sink *telemetry.InfluxSink, rest []string) int {
	if len(rest) == 0 {
		fmt.Fprintln(os.Stderr, "usage: obdcli live <pid-hex>[,pid-hex...] [interval-ms]")
		return exitInvalidConfig
	}
	var pids []uint16
	for _, tok := range strings.Split(rest[0], ",") {
		p, err := strconv.ParseUint(strings.TrimSpace(tok), 16, 16)
		if err != nil {
			fmt.Fprintln(os.Stderr, "invalid pid:", err)
			return exitInvalidConfig
		}
		pids = append(pids, uint16(p))
	}
	interval := time.Second
	if len(rest) > 1 {
		ms, err := strconv.Atoi(rest[1])
		if err != nil {
			fmt.Fprintln(os.Stderr, "invalid interval:", err)
			return exitInvalidConfig
		}
		interval = time.Duration(ms) * time.Millisecond
	}

	for snap := range f.StreamLiveData(ctx, pids, interval) {
		if snap.Err != nil {
			log.Warn("live tick failed: %v", snap.Err)
			continue
		}
		printJSON(snap.Values)
		if sink != nil {
			writeSnapshots(ctx, sink, log, snap.Values)
		}
	}
	if ctx.Err() != nil {
		return exitCancelled
	}
	return exitSuccess
}

// writeSnapshots forwards one StreamLiveData tick to the telemetry sink,
// naming each point from internal/pidregistry so the sink never has to
// know about the wire-level PID byte.
func writeSnapshots(ctx context.Context, sink *telemetry.InfluxSink, log *logging.Logger, values map[uint16]core.EngineeringValue) {
	for pid, v := range values {
		name := fmt.Sprintf("pid_%#02x", pid)
		if d, ok := pidregistry.Lookup(0x01, pid); ok {
			name = d.Name
		}
		if err := sink.Write(ctx, telemetry.Snapshot{PID: pid, Name: name, Value: v}); err != nil {
			log.Warn("telemetry write: %v", err)
		}
	}
}

func parseDTCKind(s string) (core.DTCKind, error) {
	switch strings.ToLower(s) {
	case "stored":
		return core.DTCStored, nil
	case "pending":
		return core.DTCPending, nil
	case "permanent":
		return core.DTCPermanent, nil
	default:
		return 0, fmt.Errorf("unknown dtc kind %q (want stored|pending|permanent)", s)
	}
}

func printJSON(v interface{}) int {
	enc := json.NewEncoder(os.Stdout)
	if err := enc.Encode(v); err != nil {
		fmt.Fprintln(os.Stderr, "encode output:", err)
		return exitInvalidConfig
	}
	return exitSuccess
}

// reportErr maps a *core.Error to the exit taxonomy spec.md §6 recommends,
// logging the full error before returning the code main() exits with.
func reportErr(log *logging.Logger, err error) int {
	log.Error("%v", err)

	var ce *core.Error
	if !errors.As(err, &ce) {
		return exitTransportFailure
	}
	switch ce.Kind {
	case core.ErrTransportDisconnected, core.ErrTransportIO, core.ErrBusInit, core.ErrCan, core.ErrBufferFull, core.ErrStopped:
		return exitTransportFailure
	case core.ErrAdapterInitFailed:
		return exitAdapterInitFailure
	case core.ErrNoProtocolNegotiated, core.ErrUnsupportedProtocol:
		return exitProtocolNegotiation
	case core.ErrNegativeResponse, core.ErrSecurityAccessDenied, core.ErrInvalidKey, core.ErrConditionsNotCorrect, core.ErrRequestOutOfRange:
		return exitNRC
	case core.ErrTimeout:
		return exitTimeout
	case core.ErrCancelled:
		return exitCancelled
	case core.ErrInvalidArgument, core.ErrParse, core.ErrNoData:
		return exitInvalidConfig
	default:
		return exitTransportFailure
	}
}
