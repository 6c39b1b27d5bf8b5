package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/anodyne74/obdcore/core"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	path := writeTempConfig(t, `
transport:
  type: serial
  address: /dev/ttyUSB0
  baudRate: 38400
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Adapter.MaxRetries != 3 {
		t.Fatalf("MaxRetries default = %d, want 3", cfg.Adapter.MaxRetries)
	}
	if cfg.Adapter.MaxPendingRepeats != 10 {
		t.Fatalf("MaxPendingRepeats default = %d, want 10", cfg.Adapter.MaxPendingRepeats)
	}
	if cfg.Session.TesterPresentIntervalMS != 2000 {
		t.Fatalf("TesterPresentIntervalMS default = %d, want 2000", cfg.Session.TesterPresentIntervalMS)
	}
	if cfg.Logging.Level != "info" {
		t.Fatalf("Logging.Level default = %q, want info", cfg.Logging.Level)
	}
}

func TestLoadConfigHonorsOverrides(t *testing.T) {
	path := writeTempConfig(t, `
adapter:
  preferred_protocol: ISO_15765_CAN_11_500
  p2_client_ms: 1500
  max_retries: 5
logging:
  level: debug
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Adapter.MaxRetries != 5 {
		t.Fatalf("MaxRetries = %d, want 5", cfg.Adapter.MaxRetries)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}

	opts := cfg.GetCoreOptions()
	if opts.ELM327.PreferredProtocol != core.ProtocolISO15765CAN11500 {
		t.Fatalf("PreferredProtocol = %v, want ISO_15765_CAN_11_500", opts.ELM327.PreferredProtocol)
	}
	if opts.Diagservice.P2ClientMS != 1500*time.Millisecond {
		t.Fatalf("P2ClientMS = %v, want 1500ms", opts.Diagservice.P2ClientMS)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestGetTransportConfigSelectsByType(t *testing.T) {
	for _, kind := range []string{"serial", "tcp", "mock"} {
		cfg := &Config{}
		cfg.Transport.Type = kind
		if tr := cfg.GetTransportConfig(); tr == nil {
			t.Fatalf("%s: nil transport", kind)
		}
	}
}

func TestParseProtocolNameUnknownFallsBackToAuto(t *testing.T) {
	if _, ok := parseProtocolName("not-a-protocol"); ok {
		t.Fatal("expected unknown protocol name to report !ok")
	}
	p, ok := parseProtocolName("auto")
	if !ok || p != core.ProtocolUnknown {
		t.Fatalf("parseProtocolName(auto) = %v, %v", p, ok)
	}
}
