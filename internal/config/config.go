// Package config loads the YAML configuration document and projects it
// onto the construction options each layer of the diagnostic core expects,
// following the teacher's internal/config.LoadConfig/GetTransportConfig
// pattern.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/anodyne74/obdcore/core"
	"github.com/anodyne74/obdcore/internal/diagservice"
	"github.com/anodyne74/obdcore/internal/elm327"
	"github.com/anodyne74/obdcore/internal/transport"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Transport struct {
		Type     string `yaml:"type"`
		Address  string `yaml:"address"`
		BaudRate int    `yaml:"baudRate"`
		Debug    bool   `yaml:"debug"`
	} `yaml:"transport"`

	Adapter struct {
		PreferredProtocol string `yaml:"preferred_protocol"`
		P2ClientMS        int    `yaml:"p2_client_ms"`
		P2StarMS          int    `yaml:"p2_star_ms"`
		MaxRetries        int    `yaml:"max_retries"`
		MaxPendingRepeats int    `yaml:"max_pending_repeats"`
	} `yaml:"adapter"`

	ISOTP struct {
		STMinDefaultMS   int `yaml:"st_min_default_ms"`
		BlockSizeDefault int `yaml:"block_size_default"`
	} `yaml:"isotp"`

	Session struct {
		TesterPresentIntervalMS int `yaml:"tester_present_interval_ms"`
		QueueDepth              int `yaml:"queue_depth"`
	} `yaml:"session"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`

	Server struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
	} `yaml:"server"`

	// Journal configures the optional raw wire-trace sink. Disabled by
	// default: nothing is persisted unless a path is given.
	Journal struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"journal"`

	// Datastore configures the optional SQLite-backed vehicle/profile/
	// alert/maintenance history. Disabled by default.
	Datastore struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"datastore"`

	// Telemetry configures optional EngineeringValue snapshot sinks.
	Telemetry struct {
		InfluxDB struct {
			Enabled bool   `yaml:"enabled"`
			URL     string `yaml:"url"`
			Org     string `yaml:"org"`
			Bucket  string `yaml:"bucket"`
			Token   string `yaml:"token"`
		} `yaml:"influxdb"`
	} `yaml:"telemetry"`
}

// LoadConfig reads the config file and returns a Config struct.
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}
	config.applyDefaults()

	return &config, nil
}

// applyDefaults fills in zero-valued fields with the documented defaults
// (the adapter timings and retry counts mirror diagservice.DefaultOptions;
// GetCoreOptions derives the elm327 read timeout from p2_star_ms, so it is
// 5s rather than elm327.DefaultOptions' 2s) so a config document only needs
// to name what it overrides.
func (c *Config) applyDefaults() {
	if c.Adapter.P2ClientMS == 0 {
		c.Adapter.P2ClientMS = 1000
	}
	if c.Adapter.P2StarMS == 0 {
		c.Adapter.P2StarMS = 5000
	}
	if c.Adapter.MaxRetries == 0 {
		c.Adapter.MaxRetries = 3
	}
	if c.Adapter.MaxPendingRepeats == 0 {
		c.Adapter.MaxPendingRepeats = 10
	}
	if c.Session.TesterPresentIntervalMS == 0 {
		c.Session.TesterPresentIntervalMS = 2000
	}
	if c.Session.QueueDepth == 0 {
		c.Session.QueueDepth = 16
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Server.Host == "" {
		c.Server.Host = "localhost"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
}

// GetTransportConfig builds the transport named by the config, following
// the teacher's GetTransportConfig projection (test-mode flags picking
// mock/TCP, production picking the real serial device).
func (c *Config) GetTransportConfig() transport.Transport {
	switch strings.ToLower(c.Transport.Type) {
	case "tcp":
		return transport.NewTCPTransport(c.Transport.Address)
	case "mock":
		return transport.NewMockTransport(nil)
	default:
		return transport.NewSerialTransport(c.Transport.Address, c.Transport.BaudRate)
	}
}

// CoreOptions bundles the per-layer construction options the runtime
// assembles a Driver/Service/Manager from.
type CoreOptions struct {
	ELM327                elm327.Options
	Diagservice           diagservice.Options
	SessionQueueDepth     int
	TesterPresentInterval time.Duration
	STMinDefault          time.Duration
	BlockSizeDefault      int
}

// GetCoreOptions projects the YAML document onto the diagnostic core's
// construction options, the GetTransportConfig projection pattern extended
// to the protocol-stack layers the teacher never had.
func (c *Config) GetCoreOptions() CoreOptions {
	protocol := core.ProtocolUnknown
	if p, ok := parseProtocolName(c.Adapter.PreferredProtocol); ok {
		protocol = p
	}

	return CoreOptions{
		ELM327: elm327.Options{
			PreferredProtocol: protocol,
			HeadersOn:         true,
			ReadTimeout:       time.Duration(c.Adapter.P2StarMS) * time.Millisecond,
		},
		Diagservice: diagservice.Options{
			P2ClientMS:        time.Duration(c.Adapter.P2ClientMS) * time.Millisecond,
			P2StarMS:          time.Duration(c.Adapter.P2StarMS) * time.Millisecond,
			MaxRetries:        c.Adapter.MaxRetries,
			MaxPendingRepeats: c.Adapter.MaxPendingRepeats,
		},
		SessionQueueDepth:     c.Session.QueueDepth,
		TesterPresentInterval: time.Duration(c.Session.TesterPresentIntervalMS) * time.Millisecond,
		STMinDefault:          time.Duration(c.ISOTP.STMinDefaultMS) * time.Millisecond,
		BlockSizeDefault:      c.ISOTP.BlockSizeDefault,
	}
}

// protocolNames maps the YAML preferred_protocol string onto a
// core.Protocol; core.Protocol itself only round-trips through the single
// ATSP digit/letter ELM327 uses on the wire, not a human-readable name.
var protocolNames = map[string]core.Protocol{
	"AUTO":                 core.ProtocolUnknown,
	"J1850_PWM":            core.ProtocolJ1850PWM,
	"J1850_VPW":            core.ProtocolJ1850VPW,
	"ISO_9141_2":           core.ProtocolISO9141_2,
	"ISO_14230_KWP_5BAUD":  core.ProtocolISO14230KWP5Baud,
	"ISO_14230_KWP_FAST":   core.ProtocolISO14230KWPFast,
	"ISO_15765_CAN_11_500": core.ProtocolISO15765CAN11500,
	"ISO_15765_CAN_29_500": core.ProtocolISO15765CAN29500,
	"ISO_15765_CAN_11_250": core.ProtocolISO15765CAN11250,
	"ISO_15765_CAN_29_250": core.ProtocolISO15765CAN29250,
	"SAE_J1939":            core.ProtocolSAEJ1939,
}

func parseProtocolName(s string) (core.Protocol, bool) {
	p, ok := protocolNames[strings.ToUpper(strings.TrimSpace(s))]
	return p, ok
}
