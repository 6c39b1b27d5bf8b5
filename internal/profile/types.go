package profile

import (
	"time"

	"github.com/anodyne74/obdcore/core"
)

// Vehicle is a registered vehicle's identity, capabilities, and most
// recently ingested live-data/DTC snapshot. Rather than buffering its own
// raw sensor floats, Vehicle stores exactly what the protocol stack
// already produces: a core.EngineeringValue per PID and a core.DTC per
// trouble code, so a snapshot pulled from vehicle.Facade.StreamLiveData or
// vehicle.Report can be handed to UpdateVehicleState without reshaping.
type Vehicle struct {
	VIN          string
	Make         string
	Model        string
	Year         int
	Capabilities Capabilities
	Live         map[uint16]core.EngineeringValue
	DTCs         []core.DTC
	LastUpdated  time.Time
}

// Capabilities is what a vehicle can report and control, keyed the way the
// rest of this core addresses PIDs: by the numeric Mode 0x01 PID byte, not
// a formatted string.
type Capabilities struct {
	SupportedPIDs   map[uint16]bool // Mode 0x01 PIDs supported, by PID byte
	ProtocolVersion string
	HasCAN          bool
	ExtendedPIDs    bool
	RealTimePIDs    []uint16 // PIDs that can be queried in real-time
	ControlSystems  []string
}

// Profile holds vehicle-specific thresholds consulted by DetectAnomalies,
// keyed by PID where the threshold applies to a specific live channel.
type Profile struct {
	MaxRPM           float64
	RedlineRPM       float64
	IdleRPM          float64
	OptimalShiftRPM  float64
	FuelType         string
	TransmissionType string
	GearRatios       []float64
	WeightKg         float64
	EngineSize       float64 // in liters
	CustomThresholds map[uint16]float64
}

// Alert is one anomaly condition raised by DetectAnomalies. An alert is
// always traceable to either a live PID reading (PIDs) or a reported
// trouble code (Codes), never both.
type Alert struct {
	Type      string
	Severity  string // "info", "warning", "critical"
	Message   string
	Timestamp time.Time
	Value     float64
	Threshold float64
	PIDs      []uint16 // Mode 0x01 PIDs that triggered the alert
	Codes     []string // SAE DTC codes that triggered the alert
}
