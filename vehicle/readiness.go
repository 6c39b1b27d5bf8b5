package vehicle

// Monitor is one emissions monitor's support/completion state as reported
// by Mode 01 PID 01 (SAE J1979).
type Monitor struct {
	Name      string
	Supported bool
	Complete  bool // true once the monitor has run to completion this cycle
}

// ReadinessMonitors is the decoded Mode 01 PID 01 response.
type ReadinessMonitors struct {
	MILOn             bool
	StoredDTCCount    int
	CompressionEngine bool
	Continuous        []Monitor // misfire, fuel system, components
	NonContinuous     []Monitor // catalyst, O2 sensor, EGR, etc.
}

var continuousNames = []string{"Misfire", "Fuel System", "Components"}

var sparkNonContinuousNames = [8]string{
	"Catalyst",
	"Heated Catalyst",
	"Evaporative System",
	"Secondary Air System",
	"A/C Refrigerant",
	"Oxygen Sensor",
	"Oxygen Sensor Heater",
	"EGR System",
}

var compressionNonContinuousNames = [8]string{
	"NMHC Catalyst",
	"NOx/SCR Monitor",
	"Reserved",
	"Boost Pressure",
	"Reserved",
	"Exhaust Gas Sensor",
	"PM Filter Monitoring",
	"EGR/VVT System",
}

// decodeReadiness unpacks the 32-bit Mode 01 PID 01 value (byte A in bits
// 31-24 down to byte D in bits 7-0) per SAE J1979.
func decodeReadiness(raw uint32) ReadinessMonitors {
	a := byte(raw >> 24)
	b := byte(raw >> 16)
	c := byte(raw >> 8)
	d := byte(raw)

	out := ReadinessMonitors{
		MILOn:             a&0x80 != 0,
		StoredDTCCount:    int(a & 0x7F),
		CompressionEngine: b&0x08 != 0,
	}

	// Byte B: bits 2-0 report continuous monitor support (components, fuel
	// system, misfire, high-to-low); bits 6-4 are set while the matching
	// monitor is incomplete.
	continuousSupport := []bool{b&0x01 != 0, b&0x02 != 0, b&0x04 != 0}
	continuousComplete := []bool{b&0x10 == 0, b&0x20 == 0, b&0x40 == 0}
	for i, name := range continuousNames {
		out.Continuous = append(out.Continuous, Monitor{
			Name:      name,
			Supported: continuousSupport[i],
			Complete:  continuousComplete[i],
		})
	}

	names := sparkNonContinuousNames
	if out.CompressionEngine {
		names = compressionNonContinuousNames
	}
	for i := 0; i < 8; i++ {
		bit := byte(1) << uint(i)
		out.NonContinuous = append(out.NonContinuous, Monitor{
			Name:      names[i],
			Supported: c&bit != 0,
			Complete:  d&bit == 0,
		})
	}

	return out
}
