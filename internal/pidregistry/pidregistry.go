// Package pidregistry holds the static (mode, pid) -> PidDescriptor table
// and the supported-PIDs bitmask decoder. Decoders are pure functions over
// raw payload bytes; the registry itself is immutable after construction so
// it can be shared freely across goroutines, per spec.md's shared-resource
// policy.
package pidregistry

import (
	"fmt"

	"github.com/anodyne74/obdcore/core"
	"github.com/anodyne74/obdcore/internal/hexcodec"
)

// Descriptor describes one PID: its mode/id, expected payload length, unit,
// valid range and decode formula.
type Descriptor struct {
	Mode            byte
	PID             uint16
	Name            string
	DataLengthBytes int // 0 means variable-length (e.g. VIN)
	Unit            string
	Min             float64
	Max             float64
	Decode          func(raw []byte) (core.EngineeringValue, error)
}

type key struct {
	mode byte
	pid  uint16
}

var registry = map[key]*Descriptor{}

func register(d *Descriptor) {
	registry[key{d.Mode, d.PID}] = d
}

// Lookup finds the descriptor for (mode, pid), if registered.
func Lookup(mode byte, pid uint16) (*Descriptor, bool) {
	d, ok := registry[key{mode, pid}]
	return d, ok
}

// All returns every registered descriptor, for diagnostics/tests.
func All() []*Descriptor {
	out := make([]*Descriptor, 0, len(registry))
	for _, d := range registry {
		out = append(out, d)
	}
	return out
}

func scalar(v float64, unit string) core.EngineeringValue {
	return core.EngineeringValue{Kind: core.KindScalar, Scalar: v, Unit: unit}
}

func needLen(raw []byte, n int) error {
	if len(raw) < n {
		return fmt.Errorf("pidregistry: need %d bytes, got %d", n, len(raw))
	}
	return nil
}

func init() {
	register(&Descriptor{
		Mode: 0x01, PID: 0x03, Name: "Fuel system status", DataLengthBytes: 2,
		Unit: "", Min: 0, Max: 0xFFFF,
		Decode: func(raw []byte) (core.EngineeringValue, error) {
			if err := needLen(raw, 2); err != nil {
				return core.EngineeringValue{}, err
			}
			return core.EngineeringValue{Kind: core.KindBitfield, Bitfield: uint64(hexcodec.U16BE(raw, 0))}, nil
		},
	})
	register(&Descriptor{
		Mode: 0x01, PID: 0x04, Name: "Engine load", DataLengthBytes: 1,
		Unit: "%", Min: 0, Max: 100,
		Decode: func(raw []byte) (core.EngineeringValue, error) {
			if err := needLen(raw, 1); err != nil {
				return core.EngineeringValue{}, err
			}
			return scalar(float64(raw[0])/2.55, "%"), nil
		},
	})
	register(&Descriptor{
		Mode: 0x01, PID: 0x05, Name: "Coolant temp", DataLengthBytes: 1,
		Unit: "°C", Min: -40, Max: 215,
		Decode: func(raw []byte) (core.EngineeringValue, error) {
			if err := needLen(raw, 1); err != nil {
				return core.EngineeringValue{}, err
			}
			return scalar(float64(raw[0])-40, "°C"), nil
		},
	})
	register(&Descriptor{
		Mode: 0x01, PID: 0x0C, Name: "Engine RPM", DataLengthBytes: 2,
		Unit: "rpm", Min: 0, Max: 16383.75,
		Decode: func(raw []byte) (core.EngineeringValue, error) {
			if err := needLen(raw, 2); err != nil {
				return core.EngineeringValue{}, err
			}
			v := (float64(raw[0])*256 + float64(raw[1])) / 4
			return scalar(v, "rpm"), nil
		},
	})
	register(&Descriptor{
		Mode: 0x01, PID: 0x0D, Name: "Vehicle speed", DataLengthBytes: 1,
		Unit: "km/h", Min: 0, Max: 255,
		Decode: func(raw []byte) (core.EngineeringValue, error) {
			if err := needLen(raw, 1); err != nil {
				return core.EngineeringValue{}, err
			}
			return scalar(float64(raw[0]), "km/h"), nil
		},
	})
	register(&Descriptor{
		Mode: 0x01, PID: 0x0F, Name: "Intake air temp", DataLengthBytes: 1,
		Unit: "°C", Min: -40, Max: 215,
		Decode: func(raw []byte) (core.EngineeringValue, error) {
			if err := needLen(raw, 1); err != nil {
				return core.EngineeringValue{}, err
			}
			return scalar(float64(raw[0])-40, "°C"), nil
		},
	})
	register(&Descriptor{
		Mode: 0x01, PID: 0x10, Name: "MAF rate", DataLengthBytes: 2,
		Unit: "g/s", Min: 0, Max: 655.35,
		Decode: func(raw []byte) (core.EngineeringValue, error) {
			if err := needLen(raw, 2); err != nil {
				return core.EngineeringValue{}, err
			}
			v := (float64(raw[0])*256 + float64(raw[1])) / 100
			return scalar(v, "g/s"), nil
		},
	})
	register(&Descriptor{
		Mode: 0x01, PID: 0x11, Name: "Throttle position", DataLengthBytes: 1,
		Unit: "%", Min: 0, Max: 100,
		Decode: func(raw []byte) (core.EngineeringValue, error) {
			if err := needLen(raw, 1); err != nil {
				return core.EngineeringValue{}, err
			}
			return scalar(float64(raw[0])/2.55, "%"), nil
		},
	})
	register(&Descriptor{
		Mode: 0x01, PID: 0x2F, Name: "Fuel level", DataLengthBytes: 1,
		Unit: "%", Min: 0, Max: 100,
		Decode: func(raw []byte) (core.EngineeringValue, error) {
			if err := needLen(raw, 1); err != nil {
				return core.EngineeringValue{}, err
			}
			return scalar(float64(raw[0])/2.55, "%"), nil
		},
	})
	register(&Descriptor{
		Mode: 0x01, PID: 0x01, Name: "Monitor status since DTCs cleared", DataLengthBytes: 4,
		Unit: "", Min: 0, Max: 0xFFFFFFFF,
		Decode: func(raw []byte) (core.EngineeringValue, error) {
			if err := needLen(raw, 4); err != nil {
				return core.EngineeringValue{}, err
			}
			return core.EngineeringValue{Kind: core.KindBitfield, Bitfield: uint64(hexcodec.U32BE(raw, 0))}, nil
		},
	})
	register(&Descriptor{
		Mode: 0x09, PID: 0x02, Name: "VIN", DataLengthBytes: 0,
		Unit: "", Min: 0, Max: 0,
		Decode: func(raw []byte) (core.EngineeringValue, error) {
			return core.EngineeringValue{Kind: core.KindText, Text: string(raw)}, nil
		},
	})

	for _, base := range []uint16{0x00, 0x20, 0x40, 0x60, 0x80, 0xA0, 0xC0} {
		b := base
		register(&Descriptor{
			Mode: 0x01, PID: b, Name: fmt.Sprintf("Supported PIDs %02X-%02X", b+1, b+0x20),
			DataLengthBytes: 4, Unit: "", Min: 0, Max: 0xFFFFFFFF,
			Decode: func(raw []byte) (core.EngineeringValue, error) {
				if err := needLen(raw, 4); err != nil {
					return core.EngineeringValue{}, err
				}
				return core.EngineeringValue{Kind: core.KindBitfield, Bitfield: uint64(hexcodec.U32BE(raw, 0))}, nil
			},
		})
	}
}

// SupportedPIDs decodes a 32-bit big-endian supported-PIDs mask into the
// set of PIDs it marks supported, relative to base (the requested PID,
// e.g. 0x00, 0x20, 0x40, ...). Bit k (1-indexed from the MSB) means PID
// base+k is supported.
func SupportedPIDs(base uint16, mask uint32) []uint16 {
	var out []uint16
	for k := 1; k <= 32; k++ {
		bit := uint(32 - k)
		if mask&(1<<bit) != 0 {
			out = append(out, base+uint16(k))
		}
	}
	return out
}
