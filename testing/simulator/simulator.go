// Package simulator emulates an ELM327 adapter wired to a vehicle ECU,
// speaking the same line-oriented AT-command/OBD-PDU protocol
// internal/elm327 drives, so tests (simulator_test.go drives elm327 and
// diagservice through it over TCP) and the cmd/ tools can exercise the full
// stack without real hardware.
package simulator

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"

	"github.com/anodyne74/obdcore/internal/dtccodec"
)

// ECU holds the simulated vehicle's state: a VIN, a set of stored DTCs, and
// a small drive cycle (RPM/speed/coolant) that Tick advances.
type ECU struct {
	mu sync.Mutex

	VIN     string
	DTCs    []string // 5-char SAE codes, e.g. "P0133"
	RPM     float64
	Speed   float64
	Coolant float64

	rng *rand.Rand
}

// NewECU returns an ECU seeded with a plausible idle state and two stored
// DTCs, ready to answer the elm327 init sequence and basic Mode 01/03/04/09
// requests.
func NewECU() *ECU {
	return &ECU{
		VIN:     "1G1JC5944R7252367",
		DTCs:    []string{"P0133", "P0301"},
		RPM:     800,
		Speed:   0,
		Coolant: 85,
		rng:     rand.New(rand.NewSource(1)),
	}
}

// Tick advances the simulated drive cycle one step. Callers that want live
// data to move over time (e.g. a TCP-served simulator under a ticker) call
// this between requests; Handle itself never mutates RPM/Speed/Coolant.
func (e *ECU) Tick() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.RPM += (e.rng.Float64() - 0.5) * 200
	if e.RPM < 700 {
		e.RPM = 700
	}
	if e.RPM > 5000 {
		e.RPM = 5000
	}

	e.Speed += (e.rng.Float64() - 0.5) * 5
	if e.Speed < 0 {
		e.Speed = 0
	}
	if e.Speed > 140 {
		e.Speed = 140
	}

	e.Coolant += (e.rng.Float64() - 0.5) * 0.5
}

// Handle maps one trimmed request line (an AT command or a hex PDU, as
// sent by internal/elm327) to the raw response text an ELM327 would print
// before the next "\r>" prompt. Callers own framing; Handle returns just
// the body.
func (e *ECU) Handle(line string) string {
	e.mu.Lock()
	defer e.mu.Unlock()

	cmd := strings.ToUpper(strings.TrimSpace(line))
	switch {
	case cmd == "ATZ":
		return "ELM327 v1.5"
	case cmd == "ATE0", cmd == "ATL0", cmd == "ATS0", cmd == "ATH1", cmd == "ATCAF1":
		return "OK"
	case strings.HasPrefix(cmd, "ATSP"):
		return "OK"
	case cmd == "ATDPN":
		return "A6"
	case cmd == "ATDP":
		return "ISO 15765-4 (CAN 11/500)"
	case cmd == "ATRV":
		return "12.6V"
	case strings.HasPrefix(cmd, "ATSH"):
		return "OK"
	case cmd == "0100":
		return "41 00 BE 1F A8 13"
	case cmd == "0101":
		return e.readinessResponse()
	case cmd == "0902":
		return e.vinResponse()
	case cmd == "03":
		return e.dtcResponse()
	case cmd == "04":
		e.DTCs = nil
		return "44"
	case strings.HasPrefix(cmd, "010C"):
		return fmt.Sprintf("41 0C %s", hex16(uint16(e.RPM*4)))
	case strings.HasPrefix(cmd, "010D"):
		return fmt.Sprintf("41 0D %02X", clampByte(e.Speed))
	case strings.HasPrefix(cmd, "0105"):
		return fmt.Sprintf("41 05 %02X", clampByte(e.Coolant+40))
	default:
		return "NO DATA"
	}
}

func hex16(v uint16) string {
	return fmt.Sprintf("%02X %02X", byte(v>>8), byte(v))
}

func clampByte(v float64) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v)
}

// readinessResponse encodes Mode 01 PID 01 with MIL on (since DTCs is
// non-empty) and every non-continuous monitor supported and complete.
func (e *ECU) readinessResponse() string {
	a := byte(0x00)
	if len(e.DTCs) > 0 {
		a = 0x80 | byte(len(e.DTCs)&0x7F)
	}
	return fmt.Sprintf("41 01 %02X 07 FF 00", a)
}

// vinResponse encodes VIN as a Mode 09 PID 02 response, one info item of
// ASCII bytes with the "49 02 01" header the real ECU prefixes.
func (e *ECU) vinResponse() string {
	var b strings.Builder
	fmt.Fprint(&b, "49 02 01")
	for _, c := range []byte(e.VIN) {
		fmt.Fprintf(&b, " %02X", c)
	}
	return b.String()
}

// dtcResponse encodes e.DTCs as a Mode 03 response: "43", a count byte,
// then each code as a two-byte word via dtccodec.Encode.
func (e *ECU) dtcResponse() string {
	var b strings.Builder
	fmt.Fprintf(&b, "43 %02X", len(e.DTCs))
	for _, code := range e.DTCs {
		word, err := dtccodec.Encode(code)
		if err != nil {
			continue
		}
		fmt.Fprintf(&b, " %02X %02X", byte(word>>8), byte(word))
	}
	return b.String()
}
