package vehicle

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/anodyne74/obdcore/core"
	"github.com/anodyne74/obdcore/internal/diagservice"
	"github.com/anodyne74/obdcore/internal/elm327"
	"github.com/anodyne74/obdcore/internal/session"
)

// scriptedTransport replies from a canned map of command -> response text,
// the same fake shape elm327_test.go uses, local here since it is
// unexported there.
type scriptedTransport struct {
	responses map[string]string
	buf       []byte
}

func (s *scriptedTransport) Write(ctx context.Context, b []byte) error {
	cmd := strings.TrimSuffix(string(b), "\r")
	resp, ok := s.responses[cmd]
	if !ok {
		resp = "OK"
	}
	s.buf = append(s.buf, []byte(resp+"\r>")...)
	return nil
}

func (s *scriptedTransport) Read(ctx context.Context, max int, deadline time.Time) ([]byte, error) {
	if len(s.buf) == 0 {
		return nil, &core.Error{Kind: core.ErrTimeout}
	}
	n := len(s.buf)
	if n > max {
		n = max
	}
	out := s.buf[:n]
	s.buf = s.buf[n:]
	return out, nil
}

func TestFullReport(t *testing.T) {
	tr := &scriptedTransport{responses: map[string]string{
		"ATZ":    "ELM327 v1.5",
		"ATE0":   "OK",
		"ATL0":   "OK",
		"ATS0":   "OK",
		"ATH1":   "OK",
		"ATSP 0": "OK",
		"0100":   "41 00 BE 1F A8 13",
		"ATDPN":  "A6",
		"ATRV":   "12.6V",
		"0902":   "49 02 01 31 47 31 4A 43 35 39 34 34 52 37 32 35 32 33 36 37",
		"03":     "43 02 01 33 02 45",
		"0101":   "41 01 82 07 FF 00",
		"010C":   "41 0C 1A F8",
	}}
	driver := elm327.New(tr, elm327.DefaultOptions())
	svc := diagservice.New(driver, diagservice.DefaultOptions())
	mgr := session.NewManager(0)
	defer mgr.Close()
	f := New(mgr, driver, svc, Options{RequestDeadline: time.Second})

	report, err := f.FullReport(context.Background(), []uint16{0x0C})
	if err != nil {
		t.Fatalf("FullReport: %v", err)
	}
	if report.VIN != "1G1JC5944R7252367" {
		t.Fatalf("VIN = %q", report.VIN)
	}
	if len(report.DTCs) != 2 || report.DTCs[0].Code != "P0133" {
		t.Fatalf("DTCs = %+v", report.DTCs)
	}
	if !report.Readiness.MILOn {
		t.Fatalf("expected MIL on, got %+v", report.Readiness)
	}
	if report.Live[0x0C].Scalar != 1726.0 {
		t.Fatalf("Live[0x0C] = %+v", report.Live[0x0C])
	}
	if report.Adapter.ElectedProtocol != core.ProtocolISO15765CAN11500 {
		t.Fatalf("ElectedProtocol = %v", report.Adapter.ElectedProtocol)
	}
}
