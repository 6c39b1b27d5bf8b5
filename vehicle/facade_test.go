package vehicle

import (
	"context"
	"testing"
	"time"

	"github.com/anodyne74/obdcore/core"
	"github.com/anodyne74/obdcore/internal/diagservice"
	"github.com/anodyne74/obdcore/internal/session"
)

// stubAdapter answers a fixed canned line set per request PDU, local to
// this package the same way diagservice_test.go's does.
type stubAdapter struct {
	responses map[string][]string
}

func (a *stubAdapter) Request(ctx context.Context, hexPDU string) ([]string, error) {
	lines, ok := a.responses[hexPDU]
	if !ok {
		return nil, &core.Error{Kind: core.ErrNoData, Where: "stubAdapter"}
	}
	return lines, nil
}

func (a *stubAdapter) RequestWithDeadline(ctx context.Context, hexPDU string, maxWait time.Duration) ([]string, error) {
	return a.Request(ctx, hexPDU)
}

func newTestFacade(t *testing.T, responses map[string][]string) (*Facade, *session.Manager) {
	t.Helper()
	adapter := &stubAdapter{responses: responses}
	svc := diagservice.New(adapter, diagservice.DefaultOptions())
	mgr := session.NewManager(0)
	t.Cleanup(mgr.Close)
	// Detect() isn't exercised by these tests; a nil driver is fine as long
	// as nothing calls it.
	f := New(mgr, nil, svc, Options{RequestDeadline: time.Second})
	return f, mgr
}

func TestReadTroubleCodes(t *testing.T) {
	f, _ := newTestFacade(t, map[string][]string{"03": {"43 02 01 33 02 45"}})
	dtcs, err := f.ReadTroubleCodes(context.Background(), core.DTCStored)
	if err != nil {
		t.Fatalf("ReadTroubleCodes: %v", err)
	}
	if len(dtcs) != 2 || dtcs[0].Code != "P0133" {
		t.Fatalf("got %+v", dtcs)
	}
}

func TestClearTroubleCodes(t *testing.T) {
	f, _ := newTestFacade(t, map[string][]string{"04": {"44"}})
	if err := f.ClearTroubleCodes(context.Background()); err != nil {
		t.Fatalf("ClearTroubleCodes: %v", err)
	}
}

func TestReadVIN(t *testing.T) {
	f, _ := newTestFacade(t, map[string][]string{
		"0902": {"49 02 01 31 47 31 4A 43 35 39 34 34 52 37 32 35 32 33 36 37"},
	})
	vin, err := f.ReadVIN(context.Background())
	if err != nil {
		t.Fatalf("ReadVIN: %v", err)
	}
	if vin != "1G1JC5944R7252367" {
		t.Fatalf("VIN = %q", vin)
	}
}

func TestReadFreezeFrame(t *testing.T) {
	f, _ := newTestFacade(t, map[string][]string{"020C00": {"42 0C 00 1A F8"}})
	v, err := f.ReadFreezeFrame(context.Background(), 0x0C, 0x00)
	if err != nil {
		t.Fatalf("ReadFreezeFrame: %v", err)
	}
	if v.Scalar != 1726.0 {
		t.Fatalf("got %v", v.Scalar)
	}
}

func TestReadReadinessMonitors(t *testing.T) {
	// Byte A=0x82 (MIL on, 2 DTCs), B=0x07 (all three continuous monitors
	// supported, none flagged incomplete), C=0xFF (all eight non-continuous
	// supported), D=0x00 (none flagged incomplete).
	f, _ := newTestFacade(t, map[string][]string{"0101": {"41 01 82 07 FF 00"}})
	rm, err := f.ReadReadinessMonitors(context.Background())
	if err != nil {
		t.Fatalf("ReadReadinessMonitors: %v", err)
	}
	if !rm.MILOn || rm.StoredDTCCount != 2 {
		t.Fatalf("got %+v", rm)
	}
	if len(rm.NonContinuous) != 8 {
		t.Fatalf("expected 8 non-continuous monitors, got %d", len(rm.NonContinuous))
	}
	for _, m := range rm.NonContinuous {
		if !m.Supported || !m.Complete {
			t.Fatalf("expected every monitor supported and complete (D=0x00): %+v", m)
		}
	}
}

func TestStreamLiveDataStopsOnCancel(t *testing.T) {
	f, _ := newTestFacade(t, map[string][]string{"010C": {"41 0C 1A F8"}})
	ctx, cancel := context.WithCancel(context.Background())

	ch := f.StreamLiveData(ctx, []uint16{0x0C}, 5*time.Millisecond)

	snap, ok := <-ch
	if !ok {
		t.Fatal("expected at least one snapshot before cancellation")
	}
	if snap.Err != nil {
		t.Fatalf("unexpected snapshot error: %v", snap.Err)
	}
	if snap.Values[0x0C].Scalar != 1726.0 {
		t.Fatalf("got %v", snap.Values[0x0C].Scalar)
	}

	cancel()
	for range ch {
		// drain until closed
	}
}
