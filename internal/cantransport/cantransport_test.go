package cantransport

import (
	"testing"
	"time"

	"github.com/brutella/can"

	"github.com/anodyne74/obdcore/internal/isotp"
)

// fakeBus is an in-memory Bus that loops Publish straight back through
// Subscribe's handler, letting the test drive onFrame without a real
// SocketCAN interface.
type fakeBus struct {
	handler   can.Handler
	published []can.Frame
}

func (b *fakeBus) Publish(frm can.Frame) error {
	b.published = append(b.published, frm)
	return nil
}

func (b *fakeBus) Subscribe(h can.Handler) { b.handler = h }
func (b *fakeBus) ConnectAndPublish() error { return nil }
func (b *fakeBus) Disconnect() error        { return nil }

func TestSendFramePublishesUnderTxID(t *testing.T) {
	bus := &fakeBus{}
	tr := New(bus, 0x7E0, 0x7E8, 0)

	if err := tr.SendFrame([8]byte{0x02, 0x01, 0x0C}); err != nil {
		t.Fatalf("SendFrame: %v", err)
	}
	if len(bus.published) != 1 || bus.published[0].ID != 0x7E0 {
		t.Fatalf("got %+v", bus.published)
	}
}

func TestAwaitFlowControlDeliversFrame(t *testing.T) {
	bus := &fakeBus{}
	tr := New(bus, 0x7E0, 0x7E8, 0)

	payload := isotp.EncodeFlowControl(isotp.CTS, 8, 10)
	bus.handler.Handle(can.Frame{ID: 0x7E8, Length: 8, Data: payload})

	f, err := tr.AwaitFlowControl()
	if err != nil {
		t.Fatalf("AwaitFlowControl: %v", err)
	}
	if f.Kind != isotp.FlowControl || f.Status != isotp.CTS || f.BlockSize != 8 {
		t.Fatalf("got %+v", f)
	}
}

func TestAwaitFlowControlIgnoresOtherIDs(t *testing.T) {
	bus := &fakeBus{}
	tr := New(bus, 0x7E0, 0x7E8, 0)

	payload := isotp.EncodeFlowControl(isotp.CTS, 8, 10)
	bus.handler.Handle(can.Frame{ID: 0x123, Length: 8, Data: payload})

	select {
	case f := <-tr.fcCh:
		t.Fatalf("expected no flow control frame from a foreign ID, got %+v", f)
	case <-time.After(10 * time.Millisecond):
	}
}

func TestCloseDisconnectsBus(t *testing.T) {
	bus := &fakeBus{}
	tr := New(bus, 0x7E0, 0x7E8, 0)
	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
