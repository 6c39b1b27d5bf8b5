// Package cantransport drives a native SocketCAN interface directly,
// bypassing the ELM327 AT-command layer entirely. It is grounded on the
// teacher's main.go, which dialed github.com/brutella/can's Bus for its
// getECUInfo/getEngineMaps/DTC-polling paths (can.Frame{ID, Data, Flags},
// can.NewBusForInterfaceWithName, Bus.Publish, Bus.Subscribe). Where the
// teacher hand-rolled single-frame OBD-II requests against a raw can.Bus,
// this package feeds isotp.Engine so multi-frame UDS/OBD payloads over CAN
// are reassembled the same way they would be behind an ELM327 adapter.
package cantransport

import (
	"context"
	"sync"
	"time"

	"github.com/brutella/can"

	"github.com/anodyne74/obdcore/core"
	"github.com/anodyne74/obdcore/internal/isotp"
)

// Bus abstracts github.com/brutella/can's *can.Bus so tests can substitute a
// fake without a real SocketCAN interface present.
type Bus interface {
	Publish(frm can.Frame) error
	Subscribe(handler can.Handler)
	ConnectAndPublish() error
	Disconnect() error
}

// Transport drives one (txID, rxID) ISO-TP conversation over a SocketCAN
// interface. It implements isotp.FrameSink directly; callers needing the
// byte-stream Transport contract used by the session manager should front
// it with an isotp.Engine-backed adapter, since native CAN delivers framed
// messages rather than a line-oriented byte stream.
type Transport struct {
	bus   Bus
	txID  uint32
	rxID  uint32
	flags uint32

	mu   sync.Mutex
	fcCh chan isotp.Frame
}

// handlerFunc adapts a plain function to can.Handler, matching the
// teacher's CANHandler but scoped to a single rxID rather than forwarding
// every frame on the bus to an application channel.
type handlerFunc struct {
	rxID uint32
	fn   func(can.Frame)
}

func (h handlerFunc) Handle(frame can.Frame) {
	if uint32(frame.ID) == h.rxID {
		h.fn(frame)
	}
}

// New wires a Transport to an already-connected Bus, filtering for frames
// addressed to rxID and publishing under txID. flags carries can.Frame's
// extended/RTR bits; 0 selects the standard 11-bit addressing the teacher
// and spec.md both assume.
func New(bus Bus, txID, rxID uint32, flags uint32) *Transport {
	t := &Transport{bus: bus, txID: txID, rxID: rxID, flags: flags, fcCh: make(chan isotp.Frame, 4)}
	bus.Subscribe(handlerFunc{rxID: rxID, fn: t.onFrame})
	go bus.ConnectAndPublish()
	return t
}

func (t *Transport) onFrame(frame can.Frame) {
	data := make([]byte, len(frame.Data))
	copy(data, frame.Data[:])
	f, err := isotp.ParseCANPayload(data)
	if err != nil {
		return
	}
	if f.Kind == isotp.FlowControl {
		select {
		case t.fcCh <- f:
		default:
		}
	}
}

// SendFrame implements isotp.FrameSink.
func (t *Transport) SendFrame(payload [8]byte) error {
	frame := can.Frame{ID: t.txID, Length: 8, Flags: uint8(t.flags), Data: payload}
	if err := t.bus.Publish(frame); err != nil {
		return &core.Error{Kind: core.ErrTransportIO, Where: "cantransport.Transport.SendFrame", Cause: err}
	}
	return nil
}

// AwaitFlowControl implements isotp.FrameSink, blocking up to 1s (the
// default N_Bs per ISO 15765-2) for a FlowControl frame from rxID.
func (t *Transport) AwaitFlowControl() (isotp.Frame, error) {
	select {
	case f := <-t.fcCh:
		return f, nil
	case <-time.After(time.Second):
		return isotp.Frame{}, &core.Error{Kind: core.ErrTimeout, Where: "cantransport.Transport.AwaitFlowControl", Reason: "N_Bs exceeded waiting for flow control"}
	}
}

// Delay implements isotp.FrameSink.
func (t *Transport) Delay(ms float64) {
	if ms <= 0 {
		return
	}
	time.Sleep(time.Duration(ms * float64(time.Millisecond)))
}

// Close disconnects the underlying bus.
func (t *Transport) Close() error {
	if err := t.bus.Disconnect(); err != nil {
		return &core.Error{Kind: core.ErrTransportIO, Where: "cantransport.Transport.Close", Cause: err}
	}
	return nil
}

// SendFlowControl publishes a flow control frame under txID, for when this
// side is the receiver of a multi-frame message (e.g. a simulated ECU).
// Sessions in this module always play the tester role, and nothing in the
// module calls it.
func (t *Transport) SendFlowControl(ctx context.Context, status isotp.FlowStatus, blockSize byte, stMinMS float64) error {
	payload := isotp.EncodeFlowControl(status, blockSize, stMinMS)
	return t.SendFrame(payload)
}
