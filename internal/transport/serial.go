package transport

import (
	"context"
	"time"

	"github.com/anodyne74/obdcore/core"
	"github.com/tarm/serial"
)

// SerialTransport speaks to an ELM327-class adapter over a serial port
// (USB CDC, Bluetooth SPP). Grounded on github.com/tarm/serial, the library
// the teacher pulls in (via rzetterberg/elmobd) and that seedhammer and
// serebryakov7-j1708-stats use directly for their own serial devices.
type SerialTransport struct {
	stateBroadcaster

	devicePath string
	baud       int
	port       *serial.Port
}

// NewSerialTransport constructs a transport for the given device path
// (e.g. /dev/ttyUSB0, COM3) at baud (0 selects tarm/serial's default).
func NewSerialTransport(devicePath string, baud int) *SerialTransport {
	return &SerialTransport{devicePath: devicePath, baud: baud}
}

// pollInterval bounds each underlying blocking read so Read can re-check
// its deadline without tarm/serial exposing a per-call timeout API.
const pollInterval = 50 * time.Millisecond

func (t *SerialTransport) Connect(ctx context.Context) error {
	t.publish(core.TransportState{Kind: core.Connecting})
	cfg := &serial.Config{Name: t.devicePath, Baud: t.baud, ReadTimeout: pollInterval}
	if cfg.Baud == 0 {
		cfg.Baud = 38400
	}
	port, err := serial.OpenPort(cfg)
	if err != nil {
		t.publish(core.TransportState{Kind: core.TransportError, Message: err.Error(), Recoverable: true})
		return &core.Error{Kind: core.ErrTransportIO, Where: "transport.SerialTransport.Connect", Cause: err}
	}
	t.port = port
	t.publish(core.TransportState{Kind: core.Connected})
	return nil
}

func (t *SerialTransport) Disconnect() error {
	if t.port == nil {
		return nil
	}
	err := t.port.Close()
	t.port = nil
	t.publish(core.TransportState{Kind: core.Disconnected})
	if err != nil {
		return &core.Error{Kind: core.ErrTransportIO, Where: "transport.SerialTransport.Disconnect", Cause: err}
	}
	return nil
}

func (t *SerialTransport) Write(ctx context.Context, b []byte) error {
	if t.port == nil {
		return core.KindError(core.ErrTransportDisconnected)
	}
	if _, err := t.port.Write(b); err != nil {
		return &core.Error{Kind: core.ErrTransportIO, Where: "transport.SerialTransport.Write", Cause: err}
	}
	return nil
}

// Read blocks for up to deadline waiting for bytes. tarm/serial exposes no
// per-call deadline, only a fixed Config.ReadTimeout set at Connect time, so
// Read polls with bounded port.Read calls (each capped at pollInterval by
// Connect's Config.ReadTimeout) until data arrives, ctx is cancelled, or
// deadline passes.
func (t *SerialTransport) Read(ctx context.Context, max int, deadline time.Time) ([]byte, error) {
	if t.port == nil {
		return nil, core.KindError(core.ErrTransportDisconnected)
	}
	buf := make([]byte, max)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, &core.Error{Kind: core.ErrTimeout, Where: "transport.SerialTransport.Read"}
		}
		select {
		case <-ctx.Done():
			return nil, &core.Error{Kind: core.ErrCancelled, Where: "transport.SerialTransport.Read", Cause: ctx.Err()}
		default:
		}
		n, err := t.port.Read(buf)
		if err != nil {
			return nil, &core.Error{Kind: core.ErrTransportIO, Where: "transport.SerialTransport.Read", Cause: err}
		}
		if n > 0 {
			return buf[:n], nil
		}
		// n == 0, err == nil: the pollInterval elapsed with nothing to
		// read. Loop and re-check the caller's deadline.
	}
}
