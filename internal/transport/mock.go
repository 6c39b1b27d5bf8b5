package transport

import (
	"context"
	"sync"
	"time"

	"github.com/anodyne74/obdcore/core"
)

// ResponderFunc computes the adapter's reply to a written command line
// (stripped of the trailing carriage return). Returning ok=false means the
// simulated adapter produces no reply before the caller's deadline, which
// MockTransport surfaces as ErrTimeout from Read.
type ResponderFunc func(cmd string) (reply string, ok bool)

// MockTransport is an in-memory Transport for unit tests and config's
// "mock" transport type, replacing the teacher's standalone testing/simulator binaries (which
// drove a real vcan0 interface) with something unit tests can drive directly
// without a kernel CAN stack or serial device.
type MockTransport struct {
	stateBroadcaster

	mu        sync.Mutex
	respond   ResponderFunc
	pending   []byte
	connected bool
}

// NewMockTransport builds a mock transport that answers each write using fn.
func NewMockTransport(fn ResponderFunc) *MockTransport {
	return &MockTransport{respond: fn}
}

func (m *MockTransport) Connect(ctx context.Context) error {
	m.mu.Lock()
	m.connected = true
	m.mu.Unlock()
	m.publish(core.TransportState{Kind: core.Connected})
	return nil
}

func (m *MockTransport) Disconnect() error {
	m.mu.Lock()
	m.connected = false
	m.mu.Unlock()
	m.publish(core.TransportState{Kind: core.Disconnected})
	return nil
}

func (m *MockTransport) Write(ctx context.Context, b []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return core.KindError(core.ErrTransportDisconnected)
	}
	cmd := string(b)
	for len(cmd) > 0 && (cmd[len(cmd)-1] == '\r' || cmd[len(cmd)-1] == '\n') {
		cmd = cmd[:len(cmd)-1]
	}
	reply, ok := m.respond(cmd)
	if ok {
		m.pending = append(m.pending, []byte(reply+"\r>")...)
	}
	return nil
}

func (m *MockTransport) Read(ctx context.Context, max int, deadline time.Time) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return nil, core.KindError(core.ErrTransportDisconnected)
	}
	if len(m.pending) == 0 {
		return nil, &core.Error{Kind: core.ErrTimeout, Where: "transport.MockTransport.Read"}
	}
	n := len(m.pending)
	if n > max {
		n = max
	}
	out := m.pending[:n]
	m.pending = m.pending[n:]
	return out, nil
}
