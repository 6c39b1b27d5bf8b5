package transport

import (
	"context"
	"net"
	"time"

	"github.com/anodyne74/obdcore/core"
)

// TCPTransport speaks to an ELM327-class adapter exposed over Wi-Fi/Ethernet
// (the common OBDLink/ELM327 Wi-Fi adapter pattern), or to a native CAN
// gateway that speaks the same line protocol over a socket. Generalizes the
// teacher's TCPConnection, which wrapped net.Conn in a bare io.ReadWriteCloser
// with no connect lifecycle, deadline plumbing, or state reporting.
type TCPTransport struct {
	stateBroadcaster

	addr string
	conn net.Conn
}

// NewTCPTransport constructs a transport that dials addr (host:port) on Connect.
func NewTCPTransport(addr string) *TCPTransport {
	return &TCPTransport{addr: addr}
}

func (t *TCPTransport) Connect(ctx context.Context) error {
	t.publish(core.TransportState{Kind: core.Connecting})
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", t.addr)
	if err != nil {
		t.publish(core.TransportState{Kind: core.TransportError, Message: err.Error(), Recoverable: true})
		return &core.Error{Kind: core.ErrTransportIO, Where: "transport.TCPTransport.Connect", Cause: err}
	}
	t.conn = conn
	t.publish(core.TransportState{Kind: core.Connected})
	return nil
}

func (t *TCPTransport) Disconnect() error {
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	t.publish(core.TransportState{Kind: core.Disconnected})
	if err != nil {
		return &core.Error{Kind: core.ErrTransportIO, Where: "transport.TCPTransport.Disconnect", Cause: err}
	}
	return nil
}

func (t *TCPTransport) Write(ctx context.Context, b []byte) error {
	if t.conn == nil {
		return core.KindError(core.ErrTransportDisconnected)
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = t.conn.SetWriteDeadline(dl)
	} else {
		_ = t.conn.SetWriteDeadline(time.Time{})
	}
	if _, err := t.conn.Write(b); err != nil {
		return &core.Error{Kind: core.ErrTransportIO, Where: "transport.TCPTransport.Write", Cause: err}
	}
	return nil
}

// Read blocks for up to deadline waiting for bytes. net.Conn natively
// supports per-call deadlines, so unlike SerialTransport this needs no
// polling loop.
func (t *TCPTransport) Read(ctx context.Context, max int, deadline time.Time) ([]byte, error) {
	if t.conn == nil {
		return nil, core.KindError(core.ErrTransportDisconnected)
	}
	if err := t.conn.SetReadDeadline(deadline); err != nil {
		return nil, &core.Error{Kind: core.ErrTransportIO, Where: "transport.TCPTransport.Read", Cause: err}
	}
	buf := make([]byte, max)
	n, err := t.conn.Read(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, &core.Error{Kind: core.ErrTimeout, Where: "transport.TCPTransport.Read", Cause: err}
		}
		return nil, &core.Error{Kind: core.ErrTransportIO, Where: "transport.TCPTransport.Read", Cause: err}
	}
	return buf[:n], nil
}
