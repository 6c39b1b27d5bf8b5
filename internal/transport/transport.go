// Package transport implements the byte-oriented transport contract
// diagnostic sessions run over (serial, TCP, and an in-memory mock for
// tests) plus the observable connection-state stream. It generalizes the
// teacher's internal/transport package, which hard-wired a single
// elmobd.Device, into the connect/disconnect/write/read(deadline)/state
// contract spec.md §6 requires.
package transport

import (
	"context"
	"sync"
	"time"

	"github.com/anodyne74/obdcore/core"
)

// Transport is the contract the session manager drives. It is owned
// exclusively by the session manager while open; no other component may
// read or write it directly.
type Transport interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Write(ctx context.Context, b []byte) error
	Read(ctx context.Context, max int, deadline time.Time) ([]byte, error)
	// States returns a channel that receives every state transition.
	// Implementations must not block sending on it; a subscriber that does
	// not drain it loses its oldest undelivered states.
	States() <-chan core.TransportState
}

// stateBroadcaster is embedded by concrete transports to publish their
// connection state without blocking on slow subscribers.
type stateBroadcaster struct {
	mu      sync.Mutex
	current core.TransportState
	subs    []chan core.TransportState
}

// States implements the Transport interface's observable state stream.
func (b *stateBroadcaster) States() <-chan core.TransportState {
	return b.subscribe()
}

func (b *stateBroadcaster) subscribe() <-chan core.TransportState {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan core.TransportState, 8)
	ch <- b.current
	b.subs = append(b.subs, ch)
	return ch
}

func (b *stateBroadcaster) publish(s core.TransportState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = s
	for _, ch := range b.subs {
		select {
		case ch <- s:
		default:
			// Slow subscriber: drop the oldest state rather than block
			// the transport's own goroutine.
			select {
			case <-ch:
				ch <- s
			default:
			}
		}
	}
}
