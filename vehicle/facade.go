// Package vehicle is the public facade composing the protocol stack into
// the small set of verbs a caller actually wants: detect the adapter, read
// and clear trouble codes, stream live data, read a freeze frame, read the
// VIN, read readiness monitor status. It mirrors the teacher's top-level
// vehicle/ package in spirit (a public API a UI or CLI drives) but here it
// is thin orchestration over internal/diagservice and internal/session,
// not a VIN/Profile registry.
package vehicle

import (
	"context"
	"time"

	"github.com/anodyne74/obdcore/core"
	"github.com/anodyne74/obdcore/internal/diagservice"
	"github.com/anodyne74/obdcore/internal/elm327"
	"github.com/anodyne74/obdcore/internal/session"
)

// Options configures the facade's default per-request deadline.
type Options struct {
	RequestDeadline time.Duration
}

// DefaultOptions returns a 10s per-request deadline. At the diagservice
// layer's defaults a 0x78 response-pending sequence may run up to 51s (P2
// of 1s plus ten P2* re-arms of 5s); this deadline ends it after 10s.
func DefaultOptions() Options {
	return Options{RequestDeadline: 10 * time.Second}
}

// Facade composes one adapter's driver and service layer behind the
// session manager, the single owner of the transport.
type Facade struct {
	mgr    *session.Manager
	driver *elm327.Driver
	svc    *diagservice.Service
	opts   Options
}

// New builds a Facade. mgr, driver and svc must share the same underlying
// transport/adapter; the facade never touches either directly, only
// through mgr.Submit.
func New(mgr *session.Manager, driver *elm327.Driver, svc *diagservice.Service, opts Options) *Facade {
	return &Facade{mgr: mgr, driver: driver, svc: svc, opts: opts}
}

func (f *Facade) deadline() time.Time {
	return time.Now().Add(f.opts.RequestDeadline)
}

// Detect runs the adapter's init sequence (ATZ...protocol negotiation) and
// returns the discovered AdapterInfo, per spec.md §4.8's detect().
func (f *Facade) Detect(ctx context.Context) (core.AdapterInfo, error) {
	v, err := f.mgr.Submit(ctx, f.deadline(), func(ctx context.Context) (interface{}, error) {
		if err := f.driver.Init(ctx); err != nil {
			return nil, err
		}
		return f.driver.Info(), nil
	})
	if err != nil {
		return core.AdapterInfo{}, err
	}
	return v.(core.AdapterInfo), nil
}

// ReadTroubleCodes reads stored, pending, or permanent DTCs (Mode 03/07/0A).
func (f *Facade) ReadTroubleCodes(ctx context.Context, kind core.DTCKind) ([]core.DTC, error) {
	v, err := f.mgr.Submit(ctx, f.deadline(), func(ctx context.Context) (interface{}, error) {
		return f.svc.ReadDTCs(ctx, kind)
	})
	if err != nil {
		return nil, err
	}
	return v.([]core.DTC), nil
}

// ClearTroubleCodes clears stored DTCs (Mode 04).
func (f *Facade) ClearTroubleCodes(ctx context.Context) error {
	_, err := f.mgr.Submit(ctx, f.deadline(), func(ctx context.Context) (interface{}, error) {
		return nil, f.svc.ClearDTCs(ctx)
	})
	return err
}

// ReadFreezeFrame reads one PID's value from freeze frame frameNo (Mode 02).
func (f *Facade) ReadFreezeFrame(ctx context.Context, pid uint16, frameNo byte) (core.EngineeringValue, error) {
	v, err := f.mgr.Submit(ctx, f.deadline(), func(ctx context.Context) (interface{}, error) {
		return f.svc.ReadFreezeFrame(ctx, pid, frameNo)
	})
	if err != nil {
		return core.EngineeringValue{}, err
	}
	return v.(core.EngineeringValue), nil
}

// ReadVIN reads the vehicle identification number (Mode 09 PID 02).
func (f *Facade) ReadVIN(ctx context.Context) (string, error) {
	v, err := f.mgr.Submit(ctx, f.deadline(), func(ctx context.Context) (interface{}, error) {
		return f.svc.ReadVIN(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// ReadReadinessMonitors reads and decodes Mode 01 PID 01, the MIL status,
// stored DTC count, and continuous/non-continuous monitor support and
// completion state.
func (f *Facade) ReadReadinessMonitors(ctx context.Context) (ReadinessMonitors, error) {
	v, err := f.mgr.Submit(ctx, f.deadline(), func(ctx context.Context) (interface{}, error) {
		return f.svc.ReadCurrentData(ctx, []uint16{0x01})
	})
	if err != nil {
		return ReadinessMonitors{}, err
	}
	values := v.(map[uint16]core.EngineeringValue)
	ev, ok := values[0x01]
	if !ok {
		return ReadinessMonitors{}, &core.Error{Kind: core.ErrNoData, Where: "vehicle.ReadReadinessMonitors", Reason: "pid 0x01 missing from response"}
	}
	return decodeReadiness(uint32(ev.Bitfield)), nil
}

// Snapshot is one tick of StreamLiveData's output: either a decoded PID
// value set or the error encountered obtaining one.
type Snapshot struct {
	Values    map[uint16]core.EngineeringValue
	Timestamp time.Time
	Err       error
}

// StreamLiveData returns a channel emitting a Snapshot every interval for
// as long as ctx is not cancelled, per spec.md §4.8's "lazy sequence of
// snapshots, infinite, cancellable". The channel is closed once ctx is
// done; a Submit error on one tick is reported on that Snapshot without
// stopping the stream, since a transient read failure should not silence
// the rest of the session.
func (f *Facade) StreamLiveData(ctx context.Context, pids []uint16, interval time.Duration) <-chan Snapshot {
	out := make(chan Snapshot)
	go func() {
		defer close(out)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				snap := Snapshot{Timestamp: time.Now()}
				v, err := f.mgr.Submit(ctx, f.deadline(), func(ctx context.Context) (interface{}, error) {
					return f.svc.ReadCurrentData(ctx, pids)
				})
				if err != nil {
					snap.Err = err
				} else {
					snap.Values = v.(map[uint16]core.EngineeringValue)
				}
				select {
				case out <- snap:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
