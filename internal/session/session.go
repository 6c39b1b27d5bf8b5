// Package session implements the single-owner command queue that
// serializes every diagnostic request onto one adapter: FIFO ordering,
// per-request deadlines, cancellation (without draining the adapter's
// stream), and a
// tester-present keep-alive that interleaves without ever preempting a
// user request. It is grounded on the teacher's main.go worker-loop shape
// (a goroutine draining a buffered channel, a time.Ticker driving a
// periodic side activity) generalized from a hard-coded telemetry poll
// into the spec's generic submit/cancel contract.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/anodyne74/obdcore/core"
)

// Work is one unit of exclusive adapter access. Implementations should
// respect ctx's deadline/cancellation on every suspension point.
type Work func(ctx context.Context) (interface{}, error)

// TesterPresentFunc sends a keep-alive tester-present (or ATMA) request.
// KeepAliveStart discards its errors: a failed
// keep-alive must never fail a user's in-flight or queued request.
type TesterPresentFunc func(ctx context.Context) error

type job struct {
	ctx      context.Context
	deadline time.Time
	work     Work
	result   chan jobResult
}

type jobResult struct {
	val interface{}
	err error
}

// Manager owns the single job queue and the one goroutine permitted to
// touch the transport, per spec.md's shared-resource policy.
type Manager struct {
	jobs chan *job
	stop chan struct{}
	wg   sync.WaitGroup

	keepAliveMu   sync.Mutex
	keepAliveStop chan struct{}
	tester        TesterPresentFunc
}

// NewManager starts the worker goroutine and returns a ready Manager.
// queueDepth bounds how many callers may have a Submit pending before
// Submit itself blocks; 0 selects a reasonable default.
func NewManager(queueDepth int) *Manager {
	if queueDepth <= 0 {
		queueDepth = 16
	}
	m := &Manager{
		jobs: make(chan *job, queueDepth),
		stop: make(chan struct{}),
	}
	m.wg.Add(1)
	go m.run()
	return m
}

func (m *Manager) run() {
	defer m.wg.Done()
	for {
		select {
		case j := <-m.jobs:
			m.execute(j)
		case <-m.stop:
			return
		}
	}
}

func (m *Manager) execute(j *job) {
	if j.ctx.Err() != nil {
		j.result <- jobResult{err: deadlineErr(j.ctx)}
		return
	}
	val, err := j.work(j.ctx)
	// A work func that observes ctx expiring mid-flight typically returns
	// ctx.Err() directly (context.DeadlineExceeded/Canceled) rather than a
	// typed *core.Error; normalize it here so Submit's caller always sees
	// the same typed error regardless of which select branch resolved
	// first.
	if j.ctx.Err() != nil {
		if _, ok := err.(*core.Error); !ok {
			err = deadlineErr(j.ctx)
		}
	}
	j.result <- jobResult{val: val, err: err}
}

// Submit enqueues work and blocks the calling goroutine until it runs and
// completes, the deadline passes, or ctx is cancelled. Only one job ever
// executes at a time; ordering across concurrent Submit callers is FIFO by
// channel-send order.
func (m *Manager) Submit(ctx context.Context, deadline time.Time, work Work) (interface{}, error) {
	dctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	j := &job{ctx: dctx, deadline: deadline, work: work, result: make(chan jobResult, 1)}

	select {
	case m.jobs <- j:
	case <-dctx.Done():
		return nil, deadlineErr(dctx)
	}

	select {
	case r := <-j.result:
		return r.val, r.err
	case <-dctx.Done():
		// The job may still be queued or mid-flight. A queued job is
		// skipped: execute() observes dctx.Err() and reports
		// Cancelled/Timeout itself. A running job is left to finish. The
		// manager never touches the transport, so response bytes a
		// cancelled job leaves unread are not drained before the next job.
		// This caller does not wait for any of that; it has already timed out.
		return nil, deadlineErr(dctx)
	}
}

func deadlineErr(ctx context.Context) error {
	if ctx.Err() == context.DeadlineExceeded {
		return &core.Error{Kind: core.ErrTimeout, Where: "session.Manager.Submit"}
	}
	return &core.Error{Kind: core.ErrCancelled, Where: "session.Manager.Submit", Cause: ctx.Err()}
}

// Close stops the worker goroutine once any in-flight job finishes and
// stops keep-alive if running.
func (m *Manager) Close() {
	m.KeepAliveStop()
	close(m.stop)
	m.wg.Wait()
}

// KeepAliveStart begins sending tester-present via fn every interval,
// enqueued as an ordinary low-priority job on the same FIFO queue so it
// can never preempt a caller's in-flight or already-queued request.
func (m *Manager) KeepAliveStart(interval time.Duration, fn TesterPresentFunc) {
	m.keepAliveMu.Lock()
	defer m.keepAliveMu.Unlock()
	if m.keepAliveStop != nil {
		close(m.keepAliveStop)
	}
	m.tester = fn
	stop := make(chan struct{})
	m.keepAliveStop = stop

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				deadline := time.Now().Add(interval)
				_, _ = m.Submit(context.Background(), deadline, func(ctx context.Context) (interface{}, error) {
					return nil, fn(ctx)
				})
			case <-stop:
				return
			}
		}
	}()
}

// KeepAliveStop halts the keep-alive goroutine, if running.
func (m *Manager) KeepAliveStop() {
	m.keepAliveMu.Lock()
	defer m.keepAliveMu.Unlock()
	if m.keepAliveStop != nil {
		close(m.keepAliveStop)
		m.keepAliveStop = nil
	}
}
