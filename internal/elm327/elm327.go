// Package elm327 drives an ELM327-class AT-command adapter: initialization,
// protocol negotiation, and prompt-based request/response framing over a
// line-oriented byte stream. It owns no transport of its own; it is handed
// one that satisfies the Transport interface (see internal/transport) and
// drives it synchronously, matching the teacher's "caller owns the
// serial/TCP connection, driver just talks AT commands over it" shape.
package elm327

import (
	"context"
	"strings"
	"time"

	"github.com/anodyne74/obdcore/core"
)

// Transport is the minimal byte-stream contract the driver needs. The full
// contract (state stream, disconnect) lives in internal/transport; elm327
// only needs read/write so it can be tested against a bare io-like fake.
type Transport interface {
	Write(ctx context.Context, b []byte) error
	Read(ctx context.Context, max int, deadline time.Time) ([]byte, error)
}

// Sentinel response strings the adapter or ECU can emit in place of data.
const (
	sentinelNoData       = "NO DATA"
	sentinelQuestion     = "?"
	sentinelUnableToConn = "UNABLE TO CONNECT"
	sentinelBusInitErr   = "BUS INIT: ERROR"
	sentinelCanError     = "CAN ERROR"
	sentinelBufferFull   = "BUFFER FULL"
	sentinelStopped      = "STOPPED"
	sentinelSearching    = "SEARCHING..."
)

// Options configures the driver's init sequence and per-request behavior.
type Options struct {
	PreferredProtocol core.Protocol // core.ProtocolUnknown means AUTO
	HeadersOn         bool          // ATH1; default true, needed for multi-ECU disambiguation
	ReadTimeout       time.Duration // bound on a single read() call while hunting for '>'
}

// DefaultOptions returns the spec's documented defaults.
func DefaultOptions() Options {
	return Options{HeadersOn: true, ReadTimeout: 2 * time.Second}
}

// WireRecorder persists one raw request/response exchange as it appeared
// on the wire, the boundary internal/journal's SQLiteJournal satisfies.
// Recording is best-effort: a Driver with a recorder set never fails a
// request because the sink is unavailable. The recorder is called
// synchronously inside each request.
type WireRecorder interface {
	RecordWire(sessionID string, sent time.Time, request, response []byte)
}

// Driver owns AT-command initialization and request/response framing for
// one ELM327-class adapter.
type Driver struct {
	transport Transport
	opts      Options
	info      core.AdapterInfo

	recorder  WireRecorder
	sessionID string
}

// New constructs a Driver bound to transport. Call Init before issuing any
// OBD/UDS requests.
func New(transport Transport, opts Options) *Driver {
	return &Driver{transport: transport, opts: opts}
}

// SetRecorder attaches an optional wire-trace sink; every request/response
// cycle sent through sendCommandDeadline afterward is recorded under
// sessionID. Pass a nil recorder to stop recording.
func (d *Driver) SetRecorder(sessionID string, rec WireRecorder) {
	d.sessionID = sessionID
	d.recorder = rec
}

// Info returns the adapter info discovered by the last Init call.
func (d *Driver) Info() core.AdapterInfo { return d.info }

func initErr(step, observed string) error {
	return &core.Error{Kind: core.ErrAdapterInitFailed, Where: "elm327.Init", Reason: step, ObservedRaw: observed}
}

// Init runs the deterministic initialization sequence from spec.md §4.5:
// ATZ, ATE0, ATL0, ATS0, ATH1, ATSP 0 (+ optional forced ATSP n), 0100,
// ATDPN (falling back to ATDP), ATRV. Any failed step aborts with
// ErrAdapterInitFailed carrying the offending step and observed text.
func (d *Driver) Init(ctx context.Context) error {
	reset, err := d.sendCommand(ctx, "ATZ")
	if err != nil {
		return initErr("ATZ", err.Error())
	}
	if !containsAny(reset, "ELM327") {
		return initErr("ATZ", strings.Join(reset, "|"))
	}
	for _, l := range reset {
		if strings.Contains(l, "ELM327") {
			d.info.FirmwareVersion = l
			break
		}
	}

	if _, err := d.expectOK(ctx, "ATE0"); err != nil {
		return initErr("ATE0", err.Error())
	}
	if _, err := d.expectOK(ctx, "ATL0"); err != nil {
		return initErr("ATL0", err.Error())
	}
	if _, err := d.expectOK(ctx, "ATS0"); err != nil {
		return initErr("ATS0", err.Error())
	}
	if d.opts.HeadersOn {
		if _, err := d.expectOK(ctx, "ATH1"); err != nil {
			return initErr("ATH1", err.Error())
		}
	}

	if _, err := d.expectOK(ctx, "ATSP 0"); err != nil {
		return initErr("ATSP 0", err.Error())
	}
	if d.opts.PreferredProtocol != core.ProtocolUnknown {
		id := d.opts.PreferredProtocol.NumericID()
		if id != "" {
			if _, err := d.expectOK(ctx, "ATSP "+id); err != nil {
				return initErr("ATSP "+id, err.Error())
			}
		}
	}

	// Trigger protocol negotiation; ignore the payload, only errors matter.
	if _, err := d.rawRequest(ctx, "0100", d.opts.ReadTimeout); err != nil {
		return &core.Error{Kind: core.ErrNoProtocolNegotiated, Where: "elm327.Init", Cause: err}
	}

	proto, err := d.readElectedProtocol(ctx)
	if err != nil {
		return &core.Error{Kind: core.ErrNoProtocolNegotiated, Where: "elm327.Init", Cause: err}
	}
	d.info.ElectedProtocol = proto
	d.info.SupportsCAN29Bit = proto.DefaultHeaderBits() == 29

	// ATRV (adapter voltage) is informational only; spec.md's AdapterInfo
	// has no field for it, so the reading is requested but discarded.
	_, _ = d.sendCommand(ctx, "ATRV")

	return nil
}

func (d *Driver) readElectedProtocol(ctx context.Context) (core.Protocol, error) {
	lines, err := d.sendCommand(ctx, "ATDPN")
	if err == nil && len(lines) > 0 {
		id := strings.TrimSpace(lines[0])
		id = strings.TrimPrefix(id, "A") // ATDPN prefixes "A" when auto-selected
		if p, ok := core.ProtocolFromNumericID(id); ok {
			return p, nil
		}
	}
	// Fall back to ATDP string matching.
	lines, err = d.sendCommand(ctx, "ATDP")
	if err != nil {
		return core.ProtocolUnknown, err
	}
	joined := strings.ToUpper(strings.Join(lines, " "))
	switch {
	case strings.Contains(joined, "ISO 15765-4") && strings.Contains(joined, "29"):
		return core.ProtocolISO15765CAN29500, nil
	case strings.Contains(joined, "ISO 15765-4"):
		return core.ProtocolISO15765CAN11500, nil
	case strings.Contains(joined, "ISO 14230") && strings.Contains(joined, "FAST"):
		return core.ProtocolISO14230KWPFast, nil
	case strings.Contains(joined, "ISO 14230"):
		return core.ProtocolISO14230KWP5Baud, nil
	case strings.Contains(joined, "ISO 9141"):
		return core.ProtocolISO9141_2, nil
	case strings.Contains(joined, "SAE J1850 PWM"):
		return core.ProtocolJ1850PWM, nil
	case strings.Contains(joined, "SAE J1850 VPW"):
		return core.ProtocolJ1850VPW, nil
	case strings.Contains(joined, "J1939"):
		return core.ProtocolSAEJ1939, nil
	default:
		return core.ProtocolUnknown, &core.Error{Kind: core.ErrUnsupportedProtocol, Where: "elm327.readElectedProtocol", ObservedRaw: joined}
	}
}

// SetHeader sends ATSH <header> to target a specific ECU address, and
// ATCAF1 when 29-bit addressing is in use, per spec.md §4.5's request
// framing rules.
func (d *Driver) SetHeader(ctx context.Context, header string) error {
	if _, err := d.expectOK(ctx, "ATSH "+header); err != nil {
		return initErr("ATSH "+header, err.Error())
	}
	if d.info.SupportsCAN29Bit {
		if _, err := d.expectOK(ctx, "ATCAF1"); err != nil {
			return initErr("ATCAF1", err.Error())
		}
	}
	return nil
}

// Request sends a request PDU as concatenated ASCII hex (no spaces) and
// returns the cleaned, per-line response (one entry per ECU when ATH1 is
// active). "SEARCHING..." lines are dropped, and a request that got back
// nothing else is sent once more; the other sentinel strings surface as
// typed errors.
func (d *Driver) Request(ctx context.Context, hexPDU string) ([]string, error) {
	return d.rawRequest(ctx, hexPDU, d.opts.ReadTimeout)
}

// RequestWithDeadline is Request with an explicit read-window override,
// used by the diagnostic service layer for UDS exchanges that may span a
// 0x78 "response pending" sequence: the ECU keeps emitting lines on the
// same read cycle without a fresh prompt, so widening the window here (to
// P2*-based bounds) lets the caller observe all of them in one response
// rather than reissuing the request.
func (d *Driver) RequestWithDeadline(ctx context.Context, hexPDU string, maxWait time.Duration) ([]string, error) {
	return d.rawRequest(ctx, hexPDU, maxWait)
}

func (d *Driver) rawRequest(ctx context.Context, cmd string, maxWait time.Duration) ([]string, error) {
	lines, err := d.sendCommandDeadline(ctx, cmd, maxWait)
	if err != nil {
		return nil, err
	}
	out, err := d.filterSentinels(lines, true)
	if err == nil && len(out) == 0 && containsAny(lines, sentinelSearching) {
		// Nothing but "SEARCHING..." came back: send the request once more.
		lines, err = d.sendCommandDeadline(ctx, cmd, maxWait)
		if err != nil {
			return nil, err
		}
		return d.filterSentinels(lines, true)
	}
	return out, err
}

// expectOK sends cmd and requires the (sole, or first) response line to be
// exactly "OK".
func (d *Driver) expectOK(ctx context.Context, cmd string) ([]string, error) {
	lines, err := d.sendCommand(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "OK" {
		return lines, &core.Error{Kind: core.ErrAdapterInitFailed, Where: "elm327.expectOK", Reason: cmd, ObservedRaw: strings.Join(lines, "|")}
	}
	return lines, nil
}

// sendCommand writes cmd terminated with \r and reads until the prompt '>'
// appears, cleaning and tokenizing the response into lines.
func (d *Driver) sendCommand(ctx context.Context, cmd string) ([]string, error) {
	return d.sendCommandDeadline(ctx, cmd, d.opts.ReadTimeout)
}

// sendCommandDeadline is sendCommand with an explicit read window instead
// of d.opts.ReadTimeout.
func (d *Driver) sendCommandDeadline(ctx context.Context, cmd string, maxWait time.Duration) ([]string, error) {
	if err := d.transport.Write(ctx, []byte(cmd+"\r")); err != nil {
		return nil, &core.Error{Kind: core.ErrTransportIO, Where: "elm327.sendCommand", Cause: err}
	}

	var raw []byte
	deadline := time.Now().Add(maxWait)
	for {
		chunk, err := d.transport.Read(ctx, 4096, deadline)
		if err != nil {
			return nil, &core.Error{Kind: core.ErrTransportIO, Where: "elm327.sendCommand", Cause: err}
		}
		raw = append(raw, chunk...)
		if containsByte(raw, '>') {
			break
		}
		if time.Now().After(deadline) {
			return nil, &core.Error{Kind: core.ErrTimeout, Where: "elm327.sendCommand", ElapsedMS: maxWait.Milliseconds()}
		}
	}

	lines := cleanResponse(string(raw), cmd)

	if d.recorder != nil {
		d.recorder.RecordWire(d.sessionID, time.Now(), []byte(cmd), []byte(strings.Join(lines, " ")))
	}

	return lines, nil
}

// cleanResponse drops \r, \n, the leading echo of the request line (if the
// adapter didn't honor ATE0 yet), and the trailing prompt, then splits into
// non-empty lines.
func cleanResponse(raw, cmd string) []string {
	raw = strings.ReplaceAll(raw, "\r", "\n")
	lines := strings.Split(raw, "\n")
	var out []string
	for _, l := range lines {
		l = strings.TrimSpace(l)
		l = strings.TrimSuffix(l, ">")
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		if l == cmd {
			continue // echoed request line
		}
		out = append(out, l)
	}
	return out
}

// filterSentinels walks response lines, consuming transient "SEARCHING..."
// lines (rawRequest re-sends, once, a request that returned only those)
// and converting fatal sentinel strings into typed errors.
func (d *Driver) filterSentinels(lines []string, dropSearching bool) ([]string, error) {
	var out []string
	for _, l := range lines {
		switch {
		case strings.HasPrefix(l, sentinelSearching) && dropSearching:
			continue
		case strings.HasPrefix(l, sentinelNoData):
			return nil, &core.Error{Kind: core.ErrNoData, Where: "elm327.filterSentinels", ObservedRaw: l}
		case l == sentinelQuestion:
			return nil, &core.Error{Kind: core.ErrParse, Where: "elm327.filterSentinels", Reason: "adapter did not understand command", ObservedRaw: l}
		case strings.HasPrefix(l, sentinelUnableToConn):
			return nil, &core.Error{Kind: core.ErrNoProtocolNegotiated, Where: "elm327.filterSentinels", ObservedRaw: l}
		case strings.HasPrefix(l, sentinelBusInitErr):
			return nil, &core.Error{Kind: core.ErrBusInit, Where: "elm327.filterSentinels", ObservedRaw: l}
		case strings.HasPrefix(l, sentinelCanError):
			return nil, &core.Error{Kind: core.ErrCan, Where: "elm327.filterSentinels", ObservedRaw: l}
		case strings.HasPrefix(l, sentinelBufferFull):
			return nil, &core.Error{Kind: core.ErrBufferFull, Where: "elm327.filterSentinels", ObservedRaw: l}
		case strings.HasPrefix(l, sentinelStopped):
			return nil, &core.Error{Kind: core.ErrStopped, Where: "elm327.filterSentinels", ObservedRaw: l}
		default:
			out = append(out, l)
		}
	}
	return out, nil
}

func containsAny(lines []string, substr string) bool {
	for _, l := range lines {
		if strings.Contains(l, substr) {
			return true
		}
	}
	return false
}

func containsByte(b []byte, c byte) bool {
	for _, v := range b {
		if v == c {
			return true
		}
	}
	return false
}
