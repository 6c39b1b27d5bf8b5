// Package diagservice implements the OBD-II (modes 01-0A) and UDS (ISO
// 14229 subset) request/response semantics on top of an ELM327-class line
// adapter or a native ISO-TP transport: PDU formatting, response parsing,
// NRC interpretation including the 0x78 "response pending" wait, and the
// transient-error retry policy. It is grounded on the teacher's main.go
// request/response helpers (sendInfoRequest/processInfoResponse,
// sendDTCRequest/processDTCResponse), generalized from single-shot
// raw CAN frames into the full service layer spec.md §4.6 describes.
package diagservice

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anodyne74/obdcore/core"
	"github.com/anodyne74/obdcore/internal/dtccodec"
	"github.com/anodyne74/obdcore/internal/hexcodec"
	"github.com/anodyne74/obdcore/internal/isotp"
	"github.com/anodyne74/obdcore/internal/pidregistry"
)

// Adapter is the line-protocol contract the service layer drives. Both
// elm327.Driver and a native-CAN line shim satisfy it.
type Adapter interface {
	Request(ctx context.Context, hexPDU string) ([]string, error)
	RequestWithDeadline(ctx context.Context, hexPDU string, maxWait time.Duration) ([]string, error)
}

// Options configures retry/timeout behavior, mirroring spec.md §6's
// configuration keys.
type Options struct {
	P2ClientMS        time.Duration
	P2StarMS          time.Duration
	MaxRetries        int
	MaxPendingRepeats int
}

// DefaultOptions returns the spec's documented defaults.
func DefaultOptions() Options {
	return Options{
		P2ClientMS:        1000 * time.Millisecond,
		P2StarMS:          5000 * time.Millisecond,
		MaxRetries:        3,
		MaxPendingRepeats: 10,
	}
}

// Service implements the OBD-II/UDS request surface over an Adapter.
type Service struct {
	adapter Adapter
	opts    Options
}

// New constructs a Service bound to adapter.
func New(adapter Adapter, opts Options) *Service {
	return &Service{adapter: adapter, opts: opts}
}

// transientRetryable reports whether kind qualifies for the retry policy in
// spec.md §4.6: BUS INIT/CAN errors, ISO-TP sequence errors and read
// timeouts are retried (SEARCHING... never reaches this layer: internal/elm327
// consumes it and re-sends the request once); UNABLE TO CONNECT, SECURITY ACCESS DENIED and INVALID KEY are
// fatal for the operation.
func transientRetryable(kind core.ErrorKind) bool {
	switch kind {
	case core.ErrBusInit, core.ErrCan, core.ErrIsoTpSequence, core.ErrTimeout:
		return true
	default:
		return false
	}
}

func asCoreError(err error) (*core.Error, bool) {
	ce, ok := err.(*core.Error)
	return ce, ok
}

// withRetry runs fn up to opts.MaxRetries+1 times, backing off
// exponentially starting at 100ms between attempts, for transient errors.
func (s *Service) withRetry(fn func() ([]string, error)) ([]string, error) {
	backoff := 100 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt <= s.opts.MaxRetries; attempt++ {
		lines, err := fn()
		if err == nil {
			return lines, nil
		}
		lastErr = err
		ce, ok := asCoreError(err)
		if !ok || !transientRetryable(ce.Kind) {
			return nil, err
		}
		if attempt < s.opts.MaxRetries {
			time.Sleep(backoff)
			backoff *= 2
		}
	}
	return nil, lastErr
}

// isHeaderToken reports whether tok looks like an ELM327 ATH1 CAN-ID
// header (3 hex digits for 11-bit addressing, 8 for 29-bit) rather than a
// pair of payload bytes.
func isHeaderToken(tok string) bool {
	if len(tok) != 3 && len(tok) != 8 {
		return false
	}
	for i := 0; i < len(tok); i++ {
		c := tok[i]
		if !((c >= '0' && c <= '9') || (c >= 'A' && c <= 'F') || (c >= 'a' && c <= 'f')) {
			return false
		}
	}
	return true
}

// parseLine strips an optional leading CAN-ID header token from a cleaned
// response line and decodes the remainder to bytes.
func parseLine(line string) ([]byte, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil, nil
	}
	if len(fields) > 1 && isHeaderToken(fields[0]) {
		fields = fields[1:]
	}
	return hexcodec.ASCIIHexToBytes(strings.Join(fields, ""))
}

func concatLines(lines []string) ([]byte, error) {
	var out []byte
	for _, l := range lines {
		b, err := parseLine(l)
		if err != nil {
			return nil, &core.Error{Kind: core.ErrParse, Where: "diagservice.concatLines", Reason: err.Error(), ObservedRaw: l}
		}
		out = append(out, b...)
	}
	return out, nil
}

func negativeResponseError(service, nrc byte) error {
	kind := dtccodec.KindForNRC(nrc)
	return &core.Error{Kind: kind, Where: "diagservice", Service: service, NRC: nrc, Reason: dtccodec.Name(nrc)}
}

// ReadCurrentData implements Mode 01: requests up to 6 PIDs in one PDU (the
// ELM327 concatenates them on CAN) and decodes each in response order.
func (s *Service) ReadCurrentData(ctx context.Context, pids []uint16) (map[uint16]core.EngineeringValue, error) {
	if len(pids) == 0 {
		return nil, &core.Error{Kind: core.ErrInvalidArgument, Where: "diagservice.ReadCurrentData", Reason: "pids"}
	}
	if len(pids) > 6 {
		return nil, &core.Error{Kind: core.ErrInvalidArgument, Where: "diagservice.ReadCurrentData", Reason: "at most 6 PIDs per request"}
	}
	var pdu strings.Builder
	pdu.WriteString("01")
	for _, p := range pids {
		fmt.Fprintf(&pdu, "%02X", p)
	}
	lines, err := s.withRetry(func() ([]string, error) { return s.adapter.Request(ctx, pdu.String()) })
	if err != nil {
		return nil, err
	}
	buf, err := concatLines(lines)
	if err != nil {
		return nil, err
	}
	if len(buf) == 0 || buf[0] != 0x41 {
		return nil, &core.Error{Kind: core.ErrParse, Where: "diagservice.ReadCurrentData", Reason: "missing mode 0x41 response", ObservedRaw: hexcodec.BytesToASCIIHex(buf)}
	}
	buf = buf[1:]
	out := make(map[uint16]core.EngineeringValue, len(pids))
	for len(buf) > 0 {
		pid := uint16(buf[0])
		buf = buf[1:]
		desc, ok := pidregistry.Lookup(0x01, pid)
		if !ok {
			break
		}
		n := desc.DataLengthBytes
		if n == 0 || n > len(buf) {
			break
		}
		v, err := desc.Decode(buf[:n])
		if err != nil {
			return nil, &core.Error{Kind: core.ErrParse, Where: "diagservice.ReadCurrentData", Reason: err.Error()}
		}
		v.Timestamp = timeNow()
		out[pid] = v
		buf = buf[n:]
	}
	return out, nil
}

// ReadFreezeFrame implements Mode 02: same decode as Mode 01 but the
// request and response carry an extra frame-number byte.
func (s *Service) ReadFreezeFrame(ctx context.Context, pid uint16, frameNo byte) (core.EngineeringValue, error) {
	pdu := fmt.Sprintf("02%02X%02X", pid, frameNo)
	lines, err := s.withRetry(func() ([]string, error) { return s.adapter.Request(ctx, pdu) })
	if err != nil {
		return core.EngineeringValue{}, err
	}
	buf, err := concatLines(lines)
	if err != nil {
		return core.EngineeringValue{}, err
	}
	if len(buf) < 3 || buf[0] != 0x42 {
		return core.EngineeringValue{}, &core.Error{Kind: core.ErrParse, Where: "diagservice.ReadFreezeFrame", ObservedRaw: hexcodec.BytesToASCIIHex(buf)}
	}
	desc, ok := pidregistry.Lookup(0x01, pid)
	if !ok {
		return core.EngineeringValue{}, &core.Error{Kind: core.ErrInvalidArgument, Where: "diagservice.ReadFreezeFrame", Reason: "unknown pid"}
	}
	data := buf[3:]
	if len(data) < desc.DataLengthBytes {
		return core.EngineeringValue{}, &core.Error{Kind: core.ErrParse, Where: "diagservice.ReadFreezeFrame", Reason: "short frame data"}
	}
	v, err := desc.Decode(data[:desc.DataLengthBytes])
	if err != nil {
		return core.EngineeringValue{}, &core.Error{Kind: core.ErrParse, Where: "diagservice.ReadFreezeFrame", Reason: err.Error()}
	}
	v.Timestamp = timeNow()
	return v, nil
}

var dtcServiceByKind = map[core.DTCKind]byte{
	core.DTCStored:    0x03,
	core.DTCPending:   0x07,
	core.DTCPermanent: 0x0A,
}

// ReadDTCs implements Mode 03/07/0A.
func (s *Service) ReadDTCs(ctx context.Context, kind core.DTCKind) ([]core.DTC, error) {
	service, ok := dtcServiceByKind[kind]
	if !ok {
		return nil, &core.Error{Kind: core.ErrInvalidArgument, Where: "diagservice.ReadDTCs", Reason: "kind"}
	}
	pdu := fmt.Sprintf("%02X", service)
	lines, err := s.withRetry(func() ([]string, error) { return s.adapter.Request(ctx, pdu) })
	if err != nil {
		return nil, err
	}
	buf, err := concatLines(lines)
	if err != nil {
		return nil, err
	}
	want := service + 0x40
	if len(buf) == 0 || buf[0] != want {
		return nil, &core.Error{Kind: core.ErrParse, Where: "diagservice.ReadDTCs", ObservedRaw: hexcodec.BytesToASCIIHex(buf)}
	}
	buf = buf[1:]
	if len(buf) > 0 {
		count := int(buf[0])
		if len(buf)-1 == count*2 {
			buf = buf[1:]
		}
	}
	return dtccodec.ParseServiceResponse(buf), nil
}

// ClearDTCs implements Mode 04. Sending it twice in a row is idempotent:
// both calls produce the positive 0x44 response.
func (s *Service) ClearDTCs(ctx context.Context) error {
	lines, err := s.withRetry(func() ([]string, error) { return s.adapter.Request(ctx, "04") })
	if err != nil {
		return err
	}
	buf, err := concatLines(lines)
	if err != nil {
		return err
	}
	if len(buf) == 0 || buf[0] != 0x44 {
		return &core.Error{Kind: core.ErrParse, Where: "diagservice.ClearDTCs", ObservedRaw: hexcodec.BytesToASCIIHex(buf)}
	}
	return nil
}

// ReadVIN implements Mode 09 PID 02, reassembling either raw ISO-TP CAN
// frames (header-prefixed, PCI-tagged lines) or an adapter that has already
// auto-reassembled the multi-frame exchange into one line.
func (s *Service) ReadVIN(ctx context.Context) (string, error) {
	lines, err := s.withRetry(func() ([]string, error) { return s.adapter.Request(ctx, "0902") })
	if err != nil {
		return "", err
	}
	full, err := reassembleServiceLines(lines)
	if err != nil {
		return "", err
	}
	if len(full) < 2 || full[0] != 0x49 || full[1] != 0x02 {
		return "", &core.Error{Kind: core.ErrParse, Where: "diagservice.ReadVIN", ObservedRaw: hexcodec.BytesToASCIIHex(full)}
	}
	var assembler hexcodec.VINAssembler
	assembler.AddFragment(full[2:])
	return assembler.VIN(), nil
}

// reassembleServiceLines parses each line as a raw 8-byte ISO-TP CAN
// payload when it looks like one (header-prefixed, length <= 8 bytes of
// payload), feeding an isotp.Engine to reassemble across First/Consecutive
// frames; otherwise it treats every line's bytes as already-reassembled
// application data and concatenates them directly.
func reassembleServiceLines(lines []string) ([]byte, error) {
	engine := isotp.NewEngine(0, 0)
	var sawFrame bool
	for _, l := range lines {
		fields := strings.Fields(l)
		if len(fields) < 2 || !isHeaderToken(fields[0]) {
			continue
		}
		payload, err := hexcodec.ASCIIHexToBytes(strings.Join(fields[1:], ""))
		if err != nil || len(payload) == 0 || len(payload) > 8 {
			continue
		}
		frame, err := isotp.ParseCANPayload(payload)
		if err != nil {
			continue
		}
		sawFrame = true
		res, err := engine.Receive(frame)
		if err != nil {
			return nil, err
		}
		if res.Complete {
			return res.Message, nil
		}
	}
	if sawFrame {
		return nil, &core.Error{Kind: core.ErrParse, Where: "diagservice.reassembleServiceLines", Reason: "incomplete multi-frame response"}
	}
	return concatLines(lines)
}

// DiagnosticSessionControl implements UDS 0x10.
func (s *Service) DiagnosticSessionControl(ctx context.Context, sessionType core.UDSSessionType) (*core.DiagnosticSession, error) {
	pdu := fmt.Sprintf("10%02X", byte(sessionType))
	buf, err := s.udsExchange(ctx, 0x10, pdu)
	if err != nil {
		return nil, err
	}
	_ = buf
	now := timeNow()
	return &core.DiagnosticSession{SessionType: sessionType, StartedAt: now, LastActivity: now}, nil
}

// ECUReset implements UDS 0x11.
func (s *Service) ECUReset(ctx context.Context, resetType byte) error {
	pdu := fmt.Sprintf("11%02X", resetType)
	_, err := s.udsExchange(ctx, 0x11, pdu)
	return err
}

// ClearDiagnosticInformation implements UDS 0x14 for the given 3-byte DTC
// group mask (0xFFFFFF clears all groups).
func (s *Service) ClearDiagnosticInformation(ctx context.Context, group uint32) error {
	pdu := fmt.Sprintf("14%06X", group&0xFFFFFF)
	_, err := s.udsExchange(ctx, 0x14, pdu)
	return err
}

// ReadDTCInformation implements UDS 0x19 reportDTCByStatusMask (sub-function
// 0x02) and reportDTCSnapshot (sub-function 0x04).
func (s *Service) ReadDTCInformation(ctx context.Context, subFunction byte, statusMask byte) ([]core.DTC, error) {
	pdu := fmt.Sprintf("19%02X%02X", subFunction, statusMask)
	buf, err := s.udsExchange(ctx, 0x19, pdu)
	if err != nil {
		return nil, err
	}
	if len(buf) < 3 {
		return nil, &core.Error{Kind: core.ErrParse, Where: "diagservice.ReadDTCInformation", ObservedRaw: hexcodec.BytesToASCIIHex(buf)}
	}
	// buf is SID(0x59) + subFunction + DTCStatusAvailabilityMask + records.
	return dtccodec.ParseUDSDTCList(buf[3:]), nil
}

// ReadDataByIdentifier implements UDS 0x22, absorbing any 0x78 response
// pending sequence internally per spec.md §4.6.
func (s *Service) ReadDataByIdentifier(ctx context.Context, did uint16) ([]byte, error) {
	pdu := fmt.Sprintf("22%04X", did)
	buf, err := s.udsExchange(ctx, 0x22, pdu)
	if err != nil {
		return nil, err
	}
	if len(buf) < 3 || buf[0] != 0x62 {
		return nil, &core.Error{Kind: core.ErrParse, Where: "diagservice.ReadDataByIdentifier", ObservedRaw: hexcodec.BytesToASCIIHex(buf)}
	}
	return buf[3:], nil
}

// KeyFunc computes a security-access key from the ECU-provided seed. It is
// an injected pluggable function: cryptographic key derivation for
// manufacturer security access is out of scope for this package.
type KeyFunc func(seed []byte) []byte

// SecurityAccess implements UDS 0x27: requestSeed (odd sub-function),
// followed by sendKey (sub-function+1) with keyFn(seed).
func (s *Service) SecurityAccess(ctx context.Context, level byte, keyFn KeyFunc) error {
	seedBuf, err := s.udsExchange(ctx, 0x27, fmt.Sprintf("27%02X", level))
	if err != nil {
		return err
	}
	if len(seedBuf) < 2 {
		return &core.Error{Kind: core.ErrParse, Where: "diagservice.SecurityAccess", ObservedRaw: hexcodec.BytesToASCIIHex(seedBuf)}
	}
	seed := seedBuf[2:]
	key := keyFn(seed)
	pdu := fmt.Sprintf("27%02X%s", level+1, hexcodec.BytesToASCIIHex(key))
	_, err = s.udsExchange(ctx, 0x27, pdu)
	return err
}

// WriteDataByIdentifier implements UDS 0x2E.
func (s *Service) WriteDataByIdentifier(ctx context.Context, did uint16, data []byte) error {
	pdu := fmt.Sprintf("2E%04X%s", did, hexcodec.BytesToASCIIHex(data))
	_, err := s.udsExchange(ctx, 0x2E, pdu)
	return err
}

// RoutineControl implements UDS 0x31.
func (s *Service) RoutineControl(ctx context.Context, subFunction byte, routineID uint16, data []byte) ([]byte, error) {
	pdu := fmt.Sprintf("31%02X%04X%s", subFunction, routineID, hexcodec.BytesToASCIIHex(data))
	buf, err := s.udsExchange(ctx, 0x31, pdu)
	if err != nil {
		return nil, err
	}
	if len(buf) <= 4 {
		return nil, nil
	}
	return buf[4:], nil
}

// TesterPresent implements UDS 0x3E. Sub-function 0x80 (suppressPosRspMsgIndicationBit)
// is side-effect-free: the ECU sends no response, so this waits only for
// the adapter's prompt and treats its NO DATA reply as success.
func (s *Service) TesterPresent(ctx context.Context, subFunction byte) error {
	pdu := fmt.Sprintf("3E%02X", subFunction)
	if subFunction&0x80 != 0 {
		_, err := s.adapter.Request(ctx, pdu)
		if ce, ok := asCoreError(err); ok && ce.Kind == core.ErrNoData {
			return nil
		}
		return err
	}
	_, err := s.udsExchange(ctx, 0x3E, pdu)
	return err
}

// udsExchange sends a UDS request with a read window wide enough to cover
// up to MaxPendingRepeats 0x78 cycles (the ECU keeps emitting lines on the
// same read cycle; the adapter only prints its prompt once a final
// response or its own timeout arrives), then walks the returned lines in
// order: each `7F <service> 78` line re-arms the pending count and is
// skipped, any other NRC fails immediately, and the first positive
// `<service+0x40> ...` line is returned.
func (s *Service) udsExchange(ctx context.Context, service byte, pdu string) ([]byte, error) {
	maxWait := s.opts.P2ClientMS + time.Duration(s.opts.MaxPendingRepeats)*s.opts.P2StarMS
	lines, err := s.withRetry(func() ([]string, error) { return s.adapter.RequestWithDeadline(ctx, pdu, maxWait) })
	if err != nil {
		return nil, err
	}
	pending := 0
	for _, l := range lines {
		buf, err := parseLine(l)
		if err != nil || len(buf) == 0 {
			continue
		}
		if len(buf) >= 3 && buf[0] == 0x7F && buf[1] == service {
			if buf[2] == 0x78 {
				pending++
				if pending > s.opts.MaxPendingRepeats {
					return nil, &core.Error{Kind: core.ErrTimeout, Where: "diagservice.udsExchange", Reason: "exceeded max_pending_repeats"}
				}
				continue
			}
			return nil, negativeResponseError(service, buf[2])
		}
		if buf[0] == service+0x40 {
			return buf, nil
		}
	}
	return nil, &core.Error{Kind: core.ErrNoData, Where: "diagservice.udsExchange", Reason: "no positive response observed"}
}

// timeNow is overridable in tests that need deterministic timestamps.
var timeNow = time.Now
