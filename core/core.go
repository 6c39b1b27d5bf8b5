// Package core holds the small value types shared across the diagnostic
// protocol stack: error kinds, protocol identifiers, engineering values and
// transport connection state. None of these types touch I/O.
package core

import (
	"fmt"
	"time"
)

// ErrorKind is the closed set of error categories the core can surface.
type ErrorKind int

const (
	ErrTransportDisconnected ErrorKind = iota
	ErrTransportIO
	ErrTimeout
	ErrAdapterInitFailed
	ErrNoProtocolNegotiated
	ErrUnsupportedProtocol
	ErrParse
	ErrIsoTpSequence
	ErrIsoTpOverflow
	ErrIsoTpUnexpectedFlowControl
	ErrNoData
	ErrBusInit
	ErrCan
	ErrBufferFull
	ErrStopped
	ErrNegativeResponse
	ErrSecurityAccessDenied
	ErrInvalidKey
	ErrConditionsNotCorrect
	ErrRequestOutOfRange
	ErrCancelled
	ErrInvalidArgument
)

func (k ErrorKind) String() string {
	switch k {
	case ErrTransportDisconnected:
		return "TransportDisconnected"
	case ErrTransportIO:
		return "TransportIo"
	case ErrTimeout:
		return "Timeout"
	case ErrAdapterInitFailed:
		return "AdapterInitFailed"
	case ErrNoProtocolNegotiated:
		return "NoProtocolNegotiated"
	case ErrUnsupportedProtocol:
		return "UnsupportedProtocol"
	case ErrParse:
		return "Parse"
	case ErrIsoTpSequence:
		return "IsoTpSequenceError"
	case ErrIsoTpOverflow:
		return "IsoTpOverflow"
	case ErrIsoTpUnexpectedFlowControl:
		return "IsoTpUnexpectedFlowControl"
	case ErrNoData:
		return "NoData"
	case ErrBusInit:
		return "BusInitError"
	case ErrCan:
		return "CanError"
	case ErrBufferFull:
		return "BufferFull"
	case ErrStopped:
		return "Stopped"
	case ErrNegativeResponse:
		return "NegativeResponse"
	case ErrSecurityAccessDenied:
		return "SecurityAccessDenied"
	case ErrInvalidKey:
		return "InvalidKey"
	case ErrConditionsNotCorrect:
		return "ConditionsNotCorrect"
	case ErrRequestOutOfRange:
		return "RequestOutOfRange"
	case ErrCancelled:
		return "Cancelled"
	case ErrInvalidArgument:
		return "InvalidArgument"
	default:
		return "Unknown"
	}
}

// Error is the core's error type. It carries enough context (service id,
// last bytes observed, elapsed time) to debug without reproduction, per
// the error handling design.
type Error struct {
	Kind        ErrorKind
	Where       string
	Reason      string
	Service     byte
	NRC         byte
	ObservedRaw string
	ElapsedMS   int64
	Cause       error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s", e.Kind)
	if e.Where != "" {
		msg += fmt.Sprintf(" in %s", e.Where)
	}
	if e.Reason != "" {
		msg += fmt.Sprintf(": %s", e.Reason)
	}
	if e.ObservedRaw != "" {
		msg += fmt.Sprintf(" (observed %q)", e.ObservedRaw)
	}
	if e.ElapsedMS > 0 {
		msg += fmt.Sprintf(" after %dms", e.ElapsedMS)
	}
	if e.Cause != nil {
		msg += fmt.Sprintf(": %v", e.Cause)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

// Is allows errors.Is(err, core.KindError(ErrTimeout)) style comparisons.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

// KindError builds a bare *Error carrying only a kind, useful as an
// errors.Is sentinel.
func KindError(kind ErrorKind) *Error {
	return &Error{Kind: kind}
}

// Protocol is the enumerated adapter protocol kind (spec.md Protocol kind).
type Protocol int

const (
	ProtocolUnknown Protocol = iota
	ProtocolJ1850PWM
	ProtocolJ1850VPW
	ProtocolISO9141_2
	ProtocolISO14230KWP5Baud
	ProtocolISO14230KWPFast
	ProtocolISO15765CAN11500
	ProtocolISO15765CAN29500
	ProtocolISO15765CAN11250
	ProtocolISO15765CAN29250
	ProtocolSAEJ1939
)

// elmNumeric maps a Protocol to the digit/letter ATSP/ATDPN expects.
var elmNumeric = map[Protocol]string{
	ProtocolJ1850PWM:         "1",
	ProtocolJ1850VPW:         "2",
	ProtocolISO9141_2:        "3",
	ProtocolISO14230KWP5Baud: "4",
	ProtocolISO14230KWPFast:  "5",
	ProtocolISO15765CAN11500: "6",
	ProtocolISO15765CAN29500: "7",
	ProtocolISO15765CAN11250: "8",
	ProtocolISO15765CAN29250: "9",
	ProtocolSAEJ1939:         "A",
}

var numericToElm = func() map[string]Protocol {
	m := make(map[string]Protocol, len(elmNumeric))
	for p, s := range elmNumeric {
		m[s] = p
	}
	return m
}()

// NumericID returns the single character ATSP/ATDPN uses for this protocol.
func (p Protocol) NumericID() string { return elmNumeric[p] }

// ProtocolFromNumericID maps an ATDPN digit/letter back to a Protocol.
func ProtocolFromNumericID(s string) (Protocol, bool) {
	p, ok := numericToElm[s]
	return p, ok
}

// IsCAN reports whether the protocol runs over a CAN physical layer.
func (p Protocol) IsCAN() bool {
	switch p {
	case ProtocolISO15765CAN11500, ProtocolISO15765CAN29500,
		ProtocolISO15765CAN11250, ProtocolISO15765CAN29250:
		return true
	default:
		return false
	}
}

// DefaultHeaderBits returns 11 or 29 for CAN protocols, 0 otherwise.
func (p Protocol) DefaultHeaderBits() int {
	switch p {
	case ProtocolISO15765CAN29500, ProtocolISO15765CAN29250:
		return 29
	case ProtocolISO15765CAN11500, ProtocolISO15765CAN11250:
		return 11
	default:
		return 0
	}
}

func (p Protocol) String() string {
	switch p {
	case ProtocolJ1850PWM:
		return "J1850_PWM"
	case ProtocolJ1850VPW:
		return "J1850_VPW"
	case ProtocolISO9141_2:
		return "ISO_9141_2"
	case ProtocolISO14230KWP5Baud:
		return "ISO_14230_KWP_5BAUD"
	case ProtocolISO14230KWPFast:
		return "ISO_14230_KWP_FAST"
	case ProtocolISO15765CAN11500:
		return "ISO_15765_CAN_11_500"
	case ProtocolISO15765CAN29500:
		return "ISO_15765_CAN_29_500"
	case ProtocolISO15765CAN11250:
		return "ISO_15765_CAN_11_250"
	case ProtocolISO15765CAN29250:
		return "ISO_15765_CAN_29_250"
	case ProtocolSAEJ1939:
		return "SAE_J1939"
	default:
		return "UNKNOWN"
	}
}

// AdapterInfo describes the state of the connected ELM327-class adapter.
type AdapterInfo struct {
	FirmwareVersion          string
	ElectedProtocol          Protocol
	SupportsCAN29Bit         bool
	SupportsExtendedAddr     bool
	NegotiatedBaud           int
}

// TransportStateKind enumerates the transport connection lifecycle.
type TransportStateKind int

const (
	Disconnected TransportStateKind = iota
	Connecting
	Connected
	TransportError
)

// TransportState is a value published on a transport's state stream.
type TransportState struct {
	Kind        TransportStateKind
	Message     string
	Recoverable bool
}

func (s TransportState) String() string {
	switch s.Kind {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case TransportError:
		return fmt.Sprintf("Error{%s, recoverable=%v}", s.Message, s.Recoverable)
	default:
		return "Unknown"
	}
}

// ValueKind tags the variant carried by an EngineeringValue.
type ValueKind int

const (
	KindScalar ValueKind = iota
	KindText
	KindBitfield
	KindBytes
)

// EngineeringValue is the decoded result of a PidDescriptor's decoder,
// timestamped on production.
type EngineeringValue struct {
	Kind      ValueKind
	Scalar    float64
	Unit      string
	Text      string
	Bitfield  uint64
	Bytes     []byte
	Timestamp time.Time
}

// DTCCategory is the first-nibble-derived category of a DTC.
type DTCCategory byte

const (
	CategoryPowertrain DTCCategory = 'P'
	CategoryChassis    DTCCategory = 'C'
	CategoryBody       DTCCategory = 'B'
	CategoryNetwork    DTCCategory = 'U'
)

// DTC is a decoded diagnostic trouble code.
type DTC struct {
	Code       string
	RawWord    uint16
	StatusByte byte // UDS only
	Category   DTCCategory
}

// DTCKind distinguishes which service produced a DTC read.
type DTCKind int

const (
	DTCStored DTCKind = iota
	DTCPending
	DTCPermanent
)

// UDSSessionType enumerates the UDS diagnostic session types.
type UDSSessionType byte

const (
	SessionDefault      UDSSessionType = 0x01
	SessionProgramming  UDSSessionType = 0x02
	SessionExtended     UDSSessionType = 0x03
	SessionSafetySystem UDSSessionType = 0x04
)

// DiagnosticSession tracks UDS session state.
type DiagnosticSession struct {
	SessionType       UDSSessionType
	SecurityLevel     byte
	StartedAt         time.Time
	LastActivity      time.Time
	KeepAliveInterval time.Duration
}
