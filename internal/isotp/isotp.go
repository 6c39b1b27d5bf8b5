// Package isotp implements the ISO 15765-2 transport protocol: framing of
// diagnostic messages into 8-byte CAN frames with flow control, and
// reassembly of multi-frame messages back into a single payload. The state
// machine is kept per (txID, rxID) pair by the caller; this package exposes
// one Engine per pair.
package isotp

import (
	"fmt"
	"time"

	"github.com/anodyne74/obdcore/core"
)

// FrameKind tags the variant carried by a Frame.
type FrameKind int

const (
	Single FrameKind = iota
	First
	Consecutive
	FlowControl
)

// FlowStatus is the status nibble of a FlowControl frame.
type FlowStatus int

const (
	CTS FlowStatus = iota
	Wait
	Overflow
)

// Frame is a tagged variant of the four ISO-TP PCI frame types.
type Frame struct {
	Kind FrameKind

	// Single
	Data []byte

	// First
	TotalLength int
	HeadData    []byte

	// Consecutive
	SequenceNibble byte
	ConsecData     []byte

	// FlowControl
	Status           FlowStatus
	BlockSize        byte
	SeparationTimeMS float64
}

const maxTotalLength = 4095

// ParseCANPayload decodes an 8-byte CAN frame payload into an isotp Frame
// per the PCI nibble layout in spec.md §6.
func ParseCANPayload(payload []byte) (Frame, error) {
	if len(payload) == 0 {
		return Frame{}, fmt.Errorf("isotp: empty CAN payload")
	}
	pci := payload[0] >> 4
	switch pci {
	case 0: // Single
		length := int(payload[0] & 0x0F)
		if length == 0 || length+1 > len(payload) {
			return Frame{}, fmt.Errorf("isotp: invalid single-frame length %d", length)
		}
		return Frame{Kind: Single, Data: append([]byte(nil), payload[1:1+length]...)}, nil
	case 1: // First
		if len(payload) < 2 {
			return Frame{}, fmt.Errorf("isotp: short first-frame")
		}
		total := (int(payload[0]&0x0F) << 8) | int(payload[1])
		return Frame{Kind: First, TotalLength: total, HeadData: append([]byte(nil), payload[2:]...)}, nil
	case 2: // Consecutive
		seq := payload[0] & 0x0F
		return Frame{Kind: Consecutive, SequenceNibble: seq, ConsecData: append([]byte(nil), payload[1:]...)}, nil
	case 3: // FlowControl
		if len(payload) < 3 {
			return Frame{}, fmt.Errorf("isotp: short flow-control frame")
		}
		status := FlowStatus(payload[0] & 0x0F)
		return Frame{
			Kind:             FlowControl,
			Status:           status,
			BlockSize:        payload[1],
			SeparationTimeMS: DecodeSTmin(payload[2]),
		}, nil
	default:
		return Frame{}, fmt.Errorf("isotp: unknown PCI nibble %d", pci)
	}
}

// DecodeSTmin converts the wire STmin byte into milliseconds. 0xF1..0xF9 are
// 100..900 microseconds; 0x00..0x7F are direct milliseconds; all other
// values are invalid and treated as 127ms.
func DecodeSTmin(b byte) float64 {
	switch {
	case b <= 0x7F:
		return float64(b)
	case b >= 0xF1 && b <= 0xF9:
		return float64(b-0xF0) * 0.1
	default:
		return 127
	}
}

// EncodeSingle builds the CAN payload for a <=7 byte message.
func EncodeSingle(data []byte) ([8]byte, error) {
	if len(data) == 0 || len(data) > 7 {
		return [8]byte{}, fmt.Errorf("isotp: single frame data must be 1..7 bytes, got %d", len(data))
	}
	var out [8]byte
	out[0] = byte(len(data))
	copy(out[1:], data)
	return out, nil
}

// Segment splits a message into the CAN frames needed to transmit it: a
// First frame followed by Consecutive frames with sequence nibbles
// 1,2,...,F,0,1,... Messages of 7 bytes or fewer use a Single frame
// instead (handled by the caller via EncodeSingle).
func Segment(data []byte) ([8]byte, [][8]byte, error) {
	if len(data) > maxTotalLength {
		return [8]byte{}, nil, fmt.Errorf("isotp: message too long: %d > %d", len(data), maxTotalLength)
	}
	var first [8]byte
	first[0] = 0x10 | byte((len(data)>>8)&0x0F)
	first[1] = byte(len(data))
	n := copy(first[2:], data)

	rest := data[n:]
	var frames [][8]byte
	seq := byte(1)
	for len(rest) > 0 {
		var f [8]byte
		f[0] = 0x20 | seq
		chunk := rest
		if len(chunk) > 7 {
			chunk = chunk[:7]
		}
		copy(f[1:], chunk)
		frames = append(frames, f)
		rest = rest[len(chunk):]
		seq = (seq + 1) & 0x0F // wraps 1->2->...->F->0 per spec.md
	}
	return first, frames, nil
}

// EncodeFlowControl builds the flow-control CAN payload.
func EncodeFlowControl(status FlowStatus, blockSize byte, stMinMS float64) [8]byte {
	var out [8]byte
	out[0] = 0x30 | byte(status)
	out[1] = blockSize
	out[2] = encodeSTmin(stMinMS)
	return out
}

func encodeSTmin(ms float64) byte {
	switch {
	case ms <= 0:
		return 0
	case ms < 1:
		b := byte(ms*10) + 0xF0
		if b < 0xF1 {
			b = 0xF1
		}
		if b > 0xF9 {
			b = 0xF9
		}
		return b
	case ms > 127:
		return 0x7F
	default:
		return byte(ms)
	}
}

// receiveState is the engine's reception-side state.
type receiveState int

const (
	rxIdle receiveState = iota
	rxReceiving
)

// Engine is the per (txID, rxID) ISO-TP state machine. It is not safe for
// concurrent use; the session manager serializes access to it the same way
// it serializes transport access.
type Engine struct {
	TxID, RxID uint32

	// FlowControlDeadline is how quickly a First frame must be answered
	// with a FlowControl CTS frame (default 10ms per spec.md §4.4).
	FlowControlDeadline time.Duration

	rxState  receiveState
	expected int
	buffer   []byte
	nextSeq  byte
}

// NewEngine constructs an Engine with the default 10ms flow-control
// deadline.
func NewEngine(txID, rxID uint32) *Engine {
	return &Engine{TxID: txID, RxID: rxID, FlowControlDeadline: 10 * time.Millisecond}
}

// ReceiveResult is returned by Receive on each frame fed to the engine.
type ReceiveResult struct {
	// Complete is true when Message holds a fully reassembled payload.
	Complete bool
	Message  []byte
	// NeedFlowControl is true when the caller must immediately transmit
	// a FlowControl frame (CTS, BS=0, STmin=0) within FlowControlDeadline.
	NeedFlowControl bool
}

// Receive feeds one parsed CAN frame into the reassembler.
func (e *Engine) Receive(f Frame) (ReceiveResult, error) {
	switch f.Kind {
	case Single:
		e.reset()
		return ReceiveResult{Complete: true, Message: f.Data}, nil

	case First:
		e.rxState = rxReceiving
		e.expected = f.TotalLength
		e.buffer = append([]byte(nil), f.HeadData...)
		e.nextSeq = 1
		if e.expected > maxTotalLength {
			e.reset()
			return ReceiveResult{}, &core.Error{Kind: core.ErrIsoTpOverflow, Where: "isotp.Receive", Reason: "total_length exceeds 4095"}
		}
		return ReceiveResult{NeedFlowControl: true}, nil

	case Consecutive:
		if e.rxState != rxReceiving {
			return ReceiveResult{}, &core.Error{Kind: core.ErrIsoTpSequence, Where: "isotp.Receive", Reason: "consecutive frame with no first frame in progress"}
		}
		if f.SequenceNibble != e.nextSeq {
			e.reset()
			return ReceiveResult{}, &core.Error{Kind: core.ErrIsoTpSequence, Where: "isotp.Receive", Reason: fmt.Sprintf("expected sequence %X, got %X", e.nextSeq, f.SequenceNibble)}
		}
		e.buffer = append(e.buffer, f.ConsecData...)
		e.nextSeq = (e.nextSeq + 1) & 0x0F
		if len(e.buffer) >= e.expected {
			msg := e.buffer[:e.expected]
			e.reset()
			return ReceiveResult{Complete: true, Message: msg}, nil
		}
		return ReceiveResult{}, nil

	case FlowControl:
		return ReceiveResult{}, &core.Error{Kind: core.ErrIsoTpUnexpectedFlowControl, Where: "isotp.Receive", Reason: "flow control received while not sending"}

	default:
		return ReceiveResult{}, fmt.Errorf("isotp: unknown frame kind %d", f.Kind)
	}
}

func (e *Engine) reset() {
	e.rxState = rxIdle
	e.expected = 0
	e.buffer = nil
	e.nextSeq = 0
}

// Abort returns the engine to Idle, used when a reception is cancelled
// mid-flight.
func (e *Engine) Abort() { e.reset() }

// FrameSink transmits one 8-byte CAN payload and waits out any inter-frame
// delay itself; the isotp package never sleeps directly so it stays
// deterministic under test.
type FrameSink interface {
	SendFrame(payload [8]byte) error
	// AwaitFlowControl blocks until a FlowControl frame arrives and
	// returns its parsed form. It takes no context; any timeout is the
	// sink's own.
	AwaitFlowControl() (Frame, error)
	// Delay pauses for the given STmin before the next consecutive frame.
	Delay(ms float64)
}

// Send transmits data as a Single frame (<=7 bytes) or as a First frame
// followed by Consecutive frames, honoring flow control: a Wait status
// pauses transmission and waits for another FlowControl frame; CTS resumes
// with the advertised block size and STmin; Overflow fails the send.
func Send(sink FrameSink, data []byte) error {
	if len(data) <= 7 {
		payload, err := EncodeSingle(data)
		if err != nil {
			return err
		}
		return sink.SendFrame(payload)
	}

	first, consecutive, err := Segment(data)
	if err != nil {
		return err
	}
	if err := sink.SendFrame(first); err != nil {
		return err
	}

	fc, err := sink.AwaitFlowControl()
	if err != nil {
		return err
	}

	idx := 0
	for idx < len(consecutive) {
		switch fc.Status {
		case Overflow:
			return &core.Error{Kind: core.ErrIsoTpOverflow, Where: "isotp.Send", Reason: "receiver reported overflow"}
		case Wait:
			fc, err = sink.AwaitFlowControl()
			if err != nil {
				return err
			}
			continue
		case CTS:
			bs := int(fc.BlockSize)
			if bs == 0 {
				bs = len(consecutive) - idx
			}
			for i := 0; i < bs && idx < len(consecutive); i++ {
				if err := sink.SendFrame(consecutive[idx]); err != nil {
					return err
				}
				idx++
				if idx < len(consecutive) {
					sink.Delay(fc.SeparationTimeMS)
				}
			}
			if idx < len(consecutive) {
				fc, err = sink.AwaitFlowControl()
				if err != nil {
					return err
				}
			}
		}
	}
	return nil
}
