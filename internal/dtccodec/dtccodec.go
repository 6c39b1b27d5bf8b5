// Package dtccodec converts between the two-byte DTC word on the wire and
// the five-character SAE code (P/C/B/U + 4 hex digits), parses Mode
// 03/07/0A and UDS 0x19 DTC list responses, and maps UDS negative response
// codes to names.
package dtccodec

import (
	"fmt"

	"github.com/anodyne74/obdcore/core"
)

// Decode converts a two-byte DTC word into a DTC. The all-zero word is not
// a valid code; callers must filter it before calling Decode (or check
// IsZero first).
func Decode(word uint16) core.DTC {
	letterBits := (word >> 14) & 0x3
	var letter core.DTCCategory
	switch letterBits {
	case 0:
		letter = core.CategoryPowertrain
	case 1:
		letter = core.CategoryChassis
	case 2:
		letter = core.CategoryBody
	case 3:
		letter = core.CategoryNetwork
	}
	d1 := (word >> 12) & 0x3
	rest := word & 0x0FFF
	code := fmt.Sprintf("%c%d%03X", letter, d1, rest)
	return core.DTC{Code: code, RawWord: word, Category: letter}
}

// IsZero reports whether word is the all-zero DTC word, which must always
// be filtered out.
func IsZero(word uint16) bool { return word == 0 }

// Encode is the inverse of Decode: given a 5-character SAE code it
// reconstructs the original two-byte word. encode(decode(w)) == w for all
// w != 0.
func Encode(code string) (uint16, error) {
	if len(code) != 5 {
		return 0, fmt.Errorf("dtccodec: code %q must be 5 characters", code)
	}
	var letterBits uint16
	switch code[0] {
	case 'P':
		letterBits = 0
	case 'C':
		letterBits = 1
	case 'B':
		letterBits = 2
	case 'U':
		letterBits = 3
	default:
		return 0, fmt.Errorf("dtccodec: unknown category letter %q", code[0])
	}
	d1 := code[1] - '0'
	if d1 > 3 {
		return 0, fmt.Errorf("dtccodec: invalid first digit %q", code[1])
	}
	var rest uint16
	for _, c := range []byte(code[2:]) {
		var v uint16
		switch {
		case c >= '0' && c <= '9':
			v = uint16(c - '0')
		case c >= 'A' && c <= 'F':
			v = uint16(c-'A') + 10
		case c >= 'a' && c <= 'f':
			v = uint16(c-'a') + 10
		default:
			return 0, fmt.Errorf("dtccodec: invalid hex suffix %q", code[2:])
		}
		rest = rest<<4 | v
	}
	return letterBits<<14 | uint16(d1)<<12 | rest, nil
}

// ParseServiceResponse parses a Mode 03/07/0A response body (the bytes
// after the service response id, e.g. 0x43/0x47/0x4A, and its optional
// count byte have been stripped by the caller) into a list of DTCs,
// discarding the all-zero word.
func ParseServiceResponse(body []byte) []core.DTC {
	var out []core.DTC
	for i := 0; i+1 < len(body); i += 2 {
		word := uint16(body[i])<<8 | uint16(body[i+1])
		if IsZero(word) {
			continue
		}
		out = append(out, Decode(word))
	}
	return out
}

// ParseUDSDTCList parses a UDS 0x19 reportDTCByStatusMask response body
// (after the 0x59, sub-function and status-availability-mask bytes are
// stripped) where each DTC entry is a 3-byte DTC ID followed by a status
// byte: hi, mid, lo, status.
func ParseUDSDTCList(body []byte) []core.DTC {
	var out []core.DTC
	for i := 0; i+3 < len(body); i += 4 {
		word := uint16(body[i])<<8 | uint16(body[i+1])
		status := body[i+3]
		if IsZero(word) && body[i+2] == 0 {
			continue
		}
		dtc := Decode(word)
		dtc.StatusByte = status
		out = append(out, dtc)
	}
	return out
}

// NRC is a Negative Response Code with its human-readable name.
type NRC struct {
	Code byte
	Name string
}

var nrcTable = map[byte]string{
	0x10: "General reject",
	0x11: "Service not supported",
	0x12: "Sub-function not supported",
	0x13: "Incorrect message length or invalid format",
	0x14: "Response too long",
	0x21: "Busy - repeat request",
	0x22: "Conditions not correct",
	0x24: "Request sequence error",
	0x25: "No response from subnet component",
	0x26: "Failure prevents execution of requested action",
	0x31: "Request out of range",
	0x33: "Security access denied",
	0x35: "Invalid key",
	0x36: "Exceeded number of attempts",
	0x37: "Required time delay not expired",
	0x70: "Upload/download not accepted",
	0x71: "Transfer data suspended",
	0x72: "General programming failure",
	0x73: "Wrong block sequence counter",
	0x78: "Request correctly received - response pending",
	0x7E: "Sub-function not supported in active session",
	0x7F: "Service not supported in active session",
}

// Name returns the human-readable name for a NRC byte, or "Unknown NRC" if
// not in the table.
func Name(code byte) string {
	if n, ok := nrcTable[code]; ok {
		return n
	}
	return "Unknown NRC"
}

// Lookup returns the NRC struct for code.
func Lookup(code byte) NRC {
	return NRC{Code: code, Name: Name(code)}
}

// KindForNRC maps an NRC byte to the closed core.ErrorKind set, for NRCs
// that have a dedicated kind; other NRCs use core.ErrNegativeResponse.
func KindForNRC(code byte) core.ErrorKind {
	switch code {
	case 0x33:
		return core.ErrSecurityAccessDenied
	case 0x35:
		return core.ErrInvalidKey
	case 0x22:
		return core.ErrConditionsNotCorrect
	case 0x31:
		return core.ErrRequestOutOfRange
	default:
		return core.ErrNegativeResponse
	}
}
