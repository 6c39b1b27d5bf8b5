package dtccodec

import (
	"reflect"
	"testing"
)

func TestDecodeEncodeRoundTrip(t *testing.T) {
	for w := uint16(1); w < 0xFFFF; w += 97 {
		dtc := Decode(w)
		if len(dtc.Code) != 5 {
			t.Fatalf("word %#x: code %q is not 5 characters", w, dtc.Code)
		}
		switch dtc.Code[0] {
		case 'P', 'C', 'B', 'U':
		default:
			t.Fatalf("word %#x: code %q has invalid category letter", w, dtc.Code)
		}
		got, err := Encode(dtc.Code)
		if err != nil {
			t.Fatalf("Encode(%q): %v", dtc.Code, err)
		}
		if got != w {
			t.Fatalf("round trip: word %#x -> %q -> %#x", w, dtc.Code, got)
		}
	}
}

func TestStoredDTCsScenario(t *testing.T) {
	// Scenario 3: 03\r -> 43 02 01 33 02 45 -> ["P0133", "P0245"]
	body := []byte{0x01, 0x33, 0x02, 0x45}
	dtcs := ParseServiceResponse(body)
	var got []string
	for _, d := range dtcs {
		got = append(got, d.Code)
	}
	want := []string{"P0133", "P0245"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestZeroWordDiscarded(t *testing.T) {
	body := []byte{0x00, 0x00, 0x01, 0x33}
	dtcs := ParseServiceResponse(body)
	if len(dtcs) != 1 || dtcs[0].Code != "P0133" {
		t.Fatalf("expected only P0133, got %v", dtcs)
	}
}

func TestNRCConditionsNotCorrect(t *testing.T) {
	// Scenario 6: 14 FF FF FF -> 7F 14 22 -> ConditionsNotCorrect
	if Name(0x22) != "Conditions not correct" {
		t.Fatalf("unexpected NRC name: %s", Name(0x22))
	}
}
