package datastore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/anodyne74/obdcore/core"
	"github.com/anodyne74/obdcore/internal/profile"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "store.db")
	s, err := NewStore(&Config{SQLitePath: path})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndGetVehicle(t *testing.T) {
	s := openTestStore(t)

	v := &profile.Vehicle{
		VIN:   "1G1JC5944R7252367",
		Make:  "Honda",
		Model: "Accord",
		Year:  2023,
		Capabilities: profile.Capabilities{
			SupportedPIDs: map[uint16]bool{0x0C: true},
		},
		Live: map[uint16]core.EngineeringValue{
			0x0C: {Kind: core.KindScalar, Scalar: 1726.0, Unit: "rpm"},
		},
		DTCs:        []core.DTC{{Code: "P0133", Category: core.CategoryPowertrain}},
		LastUpdated: time.Now().UTC().Truncate(time.Second),
	}
	if err := s.SaveVehicle(v); err != nil {
		t.Fatalf("SaveVehicle: %v", err)
	}

	got, err := s.GetVehicle(v.VIN)
	if err != nil {
		t.Fatalf("GetVehicle: %v", err)
	}
	if got.VIN != v.VIN || got.Make != v.Make || !got.Capabilities.SupportedPIDs[0x0C] {
		t.Fatalf("got %+v", got)
	}
	if got.Live[0x0C].Scalar != 1726.0 {
		t.Fatalf("got live %+v", got.Live)
	}
	if len(got.DTCs) != 1 || got.DTCs[0].Code != "P0133" {
		t.Fatalf("got dtcs %+v", got.DTCs)
	}

	if _, err := s.GetVehicle("unknown"); err == nil {
		t.Fatal("expected error for unknown VIN")
	}

	if err := s.DeleteVehicle(v.VIN); err != nil {
		t.Fatalf("DeleteVehicle: %v", err)
	}
	if _, err := s.GetVehicle(v.VIN); err == nil {
		t.Fatal("expected vehicle to be gone after delete")
	}
}

func TestSaveAndGetProfile(t *testing.T) {
	s := openTestStore(t)

	p := &profile.Profile{
		MaxRPM:     6500,
		RedlineRPM: 6000,
		IdleRPM:    800,
		FuelType:   "gasoline",
	}
	if err := s.SaveProfile("Honda", "Accord", p); err != nil {
		t.Fatalf("SaveProfile: %v", err)
	}

	got, err := s.GetProfile("Honda", "Accord")
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if got.RedlineRPM != p.RedlineRPM {
		t.Errorf("expected redline %.0f, got %.0f", p.RedlineRPM, got.RedlineRPM)
	}

	all, err := s.ListProfiles()
	if err != nil {
		t.Fatalf("ListProfiles: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 profile, got %d", len(all))
	}
}

func TestSaveAlertAndServiceRecord(t *testing.T) {
	s := openTestStore(t)
	vin := "1G1JC5944R7252367"
	if err := s.SaveVehicle(&profile.Vehicle{VIN: vin, Make: "Honda", Model: "Accord"}); err != nil {
		t.Fatalf("SaveVehicle: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	alert := &profile.Alert{
		Type: "RPM", Severity: "critical", Message: "over redline",
		Timestamp: now, Value: 6200, Threshold: 6000, PIDs: []uint16{0x0C},
	}
	if err := s.SaveAlert(vin, alert); err != nil {
		t.Fatalf("SaveAlert: %v", err)
	}

	record := &profile.ServiceRecord{
		Date: now, Type: "Oil Change", Mileage: 30000, Cost: 55.0,
		Parts: []string{"oil filter"},
	}
	if err := s.SaveServiceRecord(vin, record); err != nil {
		t.Fatalf("SaveServiceRecord: %v", err)
	}

	alerts, err := s.GetAlerts(vin, now.Add(-time.Hour), now.Add(time.Hour))
	if err != nil {
		t.Fatalf("GetAlerts: %v", err)
	}
	if len(alerts) != 1 || alerts[0].Type != "RPM" {
		t.Fatalf("got %+v", alerts)
	}

	history, err := s.GetServiceHistory(vin)
	if err != nil {
		t.Fatalf("GetServiceHistory: %v", err)
	}
	if len(history) != 1 || history[0].Type != "Oil Change" {
		t.Fatalf("got %+v", history)
	}
}
