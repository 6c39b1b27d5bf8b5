package profile

import (
	"testing"
	"time"

	"github.com/anodyne74/obdcore/core"
	"github.com/anodyne74/obdcore/internal/analysis"
	"github.com/anodyne74/obdcore/internal/capture"
)

func TestVehicleManager(t *testing.T) {
	manager := NewManager()

	vin := "1HGCM82633A123456"
	v, err := manager.RegisterVehicle(vin, "Honda", "Accord", 2023)
	if err != nil {
		t.Fatalf("Failed to register vehicle: %v", err)
	}
	if v.VIN != vin {
		t.Errorf("Expected VIN %s, got %s", vin, v.VIN)
	}

	// Test duplicate registration
	_, err = manager.RegisterVehicle(vin, "Honda", "Accord", 2023)
	if err == nil {
		t.Error("Expected error on duplicate registration")
	}

	// Test vehicle retrieval
	v2, err := manager.GetVehicle(vin)
	if err != nil {
		t.Fatalf("Failed to get vehicle: %v", err)
	}
	if v2.VIN != vin {
		t.Errorf("Expected VIN %s, got %s", vin, v2.VIN)
	}

	// Test live-snapshot ingestion, the shape vehicle.Facade produces
	live := map[uint16]core.EngineeringValue{
		pidRPM:        {Kind: core.KindScalar, Scalar: 2500.0, Unit: "rpm"},
		0x0D:          {Kind: core.KindScalar, Scalar: 60.0, Unit: "km/h"},
		pidEngineLoad: {Kind: core.KindScalar, Scalar: 40.0, Unit: "%"},
		pidCoolant:    {Kind: core.KindScalar, Scalar: 85.0, Unit: "°C"},
	}
	if err := manager.UpdateVehicleState(vin, live, nil); err != nil {
		t.Fatalf("Failed to update state: %v", err)
	}

	v3, _ := manager.GetVehicle(vin)
	if v3.Live[0x0D].Scalar != 60.0 {
		t.Errorf("Expected speed 60.0, got %.1f", v3.Live[0x0D].Scalar)
	}

	// Test profile management
	prof := Profile{
		MaxRPM:           6500,
		RedlineRPM:       6000,
		IdleRPM:          800,
		OptimalShiftRPM:  2500,
		FuelType:         "gasoline",
		TransmissionType: "automatic",
		GearRatios:       []float64{2.995, 1.759, 1.171, 0.870, 0.707},
		WeightKg:         1500,
		EngineSize:       2.0,
		CustomThresholds: map[uint16]float64{
			pidCoolant: 100.0,
		},
	}
	manager.RegisterProfile("Honda", "Accord", prof)

	p, err := manager.GetProfile("Honda", "Accord")
	if err != nil {
		t.Fatalf("Failed to get profile: %v", err)
	}
	if p.MaxRPM != prof.MaxRPM {
		t.Errorf("Expected MaxRPM %.1f, got %.1f", prof.MaxRPM, p.MaxRPM)
	}

	// Test anomaly detection: RPM above redline, stored DTC present
	live[pidRPM] = core.EngineeringValue{Kind: core.KindScalar, Scalar: 6200.0, Unit: "rpm"}
	dtcs := []core.DTC{{Code: "P0133", Category: core.CategoryPowertrain}}
	if err := manager.UpdateVehicleState(vin, live, dtcs); err != nil {
		t.Fatalf("Failed to update state: %v", err)
	}

	alerts, err := manager.DetectAnomalies(vin)
	if err != nil {
		t.Fatalf("Failed to detect anomalies: %v", err)
	}
	if len(alerts) == 0 {
		t.Error("Expected at least one alert for high RPM")
	}

	var gotRPM, gotDTC bool
	for _, alert := range alerts {
		switch {
		case alert.Type == "RPM" && alert.Severity == "critical":
			gotRPM = true
		case alert.Type == "DTC" && len(alert.Codes) == 1 && alert.Codes[0] == "P0133":
			gotDTC = true
		}
	}
	if !gotRPM {
		t.Error("Expected critical RPM alert")
	}
	if !gotDTC {
		t.Error("Expected DTC alert for stored P0133")
	}
}

func TestDetectAnomaliesCustomThreshold(t *testing.T) {
	manager := NewManager()
	vin := "JH4KA7650MC000000"
	if _, err := manager.RegisterVehicle(vin, "Acura", "Legend", 1991); err != nil {
		t.Fatalf("RegisterVehicle: %v", err)
	}
	manager.RegisterProfile("Acura", "Legend", Profile{
		RedlineRPM:       7000,
		CustomThresholds: map[uint16]float64{0x11: 80.0}, // throttle position
	})

	live := map[uint16]core.EngineeringValue{
		0x11: {Kind: core.KindScalar, Scalar: 95.0, Unit: "%"},
	}
	if err := manager.UpdateVehicleState(vin, live, nil); err != nil {
		t.Fatalf("UpdateVehicleState: %v", err)
	}

	alerts, err := manager.DetectAnomalies(vin)
	if err != nil {
		t.Fatalf("DetectAnomalies: %v", err)
	}
	if len(alerts) != 1 || alerts[0].Type != "Custom" || alerts[0].PIDs[0] != 0x11 {
		t.Fatalf("got %+v", alerts)
	}
}

func TestServiceSchedule(t *testing.T) {
	schedule := DefaultServiceSchedule()
	if len(schedule.Items) == 0 {
		t.Error("Expected default service schedule to have items")
	}

	var oilChange *ServiceItem
	for i := range schedule.Items {
		if schedule.Items[i].Name == "Oil Change" {
			oilChange = &schedule.Items[i]
			break
		}
	}

	if oilChange == nil {
		t.Fatal("Expected to find oil change service")
	}

	if oilChange.IntervalMiles != 5000 {
		t.Errorf("Expected oil change interval of 5000 miles, got %.1f", oilChange.IntervalMiles)
	}

	if oilChange.Priority != "required" {
		t.Errorf("Expected oil change priority 'required', got '%s'", oilChange.Priority)
	}
}

func TestAnalyzePerformanceScoresEfficiency(t *testing.T) {
	now := time.Now()
	session := &capture.Session{
		SessionID: "trip-1",
		StartTime: now,
		EndTime:   now.Add(10 * time.Second),
		Frames: []capture.Frame{
			{Timestamp: now, Request: []byte("010C0D"), Response: []byte("41 0C 0C 80 0D 00")},
			{Timestamp: now.Add(2 * time.Second), Request: []byte("010C0D"), Response: []byte("41 0C 1B 58 0D 3C")},
			{Timestamp: now.Add(4 * time.Second), Request: []byte("010C0D"), Response: []byte("41 0C 1B 58 0D 3D")},
		},
	}
	analyzer := analysis.NewAnalyzer(session, analysis.DefaultOptions())

	manager := NewManager()
	report, err := manager.AnalyzePerformance(analyzer)
	if err != nil {
		t.Fatalf("AnalyzePerformance: %v", err)
	}
	if report.Stats.EfficiencyScore <= 0 || report.Stats.EfficiencyScore > 100 {
		t.Fatalf("EfficiencyScore out of range: %v", report.Stats.EfficiencyScore)
	}
}
