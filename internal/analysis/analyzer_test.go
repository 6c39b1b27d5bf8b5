package analysis

import (
	"math"
	"testing"
	"time"

	"github.com/anodyne74/obdcore/internal/capture"
)

func TestAnalyzer(t *testing.T) {
	now := time.Now()
	session := &capture.Session{
		SessionID: "trip-1",
		StartTime: now,
		EndTime:   now.Add(10 * time.Second),
		Frames: []capture.Frame{
			// idle: RPM 800, speed 0
			{Timestamp: now, Request: []byte("010C0D"), Response: []byte("41 0C 0C 80 0D 00")},
			// acceleration: speed jumps to 60 km/h over 2s (30 km/h/s, well above threshold)
			{Timestamp: now.Add(2 * time.Second), Request: []byte("010C0D"), Response: []byte("41 0C 1B 58 0D 3C")},
			// cruise: speed steady
			{Timestamp: now.Add(4 * time.Second), Request: []byte("010C0D"), Response: []byte("41 0C 1B 58 0D 3D")},
			// a stored DTC shows up in a Mode 03 poll
			{Timestamp: now.Add(6 * time.Second), Request: []byte("03"), Response: []byte("43 01 01 33")},
		},
	}

	analyzer := NewAnalyzer(session, DefaultOptions())
	analysis, err := analyzer.Analyze()
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	if analysis.SessionInfo.Duration != 10*time.Second {
		t.Errorf("expected duration 10s, got %v", analysis.SessionInfo.Duration)
	}
	if analysis.SessionInfo.TotalFrames != 4 {
		t.Errorf("expected 4 frames, got %d", analysis.SessionInfo.TotalFrames)
	}

	if analysis.Performance.Speed.Max != 61.0 {
		t.Errorf("expected max speed 61.0, got %f", analysis.Performance.Speed.Max)
	}
	if analysis.Performance.RPM.Min != 800.0 {
		t.Errorf("expected min RPM 800.0, got %f", analysis.Performance.RPM.Min)
	}

	if analysis.DrivingBehavior.RapidAccel == 0 {
		t.Error("expected at least one rapid acceleration")
	}

	if analysis.Diagnostics.DTCCount != 1 || analysis.Diagnostics.UniqueDTCs[0] != "P0133" {
		t.Errorf("expected one DTC P0133, got %+v", analysis.Diagnostics)
	}
}

func TestCalculateStats(t *testing.T) {
	values := []float64{1.0, 2.0, 3.0, 4.0, 5.0}
	stats := CalculateStats(values)

	expected := Stats{Min: 1.0, Max: 5.0, Mean: 3.0, StdDev: 1.5811388300841898}

	if stats.Min != expected.Min {
		t.Errorf("expected min %f, got %f", expected.Min, stats.Min)
	}
	if stats.Max != expected.Max {
		t.Errorf("expected max %f, got %f", expected.Max, stats.Max)
	}
	if stats.Mean != expected.Mean {
		t.Errorf("expected mean %f, got %f", expected.Mean, stats.Mean)
	}
	if math.Abs(stats.StdDev-expected.StdDev) > 0.0001 {
		t.Errorf("expected stddev %f, got %f", expected.StdDev, stats.StdDev)
	}
}

func TestCalculateStatsSingleValueHasZeroStdDev(t *testing.T) {
	stats := CalculateStats([]float64{42.0})
	if stats.StdDev != 0 {
		t.Errorf("expected zero stddev for a single sample, got %f", stats.StdDev)
	}
}
