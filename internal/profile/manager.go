package profile

import (
	"fmt"
	"sync"
	"time"

	"github.com/anodyne74/obdcore/core"
	"github.com/anodyne74/obdcore/internal/analysis"
	"github.com/anodyne74/obdcore/internal/pidregistry"
)

// Mode 0x01 PIDs DetectAnomalies watches by default, alongside whatever
// per-vehicle CustomThresholds a Profile adds.
const (
	pidEngineLoad = 0x04
	pidCoolant    = 0x05
	pidRPM        = 0x0C
)

const coolantWarnC = 105.0
const engineLoadWarnPct = 90.0

// Manager handles vehicle connections and state management
type Manager struct {
	vehicles map[string]*Vehicle // VIN -> Vehicle mapping
	profiles map[string]*Profile // Make/Model -> Profile mapping
	mu       sync.RWMutex
}

// NewManager creates a new vehicle manager instance
func NewManager() *Manager {
	return &Manager{
		vehicles: make(map[string]*Vehicle),
		profiles: make(map[string]*Profile),
	}
}

// RegisterVehicle adds a new vehicle to the manager
func (m *Manager) RegisterVehicle(vin, make, model string, year int) (*Vehicle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.vehicles[vin]; exists {
		return nil, fmt.Errorf("vehicle with VIN %s already registered", vin)
	}

	v := &Vehicle{
		VIN:   vin,
		Make:  make,
		Model: model,
		Year:  year,
		Capabilities: Capabilities{
			SupportedPIDs: make(map[uint16]bool),
		},
		LastUpdated: time.Now(),
	}

	m.vehicles[vin] = v
	return v, nil
}

// GetVehicle retrieves a vehicle by VIN
func (m *Manager) GetVehicle(vin string) (*Vehicle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, exists := m.vehicles[vin]
	if !exists {
		return nil, fmt.Errorf("vehicle with VIN %s not found", vin)
	}
	return v, nil
}

// UpdateVehicleState folds a live-PID snapshot and the currently-stored
// DTC list into the vehicle's record, the shape vehicle.Facade.FullReport
// and StreamLiveData already produce.
func (m *Manager) UpdateVehicleState(vin string, live map[uint16]core.EngineeringValue, dtcs []core.DTC) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, exists := m.vehicles[vin]
	if !exists {
		return fmt.Errorf("vehicle with VIN %s not found", vin)
	}

	v.Live = live
	v.DTCs = dtcs
	v.LastUpdated = time.Now()
	return nil
}

// RegisterProfile adds or updates a vehicle profile
func (m *Manager) RegisterProfile(make, model string, profile Profile) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := fmt.Sprintf("%s-%s", make, model)
	m.profiles[key] = &profile
}

// GetProfile retrieves a vehicle profile by make and model
func (m *Manager) GetProfile(make, model string) (*Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	key := fmt.Sprintf("%s-%s", make, model)
	profile, exists := m.profiles[key]
	if !exists {
		return nil, fmt.Errorf("profile for %s %s not found", make, model)
	}
	return profile, nil
}

// DetectAnomalies checks the vehicle's last ingested live-data snapshot
// against its profile's thresholds, plus any stored DTCs, and returns one
// Alert per condition found.
func (m *Manager) DetectAnomalies(vin string) ([]Alert, error) {
	v, err := m.GetVehicle(vin)
	if err != nil {
		return nil, err
	}

	prof, err := m.GetProfile(v.Make, v.Model)
	if err != nil {
		return nil, err
	}

	var alerts []Alert
	now := time.Now()

	if rpm, ok := valueForPID(v.Live, pidRPM); ok && rpm > prof.RedlineRPM {
		alerts = append(alerts, Alert{
			Type:      "RPM",
			Severity:  "critical",
			Message:   fmt.Sprintf("Engine RPM exceeds redline (%.0f > %.0f)", rpm, prof.RedlineRPM),
			Timestamp: now,
			Value:     rpm,
			Threshold: prof.RedlineRPM,
			PIDs:      []uint16{pidRPM},
		})
	}

	if coolant, ok := valueForPID(v.Live, pidCoolant); ok && coolant > coolantWarnC {
		alerts = append(alerts, Alert{
			Type:      "Temperature",
			Severity:  "warning",
			Message:   fmt.Sprintf("Engine temperature too high: %.1f°C", coolant),
			Timestamp: now,
			Value:     coolant,
			Threshold: coolantWarnC,
			PIDs:      []uint16{pidCoolant},
		})
	}

	if load, ok := valueForPID(v.Live, pidEngineLoad); ok && load > engineLoadWarnPct {
		alerts = append(alerts, Alert{
			Type:      "Load",
			Severity:  "warning",
			Message:   fmt.Sprintf("High engine load: %.1f%%", load),
			Timestamp: now,
			Value:     load,
			Threshold: engineLoadWarnPct,
			PIDs:      []uint16{pidEngineLoad},
		})
	}

	for pid, threshold := range prof.CustomThresholds {
		value, ok := valueForPID(v.Live, pid)
		if !ok || value <= threshold {
			continue
		}
		name := fmt.Sprintf("PID %#02x", pid)
		if d, ok := pidregistry.Lookup(0x01, pid); ok {
			name = d.Name
		}
		alerts = append(alerts, Alert{
			Type:      "Custom",
			Severity:  "warning",
			Message:   fmt.Sprintf("Custom threshold exceeded for %s: %.1f > %.1f", name, value, threshold),
			Timestamp: now,
			Value:     value,
			Threshold: threshold,
			PIDs:      []uint16{pid},
		})
	}

	for _, dtc := range v.DTCs {
		alerts = append(alerts, Alert{
			Type:      "DTC",
			Severity:  "warning",
			Message:   fmt.Sprintf("stored trouble code %s", dtc.Code),
			Timestamp: now,
			Codes:     []string{dtc.Code},
		})
	}

	return alerts, nil
}

// valueForPID reads a live PID's decoded scalar, if the snapshot carries
// one for it.
func valueForPID(live map[uint16]core.EngineeringValue, pid uint16) (float64, bool) {
	ev, ok := live[pid]
	if !ok {
		return 0, false
	}
	return ev.Scalar, true
}

// AnalyzePerformance performs a detailed analysis of vehicle performance
func (m *Manager) AnalyzePerformance(analyzer *analysis.Analyzer) (*PerformanceReport, error) {
	results, err := analyzer.Analyze()
	if err != nil {
		return nil, fmt.Errorf("analysis failed: %w", err)
	}

	report := &PerformanceReport{
		Timestamp: time.Now(),
		Duration:  results.SessionInfo.Duration,
		Stats: PerformanceStats{
			AverageSpeed:    results.Performance.Speed.Mean,
			MaxSpeed:        results.Performance.Speed.Max,
			AverageRPM:      results.Performance.RPM.Mean,
			MaxRPM:          results.Performance.RPM.Max,
			IdleTimePercent: results.DrivingBehavior.IdleTime,
			RapidAccels:     results.DrivingBehavior.RapidAccel,
			RapidDecels:     results.DrivingBehavior.RapidDecel,
		},
		Alerts: make([]Alert, 0),
	}

	// Add efficiency metrics
	if results.Performance.Speed.Mean > 0 {
		report.Stats.EfficiencyScore = calculateEfficiencyScore(results)
	}

	return report, nil
}

// calculateEfficiencyScore generates a 0-100 score based on various metrics
func calculateEfficiencyScore(results *analysis.Analysis) float64 {
	// This is a simplified scoring model
	score := 100.0

	// Penalize for excessive idle time
	if results.DrivingBehavior.IdleTime > 20 {
		score -= (results.DrivingBehavior.IdleTime - 20) * 0.5
	}

	// Penalize for rapid accelerations/decelerations
	score -= float64(results.DrivingBehavior.RapidAccel) * 2
	score -= float64(results.DrivingBehavior.RapidDecel) * 2

	// Ensure score stays within 0-100 range
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	return score
}
