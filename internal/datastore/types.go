package datastore

import (
	"time"

	"github.com/anodyne74/obdcore/internal/profile"
)

// Store persists the vehicle registry, per-model profiles, alert history,
// and maintenance records that internal/profile.Manager otherwise only
// holds in memory. Live telemetry has its own sink (internal/telemetry)
// and is out of scope here: this store's job is the slower-moving,
// queryable half of the data, not the live-data stream.
type Store interface {
	SaveVehicle(v *profile.Vehicle) error
	GetVehicle(vin string) (*profile.Vehicle, error)
	ListVehicles() ([]*profile.Vehicle, error)
	DeleteVehicle(vin string) error

	SaveProfile(make, model string, p *profile.Profile) error
	GetProfile(make, model string) (*profile.Profile, error)
	ListProfiles() (map[string]*profile.Profile, error)

	SavePerformanceReport(vin string, report *profile.PerformanceReport) error
	GetPerformanceReports(vin string, start, end time.Time) ([]*profile.PerformanceReport, error)

	SaveServiceRecord(vin string, record *profile.ServiceRecord) error
	GetServiceHistory(vin string) ([]*profile.ServiceRecord, error)

	SaveAlert(vin string, alert *profile.Alert) error
	GetAlerts(vin string, start, end time.Time) ([]*profile.Alert, error)

	Close() error
}
