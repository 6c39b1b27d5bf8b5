package vehicle

import (
	"context"
	"fmt"

	"github.com/anodyne74/obdcore/core"
)

// Report is a one-shot aggregate snapshot composing several facade verbs
// into a single document, the shape a CLI's "full report" or a UI's
// landing screen wants instead of calling each verb separately. It adapts
// the teacher's VehicleQuerier.QueryAllData aggregation idea onto this
// core's actual request surface (VIN, DTCs, readiness, current data)
// instead of the teacher's hand-rolled ECU/engine-map fields, which named
// information this core's protocol stack has no way to obtain.
type Report struct {
	VIN       string
	Adapter   core.AdapterInfo
	DTCs      []core.DTC
	Readiness ReadinessMonitors
	Live      map[uint16]core.EngineeringValue
}

// FullReport runs Detect, ReadVIN, ReadTroubleCodes(Stored), and
// ReadReadinessMonitors in sequence (the facade serializes every request
// through the same session manager, so there is no concurrency to exploit
// here), then one ReadCurrentData pass over livePIDs if any are given.
func (f *Facade) FullReport(ctx context.Context, livePIDs []uint16) (Report, error) {
	var report Report
	var err error

	report.Adapter, err = f.Detect(ctx)
	if err != nil {
		return report, fmt.Errorf("detect: %w", err)
	}

	report.VIN, err = f.ReadVIN(ctx)
	if err != nil {
		return report, fmt.Errorf("read vin: %w", err)
	}

	report.DTCs, err = f.ReadTroubleCodes(ctx, core.DTCStored)
	if err != nil {
		return report, fmt.Errorf("read trouble codes: %w", err)
	}

	report.Readiness, err = f.ReadReadinessMonitors(ctx)
	if err != nil {
		return report, fmt.Errorf("read readiness monitors: %w", err)
	}

	if len(livePIDs) > 0 {
		v, err := f.mgr.Submit(ctx, f.deadline(), func(ctx context.Context) (interface{}, error) {
			return f.svc.ReadCurrentData(ctx, livePIDs)
		})
		if err != nil {
			return report, fmt.Errorf("read current data: %w", err)
		}
		report.Live = v.(map[uint16]core.EngineeringValue)
	}

	return report, nil
}
