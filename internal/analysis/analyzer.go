// Package analysis computes summary statistics and driving-behavior phases
// from a captured session, decoding each frame's Mode 01 PID response the
// same way internal/diagservice does instead of relying on raw CAN frame
// counts, since a captured session here is an ELM327 line-protocol trace,
// not a raw CAN bus log.
package analysis

import (
	"strings"
	"time"

	"github.com/anodyne74/obdcore/internal/capture"
	"github.com/anodyne74/obdcore/internal/dtccodec"
	"github.com/anodyne74/obdcore/internal/hexcodec"
	"github.com/anodyne74/obdcore/internal/pidregistry"
)

// AnalyzerOptions configures phase detection thresholds.
type AnalyzerOptions struct {
	RapidAccelThreshold float64       // km/h/s for rapid acceleration detection
	RapidDecelThreshold float64       // km/h/s for rapid deceleration detection
	IdleSpeedThreshold  float64       // km/h below which is considered idle
	CruiseThreshold     float64       // km/h/s variance for cruise detection
	MinPhaseTime        time.Duration // minimum duration for a driving phase
}

// DefaultOptions returns sensible default analyzer options.
func DefaultOptions() AnalyzerOptions {
	return AnalyzerOptions{
		RapidAccelThreshold: 10.0,
		RapidDecelThreshold: -8.0,
		IdleSpeedThreshold:  3.0,
		CruiseThreshold:     2.0,
		MinPhaseTime:        3 * time.Second,
	}
}

// Analyzer processes a captured session to generate analysis results.
type Analyzer struct {
	session *capture.Session
	options AnalyzerOptions
}

// NewAnalyzer creates a new analyzer instance.
func NewAnalyzer(session *capture.Session, options AnalyzerOptions) *Analyzer {
	return &Analyzer{session: session, options: options}
}

// sample is one decoded Mode 01 reading pulled out of a frame.
type sample struct {
	pid  uint16
	val  float64
	when time.Time
}

// decodeFrame extracts any Mode 01 PID reading and any Mode 03 DTC list
// from one captured frame. Frames this analyzer doesn't recognize (AT
// commands, UDS services, Mode 02/09) are skipped.
func decodeFrame(f capture.Frame) ([]sample, []string) {
	req := strings.ToUpper(strings.TrimSpace(string(f.Request)))
	resp, err := hexcodec.ASCIIHexToBytes(string(f.Response))
	if err != nil || len(resp) == 0 {
		return nil, nil
	}

	switch {
	case strings.HasPrefix(req, "01") && len(req) >= 4:
		if resp[0] != 0x41 {
			return nil, nil
		}
		var out []sample
		body := resp[1:]
		for len(body) > 0 {
			pid := uint16(body[0])
			body = body[1:]
			desc, ok := pidregistry.Lookup(0x01, pid)
			if !ok || desc.DataLengthBytes == 0 || desc.DataLengthBytes > len(body) {
				break
			}
			v, err := desc.Decode(body[:desc.DataLengthBytes])
			if err == nil {
				out = append(out, sample{pid: pid, val: v.Scalar, when: f.Timestamp})
			}
			body = body[desc.DataLengthBytes:]
		}
		return out, nil

	case req == "03":
		if resp[0] != 0x43 || len(resp) < 2 {
			return nil, nil
		}
		dtcs := dtccodec.ParseServiceResponse(resp[2:])
		var codes []string
		for _, d := range dtcs {
			codes = append(codes, d.Code)
		}
		return nil, codes
	}
	return nil, nil
}

// Analyze processes the session and returns analysis results.
func (a *Analyzer) Analyze() (*Analysis, error) {
	out := &Analysis{}
	out.SessionInfo.SessionID = a.session.SessionID
	out.SessionInfo.StartTime = a.session.StartTime
	out.SessionInfo.EndTime = a.session.EndTime
	out.SessionInfo.Duration = a.session.EndTime.Sub(a.session.StartTime)
	out.SessionInfo.TotalFrames = len(a.session.Frames)

	var rpm, speed, coolant []float64
	var speedSamples []sample
	dtcSeen := map[string]bool{}

	for _, f := range a.session.Frames {
		samples, dtcs := decodeFrame(f)
		for _, s := range samples {
			switch s.pid {
			case 0x0C:
				rpm = append(rpm, s.val)
			case 0x0D:
				speed = append(speed, s.val)
				speedSamples = append(speedSamples, s)
			case 0x05:
				coolant = append(coolant, s.val)
			}
		}
		for _, code := range dtcs {
			dtcSeen[code] = true
		}
	}

	out.Performance.RPM = CalculateStats(rpm)
	out.Performance.Speed = CalculateStats(speed)
	out.Performance.Coolant = CalculateStats(coolant)
	if d := out.SessionInfo.Duration.Seconds(); d > 0 {
		out.Performance.DataRate = float64(len(a.session.Frames)) / d
	}

	a.analyzeDrivingBehavior(out, speedSamples)

	out.Diagnostics.DTCCount = len(dtcSeen)
	for code := range dtcSeen {
		out.Diagnostics.UniqueDTCs = append(out.Diagnostics.UniqueDTCs, code)
	}

	return out, nil
}

func (a *Analyzer) analyzeDrivingBehavior(out *Analysis, samples []sample) {
	var current *DrivingPhase
	var lastSpeed float64
	var lastTime time.Time

	flush := func(end time.Time) {
		if current == nil {
			return
		}
		current.EndTime = end
		current.Duration = current.EndTime.Sub(current.StartTime)
		if current.Duration >= a.options.MinPhaseTime {
			out.DrivingBehavior.Phases = append(out.DrivingBehavior.Phases, *current)
		}
	}

	for _, s := range samples {
		if !lastTime.IsZero() {
			dt := s.when.Sub(lastTime).Seconds()
			if dt > 0 {
				accel := (s.val - lastSpeed) / dt
				phaseType := a.detectPhaseType(s.val, accel)

				if current == nil || current.Type != phaseType {
					flush(s.when)
					current = &DrivingPhase{Type: phaseType, StartTime: s.when}
				}

				if accel >= a.options.RapidAccelThreshold {
					out.DrivingBehavior.RapidAccel++
				} else if accel <= a.options.RapidDecelThreshold {
					out.DrivingBehavior.RapidDecel++
				}
			}
		}
		lastSpeed = s.val
		lastTime = s.when
	}
	flush(lastTime)

	var idle time.Duration
	for _, p := range out.DrivingBehavior.Phases {
		if p.Type == "idle" {
			idle += p.Duration
		}
	}
	if total := out.SessionInfo.Duration; total > 0 {
		out.DrivingBehavior.IdleTime = float64(idle) / float64(total) * 100
	}
}

func (a *Analyzer) detectPhaseType(speed, accel float64) string {
	switch {
	case speed < a.options.IdleSpeedThreshold:
		return "idle"
	case accel >= a.options.RapidAccelThreshold:
		return "acceleration"
	case accel <= a.options.RapidDecelThreshold:
		return "deceleration"
	case accel > -a.options.CruiseThreshold && accel < a.options.CruiseThreshold:
		return "cruise"
	default:
		return "unknown"
	}
}
