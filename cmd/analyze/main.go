// Command analyze loads a captured session and prints summary statistics
// and driving-behavior phases.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/anodyne74/obdcore/internal/analysis"
	"github.com/anodyne74/obdcore/internal/capture"
)

func main() {
	var (
		inputFile  string
		formatJSON bool
	)

	flag.StringVar(&inputFile, "file", "", "Capture file to analyze")
	flag.BoolVar(&formatJSON, "json", false, "Print the full analysis as JSON instead of a summary")
	flag.Parse()

	if inputFile == "" {
		fmt.Fprintln(os.Stderr, "usage: analyze -file capture.json [-json]")
		os.Exit(1)
	}

	session, err := capture.LoadSession(inputFile)
	if err != nil {
		log.Fatalf("loading session: %v", err)
	}

	result, err := analysis.NewAnalyzer(session, analysis.DefaultOptions()).Analyze()
	if err != nil {
		log.Fatalf("analysis failed: %v", err)
	}

	if formatJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			log.Fatalf("encode: %v", err)
		}
		return
	}

	fmt.Printf("Session %s\n", result.SessionInfo.SessionID)
	fmt.Printf("Duration: %s, Frames: %d, Rate: %.1f frames/sec\n",
		result.SessionInfo.Duration, result.SessionInfo.TotalFrames, result.Performance.DataRate)
	fmt.Printf("RPM:     min %.0f max %.0f mean %.0f\n", result.Performance.RPM.Min, result.Performance.RPM.Max, result.Performance.RPM.Mean)
	fmt.Printf("Speed:   min %.0f max %.0f mean %.0f km/h\n", result.Performance.Speed.Min, result.Performance.Speed.Max, result.Performance.Speed.Mean)
	fmt.Printf("Coolant: min %.0f max %.0f mean %.0f\n", result.Performance.Coolant.Min, result.Performance.Coolant.Max, result.Performance.Coolant.Mean)
	fmt.Printf("Idle time: %.1f%%, Rapid accel: %d, Rapid decel: %d\n",
		result.DrivingBehavior.IdleTime, result.DrivingBehavior.RapidAccel, result.DrivingBehavior.RapidDecel)
	if result.Diagnostics.DTCCount > 0 {
		fmt.Printf("DTCs seen: %v\n", result.Diagnostics.UniqueDTCs)
	}
}
