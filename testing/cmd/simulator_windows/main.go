// Command simulator_windows serves the ELM327/ECU simulator over a local
// serial port, for exercising transport.NewSerialTransport against a
// simulated vehicle on platforms where a virtual COM port pair (e.g.
// com0com) stands in for real hardware.
package main

import (
	"flag"
	"log"

	"github.com/anodyne74/obdcore/testing/simulator"
)

func main() {
	port := flag.String("port", "COM10", "serial port to serve the simulator on")
	baud := flag.Int("baud", 38400, "baud rate")
	flag.Parse()

	if err := simulator.StartSerialServer(*port, *baud); err != nil {
		log.Fatal(err)
	}
}
