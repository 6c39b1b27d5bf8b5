// Command simulator_tcp serves the ELM327/ECU simulator over TCP, for
// exercising transport.NewTCPTransport and the cmd/ tools against a
// simulated vehicle instead of real hardware.
package main

import (
	"log"

	"github.com/anodyne74/obdcore/testing/simulator"
)

func main() {
	if err := simulator.StartTCPServer("localhost:6789"); err != nil {
		log.Fatal(err)
	}
}
