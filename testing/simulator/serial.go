package simulator

import (
	"bufio"
	"strings"

	"github.com/tarm/serial"
)

// ServeSerial drives a serial port the same way ServeConn drives a TCP
// connection: it blocks, answering one \r-terminated command per
// iteration, until the port read fails (typically because it was closed).
func ServeSerial(port *serial.Port, ecu *ECU) error {
	reader := bufio.NewReader(port)
	for {
		line, err := reader.ReadString('\r')
		if err != nil {
			return err
		}
		ecu.Tick()
		resp := ecu.Handle(strings.TrimRight(line, "\r\n"))
		if _, err := port.Write([]byte(resp + "\r>")); err != nil {
			return err
		}
	}
}

// OpenSerial opens portName at baud for StartSerialServer.
func OpenSerial(portName string, baud int) (*serial.Port, error) {
	return serial.OpenPort(&serial.Config{Name: portName, Baud: baud})
}

// StartSerialServer opens portName and serves a single ECU for the
// lifetime of the port, the serial-port counterpart of StartTCPServer.
func StartSerialServer(portName string, baud int) error {
	port, err := OpenSerial(portName, baud)
	if err != nil {
		return err
	}
	defer port.Close()
	return ServeSerial(port, NewECU())
}
