package hardware

import (
	"fmt"
	"io"

	"go.bug.st/serial"
)

// Porter defines the minimal interface needed for the hub's serial port.
// This abstraction enables unit testing without the real controller board.
type Porter interface {
	io.ReadWriter
	io.Closer
}

// PortOptions configures the serial link to the sensor/lighting controller.
type PortOptions struct {
	BaudRate int
}

// DefaultPortOptions returns the mode the stock controller firmware ships with.
func DefaultPortOptions() PortOptions {
	return PortOptions{BaudRate: 115200}
}

// OpenPort opens the real serial device for the controller board.
func OpenPort(path string, opts PortOptions) (serial.Port, error) {
	mode := &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", path, err)
	}
	return port, nil
}
