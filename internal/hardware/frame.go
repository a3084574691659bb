package hardware

import (
	"fmt"
	"strings"

	"github.com/itrash/kiosk/internal/state"
)

// SensorFrame is one parsed status line from the controller board: the
// current boolean reading of all four proximity sensors.
//
// Wire format: "S,<object>,<blue>,<yellow>,<brown>" with 0/1 fields.
// The board emits a frame every polling interval regardless of change.
type SensorFrame struct {
	Object bool
	Blue   bool
	Yellow bool
	Brown  bool
}

// Sensor returns the reading for one named sensor.
func (f SensorFrame) Sensor(name state.Sensor) bool {
	switch name {
	case state.SensorObject:
		return f.Object
	case state.SensorBlueBin:
		return f.Blue
	case state.SensorYellowBin:
		return f.Yellow
	case state.SensorBrownBin:
		return f.Brown
	}
	return false
}

// ParseSensorFrame parses one controller status line. Lines that are not
// sensor frames (boot banners, command acks) return ErrNotSensorFrame so
// callers can skip them without treating them as read failures.
func ParseSensorFrame(line string) (SensorFrame, error) {
	if !strings.HasPrefix(line, "S,") {
		return SensorFrame{}, ErrNotSensorFrame
	}
	fields := strings.Split(strings.TrimSpace(line), ",")
	if len(fields) != 5 {
		return SensorFrame{}, fmt.Errorf("sensor frame has %d fields, want 5: %q", len(fields), line)
	}

	var frame SensorFrame
	for i, dst := range []*bool{&frame.Object, &frame.Blue, &frame.Yellow, &frame.Brown} {
		switch fields[i+1] {
		case "0":
			*dst = false
		case "1":
			*dst = true
		default:
			return SensorFrame{}, fmt.Errorf("bad sensor field %q in %q", fields[i+1], line)
		}
	}
	return frame, nil
}

// Color is an RGB lighting color for the LED strips at the disposal zones.
type Color struct {
	R, G, B uint8
}

// Lighting colors assigned to phases. Brown matches the receptacle signage
// rather than a pure color-wheel brown.
var (
	ColorOff    = Color{}
	ColorWhite  = Color{255, 255, 255}
	ColorBlue   = Color{0, 0, 255}
	ColorYellow = Color{255, 255, 0}
	ColorBrown  = Color{139, 69, 19}
	ColorRed    = Color{255, 0, 0}
	ColorGreen  = Color{0, 255, 0}
)

// lightCommand formats the controller command that sets every LED to c.
func lightCommand(c Color) string {
	if c == ColorOff {
		return "L=OFF"
	}
	return fmt.Sprintf("L=%02X%02X%02X", c.R, c.G, c.B)
}
