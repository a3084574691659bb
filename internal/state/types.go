package state

import "time"

// Phase is the kiosk's current named state in its disposal-cycle state
// machine. Exactly one phase is active at a time.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseProcessing
	PhaseResultBlue
	PhaseResultYellow
	PhaseResultBrown
	PhaseReward
	PhaseQRCode
	PhaseIncorrect
	PhaseError
)

// String returns the wire/display name of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseProcessing:
		return "processing"
	case PhaseResultBlue:
		return "result_blue"
	case PhaseResultYellow:
		return "result_yellow"
	case PhaseResultBrown:
		return "result_brown"
	case PhaseReward:
		return "reward"
	case PhaseQRCode:
		return "qrcode"
	case PhaseIncorrect:
		return "incorrect"
	case PhaseError:
		return "error"
	default:
		return "unknown"
	}
}

// IsResult reports whether the phase is one of the three per-category result
// displays that await a bin deposit.
func (p Phase) IsResult() bool {
	return p == PhaseResultBlue || p == PhaseResultYellow || p == PhaseResultBrown
}

// Category is a classification label from the fixed set corresponding to the
// three disposal receptacles. The zero value means undetermined.
type Category string

const (
	CategoryUndetermined Category = ""
	CategoryBlue         Category = "blue"
	CategoryYellow       Category = "yellow"
	CategoryBrown        Category = "brown"
)

// Valid reports whether c is one of the three receptacle categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryBlue, CategoryYellow, CategoryBrown:
		return true
	}
	return false
}

// ResultPhase maps a valid category to its result display phase.
// Undetermined (or any invalid label) maps to the error phase.
func (c Category) ResultPhase() Phase {
	switch c {
	case CategoryBlue:
		return PhaseResultBlue
	case CategoryYellow:
		return PhaseResultYellow
	case CategoryBrown:
		return PhaseResultBrown
	default:
		return PhaseError
	}
}

// Sensor names a polled proximity sensor.
type Sensor string

const (
	SensorObject    Sensor = "object_detected"
	SensorBlueBin   Sensor = "blue_bin"
	SensorYellowBin Sensor = "yellow_bin"
	SensorBrownBin  Sensor = "brown_bin"
)

// BinCategory maps a bin sensor to the category it accepts. The object
// sensor has no category and returns undetermined.
func (s Sensor) BinCategory() Category {
	switch s {
	case SensorBlueBin:
		return CategoryBlue
	case SensorYellowBin:
		return CategoryYellow
	case SensorBrownBin:
		return CategoryBrown
	}
	return CategoryUndetermined
}

// SensorStatus is the edge-triggered boolean view of the four proximity
// sensors.
type SensorStatus struct {
	ObjectDetected bool `json:"object_detected"`
	BlueBin        bool `json:"blue_bin"`
	YellowBin      bool `json:"yellow_bin"`
	BrownBin       bool `json:"brown_bin"`
}

// Snapshot is a point-in-time copy of the kiosk state, safe to hand to the
// monitoring surface without holding the store lock.
type Snapshot struct {
	Phase              Phase        `json:"-"`
	PhaseName          string       `json:"phase"`
	LastClassification Category     `json:"last_classification"`
	ClassifiedAt       time.Time    `json:"classified_at"`
	Reward             bool         `json:"reward"`
	SystemStatus       string       `json:"system_status"`
	LastUpdate         time.Time    `json:"last_update"`
	Sensors            SensorStatus `json:"sensor_status"`
}
