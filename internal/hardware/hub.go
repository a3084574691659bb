// Package hardware provides the hub for the kiosk's sensor/lighting
// controller board: a serial device that streams proximity-sensor frames and
// accepts LED commands. Multiple clients can subscribe to the raw line
// stream while the hardware loop polls the latest parsed frame.
package hardware

import (
	"bufio"
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/itrash/kiosk/internal/monitoring"
	"github.com/itrash/kiosk/internal/state"
)

var (
	ErrWriteFailed    = fmt.Errorf("failed to write to controller port")
	ErrNotSensorFrame = fmt.Errorf("not a sensor frame")
)

// SensorReader is the polled view of the proximity sensors.
type SensorReader interface {
	// Sensor returns the latest reading for one named sensor. A read
	// failure (no frame yet, malformed frames) reads as false: no detection.
	Sensor(name state.Sensor) bool
}

// Lighting drives the LED strips at the disposal zones.
type Lighting interface {
	SetAll(c Color) error
	ClearAll() error
}

// HubInterface is the full controller-board surface used by main and the
// monitoring API.
type HubInterface interface {
	SensorReader
	Lighting

	// Subscribe creates a channel receiving raw controller lines. The id
	// identifies the channel for Unsubscribe.
	Subscribe() (string, chan string)
	// Unsubscribe removes a subscriber channel.
	Unsubscribe(string)
	// Monitor reads controller lines, parses sensor frames, and fans raw
	// lines out to subscribers until ctx is done.
	Monitor(ctx context.Context) error
	// Close closes subscriber channels and the underlying port.
	Close() error
}

// Hub multiplexes one controller board between the hardware loop (polled
// sensor reads, lighting writes) and any number of line subscribers.
type Hub[T Porter] struct {
	port T

	frameMu   sync.Mutex
	lastFrame SensorFrame
	haveFrame bool

	subscriberMu sync.Mutex
	subscribers  map[string]chan string

	commandMu sync.Mutex

	closingMu sync.Mutex
	closing   bool
}

// NewHub creates a Hub over an opened controller port.
func NewHub[T Porter](port T) *Hub[T] {
	return &Hub[T]{
		port:        port,
		subscribers: make(map[string]chan string),
	}
}

// NewSerialHub opens the real controller board at path and wraps it in a Hub.
func NewSerialHub(path string, opts PortOptions) (HubInterface, error) {
	port, err := OpenPort(path, opts)
	if err != nil {
		return nil, err
	}
	return NewHub(port), nil
}

// randomID generates a random channel ID (8 byte random hex encoded value).
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

// Subscribe creates a channel for receiving raw controller lines.
func (h *Hub[T]) Subscribe() (string, chan string) {
	id := randomID()
	// Small buffer so a consumer that is momentarily between reads does not
	// lose lines; sustained slow consumers still get skipped in handleLine.
	ch := make(chan string, 16)
	h.subscriberMu.Lock()
	defer h.subscriberMu.Unlock()
	h.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber from the hub.
func (h *Hub[T]) Unsubscribe(id string) {
	h.subscriberMu.Lock()
	defer h.subscriberMu.Unlock()
	if ch, ok := h.subscribers[id]; ok {
		close(ch)
		delete(h.subscribers, id)
	}
}

// Sensor returns the latest parsed reading for one named sensor. Before the
// first frame arrives every sensor reads false.
func (h *Hub[T]) Sensor(name state.Sensor) bool {
	h.frameMu.Lock()
	defer h.frameMu.Unlock()
	if !h.haveFrame {
		return false
	}
	return h.lastFrame.Sensor(name)
}

// SetAll sets every LED to the given color.
func (h *Hub[T]) SetAll(c Color) error {
	return h.sendCommand(lightCommand(c))
}

// ClearAll turns all LEDs off.
func (h *Hub[T]) ClearAll() error {
	return h.sendCommand(lightCommand(ColorOff))
}

// sendCommand writes one command line to the controller board.
func (h *Hub[T]) sendCommand(command string) error {
	h.commandMu.Lock()
	defer h.commandMu.Unlock()
	if !strings.HasSuffix(command, "\n") {
		command += "\n"
	}
	n, err := h.port.Write([]byte(command))
	if err != nil {
		return err
	}
	if n != len(command) {
		return ErrWriteFailed
	}
	return nil
}

// Monitor reads controller lines until ctx is done, keeping the latest
// parsed sensor frame and fanning raw lines out to subscribers. Malformed
// frames are logged and skipped; they never update the sensor view and never
// terminate the monitor (a sensor read failure is "no detection", not fatal).
func (h *Hub[T]) Monitor(ctx context.Context) error {
	scan := bufio.NewScanner(h.port)

	lineChan := make(chan string)
	scanErrChan := make(chan error, 1)

	// Read on a separate goroutine so the blocking Scan does not prevent
	// the outer loop from observing context cancellation.
	go func() {
		defer close(lineChan)
		for scan.Scan() {
			select {
			case lineChan <- scan.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scan.Err(); err != nil {
			select {
			case scanErrChan <- err:
			case <-ctx.Done():
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-scanErrChan:
			return err

		case line, ok := <-lineChan:
			if !ok {
				if err := scan.Err(); err != nil {
					return err
				}
				return nil
			}

			h.closingMu.Lock()
			if h.closing {
				h.closingMu.Unlock()
				return nil
			}
			h.closingMu.Unlock()

			h.handleLine(line)
		}
	}
}

func (h *Hub[T]) handleLine(line string) {
	frame, err := ParseSensorFrame(line)
	switch {
	case err == nil:
		h.frameMu.Lock()
		h.lastFrame = frame
		h.haveFrame = true
		h.frameMu.Unlock()
	case err == ErrNotSensorFrame:
		monitoring.Debugf("hardware: controller line %q", line)
	default:
		monitoring.Logf("hardware: dropping malformed frame: %v", err)
	}

	h.subscriberMu.Lock()
	for _, ch := range h.subscribers {
		select {
		case ch <- line:
		default:
			// Skip slow subscribers so they cannot stall the monitor.
		}
	}
	h.subscriberMu.Unlock()
}

// Close closes all subscribed channels and the controller port.
func (h *Hub[T]) Close() error {
	h.closingMu.Lock()
	h.closing = true
	h.closingMu.Unlock()

	h.subscriberMu.Lock()
	defer h.subscriberMu.Unlock()
	for id, ch := range h.subscribers {
		close(ch)
		delete(h.subscribers, id)
	}
	return h.port.Close()
}
