package hardware

import (
	"bytes"
	"io"
	"sync"
	"time"
)

// MockPort implements Porter for dev mode: it replays a fixed script of
// controller lines on a timer and discards written commands.
type MockPort struct {
	io.Reader
	writeMu sync.Mutex
	written bytes.Buffer
	closed  bool
}

// Write records the command so dev-mode sessions can be inspected.
func (m *MockPort) Write(p []byte) (int, error) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return m.written.Write(p)
}

// Written returns everything the kiosk has sent to the mock controller.
func (m *MockPort) Written() string {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return m.written.String()
}

// Close stops the mock port.
func (m *MockPort) Close() error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	m.closed = true
	return nil
}

// NewMockHub creates a Hub backed by a scripted controller that emits the
// given lines in order, one every interval, then repeats an all-clear frame.
// Used by dev mode (-dev) to exercise the full stack without hardware.
func NewMockHub(script []string, interval time.Duration) *Hub[*MockPort] {
	r, w := io.Pipe()
	port := &MockPort{Reader: r}

	go func() {
		defer w.Close()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		i := 0
		for range ticker.C {
			port.writeMu.Lock()
			closed := port.closed
			port.writeMu.Unlock()
			if closed {
				return
			}

			line := "S,0,0,0,0"
			if i < len(script) {
				line = script[i]
				i++
			}
			if _, err := io.WriteString(w, line+"\n"); err != nil {
				return
			}
		}
	}()

	return NewHub(port)
}

// TestablePort implements Porter with fine-grained control for unit tests.
type TestablePort struct {
	mu sync.Mutex

	// ReadBuffer holds data to be returned by Read calls.
	ReadBuffer *bytes.Buffer
	// WrittenData accumulates everything written to the port.
	WrittenData bytes.Buffer

	WriteErr error
	CloseErr error
	closed   bool
}

// NewTestablePort creates a TestablePort preloaded with input data.
func NewTestablePort(input string) *TestablePort {
	return &TestablePort{ReadBuffer: bytes.NewBufferString(input)}
}

func (p *TestablePort) Read(buf []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, io.EOF
	}
	if p.ReadBuffer.Len() == 0 {
		// Simulate a quiet line rather than EOF so Monitor keeps waiting.
		time.Sleep(5 * time.Millisecond)
		if p.closed {
			return 0, io.EOF
		}
		return 0, nil
	}
	return p.ReadBuffer.Read(buf)
}

func (p *TestablePort) Write(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.WriteErr != nil {
		return 0, p.WriteErr
	}
	return p.WrittenData.Write(data)
}

func (p *TestablePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return p.CloseErr
}

// Written returns the accumulated writes.
func (p *TestablePort) Written() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.WrittenData.String()
}
