package serialmux

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"time"
)

// MockSerialPort joins a synthetic line source with a command sink.
type MockSerialPort struct {
	io.Reader
	io.WriteCloser
}

func (m *MockSerialPort) Write(p []byte) (n int, err error) {
	return m.WriteCloser.Write(p)
}

// CircleLine returns the displacement line for step k of a circle of the
// given radius traced in period steps. Summing every line of one period
// returns the cursor to its start.
func CircleLine(k, period int, radius float64) string {
	a0 := 2 * math.Pi * float64(k) / float64(period)
	a1 := 2 * math.Pi * float64(k+1) / float64(period)
	dx := radius * (math.Cos(a1) - math.Cos(a0))
	dy := radius * (math.Sin(a1) - math.Sin(a0))
	button := 0
	if k%period < period/2 {
		button = 1
	}
	return fmt.Sprintf("%.3f,%.3f,%d\n", dx, dy, button)
}

// NewMockSerialMux returns a device that reports a circular motion at
// rateHz, completing one revolution every two seconds. Commands written to
// it are discarded. The generator stops when the mux is closed.
func NewMockSerialMux(rateHz int, radius float64) *SerialMux[*MockSerialPort] {
	if rateHz <= 0 {
		rateHz = 100
	}
	r, w := io.Pipe()
	mockPort := &MockSerialPort{
		Reader:      r,
		WriteCloser: &pipeCloser{w: w},
	}

	go func() {
		defer w.Close()
		period := 2 * rateHz
		ticker := time.NewTicker(time.Second / time.Duration(rateHz))
		defer ticker.Stop()
		for k := 0; ; k++ {
			<-ticker.C
			if _, err := io.WriteString(w, CircleLine(k%period, period, radius)); err != nil {
				return
			}
		}
	}()

	return NewSerialMux(mockPort)
}

// pipeCloser discards writes and closes the read side of the mock port.
type pipeCloser struct {
	w *io.PipeWriter
}

func (p *pipeCloser) Write(b []byte) (int, error) { return len(b), nil }
func (p *pipeCloser) Close() error                { return p.w.Close() }

// TestableSerialPort implements SerialPorter with configurable behaviour for
// tests.
type TestableSerialPort struct {
	mu sync.Mutex

	ReadBuffer  *bytes.Buffer
	WriteBuffer *bytes.Buffer

	// ReadError and WriteError are returned once by the next call.
	ReadError  error
	WriteError error
	CloseError error

	Closed     bool
	WriteCalls int

	// BlockReads makes Read wait for data or Close instead of returning
	// io.EOF on an empty buffer.
	BlockReads bool

	readCond *sync.Cond
}

func NewTestableSerialPort() *TestableSerialPort {
	tsp := &TestableSerialPort{
		ReadBuffer:  bytes.NewBuffer(nil),
		WriteBuffer: bytes.NewBuffer(nil),
		BlockReads:  true,
	}
	tsp.readCond = sync.NewCond(&tsp.mu)
	return tsp
}

var errPortClosed = errors.New("serial port closed")

func (t *TestableSerialPort) Read(p []byte) (n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.ReadError != nil {
		err := t.ReadError
		t.ReadError = nil
		return 0, err
	}
	for t.BlockReads && !t.Closed && t.ReadBuffer.Len() == 0 {
		t.readCond.Wait()
	}
	if t.Closed {
		return 0, errPortClosed
	}
	return t.ReadBuffer.Read(p)
}

func (t *TestableSerialPort) Write(p []byte) (n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.WriteCalls++
	if t.Closed {
		return 0, errPortClosed
	}
	if t.WriteError != nil {
		err := t.WriteError
		t.WriteError = nil
		return 0, err
	}
	return t.WriteBuffer.Write(p)
}

func (t *TestableSerialPort) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.Closed = true
	t.readCond.Broadcast()
	return t.CloseError
}

// AddReadData queues data for subsequent reads.
func (t *TestableSerialPort) AddReadData(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadBuffer.Write(data)
	t.readCond.Broadcast()
}

// Written returns everything written to the port so far.
func (t *TestableSerialPort) Written() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.WriteBuffer.String()
}
