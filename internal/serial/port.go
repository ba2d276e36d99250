package serial

import (
	"bytes"
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/buckleypaul/sdkrun/internal/transcript"
)

// pollInterval is the serial driver read timeout. ReadLine loops over
// short reads so it can honour its own per-call timeout.
const pollInterval = 100 * time.Millisecond

// maxLine bounds a line that never sees a newline, e.g. a board spewing
// binary garbage.
const maxLine = 4096

// device is the subset of serial.Port used here.
type device interface {
	Read(p []byte) (int, error)
	SetReadTimeout(t time.Duration) error
	Close() error
}

// Port is a serial console read line by line. It implements
// transcript.Source.
type Port struct {
	dev      device
	portName string

	mu      sync.Mutex
	pending []byte
	closed  bool
}

var _ transcript.Source = (*Port)(nil)

// Open opens portName at baudRate with 8N1 framing.
func Open(portName string, baudRate int) (*Port, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	p, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", portName, err)
	}
	port, err := newPort(p, portName)
	if err != nil {
		p.Close()
		return nil, err
	}
	return port, nil
}

func newPort(dev device, portName string) (*Port, error) {
	if err := dev.SetReadTimeout(pollInterval); err != nil {
		return nil, fmt.Errorf("set read timeout on %s: %w", portName, err)
	}
	return &Port{dev: dev, portName: portName}, nil
}

// ReadLine returns the next newline-terminated line without its newline.
// A partial line is kept for the next call when timeout elapses.
func (p *Port) ReadLine(timeout time.Duration) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, io.EOF
	}

	deadline := time.Now().Add(timeout)
	buf := make([]byte, 256)
	for {
		if line, ok := p.takeLine(); ok {
			return line, nil
		}
		if time.Now().After(deadline) {
			return nil, transcript.ErrReadTimeout
		}

		n, err := p.dev.Read(buf)
		if n > 0 {
			p.pending = append(p.pending, buf[:n]...)
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", p.portName, err)
		}
		// A zero read with no error is the driver timeout.
	}
}

func (p *Port) takeLine() ([]byte, bool) {
	i := bytes.IndexByte(p.pending, '\n')
	if i < 0 {
		if len(p.pending) < maxLine {
			return nil, false
		}
		i = maxLine - 1
	}
	line := make([]byte, i+1)
	copy(line, p.pending[:i+1])
	p.pending = p.pending[i+1:]
	return bytes.TrimRight(line, "\r\n"), true
}

// Close releases the device. It is safe to call more than once.
func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.dev.Close()
}
