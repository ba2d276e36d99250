package app

import (
	"bytes"
	"strings"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/buckleypaul/sdkrun/internal/harness"
)

// Sender delivers messages to a running program. *tea.Program implements
// it.
type Sender interface {
	Send(msg tea.Msg)
}

// Observe returns a loop observer forwarding every event to s.
func Observe(s Sender) func(harness.Event) {
	return func(ev harness.Event) {
		s.Send(EventMsg{Event: ev})
	}
}

// LineWriter forwards complete lines written to it as LogLineMsg. It is
// safe for concurrent use by the build, deploy and monitor echoes.
type LineWriter struct {
	s   Sender
	mu  sync.Mutex
	buf []byte
}

func NewLineWriter(s Sender) *LineWriter {
	return &LineWriter{s: s}
}

func (w *LineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimRight(string(w.buf[:i]), "\r")
		w.buf = w.buf[i+1:]
		w.s.Send(LogLineMsg{Line: line})
	}
	return len(p), nil
}

// Flush sends a trailing partial line, if any.
func (w *LineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buf) > 0 {
		w.s.Send(LogLineMsg{Line: string(w.buf)})
		w.buf = nil
	}
}
