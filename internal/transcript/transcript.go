package transcript

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrReadTimeout is returned by Source.ReadLine when no complete line
// arrived within the per-read timeout.
var ErrReadTimeout = errors.New("transcript: read timeout")

// Line is one line of output from a live device or process.
type Line struct {
	Text string
	At   time.Time
}

// Source is a line-oriented transcript: a serial console or the stdout of
// a simulator process.
type Source interface {
	// ReadLine returns the next raw line without its trailing newline.
	// It returns ErrReadTimeout when nothing arrived within timeout, and
	// io.EOF once the source is exhausted.
	ReadLine(timeout time.Duration) ([]byte, error)
	Close() error
}

// Opener acquires a Source. The caller owns the returned Source and must
// close it.
type Opener func(ctx context.Context) (Source, error)

// Deferred is an Opener whose Source is supplied later, once the deploy
// step has launched the process producing it.
type Deferred struct {
	once  sync.Once
	ready chan struct{}
	src   Source
	err   error
}

// NewDeferred returns an empty Deferred.
func NewDeferred() *Deferred {
	return &Deferred{ready: make(chan struct{})}
}

// Provide hands the launched source (or the launch error) to the waiting
// opener. Only the first call has effect.
func (d *Deferred) Provide(src Source, err error) {
	provided := false
	d.once.Do(func() {
		d.src, d.err = src, err
		close(d.ready)
		provided = true
	})
	if !provided && src != nil {
		src.Close()
	}
}

// Open blocks until Provide is called or ctx is done.
func (d *Deferred) Open(ctx context.Context) (Source, error) {
	select {
	case <-d.ready:
		return d.src, d.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
