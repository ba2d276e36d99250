package runner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/buckleypaul/sdkrun/internal/transcript"
)

// Process is a command started asynchronously whose combined output is
// consumed line by line. It implements transcript.Source.
type Process struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	log    *os.File
	start  time.Time

	lines   chan []byte
	quit    chan struct{}
	done    chan struct{}
	readErr error
	result  Result

	closeOnce sync.Once
}

var _ transcript.Source = (*Process)(nil)

// Start launches argv and returns immediately. Output is teed to
// opts.LogFile when set. opts.Timeout is ignored; callers enforce their own
// deadlines through ReadLine and Close. Cancelling ctx kills the tree.
func Start(ctx context.Context, argv []string, opts Options) (*Process, error) {
	if len(argv) == 0 || argv[0] == "" {
		return nil, errors.New("empty command")
	}

	p := &Process{
		lines: make(chan []byte, 256),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
		start: time.Now(),
	}

	if opts.LogFile != "" {
		flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
		if opts.Append {
			flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
		}
		f, err := os.OpenFile(opts.LogFile, flags, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log %s: %w", opts.LogFile, err)
		}
		fmt.Fprintf(f, "Execute Command %s\n", strings.Join(argv, " "))
		p.log = f
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = opts.Dir
	if opts.Env != nil {
		cmd.Env = opts.Env
	}
	setProcessGroup(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		p.closeLog()
		return nil, err
	}
	cmd.Stderr = cmd.Stdout // merge stderr into stdout

	if err := cmd.Start(); err != nil {
		p.closeLog()
		return nil, fmt.Errorf("%s: %w", argv[0], err)
	}
	p.cmd = cmd
	p.stdout = stdout

	go p.readLoop(opts.Echo)
	go func() {
		select {
		case <-ctx.Done():
			p.Close()
		case <-p.done:
		}
	}()
	return p, nil
}

func (p *Process) readLoop(echo io.Writer) {
	defer close(p.done)

	r := bufio.NewReader(p.stdout)
	var err error
	for {
		var line []byte
		line, err = r.ReadBytes('\n')
		if len(line) > 0 {
			if p.log != nil {
				p.log.Write(line)
			}
			if echo != nil {
				echo.Write(line)
			}
			select {
			case p.lines <- trimNewline(line):
			case <-p.quit:
			}
		}
		if err != nil {
			break
		}
	}

	if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
		err = io.EOF
	}
	p.readErr = err
	close(p.lines)

	p.result = exitResult(p.cmd.Wait(), time.Since(p.start))
	p.closeLog()
}

// ReadLine returns the next output line, transcript.ErrReadTimeout when
// none arrives within timeout, or io.EOF once output is closed.
func (p *Process) ReadLine(timeout time.Duration) ([]byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case line, ok := <-p.lines:
		if !ok {
			return nil, p.readErr
		}
		return line, nil
	case <-timer.C:
		return nil, transcript.ErrReadTimeout
	}
}

// Close kills the process tree and waits for it to be reaped.
func (p *Process) Close() error {
	p.closeOnce.Do(func() {
		close(p.quit)
		killTree(p.cmd.Process)
		// Unblocks the reader if a stray descendant still holds the pipe.
		p.stdout.Close()
	})
	<-p.done
	return nil
}

// Wait blocks until the process has exited and returns how it ended.
func (p *Process) Wait() Result {
	<-p.done
	return p.result
}

func (p *Process) closeLog() {
	if p.log != nil {
		p.log.Close()
		p.log = nil
	}
}

func trimNewline(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	for len(out) > 0 && (out[len(out)-1] == '\n' || out[len(out)-1] == '\r') {
		out = out[:len(out)-1]
	}
	return out
}
