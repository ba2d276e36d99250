package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// Status classifies how a command ended.
type Status int

const (
	StatusOK Status = iota
	StatusInvalid
	StatusFailed
	StatusInterrupted
	StatusException
	StatusTimeout
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusInvalid:
		return "invalid"
	case StatusFailed:
		return "failed"
	case StatusInterrupted:
		return "interrupted"
	case StatusException:
		return "exception"
	case StatusTimeout:
		return "timeout"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// waitDelay bounds how long Wait lingers on output pipes still held open by
// a stray descendant after the process itself is gone.
const waitDelay = 2 * time.Second

// Options controls a single command execution.
type Options struct {
	Dir     string
	Env     []string      // nil inherits the parent environment
	Timeout time.Duration // zero means no timeout
	LogFile string        // combined output is written here when set
	Append  bool          // append to LogFile instead of truncating it
	Echo    io.Writer     // combined output is also copied here when set
}

// Result describes a finished command.
type Result struct {
	Status   Status
	ExitCode int
	Duration time.Duration
	Err      error
}

// OK reports whether the command exited zero.
func (r Result) OK() bool { return r.Status == StatusOK }

// Run executes argv and blocks until it exits, the timeout fires or ctx is
// cancelled. On timeout or cancellation the whole process tree is killed.
func Run(ctx context.Context, argv []string, opts Options) Result {
	start := time.Now()
	if len(argv) == 0 || argv[0] == "" {
		return Result{Status: StatusInvalid, ExitCode: -1, Err: errors.New("empty command")}
	}

	out, closeLog, err := openOutput(argv, opts)
	if err != nil {
		return Result{Status: StatusInvalid, ExitCode: -1, Err: err, Duration: time.Since(start)}
	}
	defer closeLog()

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = opts.Dir
	if opts.Env != nil {
		cmd.Env = opts.Env
	}
	// Same writer for both streams so exec merges them through one pipe.
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.WaitDelay = waitDelay
	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		return Result{Status: StatusInvalid, ExitCode: -1, Err: fmt.Errorf("%s: %w", argv[0], err), Duration: time.Since(start)}
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var timeout <-chan time.Time
	if opts.Timeout > 0 {
		timer := time.NewTimer(opts.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case err := <-done:
		return exitResult(err, time.Since(start))
	case <-timeout:
		killTree(cmd.Process)
		<-done
		return Result{
			Status:   StatusTimeout,
			ExitCode: -1,
			Err:      fmt.Errorf("%s: killed after %s", argv[0], opts.Timeout),
			Duration: time.Since(start),
		}
	case <-ctx.Done():
		killTree(cmd.Process)
		<-done
		status := StatusInterrupted
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			status = StatusTimeout
		}
		return Result{Status: status, ExitCode: -1, Err: ctx.Err(), Duration: time.Since(start)}
	}
}

func exitResult(err error, d time.Duration) Result {
	if err == nil {
		return Result{Status: StatusOK, Duration: d}
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return Result{Status: StatusFailed, ExitCode: exitErr.ExitCode(), Err: err, Duration: d}
	}
	return Result{Status: StatusException, ExitCode: -1, Err: err, Duration: d}
}

// openOutput builds the writer receiving the command's combined output and
// records the command line at the top of the log.
func openOutput(argv []string, opts Options) (io.Writer, func(), error) {
	var writers []io.Writer
	closeFn := func() {}

	if opts.LogFile != "" {
		flags := os.O_CREATE | os.O_WRONLY
		if opts.Append {
			flags |= os.O_APPEND
		} else {
			flags |= os.O_TRUNC
		}
		f, err := os.OpenFile(opts.LogFile, flags, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log %s: %w", opts.LogFile, err)
		}
		fmt.Fprintf(f, "Execute Command %s\n", strings.Join(argv, " "))
		// *os.File is unbuffered: every chunk hits the file before the next
		// read, so killing the tree cannot lose transcript.
		writers = append(writers, f)
		closeFn = func() { f.Close() }
	}
	if opts.Echo != nil {
		writers = append(writers, opts.Echo)
	}
	if len(writers) == 0 {
		return io.Discard, closeFn, nil
	}
	return &syncWriter{w: io.MultiWriter(writers...)}, closeFn, nil
}

type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
