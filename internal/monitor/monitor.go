// Package monitor watches a live transcript for the boot banner and the
// configured pass/fail markers while a binary is being deployed.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/buckleypaul/sdkrun/internal/logcheck"
	"github.com/buckleypaul/sdkrun/internal/transcript"
)

// Status is the result of one monitor run.
type Status int

const (
	StatusStillRunning Status = iota
	StatusPass
	StatusFail
	StatusBannerTimeout
	StatusTTYError
	StatusUnknownError
)

func (s Status) String() string {
	switch s {
	case StatusStillRunning:
		return "STILL_RUNNING"
	case StatusPass:
		return "PASS"
	case StatusFail:
		return "FAIL"
	case StatusBannerTimeout:
		return "BANNER_TIMEOUT"
	case StatusTTYError:
		return "TTY_ERROR"
	case StatusUnknownError:
		return "UNKNOWN_ERROR"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// MarshalText renders the status name in JSON reports.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	for c := StatusStillRunning; c <= StatusUnknownError; c++ {
		if c.String() == string(text) {
			*s = c
			return nil
		}
	}
	return fmt.Errorf("unknown monitor status %q", text)
}

const (
	DefaultReadTimeout = 500 * time.Millisecond
	DefaultGrace       = 2 * time.Second
)

// Config controls a monitor run.
type Config struct {
	Timeout       time.Duration // overall run deadline
	BannerTimeout time.Duration // measured from ArmBanner
	BannerCheck   bool          // wait for a fresh banner before matching
	BannerTag     string
	Checkpoint    time.Time // banners stamped before this are stale
	Checks        logcheck.Checks
	ReadTimeout   time.Duration
	Grace         time.Duration // capture window after the first verdict
	LogFile       string
	Echo          io.Writer
	Logger        *logrus.Entry
}

func (c *Config) setDefaults() {
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.Grace <= 0 {
		c.Grace = DefaultGrace
	}
	if c.BannerTag == "" {
		c.BannerTag = logcheck.DefaultBannerTag
	}
	if c.Logger == nil {
		c.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
}

// Outcome is the immutable result of a finished monitor run.
type Outcome struct {
	Status      Status        `json:"status"`
	MatchedLine string        `json:"matched_line,omitempty"`
	VerdictAt   time.Time     `json:"verdict_at,omitempty"` // when MatchedLine arrived
	Log         string        `json:"-"`
	BannerSeen  bool          `json:"banner_seen"`
	BannerTime  time.Time     `json:"banner_time,omitempty"`
	TimedOut    bool          `json:"timed_out,omitempty"`
	Cancelled   bool          `json:"cancelled,omitempty"`
	Elapsed     time.Duration `json:"elapsed"`
	Err         string        `json:"error,omitempty"`
}

// Passed reports whether a pass marker was matched.
func (o Outcome) Passed() bool { return o.Status == StatusPass }

// Task is a running monitor.
type Task struct {
	cfg    Config
	open   transcript.Opener
	log    *logrus.Entry
	ctx    context.Context
	cancel context.CancelFunc

	cancelled atomic.Bool

	mu            sync.Mutex
	bannerArmedAt time.Time

	done    chan struct{}
	outcome Outcome
}

// Start launches a monitor goroutine reading from the source returned by
// open. The source is closed before the task completes.
func Start(ctx context.Context, cfg Config, open transcript.Opener) *Task {
	cfg.setDefaults()
	tctx, cancel := context.WithCancel(ctx)
	t := &Task{
		cfg:    cfg,
		open:   open,
		log:    cfg.Logger,
		ctx:    tctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go t.run()
	return t
}

// Cancel asks the monitor to stop. It is observed within one read timeout.
func (t *Task) Cancel() {
	t.cancelled.Store(true)
	t.cancel()
}

// ArmBanner starts the banner sub-timer. Only the first call counts.
func (t *Task) ArmBanner() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bannerArmedAt.IsZero() {
		t.bannerArmedAt = time.Now()
	}
}

func (t *Task) bannerArmed() (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bannerArmedAt, !t.bannerArmedAt.IsZero()
}

// Done is closed once the outcome is available.
func (t *Task) Done() <-chan struct{} { return t.done }

// Wait blocks until the monitor finishes.
func (t *Task) Wait() Outcome {
	<-t.done
	return t.outcome
}

// Poll returns the outcome if the monitor has finished. Otherwise the
// returned outcome has StatusStillRunning and ok is false.
func (t *Task) Poll() (Outcome, bool) {
	select {
	case <-t.done:
		return t.outcome, true
	default:
		return Outcome{Status: StatusStillRunning}, false
	}
}

type session struct {
	cfg     Config
	start   time.Time
	alive   bool
	tracker *logcheck.Tracker
	lines   []transcript.Line
	logFile *os.File
	out     Outcome
}

func (t *Task) run() {
	defer close(t.done)
	defer t.cancel()

	s := &session{
		cfg:     t.cfg,
		start:   time.Now(),
		alive:   !t.cfg.BannerCheck,
		tracker: logcheck.NewTracker(t.cfg.Checks),
	}
	t.outcome = t.watch(s)
	t.outcome.Elapsed = time.Since(s.start)
	t.log.WithField("status", t.outcome.Status).Debugf("Monitor finished after %s", t.outcome.Elapsed.Round(time.Millisecond))
}

func (t *Task) watch(s *session) Outcome {
	src, err := t.open(t.ctx)
	if err != nil {
		if t.cancelled.Load() || errors.Is(err, context.Canceled) {
			return Outcome{Status: StatusFail, Cancelled: true}
		}
		t.log.WithError(err).Warn("Unable to open transcript source")
		return Outcome{Status: StatusTTYError, Err: err.Error()}
	}
	defer src.Close()

	if s.cfg.LogFile != "" {
		f, err := os.OpenFile(s.cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			t.log.WithError(err).Warn("Unable to open monitor log")
		} else {
			s.logFile = f
			defer f.Close()
		}
	}

	deadline := s.start.Add(s.cfg.Timeout)
	graceStarted := false

	for {
		if t.cancelled.Load() {
			out := s.finish()
			out.Cancelled = true
			return out
		}

		now := time.Now()
		if !now.Before(deadline) {
			out := s.finish()
			out.TimedOut = !graceStarted
			return out
		}
		if !s.alive {
			if armedAt, ok := t.bannerArmed(); ok && now.Sub(armedAt) > s.cfg.BannerTimeout {
				t.log.Infof("No SDK banner found in %s", s.cfg.BannerTimeout)
				return Outcome{Status: StatusBannerTimeout, Log: s.text()}
			}
		}

		raw, err := src.ReadLine(s.cfg.ReadTimeout)
		if errors.Is(err, transcript.ErrReadTimeout) {
			continue
		}
		if errors.Is(err, io.EOF) {
			return s.finish()
		}
		if err != nil {
			t.log.WithError(err).Warn("Transcript read failed")
			out := s.finish()
			out.Status = StatusUnknownError
			out.Err = err.Error()
			return out
		}

		line := transcript.Decode(raw)
		s.record(line)

		if !s.alive {
			t.checkBanner(s, line)
			continue
		}

		at := s.appendLog(line)
		if s.tracker.Feed(line) {
			s.out.VerdictAt = at
			// Keep capturing trailing diagnostics for a short while.
			deadline = time.Now().Add(s.cfg.Grace)
			graceStarted = true
		}
	}
}

func (t *Task) checkBanner(s *session, line string) {
	stamp, raw, ok := logcheck.FindBanner(line, s.cfg.BannerTag)
	if !ok {
		if raw != "" {
			t.log.Debugf("Unparsable banner timestamp %q", raw)
		}
		return
	}
	if !logcheck.Fresh(stamp, s.cfg.Checkpoint) {
		t.log.Debugf("Ignoring stale banner from %s", raw)
		return
	}
	s.alive = true
	s.out.BannerSeen = true
	s.out.BannerTime = stamp
	s.appendLog(s.cfg.BannerTag + " " + raw)
}

func (s *session) record(line string) {
	if s.logFile != nil {
		fmt.Fprintln(s.logFile, line)
	}
	if s.cfg.Echo != nil {
		fmt.Fprintln(s.cfg.Echo, line)
	}
}

func (s *session) appendLog(text string) time.Time {
	line := transcript.Line{Text: text, At: time.Now()}
	s.lines = append(s.lines, line)
	return line.At
}

func (s *session) text() string {
	var b strings.Builder
	for _, l := range s.lines {
		b.WriteString(l.Text)
		b.WriteByte('\n')
	}
	return b.String()
}

// finish builds the outcome from the classification reached so far. No
// verdict means the pass criteria were not met.
func (s *session) finish() Outcome {
	out := s.out
	out.Log = s.text()
	switch s.tracker.Verdict() {
	case logcheck.VerdictPass:
		out.Status = StatusPass
	default:
		out.Status = StatusFail
	}
	out.MatchedLine = s.tracker.Line()
	return out
}
