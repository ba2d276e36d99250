package monitor

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/buckleypaul/sdkrun/internal/logcheck"
	"github.com/buckleypaul/sdkrun/internal/transcript"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type step struct {
	line  string
	delay time.Duration
}

// fakeSource replays scripted lines. Once exhausted it returns end, or
// stays silent when end is nil.
type fakeSource struct {
	mu     sync.Mutex
	steps  []step
	end    error
	closed bool
}

func (f *fakeSource) ReadLine(timeout time.Duration) ([]byte, error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, io.EOF
	}
	if len(f.steps) == 0 {
		end := f.end
		f.mu.Unlock()
		if end != nil {
			return nil, end
		}
		time.Sleep(timeout)
		return nil, transcript.ErrReadTimeout
	}
	st := f.steps[0]
	if st.delay > timeout {
		f.steps[0].delay -= timeout
		f.mu.Unlock()
		time.Sleep(timeout)
		return nil, transcript.ErrReadTimeout
	}
	f.steps = f.steps[1:]
	f.mu.Unlock()
	time.Sleep(st.delay)
	return []byte(st.line), nil
}

func (f *fakeSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSource) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func openerFor(src transcript.Source) transcript.Opener {
	return func(context.Context) (transcript.Source, error) { return src, nil }
}

func bannerAt(t time.Time) string {
	return logcheck.DefaultBannerTag + " " + t.Format(logcheck.BannerLayout)
}

func testConfig() Config {
	return Config{
		Timeout:       2 * time.Second,
		BannerTimeout: time.Second,
		BannerCheck:   true,
		Checkpoint:    time.Now().Add(-2 * time.Second),
		Checks:        logcheck.Checks{Pass: []string{"all test are passed"}, Fail: []string{"MEPC:"}},
		ReadTimeout:   10 * time.Millisecond,
		Grace:         50 * time.Millisecond,
	}
}

func TestMonitorPassAfterFreshBanner(t *testing.T) {
	src := &fakeSource{steps: []step{
		{line: "junk from previous run"},
		{line: "all test are passed"}, // before the banner, ignored
		{line: bannerAt(time.Now())},
		{line: "running case 1"},
		{line: "all test are passed"},
		{line: "trailing diagnostics"},
	}}
	started := time.Now()
	task := Start(context.Background(), testConfig(), openerFor(src))
	task.ArmBanner()
	out := task.Wait()

	if out.Status != StatusPass {
		t.Fatalf("expected PASS, got=%s", out.Status)
	}
	if out.VerdictAt.Before(started) || out.VerdictAt.After(time.Now()) {
		t.Errorf("expected verdict time within the run, got=%s", out.VerdictAt)
	}
	if !out.BannerSeen {
		t.Error("expected banner seen")
	}
	if out.TimedOut {
		t.Error("expected no timeout")
	}
	if !strings.HasPrefix(out.Log, logcheck.DefaultBannerTag) {
		t.Errorf("expected log to start at the banner, got=%q", out.Log)
	}
	if !strings.Contains(out.Log, "trailing diagnostics") {
		t.Errorf("expected grace window to capture trailing lines, got=%q", out.Log)
	}
	if strings.Contains(out.Log, "junk") {
		t.Errorf("expected pre-banner lines excluded, got=%q", out.Log)
	}
	if !src.isClosed() {
		t.Error("expected source closed")
	}
}

func TestMonitorFailBeforePass(t *testing.T) {
	src := &fakeSource{steps: []step{
		{line: bannerAt(time.Now())},
		{line: "MEPC: 0x80001234"},
		{line: "all test are passed"},
	}}
	out := Start(context.Background(), testConfig(), openerFor(src)).Wait()

	if out.Status != StatusFail {
		t.Fatalf("expected FAIL, got=%s", out.Status)
	}
	if out.MatchedLine != "MEPC: 0x80001234" {
		t.Errorf("unexpected matched line %q", out.MatchedLine)
	}
}

func TestMonitorIgnoresStaleBanner(t *testing.T) {
	cfg := testConfig()
	cfg.Checkpoint = time.Now()
	cfg.BannerTimeout = 100 * time.Millisecond

	src := &fakeSource{steps: []step{
		{line: bannerAt(time.Now().Add(-time.Hour))},
		{line: "all test are passed"},
	}}
	task := Start(context.Background(), cfg, openerFor(src))
	task.ArmBanner()
	out := task.Wait()

	if out.BannerSeen {
		t.Error("stale banner must not be accepted")
	}
	if out.Status != StatusBannerTimeout {
		t.Errorf("expected BANNER_TIMEOUT, got=%s", out.Status)
	}
}

func TestMonitorBannerTimerStartsOnArm(t *testing.T) {
	cfg := testConfig()
	cfg.BannerTimeout = 150 * time.Millisecond

	src := &fakeSource{steps: []step{
		{line: bannerAt(time.Now()), delay: 300 * time.Millisecond},
		{line: "all test are passed"},
	}}
	task := Start(context.Background(), cfg, openerFor(src))

	// Upload time longer than the banner window is not charged to it.
	time.Sleep(250 * time.Millisecond)
	task.ArmBanner()
	out := task.Wait()

	if out.Status != StatusPass {
		t.Errorf("expected PASS, got=%s", out.Status)
	}
}

func TestMonitorTimeoutWithoutVerdict(t *testing.T) {
	cfg := testConfig()
	cfg.Timeout = 100 * time.Millisecond

	src := &fakeSource{steps: []step{{line: bannerAt(time.Now())}, {line: "still going"}}}
	start := time.Now()
	out := Start(context.Background(), cfg, openerFor(src)).Wait()

	if out.Status != StatusFail || !out.TimedOut {
		t.Errorf("expected timed out FAIL, got=%s timedOut=%v", out.Status, out.TimedOut)
	}
	if time.Since(start) > time.Second {
		t.Errorf("monitor overran its deadline: %s", time.Since(start))
	}
}

func TestMonitorOpenFailureIsTTYError(t *testing.T) {
	open := func(context.Context) (transcript.Source, error) {
		return nil, errors.New("open /dev/ttyUSB1: device busy")
	}
	out := Start(context.Background(), testConfig(), open).Wait()
	if out.Status != StatusTTYError {
		t.Errorf("expected TTY_ERROR, got=%s", out.Status)
	}
	if out.Err == "" {
		t.Error("expected error text recorded")
	}
}

func TestMonitorReadErrorIsUnknown(t *testing.T) {
	src := &fakeSource{end: errors.New("input/output error")}
	out := Start(context.Background(), testConfig(), openerFor(src)).Wait()
	if out.Status != StatusUnknownError {
		t.Errorf("expected UNKNOWN_ERROR, got=%s", out.Status)
	}
	if !src.isClosed() {
		t.Error("expected source closed on error path")
	}
}

func TestMonitorEOF(t *testing.T) {
	cfg := testConfig()
	cfg.BannerCheck = false

	src := &fakeSource{steps: []step{{line: "hello"}}, end: io.EOF}
	out := Start(context.Background(), cfg, openerFor(src)).Wait()
	if out.Status != StatusFail || out.TimedOut {
		t.Errorf("expected FAIL without timeout at EOF, got=%s timedOut=%v", out.Status, out.TimedOut)
	}
}

func TestMonitorBannerCheckDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.BannerCheck = false

	src := &fakeSource{steps: []step{{line: "all test are passed"}}}
	out := Start(context.Background(), cfg, openerFor(src)).Wait()
	if out.Status != StatusPass {
		t.Errorf("expected PASS, got=%s", out.Status)
	}
}

func TestMonitorCancel(t *testing.T) {
	src := &fakeSource{}
	task := Start(context.Background(), testConfig(), openerFor(src))

	if out, ok := task.Poll(); ok || out.Status != StatusStillRunning {
		t.Fatalf("expected STILL_RUNNING before finish, got=%s", out.Status)
	}

	task.Cancel()
	select {
	case <-task.Done():
	case <-time.After(time.Second):
		t.Fatal("cancel not observed")
	}
	out, ok := task.Poll()
	if !ok || !out.Cancelled {
		t.Errorf("expected cancelled outcome, got=%+v", out)
	}
	if !src.isClosed() {
		t.Error("expected source closed after cancel")
	}
}

func TestMonitorCancelWhileWaitingForSource(t *testing.T) {
	d := transcript.NewDeferred()
	task := Start(context.Background(), testConfig(), d.Open)
	task.Cancel()
	d.Provide(nil, errors.New("launch failed"))

	out := task.Wait()
	if !out.Cancelled || out.Status == StatusTTYError {
		t.Errorf("expected cancelled outcome, got=%+v", out)
	}
}

func TestMonitorWritesLogFile(t *testing.T) {
	cfg := testConfig()
	cfg.BannerCheck = false
	cfg.LogFile = filepath.Join(t.TempDir(), "serial.log")

	src := &fakeSource{steps: []step{{line: "line one"}, {line: "all test are passed"}}}
	Start(context.Background(), cfg, openerFor(src)).Wait()

	data, err := os.ReadFile(cfg.LogFile)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "line one\nall test are passed\n" {
		t.Errorf("unexpected log content %q", data)
	}
}
