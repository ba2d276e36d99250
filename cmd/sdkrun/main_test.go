package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/buckleypaul/sdkrun/internal/harness"
	"github.com/buckleypaul/sdkrun/internal/store"
)

func quietLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func passingReport() *harness.RunReport {
	return &harness.RunReport{Results: []harness.CaseResult{
		{Spec: harness.CaseSpec{ID: "a"}, BuildPassed: true, RunAttempted: true, RunPassed: true},
	}}
}

func TestExitFor(t *testing.T) {
	failing := &harness.RunReport{Results: []harness.CaseResult{
		{Spec: harness.CaseSpec{ID: "a"}, BuildPassed: true, RunAttempted: true},
	}}
	knownFailure := &harness.RunReport{Results: []harness.CaseResult{
		{Spec: harness.CaseSpec{ID: "a", Expected: &harness.Expectation{Build: true, Run: false}}, BuildPassed: true, RunAttempted: true},
	}}

	tests := []struct {
		name string
		rep  *harness.RunReport
		err  error
		code int // -1 for success
	}{
		{"all passed", passingReport(), nil, -1},
		{"unexpected failure", failing, nil, exitFailure},
		{"expected failure", knownFailure, nil, -1},
		{"interrupted", failing, harness.ErrInterrupted, exitInterrupted},
		{"aborted", failing, &harness.AbortError{Counter: harness.CounterTTY, Count: 4, Ceiling: 3}, exitFailure},
		{"sink error", passingReport(), multierr.Append(nil, errors.New("disk full")), exitFailure},
		{"no report", nil, nil, exitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := exitFor(tt.rep, tt.err, quietLog())
			if tt.code < 0 {
				if err != nil {
					t.Fatalf("expected success, got %v", err)
				}
				return
			}
			var exit *exitError
			if !errors.As(err, &exit) {
				t.Fatalf("expected *exitError, got %v", err)
			}
			if exit.Code != tt.code {
				t.Errorf("expected code %d, got %d", tt.code, exit.Code)
			}
		})
	}
}

func TestExitErrorMessage(t *testing.T) {
	err := wrapExit(exitCommandError, "load run configuration", errors.New("no appdirs"))
	if got := err.Error(); got != "load run configuration: no appdirs" {
		t.Errorf("unexpected message %q", got)
	}
	if got := wrapExit(exitFailure, "", errors.New("boom")).Error(); got != "boom" {
		t.Errorf("unexpected message %q", got)
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestHistoryEmpty(t *testing.T) {
	out, err := execute(t, "history", "--workspace", t.TempDir())
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if !strings.Contains(out, "No runs recorded") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestHistoryListsRuns(t *testing.T) {
	ws := t.TempDir()
	st := store.New(ws + "/.sdkrun")
	rep := passingReport()
	rep.RunID = "run-42"
	rep.Started = time.Now().Add(-time.Hour)
	rep.Finished = rep.Started.Add(time.Minute)
	if err := st.Write(context.Background(), rep); err != nil {
		t.Fatalf("store write: %v", err)
	}

	out, err := execute(t, "history", "--workspace", ws)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if !strings.Contains(out, "run-42") || !strings.Contains(out, "pass") {
		t.Errorf("expected run-42 in output, got:\n%s", out)
	}

	out, err = execute(t, "history", "--workspace", ws, "run-42")
	if err != nil {
		t.Fatalf("history run-42: %v", err)
	}
	if !strings.Contains(out, "1 case passed, 0 failed") {
		t.Errorf("expected run summary, got:\n%s", out)
	}
}

func TestInvalidLogLevel(t *testing.T) {
	_, err := execute(t, "history", "--workspace", t.TempDir(), "--log-level", "loud")
	var exit *exitError
	if !errors.As(err, &exit) || exit.Code != exitCommandError {
		t.Fatalf("expected command error, got %v", err)
	}
}

func TestRunRequiresConfig(t *testing.T) {
	if _, err := execute(t, "run", "--workspace", t.TempDir()); err == nil {
		t.Fatal("expected an error without --config")
	}
}

func TestRunMissingConfigFile(t *testing.T) {
	_, err := execute(t, "run", "--workspace", t.TempDir(), "--config", "/nonexistent/run.yaml")
	var exit *exitError
	if !errors.As(err, &exit) || exit.Code != exitCommandError {
		t.Fatalf("expected command error, got %v", err)
	}
}
