package runner

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/buckleypaul/sdkrun/internal/transcript"
)

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
}

func TestRunOK(t *testing.T) {
	skipOnWindows(t)
	logFile := filepath.Join(t.TempDir(), "build.log")

	res := Run(context.Background(), []string{"sh", "-c", "echo hello; echo oops >&2"}, Options{LogFile: logFile})
	if !res.OK() {
		t.Fatalf("expected ok, got=%s (%v)", res.Status, res.Err)
	}

	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatal(err)
	}
	log := string(data)
	if !strings.HasPrefix(log, "Execute Command sh -c") {
		t.Errorf("expected command header, got=%q", log)
	}
	if !strings.Contains(log, "hello") || !strings.Contains(log, "oops") {
		t.Errorf("expected stdout and stderr in log, got=%q", log)
	}
}

func TestRunNonZeroExit(t *testing.T) {
	skipOnWindows(t)
	res := Run(context.Background(), []string{"sh", "-c", "exit 3"}, Options{})
	if res.Status != StatusFailed {
		t.Errorf("expected failed, got=%s", res.Status)
	}
	if res.ExitCode != 3 {
		t.Errorf("expected exit code 3, got=%d", res.ExitCode)
	}
}

func TestRunInvalid(t *testing.T) {
	if res := Run(context.Background(), nil, Options{}); res.Status != StatusInvalid {
		t.Errorf("expected invalid for empty argv, got=%s", res.Status)
	}
	res := Run(context.Background(), []string{"/nonexistent/tool-xyz"}, Options{})
	if res.Status != StatusInvalid {
		t.Errorf("expected invalid for missing binary, got=%s", res.Status)
	}
}

func TestRunAppendsLog(t *testing.T) {
	skipOnWindows(t)
	logFile := filepath.Join(t.TempDir(), "run.log")

	Run(context.Background(), []string{"sh", "-c", "echo first"}, Options{LogFile: logFile})
	Run(context.Background(), []string{"sh", "-c", "echo second"}, Options{LogFile: logFile, Append: true})

	data, _ := os.ReadFile(logFile)
	if !strings.Contains(string(data), "first") || !strings.Contains(string(data), "second") {
		t.Errorf("expected both runs in log, got=%q", data)
	}
}

func TestRunEcho(t *testing.T) {
	skipOnWindows(t)
	var buf bytes.Buffer
	Run(context.Background(), []string{"sh", "-c", "echo visible"}, Options{Echo: &buf})
	if !strings.Contains(buf.String(), "visible") {
		t.Errorf("expected echoed output, got=%q", buf.String())
	}
}

// processGone reports whether pid no longer exists or is a zombie.
func processGone(pid int) bool {
	data, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/stat")
	if err != nil {
		return true
	}
	// Field 3 follows the parenthesised command name.
	s := string(data)
	if i := strings.LastIndexByte(s, ')'); i >= 0 && i+2 < len(s) {
		return s[i+2] == 'Z'
	}
	return false
}

func TestRunTimeoutKillsTree(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("process check uses /proc")
	}
	pidFile := filepath.Join(t.TempDir(), "child.pid")
	script := "sleep 30 & echo $! > " + pidFile + "; wait"

	timeout := 300 * time.Millisecond
	start := time.Now()
	res := Run(context.Background(), []string{"sh", "-c", script}, Options{Timeout: timeout})
	elapsed := time.Since(start)

	if res.Status != StatusTimeout {
		t.Fatalf("expected timeout, got=%s", res.Status)
	}
	if elapsed > timeout+2*time.Second {
		t.Errorf("expected return shortly after timeout, took %s", elapsed)
	}

	data, err := os.ReadFile(pidFile)
	if err != nil {
		t.Fatalf("child pid not recorded: %v", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for !processGone(pid) {
		if time.Now().After(deadline) {
			t.Fatalf("descendant %d still running after timeout", pid)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestRunInterrupted(t *testing.T) {
	skipOnWindows(t)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	res := Run(ctx, []string{"sh", "-c", "sleep 30"}, Options{})
	if res.Status != StatusInterrupted {
		t.Errorf("expected interrupted, got=%s", res.Status)
	}
}

func TestStartReadLine(t *testing.T) {
	skipOnWindows(t)
	logFile := filepath.Join(t.TempDir(), "sim.log")
	p, err := Start(context.Background(), []string{"sh", "-c", "echo one; sleep 0.3; echo two"}, Options{LogFile: logFile})
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	line, err := p.ReadLine(2 * time.Second)
	if err != nil || string(line) != "one" {
		t.Fatalf("expected first line, got=%q err=%v", line, err)
	}

	if _, err := p.ReadLine(50 * time.Millisecond); !errors.Is(err, transcript.ErrReadTimeout) {
		t.Errorf("expected read timeout while child sleeps, got=%v", err)
	}

	line, err = p.ReadLine(2 * time.Second)
	if err != nil || string(line) != "two" {
		t.Fatalf("expected second line, got=%q err=%v", line, err)
	}

	if _, err := p.ReadLine(2 * time.Second); !errors.Is(err, io.EOF) {
		t.Errorf("expected EOF after exit, got=%v", err)
	}
	if res := p.Wait(); !res.OK() {
		t.Errorf("expected clean exit, got=%s", res.Status)
	}

	data, _ := os.ReadFile(logFile)
	if !strings.Contains(string(data), "one\ntwo\n") {
		t.Errorf("expected output teed to log, got=%q", data)
	}
}

func TestStartCloseKillsSilentProcess(t *testing.T) {
	skipOnWindows(t)
	p, err := Start(context.Background(), []string{"sh", "-c", "sleep 30"}, Options{})
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		p.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Close did not return")
	}
	if res := p.Wait(); res.OK() {
		t.Error("expected killed process not to report ok")
	}
}

func TestEnvWithPath(t *testing.T) {
	if got := EnvWithPath("", ""); got != nil {
		t.Errorf("expected nil env without directories, got %d entries", len(got))
	}

	env := EnvWithPath("/opt/gcc/bin")
	for _, e := range env {
		if strings.HasPrefix(e, "PATH=") {
			if !strings.HasPrefix(e[5:], "/opt/gcc/bin") {
				t.Errorf("PATH does not start with toolchain dir\nPATH=%s", e[5:])
			}
			return
		}
	}
	t.Error("PATH not found in env")
}

func TestToolchainBinDir(t *testing.T) {
	skipOnWindows(t)
	root := t.TempDir()
	if got := ToolchainBinDir(root); got != "" {
		t.Errorf("expected no toolchain, got=%q", got)
	}

	bin := filepath.Join(root, "gcc", "bin")
	if err := os.MkdirAll(bin, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(bin, "riscv64-unknown-elf-gcc"), []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	if got := ToolchainBinDir(root); got != bin {
		t.Errorf("expected %q, got=%q", bin, got)
	}
}

func TestWithVars(t *testing.T) {
	env := WithVars([]string{"A=1", "B=2"}, map[string]string{"B": "3"})
	joined := strings.Join(env, ",")
	if joined != "A=1,B=3" {
		t.Errorf("expected B replaced, got=%s", joined)
	}
}
