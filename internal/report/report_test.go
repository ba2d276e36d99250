package report

import (
	"bytes"
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/buckleypaul/sdkrun/internal/build"
	"github.com/buckleypaul/sdkrun/internal/harness"
)

func sampleReport() *harness.RunReport {
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	return &harness.RunReport{
		RunID:    "run-1",
		Started:  start,
		Finished: start.Add(90 * time.Second),
		Results: []harness.CaseResult{
			{
				Spec:         harness.CaseSpec{ID: "application/baremetal/helloworld", Backend: "hardware"},
				Artifact:     &build.Artifact{Size: build.Size{Text: 1000, Data: 200, Bss: 48, Total: 1248}},
				BuildPassed:  true,
				RunAttempted: true,
				RunPassed:    true,
				BuildElapsed: 2 * time.Second,
				RunElapsed:   1500 * time.Millisecond,
			},
			{
				Spec:         harness.CaseSpec{ID: "application/baremetal/demo_timer", Backend: "qemu"},
				Artifact:     &build.Artifact{Size: build.UnknownSize()},
				BuildPassed:  true,
				RunAttempted: true,
				Status:       harness.ClassDeviceHung,
				RetryCount:   2,
				BuildElapsed: time.Second,
				RunElapsed:   30 * time.Second,
			},
			{
				Spec:         harness.CaseSpec{ID: "application/baremetal/broken"},
				Status:       harness.ClassBuildFailed,
				BuildElapsed: 500 * time.Millisecond,
			},
		},
		Skipped: []harness.SkippedCase{
			{Spec: harness.CaseSpec{ID: "application/baremetal/dsp"}, Reason: "arch not supported"},
		},
		Counters: map[string]int{"tty": 0, "bannertmout": 3, "gdb": 1},
	}
}

func TestConsoleRender(t *testing.T) {
	c := &Console{Plain: true}
	out := c.Render(sampleReport())

	for _, want := range []string{
		"application/baremetal/helloworld",
		"DeviceHung",
		"BuildFailed",
		"1.2 KiB",
		"skipped application/baremetal/dsp: arch not supported",
		"1 case passed, 2 failed, 1 skipped in 1m30s",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "ABORTED") {
		t.Errorf("unexpected abort line:\n%s", out)
	}
}

func TestConsoleAborted(t *testing.T) {
	r := sampleReport()
	r.Aborted = true
	r.AbortReason = "bannertmout count 3 exceeds ceiling 2"

	var buf bytes.Buffer
	c := &Console{W: &buf, Plain: true}
	if err := c.Write(context.Background(), r); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !strings.Contains(buf.String(), "ABORTED bannertmout count 3 exceeds ceiling 2") {
		t.Errorf("abort reason missing:\n%s", buf.String())
	}
}

func TestCSVWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "result.csv")
	c := &CSV{Path: path}
	if err := c.Write(context.Background(), sampleReport()); err != nil {
		t.Fatalf("Write: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("got %d rows, want 4", len(rows))
	}
	if diff := cmp.Diff(CSVHeader, rows[0]); diff != "" {
		t.Errorf("header mismatch (-want +got):\n%s", diff)
	}

	want := [][]string{
		{"application/baremetal/helloworld", "true", "true", "2.00", "1.50", "unknown", "-", "1248", "1000", "200", "48"},
		{"application/baremetal/demo_timer", "true", "false", "1.00", "30.00", "unknown", "-", "-1", "-1", "-1", "-1"},
		{"application/baremetal/broken", "false", "false", "0.50", "-", "unknown", "-", "-1", "-1", "-1", "-1"},
	}
	if diff := cmp.Diff(want, rows[1:]); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}
}

func TestRegistry(t *testing.T) {
	reg, err := Registry(sampleReport())
	if err != nil {
		t.Fatalf("Registry: %v", err)
	}

	expected := `
# HELP sdkrun_cases Number of cases by result.
# TYPE sdkrun_cases gauge
sdkrun_cases{result="failed"} 2
sdkrun_cases{result="passed"} 1
sdkrun_cases{result="skipped"} 1
# HELP sdkrun_failure_count Run wide failure counters.
# TYPE sdkrun_failure_count gauge
sdkrun_failure_count{counter="bannertmout"} 3
sdkrun_failure_count{counter="gdb"} 1
sdkrun_failure_count{counter="tty"} 0
# HELP sdkrun_case_retries Retries spent on a case.
# TYPE sdkrun_case_retries gauge
sdkrun_case_retries{case="application/baremetal/demo_timer"} 2
sdkrun_case_retries{case="application/baremetal/helloworld"} 0
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"sdkrun_cases", "sdkrun_failure_count", "sdkrun_case_retries"); err != nil {
		t.Error(err)
	}
}

func TestMetricsWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sdkrun.prom")
	m := &Metrics{Path: path}
	if err := m.Write(context.Background(), sampleReport()); err != nil {
		t.Fatalf("Write: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		`sdkrun_case_passed{backend="hardware",case="application/baremetal/helloworld",status="none"} 1`,
		`sdkrun_case_passed{backend="qemu",case="application/baremetal/demo_timer",status="DeviceHung"} 0`,
		`sdkrun_run_aborted 0`,
		`sdkrun_run_finished_timestamp_seconds 1.71455769e+09`,
	} {
		if !strings.Contains(string(data), want) {
			t.Errorf("textfile missing %q:\n%s", want, data)
		}
	}
}
