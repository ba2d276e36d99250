//go:build integration

package integration

import (
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/buckleypaul/sdkrun/internal/backend"
	"github.com/buckleypaul/sdkrun/internal/build"
	"github.com/buckleypaul/sdkrun/internal/harness"
	"github.com/buckleypaul/sdkrun/internal/logcheck"
	"github.com/buckleypaul/sdkrun/internal/runner"
)

// sdkRoot returns the SDK checkout from the environment, or skips the test
// if it is not set.
func sdkRoot(t *testing.T) string {
	t.Helper()
	root := os.Getenv("NUCLEI_SDK_ROOT")
	if root == "" {
		t.Skip("NUCLEI_SDK_ROOT not set; skipping integration tests")
	}
	return root
}

func env(t *testing.T) []string {
	t.Helper()
	return runner.EnvWithPath(runner.ToolchainBinDir(os.Getenv("NUCLEI_TOOL_ROOT")))
}

func quietLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

// TestIntegrationBuildHelloworld builds the helloworld application and
// checks the artifact metadata was collected.
func TestIntegrationBuildHelloworld(t *testing.T) {
	root := sdkRoot(t)
	app := filepath.Join(root, "application", "baremetal", "helloworld")

	m := &build.Make{Env: env(t), Log: quietLog()}
	art := m.Build(context.Background(), build.Request{
		AppDir:  app,
		Options: map[string]string{"SOC": "evalsoc", "CORE": "n300"},
		Goal:    "clean all",
		LogFile: filepath.Join(t.TempDir(), harness.BuildLogName),
		Timeout: 10 * time.Minute,
	})
	if !art.Passed {
		t.Fatalf("build failed (%s, exit %d): see %s", art.Status, art.ExitCode, art.LogFile)
	}
	if art.ELF() == "" {
		t.Fatal("expected an ELF object")
	}
	if art.Size.Total <= 0 {
		t.Fatalf("expected a positive size, got %+v", art.Size)
	}
	t.Logf("helloworld size: %+v", art.Size)
}

// TestIntegrationRunHelloworldOnQEMU runs helloworld end to end on the
// QEMU backend.
func TestIntegrationRunHelloworldOnQEMU(t *testing.T) {
	root := sdkRoot(t)
	if _, err := exec.LookPath("qemu-system-riscv32"); err != nil {
		t.Skip("qemu-system-riscv32 not in PATH")
	}

	o := &harness.Orchestrator{
		Builder:   &build.Make{Env: env(t), Log: quietLog()},
		Env:       env(t),
		Preflight: true,
		Log:       quietLog(),
	}
	loop := harness.NewLoop(o)

	spec := harness.CaseSpec{
		ID:            "helloworld",
		App:           filepath.Join(root, "application", "baremetal", "helloworld"),
		BuildOptions:  map[string]string{"SOC": "evalsoc", "CORE": "n300", "DOWNLOAD": "sram"},
		BuildGoal:     "all",
		Backend:       backend.QEMU,
		Checks:        logcheck.DefaultChecks(),
		RunTimeout:    30 * time.Second,
		BannerTimeout: 15 * time.Second,
		Retry:         harness.DefaultRetryBudget(),
		LogDir:        t.TempDir(),
	}

	report, err := loop.Run(context.Background(), []harness.CaseSpec{spec})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	res := report.Results[0]
	if !res.Passed() {
		t.Fatalf("helloworld failed: status %s, err %q, logs %v", res.Status, res.Err, res.Logs)
	}
}
