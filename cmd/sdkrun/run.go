package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/multierr"

	"github.com/buckleypaul/sdkrun/internal/app"
	"github.com/buckleypaul/sdkrun/internal/backend"
	"github.com/buckleypaul/sdkrun/internal/build"
	"github.com/buckleypaul/sdkrun/internal/config"
	"github.com/buckleypaul/sdkrun/internal/harness"
	"github.com/buckleypaul/sdkrun/internal/pages"
	"github.com/buckleypaul/sdkrun/internal/report"
	"github.com/buckleypaul/sdkrun/internal/runner"
	"github.com/buckleypaul/sdkrun/internal/store"
)

// runOptions holds the flags of the run and build commands.
type runOptions struct {
	*rootOptions
	buildOnly bool

	Config      string
	LogDir      string
	StopOnFail  bool
	TUI         bool
	CSV         string
	MetricsFile string
	NoHistory   bool
	HangAction  string

	Overrides config.Overrides
}

func newRunCommand(rootOpts *rootOptions, buildOnly bool) *cobra.Command {
	opts := &runOptions{rootOptions: rootOpts, buildOnly: buildOnly}

	cmd := &cobra.Command{
		Use:   "run --config <file>",
		Short: "Build and run every case of a run configuration",
		Long: `Build every application of a run configuration and run it on the
configured backend.

Example:
  sdkrun run --config ci/hw.yaml --logdir logs/hw --stop-on-fail
  sdkrun run --config ci/qemu.json --run-target qemu --timeout 60s --tui`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.execute(cmd.Context())
		},
	}
	if buildOnly {
		cmd.Use = "build --config <file>"
		cmd.Short = "Build every case of a run configuration without running it"
		cmd.Long = `Build every application of a run configuration. The build goal comes
from build_target, "all" by default.

Example:
  sdkrun build --config ci/apps.yaml --make-options "SOC=evalsoc CORE=n300"`
	}

	opts.bindFlags(cmd.Flags())
	_ = cmd.MarkFlagRequired("config")

	return cmd
}

func (o *runOptions) bindFlags(f *pflag.FlagSet) {
	f.StringVarP(&o.Config, "config", "c", "", "run configuration file (JSON or YAML)")
	f.StringVar(&o.LogDir, "logdir", "", "directory for logs and saved objects (default: host config log_dir)")
	f.BoolVar(&o.StopOnFail, "stop-on-fail", false, "stop at the first failing case")
	f.BoolVar(&o.TUI, "tui", false, "show a live dashboard")
	f.StringVar(&o.CSV, "csv", "", "write a CSV report to this file")
	f.StringVar(&o.MetricsFile, "metrics-file", "", "write Prometheus textfile metrics to this file")
	f.BoolVar(&o.NoHistory, "no-history", false, "do not record the run in the history")
	f.StringVar(&o.Overrides.MakeOptions, "make-options", "", `extra make variables, e.g. "SOC=evalsoc CORE=n300"`)
	f.StringVar(&o.Overrides.Parallel, "parallel", "", "make parallelism, e.g. -j8")
	f.StringVar(&o.Overrides.BuildTarget, "build-target", "", "make goal for build only runs")
	if o.buildOnly {
		return
	}
	f.StringVar(&o.Overrides.SerialPort, "serport", "", "serial port of the board console")
	f.IntVar(&o.Overrides.BaudRate, "baudrate", 0, "serial baud rate")
	f.StringVar(&o.Overrides.RunTarget, "run-target", "", "backend: "+strings.Join(backend.Names(), ", "))
	f.DurationVar(&o.Overrides.Timeout, "timeout", 0, "run timeout of every case")
	f.StringVar(&o.HangAction, "hang-action", "", "command run to recover a hung device")
}

func (o *runOptions) execute(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	rc, err := config.LoadRunConfig(o.Config)
	if err != nil {
		return wrapExit(exitCommandError, "load run configuration", err)
	}
	o.applyHostDefaults(rc)
	rc.Apply(o.Overrides)

	rctx, err := config.NewRunContext(rc.GlobalVariables, nil)
	if err != nil {
		return wrapExit(exitCommandError, "", err)
	}

	logDir := o.LogDir
	if logDir == "" {
		logDir = o.cfg.LogDir
	}
	hangAction := o.HangAction
	if hangAction == "" {
		hangAction = o.cfg.HangAction
	}
	specs, err := config.Expand(rc, rctx, config.ExpandOptions{LogDir: logDir, BuildOnly: o.buildOnly, HangAction: hangAction})
	if err != nil {
		return wrapExit(exitCommandError, "expand cases", err)
	}
	if len(specs) == 0 {
		return wrapExit(exitCommandError, fmt.Sprintf("no applications found in %v", rc.AppDirs), nil)
	}

	log := logrus.NewEntry(logrus.StandardLogger())
	if o.TUI {
		f, err := openRunLog(logDir)
		if err != nil {
			return wrapExit(exitCommandError, "open log file", err)
		}
		defer f.Close()
		logrus.SetOutput(f)
	}
	log.WithField("settings", rctx.Env()).Debug("Run settings")

	env := runner.EnvWithPath(runner.ToolchainBinDir(o.cfg.Toolchain))
	builder := &build.Make{Command: o.cfg.MakeCommand, Env: env, Log: log}
	filter, err := config.NewFilter(rctx, o.cfg.SDKRoot, func(spec harness.CaseSpec) (map[string]string, error) {
		return builder.Info(ctx, build.Request{AppDir: spec.App, Options: spec.BuildOptions})
	})
	if err != nil {
		return wrapExit(exitCommandError, "", err)
	}

	orch := &harness.Orchestrator{
		Builder:         builder,
		Env:             env,
		MakeCommand:     o.cfg.MakeCommand,
		Preflight:       true,
		CopyObjectKinds: rctx.CopyObjectKinds,
		CopyFailed:      rctx.CopyFailed,
		Counters:        harness.NewFailureCounters(rctx.Ceilings),
		FPGA: backend.FPGAProgrammer{
			Script:  o.cfg.FPGAProgramScript(),
			Timeout: rctx.FPGAProgramTimeout,
			Env:     env,
			Log:     log,
		},
		Log: log,
	}
	if rctx.VerboseBuild && !o.TUI {
		orch.Echo = os.Stdout
	}

	loop := harness.NewLoop(orch)
	loop.Filter = filter
	loop.StopOnFail = o.StopOnFail
	loop.CI = rctx.CI

	var st *store.Store
	if !o.NoHistory {
		st = store.New(o.stateDir())
		loop.Sinks = append(loop.Sinks, st)
	}
	if o.CSV != "" {
		loop.Sinks = append(loop.Sinks, &report.CSV{Path: o.CSV})
	}
	if o.MetricsFile != "" {
		loop.Sinks = append(loop.Sinks, &report.Metrics{Path: o.MetricsFile})
	}

	var rep *harness.RunReport
	if o.TUI {
		rep, err = runDashboard(ctx, orch, loop, specs, st)
		if rep != nil {
			fmt.Print((&report.Console{}).Render(rep))
		}
	} else {
		loop.Sinks = append([]harness.Sink{&report.Console{W: os.Stdout}}, loop.Sinks...)
		rep, err = loop.Run(ctx, specs)
	}
	return exitFor(rep, err, log)
}

// applyHostDefaults fills the hardware serial settings from the host
// configuration when the run configuration has none.
func (o *runOptions) applyHostDefaults(rc *config.RunConfig) {
	hw, _ := rc.RunConfig[config.DefaultRunTarget].(map[string]interface{})
	defaults := map[string]interface{}{}
	if _, ok := hw["serport"]; !ok && o.cfg.SerialPort != "" {
		defaults["serport"] = o.cfg.SerialPort
	}
	if _, ok := hw["baudrate"]; !ok && o.cfg.SerialBaudRate > 0 {
		defaults["baudrate"] = o.cfg.SerialBaudRate
	}
	if len(defaults) > 0 {
		rc.RunConfig = config.MergeMaps(rc.RunConfig, map[string]interface{}{config.DefaultRunTarget: defaults})
	}
}

func openRunLog(logDir string) (*os.File, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, err
	}
	name := fmt.Sprintf("sdkrun-%s.log", time.Now().Format("20060102-150405"))
	return os.Create(filepath.Join(logDir, name))
}

// exitFor maps the outcome of a run to an exit error. Known failures
// listed in the expected map do not fail the process.
func exitFor(rep *harness.RunReport, err error, log *logrus.Entry) error {
	switch {
	case errors.Is(err, harness.ErrInterrupted):
		return wrapExit(exitInterrupted, "run interrupted", nil)
	case errors.Is(err, harness.ErrAborted):
		return wrapExit(exitFailure, "run aborted", err)
	case err != nil:
		// Sink failures; the run itself completed.
		for _, e := range multierr.Errors(err) {
			log.WithError(e).Error("Run error")
		}
		return wrapExit(exitFailure, "", err)
	case rep == nil:
		return wrapExit(exitFailure, "no report", nil)
	case !rep.AsExpected():
		return wrapExit(exitFailure, "", nil)
	}
	return nil
}

// runDashboard runs the loop behind the live dashboard. Quitting the
// dashboard before the run ended interrupts it.
func runDashboard(ctx context.Context, orch *harness.Orchestrator, loop *harness.Loop, specs []harness.CaseSpec, st *store.Store) (*harness.RunReport, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var history pages.History
	if st != nil {
		history = st
	}
	pageMap := map[app.PageID]app.Page{
		app.CasesPage:   pages.NewCasesPage(),
		app.LogPage:     pages.NewLogPage(),
		app.DetailPage:  pages.NewDetailPage(),
		app.HistoryPage: pages.NewHistoryPage(history),
	}
	p := tea.NewProgram(app.New(pageMap), tea.WithAltScreen(), tea.WithMouseCellMotion())

	lines := app.NewLineWriter(p)
	observe := app.Observe(p)
	orch.Echo = lines
	orch.Observer = observe
	loop.Observer = observe

	var (
		rep    *harness.RunReport
		runErr error
		done   = make(chan struct{})
	)
	go func() {
		defer close(done)
		rep, runErr = loop.Run(ctx, specs)
		lines.Flush()
		p.Send(app.RunDoneMsg{Report: rep, Err: runErr})
	}()

	_, err := p.Run()
	cancel()
	<-done
	return rep, multierr.Append(runErr, err)
}
