package harness

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/buckleypaul/sdkrun/internal/backend"
	"github.com/buckleypaul/sdkrun/internal/build"
	"github.com/buckleypaul/sdkrun/internal/monitor"
	"github.com/buckleypaul/sdkrun/internal/serial"
	"github.com/buckleypaul/sdkrun/internal/transcript"
)

// Log file names inside a case log directory.
const (
	BuildLogName  = "build.log"
	RunLogName    = "run.log"
	UploadLogName = "upload.log"
)

// RunGoal is the make goal used before deploying a case.
const RunGoal = "clean dasm"

// DefaultBaudRate is used when a case names no baud rate.
const DefaultBaudRate = 115200

// DefaultUploadTimeout bounds a serial mode deploy.
const DefaultUploadTimeout = 5 * time.Minute

// Builder builds one case. *build.Make implements it.
type Builder interface {
	Build(ctx context.Context, req build.Request) *build.Artifact
}

// SerialOpener opens a serial transcript source.
type SerialOpener func(ctx context.Context, port string, baud int) (transcript.Source, error)

// Orchestrator runs one case through build, deploy, observation and the
// retry loop. Its zero value is not usable; Builder is required.
type Orchestrator struct {
	Builder    Builder
	Adapters   func(name string) (backend.Adapter, error) // defaults to backend.New
	OpenSerial SerialOpener                               // defaults to serial.Open
	// ResolvePort picks the serial port of a case. The default honours
	// the configured port, then the probe serial number, then the most
	// likely port found on the host. An empty result means no port.
	ResolvePort func(spec CaseSpec) string
	// Recovery picks the hang recovery of a case. The default selects the
	// case's hang action or an FPGA reprogram based on FPGA.
	Recovery func(spec CaseSpec) backend.Recovery
	FPGA     backend.FPGAProgrammer // template for FPGA reprogramming
	Counters *FailureCounters
	Env      []string

	MakeCommand     string
	Preflight       bool
	UploadTimeout   time.Duration
	ReadTimeout     time.Duration
	Grace           time.Duration
	CopyObjectKinds []string // nil copies every kind
	CopyFailed      bool     // also copy objects of failed builds

	Log      *logrus.Entry
	Echo     io.Writer
	Observer func(Event)
}

func (o *Orchestrator) logger() *logrus.Entry {
	if o.Log == nil {
		return logrus.NewEntry(logrus.StandardLogger())
	}
	return o.Log
}

func (o *Orchestrator) counters() *FailureCounters {
	if o.Counters == nil {
		o.Counters = NewFailureCounters(DefaultCeilings())
	}
	return o.Counters
}

func (o *Orchestrator) emit(ev Event) {
	if o.Observer != nil {
		o.Observer(ev)
	}
}

func (o *Orchestrator) phase(spec CaseSpec, phase string, attempt int) {
	o.emit(Event{Kind: EventPhase, Case: spec.ID, Phase: phase, Attempt: attempt})
}

func (o *Orchestrator) adapter(name string) (backend.Adapter, error) {
	if o.Adapters != nil {
		return o.Adapters(name)
	}
	return backend.New(name)
}

func logPath(spec CaseSpec, name string) string {
	if spec.LogDir == "" {
		return ""
	}
	return filepath.Join(spec.LogDir, name)
}

// Run executes spec and returns its result. The error is non-nil only when
// the whole run must stop: an *AbortError when a failure counter passed its
// ceiling, or ErrInterrupted when ctx was cancelled. Case failures are
// reported in the result.
func (o *Orchestrator) Run(ctx context.Context, spec CaseSpec) (CaseResult, error) {
	start := time.Now()
	res := CaseResult{Spec: spec, StartedAt: start, Logs: map[string]string{}}
	log := o.logger().WithField("case", spec.ID)

	if spec.LogDir != "" {
		if err := os.MkdirAll(spec.LogDir, 0o755); err != nil {
			log.WithError(err).Warn("Unable to create case log directory")
		}
	}

	err := o.run(ctx, spec, &res, log)
	res.TotalElapsed = time.Since(start)
	if err != nil {
		return res, err
	}
	if abort := o.counters().Exceeded(); abort != nil {
		log.WithField("counter", abort.Counter).Error(abort.Error())
		return res, abort
	}
	return res, nil
}

func (o *Orchestrator) run(ctx context.Context, spec CaseSpec, res *CaseResult, log *logrus.Entry) error {
	goal := spec.BuildGoal
	if goal == "" {
		goal = RunGoal
		if spec.BuildOnly {
			goal = "all"
		}
	}
	buildLog := logPath(spec, BuildLogName)
	if buildLog != "" {
		res.Logs["build"] = buildLog
	}

	// Banners stamped before this instant come from an older image.
	checkpoint := time.Now()

	o.phase(spec, PhaseBuild, 0)
	art := o.Builder.Build(ctx, build.Request{
		AppDir:   spec.App,
		Options:  spec.BuildOptions,
		Goal:     goal,
		Parallel: spec.Parallel,
		LogFile:  buildLog,
		Echo:     o.Echo,
	})
	res.Artifact = art
	res.BuildPassed = art.Passed
	res.BuildElapsed = art.Elapsed

	if ctx.Err() != nil {
		res.Status = ClassInterrupted
		return ErrInterrupted
	}
	if !art.Passed {
		res.Status = ClassBuildFailed
		res.Err = art.Err
		log.WithField("exit", art.ExitCode).Warn("Build failed")
		if o.CopyFailed {
			o.saveObjects(spec, res, log)
		}
		return nil
	}
	if spec.CopyObjects {
		o.saveObjects(spec, res, log)
	}
	if spec.BuildOnly {
		return nil
	}

	adapter, err := o.adapter(spec.Backend)
	if err != nil {
		res.Status = ClassEnvironmentError
		res.Err = err.Error()
		return nil
	}
	target := backend.Target{
		AppDir:       spec.App,
		MakeCommand:  o.MakeCommand,
		MakeOptions:  build.MakeOptions(spec.BuildOptions),
		Info:         art.Info,
		BuildOptions: spec.BuildOptions,
		ELF:          art.ELF(),
		Options:      spec.BackendOptions,
	}

	if o.Preflight {
		ver, err := adapter.Preflight(ctx, target, o.Env)
		if err != nil {
			res.Status = ClassEnvironmentError
			res.Err = err.Error()
			log.WithError(err).Errorf("%s is not usable", adapter.Name())
			return nil
		}
		res.ToolVersion = ver
	}

	res.RunAttempted = true
	runStart := time.Now()
	defer func() { res.RunElapsed = time.Since(runStart) }()

	retries := 0
	for n := 1; ; n++ {
		a, interrupted := o.attempt(ctx, spec, adapter, target, checkpoint, n, log)
		if interrupted {
			res.Attempts = append(res.Attempts, a)
			res.Status = ClassInterrupted
			o.finish(res, retries)
			return ErrInterrupted
		}

		budget := spec.Retry.For(a.Class)
		if budget == 0 {
			res.Attempts = append(res.Attempts, a)
			break
		}
		if a.Class == ClassDeviceHung && !o.recover(ctx, spec, &a, log) {
			res.Attempts = append(res.Attempts, a)
			break
		}
		res.Attempts = append(res.Attempts, a)
		retries++
		if retries >= budget {
			log.WithField("class", a.Class).Warnf("Retry budget of %d exhausted", budget)
			break
		}
		log.WithField("class", a.Class).Infof("Retrying, attempt %d", n+1)
	}
	o.finish(res, retries)
	return nil
}

// finish derives the case verdict from the last attempt.
func (o *Orchestrator) finish(res *CaseResult, retries int) {
	res.RetryCount = retries
	if len(res.Attempts) == 0 {
		return
	}
	for _, a := range res.Attempts {
		if a.Signals.Hung() {
			res.DeviceHung = true
		}
	}
	last := res.Attempts[len(res.Attempts)-1]
	res.Outcome = last.Outcome
	res.UploadConfirmed = last.Signals.Confirmed
	res.DebuggerVersion = last.Signals.DebuggerVersion
	res.DeployCommand = strings.Join(last.Command, " ")
	if res.Status == ClassInterrupted {
		return
	}
	res.Status = last.Class
	res.RunPassed = last.Class == ClassNone
	if !res.RunPassed {
		switch {
		case last.DeployError != "":
			res.Err = last.DeployError
		case last.Outcome != nil && last.Outcome.Err != "":
			res.Err = last.Outcome.Err
		}
	}
}

func (o *Orchestrator) saveObjects(spec CaseSpec, res *CaseResult, log *logrus.Entry) {
	if spec.LogDir == "" || res.Artifact == nil {
		return
	}
	saved, err := build.CopyObjects(res.Artifact.Objects, spec.LogDir, o.CopyObjectKinds)
	if err != nil {
		log.WithError(err).Warn("Unable to copy build objects")
	}
	res.SavedObjects = saved
	res.Artifact.SavedObjects = saved
}

// attempt performs one deploy and observe cycle. It reports true when ctx
// was cancelled during the attempt.
func (o *Orchestrator) attempt(ctx context.Context, spec CaseSpec, adapter backend.Adapter,
	target backend.Target, checkpoint time.Time, n int, log *logrus.Entry) (Attempt, bool) {
	start := time.Now()
	a := Attempt{Number: n}
	log = log.WithField("attempt", n)

	runTimeout, bannerTimeout := adapter.DefaultTimeouts()
	if spec.RunTimeout > 0 {
		runTimeout = spec.RunTimeout
	}
	if spec.BannerTimeout > 0 {
		bannerTimeout = spec.BannerTimeout
	}
	cfg := monitor.Config{
		Timeout:       runTimeout,
		BannerTimeout: bannerTimeout,
		BannerCheck:   spec.BannerCheck,
		BannerTag:     spec.BannerTag,
		Checkpoint:    checkpoint,
		Checks:        spec.Checks,
		ReadTimeout:   o.ReadTimeout,
		Grace:         o.Grace,
		LogFile:       logPath(spec, RunLogName),
		Echo:          o.Echo,
		Logger:        log,
	}
	opts := backend.DeployOptions{Env: o.Env, Timeout: o.UploadTimeout, Echo: o.Echo}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultUploadTimeout
	}

	var task *monitor.Task
	switch adapter.Mode() {
	case backend.ModeStdout:
		opts.Stdout = transcript.NewDeferred()
		task = monitor.Start(ctx, cfg, opts.Stdout.Open)
	default:
		opts.LogFile = logPath(spec, UploadLogName)
		port := o.resolvePort(spec, log)
		if port == "" {
			log.Warn("No serial port available, running without observation")
			o.counters().Inc(CounterTTY)
			break
		}
		baud := spec.BaudRate
		if baud <= 0 {
			baud = DefaultBaudRate
		}
		task = monitor.Start(ctx, cfg, func(ctx context.Context) (transcript.Source, error) {
			return o.openSerial(ctx, port, baud)
		})
	}

	o.phase(spec, PhaseDeploy, n)
	d := backend.Deploy(ctx, adapter, target, opts)
	a.Command = d.Command
	a.DeployOK = d.OK
	a.Unrunnable = d.Invalid
	a.Signals = d.Signals
	if d.Err != nil {
		a.DeployError = d.Err.Error()
	}

	if task != nil {
		if d.OK {
			o.phase(spec, PhaseMonitor, n)
			task.ArmBanner()
		} else {
			task.Cancel()
		}
		out := task.Wait()
		a.Outcome = &out
		a.Observed = true
	}
	if d.Process != nil {
		d.Process.Close()
	}
	a.Elapsed = time.Since(start)

	if ctx.Err() != nil {
		return a, true
	}
	a.Class = classify(a)
	o.count(a, log)
	return a, false
}

// classify maps one attempt to its failure class. Deploy side signals take
// precedence over the transcript. A target the backend cannot run is a
// plain failure: it is neither retried nor counted.
func classify(a Attempt) ErrorClass {
	switch {
	case a.Unrunnable:
		return ClassRunFailed
	case a.Signals.Hung():
		return ClassDeviceHung
	case a.Signals.DebuggerFault:
		return ClassDebuggerInternalFault
	case !a.DeployOK:
		return ClassDeployFailed
	case a.Outcome == nil:
		return ClassEnvironmentError
	}
	switch a.Outcome.Status {
	case monitor.StatusPass:
		return ClassNone
	case monitor.StatusTTYError, monitor.StatusUnknownError:
		return ClassEnvironmentError
	case monitor.StatusBannerTimeout:
		return ClassBannerTimeout
	}
	if a.Outcome.TimedOut {
		return ClassRunTimedOut
	}
	return ClassRunFailed
}

func (o *Orchestrator) count(a Attempt, log *logrus.Entry) {
	c := o.counters()
	switch a.Class {
	case ClassDebuggerInternalFault:
		c.Inc(CounterDebugger)
	case ClassBannerTimeout:
		c.Inc(CounterBanner)
	case ClassDeployFailed:
		c.Inc(CounterUpload)
	case ClassEnvironmentError:
		if a.Outcome != nil && a.Outcome.Status == monitor.StatusTTYError {
			c.Inc(CounterTTY)
		}
	default:
		return
	}
	log.WithFields(counterFields(c.Snapshot())).Debug("Failure counters")
}

func counterFields(m map[string]int) logrus.Fields {
	out := make(logrus.Fields, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// recover runs the hang recovery of spec. It reports whether a retry may
// follow.
func (o *Orchestrator) recover(ctx context.Context, spec CaseSpec, a *Attempt, log *logrus.Entry) bool {
	rec := o.selectRecovery(spec)
	if rec == nil {
		log.Warn("Device hung and no recovery is configured")
		return false
	}
	a.Recovery = rec.Name()
	o.phase(spec, PhaseRecover, a.Number)
	if _, ok := rec.(*backend.FPGAProgrammer); ok {
		o.counters().Inc(CounterFPGAProgram)
	}
	log.Warnf("Device hung, running %s", rec.Name())
	if err := rec.Recover(ctx); err != nil {
		a.RecoveryErr = err.Error()
		log.WithError(err).Errorf("%s failed", rec.Name())
		return false
	}
	return true
}

func (o *Orchestrator) selectRecovery(spec CaseSpec) backend.Recovery {
	if o.Recovery != nil {
		return o.Recovery(spec)
	}
	fpga := o.FPGA
	fpga.Bitstream = spec.FPGABitstream
	fpga.BoardSerial = spec.FPGASerial
	fpga.Log = o.logger()
	if fpga.LogFile == "" {
		fpga.LogFile = logPath(spec, "fpga.log")
	}
	rec := backend.SelectRecovery(spec.HangAction, &fpga)
	if c, ok := rec.(*backend.CommandRecovery); ok {
		c.Env = o.Env
		c.LogFile = logPath(spec, "recovery.log")
	}
	return rec
}

func (o *Orchestrator) openSerial(ctx context.Context, port string, baud int) (transcript.Source, error) {
	if o.OpenSerial != nil {
		return o.OpenSerial(ctx, port, baud)
	}
	p, err := serial.Open(port, baud)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (o *Orchestrator) resolvePort(spec CaseSpec, log *logrus.Entry) string {
	if o.ResolvePort != nil {
		return o.ResolvePort(spec)
	}
	ports, err := serial.ListPorts()
	if err != nil {
		log.WithError(err).Warn("Unable to list serial ports")
		return spec.SerialPort
	}
	switch {
	case spec.SerialPort != "":
		if serial.Exists(ports, spec.SerialPort) {
			return spec.SerialPort
		}
		log.WithField("port", spec.SerialPort).Warn("Configured serial port not present")
		return ""
	case spec.ProbeSerial != "":
		return serial.FindBySerialNumber(ports, spec.ProbeSerial)
	}
	return serial.MostLikely(ports)
}
