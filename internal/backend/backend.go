// Package backend knows how to deploy a built binary onto each execution
// target and how to read the target specific failure signals.
package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/buckleypaul/sdkrun/internal/runner"
	"github.com/buckleypaul/sdkrun/internal/transcript"
)

// Mode tells where the transcript of a deployed binary comes from.
type Mode int

const (
	// ModeSerial deploys with a blocking upload and reads the transcript
	// from a serial console.
	ModeSerial Mode = iota
	// ModeStdout runs the binary under a simulator whose stdout is the
	// transcript.
	ModeStdout
)

func (m Mode) String() string {
	if m == ModeStdout {
		return "stdout"
	}
	return "serial"
}

// Backend names accepted in run configuration.
const (
	Hardware = "hardware"
	QEMU     = "qemu"
	XLSpike  = "xlspike"
	NCycM    = "ncycm"
)

var (
	ErrUnknownBackend = errors.New("unknown backend")
	ErrNoELF          = errors.New("no ELF file to run")
	ErrUnsupported    = errors.New("configuration not supported by backend")
	ErrToolNotFound   = errors.New("tool not found")
)

// Target is everything an adapter needs to deploy one build.
type Target struct {
	AppDir       string
	MakeCommand  string
	MakeOptions  []string
	Info         map[string]string // resolved build info (SOC, CORE, RISCV_ARCH...)
	BuildOptions map[string]string // the case's build options (ARCH_EXT...)
	ELF          string
	Options      map[string]string // backend overrides from the run configuration
}

func (t Target) option(key, def string) string {
	if v, ok := t.Options[key]; ok && v != "" {
		return v
	}
	return def
}

// Signals are the backend specific observations made after a deploy.
type Signals struct {
	Confirmed       bool   `json:"upload_confirmed"`
	DebuggerVersion string `json:"debugger_version,omitempty"`
	DebuggerFault   bool   `json:"debugger_fault,omitempty"`
	ConnectionLost  bool   `json:"connection_lost,omitempty"`
	CPUStatus       string `json:"cpu_status,omitempty"` // "hang", "ok" or empty
	UploadCommand   string `json:"upload_command,omitempty"`
}

// Hung reports whether the device was found electrically hung.
func (s Signals) Hung() bool { return s.CPUStatus == "hang" }

// Adapter builds the deploy command for one backend and interprets its
// output. Marker strings of external tools live behind this interface.
type Adapter interface {
	Name() string
	Mode() Mode
	// DefaultTimeouts returns the run and banner timeouts used when the
	// configuration sets none.
	DefaultTimeouts() (run, banner time.Duration)
	Command(t Target) ([]string, error)
	// AuxLog returns the content of a tool specific side log, if any.
	AuxLog(t Target) string
	Interpret(deployLog, auxLog string) Signals
	// Preflight checks the tool is installed and returns its version line.
	Preflight(ctx context.Context, t Target, env []string) (string, error)
}

// New returns the adapter for a backend name.
func New(name string) (Adapter, error) {
	switch name {
	case Hardware, "":
		return &HardwareAdapter{}, nil
	case QEMU:
		return &QEMUAdapter{}, nil
	case XLSpike:
		return &XLSpikeAdapter{}, nil
	case NCycM:
		return &NCycMAdapter{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, name)
}

// Names lists the supported backends.
func Names() []string {
	return []string{Hardware, QEMU, XLSpike, NCycM}
}

// DeployOptions controls how Deploy runs the adapter's command.
type DeployOptions struct {
	Env     []string
	Timeout time.Duration // upload timeout; stdout mode relies on the monitor
	LogFile string
	Echo    io.Writer
	// Stdout receives the launched process in ModeStdout.
	Stdout *transcript.Deferred
}

// Deployment is the result of one deploy attempt.
type Deployment struct {
	Command []string
	Result  runner.Result
	Signals Signals
	OK      bool
	Err     error
	// Invalid is set when the adapter could not build a command for the
	// target, such as an unsupported SoC or a missing ELF. Retrying the
	// deploy cannot succeed.
	Invalid bool
	// Process is the running simulator in ModeStdout.
	Process *runner.Process
}

// auxHeader separates the tool side log appended to the deploy log.
const auxHeader = "\n=====OpenOCD log content dumped as below:=====\n"

// Deploy runs the adapter's command. In ModeSerial it blocks until the
// upload finishes. In ModeStdout it launches the simulator, hands it to
// opts.Stdout and returns immediately.
func Deploy(ctx context.Context, a Adapter, t Target, opts DeployOptions) Deployment {
	argv, err := a.Command(t)
	if err != nil {
		if opts.Stdout != nil {
			opts.Stdout.Provide(nil, err)
		}
		return Deployment{Err: err, Invalid: true, Result: runner.Result{Status: runner.StatusInvalid, ExitCode: -1, Err: err}}
	}
	d := Deployment{Command: argv}

	if a.Mode() == ModeStdout {
		p, err := runner.Start(ctx, argv, runner.Options{Env: opts.Env, LogFile: opts.LogFile, Echo: opts.Echo})
		if opts.Stdout != nil {
			if err != nil {
				opts.Stdout.Provide(nil, err)
			} else {
				opts.Stdout.Provide(p, nil)
			}
		}
		if err != nil {
			d.Err = err
			d.Result = runner.Result{Status: runner.StatusInvalid, ExitCode: -1, Err: err}
			return d
		}
		d.Process = p
		d.OK = true
		return d
	}

	var out bytes.Buffer
	echo := io.Writer(&out)
	if opts.Echo != nil {
		echo = io.MultiWriter(&out, opts.Echo)
	}
	d.Result = runner.Run(ctx, argv, runner.Options{
		Env:     opts.Env,
		Timeout: opts.Timeout,
		LogFile: opts.LogFile,
		Echo:    echo,
	})

	aux := a.AuxLog(t)
	if aux != "" && opts.LogFile != "" {
		appendFile(opts.LogFile, auxHeader+aux)
	}
	d.Signals = a.Interpret(out.String(), aux)
	d.OK = d.Result.OK() && d.Signals.Confirmed
	if !d.OK {
		switch {
		case d.Result.Err != nil:
			d.Err = d.Result.Err
		case !d.Signals.Confirmed:
			d.Err = errors.New("upload not confirmed")
		}
	}
	return d
}

func appendFile(path, text string) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	f.WriteString(text)
}

// checkVersion runs argv and returns the first output line containing
// marker.
func checkVersion(ctx context.Context, argv []string, marker string, env []string) (string, error) {
	var out bytes.Buffer
	res := runner.Run(ctx, argv, runner.Options{Env: env, Echo: &out, Timeout: 30 * time.Second})
	if !res.OK() {
		return "", fmt.Errorf("%w: %s", ErrToolNotFound, argv[0])
	}
	for _, line := range strings.Split(out.String(), "\n") {
		if strings.Contains(line, marker) {
			return strings.TrimSpace(line), nil
		}
	}
	return "", fmt.Errorf("%w: %s does not report %q", ErrToolNotFound, argv[0], marker)
}

func requireELF(elf string) error {
	if elf == "" {
		return ErrNoELF
	}
	if _, err := os.Stat(elf); err != nil {
		return fmt.Errorf("%w: %v", ErrNoELF, err)
	}
	return nil
}

// isDemoSoC reports whether soc is one of the Nuclei demo SoCs that the
// simulators model.
func isDemoSoC(soc string) bool {
	switch soc {
	case "hbird", "demosoc", "evalsoc", "xlspike":
		return true
	}
	return false
}
