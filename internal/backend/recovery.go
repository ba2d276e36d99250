package backend

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/shlex"
	"github.com/sirupsen/logrus"

	"github.com/buckleypaul/sdkrun/internal/runner"
)

// Recovery brings a hung device back to a usable state.
type Recovery interface {
	Name() string
	Recover(ctx context.Context) error
}

// CommandRecovery runs a user supplied command line. Exit 0 is success.
type CommandRecovery struct {
	Command string
	Env     []string
	Timeout time.Duration
	LogFile string
}

func (c *CommandRecovery) Name() string { return "custom action" }

func (c *CommandRecovery) Recover(ctx context.Context) error {
	argv, err := shlex.Split(c.Command)
	if err != nil {
		return fmt.Errorf("parse hang action: %w", err)
	}
	if len(argv) == 0 {
		return errors.New("empty hang action")
	}
	res := runner.Run(ctx, argv, runner.Options{Env: c.Env, Timeout: c.Timeout, LogFile: c.LogFile, Append: true})
	if !res.OK() {
		return fmt.Errorf("hang action %s: %s", argv[0], res.Status)
	}
	return nil
}

// ErrNoFPGAScript is returned when no program_bit.tcl script is known.
var ErrNoFPGAScript = errors.New("no FPGA programming script configured")

// FPGALockName is the lock file serializing FPGA programming across
// concurrent harness processes on one host.
const FPGALockName = "fpga_program.lock"

// FPGAProgrammer reprograms the bitstream of the FPGA board hosting the
// soft core.
type FPGAProgrammer struct {
	Bitstream   string
	BoardSerial string
	Script      string // program_bit.tcl
	Vivado      string // found in PATH when empty
	LockDir     string // os.TempDir() when empty
	Timeout     time.Duration
	Env         []string
	LogFile     string
	Log         *logrus.Entry
}

func (f *FPGAProgrammer) Name() string { return "fpga reprogram" }

func findVivado() (string, error) {
	for _, name := range []string{"vivado", "vivado_lab"} {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: vivado", ErrToolNotFound)
}

// Command returns the vivado invocation programming the board.
func (f *FPGAProgrammer) Command() ([]string, error) {
	if f.Script == "" {
		return nil, ErrNoFPGAScript
	}
	vivado := f.Vivado
	if vivado == "" {
		var err error
		if vivado, err = findVivado(); err != nil {
			return nil, err
		}
	}
	return []string{
		vivado, "-mode", "batch", "-nolog", "-nojournal",
		"-source", f.Script,
		"-tclargs", f.Bitstream, "*" + f.BoardSerial,
	}, nil
}

func (f *FPGAProgrammer) Recover(ctx context.Context) error {
	if _, err := os.Stat(f.Bitstream); err != nil {
		return fmt.Errorf("bitstream: %w", err)
	}
	if f.Script == "" {
		return ErrNoFPGAScript
	}
	if _, err := os.Stat(f.Script); err != nil {
		return fmt.Errorf("fpga script: %w", err)
	}
	argv, err := f.Command()
	if err != nil {
		return err
	}

	dir := f.LockDir
	if dir == "" {
		dir = os.TempDir()
	}
	log := f.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	log.Info("Waiting for other boards to finish FPGA programming")
	unlock, err := lockFile(filepath.Join(dir, FPGALockName))
	if err != nil {
		return fmt.Errorf("lock fpga programming: %w", err)
	}
	defer unlock()

	log.WithField("board", f.BoardSerial).Infof("Programming bitstream %s", f.Bitstream)
	res := runner.Run(ctx, argv, runner.Options{Env: f.Env, Timeout: f.Timeout, LogFile: f.LogFile, Append: true})
	if !res.OK() {
		return fmt.Errorf("program fpga: %s (exit %d)", res.Status, res.ExitCode)
	}
	return nil
}

// SelectRecovery picks the hang recovery in priority order: the custom
// action, then an FPGA reprogram when both bitstream and board serial are
// known. It returns nil when neither is configured.
func SelectRecovery(action string, fpga *FPGAProgrammer) Recovery {
	if action != "" {
		return &CommandRecovery{Command: action}
	}
	if fpga != nil && fpga.Bitstream != "" && fpga.BoardSerial != "" {
		return fpga
	}
	return nil
}
