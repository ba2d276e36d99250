package backend

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/shlex"
)

func extraOptions(t Target, key string) ([]string, error) {
	extra := t.option(key, "")
	if extra == "" {
		return nil, nil
	}
	args, err := shlex.Split(extra)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", key, err)
	}
	return args, nil
}

// QEMUAdapter runs the binary under Nuclei QEMU.
type QEMUAdapter struct{}

func (*QEMUAdapter) Name() string { return QEMU }

func (*QEMUAdapter) Mode() Mode { return ModeStdout }

func (*QEMUAdapter) DefaultTimeouts() (time.Duration, time.Duration) {
	return 60 * time.Second, 15 * time.Second
}

func (*QEMUAdapter) executable(t Target) string {
	if strings.Contains(t.Info["RISCV_ARCH"], "rv64") {
		return t.option("qemu64", "qemu-system-riscv64")
	}
	return t.option("qemu32", "qemu-system-riscv32")
}

func (*QEMUAdapter) machine(t Target) string {
	if m := t.option("qemu_machine", ""); m != "" {
		return m
	}
	machine := "nuclei_n"
	if !isDemoSoC(t.Info["SOC"]) {
		switch t.Info["BOARD"] {
		case "gd32vf103v_rvstar":
			machine = "gd32vf103_rvstar"
		case "gd32vf103v_eval":
			machine = "gd32vf103_eval"
		}
	}
	if dl := t.Info["DOWNLOAD"]; dl != "" {
		machine += ",download=" + strings.ToLower(dl)
	}
	return machine
}

func (*QEMUAdapter) cpu(t Target) string {
	if c := t.option("qemu_cpu", ""); c != "" {
		return c
	}
	cpu := "nuclei-" + strings.ToLower(t.Info["CORE"])
	if ext := t.BuildOptions["ARCH_EXT"]; ext != "" {
		cpu += ",ext=" + ext
	}
	return cpu
}

func (q *QEMUAdapter) Command(t Target) ([]string, error) {
	if err := requireELF(t.ELF); err != nil {
		return nil, err
	}
	extra, err := extraOptions(t, "qemu_extraopt")
	if err != nil {
		return nil, err
	}
	argv := []string{q.executable(t)}
	if smp := t.Info["SMP"]; smp != "" {
		argv = append(argv, "-smp", smp)
	}
	argv = append(argv,
		"-M", q.machine(t),
		"-cpu", q.cpu(t),
		"-nodefaults", "-nographic",
		"-icount", "shift=0",
		"-serial", "stdio",
	)
	argv = append(argv, extra...)
	return append(argv, "-kernel", t.ELF), nil
}

func (*QEMUAdapter) AuxLog(Target) string { return "" }

func (*QEMUAdapter) Interpret(string, string) Signals { return Signals{Confirmed: true} }

func (q *QEMUAdapter) Preflight(ctx context.Context, t Target, env []string) (string, error) {
	return checkVersion(ctx, []string{q.executable(t), "--version"}, "QEMU emulator version", env)
}

// XLSpikeAdapter runs the binary under the xl_spike ISA simulator.
type XLSpikeAdapter struct{}

func (*XLSpikeAdapter) Name() string { return XLSpike }

func (*XLSpikeAdapter) Mode() Mode { return ModeStdout }

func (*XLSpikeAdapter) DefaultTimeouts() (time.Duration, time.Duration) {
	return 60 * time.Second, 15 * time.Second
}

func (*XLSpikeAdapter) executable(t Target) string {
	return t.option("xlspike", "xl_spike")
}

func (x *XLSpikeAdapter) Command(t Target) ([]string, error) {
	if !isDemoSoC(t.Info["SOC"]) {
		return nil, fmt.Errorf("%w: SOC=%s BOARD=%s on xlspike", ErrUnsupported, t.Info["SOC"], t.Info["BOARD"])
	}
	if err := requireELF(t.ELF); err != nil {
		return nil, err
	}
	extra, err := extraOptions(t, "xlspike_extraopt")
	if err != nil {
		return nil, err
	}
	argv := []string{x.executable(t)}
	if smp := t.Info["SMP"]; smp != "" {
		argv = append(argv, "-p"+smp)
	}
	argv = append(argv, extra...)
	// xl_spike has no rv32e model; run E cores as I.
	isa := strings.ReplaceAll(t.Info["RISCV_ARCH"], "e", "i")
	return append(argv, "--isa", isa, t.ELF), nil
}

func (*XLSpikeAdapter) AuxLog(Target) string { return "" }

func (*XLSpikeAdapter) Interpret(string, string) Signals { return Signals{Confirmed: true} }

func (x *XLSpikeAdapter) Preflight(ctx context.Context, t Target, env []string) (string, error) {
	return checkVersion(ctx, []string{x.executable(t), "--help"}, "RISC-V ISA Simulator", env)
}

// NCycMAdapter runs the binary on the cycle model.
type NCycMAdapter struct{}

func (*NCycMAdapter) Name() string { return NCycM }

func (*NCycMAdapter) Mode() Mode { return ModeStdout }

func (*NCycMAdapter) DefaultTimeouts() (time.Duration, time.Duration) {
	return 600 * time.Second, 480 * time.Second
}

func (*NCycMAdapter) executable(t Target) string {
	return t.option("ncycm", "ncycm")
}

func (n *NCycMAdapter) Command(t Target) ([]string, error) {
	if err := requireELF(t.ELF); err != nil {
		return nil, err
	}
	return []string{n.executable(t), t.ELF}, nil
}

func (*NCycMAdapter) AuxLog(Target) string { return "" }

func (*NCycMAdapter) Interpret(string, string) Signals { return Signals{Confirmed: true} }

func (n *NCycMAdapter) Preflight(ctx context.Context, t Target, env []string) (string, error) {
	return checkVersion(ctx, []string{n.executable(t), "-v"}, "version:", env)
}
