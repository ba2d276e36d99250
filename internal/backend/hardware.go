package backend

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Markers printed by the upload tool chain (make upload → GDB → OpenOCD).
const (
	markerStartAddress   = "Start address"
	markerDebugger       = "On-Chip Debugger"
	markerNotExamined    = "Error: Target not examined yet"
	markerUnableToHalt   = "unable to halt"
	markerExamined       = "Examined RISC-V core"
	markerGDBInternal    = "internal-error"
	markerGDBProblem     = "A problem internal to GDB has been detected"
	markerRemoteClosed   = "Remote connection closed"
	markerRemoteCommFail = "Remote communication error"
)

// HardwareAdapter flashes a board with `make upload` and observes it over
// its serial console.
type HardwareAdapter struct{}

func (*HardwareAdapter) Name() string { return Hardware }

func (*HardwareAdapter) Mode() Mode { return ModeSerial }

func (*HardwareAdapter) DefaultTimeouts() (time.Duration, time.Duration) {
	return 60 * time.Second, 15 * time.Second
}

func (*HardwareAdapter) Command(t Target) ([]string, error) {
	mk := t.MakeCommand
	if mk == "" {
		mk = "make"
	}
	argv := []string{mk, "-C", t.AppDir}
	argv = append(argv, t.MakeOptions...)
	return append(argv, "upload"), nil
}

// AuxLog returns the OpenOCD log left in the application directory.
func (*HardwareAdapter) AuxLog(t Target) string {
	data, err := os.ReadFile(filepath.Join(t.AppDir, "openocd.log"))
	if err != nil {
		return ""
	}
	return string(data)
}

func (*HardwareAdapter) Interpret(deployLog, auxLog string) Signals {
	var s Signals
	var cmd strings.Builder

	sc := bufio.NewScanner(strings.NewReader(deployLog))
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if !s.Confirmed && (strings.Contains(line, "-ex") || strings.Contains(line, `\`)) {
			cmd.WriteString(strings.Trim(strings.TrimSpace(line), `\`))
		}
		if strings.Contains(line, markerDebugger) && s.DebuggerVersion == "" {
			s.DebuggerVersion = strings.TrimSpace(line)
		}
		if strings.Contains(line, markerStartAddress) {
			s.Confirmed = true
		}
		if strings.Contains(line, markerGDBInternal) || strings.Contains(line, markerGDBProblem) {
			s.DebuggerFault = true
		}
		if strings.Contains(line, markerRemoteClosed) || strings.Contains(line, markerRemoteCommFail) {
			s.ConnectionLost = true
		}
		s.CPUStatus = cpuStatus(line, s.CPUStatus)
	}
	s.UploadCommand = cmd.String()

	for _, line := range strings.Split(auxLog, "\n") {
		s.CPUStatus = cpuStatus(line, s.CPUStatus)
	}
	return s
}

// cpuStatus applies one log line to the current CPU status. The last
// marker seen wins.
func cpuStatus(line, cur string) string {
	switch {
	case strings.Contains(line, markerNotExamined), strings.Contains(line, markerUnableToHalt):
		return "hang"
	case strings.Contains(line, markerExamined):
		return "ok"
	}
	return cur
}

// Preflight is a no-op: the upload tool chain is reached through make.
func (*HardwareAdapter) Preflight(context.Context, Target, []string) (string, error) {
	return "", nil
}
