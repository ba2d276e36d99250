package serial

import (
	"runtime"
	"sort"

	"go.bug.st/serial/enumerator"
)

// PortInfo holds details about a serial port.
type PortInfo struct {
	Name         string
	IsUSB        bool
	VID          string
	PID          string
	SerialNumber string
	Product      string
}

// ListPorts returns available serial ports.
func ListPorts() ([]PortInfo, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, err
	}

	var result []PortInfo
	for _, p := range ports {
		result = append(result, PortInfo{
			Name:         p.Name,
			IsUSB:        p.IsUSB,
			VID:          p.VID,
			PID:          p.PID,
			SerialNumber: p.SerialNumber,
			Product:      p.Product,
		})
	}
	return result, nil
}

// MostLikely returns the highest sorted port name, e.g. /dev/ttyUSB1 out
// of ttyUSB0 and ttyUSB1. Debug probes expose the UART as their last
// interface.
func MostLikely(ports []PortInfo) string {
	if len(ports) == 0 {
		return ""
	}
	names := make([]string, 0, len(ports))
	for _, p := range ports {
		names = append(names, p.Name)
	}
	sort.Strings(names)
	return names[len(names)-1]
}

// FindBySerialNumber returns the UART port of the debug probe with the
// given USB serial number, or "" when none matches. FTDI probes on Windows
// report the UART interface with a trailing "B".
func FindBySerialNumber(ports []PortInfo, serno string) string {
	if serno == "" {
		return ""
	}
	want := serno
	if runtime.GOOS == "windows" {
		want = serno + "B"
	}
	var matches []PortInfo
	for _, p := range ports {
		if p.SerialNumber == want {
			matches = append(matches, p)
		}
	}
	return MostLikely(matches)
}

// Exists reports whether name is among ports.
func Exists(ports []PortInfo, name string) bool {
	for _, p := range ports {
		if p.Name == name {
			return true
		}
	}
	return false
}
