// Package isa parses RISC-V architecture strings and decides whether a
// build configuration can run on the supported architecture.
package isa

import (
	"bufio"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Arch is a parsed RISC-V architecture string.
type Arch struct {
	XLen string          // "rv32" or "rv64"
	Base string          // single letter base extensions, e.g. "imacfde"
	Exts map[string]bool // multi letter extensions; may end in '*' as a wildcard
}

// HasExt reports whether ext is present.
func (a Arch) HasExt(ext string) bool { return a.Exts[ext] }

// ExtList returns the extensions in sorted order.
func (a Arch) ExtList() []string {
	out := make([]string, 0, len(a.Exts))
	for e := range a.Exts {
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}

// kExts is what the Nuclei 'k' single letter extension expands to.
var kExts = []string{
	"zk", "zks", "zkn", "zkr", "zkt", "zkne", "zknd", "zknh",
	"zksed", "zksh", "zbkb-sc", "zbkc-sc", "zbkx-sc",
}

// implied lists extensions implied by another, applied in order so that
// chains like zve64d → zve64f → zve32f resolve fully.
var implied = [][2]string{
	{"zve64d", "zve64f"},
	{"zve64f", "zve32f"},
	{"zve64f", "zve64x"},
	{"zve64x", "zve32x"},
	{"zve32f", "zve32x"},
	{"xxldspn3x", "xxldspn2x"},
	{"xxldspn2x", "xxldspn1x"},
	{"xxldspn1x", "xxldsp"},
	{"zvl1024b", "zvl512b"},
	{"zvl512b", "zvl256b"},
	{"zvl256b", "zvl128b"},
}

// Parse parses an architecture string such as "rv32imafdc_zba_zbb".
// ok is false when s does not start with rv32 or rv64.
func Parse(s string) (Arch, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if !strings.HasPrefix(s, "rv32") && !strings.HasPrefix(s, "rv64") {
		return Arch{}, false
	}
	a := Arch{XLen: s[:4], Exts: map[string]bool{}}
	var base strings.Builder

	parts := strings.Split(s[4:], "_")
	for _, c := range parts[0] {
		switch c {
		case 'b':
			for _, e := range []string{"zba", "zbb", "zbc", "zbs"} {
				a.Exts[e] = true
			}
		case 'k':
			for _, e := range kExts {
				a.Exts[e] = true
			}
		case 'v':
			a.Exts["zve64d"] = true
			a.Exts["zvl128b"] = true
			base.WriteRune('v')
		case 'p':
			a.Exts["xxldsp"] = true
		case 'i', 'e', 'm', 'a', 'f', 'd', 'c':
			base.WriteRune(c)
		}
	}
	a.Base = base.String()
	if strings.Contains(a.Base, "i") {
		a.Base += "e"
	}

	for _, ext := range parts[1:] {
		ext = strings.TrimSpace(ext)
		switch ext {
		case "":
			continue
		case "zvl128", "zvl256", "zvl512", "zvl1024":
			ext += "b"
		case "zvb", "zvk", "zc":
			ext += "*"
		case "dsp":
			ext = "xxldsp"
		case "dspn1", "dspn2", "dspn3":
			ext = "xxl" + ext + "x"
		}
		a.Exts[ext] = true
	}

	// Nuclei cores can enable zc* as the c extension.
	if a.Exts["zc*"] {
		a.Base += "c"
	}
	a.Exts["zicsr"] = true
	a.Exts["zifencei"] = true
	for _, rule := range implied {
		if a.Exts[rule[0]] {
			a.Exts[rule[1]] = true
		}
	}
	if a.Exts["zve64d"] && a.Exts["zvl128b"] && !strings.Contains(a.Base, "v") {
		a.Base += "v"
	}
	return a, true
}

// Compatible reports whether coreArch extended by archExt runs on
// supported. An empty or unparsable supported string accepts everything.
func Compatible(coreArch, archExt, supported string) bool {
	if supported == "" {
		return true
	}
	sup, ok := Parse(supported)
	if !ok {
		return true
	}
	cur, ok := Parse(coreArch + archExt)
	if !ok {
		return false
	}
	if cur.XLen != sup.XLen {
		return false
	}
	for _, c := range cur.Base {
		if !strings.ContainsRune(sup.Base, c) {
			return false
		}
	}
	for ext := range cur.Exts {
		if !extSupported(ext, sup.Exts) {
			return false
		}
	}
	return true
}

func extSupported(ext string, supported map[string]bool) bool {
	for s := range supported {
		if prefix, ok := strings.CutSuffix(s, "*"); ok {
			if strings.HasPrefix(ext, prefix) {
				return true
			}
		} else if s == ext {
			return true
		}
	}
	return false
}

// ParseMakefileCore reads the <CORE>_CORE_ARCH_ABI table from the SDK's
// Build/Makefile.core and returns the architecture per lowercase core name.
func ParseMakefileCore(sdkRoot string) (map[string]string, error) {
	f, err := os.Open(filepath.Join(sdkRoot, "Build", "Makefile.core"))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cores := map[string]string{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") || !strings.Contains(line, "_CORE_ARCH_ABI") {
			continue
		}
		parts := strings.Split(line, "=")
		if len(parts) != 2 {
			continue
		}
		name, _, _ := strings.Cut(parts[0], "_CORE_ARCH_ABI")
		fields := strings.Fields(parts[1])
		if len(fields) >= 2 {
			cores[strings.ToLower(strings.TrimSpace(name))] = fields[0]
		}
	}
	return cores, sc.Err()
}
