package runner

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// ToolchainBinDir returns the bin directory holding the cross compiler
// under root. Detection order: <root>/gcc/bin → <root>/bin → "" when root
// does not contain a toolchain.
func ToolchainBinDir(root string) string {
	if root == "" {
		return ""
	}
	for _, dir := range []string{filepath.Join(root, "gcc", "bin"), filepath.Join(root, "bin")} {
		if matches, _ := filepath.Glob(filepath.Join(dir, "riscv*-gcc"+exeSuffix())); len(matches) > 0 {
			return dir
		}
	}
	return ""
}

func exeSuffix() string {
	if runtime.GOOS == "windows" {
		return ".exe"
	}
	return ""
}

// EnvWithPath creates a copy of the current environment with binDirs
// prepended to PATH, in order. Empty entries are skipped. With no
// directories it returns nil so commands inherit the parent environment.
func EnvWithPath(binDirs ...string) []string {
	var dirs []string
	for _, d := range binDirs {
		if d != "" {
			dirs = append(dirs, d)
		}
	}
	if len(dirs) == 0 {
		return nil
	}
	prefix := strings.Join(dirs, string(os.PathListSeparator))

	env := os.Environ()
	result := make([]string, 0, len(env)+1)
	pathSet := false

	for _, e := range env {
		if strings.HasPrefix(e, "PATH=") {
			result = append(result, "PATH="+prefix+string(os.PathListSeparator)+e[5:])
			pathSet = true
		} else {
			result = append(result, e)
		}
	}

	if !pathSet {
		result = append(result, "PATH="+prefix)
	}

	return result
}

// WithVars returns env with each KEY=VALUE in vars set, replacing existing
// entries for the same key. A nil env starts from os.Environ().
func WithVars(env []string, vars map[string]string) []string {
	if len(vars) == 0 {
		return env
	}
	if env == nil {
		env = os.Environ()
	}
	out := make([]string, 0, len(env)+len(vars))
	for _, e := range env {
		key, _, _ := strings.Cut(e, "=")
		if _, ok := vars[key]; ok {
			continue
		}
		out = append(out, e)
	}
	for k, v := range vars {
		out = append(out, k+"="+v)
	}
	return out
}
