package build

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/buckleypaul/sdkrun/internal/runner"
)

// Object kinds produced by a build.
const (
	ObjectELF     = "elf"
	ObjectMap     = "map"
	ObjectDump    = "dump"
	ObjectDasm    = "dasm"
	ObjectVerilog = "verilog"
)

// ObjectKinds lists the object kinds in report order.
var ObjectKinds = []string{ObjectELF, ObjectMap, ObjectDump, ObjectDasm, ObjectVerilog}

// Size is the section size breakdown of an ELF. Unknown values are -1.
type Size struct {
	Text  int64 `json:"text"`
	Data  int64 `json:"data"`
	Bss   int64 `json:"bss"`
	Total int64 `json:"total"`
}

// UnknownSize returns a Size with every field set to -1.
func UnknownSize() Size {
	return Size{Text: -1, Data: -1, Bss: -1, Total: -1}
}

// Artifact is the outcome of one build.
type Artifact struct {
	AppDir       string            `json:"app"`
	MakeOptions  []string          `json:"make_options,omitempty"`
	Goal         string            `json:"goal"`
	Status       runner.Status     `json:"-"`
	ExitCode     int               `json:"exit_code"`
	Passed       bool              `json:"passed"`
	Err          string            `json:"error,omitempty"`
	LogFile      string            `json:"log,omitempty"`
	Elapsed      time.Duration     `json:"elapsed"`
	Info         map[string]string `json:"info,omitempty"`
	Flags        map[string]string `json:"flags,omitempty"`
	ToolVersions map[string]string `json:"toolver,omitempty"`
	Objects      map[string]string `json:"objects,omitempty"`
	Size         Size              `json:"size"`
	SavedObjects map[string]string `json:"saved_objects,omitempty"`
}

// ELF returns the path of the built executable, or "" if none was found.
func (a *Artifact) ELF() string {
	if a == nil {
		return ""
	}
	return a.Objects[ObjectELF]
}

const infoTag = "Current Configuration:"

// ParseInfo parses the output of `make info`, which prints the resolved
// configuration as KEY=VALUE pairs after a fixed tag.
func ParseInfo(out string) map[string]string {
	info := map[string]string{}
	scanLines(out, func(line string) {
		if !strings.HasPrefix(line, infoTag) {
			return
		}
		for _, field := range strings.Fields(strings.TrimPrefix(line, infoTag)) {
			k, v, ok := strings.Cut(field, "=")
			if ok && k != "" && !strings.Contains(v, "=") {
				info[k] = v
			}
		}
	})
	return info
}

// ParseFlags parses the output of `make showflags` ("KEY: value" lines).
// Lines with more than one colon are ignored.
func ParseFlags(out string) map[string]string {
	flags := map[string]string{}
	scanLines(out, func(line string) {
		if strings.Count(line, ":") != 1 {
			return
		}
		k, v, _ := strings.Cut(line, ":")
		flags[strings.TrimSpace(k)] = strings.TrimSpace(v)
	})
	return flags
}

// ParseToolVersions parses the output of `make showtoolver`, grouping the
// lines following each "Show <tool>" header.
func ParseToolVersions(out string) map[string]string {
	vers := map[string]string{}
	tool := ""
	scanLines(out, func(line string) {
		switch {
		case strings.HasPrefix(line, "Show"):
			fields := strings.Fields(line)
			if len(fields) < 2 {
				return
			}
			tool = fields[1]
			vers[tool] = ""
		case strings.HasPrefix(line, "make:"):
		case tool != "":
			vers[tool] += line + "\n"
		}
	})
	return vers
}

func scanLines(out string, fn func(line string)) {
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		fn(strings.TrimSpace(sc.Text()))
	}
}

// FindObjects globs the build outputs under appDir. Without since, the most
// recently modified match wins; otherwise the first match modified at or
// after since.
func FindObjects(appDir, target string, since time.Time) map[string]string {
	objects := make(map[string]string, len(ObjectKinds))
	for _, kind := range ObjectKinds {
		objects[kind] = findObject(filepath.Join(appDir, "*"+target+"."+kind), since)
	}
	return objects
}

func findObject(pattern string, since time.Time) string {
	matches, _ := filepath.Glob(pattern)
	found := ""
	var latest time.Time
	for _, m := range matches {
		fi, err := os.Stat(m)
		if err != nil {
			continue
		}
		mt := fi.ModTime()
		if !since.IsZero() {
			if !mt.Before(since) {
				return m
			}
			continue
		}
		if mt.After(latest) {
			latest = mt
			found = m
		}
	}
	return found
}

// CopyObjects copies existing objects into dir. Only objects whose kind is
// listed in kinds are copied; nil kinds copies everything. It returns the
// copied paths by kind.
func CopyObjects(objects map[string]string, dir string, kinds []string) (map[string]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	allowed := map[string]bool{}
	for _, k := range kinds {
		allowed[strings.TrimSpace(k)] = true
	}

	saved := map[string]string{}
	for _, kind := range ObjectKinds {
		src := objects[kind]
		if src == "" {
			continue
		}
		if kinds != nil && !allowed[kind] {
			continue
		}
		if _, err := os.Stat(src); err != nil {
			continue
		}
		dst := filepath.Join(dir, filepath.Base(src))
		if err := copyFile(src, dst); err != nil {
			return saved, fmt.Errorf("copy %s: %w", src, err)
		}
		saved[kind] = dst
	}
	return saved, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
