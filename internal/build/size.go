package build

import (
	"bytes"
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/buckleypaul/sdkrun/internal/runner"
)

// DefaultSizeTools are tried in order until one succeeds.
var DefaultSizeTools = []string{"riscv-nuclei-elf-size", "riscv64-unknown-elf-size", "size"}

// ELFSize runs the first working size tool on elf. The Berkeley format
// output ends with a "text data bss dec hex filename" row.
func ELFSize(ctx context.Context, elf string, tools []string, env []string) Size {
	if elf == "" {
		return UnknownSize()
	}
	if _, err := os.Stat(elf); err != nil {
		return UnknownSize()
	}
	if len(tools) == 0 {
		tools = DefaultSizeTools
	}
	for _, tool := range tools {
		var out bytes.Buffer
		res := runner.Run(ctx, []string{tool, elf}, runner.Options{Env: env, Echo: &out, Timeout: 30 * time.Second})
		if !res.OK() {
			continue
		}
		if size, ok := ParseSize(out.String()); ok {
			return size
		}
	}
	return UnknownSize()
}

// ParseSize parses the last line of size(1) output.
func ParseSize(out string) (Size, bool) {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	fields := strings.Fields(lines[len(lines)-1])
	if len(fields) < 4 {
		return UnknownSize(), false
	}
	var vals [4]int64
	for i := range vals {
		v, err := strconv.ParseInt(fields[i], 10, 64)
		if err != nil {
			return UnknownSize(), false
		}
		vals[i] = v
	}
	return Size{Text: vals[0], Data: vals[1], Bss: vals[2], Total: vals[3]}, true
}
