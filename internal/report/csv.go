package report

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/buckleypaul/sdkrun/internal/harness"
)

// CSVHeader lists the columns of the CSV report.
var CSVHeader = []string{"App", "buildstatus", "runstatus", "buildtime", "runtime", "type", "value", "total", "text", "data", "bss"}

// CSV writes one row per case.
type CSV struct {
	Path string
}

var _ harness.Sink = (*CSV)(nil)

func (c *CSV) Name() string { return "csv" }

func (c *CSV) Write(_ context.Context, report *harness.RunReport) error {
	if err := os.MkdirAll(filepath.Dir(c.Path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(c.Path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(CSVHeader); err != nil {
		return err
	}
	for _, res := range report.Results {
		if err := w.Write(Row(res)); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("write %s: %w", c.Path, err)
	}
	return f.Close()
}

// Row renders one case. Times are in seconds; sizes are -1 when unknown.
func Row(res harness.CaseResult) []string {
	size := struct{ total, text, data, bss int64 }{-1, -1, -1, -1}
	if a := res.Artifact; a != nil {
		size.total, size.text, size.data, size.bss = a.Size.Total, a.Size.Text, a.Size.Data, a.Size.Bss
	}
	runtime := "-"
	if res.RunAttempted {
		runtime = seconds(res.RunElapsed.Seconds())
	}
	return []string{
		res.Spec.ID,
		strconv.FormatBool(res.BuildPassed),
		strconv.FormatBool(res.RunPassed),
		seconds(res.BuildElapsed.Seconds()),
		runtime,
		// benchmark type and value; no benchmark parser is wired
		"unknown",
		"-",
		strconv.FormatInt(size.total, 10),
		strconv.FormatInt(size.text, 10),
		strconv.FormatInt(size.data, 10),
		strconv.FormatInt(size.bss, 10),
	}
}

func seconds(s float64) string {
	return strconv.FormatFloat(s, 'f', 2, 64)
}
