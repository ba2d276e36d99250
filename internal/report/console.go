// Package report renders run reports: a console summary, a CSV file and
// Prometheus textfile metrics.
package report

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/dustin/go-humanize/english"

	"github.com/buckleypaul/sdkrun/internal/harness"
	"github.com/buckleypaul/sdkrun/internal/ui"
)

// Console prints a summary table of a run.
type Console struct {
	W io.Writer
	// Plain disables colors, for logs and non terminal output.
	Plain bool
}

var _ harness.Sink = (*Console)(nil)

func (c *Console) Name() string { return "console" }

func (c *Console) Write(_ context.Context, report *harness.RunReport) error {
	_, err := io.WriteString(c.W, c.Render(report))
	return err
}

// Render returns the summary of report.
func (c *Console) Render(report *harness.RunReport) string {
	var b strings.Builder

	t := ui.Table(c.Plain, "CASE", "BUILD", "RUN", "STATUS", "RETRIES", "BUILD TIME", "RUN TIME", "SIZE")
	for _, res := range report.Results {
		t.Row(
			res.Spec.ID,
			c.verdict(res.BuildPassed, true),
			c.verdict(res.RunPassed, res.RunAttempted),
			statusText(res),
			strconv.Itoa(res.RetryCount),
			formatDuration(res.BuildElapsed),
			runTime(res),
			sizeText(res),
		)
	}
	b.WriteString(t.Render())
	b.WriteString("\n")

	for _, s := range report.Skipped {
		b.WriteString(c.dim(fmt.Sprintf("skipped %s: %s", s.Spec.ID, s.Reason)))
		b.WriteString("\n")
	}

	passed, failed := report.Counts()
	elapsed := report.Finished.Sub(report.Started)
	summary := fmt.Sprintf("%s passed, %d failed", english.Plural(passed, "case", ""), failed)
	if n := len(report.Skipped); n > 0 {
		summary += fmt.Sprintf(", %d skipped", n)
	}
	summary += " in " + formatDuration(elapsed)
	b.WriteString(summary)
	b.WriteString("\n")

	switch {
	case report.Aborted:
		b.WriteString(c.bad("ABORTED") + " " + report.AbortReason + "\n")
	case report.Interrupted:
		b.WriteString(c.bad("INTERRUPTED") + "\n")
	case report.StoppedOnFail:
		b.WriteString(c.bad("STOPPED") + " on first failure\n")
	}
	if report.CI.JobURL != "" {
		b.WriteString(c.dim("CI job: "+report.CI.JobURL) + "\n")
	}
	return b.String()
}

func (c *Console) verdict(ok, attempted bool) string {
	switch {
	case !attempted:
		return "-"
	case c.Plain && ok:
		return "PASS"
	case c.Plain:
		return "FAIL"
	case ok:
		return ui.SuccessBadge("PASS")
	}
	return ui.ErrorBadge("FAIL")
}

func (c *Console) bad(s string) string {
	if c.Plain {
		return s
	}
	return ui.ErrorBadge(s)
}

func (c *Console) dim(s string) string {
	if c.Plain {
		return s
	}
	return ui.DimStyle.Render(s)
}

func statusText(res harness.CaseResult) string {
	if res.Status == harness.ClassNone {
		if res.Passed() {
			return "ok"
		}
		return "-"
	}
	return string(res.Status)
}

func runTime(res harness.CaseResult) string {
	if !res.RunAttempted {
		return "-"
	}
	return formatDuration(res.RunElapsed)
}

func sizeText(res harness.CaseResult) string {
	if res.Artifact == nil || res.Artifact.Size.Total < 0 {
		return "-"
	}
	return humanize.IBytes(uint64(res.Artifact.Size.Total))
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(100 * time.Millisecond).String()
}
