package pages

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"

	"github.com/buckleypaul/sdkrun/internal/app"
	"github.com/buckleypaul/sdkrun/internal/harness"
	"github.com/buckleypaul/sdkrun/internal/ui"
)

// DetailPage shows the result of one case: build, attempts and logs.
type DetailPage struct {
	results  map[string]harness.CaseResult
	selected string
	viewport viewport.Model

	width, height int
}

func NewDetailPage() *DetailPage {
	return &DetailPage{
		results:  map[string]harness.CaseResult{},
		viewport: viewport.New(0, 0),
	}
}

func (p *DetailPage) Init() tea.Cmd { return nil }

func (p *DetailPage) Update(msg tea.Msg) (app.Page, tea.Cmd) {
	switch msg := msg.(type) {
	case app.EventMsg:
		switch ev := msg.Event; ev.Kind {
		case harness.EventRunStarted:
			p.results = map[string]harness.CaseResult{}
			p.selected = ""
			p.refresh()
		case harness.EventCaseFinished:
			if ev.Result != nil {
				p.results[ev.Case] = *ev.Result
				if p.selected == "" || p.selected == ev.Case {
					p.selected = ev.Case
					p.refresh()
				}
			}
		}
		return p, nil

	case app.RunDoneMsg:
		if msg.Report != nil {
			for _, res := range msg.Report.Results {
				p.results[res.Spec.ID] = res
			}
			p.refresh()
		}
		return p, nil

	case app.CaseSelectedMsg:
		p.selected = msg.ID
		p.refresh()
		p.viewport.GotoTop()
		return p, nil
	}

	var cmd tea.Cmd
	p.viewport, cmd = p.viewport.Update(msg)
	return p, cmd
}

func (p *DetailPage) refresh() {
	if p.selected == "" {
		p.viewport.SetContent("")
		return
	}
	res, ok := p.results[p.selected]
	if !ok {
		p.viewport.SetContent(ui.DimStyle.Render(p.selected + " has not finished yet."))
		return
	}
	p.viewport.SetContent(ui.WrapLog(RenderCase(res), p.viewport.Width))
}

// RenderCase formats a case result for display.
func RenderCase(res harness.CaseResult) string {
	var b strings.Builder
	line := func(label, value string) {
		if value != "" {
			fmt.Fprintf(&b, "%-10s %s\n", label, value)
		}
	}

	b.WriteString(ui.CaseBadge(string(res.Status), res.Passed()) + " " + ui.BoldStyle.Render(res.Spec.ID) + "\n\n")
	line("App", res.Spec.App)
	line("Config", res.Spec.Config)
	line("Backend", res.Spec.Backend)
	line("Error", res.Err)

	b.WriteString("\n" + ui.BoldStyle.Render("Build") + "\n")
	line("Status", passFail(res.BuildPassed))
	line("Time", res.BuildElapsed.Round(time.Millisecond).String())
	if a := res.Artifact; a != nil {
		line("Options", strings.Join(a.MakeOptions, " "))
		if a.Size.Total >= 0 {
			line("Size", fmt.Sprintf("%s (text %d, data %d, bss %d)",
				humanize.IBytes(uint64(a.Size.Total)), a.Size.Text, a.Size.Data, a.Size.Bss))
		}
		line("ELF", a.ELF())
	}

	if res.RunAttempted {
		b.WriteString("\n" + ui.BoldStyle.Render("Run") + "\n")
		line("Status", passFail(res.RunPassed))
		line("Time", res.RunElapsed.Round(time.Millisecond).String())
		line("Retries", fmt.Sprint(res.RetryCount))
		line("Debugger", res.DebuggerVersion)
		line("Tool", res.ToolVersion)
		line("Command", res.DeployCommand)
		if o := res.Outcome; o != nil {
			line("Monitor", o.Status.String())
			line("Matched", o.MatchedLine)
			if !o.VerdictAt.IsZero() {
				line("Verdict", o.VerdictAt.Format("15:04:05.000"))
			}
		}

		for _, at := range res.Attempts {
			fmt.Fprintf(&b, "\n  attempt %d  %s  %s\n", at.Number, attemptClass(at), at.Elapsed.Round(time.Millisecond))
			if at.DeployError != "" {
				fmt.Fprintf(&b, "    deploy: %s\n", at.DeployError)
			}
			if at.Signals.DebuggerVersion != "" {
				fmt.Fprintf(&b, "    debugger: %s\n", at.Signals.DebuggerVersion)
			}
			if at.Signals.Hung() {
				b.WriteString("    cpu: hang\n")
			}
			if at.Recovery != "" {
				rec := at.Recovery
				if at.RecoveryErr != "" {
					rec += " failed: " + at.RecoveryErr
				}
				fmt.Fprintf(&b, "    recovery: %s\n", rec)
			}
		}
	}

	if len(res.Logs) > 0 {
		b.WriteString("\n" + ui.BoldStyle.Render("Logs") + "\n")
		names := make([]string, 0, len(res.Logs))
		for name := range res.Logs {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			line(name, res.Logs[name])
		}
	}
	return b.String()
}

func attemptClass(at harness.Attempt) string {
	if at.Class == harness.ClassNone {
		return "ok"
	}
	return string(at.Class)
}

func passFail(ok bool) string {
	if ok {
		return "PASS"
	}
	return "FAIL"
}

func (p *DetailPage) View() string {
	if p.selected == "" {
		return ui.Title("Details") + "\n" + ui.DimStyle.Render("Select a case with enter on the Cases page or /.")
	}
	return ui.Title("Details") + "\n" + p.viewport.View()
}

func (p *DetailPage) Name() string { return "Details" }

func (p *DetailPage) ShortHelp() []key.Binding {
	return []key.Binding{
		key.NewBinding(key.WithKeys("up", "down"), key.WithHelp("↑/↓", "scroll")),
	}
}

func (p *DetailPage) SetSize(w, h int) {
	p.width = w
	p.height = h
	p.viewport.Width = max(w-2, 10)
	p.viewport.Height = max(h-3, 3)
	p.refresh()
}
