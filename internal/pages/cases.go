package pages

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/truncate"

	"github.com/buckleypaul/sdkrun/internal/app"
	"github.com/buckleypaul/sdkrun/internal/harness"
	"github.com/buckleypaul/sdkrun/internal/ui"
)

type caseState int

const (
	caseRunning caseState = iota
	caseDone
	caseSkipped
)

type caseRow struct {
	id      string
	state   caseState
	phase   string
	attempt int
	started time.Time
	elapsed time.Duration
	result  *harness.CaseResult
	reason  string
}

// CasesPage lists the cases of the current run as they progress.
type CasesPage struct {
	rows     []caseRow
	index    map[string]int
	cursor   int
	total    int
	done     bool
	spinner  spinner.Model
	progress progress.Model
	now      func() time.Time

	width, height int
}

func NewCasesPage() *CasesPage {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(ui.Secondary)

	return &CasesPage{
		index:    map[string]int{},
		spinner:  s,
		progress: progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage()),
		now:      time.Now,
	}
}

func (p *CasesPage) Init() tea.Cmd { return p.spinner.Tick }

func (p *CasesPage) Update(msg tea.Msg) (app.Page, tea.Cmd) {
	switch msg := msg.(type) {
	case app.EventMsg:
		p.handleEvent(msg.Event)
		return p, nil

	case app.RunDoneMsg:
		p.done = true
		return p, nil

	case spinner.TickMsg:
		if p.done {
			return p, nil
		}
		var cmd tea.Cmd
		p.spinner, cmd = p.spinner.Update(msg)
		return p, cmd

	case tea.KeyMsg:
		switch msg.String() {
		case "up", "k":
			if p.cursor > 0 {
				p.cursor--
			}
		case "down", "j":
			if p.cursor < len(p.rows)-1 {
				p.cursor++
			}
		case "home", "g":
			p.cursor = 0
		case "end", "G":
			p.cursor = max(len(p.rows)-1, 0)
		case "enter":
			if p.cursor < len(p.rows) {
				id := p.rows[p.cursor].id
				return p, func() tea.Msg { return app.CaseSelectedMsg{ID: id} }
			}
		}
	}
	return p, nil
}

func (p *CasesPage) handleEvent(ev harness.Event) {
	switch ev.Kind {
	case harness.EventRunStarted:
		p.rows = nil
		p.index = map[string]int{}
		p.cursor = 0
		p.total = ev.Total
		p.done = false
	case harness.EventCaseSkipped:
		p.add(caseRow{id: ev.Case, state: caseSkipped, reason: ev.Reason})
	case harness.EventCaseStarted:
		p.add(caseRow{id: ev.Case, state: caseRunning, phase: harness.PhaseBuild, started: p.now()})
		// Follow the running case unless the user moved away from the tail.
		if p.cursor >= len(p.rows)-2 {
			p.cursor = len(p.rows) - 1
		}
	case harness.EventPhase:
		if row := p.row(ev.Case); row != nil {
			row.phase = ev.Phase
			row.attempt = ev.Attempt
		}
	case harness.EventCaseFinished:
		if row := p.row(ev.Case); row != nil {
			row.state = caseDone
			row.result = ev.Result
			if ev.Result != nil {
				row.elapsed = ev.Result.TotalElapsed
			}
		}
	case harness.EventRunFinished:
		p.done = true
	}
}

func (p *CasesPage) add(row caseRow) {
	if i, ok := p.index[row.id]; ok {
		p.rows[i] = row
		return
	}
	p.index[row.id] = len(p.rows)
	p.rows = append(p.rows, row)
}

func (p *CasesPage) row(id string) *caseRow {
	i, ok := p.index[id]
	if !ok {
		return nil
	}
	return &p.rows[i]
}

func (p *CasesPage) finished() int {
	n := 0
	for _, r := range p.rows {
		if r.state != caseRunning {
			n++
		}
	}
	return n
}

func (p *CasesPage) View() string {
	var b strings.Builder
	b.WriteString(ui.Title("Cases"))
	b.WriteString("\n")

	if p.total == 0 && len(p.rows) == 0 {
		b.WriteString(ui.DimStyle.Render("No run in progress."))
		return b.String()
	}

	done := p.finished()
	percent := 0.0
	if p.total > 0 {
		percent = float64(done) / float64(p.total)
	}
	p.progress.Width = max(p.width-20, 10)
	b.WriteString(p.progress.ViewAs(percent))
	b.WriteString(fmt.Sprintf("  %d/%d\n\n", done, p.total))

	visible := max(p.height-6, 1)
	start := 0
	if p.cursor >= visible {
		start = p.cursor - visible + 1
	}
	end := min(start+visible, len(p.rows))

	selected := lipgloss.NewStyle().Foreground(ui.Primary).Bold(true)
	idWidth := max(p.width-40, 20)
	for i := start; i < end; i++ {
		row := p.rows[i]
		prefix := "  "
		id := truncate.StringWithTail(row.id, uint(idWidth), "…")
		if i == p.cursor {
			prefix = selected.Render("> ")
			id = selected.Render(id)
		}
		b.WriteString(prefix + p.badge(row) + " " + id + "  " + p.detail(row) + "\n")
	}
	return b.String()
}

func (p *CasesPage) badge(row caseRow) string {
	switch row.state {
	case caseSkipped:
		return ui.PendingBadge("SKIP")
	case caseRunning:
		return p.spinner.View()
	}
	if row.result == nil {
		return ui.ErrorBadge("FAIL")
	}
	return ui.CaseBadge(string(row.result.Status), row.result.Passed())
}

func (p *CasesPage) detail(row caseRow) string {
	switch row.state {
	case caseSkipped:
		return ui.DimStyle.Render(row.reason)
	case caseRunning:
		phase := row.phase
		if row.attempt > 1 {
			phase += fmt.Sprintf(" #%d", row.attempt)
		}
		return ui.DimStyle.Render(fmt.Sprintf("%s %s", phase, p.now().Sub(row.started).Round(time.Second)))
	}
	text := row.elapsed.Round(100 * time.Millisecond).String()
	if row.result != nil && row.result.RetryCount > 0 {
		text += fmt.Sprintf("  %d retries", row.result.RetryCount)
	}
	return ui.DimStyle.Render(text)
}

func (p *CasesPage) Name() string { return "Cases" }

func (p *CasesPage) ShortHelp() []key.Binding {
	return []key.Binding{
		key.NewBinding(key.WithKeys("up", "down"), key.WithHelp("↑/↓", "move")),
		key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "details")),
	}
}

func (p *CasesPage) SetSize(w, h int) {
	p.width = w
	p.height = h
}
