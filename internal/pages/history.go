package pages

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/buckleypaul/sdkrun/internal/app"
	"github.com/buckleypaul/sdkrun/internal/store"
	"github.com/buckleypaul/sdkrun/internal/ui"
)

// History is the part of the store the history page reads.
type History interface {
	Runs() ([]store.RunRecord, error)
	Cases(runID string) ([]store.CaseRecord, error)
}

type runsLoadedMsg struct {
	runs []store.RunRecord
	err  error
}

type casesLoadedMsg struct {
	runID string
	cases []store.CaseRecord
	err   error
}

// HistoryPage lists past runs and the cases of the selected one.
type HistoryPage struct {
	store   History
	runs    []store.RunRecord // newest first
	cursor  int
	openRun string
	cases   []store.CaseRecord
	message string
	loading bool

	width, height int
}

func NewHistoryPage(s History) *HistoryPage {
	return &HistoryPage{store: s}
}

func (p *HistoryPage) Init() tea.Cmd {
	if p.store == nil {
		return nil
	}
	p.loading = true
	return p.loadRuns()
}

func (p *HistoryPage) loadRuns() tea.Cmd {
	s := p.store
	return func() tea.Msg {
		runs, err := s.Runs()
		return runsLoadedMsg{runs: runs, err: err}
	}
}

func (p *HistoryPage) loadCases(runID string) tea.Cmd {
	s := p.store
	return func() tea.Msg {
		cases, err := s.Cases(runID)
		return casesLoadedMsg{runID: runID, cases: cases, err: err}
	}
}

func (p *HistoryPage) Update(msg tea.Msg) (app.Page, tea.Cmd) {
	switch msg := msg.(type) {
	case runsLoadedMsg:
		p.loading = false
		if msg.err != nil {
			p.message = fmt.Sprintf("Error loading history: %v", msg.err)
			return p, nil
		}
		p.message = ""
		p.runs = make([]store.RunRecord, 0, len(msg.runs))
		for i := len(msg.runs) - 1; i >= 0; i-- {
			p.runs = append(p.runs, msg.runs[i])
		}
		if p.cursor >= len(p.runs) {
			p.cursor = max(len(p.runs)-1, 0)
		}
		return p, nil

	case casesLoadedMsg:
		if msg.err != nil {
			p.message = fmt.Sprintf("Error loading cases: %v", msg.err)
			return p, nil
		}
		p.openRun = msg.runID
		p.cases = msg.cases
		return p, nil

	case app.RunDoneMsg:
		if p.store == nil {
			return p, nil
		}
		return p, p.loadRuns()

	case tea.KeyMsg:
		switch msg.String() {
		case "up", "k":
			if p.cursor > 0 {
				p.cursor--
			}
		case "down", "j":
			if p.cursor < len(p.runs)-1 {
				p.cursor++
			}
		case "enter":
			if p.cursor < len(p.runs) && p.store != nil {
				return p, p.loadCases(p.runs[p.cursor].RunID)
			}
		case "r":
			if p.store != nil {
				return p, p.loadRuns()
			}
		case "esc":
			p.openRun = ""
			p.cases = nil
		}
	}
	return p, nil
}

func (p *HistoryPage) View() string {
	var b strings.Builder
	b.WriteString(ui.Title("History"))
	b.WriteString("\n")

	switch {
	case p.loading:
		b.WriteString("Loading history...")
		return b.String()
	case p.message != "":
		b.WriteString(p.message + "\n\n")
	}
	if len(p.runs) == 0 {
		b.WriteString(ui.DimStyle.Render("No runs recorded yet."))
		return b.String()
	}

	selected := lipgloss.NewStyle().Foreground(ui.Primary).Bold(true)
	listHeight := max(p.height/2-2, 3)
	start := 0
	if p.cursor >= listHeight {
		start = p.cursor - listHeight + 1
	}
	end := min(start+listHeight, len(p.runs))
	for i := start; i < end; i++ {
		r := p.runs[i]
		badge := ui.SuccessBadge("PASS")
		switch {
		case r.Aborted != "":
			badge = ui.ErrorBadge("ABORT")
		case r.Interrupted:
			badge = ui.WarningBadge("INTR")
		case !r.Success:
			badge = ui.ErrorBadge("FAIL")
		}
		text := fmt.Sprintf("%-14s %3d/%-3d passed  %s", humanize.Time(r.Timestamp), r.Passed, r.Cases, r.Duration)
		prefix := "  "
		if i == p.cursor {
			prefix = selected.Render("> ")
			text = selected.Render(text)
		}
		b.WriteString(prefix + badge + " " + text + "\n")
	}

	if p.openRun != "" {
		b.WriteString("\n" + ui.BoldStyle.Render("Cases of "+p.openRun) + "\n")
		for _, c := range p.cases {
			status := c.Status
			if status == "" {
				status = "ok"
			}
			b.WriteString(fmt.Sprintf("  %-5s %-5s %-22s %s\n",
				passFail(c.BuildPassed), runVerdict(c), status, c.Case))
		}
	}
	return b.String()
}

func runVerdict(c store.CaseRecord) string {
	if c.RunTime == "" {
		return "-"
	}
	return passFail(c.RunPassed)
}

func (p *HistoryPage) Name() string { return "History" }

func (p *HistoryPage) ShortHelp() []key.Binding {
	return []key.Binding{
		key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "open run")),
		key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "reload")),
		key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "close")),
	}
}

func (p *HistoryPage) SetSize(w, h int) {
	p.width = w
	p.height = h
}
