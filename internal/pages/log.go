package pages

import (
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/buckleypaul/sdkrun/internal/app"
	"github.com/buckleypaul/sdkrun/internal/harness"
	"github.com/buckleypaul/sdkrun/internal/ui"
)

// maxLogLines bounds the scrollback kept in memory. Full logs are on disk.
const maxLogLines = 5000

// LogPage streams build, deploy and transcript output.
type LogPage struct {
	lines    []string
	viewport viewport.Model
	follow   bool

	width, height int
}

func NewLogPage() *LogPage {
	return &LogPage{
		viewport: viewport.New(0, 0),
		follow:   true,
	}
}

func (p *LogPage) Init() tea.Cmd { return nil }

func (p *LogPage) Update(msg tea.Msg) (app.Page, tea.Cmd) {
	switch msg := msg.(type) {
	case app.LogLineMsg:
		p.append(msg.Line)
		return p, nil

	case app.EventMsg:
		switch ev := msg.Event; ev.Kind {
		case harness.EventCaseStarted:
			p.append(ui.BoldStyle.Render("=== " + ev.Case + " ==="))
		case harness.EventPhase:
			if ev.Phase == harness.PhaseRecover {
				p.append(ui.AccentStyle.Render("--- recovering device ---"))
			}
		}
		return p, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "f":
			p.follow = !p.follow
			if p.follow {
				p.viewport.GotoBottom()
			}
			return p, nil
		case "c":
			p.lines = nil
			p.refresh()
			return p, nil
		case "g":
			p.follow = false
			p.viewport.GotoTop()
			return p, nil
		case "G":
			p.follow = true
			p.viewport.GotoBottom()
			return p, nil
		}
	}

	var cmd tea.Cmd
	p.viewport, cmd = p.viewport.Update(msg)
	return p, cmd
}

func (p *LogPage) append(line string) {
	p.lines = append(p.lines, line)
	if n := len(p.lines) - maxLogLines; n > 0 {
		p.lines = append(p.lines[:0], p.lines[n:]...)
	}
	p.refresh()
}

func (p *LogPage) refresh() {
	p.viewport.SetContent(ui.WrapLog(strings.Join(p.lines, "\n"), p.viewport.Width))
	if p.follow {
		p.viewport.GotoBottom()
	}
}

func (p *LogPage) View() string {
	title := ui.Title("Log")
	if !p.follow {
		title += " " + ui.DimStyle.Render("(paused)")
	}

	style := lipgloss.NewStyle().
		Width(p.width).
		BorderStyle(lipgloss.RoundedBorder()).
		BorderTop(true).
		BorderForeground(ui.Surface).
		PaddingLeft(1)

	if len(p.lines) == 0 {
		return lipgloss.JoinVertical(lipgloss.Left, title, style.Render(ui.DimStyle.Render("Output will appear here...")))
	}
	return lipgloss.JoinVertical(lipgloss.Left, title, style.Render(p.viewport.View()))
}

func (p *LogPage) Name() string { return "Log" }

func (p *LogPage) ShortHelp() []key.Binding {
	follow := "pause"
	if !p.follow {
		follow = "follow"
	}
	return []key.Binding{
		key.NewBinding(key.WithKeys("f"), key.WithHelp("f", follow)),
		key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "clear")),
		key.NewBinding(key.WithKeys("g", "G"), key.WithHelp("g/G", "top/bottom")),
	}
}

func (p *LogPage) SetSize(w, h int) {
	p.width = w
	p.height = h
	// border, padding and title
	p.viewport.Width = max(w-3, 10)
	p.viewport.Height = max(h-4, 3)
	p.refresh()
}
