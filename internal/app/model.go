package app

import (
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/buckleypaul/sdkrun/internal/harness"
	"github.com/buckleypaul/sdkrun/internal/ui"
)

type FocusArea int

const (
	FocusSidebar FocusArea = iota
	FocusContent
)

type Model struct {
	pages      map[PageID]Page
	activePage PageID
	focus      FocusArea
	width      int
	height     int
	showHelp   bool
	finder     *caseFinder
	run        runState
	cases      []string
	verdicts   map[string]string
	quitting   bool
}

func New(pages map[PageID]Page) Model {
	return Model{
		pages: pages,
		focus: FocusContent,
	}
}

func (m Model) Init() tea.Cmd {
	var cmds []tea.Cmd
	for _, p := range m.pages {
		if cmd := p.Init(); cmd != nil {
			cmds = append(cmds, cmd)
		}
	}
	return tea.Batch(cmds...)
}

// Quitting reports whether the user asked to quit before the run ended.
func (m Model) Quitting() bool { return m.quitting && !m.run.done }

func (m Model) contentSize() (int, int) {
	return m.width - sidebarWidth, m.height - 2 - 1 // status bar + run bar
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		w, h := m.contentSize()
		for _, p := range m.pages {
			p.SetSize(w, h)
		}
		return m, nil

	case EventMsg:
		m.track(msg.Event)
		return m, m.broadcast(msg)

	case RunDoneMsg:
		m.run.done = true
		switch {
		case msg.Report == nil:
		case msg.Report.Aborted:
			m.run.outcome = ui.ErrorBadge("ABORTED")
		case msg.Report.Interrupted:
			m.run.outcome = ui.WarningBadge("INTERRUPTED")
		case msg.Report.AsExpected():
			m.run.outcome = ui.SuccessBadge("DONE")
		default:
			m.run.outcome = ui.ErrorBadge("FAILED")
		}
		return m, m.broadcast(msg)

	case CaseSelectedMsg:
		m.finder = nil
		m.activePage = DetailPage
		m.focus = FocusContent
		return m, m.broadcast(msg)

	case finderClosedMsg:
		m.finder = nil
		return m, nil

	case tea.KeyMsg:
		if m.finder != nil {
			var cmd tea.Cmd
			m.finder, cmd = m.finder.Update(msg)
			return m, cmd
		}

		// When a page has an active text input, forward all keys
		// directly to the page; only ctrl+c still quits.
		if m.focus == FocusContent {
			if ic, ok := m.pages[m.activePage].(InputCapturer); ok && ic.InputCaptured() {
				if msg.String() == "ctrl+c" {
					m.quitting = true
					return m, tea.Quit
				}
				return m, m.updateActive(msg)
			}
		}

		switch {
		case key.Matches(msg, GlobalKeys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, GlobalKeys.Help):
			m.showHelp = !m.showHelp
			return m, nil
		case key.Matches(msg, GlobalKeys.FindCase):
			m.openFinder()
			return m, nil
		case key.Matches(msg, GlobalKeys.JumpPage) && m.focus == FocusSidebar:
			if i := int(msg.String()[0] - '1'); i < len(PageOrder) {
				m.activePage = PageOrder[i]
				m.focus = FocusContent
			}
			return m, nil
		case key.Matches(msg, GlobalKeys.ToggleFocus):
			if m.focus == FocusSidebar {
				m.focus = FocusContent
			} else {
				m.focus = FocusSidebar
			}
			return m, nil
		}

		if m.focus == FocusSidebar {
			switch msg.String() {
			case "up":
				m.prevPage()
			case "down":
				m.nextPage()
			case "enter", "right":
				m.focus = FocusContent
			}
			return m, nil
		}
		if msg.String() == "left" {
			m.focus = FocusSidebar
			return m, nil
		}
		return m, m.updateActive(msg)
	}

	// Command results and ticks reach every page so responses find the
	// page that initiated the command.
	return m, m.broadcast(msg)
}

func (m *Model) track(ev harness.Event) {
	switch ev.Kind {
	case harness.EventRunStarted:
		m.run = runState{runID: ev.RunID, total: ev.Total}
		m.cases = nil
		m.verdicts = map[string]string{}
	case harness.EventCaseSkipped:
		m.run.skipped++
	case harness.EventCaseStarted:
		m.run.started = ev.Index + 1
		m.run.current = ev.Case
		m.run.phase = ""
		m.run.attempt = 0
		m.cases = append(m.cases, ev.Case)
	case harness.EventPhase:
		m.run.phase = ev.Phase
		m.run.attempt = ev.Attempt
	case harness.EventCaseFinished:
		verdict := "FAIL"
		if ev.Result != nil && ev.Result.Passed() {
			m.run.passed++
			verdict = "PASS"
		} else {
			m.run.failed++
			if ev.Result != nil && ev.Result.Status != harness.ClassNone {
				verdict = string(ev.Result.Status)
			}
		}
		if m.verdicts != nil {
			m.verdicts[ev.Case] = verdict
		}
		m.run.current = ""
		m.run.phase = ""
	}
}

func (m *Model) openFinder() {
	entries := make([]finderEntry, 0, len(m.cases))
	for _, id := range m.cases {
		entries = append(entries, finderEntry{id: id, verdict: m.verdicts[id]})
	}
	m.finder = newCaseFinder(entries)
	m.finder.width, _ = m.contentSize()
}

func (m *Model) updateActive(msg tea.Msg) tea.Cmd {
	page, ok := m.pages[m.activePage]
	if !ok {
		return nil
	}
	newPage, cmd := page.Update(msg)
	m.pages[m.activePage] = newPage
	return cmd
}

func (m *Model) broadcast(msg tea.Msg) tea.Cmd {
	var cmds []tea.Cmd
	for id, page := range m.pages {
		newPage, cmd := page.Update(msg)
		m.pages[id] = newPage
		if cmd != nil {
			cmds = append(cmds, cmd)
		}
	}
	return tea.Batch(cmds...)
}

func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	contentWidth, contentHeight := m.contentSize()

	page, ok := m.pages[m.activePage]
	if !ok {
		return "No pages"
	}

	runBar := renderRunBar(m.run, m.width)
	sidebar := renderSidebar(PageOrder, m.activePage, m.pages, contentHeight, m.focus == FocusSidebar)
	body := page.View()
	if m.showHelp {
		body = renderHelp(contentWidth)
	}
	content := ui.ContentStyle.
		Width(contentWidth).
		Height(contentHeight).
		Render(body)

	if m.finder != nil {
		m.finder.width = contentWidth
		content = lipgloss.Place(
			contentWidth, contentHeight,
			lipgloss.Center, lipgloss.Center,
			m.finder.View(),
		)
	}

	statusBar := renderStatusBar(page.ShortHelp(), m.width, m.focus)

	return renderLayout(runBar, sidebar, content, statusBar)
}

func (m *Model) nextPage() {
	for i, id := range PageOrder {
		if id == m.activePage {
			m.activePage = PageOrder[(i+1)%len(PageOrder)]
			return
		}
	}
}

func (m *Model) prevPage() {
	for i, id := range PageOrder {
		if id == m.activePage {
			m.activePage = PageOrder[(i-1+len(PageOrder))%len(PageOrder)]
			return
		}
	}
}
