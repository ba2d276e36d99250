package app

import (
	"fmt"
	"path"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/truncate"

	"github.com/buckleypaul/sdkrun/internal/ui"
)

// finderClosedMsg is sent when the finder is dismissed without a choice.
type finderClosedMsg struct{}

type finderEntry struct {
	id      string
	verdict string // "" while the case runs
}

type finderKeyMap struct {
	Close  key.Binding
	Choose key.Binding
	Up     key.Binding
	Down   key.Binding
}

var finderKeys = finderKeyMap{
	Close:  key.NewBinding(key.WithKeys("esc")),
	Choose: key.NewBinding(key.WithKeys("enter")),
	Up:     key.NewBinding(key.WithKeys("up", "ctrl+p")),
	Down:   key.NewBinding(key.WithKeys("down", "ctrl+n")),
}

const finderRows = 12

// caseFinder is the overlay that jumps to a case of the current run.
// Choosing a case emits CaseSelectedMsg.
type caseFinder struct {
	entries []finderEntry
	matches []finderEntry
	query   textinput.Model
	cursor  int
	width   int
}

func newCaseFinder(entries []finderEntry) *caseFinder {
	q := textinput.New()
	q.Placeholder = "case id"
	q.Prompt = "/ "
	q.CharLimit = 128
	q.Focus()

	f := &caseFinder{entries: entries, query: q}
	f.refresh()
	return f
}

func (f *caseFinder) Update(msg tea.Msg) (*caseFinder, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok {
		switch {
		case key.Matches(msg, finderKeys.Close):
			return f, func() tea.Msg { return finderClosedMsg{} }
		case key.Matches(msg, finderKeys.Choose):
			if f.cursor >= len(f.matches) {
				return f, nil
			}
			id := f.matches[f.cursor].id
			return f, func() tea.Msg { return CaseSelectedMsg{ID: id} }
		case key.Matches(msg, finderKeys.Up):
			f.cursor = max(f.cursor-1, 0)
			return f, nil
		case key.Matches(msg, finderKeys.Down):
			f.cursor = min(f.cursor+1, max(len(f.matches)-1, 0))
			return f, nil
		}
	}

	var cmd tea.Cmd
	f.query, cmd = f.query.Update(msg)
	f.refresh()
	return f, cmd
}

func (f *caseFinder) View() string {
	width := min(max(f.width-4, 36), 72)
	inner := width - 4
	f.query.Width = inner - 3

	var b strings.Builder
	b.WriteString(f.query.View())
	b.WriteString("\n\n")

	first := 0
	if f.cursor >= finderRows {
		first = f.cursor - finderRows + 1
	}
	last := min(first+finderRows, len(f.matches))
	for i := first; i < last; i++ {
		e := f.matches[i]
		state := e.verdict
		if state == "" {
			state = "running"
		}
		row := truncate.StringWithTail(e.id, uint(max(inner-len(state)-4, 8)), "…")
		row += "  " + ui.DimStyle.Render(state)
		if i == f.cursor {
			row = lipgloss.NewStyle().Foreground(ui.Primary).Bold(true).Render("▸ " + row)
		} else {
			row = "  " + row
		}
		b.WriteString(row + "\n")
	}
	if len(f.matches) == 0 {
		b.WriteString(ui.DimStyle.Render("  no case matches") + "\n")
	}
	b.WriteString("\n" + ui.DimStyle.Render(fmt.Sprintf("%d of %d cases  enter:open  esc:close", len(f.matches), len(f.entries))))

	return ui.Panel("Find Case", b.String(), width, 0, true)
}

// refresh ranks the entries against the query: cases whose last path
// element starts with it first, then substring matches, then
// subsequence matches.
func (f *caseFinder) refresh() {
	q := strings.ToLower(strings.TrimSpace(f.query.Value()))
	if q == "" {
		f.matches = f.entries
	} else {
		var prefix, inside, loose []finderEntry
		for _, e := range f.entries {
			id := strings.ToLower(e.id)
			switch {
			case strings.HasPrefix(path.Base(id), q):
				prefix = append(prefix, e)
			case strings.Contains(id, q):
				inside = append(inside, e)
			case subsequence(id, q):
				loose = append(loose, e)
			}
		}
		f.matches = append(append(prefix, inside...), loose...)
	}
	f.cursor = min(f.cursor, max(len(f.matches)-1, 0))
}

// subsequence reports whether every byte of q appears in s in order.
func subsequence(s, q string) bool {
	i := 0
	for j := 0; j < len(s) && i < len(q); j++ {
		if s[j] == q[i] {
			i++
		}
	}
	return i == len(q)
}
