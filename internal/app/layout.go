package app

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/lipgloss"

	"github.com/buckleypaul/sdkrun/internal/ui"
)

const sidebarWidth = 22 // 20 content + 2 border/padding

// runState is what the run bar shows.
type runState struct {
	runID   string
	total   int
	started int
	passed  int
	failed  int
	skipped int
	current string
	phase   string
	attempt int
	done    bool
	outcome string
}

func renderRunBar(s runState, width int) string {
	if s.runID == "" {
		return ui.RunBarStyle.Width(width).Render("Waiting for run...")
	}
	id := s.runID
	if len(id) > 8 {
		id = id[:8]
	}
	content := fmt.Sprintf("Run %s  %d/%d  passed %d  failed %d", id, s.started, s.total, s.passed, s.failed)
	if s.skipped > 0 {
		content += fmt.Sprintf("  skipped %d", s.skipped)
	}
	switch {
	case s.done:
		content += "  " + s.outcome
	case s.current != "":
		content += "  " + s.current
		if s.phase != "" {
			phase := s.phase
			if s.attempt > 1 {
				phase += fmt.Sprintf(" #%d", s.attempt)
			}
			content += ui.DimStyle.Render(" [" + phase + "]")
		}
	}
	return ui.RunBarStyle.Width(width).Render(content)
}

func renderSidebar(pages []PageID, active PageID, pageMap map[PageID]Page, height int, focused bool) string {
	var b strings.Builder
	var title string
	if focused {
		title = ui.BoldStyle.Render("sdkrun [FOCUSED]")
	} else {
		title = ui.TitleStyle.Render("sdkrun")
	}
	b.WriteString(title)
	b.WriteString("\n\n")

	for _, id := range pages {
		p, ok := pageMap[id]
		if !ok {
			continue
		}
		if id == active {
			b.WriteString(ui.SidebarActiveStyle.Render("▸ " + p.Name()))
		} else {
			b.WriteString(ui.SidebarItemStyle.Render("  " + p.Name()))
		}
		b.WriteString("\n")
	}

	style := ui.SidebarStyle.Height(height)
	if focused {
		style = style.BorderForeground(ui.Primary)
	}
	return style.Render(b.String())
}

func renderStatusBar(pageHelp []key.Binding, width int, focus FocusArea) string {
	var parts []string

	if focus == FocusSidebar {
		parts = append(parts,
			ui.StatusKey("↑/↓", "navigate"),
			ui.StatusKey("enter", "select"),
			ui.StatusKey("/", "find case"),
		)
	} else {
		for _, kb := range pageHelp {
			if kb.Enabled() {
				parts = append(parts, ui.StatusKey(kb.Help().Key, kb.Help().Desc))
			}
		}
	}

	parts = append(parts,
		ui.StatusKey("tab", "focus"),
		ui.StatusKey("?", "help"),
		ui.StatusKey("q", "quit"),
	)

	line := strings.Join(parts, "  ")
	return ui.StatusBarStyle.Width(width).Render(line)
}

func renderHelp(width int) string {
	rows := []string{
		ui.Title("Keys"),
		ui.StatusKey("tab", "switch between sidebar and page"),
		ui.StatusKey("↑/↓", "move"),
		ui.StatusKey("enter", "open"),
		ui.StatusKey("/", "jump to a case"),
		ui.StatusKey("1-4", "open a page from the sidebar"),
		ui.StatusKey("?", "close help"),
		ui.StatusKey("q", "quit and interrupt the run"),
	}
	return lipgloss.NewStyle().Width(width).Render(strings.Join(rows, "\n"))
}

func renderLayout(runBar, sidebar, content, statusBar string) string {
	main := lipgloss.JoinHorizontal(lipgloss.Top, sidebar, content)
	return lipgloss.JoinVertical(lipgloss.Left, runBar, main, statusBar)
}
