package app

import (
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/buckleypaul/sdkrun/internal/harness"
)

// PageID identifies each page in the dashboard.
type PageID int

const (
	CasesPage PageID = iota
	LogPage
	DetailPage
	HistoryPage
)

var PageOrder = []PageID{
	CasesPage,
	LogPage,
	DetailPage,
	HistoryPage,
}

// Page is the interface every page in the dashboard implements.
type Page interface {
	Init() tea.Cmd
	Update(msg tea.Msg) (Page, tea.Cmd)
	View() string
	Name() string
	ShortHelp() []key.Binding
	SetSize(width, height int)
}

// InputCapturer is an optional interface for pages with text inputs.
// When InputCaptured returns true, the app forwards all keys directly
// to the page instead of processing shortcuts like q, ?, left, etc.
type InputCapturer interface {
	InputCaptured() bool
}

// EventMsg carries a run progress event from the loop.
type EventMsg struct {
	Event harness.Event
}

// LogLineMsg is one line of build, deploy or transcript output.
type LogLineMsg struct {
	Line string
}

// RunDoneMsg is sent once the loop returned and the sinks ran.
type RunDoneMsg struct {
	Report *harness.RunReport
	Err    error
}

// CaseSelectedMsg is broadcast to all pages when a case is picked.
type CaseSelectedMsg struct {
	ID string
}
