package app

import (
	"strings"
	"sync"
	"testing"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/buckleypaul/sdkrun/internal/harness"
)

type fakeSender struct {
	mu   sync.Mutex
	msgs []tea.Msg
}

func (f *fakeSender) Send(msg tea.Msg) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msg)
}

func (f *fakeSender) lines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, m := range f.msgs {
		if l, ok := m.(LogLineMsg); ok {
			out = append(out, l.Line)
		}
	}
	return out
}

// recordingPage remembers every message it receives.
type recordingPage struct {
	name string
	msgs []tea.Msg
}

func (p *recordingPage) Init() tea.Cmd { return nil }
func (p *recordingPage) Update(msg tea.Msg) (Page, tea.Cmd) {
	p.msgs = append(p.msgs, msg)
	return p, nil
}
func (p *recordingPage) View() string             { return p.name + " view" }
func (p *recordingPage) Name() string             { return p.name }
func (p *recordingPage) ShortHelp() []key.Binding { return nil }
func (p *recordingPage) SetSize(w, h int)         {}

func (p *recordingPage) received(match func(tea.Msg) bool) bool {
	for _, m := range p.msgs {
		if match(m) {
			return true
		}
	}
	return false
}

func newTestModel() (Model, map[PageID]*recordingPage) {
	recs := map[PageID]*recordingPage{
		CasesPage:   {name: "Cases"},
		LogPage:     {name: "Log"},
		DetailPage:  {name: "Details"},
		HistoryPage: {name: "History"},
	}
	pages := map[PageID]Page{}
	for id, p := range recs {
		pages[id] = p
	}
	m := New(pages)
	updated, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	return updated.(Model), recs
}

// send applies msgs in order. Commands are not run; tests that depend on
// a command's message run it themselves.
func send(m Model, msgs ...tea.Msg) Model {
	for _, msg := range msgs {
		updated, _ := m.Update(msg)
		m = updated.(Model)
	}
	return m
}

func TestLineWriterSplitsLines(t *testing.T) {
	s := &fakeSender{}
	w := NewLineWriter(s)
	w.Write([]byte("first\r\nsec"))
	w.Write([]byte("ond\nthird"))
	if got := s.lines(); strings.Join(got, "|") != "first|second" {
		t.Fatalf("expected first|second, got %v", got)
	}
	w.Flush()
	if got := s.lines(); len(got) != 3 || got[2] != "third" {
		t.Fatalf("expected trailing partial line after flush, got %v", got)
	}
	w.Flush()
	if got := s.lines(); len(got) != 3 {
		t.Fatalf("expected no extra line on second flush, got %v", got)
	}
}

func TestObserveSendsEvents(t *testing.T) {
	s := &fakeSender{}
	Observe(s)(harness.Event{Kind: harness.EventCaseStarted, Case: "hello"})
	if len(s.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(s.msgs))
	}
	ev, ok := s.msgs[0].(EventMsg)
	if !ok || ev.Event.Case != "hello" {
		t.Fatalf("unexpected message %#v", s.msgs[0])
	}
}

func TestModelTracksRunProgress(t *testing.T) {
	m, recs := newTestModel()
	passed := &harness.CaseResult{BuildPassed: true, RunAttempted: true, RunPassed: true}
	hung := &harness.CaseResult{BuildPassed: true, RunAttempted: true, Status: harness.ClassDeviceHung}

	m = send(m,
		EventMsg{Event: harness.Event{Kind: harness.EventRunStarted, RunID: "0123456789abcdef", Total: 3}},
		EventMsg{Event: harness.Event{Kind: harness.EventCaseStarted, Index: 0, Case: "a"}},
		EventMsg{Event: harness.Event{Kind: harness.EventCaseFinished, Index: 0, Case: "a", Result: passed}},
		EventMsg{Event: harness.Event{Kind: harness.EventCaseStarted, Index: 1, Case: "b"}},
		EventMsg{Event: harness.Event{Kind: harness.EventPhase, Case: "b", Phase: harness.PhaseMonitor, Attempt: 2}},
	)

	if m.run.passed != 1 || m.run.started != 2 || m.run.current != "b" || m.run.attempt != 2 {
		t.Fatalf("unexpected run state %+v", m.run)
	}
	view := m.View()
	if !strings.Contains(view, "Run 01234567") || !strings.Contains(view, "2/3") {
		t.Errorf("run bar missing progress:\n%s", view)
	}
	if !strings.Contains(view, "monitor #2") {
		t.Errorf("run bar missing phase:\n%s", view)
	}

	m = send(m, EventMsg{Event: harness.Event{Kind: harness.EventCaseFinished, Index: 1, Case: "b", Result: hung}})
	if m.run.failed != 1 || m.verdicts["b"] != "DeviceHung" {
		t.Fatalf("expected b to be recorded as DeviceHung, got %+v %v", m.run, m.verdicts)
	}

	// Every page sees events, not only the active one.
	for id, p := range recs {
		if !p.received(func(msg tea.Msg) bool { _, ok := msg.(EventMsg); return ok }) {
			t.Errorf("page %d did not receive events", id)
		}
	}
}

func TestModelRunDone(t *testing.T) {
	m, _ := newTestModel()
	m = send(m,
		EventMsg{Event: harness.Event{Kind: harness.EventRunStarted, RunID: "r", Total: 1}},
		RunDoneMsg{Report: &harness.RunReport{Aborted: true}},
	)
	if !m.run.done {
		t.Fatal("expected run to be done")
	}
	if !strings.Contains(m.View(), "ABORTED") {
		t.Errorf("expected ABORTED in run bar:\n%s", m.View())
	}
	if m.Quitting() {
		t.Error("a finished run is not interrupted by quitting")
	}
}

func TestModelFinderSelectsCase(t *testing.T) {
	m, recs := newTestModel()
	m = send(m,
		EventMsg{Event: harness.Event{Kind: harness.EventRunStarted, RunID: "r", Total: 2}},
		EventMsg{Event: harness.Event{Kind: harness.EventCaseStarted, Index: 0, Case: "application/baremetal/helloworld"}},
		EventMsg{Event: harness.Event{Kind: harness.EventCaseStarted, Index: 1, Case: "application/baremetal/demo_timer"}},
		tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'/'}},
	)
	if m.finder == nil {
		t.Fatal("expected finder to open")
	}

	m = send(m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("demo")})
	if len(m.finder.matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(m.finder.matches))
	}
	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = updated.(Model)
	if cmd == nil {
		t.Fatal("expected selection command")
	}
	m = send(m, cmd())

	if m.finder != nil {
		t.Error("expected finder to close")
	}
	if m.activePage != DetailPage {
		t.Errorf("expected details page, got %d", m.activePage)
	}
	selected := recs[DetailPage].received(func(msg tea.Msg) bool {
		sel, ok := msg.(CaseSelectedMsg)
		return ok && sel.ID == "application/baremetal/demo_timer"
	})
	if !selected {
		t.Error("details page did not receive the selection")
	}
}

func TestModelQuitInterrupts(t *testing.T) {
	m, _ := newTestModel()
	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	m = updated.(Model)
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatal("expected tea.QuitMsg")
	}
	if !m.Quitting() {
		t.Error("quitting before the run ended should interrupt it")
	}
}

func TestSidebarNavigation(t *testing.T) {
	m, _ := newTestModel()
	m = send(m, tea.KeyMsg{Type: tea.KeyLeft})
	if m.focus != FocusSidebar {
		t.Fatal("expected sidebar focus")
	}
	m = send(m, tea.KeyMsg{Type: tea.KeyDown}, tea.KeyMsg{Type: tea.KeyDown})
	if m.activePage != DetailPage {
		t.Errorf("expected details page, got %d", m.activePage)
	}
	m = send(m, tea.KeyMsg{Type: tea.KeyUp}, tea.KeyMsg{Type: tea.KeyUp}, tea.KeyMsg{Type: tea.KeyUp})
	if m.activePage != HistoryPage {
		t.Errorf("expected wrap around to history, got %d", m.activePage)
	}
	m = send(m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'2'}})
	if m.activePage != LogPage || m.focus != FocusContent {
		t.Errorf("expected log page with content focus, got page %d focus %d", m.activePage, m.focus)
	}
}

func TestSubsequence(t *testing.T) {
	tests := []struct {
		s, q string
		want bool
	}{
		{"application/baremetal/helloworld", "hw", true},
		{"application/baremetal/helloworld", "hello", true},
		{"application/baremetal/helloworld", "timer", false},
		{"abc", "", true},
	}
	for _, tt := range tests {
		if got := subsequence(tt.s, tt.q); got != tt.want {
			t.Errorf("subsequence(%q, %q) = %v, want %v", tt.s, tt.q, got, tt.want)
		}
	}
}

func TestFinderRanksBaseNameFirst(t *testing.T) {
	f := newCaseFinder([]finderEntry{
		{id: "application/rtos/demo"},
		{id: "application/baremetal/smphello", verdict: "PASS"},
		{id: "application/baremetal/helloworld", verdict: "PASS"},
	})
	f.query.SetValue("hello")
	f.refresh()

	var got []string
	for _, e := range f.matches {
		got = append(got, e.id)
	}
	want := []string{"application/baremetal/helloworld", "application/baremetal/smphello"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("matches = %v, want %v", got, want)
	}
	if !strings.Contains(f.View(), "2 of 3 cases") {
		t.Errorf("expected match count in view:\n%s", f.View())
	}
}
