// Package logcheck classifies device and simulator transcripts: pass/fail
// markers and the build-time banner printed at boot.
package logcheck

import "strings"

// Verdict is the classification of a single line or a whole transcript.
type Verdict int

const (
	VerdictNone Verdict = iota
	VerdictPass
	VerdictFail
)

func (v Verdict) String() string {
	switch v {
	case VerdictPass:
		return "PASS"
	case VerdictFail:
		return "FAIL"
	}
	return "NONE"
}

// Checks holds the ordered pass and fail marker substrings.
type Checks struct {
	Pass []string `json:"PASS,omitempty"`
	Fail []string `json:"FAIL,omitempty"`
}

// DefaultChecks is used when a case configures no markers: a RISC-V trap
// dump fails the run and nothing can pass it.
func DefaultChecks() Checks {
	return Checks{Fail: []string{"MCAUSE:"}}
}

// Classify tests line against the fail markers, then the pass markers.
// A line matching both is a failure.
func Classify(line string, c Checks) Verdict {
	if containsAny(line, c.Fail) {
		return VerdictFail
	}
	if containsAny(line, c.Pass) {
		return VerdictPass
	}
	return VerdictNone
}

func containsAny(line string, markers []string) bool {
	for _, m := range markers {
		if m != "" && strings.Contains(line, m) {
			return true
		}
	}
	return false
}

// Tracker applies first-match-wins classification over a transcript.
type Tracker struct {
	checks  Checks
	verdict Verdict
	line    string
}

// NewTracker returns a Tracker for the given markers.
func NewTracker(c Checks) *Tracker {
	return &Tracker{checks: c}
}

// Feed classifies line unless a verdict was already reached. It reports
// whether this line produced the verdict.
func (t *Tracker) Feed(line string) bool {
	if t.verdict != VerdictNone {
		return false
	}
	if v := Classify(line, t.checks); v != VerdictNone {
		t.verdict = v
		t.line = line
		return true
	}
	return false
}

// Verdict returns the final verdict, or VerdictNone if none was reached.
func (t *Tracker) Verdict() Verdict { return t.verdict }

// Line returns the line that produced the verdict.
func (t *Tracker) Line() string { return t.line }
