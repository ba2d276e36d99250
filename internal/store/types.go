package store

import (
	"time"

	"github.com/buckleypaul/sdkrun/internal/harness"
)

// RunRecord summarizes one run in the history.
type RunRecord struct {
	RunID       string         `json:"run_id"`
	Timestamp   time.Time      `json:"timestamp"`
	Duration    string         `json:"duration"`
	Cases       int            `json:"cases"`
	Passed      int            `json:"passed"`
	Failed      int            `json:"failed"`
	Skipped     int            `json:"skipped,omitempty"`
	Success     bool           `json:"success"`
	AsExpected  bool           `json:"as_expected"`
	Aborted     string         `json:"aborted,omitempty"`
	Interrupted bool           `json:"interrupted,omitempty"`
	CI          harness.CIInfo `json:"ci,omitempty"`
	ReportFile  string         `json:"report_file"`
}

// CaseRecord captures the outcome of one case of a run.
type CaseRecord struct {
	RunID       string    `json:"run_id"`
	Case        string    `json:"case"`
	App         string    `json:"app"`
	Config      string    `json:"config,omitempty"`
	Backend     string    `json:"backend,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	BuildPassed bool      `json:"build"`
	RunPassed   bool      `json:"run"`
	Status      string    `json:"status,omitempty"`
	Retries     int       `json:"retries,omitempty"`
	BuildTime   string    `json:"build_time"`
	RunTime     string    `json:"run_time,omitempty"`
	LogDir      string    `json:"log_dir,omitempty"`
}
