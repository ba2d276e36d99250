package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/buckleypaul/sdkrun/internal/harness"
)

// Store persists run history: a summary per run, a record per case and the
// full report of every run.
type Store struct {
	root string
	mu   sync.Mutex
}

var _ harness.Sink = (*Store)(nil)

// New creates a Store rooted at the given directory (typically .sdkrun/).
func New(root string) *Store {
	return &Store{root: root}
}

func (s *Store) historyDir() string {
	return filepath.Join(s.root, "history")
}

func (s *Store) reportsDir() string {
	return filepath.Join(s.root, "reports")
}

func (s *Store) logsDir() string {
	return filepath.Join(s.root, "logs")
}

// Name implements harness.Sink.
func (s *Store) Name() string { return "history" }

// Write implements harness.Sink. It saves the full report and appends the
// run and its cases to the history.
func (s *Store) Write(_ context.Context, report *harness.RunReport) error {
	file, err := s.SaveReport(report)
	if err != nil {
		return fmt.Errorf("save report: %w", err)
	}

	passed, failed := report.Counts()
	run := RunRecord{
		RunID:       report.RunID,
		Timestamp:   report.Started,
		Duration:    report.Finished.Sub(report.Started).Round(time.Millisecond).String(),
		Cases:       len(report.Results),
		Passed:      passed,
		Failed:      failed,
		Skipped:     len(report.Skipped),
		Success:     report.Passed(),
		AsExpected:  report.AsExpected(),
		Aborted:     report.AbortReason,
		Interrupted: report.Interrupted,
		CI:          report.CI,
		ReportFile:  file,
	}
	if err := s.AddRun(run); err != nil {
		return err
	}
	for _, res := range report.Results {
		if err := s.AddCase(caseRecord(report.RunID, res)); err != nil {
			return err
		}
	}
	return nil
}

func caseRecord(runID string, res harness.CaseResult) CaseRecord {
	r := CaseRecord{
		RunID:       runID,
		Case:        res.Spec.ID,
		App:         res.Spec.App,
		Config:      res.Spec.Config,
		Timestamp:   res.StartedAt,
		BuildPassed: res.BuildPassed,
		RunPassed:   res.RunPassed,
		Status:      string(res.Status),
		Retries:     res.RetryCount,
		BuildTime:   res.BuildElapsed.Round(time.Millisecond).String(),
		LogDir:      res.Spec.LogDir,
	}
	if res.RunAttempted {
		r.Backend = res.Spec.Backend
		r.RunTime = res.RunElapsed.Round(time.Millisecond).String()
	}
	return r
}

// AddRun appends a run record.
func (s *Store) AddRun(r RunRecord) error {
	return s.appendRecord("runs.json", r)
}

// AddCase appends a case record.
func (s *Store) AddCase(r CaseRecord) error {
	return s.appendRecord("cases.json", r)
}

// Runs returns all run records.
func (s *Store) Runs() ([]RunRecord, error) {
	var records []RunRecord
	err := s.loadRecords("runs.json", &records)
	return records, err
}

// Cases returns the case records of runID, or of every run if runID is
// empty.
func (s *Store) Cases(runID string) ([]CaseRecord, error) {
	var records []CaseRecord
	if err := s.loadRecords("cases.json", &records); err != nil {
		return nil, err
	}
	if runID == "" {
		return records, nil
	}
	var out []CaseRecord
	for _, r := range records {
		if r.RunID == runID {
			out = append(out, r)
		}
	}
	return out, nil
}

// SaveReport writes the full report to reports/<run id>.json and returns
// the file path.
func (s *Store) SaveReport(report *harness.RunReport) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.reportsDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, report.RunID+".json")
	return path, os.WriteFile(path, data, 0o644)
}

// LoadReport reads the full report of runID.
func (s *Store) LoadReport(runID string) (*harness.RunReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(filepath.Join(s.reportsDir(), runID+".json"))
	if err != nil {
		return nil, err
	}
	var report harness.RunReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("parse report %s: %w", runID, err)
	}
	return &report, nil
}

// LogsDir returns the path to the logs directory, creating it if needed.
func (s *Store) LogsDir() (string, error) {
	dir := s.logsDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

func (s *Store) appendRecord(filename string, record any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.historyDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	path := filepath.Join(dir, filename)

	// Read existing records
	var records []json.RawMessage
	if data, err := os.ReadFile(path); err == nil {
		json.Unmarshal(data, &records)
	}

	raw, err := json.Marshal(record)
	if err != nil {
		return err
	}
	records = append(records, raw)

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (s *Store) loadRecords(filename string, dest any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.historyDir(), filename)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return json.Unmarshal(data, dest)
}
