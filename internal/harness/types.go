// Package harness runs test cases end to end: build, deploy, observe,
// classify, retry, and escalate across a whole run.
package harness

import (
	"time"

	"github.com/buckleypaul/sdkrun/internal/backend"
	"github.com/buckleypaul/sdkrun/internal/build"
	"github.com/buckleypaul/sdkrun/internal/logcheck"
	"github.com/buckleypaul/sdkrun/internal/monitor"
)

// ErrorClass is the failure taxonomy surfaced in results.
type ErrorClass string

const (
	ClassNone                  ErrorClass = ""
	ClassBuildFailed           ErrorClass = "BuildFailed"
	ClassDeployFailed          ErrorClass = "DeployFailed"
	ClassRunFailed             ErrorClass = "RunFailed"
	ClassRunTimedOut           ErrorClass = "RunTimedOut"
	ClassEnvironmentError      ErrorClass = "EnvironmentError"
	ClassDeviceHung            ErrorClass = "DeviceHung"
	ClassDebuggerInternalFault ErrorClass = "DebuggerInternalFault"
	ClassBannerTimeout         ErrorClass = "BannerTimeout"
	ClassAborted               ErrorClass = "Aborted"
	ClassInterrupted           ErrorClass = "Interrupted"
)

// RetryBudget bounds the retry loop per failure class. The loop ends once
// the number of retry decisions reaches the budget of the class that
// triggered the latest one, so a budget of N allows at most N attempts for
// a class that keeps failing. Zero disables retrying that class.
type RetryBudget struct {
	DeviceHung    int `json:"hang"`
	DebuggerFault int `json:"gdb"`
	BannerTimeout int `json:"banner"`
	DeployFailed  int `json:"upload"`
}

// DefaultRetryBudget allows one retry for every retryable class and two
// for debugger internal faults.
func DefaultRetryBudget() RetryBudget {
	return RetryBudget{DeviceHung: 2, DebuggerFault: 3, BannerTimeout: 2, DeployFailed: 2}
}

// For returns the budget for class, or zero if it is not retryable.
func (b RetryBudget) For(class ErrorClass) int {
	switch class {
	case ClassDeviceHung:
		return b.DeviceHung
	case ClassDebuggerInternalFault:
		return b.DebuggerFault
	case ClassBannerTimeout:
		return b.BannerTimeout
	case ClassDeployFailed:
		return b.DeployFailed
	}
	return 0
}

// CaseSpec identifies one (application, configuration) pair and carries
// everything needed to build and run it. It is not modified once built.
type CaseSpec struct {
	ID             string            `json:"id"`
	App            string            `json:"app"`
	Config         string            `json:"config,omitempty"`
	BuildOptions   map[string]string `json:"build_config,omitempty"`
	BuildGoal      string            `json:"build_target"`
	Parallel       string            `json:"parallel,omitempty"`
	BuildOnly      bool              `json:"build_only,omitempty"`
	Backend        string            `json:"backend"`
	BackendOptions map[string]string `json:"backend_options,omitempty"`
	Checks         logcheck.Checks   `json:"checks"`
	RunTimeout     time.Duration     `json:"run_timeout"`
	BannerTimeout  time.Duration     `json:"banner_timeout"`
	BannerCheck    bool              `json:"banner_check"`
	BannerTag      string            `json:"banner_tag,omitempty"`
	Retry          RetryBudget       `json:"retry"`
	SerialPort     string            `json:"serport,omitempty"`
	BaudRate       int               `json:"baudrate,omitempty"`
	ProbeSerial    string            `json:"ftdi_serial,omitempty"`
	HangAction     string            `json:"hang_action,omitempty"`
	FPGABitstream  string            `json:"fpgabit,omitempty"`
	FPGASerial     string            `json:"fpgaserial,omitempty"`
	CopyObjects    bool              `json:"copy_objects,omitempty"`
	LogDir         string            `json:"logdir,omitempty"`
	Expected       *Expectation      `json:"expected,omitempty"`
}

// Expectation is the known status of a case, used to tolerate known
// failures when deciding the exit status of a run.
type Expectation struct {
	Build bool `json:"build"`
	Run   bool `json:"run"`
}

// Attempt records one deploy and observe cycle.
type Attempt struct {
	Number      int              `json:"number"`
	Command     []string         `json:"command,omitempty"`
	DeployOK    bool             `json:"deploy_ok"`
	DeployError string           `json:"deploy_error,omitempty"`
	Unrunnable  bool             `json:"unrunnable,omitempty"` // no command for this target
	Signals     backend.Signals  `json:"signals"`
	Observed    bool             `json:"observed"`
	Outcome     *monitor.Outcome `json:"outcome,omitempty"`
	Class       ErrorClass       `json:"class,omitempty"`
	Recovery    string           `json:"recovery,omitempty"`
	RecoveryErr string           `json:"recovery_error,omitempty"`
	Elapsed     time.Duration    `json:"elapsed"`
}

// CaseResult is the durable record of one case. RetryCount includes the
// failure that exhausted a budget, so it can exceed the retries actually
// performed, len(Attempts)-1, by one.
type CaseResult struct {
	RunID           string            `json:"run_id,omitempty"`
	Spec            CaseSpec          `json:"spec"`
	StartedAt       time.Time         `json:"started_at"`
	Artifact        *build.Artifact   `json:"build,omitempty"`
	BuildPassed     bool              `json:"build_passed"`
	RunAttempted    bool              `json:"run_attempted"`
	RunPassed       bool              `json:"run_passed"`
	Status          ErrorClass        `json:"status,omitempty"`
	Err             string            `json:"error,omitempty"`
	Outcome         *monitor.Outcome  `json:"outcome,omitempty"`
	Attempts        []Attempt         `json:"attempts,omitempty"`
	RetryCount      int               `json:"retry_count"` // failures charged to a retry budget
	DeviceHung      bool              `json:"device_hung,omitempty"`
	UploadConfirmed bool              `json:"upload_confirmed,omitempty"`
	DebuggerVersion string            `json:"debugger_version,omitempty"`
	ToolVersion     string            `json:"tool_version,omitempty"`
	DeployCommand   string            `json:"deploy_command,omitempty"`
	Logs            map[string]string `json:"logs,omitempty"`
	SavedObjects    map[string]string `json:"saved_objects,omitempty"`
	BuildElapsed    time.Duration     `json:"build_elapsed"`
	RunElapsed      time.Duration     `json:"run_elapsed"`
	TotalElapsed    time.Duration     `json:"total_elapsed"`
}

// Passed reports whether the case met its goal: a passing build, and a
// passing run unless the case is build only.
func (r CaseResult) Passed() bool {
	if !r.BuildPassed {
		return false
	}
	return r.Spec.BuildOnly || r.RunPassed
}

// AsExpected reports whether the result matches the case expectation.
// Cases without one are expected to pass.
func (r CaseResult) AsExpected() bool {
	if r.Spec.Expected == nil {
		return r.Passed()
	}
	if r.BuildPassed != r.Spec.Expected.Build {
		return false
	}
	if r.Spec.BuildOnly || !r.BuildPassed {
		return true
	}
	return r.RunPassed == r.Spec.Expected.Run
}

// SkippedCase is a case rejected by the run filter.
type SkippedCase struct {
	Spec   CaseSpec `json:"spec"`
	Reason string   `json:"reason"`
}

// CIInfo links a run to the CI job that produced it.
type CIInfo struct {
	JobURL      string `json:"job_url,omitempty"`
	PipelineURL string `json:"pipeline_url,omitempty"`
}

// RunReport is everything a run produced. It is handed to every sink.
type RunReport struct {
	RunID         string         `json:"run_id"`
	Started       time.Time      `json:"started"`
	Finished      time.Time      `json:"finished"`
	Results       []CaseResult   `json:"results"`
	Skipped       []SkippedCase  `json:"skipped,omitempty"`
	Aborted       bool           `json:"aborted,omitempty"`
	AbortReason   string         `json:"abort_reason,omitempty"`
	Interrupted   bool           `json:"interrupted,omitempty"`
	StoppedOnFail bool           `json:"stopped_on_fail,omitempty"`
	Counters      map[string]int `json:"counters,omitempty"`
	CI            CIInfo         `json:"ci,omitempty"`
}

// ByID returns the results keyed by case id.
func (r *RunReport) ByID() map[string]CaseResult {
	out := make(map[string]CaseResult, len(r.Results))
	for _, res := range r.Results {
		out[res.Spec.ID] = res
	}
	return out
}

// Passed reports whether every recorded case passed and the run was not
// cut short by an abort or interruption.
func (r *RunReport) Passed() bool {
	if r.Aborted || r.Interrupted {
		return false
	}
	for _, res := range r.Results {
		if !res.Passed() {
			return false
		}
	}
	return true
}

// AsExpected is like Passed but honours per-case expectations.
func (r *RunReport) AsExpected() bool {
	if r.Aborted || r.Interrupted {
		return false
	}
	for _, res := range r.Results {
		if !res.AsExpected() {
			return false
		}
	}
	return true
}

// Counts returns the number of passed and failed cases.
func (r *RunReport) Counts() (passed, failed int) {
	for _, res := range r.Results {
		if res.Passed() {
			passed++
		} else {
			failed++
		}
	}
	return passed, failed
}
