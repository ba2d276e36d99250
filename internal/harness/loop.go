package harness

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

// EventKind identifies a run progress event.
type EventKind int

const (
	EventRunStarted EventKind = iota
	EventCaseSkipped
	EventCaseStarted
	EventPhase
	EventCaseFinished
	EventRunFinished
)

// Case phases reported through EventPhase.
const (
	PhaseBuild   = "build"
	PhaseDeploy  = "deploy"
	PhaseMonitor = "monitor"
	PhaseRecover = "recover"
)

// Event reports run progress to an observer such as the dashboard.
type Event struct {
	Kind    EventKind
	RunID   string
	Index   int // zero based case index
	Total   int
	Case    string
	Phase   string
	Attempt int
	Reason  string
	Result  *CaseResult
	Report  *RunReport
}

// CaseRunner runs a single case. *Orchestrator implements it.
type CaseRunner interface {
	Run(ctx context.Context, spec CaseSpec) (CaseResult, error)
}

// Sink consumes the report of a finished run.
type Sink interface {
	Name() string
	Write(ctx context.Context, report *RunReport) error
}

// Filter decides whether a case is skipped before it runs.
type Filter func(spec CaseSpec) (skip bool, reason string)

// Loop runs cases sequentially and hands the report to every sink.
type Loop struct {
	Runner     CaseRunner
	Counters   *FailureCounters // shared with the runner
	Filter     Filter
	StopOnFail bool
	Sinks      []Sink
	CI         CIInfo
	Observer   func(Event)
	Log        *logrus.Entry
}

// NewLoop returns a loop driving o and sharing its failure counters.
func NewLoop(o *Orchestrator) *Loop {
	return &Loop{Runner: o, Counters: o.counters(), Log: o.Log}
}

func (l *Loop) logger() *logrus.Entry {
	if l.Log == nil {
		return logrus.NewEntry(logrus.StandardLogger())
	}
	return l.Log
}

func (l *Loop) emit(ev Event) {
	if l.Observer != nil {
		l.Observer(ev)
	}
}

// Run executes specs in order. A counter above its ceiling aborts the run
// regardless of StopOnFail. Sinks always receive the report, including
// partial ones. The returned error joins the abort or interruption cause
// with any sink failures.
func (l *Loop) Run(ctx context.Context, specs []CaseSpec) (*RunReport, error) {
	report := &RunReport{RunID: uuid.NewString(), Started: time.Now(), CI: l.CI}
	log := l.logger().WithField("run", report.RunID)
	if l.Counters == nil {
		l.Counters = NewFailureCounters(DefaultCeilings())
	}
	l.Counters.Reset()

	l.emit(Event{Kind: EventRunStarted, RunID: report.RunID, Total: len(specs)})
	log.Infof("Running %d cases", len(specs))

	var runErr error
	for i, spec := range specs {
		if ctx.Err() != nil {
			report.Interrupted = true
			runErr = ErrInterrupted
			break
		}
		if abort := l.Counters.Exceeded(); abort != nil {
			report.Aborted = true
			report.AbortReason = abort.Error()
			runErr = abort
			break
		}
		if l.Filter != nil {
			if skip, reason := l.Filter(spec); skip {
				log.WithField("case", spec.ID).Infof("Skipped: %s", reason)
				report.Skipped = append(report.Skipped, SkippedCase{Spec: spec, Reason: reason})
				l.emit(Event{Kind: EventCaseSkipped, RunID: report.RunID, Index: i, Total: len(specs), Case: spec.ID, Reason: reason})
				continue
			}
		}

		l.emit(Event{Kind: EventCaseStarted, RunID: report.RunID, Index: i, Total: len(specs), Case: spec.ID})
		res, err := l.Runner.Run(ctx, spec)
		res.RunID = report.RunID
		report.Results = append(report.Results, res)
		l.emit(Event{Kind: EventCaseFinished, RunID: report.RunID, Index: i, Total: len(specs), Case: spec.ID, Result: &res})

		var abort *AbortError
		switch {
		case errors.As(err, &abort):
			report.Aborted = true
			report.AbortReason = abort.Error()
			runErr = err
		case errors.Is(err, ErrInterrupted):
			report.Interrupted = true
			runErr = err
		case err != nil:
			runErr = err
		case l.StopOnFail && !res.Passed():
			log.WithField("case", spec.ID).Warn("Stopping on first failure")
			report.StoppedOnFail = true
		default:
			continue
		}
		break
	}

	report.Finished = time.Now()
	report.Counters = l.Counters.Snapshot()
	l.emit(Event{Kind: EventRunFinished, RunID: report.RunID, Total: len(specs), Report: report})

	passed, failed := report.Counts()
	log.WithFields(logrus.Fields{"passed": passed, "failed": failed, "skipped": len(report.Skipped)}).Info("Run finished")

	return report, multierr.Append(runErr, l.writeSinks(ctx, report))
}

// writeSinks hands the report to every sink. A failing sink does not stop
// the others.
func (l *Loop) writeSinks(ctx context.Context, report *RunReport) error {
	var errs error
	for _, s := range l.Sinks {
		// Sinks still run after an interrupt so partial results persist.
		if err := s.Write(context.WithoutCancel(ctx), report); err != nil {
			l.logger().WithError(err).Errorf("Sink %s failed", s.Name())
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}
