package report

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/buckleypaul/sdkrun/internal/harness"
)

// Metrics writes the run as Prometheus metrics in the node exporter
// textfile format.
type Metrics struct {
	Path string
}

var _ harness.Sink = (*Metrics)(nil)

func (m *Metrics) Name() string { return "metrics" }

func (m *Metrics) Write(_ context.Context, report *harness.RunReport) error {
	reg, err := Registry(report)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(m.Path), 0o755); err != nil {
		return err
	}
	return prometheus.WriteToTextfile(m.Path, reg)
}

// Registry returns a registry holding the metrics of report.
func Registry(report *harness.RunReport) (*prometheus.Registry, error) {
	cases := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "sdkrun",
		Name:      "cases",
		Help:      "Number of cases by result.",
	}, []string{"result"})
	passed := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "sdkrun",
		Name:      "case_passed",
		Help:      "Whether a case passed (1) or not (0).",
	}, []string{"case", "backend", "status"})
	buildSeconds := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "sdkrun",
		Name:      "case_build_duration_seconds",
		Help:      "Build duration of a case in seconds.",
	}, []string{"case"})
	runSeconds := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "sdkrun",
		Name:      "case_run_duration_seconds",
		Help:      "Run duration of a case in seconds, all attempts included.",
	}, []string{"case"})
	retries := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "sdkrun",
		Name:      "case_retries",
		Help:      "Retries spent on a case.",
	}, []string{"case"})
	failures := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "sdkrun",
		Name:      "failure_count",
		Help:      "Run wide failure counters.",
	}, []string{"counter"})
	aborted := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sdkrun",
		Name:      "run_aborted",
		Help:      "Whether the run was aborted by a failure ceiling.",
	})
	finished := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sdkrun",
		Name:      "run_finished_timestamp_seconds",
		Help:      "Unix time the run finished.",
	})

	reg := prometheus.NewRegistry()
	for _, c := range []prometheus.Collector{cases, passed, buildSeconds, runSeconds, retries, failures, aborted, finished} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register metric: %w", err)
		}
	}

	p, f := report.Counts()
	cases.WithLabelValues("passed").Set(float64(p))
	cases.WithLabelValues("failed").Set(float64(f))
	cases.WithLabelValues("skipped").Set(float64(len(report.Skipped)))

	for _, res := range report.Results {
		id := res.Spec.ID
		ok := 0.0
		if res.Passed() {
			ok = 1
		}
		status := string(res.Status)
		if status == "" {
			status = "none"
		}
		passed.WithLabelValues(id, res.Spec.Backend, status).Set(ok)
		buildSeconds.WithLabelValues(id).Set(res.BuildElapsed.Seconds())
		if res.RunAttempted {
			runSeconds.WithLabelValues(id).Set(res.RunElapsed.Seconds())
			retries.WithLabelValues(id).Set(float64(res.RetryCount))
		}
	}
	for name, n := range report.Counters {
		failures.WithLabelValues(name).Set(float64(n))
	}
	if report.Aborted {
		aborted.Set(1)
	}
	if !report.Finished.IsZero() {
		finished.Set(float64(report.Finished.Unix()))
	}
	return reg, nil
}
