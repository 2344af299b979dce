// Package metrics exposes build pipeline metrics. A one-shot CLI has no
// scrape endpoint, so metrics are written to a node_exporter textfile.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/passbuild/passbuild/internal/domain"
	"github.com/passbuild/passbuild/internal/pipeline"
)

var (
	// RunsTotal counts finished builds by language and status.
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "passbuild_runs_total",
			Help: "Total number of submission builds",
		},
		[]string{"language", "status"},
	)

	// StepDuration tracks supervised process durations in seconds.
	StepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "passbuild_step_duration_seconds",
			Help:    "Duration of supervised compile and run processes in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~160s
		},
		[]string{"step", "language"},
	)

	// InterruptedSteps counts processes stopped by timeout or cancel.
	InterruptedSteps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "passbuild_interrupted_steps_total",
			Help: "Total number of processes killed on timeout or cancel",
		},
		[]string{"step", "outcome"},
	)

	// TruncatedCaptures counts captures cut at the output limit.
	TruncatedCaptures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "passbuild_truncated_captures_total",
			Help: "Total number of captured outputs truncated at the configured maximum",
		},
	)

	// WorkersActive tracks the number of batch workers currently building.
	WorkersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "passbuild_workers_active",
			Help: "Number of currently active batch workers",
		},
	)

	// Aborts counts builds aborted on staging or resource failures (not
	// student code errors).
	Aborts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "passbuild_aborts_total",
			Help: "Total number of builds aborted by infrastructure failures",
		},
	)
)

// StepObserver records supervised process outcomes.
type StepObserver struct{}

var _ pipeline.StepObserver = StepObserver{}

func (StepObserver) ObserveStep(state pipeline.State, lang domain.Language, outcome domain.ExecutionOutcome) {
	StepDuration.WithLabelValues(string(state), languageLabel(lang)).Observe(outcome.Duration.Seconds())
	if outcome.Interrupted() {
		InterruptedSteps.WithLabelValues(string(state), string(outcome.Kind)).Inc()
	}
}

// RecordRun counts a finished build.
func RecordRun(report *domain.RunReport) {
	RunsTotal.WithLabelValues(languageLabel(report.Language), string(report.Status)).Inc()
	if report.Status == domain.StatusAborted {
		Aborts.Inc()
	}
	TruncatedCaptures.Add(float64(len(report.WarningsOf(domain.WarnTruncated))))
}

// WriteTextfile writes every registered metric to path in the text
// exposition format. The file is replaced atomically.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}

func languageLabel(lang domain.Language) string {
	if lang == domain.LangUnknown {
		return "unknown"
	}
	return string(lang)
}
