// Package metrics exposes pipeline run metrics in the Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ThisIsMelika/statistical-analysis/evaluation"
)

// Recorder collects step and dataset metrics for analysis runs.
type Recorder struct {
	registry *prometheus.Registry

	stepDuration *prometheus.HistogramVec
	stepTotal    *prometheus.CounterVec
	datasetRows  prometheus.Gauge
	droppedRows  prometheus.Counter
	runsTotal    *prometheus.CounterVec
}

// NewRecorder creates a Recorder backed by its own registry.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "iotstats_step_duration_seconds",
				Help:    "Duration of analysis pipeline steps.",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
			},
			[]string{"step"},
		),
		stepTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "iotstats_step_total",
				Help: "Analysis steps executed, by outcome.",
			},
			[]string{"step", "outcome"},
		),
		datasetRows: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "iotstats_dataset_rows",
				Help: "Rows retained in the most recently analysed dataset.",
			},
		),
		droppedRows: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "iotstats_dataset_dropped_rows_total",
				Help: "Total rows dropped while loading datasets.",
			},
		),
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "iotstats_runs_total",
				Help: "Completed analysis runs, by status.",
			},
			[]string{"status"},
		),
	}
	r.registry.MustRegister(r.stepDuration, r.stepTotal, r.datasetRows, r.droppedRows, r.runsTotal)
	return r
}

// ObserveStep records the duration and outcome of one pipeline step. The
// outcome is "ok" or the failure kind.
func (r *Recorder) ObserveStep(step string, elapsed time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = evaluation.ErrorKind(err)
	}
	r.stepDuration.WithLabelValues(step).Observe(elapsed.Seconds())
	r.stepTotal.WithLabelValues(step, outcome).Inc()
}

// ObserveDataset records the size of a loaded dataset.
func (r *Recorder) ObserveDataset(rows, dropped int) {
	r.datasetRows.Set(float64(rows))
	r.droppedRows.Add(float64(dropped))
}

// ObserveRun counts a finished run by status.
func (r *Recorder) ObserveRun(status string) {
	r.runsTotal.WithLabelValues(status).Inc()
}

// Registry returns the registry holding the recorder's collectors.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// RegisterHandler exposes the metrics on /metrics.
func (r *Recorder) RegisterHandler(mux *http.ServeMux) {
	mux.Handle("/metrics", promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{}))
}

// WriteTextfile writes the current metrics to path in the node_exporter
// textfile collector format.
func (r *Recorder) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r.registry)
}

var _ evaluation.StepObserver = (*Recorder)(nil)
