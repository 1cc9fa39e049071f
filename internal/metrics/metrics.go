// Package metrics provides Prometheus metrics for restore runs.
//
// A restore is a one-shot job, so metrics are written to a file for the
// node_exporter textfile collector instead of being served over HTTP.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for a restore run.
type Metrics struct {
	registry *prometheus.Registry

	// Bucket metrics
	BucketsSelected  *prometheus.CounterVec
	BucketsRelocated *prometheus.CounterVec
	IntegrityResults *prometheus.CounterVec
	RebuildResults   *prometheus.CounterVec

	// Timing metrics
	StageDuration *prometheus.HistogramVec

	// Error metrics
	RelocationErrors *prometheus.CounterVec
	ToolErrors       *prometheus.CounterVec
	CatalogErrors    *prometheus.CounterVec

	// Run metrics
	LastRunTimestamp *prometheus.GaugeVec
	LastRunSuccess   *prometheus.GaugeVec
}

// New creates the metrics on a dedicated registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "bucket_restorer"
	}

	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		BucketsSelected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "buckets_selected_total",
				Help:      "Total number of frozen buckets selected for restore",
			},
			[]string{"index"},
		),
		BucketsRelocated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "buckets_relocated_total",
				Help:      "Total number of buckets copied into the restore path",
			},
			[]string{"index"},
		),
		IntegrityResults: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "integrity_results_total",
				Help:      "Integrity verdicts by outcome",
			},
			[]string{"index", "verdict"},
		),
		RebuildResults: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rebuild_results_total",
				Help:      "Rebuild results by outcome",
			},
			[]string{"index", "verdict"},
		),
		StageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Time spent in each pipeline stage",
				Buckets:   prometheus.ExponentialBuckets(0.1, 4, 10), // 0.1s to ~7h
			},
			[]string{"index", "stage"},
		),
		RelocationErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "relocation_errors_total",
				Help:      "Total number of bucket relocation failures",
			},
			[]string{"index", "backend"},
		),
		ToolErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tool_errors_total",
				Help:      "Total number of failed external tool invocations",
			},
			[]string{"index", "operation"},
		),
		CatalogErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "catalog_errors_total",
				Help:      "Total number of restore catalog write errors",
			},
			[]string{"index"},
		),
		LastRunTimestamp: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_run_timestamp_seconds",
				Help:      "Unix time the last restore run finished",
			},
			[]string{"index"},
		),
		LastRunSuccess: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_run_success",
				Help:      "1 if the last restore run completed, 0 if it aborted",
			},
			[]string{"index"},
		),
	}
}

// Registry returns the registry holding the metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteTextfile writes all metrics to path in the text exposition format.
// The file is written atomically so a collector never reads a partial file.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile %s: %w", path, err)
	}
	return nil
}

// Labels is a convenience type for metric labels.
type Labels struct {
	Index     string
	Stage     string
	Verdict   string
	Backend   string
	Operation string
}

// AddBucketsSelected adds to the selected buckets counter.
func (m *Metrics) AddBucketsSelected(l Labels, count int) {
	m.BucketsSelected.WithLabelValues(l.Index).Add(float64(count))
}

// IncBucketsRelocated increments the relocated buckets counter.
func (m *Metrics) IncBucketsRelocated(l Labels) {
	m.BucketsRelocated.WithLabelValues(l.Index).Inc()
}

// IncIntegrityResult increments the integrity counter for l.Verdict.
func (m *Metrics) IncIntegrityResult(l Labels) {
	m.IntegrityResults.WithLabelValues(l.Index, l.Verdict).Inc()
}

// IncRebuildResult increments the rebuild counter for l.Verdict.
func (m *Metrics) IncRebuildResult(l Labels) {
	m.RebuildResults.WithLabelValues(l.Index, l.Verdict).Inc()
}

// ObserveStageDuration records the time spent in l.Stage.
func (m *Metrics) ObserveStageDuration(l Labels, d time.Duration) {
	m.StageDuration.WithLabelValues(l.Index, l.Stage).Observe(d.Seconds())
}

// IncRelocationErrors increments the relocation errors counter.
func (m *Metrics) IncRelocationErrors(l Labels) {
	m.RelocationErrors.WithLabelValues(l.Index, l.Backend).Inc()
}

// IncToolErrors increments the external tool errors counter.
func (m *Metrics) IncToolErrors(l Labels) {
	m.ToolErrors.WithLabelValues(l.Index, l.Operation).Inc()
}

// IncCatalogErrors increments the catalog errors counter.
func (m *Metrics) IncCatalogErrors(l Labels) {
	m.CatalogErrors.WithLabelValues(l.Index).Inc()
}

// SetLastRun records the end of a run.
func (m *Metrics) SetLastRun(l Labels, finished time.Time, success bool) {
	m.LastRunTimestamp.WithLabelValues(l.Index).Set(float64(finished.Unix()))
	v := 0.0
	if success {
		v = 1
	}
	m.LastRunSuccess.WithLabelValues(l.Index).Set(v)
}
