// Package metrics exports the outcome of a sync run as Prometheus gauges in
// the node_exporter textfile format, for batch jobs scraped after they exit.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fulmenhq/exportsync/pkg/stamp"
)

const namespace = "exportsync"

// SyncMetrics holds the gauges of one sync run on a private registry.
type SyncMetrics struct {
	registry *prometheus.Registry

	success        prometheus.Gauge
	lastRun        prometheus.Gauge
	duration       prometheus.Gauge
	candidates     prometheus.Gauge
	selectedScore  prometheus.Gauge
	filesCopied    prometheus.Gauge
	totalReports   prometheus.Gauge
	trackReports   *prometheus.GaugeVec
	warnings       *prometheus.GaugeVec
	payloadsFailed prometheus.Gauge
}

func gauge(name, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Subsystem: "sync", Name: name, Help: help})
}

// New registers the sync gauges on a fresh registry.
func New() *SyncMetrics {
	m := &SyncMetrics{
		registry:       prometheus.NewRegistry(),
		success:        gauge("success", "1 when the last sync completed without a fatal error."),
		lastRun:        gauge("last_run_timestamp_seconds", "Unix time the last sync finished."),
		duration:       gauge("duration_seconds", "Wall time of the last sync."),
		candidates:     gauge("candidates", "Export candidates discovered."),
		selectedScore:  gauge("selected_score", "Score of the selected candidate, -Inf when none qualified."),
		filesCopied:    gauge("files_copied", "Files written into the destination bundle."),
		totalReports:   gauge("destination_reports", "Reports in the destination index after sync."),
		payloadsFailed: gauge("payload_backfill_failures", "Payloads that could not be backfilled."),
		trackReports: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "sync", Name: "destination_track_reports",
			Help: "Destination reports per track.",
		}, []string{"track"}),
		warnings: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "sync", Name: "warnings",
			Help: "Stamp warnings by code.",
		}, []string{"code"}),
	}
	m.registry.MustRegister(
		m.success, m.lastRun, m.duration, m.candidates, m.selectedScore,
		m.filesCopied, m.totalReports, m.payloadsFailed, m.trackReports, m.warnings,
	)
	return m
}

// Observe records a finished run. s may be nil when the run failed before a
// stamp was built.
func (m *SyncMetrics) Observe(s *stamp.Stamp, elapsed time.Duration, runErr error) {
	if runErr == nil {
		m.success.Set(1)
	} else {
		m.success.Set(0)
	}
	m.lastRun.SetToCurrentTime()
	m.duration.Set(elapsed.Seconds())
	if s == nil {
		return
	}
	m.candidates.Set(float64(s.CandidateCount))
	m.selectedScore.Set(float64(s.SelectedCandidateScore))
	m.filesCopied.Set(float64(s.FilesCopied))
	m.totalReports.Set(float64(s.Destination.TotalReports))
	m.payloadsFailed.Set(float64(s.Repair.Payloads.Failed))
	for k, v := range s.Destination.TrackCounts {
		m.trackReports.WithLabelValues(string(k)).Set(float64(v))
	}
	for _, w := range s.Warnings {
		m.warnings.WithLabelValues(w.Code).Inc()
	}
}

// Gatherer exposes the registry for tests and embedding.
func (m *SyncMetrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// WriteTextfile writes the gauges to path atomically.
func (m *SyncMetrics) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
