// Package metrics is the thin instrumentation seam of the pipeline. Core
// code emits counters and histograms against a process-wide Backend; which
// backend actually runs (Datadog or nothing) is a deployment decision made
// in main.
package metrics

import "sync"

// Labels attach dimensions to a metric observation.
type Labels map[string]string

// Backend receives metric observations. Implementations buffer internally;
// Close flushes whatever is pending.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	Close() error
}

// Metric names emitted by the pipeline.
const (
	// StageTotal counts run-mode stages by stage and status label.
	StageTotal = "etl_stage_total"
	// StageDurationSeconds observes wall time per stage and status.
	StageDurationSeconds = "etl_stage_duration_seconds"
	// RowsTotal counts relational rows written, by table label.
	RowsTotal = "etl_rows_total"
	// DocumentsTotal counts document-store writes, by outcome label.
	DocumentsTotal = "etl_documents_total"
)

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs the process-wide backend. Call once at startup, before
// pipeline work begins.
func SetBackend(b Backend) {
	if b == nil {
		b = nopBackend{}
	}
	mu.Lock()
	backend = b
	mu.Unlock()
}

// IncCounter forwards to the installed backend.
func IncCounter(name string, delta float64, labels Labels) {
	mu.RLock()
	b := backend
	mu.RUnlock()
	b.IncCounter(name, delta, labels)
}

// ObserveHistogram forwards to the installed backend.
func ObserveHistogram(name string, value float64, labels Labels) {
	mu.RLock()
	b := backend
	mu.RUnlock()
	b.ObserveHistogram(name, value, labels)
}

// Close flushes and shuts down the installed backend.
func Close() error {
	mu.RLock()
	b := backend
	mu.RUnlock()
	return b.Close()
}

// nopBackend drops everything. It is the default so unconfigured runs cost
// nothing.
type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Close() error                             { return nil }
