// Package metrics exposes Prometheus counters for the reward core.
//
// Each Metrics value owns its registry so tests and multiple engines in one
// process never collide. Every recording method is nil-safe; components
// constructed without metrics simply skip recording.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "screentime"

// Ingest outcomes.
const (
	OutcomeApplied      = "applied"
	OutcomeDuplicate    = "duplicate"
	OutcomeShielded     = "shielded"
	OutcomeStale        = "stale"
	OutcomeOrphaned     = "orphaned"
	OutcomeUnresolvable = "unresolvable"
	OutcomeFailed       = "failed"
)

// Commit outcomes.
const (
	OutcomeCommitted = "committed"
	OutcomeConflict  = "conflict"
)

// Metrics holds every collector of one engine.
type Metrics struct {
	Registry *prometheus.Registry

	// ingestEvents counts threshold events by outcome.
	// Labels: outcome (applied, duplicate, shielded, stale, orphaned, unresolvable, failed)
	ingestEvents *prometheus.CounterVec

	// commits counts picker commits by category and outcome.
	// Labels: category, outcome (committed, conflict, failed)
	commits *prometheus.CounterVec

	orphansPruned   prometheus.Counter
	pickerRetries   prometheus.Counter
	identityRepairs prometheus.Counter

	// enforcement counts dispatched enforcement calls.
	// Labels: action (apply, remove), result (ok, error)
	enforcement *prometheus.CounterVec

	// items tracks the number of projected items per category.
	// Labels: category
	items *prometheus.GaugeVec
}

// New creates a Metrics value with a fresh registry that also carries the
// Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		ingestEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "events_total",
			Help:      "Threshold events by outcome",
		}, []string{"outcome"}),
		commits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "selection",
			Name:      "commits_total",
			Help:      "Picker commits by category and outcome",
		}, []string{"category", "outcome"}),
		orphansPruned: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "selection",
			Name:      "orphans_pruned_total",
			Help:      "Orphaned picker handles pruned before commit",
		}),
		pickerRetries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "selection",
			Name:      "picker_retries_total",
			Help:      "Automatic picker retries after a transient failure",
		}),
		identityRepairs: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "identity",
			Name:      "repairs_total",
			Help:      "Corrupt identity mappings regenerated",
		}),
		enforcement: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "enforce",
			Name:      "calls_total",
			Help:      "Enforcement capability calls by action and result",
		}, []string{"action", "result"}),
		items: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "snapshot",
			Name:      "items",
			Help:      "Items in the latest projection by category",
		}, []string{"category"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// IngestEvent records one threshold event outcome.
func (m *Metrics) IngestEvent(outcome string) {
	if m == nil {
		return
	}
	m.ingestEvents.WithLabelValues(outcome).Inc()
}

// Commit records one commit outcome.
func (m *Metrics) Commit(category, outcome string) {
	if m == nil {
		return
	}
	m.commits.WithLabelValues(category, outcome).Inc()
}

// OrphansPruned adds n pruned orphans.
func (m *Metrics) OrphansPruned(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.orphansPruned.Add(float64(n))
}

// PickerRetry records one automatic picker retry.
func (m *Metrics) PickerRetry() {
	if m == nil {
		return
	}
	m.pickerRetries.Inc()
}

// IdentityRepair records one regenerated identity.
func (m *Metrics) IdentityRepair() {
	if m == nil {
		return
	}
	m.identityRepairs.Inc()
}

// Enforcement records one enforcement call.
func (m *Metrics) Enforcement(action string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.enforcement.WithLabelValues(action, result).Inc()
}

// Items sets the projected item count of category.
func (m *Metrics) Items(category string, n int) {
	if m == nil {
		return
	}
	m.items.WithLabelValues(category).Set(float64(n))
}

// Counter accessors for tests.

// IngestEvents returns the ingest counter vector.
func (m *Metrics) IngestEvents() *prometheus.CounterVec { return m.ingestEvents }

// Commits returns the commit counter vector.
func (m *Metrics) Commits() *prometheus.CounterVec { return m.commits }

// Orphans returns the orphan counter.
func (m *Metrics) Orphans() prometheus.Counter { return m.orphansPruned }

// PickerRetries returns the picker retry counter.
func (m *Metrics) PickerRetries() prometheus.Counter { return m.pickerRetries }

// IdentityRepairs returns the identity repair counter.
func (m *Metrics) IdentityRepairs() prometheus.Counter { return m.identityRepairs }

// Enforcements returns the enforcement call counter vector.
func (m *Metrics) Enforcements() *prometheus.CounterVec { return m.enforcement }
