package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Engine exposes collectors for transaction, ledger and resolution activity. A nil
// *Engine is valid and records nothing.
type Engine struct {
	operations    *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	outcomes      *prometheus.CounterVec
	discrepancies *prometheus.CounterVec
	resolutions   *prometheus.CounterVec
	conflicts     *prometheus.CounterVec
}

// NewEngine registers the engine collectors against registerer.
func NewEngine(registerer prometheus.Registerer) *Engine {
	operations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "transit_operations_total",
		Help: "Engine operations partitioned by operation and status.",
	}, []string{"operation", "status"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "transit_operation_duration_seconds",
		Help:    "Duration in seconds of engine operations.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "transit_transactions_completed_total",
		Help: "Transactions reaching an accept/reject outcome, by resulting status.",
	}, []string{"status"})
	discrepancies := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "transit_discrepancies_total",
		Help: "Flagged stock records produced by acceptance, by flag.",
	}, []string{"flag"})
	resolutions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "transit_resolutions_total",
		Help: "Resolutions written, by type and whether they fully resolved the record.",
	}, []string{"type", "full"})
	conflicts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "transit_conflicts_total",
		Help: "Requests refused because of concurrent or duplicate state, by reason.",
	}, []string{"reason"})
	registerer.MustRegister(operations, duration, outcomes, discrepancies, resolutions, conflicts)
	return &Engine{
		operations:    operations,
		duration:      duration,
		outcomes:      outcomes,
		discrepancies: discrepancies,
		resolutions:   resolutions,
		conflicts:     conflicts,
	}
}

// Tracker instruments one operation call.
type Tracker struct {
	engine    *Engine
	operation string
	start     time.Time
}

// Track starts a tracker for the named operation.
func (e *Engine) Track(operation string) *Tracker {
	return &Tracker{engine: e, operation: operation, start: time.Now()}
}

// End records duration and status, returning err untouched.
func (t *Tracker) End(err error) error {
	if t == nil || t.engine == nil {
		return err
	}
	status := "success"
	if err != nil {
		status = "failure"
	}
	t.engine.operations.WithLabelValues(t.operation, status).Inc()
	t.engine.duration.WithLabelValues(t.operation).Observe(time.Since(t.start).Seconds())
	return err
}

// TransactionCompleted counts a transaction reaching status.
func (e *Engine) TransactionCompleted(status string) {
	if e == nil {
		return
	}
	e.outcomes.WithLabelValues(status).Inc()
}

// Discrepancy counts a flagged record.
func (e *Engine) Discrepancy(flag string) {
	if e == nil {
		return
	}
	e.discrepancies.WithLabelValues(flag).Inc()
}

// Resolution counts a written resolution.
func (e *Engine) Resolution(resolutionType string, full bool) {
	if e == nil {
		return
	}
	e.resolutions.WithLabelValues(resolutionType, strconv.FormatBool(full)).Inc()
}

// Conflict counts a refused request.
func (e *Engine) Conflict(reason string) {
	if e == nil {
		return
	}
	e.conflicts.WithLabelValues(reason).Inc()
}
