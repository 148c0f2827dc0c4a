// Package metrics exposes engine, scheduler and sync measurements to
// Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rendis/autoflow/internal/actions"
	"github.com/rendis/autoflow/internal/datasync"
	"github.com/rendis/autoflow/internal/engine"
	"github.com/rendis/autoflow/internal/scheduler"
	"github.com/rendis/autoflow/pkg/schema"
)

// Prom implements every observer interface of the engine, the scheduler and
// the sync service.
type Prom struct {
	executions        *prometheus.CounterVec
	executionDuration *prometheus.HistogramVec
	recordsProcessed  prometheus.Counter
	recordsUpdated    prometheus.Counter
	actionResults     *prometheus.CounterVec
	ticks             prometheus.Counter
	tickDuration      prometheus.Histogram
	syncs             *prometheus.CounterVec
	syncDuration      prometheus.Histogram
	cascades          *prometheus.CounterVec
}

// NewProm creates the collectors under namespace and registers them with reg.
// A nil reg uses prometheus.DefaultRegisterer.
func NewProm(namespace string, reg prometheus.Registerer) *Prom {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	p := &Prom{
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Finalized workflow executions by type and status",
		}, []string{"type", "status"}),
		executionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_duration_seconds",
			Help:      "Workflow execution wall time by type",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"type"}),
		recordsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_processed_total",
			Help:      "Records matched by workflow executions",
		}),
		recordsUpdated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_updated_total",
			Help:      "Records with at least one written value",
		}),
		actionResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "action_results_total",
			Help:      "Recorded action results by action type and status",
		}, []string{"action_type", "status"}),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Scheduler ticks completed",
		}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Scheduler tick wall time",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		syncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "syncs_total",
			Help:      "Finished sync runs by status",
		}, []string{"status"}),
		syncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_duration_seconds",
			Help:      "Sync run wall time",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		cascades: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cascades_total",
			Help:      "Event-based executions started by sync cascades, by status",
		}, []string{"status"}),
	}
	reg.MustRegister(
		p.executions, p.executionDuration, p.recordsProcessed, p.recordsUpdated, p.actionResults,
		p.ticks, p.tickDuration, p.syncs, p.syncDuration, p.cascades,
	)
	return p
}

func (p *Prom) ObserveRun(typ schema.ExecutionType, status schema.ExecutionStatus, d time.Duration, processed, updated int) {
	p.executions.WithLabelValues(string(typ), string(status)).Inc()
	p.executionDuration.WithLabelValues(string(typ)).Observe(d.Seconds())
	p.recordsProcessed.Add(float64(processed))
	p.recordsUpdated.Add(float64(updated))
}

func (p *Prom) ObserveActionResult(actionType schema.ActionType, status schema.ResultStatus) {
	p.actionResults.WithLabelValues(string(actionType), string(status)).Inc()
}

func (p *Prom) ObserveTick(d time.Duration, _ scheduler.TickSummary) {
	p.ticks.Inc()
	p.tickDuration.Observe(d.Seconds())
}

func (p *Prom) ObserveCascade(status schema.ExecutionStatus) {
	p.cascades.WithLabelValues(string(status)).Inc()
}

func (p *Prom) ObserveSync(status schema.SyncRunStatus, d time.Duration) {
	p.syncs.WithLabelValues(string(status)).Inc()
	p.syncDuration.Observe(d.Seconds())
}

// Handler returns an HTTP handler for /metrics over g. A nil g uses the
// default gatherer.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

var (
	_ engine.RunObserver     = (*Prom)(nil)
	_ actions.ResultObserver = (*Prom)(nil)
	_ scheduler.TickObserver = (*Prom)(nil)
	_ datasync.Observer      = (*Prom)(nil)
)
