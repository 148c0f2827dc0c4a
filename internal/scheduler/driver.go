package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/rendis/autoflow/internal/datasync"
	"github.com/rendis/autoflow/internal/engine"
	"github.com/rendis/autoflow/internal/locks"
	"github.com/rendis/autoflow/internal/logging"
	"github.com/rendis/autoflow/internal/store"
	"github.com/rendis/autoflow/pkg/schema"
)

// Driver defaults.
const (
	DefaultConcurrency   = 4
	DefaultSyncBatchSize = 50
	DefaultClaimTTL      = 30 * time.Minute
)

// SyncRunner runs one claimed sync job. Satisfied by *datasync.Service.
type SyncRunner interface {
	Run(ctx context.Context, job *store.SyncSchedule) (*datasync.RunResult, error)
}

// TickObserver receives tick and cascade measurements.
type TickObserver interface {
	ObserveTick(duration time.Duration, summary TickSummary)
	ObserveCascade(status schema.ExecutionStatus)
}

// WorkflowReport is the per-workflow entry of a tick.
type WorkflowReport struct {
	WorkflowID       string                 `json:"workflow_id"`
	Name             string                 `json:"name,omitempty"`
	ExecutionType    schema.ExecutionType   `json:"execution_type"`
	Due              bool                   `json:"due"`
	Executed         bool                   `json:"executed"`
	Skipped          string                 `json:"skipped,omitempty"`
	ExecutionID      string                 `json:"execution_id,omitempty"`
	Status           schema.ExecutionStatus `json:"status,omitempty"`
	RecordsProcessed int                    `json:"records_processed"`
	RecordsUpdated   int                    `json:"records_updated"`
	Error            string                 `json:"error,omitempty"`
}

// SyncReport is the per-sync entry of a tick, with the workflows it cascaded into.
type SyncReport struct {
	SyncScheduleID string               `json:"sync_schedule_id"`
	DataModelID    string               `json:"data_model_id"`
	Name           string               `json:"name,omitempty"`
	Executed       bool                 `json:"executed"`
	Status         schema.SyncRunStatus `json:"status,omitempty"`
	RecordsSynced  int                  `json:"records_synced"`
	Error          string               `json:"error,omitempty"`
	Cascaded       []WorkflowReport     `json:"cascaded,omitempty"`
}

// TickSummary aggregates a tick.
type TickSummary struct {
	TotalProcessed    int `json:"total_processed"`
	WorkflowsExecuted int `json:"workflows_executed"`
	SyncsExecuted     int `json:"syncs_executed"`
	Errors            int `json:"errors"`
}

// TickReport is the result of one Tick.
type TickReport struct {
	Timestamp time.Time        `json:"timestamp"`
	Workflows []WorkflowReport `json:"workflows"`
	DataSyncs []SyncReport     `json:"dataSyncs"`
	Summary   TickSummary      `json:"summary"`
}

// DriverConfig configures a Driver.
type DriverConfig struct {
	Store         store.Store
	Orchestrator  engine.Orchestrator
	Syncs         SyncRunner
	Evaluator     *Evaluator
	Guard         locks.Guard // nil = in-process guard only
	Concurrency   int
	SyncBatchSize int
	ClaimTTL      time.Duration
	Owner         string // claim owner; defaults to hostname plus a random suffix
	Location      *time.Location
	Observer      TickObserver
	Logger        *slog.Logger
	Tracer        trace.Tracer
	Now           func() time.Time
}

// Driver is the periodic entry point: it runs due scheduled workflows, due
// sync jobs and the event-based workflows that depend on those syncs.
type Driver struct {
	cfg       DriverConfig
	evaluator *Evaluator
	guard     locks.Guard
	logger    *slog.Logger
	tracer    trace.Tracer
}

// NewDriver creates a Driver.
func NewDriver(cfg DriverConfig) *Driver {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.SyncBatchSize <= 0 {
		cfg.SyncBatchSize = DefaultSyncBatchSize
	}
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = DefaultClaimTTL
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if cfg.Owner == "" {
		cfg.Owner = locks.DefaultOwner()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer("github.com/rendis/autoflow/internal/scheduler")
	}
	ev := cfg.Evaluator
	if ev == nil {
		ev = NewEvaluator(cfg.Store, cfg.Location, logger)
	}
	guard := cfg.Guard
	if guard == nil {
		guard = locks.NewMemoryGuard()
	}
	return &Driver{cfg: cfg, evaluator: ev, guard: guard, logger: logger, tracer: tracer}
}

// Tick runs one full pass. Per-item failures are entries in the report; the
// error is reserved for failures that prevent building one.
func (d *Driver) Tick(ctx context.Context) (*TickReport, error) {
	ctx, span := d.tracer.Start(ctx, "autoflow.tick")
	defer span.End()

	now := d.cfg.Now()
	report := &TickReport{Timestamp: now, Workflows: []WorkflowReport{}, DataSyncs: []SyncReport{}}

	wfs, err := d.scheduledWorkflows(ctx, now)
	if err != nil {
		span.RecordError(err)
		return nil, schema.NewErrorf(schema.ErrCodeStore, "list scheduled workflows: %s", err.Error()).WithCause(err)
	}
	jobs, err := d.cfg.Store.ListDueSyncSchedules(ctx, now, d.cfg.SyncBatchSize)
	if err != nil {
		span.RecordError(err)
		return nil, schema.NewErrorf(schema.ErrCodeStore, "list due syncs: %s", err.Error()).WithCause(err)
	}

	report.Workflows = make([]WorkflowReport, len(wfs))
	d.forEach(ctx, len(wfs), func(ctx context.Context, i int) {
		report.Workflows[i] = d.runScheduled(ctx, wfs[i], now)
	}, func(i int, msg string) {
		report.Workflows[i] = WorkflowReport{WorkflowID: wfs[i].ID, Name: wfs[i].Name, ExecutionType: schema.ExecutionScheduled, Error: msg}
	})

	report.DataSyncs = make([]SyncReport, len(jobs))
	d.forEach(ctx, len(jobs), func(ctx context.Context, i int) {
		report.DataSyncs[i] = d.runSync(ctx, jobs[i])
	}, func(i int, msg string) {
		report.DataSyncs[i] = SyncReport{SyncScheduleID: jobs[i].ID, DataModelID: jobs[i].DataModelID, Name: jobs[i].Name, Error: msg}
	})

	report.Summary = summarize(report)
	span.SetAttributes(
		attribute.Int("tick.workflows", len(wfs)),
		attribute.Int("tick.syncs", len(jobs)),
		attribute.Int("tick.errors", report.Summary.Errors),
	)
	if d.cfg.Observer != nil {
		d.cfg.Observer.ObserveTick(d.cfg.Now().Sub(now), report.Summary)
	}
	d.logger.InfoContext(ctx, "tick finished",
		"total_processed", report.Summary.TotalProcessed,
		"workflows_executed", report.Summary.WorkflowsExecuted,
		"syncs_executed", report.Summary.SyncsExecuted,
		"errors", report.Summary.Errors)
	return report, nil
}

func (d *Driver) scheduledWorkflows(ctx context.Context, now time.Time) ([]*store.Workflow, error) {
	return d.cfg.Store.ListWorkflows(ctx, store.WorkflowFilter{
		TriggerType:    schema.TriggerScheduled,
		RunnableOnly:   true,
		ActiveSchedule: true,
		ScheduleWindow: &now,
	})
}

// forEach runs fn for every index on a bounded pool and joins. Items never
// started, or whose task panicked, are filled by onSkip.
func (d *Driver) forEach(ctx context.Context, n int, fn func(ctx context.Context, i int), onSkip func(i int, msg string)) {
	if n == 0 {
		return
	}
	var mu sync.Mutex
	done := make([]bool, n)
	pool := engine.NewWorkerPool(d.cfg.Concurrency)
	defer pool.Shutdown()

	_, err := pool.ForEach(ctx, n, func(ctx context.Context, i int) error {
		defer func() {
			if r := recover(); r != nil {
				d.logger.ErrorContext(ctx, "tick item panicked", "panic", r)
				onSkip(i, fmt.Sprintf("panic: %v", r))
			}
			mu.Lock()
			done[i] = true
			mu.Unlock()
		}()
		fn(ctx, i)
		return nil
	})

	mu.Lock()
	defer mu.Unlock()
	for i, ok := range done {
		if !ok {
			msg := "not started"
			if err != nil {
				msg = "not started: " + err.Error()
			}
			onSkip(i, msg)
		}
	}
}

// runScheduled evaluates and, when due, runs one scheduled workflow under
// the claim guard.
func (d *Driver) runScheduled(ctx context.Context, wf *store.Workflow, now time.Time) WorkflowReport {
	ctx = logging.WithWorkflowID(ctx, wf.ID)
	rep := WorkflowReport{WorkflowID: wf.ID, Name: wf.Name, ExecutionType: schema.ExecutionScheduled}

	due, err := d.evaluator.IsDue(ctx, wf, now)
	if err != nil {
		rep.Error = fmt.Sprintf("evaluate cadence: %s", err.Error())
		return rep
	}
	if !due {
		return rep
	}
	rep.Due = true

	release, ok, err := d.guard.Claim(ctx, locks.WorkflowKey(wf.ID), d.cfg.Owner, d.cfg.ClaimTTL)
	if err != nil {
		rep.Error = fmt.Sprintf("claim workflow: %s", err.Error())
		return rep
	}
	if !ok {
		rep.Skipped = "already running"
		d.logger.InfoContext(ctx, "scheduled workflow skipped", "reason", rep.Skipped)
		return rep
	}
	defer release()

	// A run that finished between evaluation and claim already covers this period.
	if due, err = d.evaluator.IsDue(ctx, wf, now); err != nil || !due {
		if err != nil {
			rep.Error = fmt.Sprintf("evaluate cadence: %s", err.Error())
		} else {
			rep.Skipped = "already ran"
		}
		return rep
	}

	d.execute(ctx, &rep)
	return rep
}

func (d *Driver) execute(ctx context.Context, rep *WorkflowReport) {
	summary, err := d.cfg.Orchestrator.Run(ctx, rep.WorkflowID, rep.ExecutionType)
	if err != nil {
		rep.Error = err.Error()
		return
	}
	rep.Executed = true
	rep.ExecutionID = summary.ExecutionID
	rep.Status = summary.Status
	rep.RecordsProcessed = summary.RecordsProcessed
	rep.RecordsUpdated = summary.RecordsUpdated
	if summary.Status == schema.ExecutionFailed {
		rep.Error = summary.Error
	}
}

func (d *Driver) runSync(ctx context.Context, job *store.SyncSchedule) SyncReport {
	ctx = logging.WithSyncID(ctx, job.ID)
	rep := SyncReport{SyncScheduleID: job.ID, DataModelID: job.DataModelID, Name: job.Name}
	if d.cfg.Syncs == nil {
		rep.Error = "no sync runner configured"
		return rep
	}

	res, err := d.cfg.Syncs.Run(ctx, job)
	if err != nil {
		rep.Error = err.Error()
		return rep
	}
	if !res.Claimed {
		return rep
	}
	rep.Executed = true
	rep.Status = res.Status
	rep.RecordsSynced = res.RecordsSynced
	rep.Error = res.Error
	if res.Succeeded() {
		rep.Cascaded = d.cascade(ctx, job)
	}
	return rep
}

// CascadeSync runs the event-based workflows that depend on job and returns
// how many executions were started.
func (d *Driver) CascadeSync(ctx context.Context, job *store.SyncSchedule) int {
	n := 0
	for _, r := range d.cascade(ctx, job) {
		if r.Executed {
			n++
		}
	}
	return n
}

// cascade runs sequentially within the sync item. Failures are logged and
// reported, never returned.
func (d *Driver) cascade(ctx context.Context, job *store.SyncSchedule) []WorkflowReport {
	now := d.cfg.Now()
	// The trigger-on-sync schedule must itself be active and inside its
	// start/end window, like a scheduled workflow's.
	wfs, err := d.cfg.Store.ListWorkflows(ctx, store.WorkflowFilter{
		TriggerType:    schema.TriggerEventBased,
		DataModelID:    job.DataModelID,
		RunnableOnly:   true,
		ActiveSchedule: true,
		ScheduleWindow: &now,
		TriggerOnSync:  true,
		SyncScheduleID: job.ID,
	})
	if err != nil {
		d.logger.ErrorContext(ctx, "list dependent workflows failed", "data_model_id", job.DataModelID, "error", err)
		return []WorkflowReport{{ExecutionType: schema.ExecutionEventBased, Error: fmt.Sprintf("list dependent workflows: %s", err.Error())}}
	}

	reports := make([]WorkflowReport, 0, len(wfs))
	for _, wf := range wfs {
		if job.ID == "" && wf.Schedule != nil && wf.Schedule.SyncScheduleID != "" {
			// Completions without a job id only reach workflows not pinned to one.
			continue
		}
		wctx := logging.WithWorkflowID(ctx, wf.ID)
		rep := WorkflowReport{WorkflowID: wf.ID, Name: wf.Name, ExecutionType: schema.ExecutionEventBased, Due: true}

		release, ok, err := d.guard.Claim(wctx, locks.WorkflowKey(wf.ID), d.cfg.Owner, d.cfg.ClaimTTL)
		switch {
		case err != nil:
			rep.Error = fmt.Sprintf("claim workflow: %s", err.Error())
		case !ok:
			rep.Skipped = "already running"
		default:
			d.execute(wctx, &rep)
			release()
		}

		if rep.Error != "" {
			d.logger.WarnContext(wctx, "cascade failed", "error", rep.Error)
		}
		if d.cfg.Observer != nil && rep.Executed {
			d.cfg.Observer.ObserveCascade(rep.Status)
		} else if d.cfg.Observer != nil && rep.Error != "" {
			d.cfg.Observer.ObserveCascade(schema.ExecutionFailed)
		}
		reports = append(reports, rep)
	}
	return reports
}

func summarize(r *TickReport) TickSummary {
	var s TickSummary
	count := func(w WorkflowReport) {
		s.TotalProcessed++
		if w.Executed {
			s.WorkflowsExecuted++
		}
		if w.Error != "" {
			s.Errors++
		}
	}
	for _, w := range r.Workflows {
		count(w)
	}
	for _, j := range r.DataSyncs {
		s.TotalProcessed++
		if j.Executed {
			s.SyncsExecuted++
		}
		if j.Error != "" {
			s.Errors++
		}
		for _, c := range j.Cascaded {
			count(c)
		}
	}
	return s
}

var _ datasync.Cascader = (*Driver)(nil)
