package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rendis/autoflow/internal/actions"
	"github.com/rendis/autoflow/internal/logging"
	"github.com/rendis/autoflow/internal/predicate"
	"github.com/rendis/autoflow/internal/store"
	"github.com/rendis/autoflow/pkg/schema"
)

// Orchestrator runs one workflow end to end: match records, apply actions,
// and finalize the Execution row.
type Orchestrator interface {
	// Run executes workflowID once. A missing or non-runnable workflow is a
	// PRECONDITION_FAILED error and creates no Execution. Compile and query
	// failures are reported through a FAILED summary, not an error.
	Run(ctx context.Context, workflowID string, executionType schema.ExecutionType) (*ExecutionSummary, error)
}

// ExecutionSummary is the outcome of one Run.
type ExecutionSummary struct {
	ExecutionID      string                 `json:"execution_id"`
	WorkflowID       string                 `json:"workflow_id"`
	ExecutionType    schema.ExecutionType   `json:"execution_type"`
	Success          bool                   `json:"success"`
	Status           schema.ExecutionStatus `json:"status"`
	RecordsProcessed int                    `json:"records_processed"`
	RecordsUpdated   int                    `json:"records_updated"`
	Error            string                 `json:"error,omitempty"`
	Warnings         []string               `json:"warnings,omitempty"`
	StartedAt        time.Time              `json:"started_at"`
	CompletedAt      time.Time              `json:"completed_at"`
}

// RunObserver receives one call per finalized execution.
type RunObserver interface {
	ObserveRun(executionType schema.ExecutionType, status schema.ExecutionStatus, duration time.Duration, processed, updated int)
}

// Notifier is told about every finalized execution. Errors are logged only.
type Notifier interface {
	ExecutionFinished(ctx context.Context, summary *ExecutionSummary) error
}

// Notifiers calls every notifier in order and joins their errors.
type Notifiers []Notifier

func (ns Notifiers) ExecutionFinished(ctx context.Context, summary *ExecutionSummary) error {
	var errs []error
	for _, n := range ns {
		if n == nil {
			continue
		}
		if err := n.ExecutionFinished(ctx, summary); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Defaults for OrchestratorConfig.
const (
	DefaultRecordConcurrency = 4
	MaxErrorMessageLen       = 4000
	errorSeparator           = "; "
)

// OrchestratorConfig holds configuration for the orchestrator.
type OrchestratorConfig struct {
	PredicateMode     predicate.Mode
	RecordConcurrency int           // records processed in parallel per run
	RecordTimeout     time.Duration // 0 = no per-record deadline
	RunTimeout        time.Duration // 0 = no run deadline
	Observer          RunObserver
	Notifier          Notifier
	Logger            *slog.Logger
	Tracer            trace.Tracer
	Now               func() time.Time
}

type orchestratorImpl struct {
	store  store.Store
	interp *actions.Interpreter
	fsm    *ExecutionFSM
	cfg    OrchestratorConfig
	logger *slog.Logger
	tracer trace.Tracer
}

// NewOrchestrator creates an Orchestrator over s that applies actions with interp.
func NewOrchestrator(s store.Store, interp *actions.Interpreter, cfg OrchestratorConfig) Orchestrator {
	if cfg.RecordConcurrency <= 0 {
		cfg.RecordConcurrency = DefaultRecordConcurrency
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer("github.com/rendis/autoflow/internal/engine")
	}
	return &orchestratorImpl{
		store:  s,
		interp: interp,
		fsm:    NewExecutionFSM(s),
		cfg:    cfg,
		logger: logger,
		tracer: tracer,
	}
}

// recordResult is the per-record outcome slot filled by one pool task.
type recordResult struct {
	outcome actions.RecordOutcome
	err     string
	done    bool
}

func (o *orchestratorImpl) Run(ctx context.Context, workflowID string, executionType schema.ExecutionType) (*ExecutionSummary, error) {
	ctx = logging.WithWorkflowID(ctx, workflowID)
	ctx, span := o.tracer.Start(ctx, "autoflow.execution",
		trace.WithAttributes(
			attribute.String("workflow.id", workflowID),
			attribute.String("execution.type", string(executionType)),
		))
	defer span.End()

	wf, err := o.loadRunnable(ctx, workflowID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	started := o.cfg.Now()
	exec := &store.Execution{
		ID:            uuid.New().String(),
		WorkflowID:    wf.ID,
		ExecutionType: executionType,
		Status:        schema.ExecutionRunning,
		StartedAt:     started,
	}
	if err := o.store.CreateExecution(ctx, exec); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "create execution: %s", err.Error()).WithCause(err)
	}
	ctx = logging.WithExecutionID(ctx, exec.ID)
	span.SetAttributes(attribute.String("execution.id", exec.ID))
	o.logger.InfoContext(ctx, "execution started", "execution_type", executionType)

	summary := &ExecutionSummary{
		ExecutionID:   exec.ID,
		WorkflowID:    wf.ID,
		ExecutionType: executionType,
		StartedAt:     started,
	}

	runCtx := ctx
	if o.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, o.cfg.RunTimeout)
		defer cancel()
	}

	pred, warnings, err := predicate.Compile(wf.Conditions, predicate.Options{Mode: o.cfg.PredicateMode})
	for _, w := range warnings {
		o.logger.WarnContext(ctx, "condition dropped", "condition_id", w.ConditionID, "reason", w.Message)
		summary.Warnings = append(summary.Warnings, w.String())
	}
	if err != nil {
		return o.fail(ctx, span, summary, err), nil
	}

	ids, err := o.store.FindRecordIDs(runCtx, wf.DataModelID, pred)
	if err != nil {
		return o.fail(ctx, span, summary, fmt.Errorf("find matching records: %w", err)), nil
	}

	attrs, err := o.attributes(runCtx, wf.DataModelID)
	if err != nil {
		return o.fail(ctx, span, summary, fmt.Errorf("load attributes: %w", err)), nil
	}

	results := o.processRecords(runCtx, exec.ID, wf, ids, attrs)

	var errs []string
	for i, r := range results {
		switch {
		case !r.done:
			errs = append(errs, fmt.Sprintf("record %s: timed out before processing", ids[i]))
		case r.err != "":
			errs = append(errs, r.err)
		default:
			errs = append(errs, r.outcome.Errors()...)
			if r.outcome.Updated() {
				summary.RecordsUpdated++
			}
		}
	}
	summary.RecordsProcessed = len(ids)

	status := schema.ExecutionCompleted
	if len(errs) > 0 {
		status = schema.ExecutionCompletedWithErrors
	}
	summary.Error = JoinErrors(errs)
	o.finalize(ctx, span, summary, status)
	return summary, nil
}

func (o *orchestratorImpl) loadRunnable(ctx context.Context, workflowID string) (*store.Workflow, error) {
	wf, err := o.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		if schema.IsNotFound(err) {
			return nil, schema.NewErrorf(schema.ErrCodePrecondition, "workflow %s not found", workflowID).WithCause(err)
		}
		return nil, schema.NewErrorf(schema.ErrCodeStore, "load workflow %s: %s", workflowID, err.Error()).WithCause(err)
	}
	if !wf.Runnable() {
		return nil, schema.NewErrorf(schema.ErrCodePrecondition, "workflow %s is not active", workflowID).
			WithDetails(map[string]any{"status": string(wf.Status), "is_active": wf.IsActive})
	}
	if _, err := o.store.GetDataModel(ctx, wf.DataModelID); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodePrecondition, "data model %s of workflow %s is missing", wf.DataModelID, workflowID).WithCause(err)
	}
	return wf, nil
}

func (o *orchestratorImpl) attributes(ctx context.Context, dataModelID string) (map[string]*store.Attribute, error) {
	list, err := o.store.ListAttributes(ctx, dataModelID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*store.Attribute, len(list))
	for _, a := range list {
		out[a.ID] = a
	}
	return out, nil
}

// processRecords runs the action sequence for every id on a bounded pool.
// Slots of records never started keep done=false.
func (o *orchestratorImpl) processRecords(ctx context.Context, executionID string, wf *store.Workflow, ids []string, attrs map[string]*store.Attribute) []recordResult {
	results := make([]recordResult, len(ids))
	if len(ids) == 0 {
		return results
	}
	acts := wf.SortedActions()

	pool := NewWorkerPool(o.cfg.RecordConcurrency)
	defer pool.Shutdown()

	var mu sync.Mutex
	set := func(i int, r recordResult) {
		mu.Lock()
		results[i] = r
		mu.Unlock()
	}

	submitted, err := pool.ForEach(ctx, len(ids), func(ctx context.Context, i int) error {
		set(i, o.processRecord(ctx, executionID, wf.DataModelID, ids[i], attrs, acts))
		return nil
	})
	if err != nil {
		o.logger.WarnContext(ctx, "record processing stopped early",
			"submitted", submitted, "matched", len(ids), "error", err)
	}

	mu.Lock()
	defer mu.Unlock()
	return results
}

func (o *orchestratorImpl) processRecord(ctx context.Context, executionID, dataModelID, recordID string, attrs map[string]*store.Attribute, acts []store.Action) (res recordResult) {
	res.done = true
	defer func() {
		if r := recover(); r != nil {
			res.err = fmt.Sprintf("record %s: panic: %v", recordID, r)
			o.logger.ErrorContext(ctx, "record processing panicked", "record_id", recordID, "panic", r)
		}
	}()

	if o.cfg.RecordTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.RecordTimeout)
		defer cancel()
	}

	values, err := o.store.GetRecordValues(ctx, recordID)
	if err != nil {
		res.err = fmt.Sprintf("record %s: load values: %s", recordID, err.Error())
		return res
	}
	rc := actions.NewRecordContext(recordID, dataModelID, values, attrs, o.store)
	res.outcome = o.interp.ApplyAll(ctx, executionID, rc, acts)
	return res
}

func (o *orchestratorImpl) fail(ctx context.Context, span trace.Span, summary *ExecutionSummary, cause error) *ExecutionSummary {
	summary.Error = truncate(cause.Error(), MaxErrorMessageLen)
	span.RecordError(cause)
	o.finalize(ctx, span, summary, schema.ExecutionFailed)
	return summary
}

// finalize persists the terminal status. It runs on a context detached from
// the run deadline so a timed-out run still leaves a terminal row.
func (o *orchestratorImpl) finalize(ctx context.Context, span trace.Span, summary *ExecutionSummary, status schema.ExecutionStatus) {
	summary.Status = status
	summary.Success = status != schema.ExecutionFailed
	summary.CompletedAt = o.cfg.Now()

	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	completed := summary.CompletedAt
	processed, updated := summary.RecordsProcessed, summary.RecordsUpdated
	msg := summary.Error
	if err := o.fsm.Transition(fctx, summary.ExecutionID, schema.ExecutionRunning, status, store.ExecutionUpdate{
		CompletedAt:      &completed,
		RecordsProcessed: &processed,
		RecordsUpdated:   &updated,
		ErrorMessage:     &msg,
	}); err != nil {
		o.logger.ErrorContext(ctx, "finalize execution failed", "status", status, "error", err)
	}

	span.SetAttributes(
		attribute.String("execution.status", string(status)),
		attribute.Int("records.processed", processed),
		attribute.Int("records.updated", updated),
	)
	if status == schema.ExecutionFailed {
		span.SetStatus(codes.Error, summary.Error)
	}

	duration := summary.CompletedAt.Sub(summary.StartedAt)
	if o.cfg.Observer != nil {
		o.cfg.Observer.ObserveRun(summary.ExecutionType, status, duration, processed, updated)
	}
	o.logger.InfoContext(ctx, "execution finished",
		"status", status, "records_processed", processed, "records_updated", updated, "duration", duration)

	if o.cfg.Notifier != nil {
		if err := o.cfg.Notifier.ExecutionFinished(fctx, summary); err != nil {
			o.logger.WarnContext(ctx, "execution notification failed", "error", err)
		}
	}
}

// JoinErrors joins msgs with "; " and caps the result at MaxErrorMessageLen bytes.
func JoinErrors(msgs []string) string {
	return truncate(strings.Join(msgs, errorSeparator), MaxErrorMessageLen)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	// Never split a multi-byte rune at the cut.
	for i := 0; i < utf8.UTFMax-1 && n > 0 && !utf8.RuneStart(s[n]); i++ {
		n--
	}
	return s[:n]
}
