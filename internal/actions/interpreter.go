package actions

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/rendis/autoflow/internal/retry"
	"github.com/rendis/autoflow/internal/store"
	"github.com/rendis/autoflow/pkg/schema"
)

// ResultObserver receives one call per recorded action result.
type ResultObserver interface {
	ObserveActionResult(actionType schema.ActionType, status schema.ResultStatus)
}

// Outcome is the result of applying one action to one record.
type Outcome struct {
	ActionID string
	NewValue *string // nil when the action was a no-op
	Written  bool
	Err      error
}

// RecordOutcome aggregates the outcomes of every action on one record.
type RecordOutcome struct {
	RecordID string
	Outcomes []Outcome
}

// Updated reports whether at least one action wrote a value.
func (o RecordOutcome) Updated() bool {
	for _, out := range o.Outcomes {
		if out.Written {
			return true
		}
	}
	return false
}

// Errors returns one message per failed action, prefixed with the record id.
func (o RecordOutcome) Errors() []string {
	var msgs []string
	for _, out := range o.Outcomes {
		if out.Err != nil {
			msgs = append(msgs, fmt.Sprintf("record %s action %s: %s", o.RecordID, out.ActionID, out.Err.Error()))
		}
	}
	return msgs
}

// InterpreterConfig configures an Interpreter.
type InterpreterConfig struct {
	Store       store.Store
	Registry    *Registry
	WritePolicy *schema.RetryPolicy // retries for transient write errors; nil = single attempt
	Observer    ResultObserver
	Logger      *slog.Logger
}

// Interpreter applies actions to records, persists new values and appends an
// ExecutionResult per non-no-op action.
type Interpreter struct {
	store    store.Store
	registry *Registry
	policy   *schema.RetryPolicy
	observer ResultObserver
	logger   *slog.Logger
}

// NewInterpreter creates an Interpreter.
func NewInterpreter(cfg InterpreterConfig) *Interpreter {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	reg := cfg.Registry
	if reg == nil {
		reg = NewRegistry()
	}
	return &Interpreter{
		store:    cfg.Store,
		registry: reg,
		policy:   cfg.WritePolicy,
		observer: cfg.Observer,
		logger:   logger,
	}
}

// ApplyAll applies actions to one record in ascending order (stable on ties).
// A failing action never stops the remaining ones.
func (in *Interpreter) ApplyAll(ctx context.Context, executionID string, rc *RecordContext, acts []store.Action) RecordOutcome {
	sorted := make([]store.Action, len(acts))
	copy(sorted, acts)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })

	out := RecordOutcome{RecordID: rc.RecordID, Outcomes: make([]Outcome, 0, len(sorted))}
	for _, a := range sorted {
		out.Outcomes = append(out.Outcomes, in.Apply(ctx, executionID, rc, a))
	}
	return out
}

// Apply computes and writes the value of one action on one record.
func (in *Interpreter) Apply(ctx context.Context, executionID string, rc *RecordContext, action store.Action) Outcome {
	out := Outcome{ActionID: action.ID}

	if err := ctx.Err(); err != nil {
		out.Err = schema.NewError(schema.ErrCodeTimeout, "record processing timed out").WithCause(err)
		in.record(ctx, executionID, rc.RecordID, action, nil, out.Err)
		return out
	}

	h, err := in.registry.Get(action.ActionType)
	if err != nil {
		out.Err = err
		in.record(ctx, executionID, rc.RecordID, action, nil, err)
		return out
	}

	value, err := h.Compute(ctx, rc, action)
	if err != nil {
		out.Err = err
		in.record(ctx, executionID, rc.RecordID, action, nil, err)
		return out
	}
	if value == nil {
		in.logger.DebugContext(ctx, "action skipped", "record_id", rc.RecordID, "action_id", action.ID, "action_type", action.ActionType)
		return out
	}

	retries, err := retry.Do(ctx, in.policy, func(ctx context.Context) error {
		return in.store.UpsertValue(ctx, rc.RecordID, action.TargetAttributeID, value)
	})
	if retries > 0 {
		in.logger.WarnContext(ctx, "value write retried", "record_id", rc.RecordID, "action_id", action.ID, "retries", retries)
	}
	if err != nil {
		out.Err = err
		in.record(ctx, executionID, rc.RecordID, action, nil, err)
		return out
	}

	out.NewValue = value
	out.Written = true
	in.record(ctx, executionID, rc.RecordID, action, value, nil)
	return out
}

// record appends the audit row. It uses a detached context so timeouts still
// leave a trace.
func (in *Interpreter) record(ctx context.Context, executionID, recordID string, action store.Action, value *string, actErr error) {
	status := schema.ResultSuccess
	msg := ""
	if actErr != nil {
		status = schema.ResultFailed
		msg = actErr.Error()
	}
	if in.observer != nil {
		in.observer.ObserveActionResult(action.ActionType, status)
	}
	if actErr != nil {
		in.logger.WarnContext(ctx, "action failed",
			"record_id", recordID, "action_id", action.ID, "action_type", action.ActionType, "error", msg)
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := in.store.AppendExecutionResult(wctx, &store.ExecutionResult{
		ExecutionID:  executionID,
		RecordID:     recordID,
		ActionID:     action.ID,
		Status:       status,
		NewValue:     value,
		ErrorMessage: msg,
	}); err != nil {
		in.logger.ErrorContext(ctx, "append execution result failed",
			"record_id", recordID, "action_id", action.ID, "error", err)
	}
}
