// Package scheduler decides which workflows and sync jobs are due and runs
// them in bounded, synchronous ticks.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/rendis/autoflow/internal/datasync"
	"github.com/rendis/autoflow/internal/store"
	"github.com/rendis/autoflow/pkg/schema"
)

// History is the read-only view of execution history cadences need.
type History interface {
	CountExecutions(ctx context.Context, filter store.ExecutionFilter) (int, error)
	ListExecutions(ctx context.Context, filter store.ExecutionFilter) ([]*store.Execution, error)
}

// Cadence decides from SCHEDULED execution history whether wf is due at now.
// now is already expressed in the schedule's reference clock.
type Cadence interface {
	Due(ctx context.Context, h History, wf *store.Workflow, now time.Time) (bool, error)
}

// CadenceFunc adapts a function to Cadence.
type CadenceFunc func(ctx context.Context, h History, wf *store.Workflow, now time.Time) (bool, error)

func (f CadenceFunc) Due(ctx context.Context, h History, wf *store.Workflow, now time.Time) (bool, error) {
	return f(ctx, h, wf, now)
}

// onceCadence is due until the first SCHEDULED execution exists.
type onceCadence struct{}

func (onceCadence) Due(ctx context.Context, h History, wf *store.Workflow, _ time.Time) (bool, error) {
	n, err := h.CountExecutions(ctx, store.ExecutionFilter{WorkflowID: wf.ID, ExecutionType: schema.ExecutionScheduled})
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

// periodCadence is due when no SCHEDULED execution started since the start
// of the current period.
type periodCadence struct {
	start func(time.Time) time.Time
}

func (c periodCadence) Due(ctx context.Context, h History, wf *store.Workflow, now time.Time) (bool, error) {
	since := c.start(now)
	n, err := h.CountExecutions(ctx, store.ExecutionFilter{
		WorkflowID:    wf.ID,
		ExecutionType: schema.ExecutionScheduled,
		Since:         &since,
	})
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

// StartOfDay truncates t to midnight in t's location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// StartOfWeek returns Monday 00:00 of t's week.
func StartOfWeek(t time.Time) time.Time {
	offset := (int(t.Weekday()) + 6) % 7
	return StartOfDay(t).AddDate(0, 0, -offset)
}

// StartOfMonth returns the first day of t's month at 00:00.
func StartOfMonth(t time.Time) time.Time {
	y, m, _ := t.Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, t.Location())
}

// cronCadence is due when the cron expression fired after the anchor and at
// or before now. The anchor is the last SCHEDULED execution, the schedule's
// start date, or the schedule creation, whichever is latest.
type cronCadence struct {
	logger *slog.Logger
}

func (c cronCadence) Due(ctx context.Context, h History, wf *store.Workflow, now time.Time) (bool, error) {
	expr := wf.Schedule.CronExpression()
	if expr == "" {
		c.logger.WarnContext(ctx, "cron schedule has no expression", "workflow_id", wf.ID)
		return false, nil
	}
	sched, err := datasync.ParseCron(expr)
	if err != nil {
		c.logger.WarnContext(ctx, "cron schedule is invalid", "workflow_id", wf.ID, "cron", expr, "error", err)
		return false, nil
	}

	anchor := wf.Schedule.CreatedAt
	if anchor.IsZero() {
		anchor = wf.CreatedAt
	}
	if sd := wf.Schedule.StartDate; sd != nil && sd.After(anchor) {
		anchor = *sd
	}
	last, err := h.ListExecutions(ctx, store.ExecutionFilter{
		WorkflowID:    wf.ID,
		ExecutionType: schema.ExecutionScheduled,
		Limit:         1,
	})
	if err != nil {
		return false, err
	}
	if len(last) > 0 && last[0].StartedAt.After(anchor) {
		anchor = last[0].StartedAt
	}

	next := sched.Next(anchor.In(now.Location()))
	return !next.IsZero() && !next.After(now), nil
}

// Evaluator maps schedule types to cadences and resolves the reference clock.
type Evaluator struct {
	history  History
	cadences map[schema.ScheduleType]Cadence
	location *time.Location
	logger   *slog.Logger
}

// NewEvaluator creates an Evaluator with the built-in cadences. loc is the
// server clock used when a schedule has no valid timezone; nil means UTC.
func NewEvaluator(h History, loc *time.Location, logger *slog.Logger) *Evaluator {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{
		history: h,
		cadences: map[schema.ScheduleType]Cadence{
			schema.ScheduleOnce:       onceCadence{},
			schema.ScheduleDaily:      periodCadence{start: StartOfDay},
			schema.ScheduleWeekly:     periodCadence{start: StartOfWeek},
			schema.ScheduleMonthly:    periodCadence{start: StartOfMonth},
			schema.ScheduleCustomCron: cronCadence{logger: logger},
		},
		location: loc,
		logger:   logger,
	}
}

// Register replaces or adds the cadence for typ.
func (e *Evaluator) Register(typ schema.ScheduleType, c Cadence) {
	e.cadences[typ] = c
}

// Location returns the reference clock for s: its timezone when it loads,
// otherwise the server clock.
func (e *Evaluator) Location(s *store.Schedule) *time.Location {
	if s == nil || s.Timezone == "" {
		return e.location
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		e.logger.Warn("schedule timezone ignored", "schedule_id", s.ID, "timezone", s.Timezone, "error", err)
		return e.location
	}
	return loc
}

// IsDue reports whether wf should run at now. Workflows without a schedule
// and unknown schedule types are never due.
func (e *Evaluator) IsDue(ctx context.Context, wf *store.Workflow, now time.Time) (bool, error) {
	if wf == nil || wf.Schedule == nil {
		return false, nil
	}
	c, ok := e.cadences[wf.Schedule.ScheduleType]
	if !ok {
		e.logger.DebugContext(ctx, "unknown schedule type", "workflow_id", wf.ID, "schedule_type", wf.Schedule.ScheduleType)
		return false, nil
	}
	return c.Due(ctx, e.history, wf, now.In(e.Location(wf.Schedule)))
}
