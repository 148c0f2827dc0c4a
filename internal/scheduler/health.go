package scheduler

import (
	"context"
	"time"

	"github.com/rendis/autoflow/pkg/schema"
)

// HealthReport counts the work currently due without running any of it.
type HealthReport struct {
	Status       string    `json:"status"`
	WorkflowsDue int       `json:"workflows_due"`
	SyncsDue     int       `json:"syncs_due"`
	Timestamp    time.Time `json:"timestamp"`
}

// Health evaluates cadences and counts due syncs. It takes no claims and
// writes nothing.
func (d *Driver) Health(ctx context.Context) (*HealthReport, error) {
	now := d.cfg.Now()
	wfs, err := d.scheduledWorkflows(ctx, now)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "list scheduled workflows: %s", err.Error()).WithCause(err)
	}
	due := 0
	for _, wf := range wfs {
		ok, err := d.evaluator.IsDue(ctx, wf, now)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeStore, "evaluate workflow %s: %s", wf.ID, err.Error()).WithCause(err)
		}
		if ok {
			due++
		}
	}
	syncs, err := d.cfg.Store.CountDueSyncSchedules(ctx, now)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "count due syncs: %s", err.Error()).WithCause(err)
	}
	return &HealthReport{Status: "ok", WorkflowsDue: due, SyncsDue: syncs, Timestamp: now}, nil
}
