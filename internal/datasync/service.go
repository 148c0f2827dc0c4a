package datasync

import (
	"context"
	"log/slog"
	"time"

	"github.com/rendis/autoflow/internal/logging"
	"github.com/rendis/autoflow/internal/retry"
	"github.com/rendis/autoflow/internal/store"
	"github.com/rendis/autoflow/pkg/schema"
)

// Observer receives one call per finished sync run.
type Observer interface {
	ObserveSync(status schema.SyncRunStatus, duration time.Duration)
}

// RunResult is the outcome of Service.Run.
type RunResult struct {
	SyncScheduleID string               `json:"sync_schedule_id"`
	DataModelID    string               `json:"data_model_id"`
	Claimed        bool                 `json:"claimed"`
	Status         schema.SyncRunStatus `json:"status,omitempty"`
	RecordsSynced  int                  `json:"records_synced,omitempty"`
	Retries        int                  `json:"retries,omitempty"`
	Error          string               `json:"error,omitempty"`
	NextRunAt      *time.Time           `json:"next_run_at,omitempty"`
}

// Succeeded reports whether the run was claimed and finished with SUCCESS.
func (r *RunResult) Succeeded() bool {
	return r != nil && r.Claimed && r.Status == schema.SyncStatusSuccess
}

// ServiceConfig configures a Service.
type ServiceConfig struct {
	Store       store.Store
	Connector   Connector
	RetryPolicy *schema.RetryPolicy // transient connector errors; nil = single attempt
	Breaker     *Breaker            // nil disables the breaker
	Location    *time.Location      // clock for next-run computation; nil = UTC
	Observer    Observer
	Logger      *slog.Logger
	Now         func() time.Time
}

// Service claims, runs and finalizes sync jobs.
type Service struct {
	cfg    ServiceConfig
	logger *slog.Logger
}

// NewService creates a Service.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{cfg: cfg, logger: logger}
}

// Run claims job, calls the connector and records SUCCESS or FAILED with the
// next run time. A job already RUNNING elsewhere returns Claimed=false.
// The returned error is reserved for store failures around the claim.
func (s *Service) Run(ctx context.Context, job *store.SyncSchedule) (*RunResult, error) {
	ctx = logging.WithSyncID(ctx, job.ID)
	res := &RunResult{SyncScheduleID: job.ID, DataModelID: job.DataModelID}

	started := s.cfg.Now()
	claimed, err := s.cfg.Store.ClaimSyncSchedule(ctx, job.ID, started)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "claim sync %s: %s", job.ID, err.Error()).WithCause(err)
	}
	if !claimed {
		s.logger.DebugContext(ctx, "sync already running")
		return res, nil
	}
	res.Claimed = true
	s.logger.InfoContext(ctx, "sync started", "data_model_id", job.DataModelID)

	outcome, runErr := s.execute(ctx, job, res)
	if runErr == nil && outcome != nil && outcome.Success {
		res.Status = schema.SyncStatusSuccess
		res.RecordsSynced = outcome.RecordsSynced
		s.cfg.Breaker.RecordSuccess(job.ID)
	} else {
		res.Status = schema.SyncStatusFailed
		switch {
		case runErr != nil:
			res.Error = runErr.Error()
		case outcome != nil && outcome.Error != "":
			res.Error = outcome.Error
		default:
			res.Error = "sync reported failure"
		}
		if state := s.cfg.Breaker.RecordFailure(job.ID); state == CircuitOpen {
			s.logger.WarnContext(ctx, "sync circuit open")
		}
	}

	s.finalize(ctx, job, res)

	if s.cfg.Observer != nil {
		s.cfg.Observer.ObserveSync(res.Status, s.cfg.Now().Sub(started))
	}
	s.logger.InfoContext(ctx, "sync finished",
		"status", res.Status, "records_synced", res.RecordsSynced, "retries", res.Retries, "error", res.Error)
	return res, nil
}

func (s *Service) execute(ctx context.Context, job *store.SyncSchedule, res *RunResult) (*Outcome, error) {
	if err := s.cfg.Breaker.Allow(job.ID); err != nil {
		return nil, err
	}
	if s.cfg.Connector == nil {
		return nil, schema.NewError(schema.ErrCodeSyncFailed, "no sync connector configured")
	}
	var outcome *Outcome
	retries, err := retry.Do(ctx, s.cfg.RetryPolicy, func(ctx context.Context) error {
		out, err := s.cfg.Connector.Sync(ctx, job)
		if err != nil {
			return err
		}
		outcome = out
		return nil
	})
	res.Retries = retries
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

// finalize writes the terminal status on a detached context so a cancelled
// tick never leaves the job stuck in RUNNING.
func (s *Service) finalize(ctx context.Context, job *store.SyncSchedule, res *RunResult) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	finished := s.cfg.Now()
	lastErr := res.Error
	update := store.SyncScheduleUpdate{
		LastRunAt:     &finished,
		LastRunStatus: res.Status,
		LastError:     &lastErr,
	}
	next, err := NextRun(job, finished, s.cfg.Location)
	switch {
	case err != nil:
		// An unparseable cadence would make the job due on every tick.
		inactive := false
		update.IsActive = &inactive
		s.logger.WarnContext(ctx, "sync schedule deactivated", "error", err)
		if lastErr == "" {
			lastErr = err.Error()
		} else {
			lastErr += "; " + err.Error()
		}
	case next != nil:
		update.NextRunAt = next
		res.NextRunAt = next
	}

	if err := s.cfg.Store.UpdateSyncSchedule(fctx, job.ID, update); err != nil {
		s.logger.ErrorContext(ctx, "finalize sync failed", "error", err)
	}
}
