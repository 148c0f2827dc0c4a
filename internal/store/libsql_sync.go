package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rendis/autoflow/pkg/schema"
)

// --- Sync schedules ---

func (s *LibSQLStore) CreateSyncSchedule(ctx context.Context, job *SyncSchedule) error {
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_schedules (id, data_model_id, name, schedule_type, cron_expression, config, is_active, deleted_at, next_run_at, last_run_at, last_run_status, last_error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.DataModelID, job.Name, string(job.ScheduleType), nullStr(job.CronExpression), nullRaw(job.Config),
		boolInt(job.IsActive), nullMs(job.DeletedAt), nullMs(job.NextRunAt), nullMs(job.LastRunAt),
		string(job.LastRunStatus), nullStr(job.LastError), ms(job.CreatedAt),
	)
	return err
}

const syncColumns = `id, data_model_id, name, schedule_type, cron_expression, config, is_active, deleted_at, next_run_at, last_run_at, last_run_status, last_error, created_at`

func (s *LibSQLStore) GetSyncSchedule(ctx context.Context, id string) (*SyncSchedule, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+syncColumns+` FROM sync_schedules WHERE id = ?`, id)
	job, err := scanSyncSchedule(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("sync_schedule", id)
	}
	return job, err
}

// dueSyncWhere selects active, non-deleted, non-manual jobs whose next run
// is unset or not after now and that are not currently running.
const dueSyncWhere = `is_active = 1 AND deleted_at IS NULL AND schedule_type <> 'MANUAL'
	AND (next_run_at IS NULL OR next_run_at <= ?) AND last_run_status <> 'RUNNING'`

// ListDueSyncSchedules returns due jobs, never-run first, then by next run time.
func (s *LibSQLStore) ListDueSyncSchedules(ctx context.Context, now time.Time, limit int) ([]*SyncSchedule, error) {
	query := `SELECT ` + syncColumns + ` FROM sync_schedules WHERE ` + dueSyncWhere +
		` ORDER BY next_run_at IS NOT NULL, next_run_at ASC, id ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.db.QueryContext(ctx, query, ms(now))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*SyncSchedule
	for rows.Next() {
		job, err := scanSyncSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func (s *LibSQLStore) CountDueSyncSchedules(ctx context.Context, now time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_schedules WHERE `+dueSyncWhere, ms(now)).Scan(&n)
	return n, err
}

// ClaimSyncSchedule atomically marks a job RUNNING. It returns false when the
// job is already running or inactive.
func (s *LibSQLStore) ClaimSyncSchedule(ctx context.Context, id string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sync_schedules SET last_run_status = ?, last_run_at = ?
		 WHERE id = ? AND is_active = 1 AND deleted_at IS NULL AND last_run_status <> ?`,
		string(schema.SyncStatusRunning), ms(now), id, string(schema.SyncStatusRunning),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *LibSQLStore) UpdateSyncSchedule(ctx context.Context, id string, update SyncScheduleUpdate) error {
	var sets []string
	var args []any

	if update.LastRunAt != nil {
		sets = append(sets, "last_run_at = ?")
		args = append(args, ms(*update.LastRunAt))
	}
	if update.NextRunAt != nil {
		sets = append(sets, "next_run_at = ?")
		args = append(args, ms(*update.NextRunAt))
	}
	if update.LastRunStatus != "" {
		sets = append(sets, "last_run_status = ?")
		args = append(args, string(update.LastRunStatus))
	}
	if update.LastError != nil {
		sets = append(sets, "last_error = ?")
		args = append(args, nullStr(*update.LastError))
	}
	if update.IsActive != nil {
		sets = append(sets, "is_active = ?")
		args = append(args, boolInt(*update.IsActive))
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)

	query := fmt.Sprintf("UPDATE sync_schedules SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "sync_schedule", id)
}

func scanSyncSchedule(row rowScanner) (*SyncSchedule, error) {
	j := &SyncSchedule{}
	var typ, status string
	var cronExpr, config, lastErr sql.NullString
	var deleted, next, last sql.NullInt64
	var created int64
	if err := row.Scan(&j.ID, &j.DataModelID, &j.Name, &typ, &cronExpr, &config, &j.IsActive,
		&deleted, &next, &last, &status, &lastErr, &created); err != nil {
		return nil, err
	}
	j.ScheduleType = schema.SyncScheduleType(typ)
	j.CronExpression = cronExpr.String
	j.Config = rawOrNil(config)
	j.DeletedAt = timePtr(deleted)
	j.NextRunAt = timePtr(next)
	j.LastRunAt = timePtr(last)
	j.LastRunStatus = schema.SyncRunStatus(status)
	j.LastError = lastErr.String
	j.CreatedAt = fromMs(created)
	return j, nil
}
