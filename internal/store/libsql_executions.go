package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rendis/autoflow/pkg/schema"
)

// --- Executions ---

func (s *LibSQLStore) CreateExecution(ctx context.Context, exec *Execution) error {
	if exec.StartedAt.IsZero() {
		exec.StartedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO executions (id, workflow_id, execution_type, status, started_at, completed_at, records_processed, records_updated, error_message)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		exec.ID, exec.WorkflowID, string(exec.ExecutionType), string(exec.Status),
		ms(exec.StartedAt), nullMs(exec.CompletedAt), exec.RecordsProcessed, exec.RecordsUpdated, nullStr(exec.ErrorMessage),
	)
	if err != nil {
		return schema.NewError(schema.ErrCodeStore, "create execution").WithCause(err)
	}
	return nil
}

func (s *LibSQLStore) UpdateExecution(ctx context.Context, id string, update ExecutionUpdate) error {
	var sets []string
	var args []any

	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, ms(*update.CompletedAt))
	}
	if update.RecordsProcessed != nil {
		sets = append(sets, "records_processed = ?")
		args = append(args, *update.RecordsProcessed)
	}
	if update.RecordsUpdated != nil {
		sets = append(sets, "records_updated = ?")
		args = append(args, *update.RecordsUpdated)
	}
	if update.ErrorMessage != nil {
		sets = append(sets, "error_message = ?")
		args = append(args, nullStr(*update.ErrorMessage))
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)

	query := fmt.Sprintf("UPDATE executions SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return schema.NewError(schema.ErrCodeStore, "update execution").WithCause(err)
	}
	return checkRowsAffected(res, "execution", id)
}

const executionColumns = `id, workflow_id, execution_type, status, started_at, completed_at, records_processed, records_updated, error_message`

func (s *LibSQLStore) GetExecution(ctx context.Context, id string) (*Execution, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM executions WHERE id = ?`, id)
	exec, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("execution", id)
	}
	return exec, err
}

// ListExecutions returns executions newest first.
func (s *LibSQLStore) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*Execution, error) {
	where, args := executionWhere(filter)
	query := `SELECT ` + executionColumns + ` FROM executions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC, rowid DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, exec)
	}
	return out, rows.Err()
}

func (s *LibSQLStore) CountExecutions(ctx context.Context, filter ExecutionFilter) (int, error) {
	where, args := executionWhere(filter)
	query := `SELECT COUNT(*) FROM executions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func executionWhere(filter ExecutionFilter) ([]string, []any) {
	var where []string
	var args []any
	if filter.WorkflowID != "" {
		where = append(where, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	if filter.ExecutionType != "" {
		where = append(where, "execution_type = ?")
		args = append(args, string(filter.ExecutionType))
	}
	if filter.Since != nil {
		where = append(where, "started_at >= ?")
		args = append(args, ms(*filter.Since))
	}
	if filter.Until != nil {
		where = append(where, "started_at < ?")
		args = append(args, ms(*filter.Until))
	}
	return where, args
}

func scanExecution(row rowScanner) (*Execution, error) {
	e := &Execution{}
	var typ, status string
	var started int64
	var completed sql.NullInt64
	var errMsg sql.NullString
	if err := row.Scan(&e.ID, &e.WorkflowID, &typ, &status, &started, &completed,
		&e.RecordsProcessed, &e.RecordsUpdated, &errMsg); err != nil {
		return nil, err
	}
	e.ExecutionType = schema.ExecutionType(typ)
	e.Status = schema.ExecutionStatus(status)
	e.StartedAt = fromMs(started)
	e.CompletedAt = timePtr(completed)
	e.ErrorMessage = errMsg.String
	return e, nil
}

// --- Execution results ---

// AppendExecutionResult inserts an audit row. Results are never updated.
func (s *LibSQLStore) AppendExecutionResult(ctx context.Context, result *ExecutionResult) error {
	if result.CreatedAt.IsZero() {
		result.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO execution_results (execution_id, record_id, action_id, status, new_value, error_message, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		result.ExecutionID, result.RecordID, result.ActionID, string(result.Status),
		nullPtr(result.NewValue), nullStr(result.ErrorMessage), ms(result.CreatedAt),
	)
	if err != nil {
		return schema.NewError(schema.ErrCodeStore, "append execution result").WithCause(err)
	}
	if id, err := res.LastInsertId(); err == nil {
		result.ID = id
	}
	return nil
}

func (s *LibSQLStore) ListExecutionResults(ctx context.Context, executionID string) ([]*ExecutionResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, execution_id, record_id, action_id, status, new_value, error_message, created_at
		 FROM execution_results WHERE execution_id = ? ORDER BY id`, executionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ExecutionResult
	for rows.Next() {
		r := &ExecutionResult{}
		var status string
		var newValue, errMsg sql.NullString
		var created int64
		if err := rows.Scan(&r.ID, &r.ExecutionID, &r.RecordID, &r.ActionID, &status, &newValue, &errMsg, &created); err != nil {
			return nil, err
		}
		r.Status = schema.ResultStatus(status)
		r.NewValue = strPtr(newValue)
		r.ErrorMessage = errMsg.String
		r.CreatedAt = fromMs(created)
		out = append(out, r)
	}
	return out, rows.Err()
}
