package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/autoflow/pkg/schema"
)

// txExec is the subset of *sql.Tx used when writing workflow children.
type txExec interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// CreateWorkflow inserts a workflow with its conditions, actions and schedule
// in one transaction. Missing child ids are generated.
func (s *LibSQLStore) CreateWorkflow(ctx context.Context, wf *Workflow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	status := wf.Status
	if status == "" {
		status = schema.WorkflowStatusActive
	}
	now := time.Now().UTC()
	if wf.CreatedAt.IsZero() {
		wf.CreatedAt = now
	}
	wf.UpdatedAt = now

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO workflows (id, name, description, data_model_id, trigger_type, status, is_active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		wf.ID, wf.Name, nullStr(wf.Description), wf.DataModelID, string(wf.TriggerType),
		string(status), boolInt(wf.IsActive), ms(wf.CreatedAt), ms(wf.UpdatedAt),
	); err != nil {
		return fmt.Errorf("insert workflow: %w", err)
	}
	wf.Status = status

	if err := insertWorkflowChildren(ctx, tx, wf); err != nil {
		return err
	}
	return tx.Commit()
}

// ReplaceWorkflow rewrites the workflow header and replaces conditions,
// actions and schedule as a unit. Either everything is replaced or nothing is.
func (s *LibSQLStore) ReplaceWorkflow(ctx context.Context, wf *Workflow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	wf.UpdatedAt = time.Now().UTC()
	res, err := tx.ExecContext(ctx,
		`UPDATE workflows SET name = ?, description = ?, data_model_id = ?, trigger_type = ?, status = ?, is_active = ?, updated_at = ?
		 WHERE id = ?`,
		wf.Name, nullStr(wf.Description), wf.DataModelID, string(wf.TriggerType),
		string(wf.Status), boolInt(wf.IsActive), ms(wf.UpdatedAt), wf.ID,
	)
	if err != nil {
		return fmt.Errorf("update workflow: %w", err)
	}
	if err := checkRowsAffected(res, "workflow", wf.ID); err != nil {
		return err
	}

	for _, table := range []string{"workflow_conditions", "workflow_actions", "workflow_schedules"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE workflow_id = ?", wf.ID); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	if err := insertWorkflowChildren(ctx, tx, wf); err != nil {
		return err
	}
	return tx.Commit()
}

func insertWorkflowChildren(ctx context.Context, tx txExec, wf *Workflow) error {
	for i := range wf.Conditions {
		c := &wf.Conditions[i]
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		c.WorkflowID = wf.ID
		logical := c.LogicalOperator
		if logical == "" {
			logical = schema.LogicalAnd
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO workflow_conditions (id, workflow_id, attribute_id, operator, value, logical_operator, sort_order)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			c.ID, wf.ID, c.AttributeID, string(c.Operator), nullStr(c.Value), string(logical), c.Order,
		); err != nil {
			return fmt.Errorf("insert condition: %w", err)
		}
	}
	for i := range wf.Actions {
		a := &wf.Actions[i]
		if a.ID == "" {
			a.ID = uuid.NewString()
		}
		a.WorkflowID = wf.ID
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO workflow_actions (id, workflow_id, action_type, target_attribute_id, value, source_attribute_id, calculation_formula, sort_order)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			a.ID, wf.ID, string(a.ActionType), a.TargetAttributeID, nullStr(a.Value),
			nullStr(a.SourceAttributeID), nullStr(a.CalculationFormula), a.Order,
		); err != nil {
			return fmt.Errorf("insert action: %w", err)
		}
	}
	if sch := wf.Schedule; sch != nil {
		if sch.ID == "" {
			sch.ID = uuid.NewString()
		}
		sch.WorkflowID = wf.ID
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO workflow_schedules (id, workflow_id, schedule_type, config, start_date, end_date, timezone, is_active, trigger_on_sync, sync_schedule_id, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sch.ID, wf.ID, string(sch.ScheduleType), nullRaw(sch.Config), nullMs(sch.StartDate), nullMs(sch.EndDate),
			nullStr(sch.Timezone), boolInt(sch.IsActive), boolInt(sch.TriggerOnSync), nullStr(sch.SyncScheduleID),
			msOrNow(sch.CreatedAt),
		); err != nil {
			return fmt.Errorf("insert schedule: %w", err)
		}
	}
	return nil
}

const workflowColumns = `w.id, w.name, w.description, w.data_model_id, w.trigger_type, w.status, w.is_active, w.created_at, w.updated_at,
	s.id, s.schedule_type, s.config, s.start_date, s.end_date, s.timezone, s.is_active, s.trigger_on_sync, s.sync_schedule_id, s.created_at`

// GetWorkflow returns a workflow with its conditions and actions in order.
// Soft-deleted workflows are returned with IsActive=false.
func (s *LibSQLStore) GetWorkflow(ctx context.Context, id string) (*Workflow, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+workflowColumns+` FROM workflows w LEFT JOIN workflow_schedules s ON s.workflow_id = w.id WHERE w.id = ?`, id)
	wf, err := scanWorkflow(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("workflow", id)
	}
	if err != nil {
		return nil, err
	}
	if wf.Conditions, err = s.listConditions(ctx, id); err != nil {
		return nil, err
	}
	if wf.Actions, err = s.listActions(ctx, id); err != nil {
		return nil, err
	}
	return wf, nil
}

// ListWorkflows returns workflow headers with their schedule.
// Conditions and actions are not loaded.
func (s *LibSQLStore) ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*Workflow, error) {
	var where []string
	var args []any

	if !filter.IncludeInactive {
		where = append(where, "w.is_active = 1")
	}
	if filter.RunnableOnly {
		where = append(where, "w.is_active = 1", "w.status = ?")
		args = append(args, string(schema.WorkflowStatusActive))
	}
	if filter.TriggerType != "" {
		where = append(where, "w.trigger_type = ?")
		args = append(args, string(filter.TriggerType))
	}
	if filter.DataModelID != "" {
		where = append(where, "w.data_model_id = ?")
		args = append(args, filter.DataModelID)
	}
	if filter.ActiveSchedule {
		where = append(where, "s.id IS NOT NULL", "s.is_active = 1")
	}
	if filter.ScheduleWindow != nil {
		at := ms(*filter.ScheduleWindow)
		where = append(where, "(s.start_date IS NULL OR s.start_date <= ?)", "(s.end_date IS NULL OR s.end_date >= ?)")
		args = append(args, at, at)
	}
	if filter.TriggerOnSync {
		where = append(where, "s.trigger_on_sync = 1")
	}
	if filter.SyncScheduleID != "" {
		where = append(where, "(s.sync_schedule_id IS NULL OR s.sync_schedule_id = '' OR s.sync_schedule_id = ?)")
		args = append(args, filter.SyncScheduleID)
	}

	query := `SELECT ` + workflowColumns + ` FROM workflows w LEFT JOIN workflow_schedules s ON s.workflow_id = w.id`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY w.created_at ASC, w.id ASC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var workflows []*Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, wf)
	}
	return workflows, rows.Err()
}

// SoftDeleteWorkflow marks a workflow inactive. History is retained.
func (s *LibSQLStore) SoftDeleteWorkflow(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE workflows SET is_active = 0, status = ?, updated_at = ? WHERE id = ?`,
		string(schema.WorkflowStatusInactive), time.Now().UTC().UnixMilli(), id,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "workflow", id)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(row rowScanner) (*Workflow, error) {
	wf := &Workflow{}
	var (
		desc                      sql.NullString
		trigger, status           string
		created, updated          int64
		schID, schType, schConfig sql.NullString
		schTZ, schSync            sql.NullString
		schStart, schEnd          sql.NullInt64
		schActive, schOnSync      sql.NullBool
		schCreated                sql.NullInt64
	)
	if err := row.Scan(&wf.ID, &wf.Name, &desc, &wf.DataModelID, &trigger, &status, &wf.IsActive, &created, &updated,
		&schID, &schType, &schConfig, &schStart, &schEnd, &schTZ, &schActive, &schOnSync, &schSync, &schCreated); err != nil {
		return nil, err
	}
	wf.Description = desc.String
	wf.TriggerType = schema.TriggerType(trigger)
	wf.Status = schema.WorkflowStatus(status)
	wf.CreatedAt = fromMs(created)
	wf.UpdatedAt = fromMs(updated)

	if schID.Valid {
		wf.Schedule = &Schedule{
			ID:             schID.String,
			WorkflowID:     wf.ID,
			ScheduleType:   schema.ScheduleType(schType.String),
			Config:         rawOrNil(schConfig),
			StartDate:      timePtr(schStart),
			EndDate:        timePtr(schEnd),
			Timezone:       schTZ.String,
			IsActive:       schActive.Bool,
			TriggerOnSync:  schOnSync.Bool,
			SyncScheduleID: schSync.String,
			CreatedAt:      fromMs(schCreated.Int64),
		}
	}
	return wf, nil
}

func (s *LibSQLStore) listConditions(ctx context.Context, workflowID string) ([]Condition, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, attribute_id, operator, value, logical_operator, sort_order
		 FROM workflow_conditions WHERE workflow_id = ? ORDER BY sort_order, rowid`, workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Condition
	for rows.Next() {
		c := Condition{WorkflowID: workflowID}
		var op, logical string
		var value sql.NullString
		if err := rows.Scan(&c.ID, &c.AttributeID, &op, &value, &logical, &c.Order); err != nil {
			return nil, err
		}
		c.Operator = schema.Operator(op)
		c.LogicalOperator = schema.LogicalOperator(logical)
		c.Value = value.String
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *LibSQLStore) listActions(ctx context.Context, workflowID string) ([]Action, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, action_type, target_attribute_id, value, source_attribute_id, calculation_formula, sort_order
		 FROM workflow_actions WHERE workflow_id = ? ORDER BY sort_order, rowid`, workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Action
	for rows.Next() {
		a := Action{WorkflowID: workflowID}
		var typ string
		var value, source, formula sql.NullString
		if err := rows.Scan(&a.ID, &typ, &a.TargetAttributeID, &value, &source, &formula, &a.Order); err != nil {
			return nil, err
		}
		a.ActionType = schema.ActionType(typ)
		a.Value = value.String
		a.SourceAttributeID = source.String
		a.CalculationFormula = formula.String
		out = append(out, a)
	}
	return out, rows.Err()
}
