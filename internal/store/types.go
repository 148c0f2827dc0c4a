package store

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/rendis/autoflow/pkg/schema"
)

// DataModel is a logical entity type whose records carry dynamic attributes.
type DataModel struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Attribute is a named, typed field of a data model.
type Attribute struct {
	ID           string               `json:"id"`
	DataModelID  string               `json:"data_model_id"`
	Name         string               `json:"name"`
	Type         schema.AttributeType `json:"type"`
	DefaultValue *string              `json:"default_value,omitempty"`
}

// Record is one instance of a data model.
type Record struct {
	ID          string    `json:"id"`
	DataModelID string    `json:"data_model_id"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
}

// Workflow is a persisted rule: conditions, actions and an optional schedule.
// ListWorkflows populates Schedule only; GetWorkflow populates everything.
type Workflow struct {
	ID          string                `json:"id"`
	Name        string                `json:"name"`
	Description string                `json:"description,omitempty"`
	DataModelID string                `json:"data_model_id"`
	TriggerType schema.TriggerType    `json:"trigger_type"`
	Status      schema.WorkflowStatus `json:"status"`
	IsActive    bool                  `json:"is_active"`
	Conditions  []Condition           `json:"conditions,omitempty"`
	Actions     []Action              `json:"actions,omitempty"`
	Schedule    *Schedule             `json:"schedule,omitempty"`
	CreatedAt   time.Time             `json:"created_at"`
	UpdatedAt   time.Time             `json:"updated_at"`
}

// Runnable reports whether the workflow may start an execution.
func (w *Workflow) Runnable() bool {
	return w != nil && w.IsActive && w.Status == schema.WorkflowStatusActive
}

// SortedActions returns the actions in ascending order, stable on ties.
func (w *Workflow) SortedActions() []Action {
	out := make([]Action, len(w.Actions))
	copy(out, w.Actions)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// Condition is one persisted filter clause of a workflow.
type Condition struct {
	ID              string                 `json:"id"`
	WorkflowID      string                 `json:"workflow_id"`
	AttributeID     string                 `json:"attribute_id"`
	Operator        schema.Operator        `json:"operator"`
	Value           string                 `json:"value,omitempty"`
	LogicalOperator schema.LogicalOperator `json:"logical_operator"`
	Order           int                    `json:"order"`
}

// Action is one persisted mutation of a workflow.
type Action struct {
	ID                 string            `json:"id"`
	WorkflowID         string            `json:"workflow_id"`
	ActionType         schema.ActionType `json:"action_type"`
	TargetAttributeID  string            `json:"target_attribute_id"`
	Value              string            `json:"value,omitempty"`
	SourceAttributeID  string            `json:"source_attribute_id,omitempty"`
	CalculationFormula string            `json:"calculation_formula,omitempty"`
	Order              int               `json:"order"`
}

// Schedule is the cadence attached to a workflow.
type Schedule struct {
	ID             string              `json:"id"`
	WorkflowID     string              `json:"workflow_id"`
	ScheduleType   schema.ScheduleType `json:"schedule_type"`
	Config         json.RawMessage     `json:"config,omitempty"`
	StartDate      *time.Time          `json:"start_date,omitempty"`
	EndDate        *time.Time          `json:"end_date,omitempty"`
	Timezone       string              `json:"timezone,omitempty"`
	IsActive       bool                `json:"is_active"`
	TriggerOnSync  bool                `json:"trigger_on_sync"`
	SyncScheduleID string              `json:"sync_schedule_id,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
}

// CronExpression returns the "cron" entry of the schedule config, or "".
func (s *Schedule) CronExpression() string {
	if s == nil || len(s.Config) == 0 {
		return ""
	}
	var cfg struct {
		Cron string `json:"cron"`
	}
	if err := json.Unmarshal(s.Config, &cfg); err != nil {
		return ""
	}
	return cfg.Cron
}

// Execution is one concrete run of a workflow.
type Execution struct {
	ID               string                 `json:"id"`
	WorkflowID       string                 `json:"workflow_id"`
	ExecutionType    schema.ExecutionType   `json:"execution_type"`
	Status           schema.ExecutionStatus `json:"status"`
	StartedAt        time.Time              `json:"started_at"`
	CompletedAt      *time.Time             `json:"completed_at,omitempty"`
	RecordsProcessed int                    `json:"records_processed"`
	RecordsUpdated   int                    `json:"records_updated"`
	ErrorMessage     string                 `json:"error_message,omitempty"`
}

// ExecutionResult is an immutable audit row for one action on one record.
type ExecutionResult struct {
	ID           int64               `json:"id"`
	ExecutionID  string              `json:"execution_id"`
	RecordID     string              `json:"record_id"`
	ActionID     string              `json:"action_id"`
	Status       schema.ResultStatus `json:"status"`
	NewValue     *string             `json:"new_value,omitempty"`
	ErrorMessage string              `json:"error_message,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
}

// SyncSchedule is a data-ingestion job owned by the data-sync subsystem.
type SyncSchedule struct {
	ID             string                  `json:"id"`
	DataModelID    string                  `json:"data_model_id"`
	Name           string                  `json:"name"`
	ScheduleType   schema.SyncScheduleType `json:"schedule_type"`
	CronExpression string                  `json:"cron_expression,omitempty"`
	Config         json.RawMessage         `json:"config,omitempty"`
	IsActive       bool                    `json:"is_active"`
	DeletedAt      *time.Time              `json:"deleted_at,omitempty"`
	NextRunAt      *time.Time              `json:"next_run_at,omitempty"`
	LastRunAt      *time.Time              `json:"last_run_at,omitempty"`
	LastRunStatus  schema.SyncRunStatus    `json:"last_run_status,omitempty"`
	LastError      string                  `json:"last_error,omitempty"`
	CreatedAt      time.Time               `json:"created_at"`
}

// --- Filter and update types ---

// WorkflowFilter specifies criteria for listing workflows.
type WorkflowFilter struct {
	TriggerType     schema.TriggerType `json:"trigger_type,omitempty"`
	DataModelID     string             `json:"data_model_id,omitempty"`
	RunnableOnly    bool               `json:"runnable_only,omitempty"`     // is_active and status ACTIVE
	ActiveSchedule  bool               `json:"active_schedule,omitempty"`   // requires an active schedule
	ScheduleWindow  *time.Time         `json:"schedule_window,omitempty"`   // schedule start/end must contain this instant
	TriggerOnSync   bool               `json:"trigger_on_sync,omitempty"`   // schedule.trigger_on_sync = true
	SyncScheduleID  string             `json:"sync_schedule_id,omitempty"`  // unset or equal on the schedule
	IncludeInactive bool               `json:"include_inactive,omitempty"`  // include soft-deleted rows
	Limit           int                `json:"limit,omitempty"`
}

// ExecutionFilter specifies criteria for querying execution history.
type ExecutionFilter struct {
	WorkflowID    string               `json:"workflow_id,omitempty"`
	ExecutionType schema.ExecutionType `json:"execution_type,omitempty"`
	Since         *time.Time           `json:"since,omitempty"` // started_at >= since
	Until         *time.Time           `json:"until,omitempty"` // started_at < until
	Limit         int                  `json:"limit,omitempty"`
}

// ExecutionUpdate specifies mutable fields of an execution.
type ExecutionUpdate struct {
	Status           *schema.ExecutionStatus `json:"status,omitempty"`
	CompletedAt      *time.Time              `json:"completed_at,omitempty"`
	RecordsProcessed *int                    `json:"records_processed,omitempty"`
	RecordsUpdated   *int                    `json:"records_updated,omitempty"`
	ErrorMessage     *string                 `json:"error_message,omitempty"`
}

// SyncScheduleUpdate specifies mutable fields of a sync schedule.
type SyncScheduleUpdate struct {
	LastRunAt     *time.Time           `json:"last_run_at,omitempty"`
	NextRunAt     *time.Time           `json:"next_run_at,omitempty"`
	LastRunStatus schema.SyncRunStatus `json:"last_run_status,omitempty"`
	LastError     *string              `json:"last_error,omitempty"`
	IsActive      *bool                `json:"is_active,omitempty"`
}
