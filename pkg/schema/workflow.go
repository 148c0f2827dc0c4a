package schema

import (
	"encoding/json"
	"time"
)

// WorkflowDefinition is the JSON-serializable shape used to create or edit a
// workflow. Conditions, actions and the schedule are replaced as a unit.
type WorkflowDefinition struct {
	Name        string                `json:"name"`
	Description string                `json:"description,omitempty"`
	DataModelID string                `json:"data_model_id"`
	TriggerType TriggerType           `json:"trigger_type"`
	Conditions  []ConditionDefinition `json:"conditions,omitempty"`
	Actions     []ActionDefinition    `json:"actions,omitempty"`
	Schedule    *ScheduleDefinition   `json:"schedule,omitempty"`
}

// ConditionDefinition is one declarative filter clause.
type ConditionDefinition struct {
	AttributeID     string          `json:"attribute_id"`
	Operator        Operator        `json:"operator"`
	Value           string          `json:"value,omitempty"`
	LogicalOperator LogicalOperator `json:"logical_operator,omitempty"` // joins to the previous condition (default: AND)
	Order           int             `json:"order"`
}

// ActionDefinition is one mutation applied to every matching record.
type ActionDefinition struct {
	ActionType         ActionType `json:"action_type"`
	TargetAttributeID  string     `json:"target_attribute_id"`
	Value              string     `json:"value,omitempty"`               // UPDATE_VALUE
	SourceAttributeID  string     `json:"source_attribute_id,omitempty"` // COPY_FROM
	CalculationFormula string     `json:"calculation_formula,omitempty"` // CALCULATE
	Order              int        `json:"order"`
}

// ScheduleDefinition describes when a workflow runs.
type ScheduleDefinition struct {
	ScheduleType   ScheduleType    `json:"schedule_type"`
	Config         json.RawMessage `json:"config,omitempty"` // CUSTOM_CRON: {"cron": "..."}
	StartDate      *time.Time      `json:"start_date,omitempty"`
	EndDate        *time.Time      `json:"end_date,omitempty"`
	Timezone       string          `json:"timezone,omitempty"`
	TriggerOnSync  bool            `json:"trigger_on_sync,omitempty"`
	SyncScheduleID string          `json:"sync_schedule_id,omitempty"`
}

// TriggerType enumerates how a workflow is started.
type TriggerType string

const (
	TriggerManual     TriggerType = "MANUAL"
	TriggerScheduled  TriggerType = "SCHEDULED"
	TriggerEventBased TriggerType = "EVENT_BASED"
)

// WorkflowStatus is the lifecycle state of a workflow definition.
type WorkflowStatus string

const (
	WorkflowStatusActive   WorkflowStatus = "ACTIVE"
	WorkflowStatusInactive WorkflowStatus = "INACTIVE"
)

// Operator enumerates condition comparison operators.
type Operator string

const (
	OpEquals      Operator = "EQUALS"
	OpNotEquals   Operator = "NOT_EQUALS"
	OpContains    Operator = "CONTAINS"
	OpNotContains Operator = "NOT_CONTAINS"
	OpIsEmpty     Operator = "IS_EMPTY"
	OpIsNotEmpty  Operator = "IS_NOT_EMPTY"
	OpGreaterThan Operator = "GREATER_THAN"
	OpLessThan    Operator = "LESS_THAN"
)

// LogicalOperator joins a condition to its predecessor.
type LogicalOperator string

const (
	LogicalAnd LogicalOperator = "AND"
	LogicalOr  LogicalOperator = "OR"
)

// ActionType enumerates the mutation kinds.
type ActionType string

const (
	ActionUpdateValue ActionType = "UPDATE_VALUE"
	ActionSetDefault  ActionType = "SET_DEFAULT"
	ActionCopyFrom    ActionType = "COPY_FROM"
	ActionCalculate   ActionType = "CALCULATE"
)

// ScheduleType enumerates workflow cadences.
type ScheduleType string

const (
	ScheduleOnce       ScheduleType = "ONCE"
	ScheduleDaily      ScheduleType = "DAILY"
	ScheduleWeekly     ScheduleType = "WEEKLY"
	ScheduleMonthly    ScheduleType = "MONTHLY"
	ScheduleCustomCron ScheduleType = "CUSTOM_CRON"
)

// AttributeType is the declared type of a data model attribute.
type AttributeType string

const (
	AttributeText    AttributeType = "TEXT"
	AttributeNumber  AttributeType = "NUMBER"
	AttributeBoolean AttributeType = "BOOLEAN"
	AttributeDate    AttributeType = "DATE"
)
