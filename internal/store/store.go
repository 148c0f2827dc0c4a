package store

import (
	"context"
	"time"
)

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Data models and attributes
	CreateDataModel(ctx context.Context, dm *DataModel) error
	GetDataModel(ctx context.Context, id string) (*DataModel, error)
	CreateAttribute(ctx context.Context, attr *Attribute) error
	GetAttribute(ctx context.Context, id string) (*Attribute, error)
	ListAttributes(ctx context.Context, dataModelID string) ([]*Attribute, error)

	// Records and attribute values
	CreateRecord(ctx context.Context, rec *Record) error
	FindRecordIDs(ctx context.Context, dataModelID string, filter RecordFilter) ([]string, error)
	GetRecordValues(ctx context.Context, recordID string) (map[string]*string, error)
	GetValue(ctx context.Context, recordID, attributeID string) (*string, error)
	UpsertValue(ctx context.Context, recordID, attributeID string, value *string) error

	// Workflows
	CreateWorkflow(ctx context.Context, wf *Workflow) error
	ReplaceWorkflow(ctx context.Context, wf *Workflow) error
	GetWorkflow(ctx context.Context, id string) (*Workflow, error)
	ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*Workflow, error)
	SoftDeleteWorkflow(ctx context.Context, id string) error

	// Execution history (append-only results)
	CreateExecution(ctx context.Context, exec *Execution) error
	UpdateExecution(ctx context.Context, id string, update ExecutionUpdate) error
	GetExecution(ctx context.Context, id string) (*Execution, error)
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*Execution, error)
	CountExecutions(ctx context.Context, filter ExecutionFilter) (int, error)
	AppendExecutionResult(ctx context.Context, result *ExecutionResult) error
	ListExecutionResults(ctx context.Context, executionID string) ([]*ExecutionResult, error)

	// Sync schedules
	CreateSyncSchedule(ctx context.Context, job *SyncSchedule) error
	GetSyncSchedule(ctx context.Context, id string) (*SyncSchedule, error)
	ListDueSyncSchedules(ctx context.Context, now time.Time, limit int) ([]*SyncSchedule, error)
	CountDueSyncSchedules(ctx context.Context, now time.Time) (int, error)
	ClaimSyncSchedule(ctx context.Context, id string, now time.Time) (bool, error)
	UpdateSyncSchedule(ctx context.Context, id string, update SyncScheduleUpdate) error

	// Workflow claims (overlap guard)
	ClaimWorkflow(ctx context.Context, workflowID, owner string, now, expiresAt time.Time) (bool, error)
	ReleaseWorkflow(ctx context.Context, workflowID, owner string) error

	// Maintenance
	Migrate(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RecordFilter selects records by their attribute values. The store loads
// the values of Attributes for each candidate record and keeps the ones
// Match accepts. A missing key is a value that was never written.
type RecordFilter interface {
	Attributes() []string
	Match(values map[string]*string) bool
}
