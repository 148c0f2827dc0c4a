package schema

// ExecutionType records what started an execution.
type ExecutionType string

const (
	ExecutionManual     ExecutionType = "MANUAL"
	ExecutionScheduled  ExecutionType = "SCHEDULED"
	ExecutionEventBased ExecutionType = "EVENT_BASED"
)

// ExecutionStatus is the lifecycle state of one workflow run.
type ExecutionStatus string

const (
	ExecutionRunning             ExecutionStatus = "RUNNING"
	ExecutionCompleted           ExecutionStatus = "COMPLETED"
	ExecutionCompletedWithErrors ExecutionStatus = "COMPLETED_WITH_ERRORS"
	ExecutionFailed              ExecutionStatus = "FAILED"
)

// IsTerminal reports whether no further transitions are allowed.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionCompleted || s == ExecutionCompletedWithErrors || s == ExecutionFailed
}

// ResultStatus is the outcome of one action on one record.
type ResultStatus string

const (
	ResultSuccess ResultStatus = "SUCCESS"
	ResultFailed  ResultStatus = "FAILED"
)

// SyncScheduleType enumerates data-sync cadences.
type SyncScheduleType string

const (
	SyncManual     SyncScheduleType = "MANUAL"
	SyncHourly     SyncScheduleType = "HOURLY"
	SyncDaily      SyncScheduleType = "DAILY"
	SyncWeekly     SyncScheduleType = "WEEKLY"
	SyncMonthly    SyncScheduleType = "MONTHLY"
	SyncCustomCron SyncScheduleType = "CUSTOM_CRON"
)

// SyncRunStatus is the last known state of a sync job.
type SyncRunStatus string

const (
	SyncStatusNone    SyncRunStatus = ""
	SyncStatusRunning SyncRunStatus = "RUNNING"
	SyncStatusSuccess SyncRunStatus = "SUCCESS"
	SyncStatusFailed  SyncRunStatus = "FAILED"
)
