package persistence

import (
	"context"
	"time"

	"github.com/leadforge/nurture/pkg/api"
)

// LeadStore handles storage of leads. Contact fields are owned by
// external CRUD; the engine touches only the checkpoint fields and the
// automation status label.
type LeadStore interface {
	SaveLead(ctx context.Context, lead *api.Lead) error
	GetLead(ctx context.Context, id int64) (*api.Lead, error)
	UpdateLead(ctx context.Context, lead *api.Lead) error

	// SetCheckpoint persists the (nextNurtureAt, nurtureStage) pair.
	// A nil nextNurtureAt clears the schedule.
	SetCheckpoint(ctx context.Context, leadID int64, nextNurtureAt *time.Time, nurtureStage int) error

	// SetAutomationStatus updates the last-action label.
	SetAutomationStatus(ctx context.Context, leadID int64, status string) error
}

// WorkflowStore handles storage of workflow definitions and reusable
// message templates.
type WorkflowStore interface {
	SaveWorkflow(ctx context.Context, wf *api.Workflow) error
	GetWorkflow(ctx context.Context, id int64) (*api.Workflow, error)

	SaveTemplate(ctx context.Context, tpl *api.Template) error
	GetTemplate(ctx context.Context, id int64) (*api.Template, error)
}

// ExecutionFilter selects executions from the store. Zero values mean
// "no filter" for that field.
type ExecutionFilter struct {
	LeadID     int64
	WorkflowID int64
	Status     api.ExecutionStatus
}

// ExecutionStore handles storage of workflow executions.
type ExecutionStore interface {
	SaveExecution(ctx context.Context, exec *api.Execution) error
	UpdateExecution(ctx context.Context, exec *api.Execution) error
	GetExecution(ctx context.Context, id string) (*api.Execution, error)
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*api.Execution, error)
}

// LogStore handles the two append-only histories: per-execution
// workflow logs and per-lead communication logs. Rows are never
// mutated after insert.
type LogStore interface {
	AppendExecutionLog(ctx context.Context, row *api.ExecutionLog) error
	ListExecutionLogs(ctx context.Context, executionID string) ([]*api.ExecutionLog, error)

	AppendLeadLog(ctx context.Context, row *api.LeadLog) error
	ListLeadLogs(ctx context.Context, leadID int64) ([]*api.LeadLog, error)
}

// SettingsStore is the writable superset of api.SettingsStore.
type SettingsStore interface {
	api.SettingsStore
	SetSetting(ctx context.Context, key, value string) error
}

// Persistence bundles the store interfaces so the engine can depend on
// a single abstraction.
type Persistence struct {
	Leads      LeadStore
	Workflows  WorkflowStore
	Executions ExecutionStore
	Logs       LogStore
	Settings   SettingsStore
}
