package api

import (
	"context"
	"encoding/json"
	"time"
)

// UserIdentity describes the interactive user on whose behalf a run
// was triggered. Absent for automated triggers (scheduler, hooks).
type UserIdentity struct {
	Name  string
	Email string
}

// RunOptions controls a single invocation of RunWorkflow.
type RunOptions struct {
	// ResumeFromStep is the index to start the step loop at. Zero for
	// a fresh run.
	ResumeFromStep int

	// ExistingExecutionID continues a previously suspended execution
	// instead of creating a new one.
	ExistingExecutionID string

	// TriggeredBy labels the run's origin in logs ("SYSTEM" when empty).
	TriggeredBy string

	// Credentials are optional delegated channel credentials.
	Credentials *Credentials

	// Caller is the interactive user identity, when there is one. It
	// participates in sender name and reply-to resolution.
	Caller *UserIdentity
}

// RunResult reports how a run ended. Exactly one of Suspended and
// Completed is true on success; on failure both are false and the
// accompanying error carries the cause.
type RunResult struct {
	ExecutionID string

	// Suspended is true when a DELAY step halted the run; ResumeAt is
	// the persisted checkpoint time.
	Suspended bool
	ResumeAt  *time.Time

	// Completed is true when the step loop reached the end of the list.
	Completed bool

	// StepsRun counts steps executed in this invocation, including the
	// suspending delay step.
	StepsRun int
}

// ActionHandler executes one ACTION step. Handlers are registered on
// the engine by name; a handler error fails the run like any other
// step error.
type ActionHandler func(ctx context.Context, lead *Lead, params json.RawMessage) error

// ExecutionListOptions filters ListExecutions. Zero values mean "no
// filter" for that field.
type ExecutionListOptions struct {
	LeadID     int64
	WorkflowID int64
	Status     ExecutionStatus
}

// Engine runs nurture workflows against leads.
type Engine interface {
	// RunWorkflow runs (or resumes) one workflow for one lead. It
	// returns ErrLeadNotFound / ErrWorkflowNotFound without writing
	// any records, a *StepError when a step fails, and a RunResult
	// describing suspension or completion otherwise.
	//
	// Runs for the same lead are serialized; steps within a run
	// execute strictly in ascending order.
	RunWorkflow(ctx context.Context, workflowID, leadID int64, opts RunOptions) (*RunResult, error)

	// StopAutomation cancels all ACTIVE executions for a lead and
	// clears its nurture checkpoint.
	StopAutomation(ctx context.Context, leadID int64, reason string) error

	// GetExecution looks up an execution by ID.
	GetExecution(ctx context.Context, id string) (*Execution, error)

	// ListExecutions returns executions matching the given options.
	ListExecutions(ctx context.Context, opts ExecutionListOptions) ([]*Execution, error)

	// RegisterActionHandler installs a handler for ACTION steps with
	// the given name. Steps whose name has no handler are skipped with
	// an INFO log row.
	RegisterActionHandler(name string, h ActionHandler) error
}
