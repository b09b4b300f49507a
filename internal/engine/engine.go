package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/leadforge/nurture/internal/persistence"
	"github.com/leadforge/nurture/pkg/api"
)

// Clock abstracts time for deterministic delay tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Config carries the engine's collaborators. Persistence, Email and
// SMS are required; the rest default to no-ops (and Settings to
// Persistence.Settings) when nil.
type Config struct {
	Persistence persistence.Persistence
	Email       api.EmailChannel
	SMS         api.SMSChannel
	Settings    api.SettingsStore
	Audit       api.AuditSink
	Observer    api.Observer
	Clock       Clock
}

type engineImpl struct {
	persistence persistence.Persistence
	email       api.EmailChannel
	sms         api.SMSChannel
	settings    api.SettingsStore
	audit       api.AuditSink
	observer    api.Observer
	clock       Clock

	locks *leadLocks

	mu      sync.RWMutex
	actions map[string]api.ActionHandler
}

var _ api.Engine = (*engineImpl)(nil)

// New creates an Engine from cfg.
func New(cfg Config) api.Engine {
	settings := cfg.Settings
	if settings == nil {
		settings = cfg.Persistence.Settings
	}
	observer := cfg.Observer
	if observer == nil {
		observer = api.NoopObserver{}
	}
	audit := cfg.Audit
	if audit == nil {
		audit = api.NoopAuditSink{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = systemClock{}
	}

	return &engineImpl{
		persistence: cfg.Persistence,
		email:       cfg.Email,
		sms:         cfg.SMS,
		settings:    settings,
		audit:       audit,
		observer:    observer,
		clock:       clock,
		locks:       newLeadLocks(),
		actions:     make(map[string]api.ActionHandler),
	}
}

func (e *engineImpl) RunWorkflow(ctx context.Context, workflowID, leadID int64, opts api.RunOptions) (*api.RunResult, error) {
	unlock := e.locks.lock(leadID)
	defer unlock()

	lead, err := e.persistence.Leads.GetLead(ctx, leadID)
	if err != nil {
		return nil, err
	}
	wf, err := e.persistence.Workflows.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	triggeredBy := opts.TriggeredBy
	if triggeredBy == "" {
		triggeredBy = "SYSTEM"
	}
	if opts.ResumeFromStep < 0 {
		opts.ResumeFromStep = 0
	}

	resumed := opts.ExistingExecutionID != ""

	var exec *api.Execution
	if resumed {
		exec, err = e.persistence.Executions.GetExecution(ctx, opts.ExistingExecutionID)
		if err != nil {
			return nil, err
		}
		e.appendExecutionLog(ctx, exec.ID, nil, api.LogInfo,
			fmt.Sprintf("Workflow resumed at step %d by %s", opts.ResumeFromStep+1, triggeredBy))
		e.audit.RecordActivity(ctx, api.AuditEntry{
			Category:    api.AuditCategoryAutomation,
			Action:      api.AuditWorkflowResumed,
			EntityType:  "lead",
			EntityID:    lead.ID,
			EntityName:  lead.Name,
			Description: fmt.Sprintf("Workflow %q resumed at step %d", wf.Name, opts.ResumeFromStep+1),
		})
	} else {
		if err := e.cancelActiveExecutions(ctx, leadID, "New workflow started"); err != nil {
			return nil, err
		}

		exec = &api.Execution{
			ID:         uuid.NewString(),
			WorkflowID: workflowID,
			LeadID:     leadID,
			Status:     api.ExecutionActive,
			StartDate:  e.clock.Now(),
		}
		if err := e.persistence.Executions.SaveExecution(ctx, exec); err != nil {
			return nil, err
		}
		e.appendExecutionLog(ctx, exec.ID, nil, api.LogSuccess,
			fmt.Sprintf("Workflow started by %s", triggeredBy))
		e.audit.RecordActivity(ctx, api.AuditEntry{
			Category:    api.AuditCategoryAutomation,
			Action:      api.AuditWorkflowStarted,
			EntityType:  "lead",
			EntityID:    lead.ID,
			EntityName:  lead.Name,
			Description: fmt.Sprintf("Workflow %q started for %s", wf.Name, lead.Name),
		})
	}

	e.observer.OnRunStart(ctx, exec, lead, resumed)

	rc := &runContext{exec: exec, lead: lead, opts: opts}
	result := &api.RunResult{ExecutionID: exec.ID}
	steps := wf.StepsInOrder()

	for i := opts.ResumeFromStep; i < len(steps); i++ {
		step := steps[i]

		e.observer.OnStepStart(ctx, exec, step, i)
		started := e.clock.Now()
		outcome, err := e.executeStep(ctx, rc, step, i)
		e.observer.OnStepCompleted(ctx, exec, step, i, err, e.clock.Now().Sub(started))

		if err != nil {
			e.failExecution(ctx, exec, step, err)
			e.observer.OnRunFailed(ctx, exec, err)
			return result, err
		}
		result.StepsRun++

		if outcome.suspended {
			result.Suspended = true
			resumeAt := outcome.resumeAt
			result.ResumeAt = &resumeAt
			e.observer.OnRunSuspended(ctx, exec, resumeAt)
			return result, nil
		}
	}

	now := e.clock.Now()
	exec.Status = api.ExecutionCompleted
	exec.CompletedAt = &now
	if err := e.persistence.Executions.UpdateExecution(ctx, exec); err != nil {
		return result, err
	}
	e.appendExecutionLog(ctx, exec.ID, nil, api.LogSuccess, "Workflow completed")
	e.observer.OnRunCompleted(ctx, exec)

	result.Completed = true
	return result, nil
}

// failExecution records a step failure: one FAILED log row carrying
// the step error, then the terminal status flip.
func (e *engineImpl) failExecution(ctx context.Context, exec *api.Execution, step api.Step, stepErr error) {
	e.appendExecutionLog(ctx, exec.ID, &step.ID, api.LogFailed, stepErr.Error())
	exec.Status = api.ExecutionFailed
	_ = e.persistence.Executions.UpdateExecution(ctx, exec)
}

func (e *engineImpl) cancelActiveExecutions(ctx context.Context, leadID int64, reason string) error {
	active, err := e.persistence.Executions.ListExecutions(ctx, persistence.ExecutionFilter{
		LeadID: leadID,
		Status: api.ExecutionActive,
	})
	if err != nil {
		return err
	}

	for _, exec := range active {
		now := e.clock.Now()
		exec.Status = api.ExecutionCancelled
		exec.CancelReason = reason
		exec.CancelledAt = &now
		if err := e.persistence.Executions.UpdateExecution(ctx, exec); err != nil {
			return err
		}
		e.appendExecutionLog(ctx, exec.ID, nil, api.LogInfo,
			fmt.Sprintf("Workflow cancelled: %s", reason))
	}
	return nil
}

func (e *engineImpl) StopAutomation(ctx context.Context, leadID int64, reason string) error {
	unlock := e.locks.lock(leadID)
	defer unlock()

	lead, err := e.persistence.Leads.GetLead(ctx, leadID)
	if err != nil {
		return err
	}
	if reason == "" {
		reason = "Automation stopped"
	}

	if err := e.cancelActiveExecutions(ctx, leadID, reason); err != nil {
		return err
	}
	if err := e.persistence.Leads.SetCheckpoint(ctx, leadID, nil, lead.NurtureStage); err != nil {
		return err
	}
	if err := e.persistence.Leads.SetAutomationStatus(ctx, leadID, "Stopped"); err != nil {
		return err
	}

	e.audit.RecordActivity(ctx, api.AuditEntry{
		Category:    api.AuditCategoryAutomation,
		Action:      api.AuditWorkflowCancelled,
		EntityType:  "lead",
		EntityID:    lead.ID,
		EntityName:  lead.Name,
		Description: reason,
	})
	return nil
}

func (e *engineImpl) GetExecution(ctx context.Context, id string) (*api.Execution, error) {
	return e.persistence.Executions.GetExecution(ctx, id)
}

func (e *engineImpl) ListExecutions(ctx context.Context, opts api.ExecutionListOptions) ([]*api.Execution, error) {
	return e.persistence.Executions.ListExecutions(ctx, persistence.ExecutionFilter{
		LeadID:     opts.LeadID,
		WorkflowID: opts.WorkflowID,
		Status:     opts.Status,
	})
}

func (e *engineImpl) RegisterActionHandler(name string, h api.ActionHandler) error {
	if name == "" {
		return fmt.Errorf("action handler name must not be empty")
	}
	if h == nil {
		return fmt.Errorf("action handler %q must not be nil", name)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.actions[name]; exists {
		return fmt.Errorf("action handler %q already registered", name)
	}
	e.actions[name] = h
	return nil
}

// appendExecutionLog writes one history row. Log writes are
// best-effort; a failed insert never aborts the run that produced it.
func (e *engineImpl) appendExecutionLog(ctx context.Context, execID string, stepID *int64, status api.LogStatus, message string) {
	_ = e.persistence.Logs.AppendExecutionLog(ctx, &api.ExecutionLog{
		ExecutionID: execID,
		StepID:      stepID,
		Status:      status,
		Message:     message,
		CreatedAt:   e.clock.Now(),
	})
}

func (e *engineImpl) appendLeadLog(ctx context.Context, lead *api.Lead, mt api.MessageType, status api.DeliveryStatus, title, content string) {
	_ = e.persistence.Logs.AppendLeadLog(ctx, &api.LeadLog{
		LeadID:    lead.ID,
		Type:      mt,
		Status:    status,
		Stage:     fmt.Sprintf("Stage %d", lead.NurtureStage),
		Title:     title,
		Content:   content,
		CreatedAt: e.clock.Now(),
	})
}
