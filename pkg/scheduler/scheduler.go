// Package scheduler resumes suspended workflow executions when their
// nurture checkpoint comes due.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/leadforge/nurture/internal/persistence"
	"github.com/leadforge/nurture/pkg/api"
)

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Config carries the scheduler's collaborators.
type Config struct {
	Engine      api.Engine
	Persistence persistence.Persistence
	Logger      *slog.Logger

	// CronSpec sets the sweep cadence as a standard five-field cron
	// expression. Defaults to every minute.
	CronSpec string

	Clock Clock
}

// TickResult summarizes one sweep over due executions.
type TickResult struct {
	Due       int
	Resumed   int
	Completed int
	Cancelled int
	Failed    int
}

// Scheduler sweeps ACTIVE executions whose lead checkpoint has come
// due and resumes them through the engine. One sweep runs per cron
// activation; executions still being resumed are skipped by later
// sweeps.
type Scheduler struct {
	engine      api.Engine
	persistence persistence.Persistence
	logger      *slog.Logger
	schedule    cron.Schedule
	clock       Clock

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	inflightMu sync.Mutex
	inflight   map[string]struct{} // execution IDs currently resuming (dedup)
}

// New creates a Scheduler from cfg.
func New(cfg Config) (*Scheduler, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = systemClock{}
	}
	spec := cfg.CronSpec
	if spec == "" {
		spec = "* * * * *"
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parse cron spec %q: %w", spec, err)
	}

	return &Scheduler{
		engine:      cfg.Engine,
		persistence: cfg.Persistence,
		logger:      logger,
		schedule:    schedule,
		clock:       clock,
		inflight:    make(map[string]struct{}),
	}, nil
}

// Start launches the background sweep loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	done := make(chan struct{})
	s.done = done
	s.mu.Unlock()

	go s.loop(loopCtx, done)
	s.logger.Info("scheduler started")
	return nil
}

// Stop cancels the loop and waits for the current sweep to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		now := s.clock.Now()
		timer := time.NewTimer(s.schedule.Next(now).Sub(now))

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one sweep immediately and reports what it did.
func (s *Scheduler) Tick(ctx context.Context) TickResult {
	var result TickResult

	active, err := s.persistence.Executions.ListExecutions(ctx, persistence.ExecutionFilter{
		Status: api.ExecutionActive,
	})
	if err != nil {
		s.logger.Error("failed to list active executions", slog.String("error", err.Error()))
		return result
	}

	now := s.clock.Now()
	for _, exec := range active {
		lead, err := s.persistence.Leads.GetLead(ctx, exec.LeadID)
		if err != nil {
			s.logger.Error("failed to load lead for execution",
				slog.String("execution_id", exec.ID),
				slog.Int64("lead_id", exec.LeadID),
				slog.String("error", err.Error()))
			continue
		}
		if lead.NextNurtureAt == nil || lead.NextNurtureAt.After(now) {
			continue
		}

		result.Due++
		if !s.tryAcquire(exec.ID) {
			continue // already resuming (dedup)
		}
		s.processDue(ctx, exec, lead, &result)
		s.release(exec.ID)
	}

	if result.Due > 0 {
		s.logger.Info("nurture sweep finished",
			slog.Int("due", result.Due),
			slog.Int("resumed", result.Resumed),
			slog.Int("completed", result.Completed),
			slog.Int("cancelled", result.Cancelled),
			slog.Int("failed", result.Failed))
	}
	return result
}

func (s *Scheduler) processDue(ctx context.Context, exec *api.Execution, lead *api.Lead, result *TickResult) {
	wf, err := s.persistence.Workflows.GetWorkflow(ctx, exec.WorkflowID)
	if err != nil {
		s.logger.Error("failed to load workflow for execution",
			slog.String("execution_id", exec.ID),
			slog.String("error", err.Error()))
		result.Failed++
		return
	}

	delayIndex := lead.NurtureStage
	steps := wf.StepsInOrder()

	if delayIndex >= 0 && delayIndex < len(steps) {
		if cfg, ok := steps[delayIndex].Config.(*api.DelayConfig); ok {
			if status, hit := matchCancelCondition(cfg, lead); hit {
				s.cancelExecution(ctx, exec, lead, status)
				result.Cancelled++
				return
			}
		}
	}

	// Clear the checkpoint before resuming so a crash mid-resume
	// cannot replay the same transition on the next sweep.
	if err := s.persistence.Leads.SetCheckpoint(ctx, lead.ID, nil, lead.NurtureStage); err != nil {
		s.logger.Error("failed to clear checkpoint",
			slog.Int64("lead_id", lead.ID),
			slog.String("error", err.Error()))
		result.Failed++
		return
	}

	runResult, err := s.engine.RunWorkflow(ctx, exec.WorkflowID, exec.LeadID, api.RunOptions{
		ResumeFromStep:      delayIndex + 1,
		ExistingExecutionID: exec.ID,
		TriggeredBy:         "SCHEDULER",
	})
	if err != nil {
		s.logger.Error("failed to resume execution",
			slog.String("execution_id", exec.ID),
			slog.String("error", err.Error()))
		result.Failed++
		return
	}

	result.Resumed++
	if runResult.Completed {
		result.Completed++
	}
}

func (s *Scheduler) cancelExecution(ctx context.Context, exec *api.Execution, lead *api.Lead, status string) {
	now := s.clock.Now()
	reason := fmt.Sprintf("Lead status changed to %s", status)

	exec.Status = api.ExecutionCancelled
	exec.CancelReason = reason
	exec.CancelledAt = &now
	if err := s.persistence.Executions.UpdateExecution(ctx, exec); err != nil {
		s.logger.Error("failed to cancel execution",
			slog.String("execution_id", exec.ID),
			slog.String("error", err.Error()))
		return
	}

	_ = s.persistence.Logs.AppendExecutionLog(ctx, &api.ExecutionLog{
		ExecutionID: exec.ID,
		Status:      api.LogInfo,
		Message:     fmt.Sprintf("Workflow cancelled: %s", reason),
		CreatedAt:   now,
	})
	if err := s.persistence.Leads.SetCheckpoint(ctx, lead.ID, nil, lead.NurtureStage); err != nil {
		s.logger.Error("failed to clear checkpoint after cancel",
			slog.Int64("lead_id", lead.ID),
			slog.String("error", err.Error()))
	}
	if err := s.persistence.Leads.SetAutomationStatus(ctx, lead.ID, fmt.Sprintf("Cancelled (%s)", status)); err != nil {
		s.logger.Error("failed to update automation status",
			slog.Int64("lead_id", lead.ID),
			slog.String("error", err.Error()))
	}

	s.logger.Info("cancelled suspended execution",
		slog.String("execution_id", exec.ID),
		slog.Int64("lead_id", lead.ID),
		slog.String("status", status))
}

// matchCancelCondition reports whether the lead's current status is on
// the delay step's cancel list, and which value matched.
func matchCancelCondition(cfg *api.DelayConfig, lead *api.Lead) (string, bool) {
	if slices.Contains(cfg.CancelOnStatuses, lead.Status) {
		return lead.Status, true
	}
	if lead.SubStatus != "" && slices.Contains(cfg.CancelOnSubStatuses, lead.SubStatus) {
		return lead.SubStatus, true
	}
	return "", false
}

func (s *Scheduler) tryAcquire(execID string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, busy := s.inflight[execID]; busy {
		return false
	}
	s.inflight[execID] = struct{}{}
	return true
}

func (s *Scheduler) release(execID string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, execID)
}
