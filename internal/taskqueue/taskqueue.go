package taskqueue

import (
	"context"
	"time"
)

// TaskType identifies what the worker should do.
type TaskType string

const (
	TaskTypeRunWorkflow    TaskType = "run-workflow"
	TaskTypeResumeWorkflow TaskType = "resume-workflow"
)

// Task is a unit of work for the worker: start one workflow run for
// one lead, or resume a suspended execution.
type Task struct {
	ID   string
	Type TaskType

	WorkflowID int64
	LeadID     int64

	// For resume tasks
	ResumeFromStep      int
	ExistingExecutionID string

	// TriggeredBy labels the run's origin in logs.
	TriggeredBy string

	EnqueuedAt time.Time
}

// Queue hands tasks from trigger producers to worker consumers.
type Queue interface {
	// Enqueue submits a task, honoring ctx while the queue is full.
	Enqueue(ctx context.Context, t Task) error

	// Dequeue blocks for the next task until ctx is cancelled.
	Dequeue(ctx context.Context) (*Task, error)

	// Len is the approximate number of pending tasks.
	Len() int
}
