package worker

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/leadforge/nurture/internal/taskqueue"
	"github.com/leadforge/nurture/pkg/api"
)

// Worker drains run and resume tasks from a queue and dispatches them
// to the engine.
type Worker struct {
	engine api.Engine
	queue  taskqueue.Queue
}

// New creates a Worker over the given engine and queue.
func New(engine api.Engine, queue taskqueue.Queue) *Worker {
	return &Worker{
		engine: engine,
		queue:  queue,
	}
}

// EnqueueRun submits an asynchronous workflow run for a lead. The run
// happens later, when a worker loop picks the task up.
func (w *Worker) EnqueueRun(ctx context.Context, workflowID, leadID int64, triggeredBy string) error {
	t := taskqueue.Task{
		ID:          uuid.NewString(),
		Type:        taskqueue.TaskTypeRunWorkflow,
		WorkflowID:  workflowID,
		LeadID:      leadID,
		TriggeredBy: triggeredBy,
		EnqueuedAt:  time.Now(),
	}
	return w.queue.Enqueue(ctx, t)
}

// EnqueueResume enqueues a task to continue a suspended execution from
// the given step index.
func (w *Worker) EnqueueResume(ctx context.Context, workflowID, leadID int64, executionID string, fromStep int, triggeredBy string) error {
	t := taskqueue.Task{
		ID:                  uuid.NewString(),
		Type:                taskqueue.TaskTypeResumeWorkflow,
		WorkflowID:          workflowID,
		LeadID:              leadID,
		ResumeFromStep:      fromStep,
		ExistingExecutionID: executionID,
		TriggeredBy:         triggeredBy,
		EnqueuedAt:          time.Now(),
	}
	return w.queue.Enqueue(ctx, t)
}

// ProcessOne handles the next queued task. The bool reports whether a
// task was consumed; when it is true, the error is the run's outcome,
// and when it is false, the error comes from the dequeue (usually
// context cancellation).
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	task, err := w.queue.Dequeue(ctx)
	if err != nil {
		return false, err
	}
	if task == nil {
		return false, nil
	}

	switch task.Type {
	case taskqueue.TaskTypeRunWorkflow:
		_, runErr := w.engine.RunWorkflow(ctx, task.WorkflowID, task.LeadID, api.RunOptions{
			TriggeredBy: task.TriggeredBy,
		})
		return true, runErr

	case taskqueue.TaskTypeResumeWorkflow:
		_, runErr := w.engine.RunWorkflow(ctx, task.WorkflowID, task.LeadID, api.RunOptions{
			ResumeFromStep:      task.ResumeFromStep,
			ExistingExecutionID: task.ExistingExecutionID,
			TriggeredBy:         task.TriggeredBy,
		})
		return true, runErr

	default:
		// Consumed, but surfaced so a bad producer is noticed.
		return true, errors.New("unknown task type: " + string(task.Type))
	}
}

// Run processes tasks until ctx is cancelled. Task failures are
// reported through onError (when non-nil) and do not stop the loop.
func (w *Worker) Run(ctx context.Context, onError func(error)) error {
	for {
		processed, err := w.ProcessOne(ctx)
		if !processed {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			if err != nil && onError != nil {
				onError(err)
			}
			// Avoid spinning when the queue itself is failing.
			select {
			case <-time.After(100 * time.Millisecond):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		if err != nil && onError != nil {
			onError(err)
		}
	}
}
