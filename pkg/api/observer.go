package api

import (
	"context"
	"log/slog"
	"time"
)

// Observer receives callbacks from the engine for logging and metrics.
//
// Implementations should be fast and non-blocking; heavy work should be
// done asynchronously so as not to delay workflow execution.
type Observer interface {
	// OnRunStart is called once per invocation, after the execution
	// record is established (resumed is true when continuing a
	// suspended execution).
	OnRunStart(ctx context.Context, exec *Execution, lead *Lead, resumed bool)

	// OnStepStart is called before dispatching a step executor.
	// stepIndex is the 0-based position in the ordered step list.
	OnStepStart(ctx context.Context, exec *Execution, step Step, stepIndex int)

	// OnStepCompleted is called after a step executor returns, for
	// both successes and failures (err != nil).
	OnStepCompleted(ctx context.Context, exec *Execution, step Step, stepIndex int, err error, duration time.Duration)

	// OnRunSuspended is called when a DELAY step checkpoints the run.
	OnRunSuspended(ctx context.Context, exec *Execution, resumeAt time.Time)

	// OnRunCompleted is called when the step loop reaches the end of
	// the list.
	OnRunCompleted(ctx context.Context, exec *Execution)

	// OnRunFailed is called when a step error aborts the run.
	OnRunFailed(ctx context.Context, exec *Execution, err error)
}

// NoopObserver discards every event. Engines fall back to it when no
// observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnRunStart(ctx context.Context, exec *Execution, lead *Lead, resumed bool) {}
func (NoopObserver) OnStepStart(ctx context.Context, exec *Execution, step Step, stepIndex int) {
}
func (NoopObserver) OnStepCompleted(ctx context.Context, exec *Execution, step Step, stepIndex int, err error, d time.Duration) {
}
func (NoopObserver) OnRunSuspended(ctx context.Context, exec *Execution, resumeAt time.Time) {}
func (NoopObserver) OnRunCompleted(ctx context.Context, exec *Execution)                     {}
func (NoopObserver) OnRunFailed(ctx context.Context, exec *Execution, err error)             {}

// CompositeObserver forwards every event to a list of observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver combines the non-nil observers in obs into a
// single Observer.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnRunStart(ctx context.Context, exec *Execution, lead *Lead, resumed bool) {
	for _, o := range c.observers {
		o.OnRunStart(ctx, exec, lead, resumed)
	}
}

func (c *CompositeObserver) OnStepStart(ctx context.Context, exec *Execution, step Step, stepIndex int) {
	for _, o := range c.observers {
		o.OnStepStart(ctx, exec, step, stepIndex)
	}
}

func (c *CompositeObserver) OnStepCompleted(ctx context.Context, exec *Execution, step Step, stepIndex int, err error, d time.Duration) {
	for _, o := range c.observers {
		o.OnStepCompleted(ctx, exec, step, stepIndex, err, d)
	}
}

func (c *CompositeObserver) OnRunSuspended(ctx context.Context, exec *Execution, resumeAt time.Time) {
	for _, o := range c.observers {
		o.OnRunSuspended(ctx, exec, resumeAt)
	}
}

func (c *CompositeObserver) OnRunCompleted(ctx context.Context, exec *Execution) {
	for _, o := range c.observers {
		o.OnRunCompleted(ctx, exec)
	}
}

func (c *CompositeObserver) OnRunFailed(ctx context.Context, exec *Execution, err error) {
	for _, o := range c.observers {
		o.OnRunFailed(ctx, exec, err)
	}
}

// LoggingObserver emits one slog record per lifecycle event.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs run and step
// lifecycle events using the provided slog.Logger. If logger is nil,
// slog.Default() is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnRunStart(ctx context.Context, exec *Execution, lead *Lead, resumed bool) {
	o.Logger.InfoContext(ctx, "run_start",
		slog.String("execution_id", exec.ID),
		slog.Int64("workflow_id", exec.WorkflowID),
		slog.Int64("lead_id", exec.LeadID),
		slog.Bool("resumed", resumed),
	)
}

func (o *LoggingObserver) OnStepStart(ctx context.Context, exec *Execution, step Step, stepIndex int) {
	o.Logger.DebugContext(ctx, "step_start",
		slog.String("execution_id", exec.ID),
		slog.Int("step_index", stepIndex),
		slog.String("step_type", string(step.Type)),
	)
}

func (o *LoggingObserver) OnStepCompleted(ctx context.Context, exec *Execution, step Step, stepIndex int, err error, d time.Duration) {
	attrs := []any{
		slog.String("execution_id", exec.ID),
		slog.Int("step_index", stepIndex),
		slog.String("step_type", string(step.Type)),
		slog.Duration("duration", d),
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
		o.Logger.WarnContext(ctx, "step_failed", attrs...)
		return
	}
	o.Logger.InfoContext(ctx, "step_completed", attrs...)
}

func (o *LoggingObserver) OnRunSuspended(ctx context.Context, exec *Execution, resumeAt time.Time) {
	o.Logger.InfoContext(ctx, "run_suspended",
		slog.String("execution_id", exec.ID),
		slog.Time("resume_at", resumeAt),
	)
}

func (o *LoggingObserver) OnRunCompleted(ctx context.Context, exec *Execution) {
	o.Logger.InfoContext(ctx, "run_completed",
		slog.String("execution_id", exec.ID),
	)
}

func (o *LoggingObserver) OnRunFailed(ctx context.Context, exec *Execution, err error) {
	o.Logger.ErrorContext(ctx, "run_failed",
		slog.String("execution_id", exec.ID),
		slog.String("error", err.Error()),
	)
}
