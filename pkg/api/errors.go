package api

import (
	"errors"
	"fmt"
)

var (
	// ErrLeadNotFound is returned when the referenced lead does not exist.
	ErrLeadNotFound = errors.New("lead not found")

	// ErrWorkflowNotFound is returned when the referenced workflow does not exist.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrExecutionNotFound is returned when the referenced execution does not exist.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrTemplateNotFound is returned when a step links a template that does not exist.
	ErrTemplateNotFound = errors.New("template not found")
)

// StepErrorKind classifies why a step failed.
type StepErrorKind string

const (
	// StepErrorValidation means the step could not be attempted, for
	// example a missing recipient address.
	StepErrorValidation StepErrorKind = "VALIDATION"

	// StepErrorExternal means the email/SMS channel (or an action
	// handler) reported failure.
	StepErrorExternal StepErrorKind = "EXTERNAL_SERVICE"

	// StepErrorConfiguration means the step's stored configuration is
	// unusable.
	StepErrorConfiguration StepErrorKind = "CONFIGURATION"
)

// StepError is the explicit failure result of a step executor. Any
// step error is fatal to the run; the coordinator inspects it rather
// than recovering a panic or retrying.
type StepError struct {
	StepID    int64
	StepIndex int
	StepType  StepType
	Kind      StepErrorKind
	Err       error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d (%s): %v", e.StepIndex+1, e.StepType, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// AsStepError returns the StepError in err's chain, if any.
func AsStepError(err error) (*StepError, bool) {
	var se *StepError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
