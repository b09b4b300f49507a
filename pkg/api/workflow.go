package api

import (
	"sort"
	"time"
)

// ExecutionStatus represents the lifecycle state of a workflow execution.
type ExecutionStatus string

const (
	ExecutionActive    ExecutionStatus = "ACTIVE"
	ExecutionCancelled ExecutionStatus = "CANCELLED"
	ExecutionCompleted ExecutionStatus = "COMPLETED"
	ExecutionFailed    ExecutionStatus = "FAILED"
)

// StepType identifies what a workflow step does when executed.
type StepType string

const (
	StepEmail  StepType = "EMAIL"
	StepSMS    StepType = "SMS"
	StepDelay  StepType = "DELAY"
	StepAction StepType = "ACTION"
)

// LogStatus classifies a workflow log row.
type LogStatus string

const (
	LogSuccess LogStatus = "SUCCESS"
	LogFailed  LogStatus = "FAILED"
	LogInfo    LogStatus = "INFO"
)

// MessageType is the channel a lead-facing message went out on.
type MessageType string

const (
	MessageEmail MessageType = "EMAIL"
	MessageSMS   MessageType = "SMS"
)

// DeliveryStatus records whether a single communication attempt landed.
type DeliveryStatus string

const (
	DeliverySent   DeliveryStatus = "SENT"
	DeliveryFailed DeliveryStatus = "FAILED"
)

// Lead is a business contact progressing through the sales pipeline.
//
// The engine mutates only the checkpoint fields (NurtureStage,
// NextNurtureAt) and AutomationStatus; contact fields are owned by
// external CRUD.
type Lead struct {
	ID      int64
	Name    string
	Phone   string
	Email   string
	Website string

	// Pipeline classification, used for template variables and for
	// per-delay-step cancel conditions.
	Status       string
	SubStatus    string
	BusinessType string
	Quality      string

	// CreatedAt is the immutable creation instant; smart delays are
	// computed from it.
	CreatedAt time.Time

	// NurtureStage is the index of the delay step the lead is parked
	// on. Together with NextNurtureAt it forms the resumption
	// checkpoint.
	NurtureStage  int
	NextNurtureAt *time.Time

	// AutomationStatus is a free-text label describing the last
	// automated action taken for this lead.
	AutomationStatus string
}

// Workflow is an ordered outreach sequence run against leads.
type Workflow struct {
	ID            int64
	Name          string
	PipelineStage string
	Steps         []Step
}

// StepsInOrder returns the workflow's steps sorted by ascending Order.
// The slice is a copy; callers may not rely on Steps being pre-sorted
// in storage.
func (w *Workflow) StepsInOrder() []Step {
	steps := make([]Step, len(w.Steps))
	copy(steps, w.Steps)
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].Order < steps[j].Order })
	return steps
}

// Step is one unit of a workflow. Config is the decoded, type-specific
// configuration variant; see DecodeStepConfig.
type Step struct {
	ID     int64
	Order  int
	Type   StepType
	Config StepConfig
}

// Template is a reusable message body that EMAIL/SMS steps may link to.
// When linked, the template's subject and body override the step's own
// stored subject and body at execution time.
type Template struct {
	ID      int64
	Name    string
	Type    MessageType
	Subject string
	Body    string
}

// Execution is one run of a workflow against one lead.
//
// At most one execution with status ACTIVE may exist per lead at any
// time; starting a new run cancels any other ACTIVE execution for the
// lead before the new one is created.
type Execution struct {
	ID         string
	WorkflowID int64
	LeadID     int64
	Status     ExecutionStatus
	StartDate  time.Time

	CancelReason string
	CancelledAt  *time.Time
	CompletedAt  *time.Time
}

// ExecutionLog is one append-only row of a run's history. Rows are
// never mutated after insert.
type ExecutionLog struct {
	ID          int64
	ExecutionID string
	StepID      *int64
	Status      LogStatus
	Message     string
	CreatedAt   time.Time
}

// LeadLog is one append-only row per communication attempt, consumed by
// lead-facing history views. It is distinct from ExecutionLog.
type LeadLog struct {
	ID        int64
	LeadID    int64
	Type      MessageType
	Status    DeliveryStatus
	Stage     string
	Title     string
	Content   string
	CreatedAt time.Time
}
