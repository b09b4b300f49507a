package nurture

import (
	"database/sql"

	"github.com/leadforge/nurture/internal/engine"
	"github.com/leadforge/nurture/internal/persistence"
	"github.com/leadforge/nurture/pkg/api"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	Engine               = api.Engine
	Lead                 = api.Lead
	Workflow             = api.Workflow
	Step                 = api.Step
	StepConfig           = api.StepConfig
	EmailConfig          = api.EmailConfig
	SMSConfig            = api.SMSConfig
	DelayConfig          = api.DelayConfig
	ActionConfig         = api.ActionConfig
	Template             = api.Template
	Execution            = api.Execution
	ExecutionLog         = api.ExecutionLog
	LeadLog              = api.LeadLog
	ExecutionStatus      = api.ExecutionStatus
	StepType             = api.StepType
	RunOptions           = api.RunOptions
	RunResult            = api.RunResult
	ActionHandler        = api.ActionHandler
	ExecutionListOptions = api.ExecutionListOptions
	UserIdentity         = api.UserIdentity
	Credentials          = api.Credentials
	EmailChannel         = api.EmailChannel
	SMSChannel           = api.SMSChannel
	EmailMessage         = api.EmailMessage
	SendResult           = api.SendResult
	AuditSink            = api.AuditSink
	AuditEntry           = api.AuditEntry
	Observer             = api.Observer
	LoggingObserver      = api.LoggingObserver
	CompositeObserver    = api.CompositeObserver
	NoopObserver         = api.NoopObserver
	StepError            = api.StepError
)

// Re-export common helpers.

var (
	NewLoggingObserver   = api.NewLoggingObserver
	NewCompositeObserver = api.NewCompositeObserver
	DecodeStepConfig     = api.DecodeStepConfig
	AsStepError          = api.AsStepError
)

// Re-export status and step-type values for convenience.

const (
	ExecutionActive    = api.ExecutionActive
	ExecutionCancelled = api.ExecutionCancelled
	ExecutionCompleted = api.ExecutionCompleted
	ExecutionFailed    = api.ExecutionFailed

	StepEmail  = api.StepEmail
	StepSMS    = api.StepSMS
	StepDelay  = api.StepDelay
	StepAction = api.StepAction

	DelaySmartStage2 = api.DelaySmartStage2
	DelaySmartStage3 = api.DelaySmartStage3
	DelayFixed       = api.DelayFixed
)

// Re-export sentinel errors.

var (
	ErrLeadNotFound      = api.ErrLeadNotFound
	ErrWorkflowNotFound  = api.ErrWorkflowNotFound
	ErrExecutionNotFound = api.ErrExecutionNotFound
	ErrTemplateNotFound  = api.ErrTemplateNotFound
)

// Engine constructors
// These wrap the internal/engine package so external callers
// never need to import internal packages.

// NewInMemoryEngine returns an Engine backed entirely by in-memory
// stores. State does not survive the process; best for tests and
// prototyping.
func NewInMemoryEngine(email EmailChannel, sms SMSChannel) Engine {
	return engine.New(engine.Config{
		Persistence: persistence.NewMemoryStore().Persistence(),
		Email:       email,
		SMS:         sms,
	})
}

// NewInMemoryEngineWithObserver returns an in-memory Engine with the given Observer.
func NewInMemoryEngineWithObserver(email EmailChannel, sms SMSChannel, obs Observer) Engine {
	return engine.New(engine.Config{
		Persistence: persistence.NewMemoryStore().Persistence(),
		Email:       email,
		SMS:         sms,
		Observer:    obs,
	})
}

// NewSQLiteEngine returns an Engine that persists leads, workflows,
// executions and logs in a SQLite database.
func NewSQLiteEngine(db *sql.DB, email EmailChannel, sms SMSChannel) (Engine, error) {
	store, err := persistence.NewSQLiteStore(db)
	if err != nil {
		return nil, err
	}
	return engine.New(engine.Config{
		Persistence: store.Persistence(),
		Email:       email,
		SMS:         sms,
	}), nil
}

// NewSQLiteEngineWithObserver returns a SQLite-backed Engine with the given Observer.
func NewSQLiteEngineWithObserver(db *sql.DB, email EmailChannel, sms SMSChannel, obs Observer) (Engine, error) {
	store, err := persistence.NewSQLiteStore(db)
	if err != nil {
		return nil, err
	}
	return engine.New(engine.Config{
		Persistence: store.Persistence(),
		Email:       email,
		SMS:         sms,
		Observer:    obs,
	}), nil
}
