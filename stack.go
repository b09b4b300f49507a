package nurture

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/leadforge/nurture/internal/engine"
	"github.com/leadforge/nurture/internal/persistence"
	"github.com/leadforge/nurture/internal/taskqueue"
	"github.com/leadforge/nurture/pkg/scheduler"
	workerpkg "github.com/leadforge/nurture/pkg/worker"
)

// StackConfig carries the collaborators a Stack wires together. Email
// and SMS are required; everything else is optional.
type StackConfig struct {
	Email EmailChannel
	SMS   SMSChannel

	Audit    AuditSink
	Observer Observer
	Logger   *slog.Logger

	// CronSpec sets the scheduler sweep cadence. Defaults to every
	// minute.
	CronSpec string

	// Redis, when set, backs the task queue and puts a TTL cache in
	// front of settings reads. SettingsTTL defaults to five minutes.
	Redis       *redis.Client
	KeyPrefix   string
	SettingsTTL time.Duration
}

// Stack bundles an Engine, a Worker, a Scheduler and the persistence
// layer into a single process-local runtime.
//
// The persistence layer stays unexported; lead, workflow, template and
// settings CRUD goes through the delegate methods below so callers
// never import internal packages.
type Stack struct {
	Engine    Engine
	Worker    *workerpkg.Worker
	Scheduler *scheduler.Scheduler

	store persistence.Persistence
	queue taskqueue.Queue

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewInMemoryStack builds a Stack on in-memory stores. State does not
// survive the process; best for tests and prototyping.
func NewInMemoryStack(cfg StackConfig) (*Stack, error) {
	return newStack(persistence.NewMemoryStore().Persistence(), cfg)
}

// NewSQLiteStack builds a durable Stack sharing one SQLite database.
//
// Typical usage:
//
//	db, _ := sql.Open("sqlite", "file:nurture.db?_journal=WAL")
//	stack, err := nurture.NewSQLiteStack(db, nurture.StackConfig{
//	    Email: emailChannel,
//	    SMS:   smsChannel,
//	})
func NewSQLiteStack(db *sql.DB, cfg StackConfig) (*Stack, error) {
	store, err := persistence.NewSQLiteStore(db)
	if err != nil {
		return nil, err
	}
	return newStack(store.Persistence(), cfg)
}

func newStack(store persistence.Persistence, cfg StackConfig) (*Stack, error) {
	if cfg.Email == nil || cfg.SMS == nil {
		return nil, errors.New("nurture: StackConfig requires Email and SMS channels")
	}

	settings := store.Settings
	var queue taskqueue.Queue
	if cfg.Redis != nil {
		settings = persistence.NewRedisSettingsCache(store.Settings, cfg.Redis, cfg.KeyPrefix, cfg.SettingsTTL)
		queue = taskqueue.NewRedisQueue(cfg.Redis, cfg.KeyPrefix)
	} else {
		queue = taskqueue.NewInMemoryQueue(1024)
	}
	store.Settings = settings

	eng := engine.New(engine.Config{
		Persistence: store,
		Email:       cfg.Email,
		SMS:         cfg.SMS,
		Settings:    settings,
		Audit:       cfg.Audit,
		Observer:    cfg.Observer,
	})

	sched, err := scheduler.New(scheduler.Config{
		Engine:      eng,
		Persistence: store,
		Logger:      cfg.Logger,
		CronSpec:    cfg.CronSpec,
	})
	if err != nil {
		return nil, err
	}

	return &Stack{
		Engine:    eng,
		Worker:    workerpkg.New(eng, queue),
		Scheduler: sched,
		store:     store,
		queue:     queue,
	}, nil
}

// StartWorkers starts 'concurrency' worker goroutines that process
// queued runs until Stop is called.
func (s *Stack) StartWorkers(ctx context.Context, concurrency int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("nurture: stack workers already started")
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true

	s.wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func() {
			defer s.wg.Done()
			_ = s.Worker.Run(ctx, func(err error) {
				slog.Warn("nurture: worker task failed", "error", err)
			})
		}()
	}
	return nil
}

// StartScheduler launches the background nurture sweep.
func (s *Stack) StartScheduler(ctx context.Context) error {
	return s.Scheduler.Start(ctx)
}

// Stop shuts down workers and the scheduler and waits for them.
func (s *Stack) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	wasRunning := s.running
	s.running = false
	s.mu.Unlock()

	if wasRunning && cancel != nil {
		cancel()
		s.wg.Wait()
	}
	s.Scheduler.Stop()
}

// Lead, workflow, template and settings CRUD.

func (s *Stack) SaveLead(ctx context.Context, lead *Lead) error {
	return s.store.Leads.SaveLead(ctx, lead)
}

func (s *Stack) GetLead(ctx context.Context, id int64) (*Lead, error) {
	return s.store.Leads.GetLead(ctx, id)
}

func (s *Stack) UpdateLead(ctx context.Context, lead *Lead) error {
	return s.store.Leads.UpdateLead(ctx, lead)
}

func (s *Stack) SaveWorkflow(ctx context.Context, wf *Workflow) error {
	return s.store.Workflows.SaveWorkflow(ctx, wf)
}

func (s *Stack) GetWorkflow(ctx context.Context, id int64) (*Workflow, error) {
	return s.store.Workflows.GetWorkflow(ctx, id)
}

func (s *Stack) SaveTemplate(ctx context.Context, tpl *Template) error {
	return s.store.Workflows.SaveTemplate(ctx, tpl)
}

func (s *Stack) GetTemplate(ctx context.Context, id int64) (*Template, error) {
	return s.store.Workflows.GetTemplate(ctx, id)
}

func (s *Stack) SetSetting(ctx context.Context, key, value string) error {
	return s.store.Settings.SetSetting(ctx, key, value)
}

func (s *Stack) GetSetting(ctx context.Context, key string) (string, error) {
	return s.store.Settings.GetSetting(ctx, key)
}

// History reads.

func (s *Stack) ExecutionLogs(ctx context.Context, executionID string) ([]*ExecutionLog, error) {
	return s.store.Logs.ListExecutionLogs(ctx, executionID)
}

func (s *Stack) LeadLogs(ctx context.Context, leadID int64) ([]*LeadLog, error) {
	return s.store.Logs.ListLeadLogs(ctx, leadID)
}
