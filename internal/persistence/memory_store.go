package persistence

import (
	"context"
	"sync"
	"time"

	"github.com/leadforge/nurture/pkg/api"
)

// MemoryStore is a goroutine-safe implementation of every store
// interface, backed by maps. Non-durable; intended for tests and
// single-process development setups.
type MemoryStore struct {
	mu         sync.RWMutex
	leads      map[int64]*api.Lead
	workflows  map[int64]*api.Workflow
	templates  map[int64]*api.Template
	executions map[string]*api.Execution
	execLogs   []*api.ExecutionLog
	leadLogs   []*api.LeadLog
	settings   map[string]string

	nextLeadID     int64
	nextWorkflowID int64
	nextTemplateID int64
	nextLogID      int64
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		leads:      make(map[int64]*api.Lead),
		workflows:  make(map[int64]*api.Workflow),
		templates:  make(map[int64]*api.Template),
		executions: make(map[string]*api.Execution),
		settings:   make(map[string]string),
	}
}

// Ensure MemoryStore implements the store interfaces.
var (
	_ LeadStore      = (*MemoryStore)(nil)
	_ WorkflowStore  = (*MemoryStore)(nil)
	_ ExecutionStore = (*MemoryStore)(nil)
	_ LogStore       = (*MemoryStore)(nil)
	_ SettingsStore  = (*MemoryStore)(nil)
)

// Persistence returns the store bundled for engine construction.
func (s *MemoryStore) Persistence() Persistence {
	return Persistence{
		Leads:      s,
		Workflows:  s,
		Executions: s,
		Logs:       s,
		Settings:   s,
	}
}

func (s *MemoryStore) SaveLead(ctx context.Context, lead *api.Lead) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if lead.ID == 0 {
		s.nextLeadID++
		lead.ID = s.nextLeadID
	}
	cp := *lead
	s.leads[lead.ID] = &cp
	return nil
}

func (s *MemoryStore) GetLead(ctx context.Context, id int64) (*api.Lead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lead, ok := s.leads[id]
	if !ok {
		return nil, api.ErrLeadNotFound
	}
	cp := *lead
	return &cp, nil
}

func (s *MemoryStore) UpdateLead(ctx context.Context, lead *api.Lead) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.leads[lead.ID]; !ok {
		return api.ErrLeadNotFound
	}
	cp := *lead
	s.leads[lead.ID] = &cp
	return nil
}

func (s *MemoryStore) SetCheckpoint(ctx context.Context, leadID int64, nextNurtureAt *time.Time, nurtureStage int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lead, ok := s.leads[leadID]
	if !ok {
		return api.ErrLeadNotFound
	}
	lead.NextNurtureAt = nextNurtureAt
	lead.NurtureStage = nurtureStage
	return nil
}

func (s *MemoryStore) SetAutomationStatus(ctx context.Context, leadID int64, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lead, ok := s.leads[leadID]
	if !ok {
		return api.ErrLeadNotFound
	}
	lead.AutomationStatus = status
	return nil
}

func (s *MemoryStore) SaveWorkflow(ctx context.Context, wf *api.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if wf.ID == 0 {
		s.nextWorkflowID++
		wf.ID = s.nextWorkflowID
	}
	cp := *wf
	cp.Steps = make([]api.Step, len(wf.Steps))
	copy(cp.Steps, wf.Steps)
	s.workflows[wf.ID] = &cp
	return nil
}

func (s *MemoryStore) GetWorkflow(ctx context.Context, id int64) (*api.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wf, ok := s.workflows[id]
	if !ok {
		return nil, api.ErrWorkflowNotFound
	}
	cp := *wf
	cp.Steps = make([]api.Step, len(wf.Steps))
	copy(cp.Steps, wf.Steps)
	return &cp, nil
}

func (s *MemoryStore) SaveTemplate(ctx context.Context, tpl *api.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tpl.ID == 0 {
		s.nextTemplateID++
		tpl.ID = s.nextTemplateID
	}
	cp := *tpl
	s.templates[tpl.ID] = &cp
	return nil
}

func (s *MemoryStore) GetTemplate(ctx context.Context, id int64) (*api.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tpl, ok := s.templates[id]
	if !ok {
		return nil, api.ErrTemplateNotFound
	}
	cp := *tpl
	return &cp, nil
}

func (s *MemoryStore) SaveExecution(ctx context.Context, exec *api.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *exec
	s.executions[exec.ID] = &cp
	return nil
}

func (s *MemoryStore) UpdateExecution(ctx context.Context, exec *api.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.executions[exec.ID]; !ok {
		return api.ErrExecutionNotFound
	}
	cp := *exec
	s.executions[exec.ID] = &cp
	return nil
}

func (s *MemoryStore) GetExecution(ctx context.Context, id string) (*api.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	exec, ok := s.executions[id]
	if !ok {
		return nil, api.ErrExecutionNotFound
	}
	cp := *exec
	return &cp, nil
}

func (s *MemoryStore) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*api.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*api.Execution
	for _, exec := range s.executions {
		if filter.LeadID != 0 && exec.LeadID != filter.LeadID {
			continue
		}
		if filter.WorkflowID != 0 && exec.WorkflowID != filter.WorkflowID {
			continue
		}
		if filter.Status != "" && exec.Status != filter.Status {
			continue
		}
		cp := *exec
		result = append(result, &cp)
	}
	return result, nil
}

func (s *MemoryStore) AppendExecutionLog(ctx context.Context, row *api.ExecutionLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextLogID++
	cp := *row
	cp.ID = s.nextLogID
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	row.ID = cp.ID
	s.execLogs = append(s.execLogs, &cp)
	return nil
}

func (s *MemoryStore) ListExecutionLogs(ctx context.Context, executionID string) ([]*api.ExecutionLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*api.ExecutionLog
	for _, row := range s.execLogs {
		if row.ExecutionID == executionID {
			cp := *row
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (s *MemoryStore) AppendLeadLog(ctx context.Context, row *api.LeadLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextLogID++
	cp := *row
	cp.ID = s.nextLogID
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	row.ID = cp.ID
	s.leadLogs = append(s.leadLogs, &cp)
	return nil
}

func (s *MemoryStore) ListLeadLogs(ctx context.Context, leadID int64) ([]*api.LeadLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*api.LeadLog
	for _, row := range s.leadLogs {
		if row.LeadID == leadID {
			cp := *row
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (s *MemoryStore) GetSetting(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings[key], nil
}

func (s *MemoryStore) SetSetting(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[key] = value
	return nil
}
