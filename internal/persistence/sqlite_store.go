package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/leadforge/nurture/pkg/api"
)

// SQLiteStore implements every store interface on top of SQLite.
//
// It expects an *sql.DB that uses a SQLite driver (for example,
// "modernc.org/sqlite"). The caller is responsible for importing the
// driver, e.g.:
//
//	import _ "modernc.org/sqlite"
type SQLiteStore struct {
	db *sql.DB
}

// Ensure SQLiteStore implements the store interfaces.
var (
	_ LeadStore      = (*SQLiteStore)(nil)
	_ WorkflowStore  = (*SQLiteStore)(nil)
	_ ExecutionStore = (*SQLiteStore)(nil)
	_ LogStore       = (*SQLiteStore)(nil)
	_ SettingsStore  = (*SQLiteStore)(nil)
)

// NewSQLiteStore initializes the required schema in the given database
// and returns a new SQLiteStore.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

// Persistence returns the store bundled for engine construction.
func (s *SQLiteStore) Persistence() Persistence {
	return Persistence{
		Leads:      s,
		Workflows:  s,
		Executions: s,
		Logs:       s,
		Settings:   s,
	}
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS leads (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			phone TEXT NOT NULL DEFAULT '',
			email TEXT NOT NULL DEFAULT '',
			website TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT '',
			sub_status TEXT NOT NULL DEFAULT '',
			business_type TEXT NOT NULL DEFAULT '',
			quality TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			nurture_stage INTEGER NOT NULL DEFAULT 0,
			next_nurture_at TEXT,
			automation_status TEXT NOT NULL DEFAULT ''
		);

		CREATE TABLE IF NOT EXISTS workflows (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			pipeline_stage TEXT NOT NULL DEFAULT ''
		);

		CREATE TABLE IF NOT EXISTS workflow_steps (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			workflow_id INTEGER NOT NULL REFERENCES workflows(id),
			step_order INTEGER NOT NULL,
			step_type TEXT NOT NULL,
			config TEXT NOT NULL DEFAULT '{}'
		);

		CREATE TABLE IF NOT EXISTS templates (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			message_type TEXT NOT NULL,
			subject TEXT NOT NULL DEFAULT '',
			body TEXT NOT NULL DEFAULT ''
		);

		CREATE TABLE IF NOT EXISTS executions (
			id TEXT PRIMARY KEY,
			workflow_id INTEGER NOT NULL,
			lead_id INTEGER NOT NULL,
			status TEXT NOT NULL,
			start_date TEXT NOT NULL,
			cancel_reason TEXT NOT NULL DEFAULT '',
			cancelled_at TEXT,
			completed_at TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_executions_lead_status
			ON executions(lead_id, status);

		CREATE TABLE IF NOT EXISTS execution_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			execution_id TEXT NOT NULL,
			step_id INTEGER,
			status TEXT NOT NULL,
			message TEXT NOT NULL,
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_execution_logs_execution
			ON execution_logs(execution_id);

		CREATE TABLE IF NOT EXISTS lead_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			lead_id INTEGER NOT NULL,
			message_type TEXT NOT NULL,
			status TEXT NOT NULL,
			stage TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_lead_logs_lead
			ON lead_logs(lead_id);

		CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
	)
	return err
}

const timeLayout = time.RFC3339Nano

func encodeTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func decodeTime(s string) (time.Time, error) { return time.Parse(timeLayout, s) }

func encodeNullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return encodeTime(*t)
}

func decodeNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := decodeTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *SQLiteStore) SaveLead(ctx context.Context, lead *api.Lead) error {
	if lead.ID == 0 {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO leads (name, phone, email, website, status, sub_status,
				business_type, quality, created_at, nurture_stage, next_nurture_at, automation_status)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			lead.Name, lead.Phone, lead.Email, lead.Website, lead.Status, lead.SubStatus,
			lead.BusinessType, lead.Quality, encodeTime(lead.CreatedAt),
			lead.NurtureStage, encodeNullTime(lead.NextNurtureAt), lead.AutomationStatus,
		)
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		lead.ID = id
		return nil
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO leads (id, name, phone, email, website, status, sub_status,
			business_type, quality, created_at, nurture_stage, next_nurture_at, automation_status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		lead.ID, lead.Name, lead.Phone, lead.Email, lead.Website, lead.Status, lead.SubStatus,
		lead.BusinessType, lead.Quality, encodeTime(lead.CreatedAt),
		lead.NurtureStage, encodeNullTime(lead.NextNurtureAt), lead.AutomationStatus,
	)
	return err
}

func (s *SQLiteStore) GetLead(ctx context.Context, id int64) (*api.Lead, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, phone, email, website, status, sub_status,
			business_type, quality, created_at, nurture_stage, next_nurture_at, automation_status
		FROM leads WHERE id = ?`, id)
	return scanLead(row)
}

func scanLead(row *sql.Row) (*api.Lead, error) {
	var (
		lead      api.Lead
		createdAt string
		nextAt    sql.NullString
	)
	err := row.Scan(&lead.ID, &lead.Name, &lead.Phone, &lead.Email, &lead.Website,
		&lead.Status, &lead.SubStatus, &lead.BusinessType, &lead.Quality,
		&createdAt, &lead.NurtureStage, &nextAt, &lead.AutomationStatus)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, api.ErrLeadNotFound
	}
	if err != nil {
		return nil, err
	}
	if lead.CreatedAt, err = decodeTime(createdAt); err != nil {
		return nil, fmt.Errorf("lead %d created_at: %w", lead.ID, err)
	}
	if lead.NextNurtureAt, err = decodeNullTime(nextAt); err != nil {
		return nil, fmt.Errorf("lead %d next_nurture_at: %w", lead.ID, err)
	}
	return &lead, nil
}

func (s *SQLiteStore) UpdateLead(ctx context.Context, lead *api.Lead) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE leads SET name = ?, phone = ?, email = ?, website = ?, status = ?,
			sub_status = ?, business_type = ?, quality = ?, created_at = ?,
			nurture_stage = ?, next_nurture_at = ?, automation_status = ?
		WHERE id = ?`,
		lead.Name, lead.Phone, lead.Email, lead.Website, lead.Status,
		lead.SubStatus, lead.BusinessType, lead.Quality, encodeTime(lead.CreatedAt),
		lead.NurtureStage, encodeNullTime(lead.NextNurtureAt), lead.AutomationStatus,
		lead.ID,
	)
	if err != nil {
		return err
	}
	return requireRow(res, api.ErrLeadNotFound)
}

func (s *SQLiteStore) SetCheckpoint(ctx context.Context, leadID int64, nextNurtureAt *time.Time, nurtureStage int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE leads SET next_nurture_at = ?, nurture_stage = ? WHERE id = ?`,
		encodeNullTime(nextNurtureAt), nurtureStage, leadID,
	)
	if err != nil {
		return err
	}
	return requireRow(res, api.ErrLeadNotFound)
}

func (s *SQLiteStore) SetAutomationStatus(ctx context.Context, leadID int64, status string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE leads SET automation_status = ? WHERE id = ?`, status, leadID)
	if err != nil {
		return err
	}
	return requireRow(res, api.ErrLeadNotFound)
}

func (s *SQLiteStore) SaveWorkflow(ctx context.Context, wf *api.Workflow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if wf.ID == 0 {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO workflows (name, pipeline_stage) VALUES (?, ?)`,
			wf.Name, wf.PipelineStage)
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		wf.ID = id
	} else {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO workflows (id, name, pipeline_stage) VALUES (?, ?, ?)`,
			wf.ID, wf.Name, wf.PipelineStage); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM workflow_steps WHERE workflow_id = ?`, wf.ID); err != nil {
			return err
		}
	}

	for i := range wf.Steps {
		step := &wf.Steps[i]
		cfg, err := api.EncodeStepConfig(step.Config)
		if err != nil {
			return fmt.Errorf("encode step %d config: %w", step.Order, err)
		}
		if step.ID == 0 {
			res, err := tx.ExecContext(ctx, `
				INSERT INTO workflow_steps (workflow_id, step_order, step_type, config)
				VALUES (?, ?, ?, ?)`,
				wf.ID, step.Order, string(step.Type), string(cfg))
			if err != nil {
				return err
			}
			id, err := res.LastInsertId()
			if err != nil {
				return err
			}
			step.ID = id
		} else {
			if _, err := tx.ExecContext(ctx, `
				INSERT OR REPLACE INTO workflow_steps (id, workflow_id, step_order, step_type, config)
				VALUES (?, ?, ?, ?, ?)`,
				step.ID, wf.ID, step.Order, string(step.Type), string(cfg)); err != nil {
				return err
			}
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) GetWorkflow(ctx context.Context, id int64) (*api.Workflow, error) {
	var wf api.Workflow
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, pipeline_stage FROM workflows WHERE id = ?`, id).
		Scan(&wf.ID, &wf.Name, &wf.PipelineStage)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, api.ErrWorkflowNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, step_order, step_type, config
		FROM workflow_steps WHERE workflow_id = ? ORDER BY step_order ASC`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			step     api.Step
			stepType string
			cfg      string
		)
		if err := rows.Scan(&step.ID, &step.Order, &stepType, &cfg); err != nil {
			return nil, err
		}
		step.Type = api.StepType(stepType)
		if step.Config, err = api.DecodeStepConfig(step.Type, []byte(cfg)); err != nil {
			return nil, fmt.Errorf("workflow %d step %d: %w", id, step.Order, err)
		}
		wf.Steps = append(wf.Steps, step)
	}
	return &wf, rows.Err()
}

func (s *SQLiteStore) SaveTemplate(ctx context.Context, tpl *api.Template) error {
	if tpl.ID == 0 {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO templates (name, message_type, subject, body)
			VALUES (?, ?, ?, ?)`,
			tpl.Name, string(tpl.Type), tpl.Subject, tpl.Body)
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		tpl.ID = id
		return nil
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO templates (id, name, message_type, subject, body)
		VALUES (?, ?, ?, ?, ?)`,
		tpl.ID, tpl.Name, string(tpl.Type), tpl.Subject, tpl.Body)
	return err
}

func (s *SQLiteStore) GetTemplate(ctx context.Context, id int64) (*api.Template, error) {
	var (
		tpl api.Template
		mt  string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, message_type, subject, body FROM templates WHERE id = ?`, id).
		Scan(&tpl.ID, &tpl.Name, &mt, &tpl.Subject, &tpl.Body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, api.ErrTemplateNotFound
	}
	if err != nil {
		return nil, err
	}
	tpl.Type = api.MessageType(mt)
	return &tpl, nil
}

func (s *SQLiteStore) SaveExecution(ctx context.Context, exec *api.Execution) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO executions (id, workflow_id, lead_id, status, start_date,
			cancel_reason, cancelled_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		exec.ID, exec.WorkflowID, exec.LeadID, string(exec.Status),
		encodeTime(exec.StartDate), exec.CancelReason,
		encodeNullTime(exec.CancelledAt), encodeNullTime(exec.CompletedAt),
	)
	return err
}

func (s *SQLiteStore) UpdateExecution(ctx context.Context, exec *api.Execution) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE executions SET workflow_id = ?, lead_id = ?, status = ?, start_date = ?,
			cancel_reason = ?, cancelled_at = ?, completed_at = ?
		WHERE id = ?`,
		exec.WorkflowID, exec.LeadID, string(exec.Status), encodeTime(exec.StartDate),
		exec.CancelReason, encodeNullTime(exec.CancelledAt), encodeNullTime(exec.CompletedAt),
		exec.ID,
	)
	if err != nil {
		return err
	}
	return requireRow(res, api.ErrExecutionNotFound)
}

func (s *SQLiteStore) GetExecution(ctx context.Context, id string) (*api.Execution, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, workflow_id, lead_id, status, start_date, cancel_reason, cancelled_at, completed_at
		FROM executions WHERE id = ?`, id)

	exec, err := scanExecution(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, api.ErrExecutionNotFound
	}
	return exec, err
}

func scanExecution(scan func(dest ...any) error) (*api.Execution, error) {
	var (
		exec        api.Execution
		status      string
		startDate   string
		cancelledAt sql.NullString
		completedAt sql.NullString
	)
	err := scan(&exec.ID, &exec.WorkflowID, &exec.LeadID, &status, &startDate,
		&exec.CancelReason, &cancelledAt, &completedAt)
	if err != nil {
		return nil, err
	}
	exec.Status = api.ExecutionStatus(status)
	if exec.StartDate, err = decodeTime(startDate); err != nil {
		return nil, fmt.Errorf("execution %s start_date: %w", exec.ID, err)
	}
	if exec.CancelledAt, err = decodeNullTime(cancelledAt); err != nil {
		return nil, fmt.Errorf("execution %s cancelled_at: %w", exec.ID, err)
	}
	if exec.CompletedAt, err = decodeNullTime(completedAt); err != nil {
		return nil, fmt.Errorf("execution %s completed_at: %w", exec.ID, err)
	}
	return &exec, nil
}

func (s *SQLiteStore) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*api.Execution, error) {
	query := `
		SELECT id, workflow_id, lead_id, status, start_date, cancel_reason, cancelled_at, completed_at
		FROM executions WHERE 1=1`
	var args []any

	if filter.LeadID != 0 {
		query += " AND lead_id = ?"
		args = append(args, filter.LeadID)
	}
	if filter.WorkflowID != 0 {
		query += " AND workflow_id = ?"
		args = append(args, filter.WorkflowID)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	query += " ORDER BY start_date ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*api.Execution
	for rows.Next() {
		exec, err := scanExecution(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, exec)
	}
	return result, rows.Err()
}

func (s *SQLiteStore) AppendExecutionLog(ctx context.Context, row *api.ExecutionLog) error {
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now()
	}
	var stepID any
	if row.StepID != nil {
		stepID = *row.StepID
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO execution_logs (execution_id, step_id, status, message, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		row.ExecutionID, stepID, string(row.Status), row.Message, encodeTime(row.CreatedAt))
	if err != nil {
		return err
	}
	row.ID, err = res.LastInsertId()
	return err
}

func (s *SQLiteStore) ListExecutionLogs(ctx context.Context, executionID string) ([]*api.ExecutionLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, execution_id, step_id, status, message, created_at
		FROM execution_logs WHERE execution_id = ? ORDER BY id ASC`, executionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*api.ExecutionLog
	for rows.Next() {
		var (
			row       api.ExecutionLog
			stepID    sql.NullInt64
			status    string
			createdAt string
		)
		if err := rows.Scan(&row.ID, &row.ExecutionID, &stepID, &status, &row.Message, &createdAt); err != nil {
			return nil, err
		}
		if stepID.Valid {
			row.StepID = &stepID.Int64
		}
		row.Status = api.LogStatus(status)
		if row.CreatedAt, err = decodeTime(createdAt); err != nil {
			return nil, err
		}
		result = append(result, &row)
	}
	return result, rows.Err()
}

func (s *SQLiteStore) AppendLeadLog(ctx context.Context, row *api.LeadLog) error {
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO lead_logs (lead_id, message_type, status, stage, title, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		row.LeadID, string(row.Type), string(row.Status), row.Stage, row.Title, row.Content,
		encodeTime(row.CreatedAt))
	if err != nil {
		return err
	}
	row.ID, err = res.LastInsertId()
	return err
}

func (s *SQLiteStore) ListLeadLogs(ctx context.Context, leadID int64) ([]*api.LeadLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, lead_id, message_type, status, stage, title, content, created_at
		FROM lead_logs WHERE lead_id = ? ORDER BY id ASC`, leadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*api.LeadLog
	for rows.Next() {
		var (
			row       api.LeadLog
			mt        string
			status    string
			createdAt string
		)
		if err := rows.Scan(&row.ID, &row.LeadID, &mt, &status, &row.Stage, &row.Title, &row.Content, &createdAt); err != nil {
			return nil, err
		}
		row.Type = api.MessageType(mt)
		row.Status = api.DeliveryStatus(status)
		if row.CreatedAt, err = decodeTime(createdAt); err != nil {
			return nil, err
		}
		result = append(result, &row)
	}
	return result, rows.Err()
}

func (s *SQLiteStore) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

func (s *SQLiteStore) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

func requireRow(res sql.Result, missing error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return missing
	}
	return nil
}
