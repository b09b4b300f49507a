package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/leadforge/nurture/internal/persistence"
	"github.com/leadforge/nurture/internal/testutil"
	"github.com/leadforge/nurture/pkg/api"
)

type engineFixture struct {
	engine api.Engine
	store  persistence.Persistence
	email  *testutil.FakeEmailChannel
	sms    *testutil.FakeSMSChannel
	audit  *testutil.RecordingAuditSink
	clock  testutil.FixedClock
}

type engineFactory struct {
	name string
	make func(t *testing.T) *engineFixture
}

func engineFactories() []engineFactory {
	build := func(t *testing.T, p persistence.Persistence) *engineFixture {
		t.Helper()
		f := &engineFixture{
			store: p,
			email: &testutil.FakeEmailChannel{},
			sms:   &testutil.FakeSMSChannel{},
			audit: &testutil.RecordingAuditSink{},
			clock: testutil.FixedClock{T: time.Date(2024, 1, 1, 17, 30, 0, 0, time.UTC)},
		}
		f.engine = New(Config{
			Persistence: p,
			Email:       f.email,
			SMS:         f.sms,
			Audit:       f.audit,
			Clock:       f.clock,
		})
		return f
	}

	return []engineFactory{
		{
			name: "memory",
			make: func(t *testing.T) *engineFixture {
				t.Helper()
				return build(t, persistence.NewMemoryStore().Persistence())
			},
		},
		{
			name: "sqlite",
			make: func(t *testing.T) *engineFixture {
				t.Helper()
				db, err := sql.Open("sqlite", ":memory:")
				if err != nil {
					t.Fatalf("sql.Open failed: %v", err)
				}
				t.Cleanup(func() { _ = db.Close() })
				store, err := persistence.NewSQLiteStore(db)
				if err != nil {
					t.Fatalf("NewSQLiteStore failed: %v", err)
				}
				return build(t, store.Persistence())
			},
		},
	}
}

func (f *engineFixture) seedLead(t *testing.T, lead *api.Lead) *api.Lead {
	t.Helper()
	if lead.CreatedAt.IsZero() {
		// 12:00 local in the business zone, a daytime creation.
		lead.CreatedAt = time.Date(2024, 1, 1, 17, 0, 0, 0, time.UTC)
	}
	if err := f.store.Leads.SaveLead(context.Background(), lead); err != nil {
		t.Fatalf("SaveLead failed: %v", err)
	}
	return lead
}

func (f *engineFixture) seedWorkflow(t *testing.T, steps ...api.Step) *api.Workflow {
	t.Helper()
	wf := &api.Workflow{Name: "Outreach", PipelineStage: "New", Steps: steps}
	if err := f.store.Workflows.SaveWorkflow(context.Background(), wf); err != nil {
		t.Fatalf("SaveWorkflow failed: %v", err)
	}
	return wf
}

func fullLead() *api.Lead {
	return &api.Lead{
		Name:         "Jane Smith",
		Phone:        "(555) 123-4567",
		Email:        "jane@example.com",
		Website:      "https://janes-plumbing.com",
		Status:       "New",
		BusinessType: "Plumbing",
		Quality:      "High",
	}
}

func TestRunWorkflow_CompletesSimpleWorkflow(t *testing.T) {
	for _, factory := range engineFactories() {
		t.Run(factory.name, func(t *testing.T) {
			f := factory.make(t)
			ctx := context.Background()

			lead := f.seedLead(t, fullLead())
			wf := f.seedWorkflow(t,
				api.Step{Order: 1, Type: api.StepEmail, Config: &api.EmailConfig{
					Subject: "Hi {first_name}",
					Body:    "<p>We build sites for {business_type} businesses.</p>",
				}},
				api.Step{Order: 2, Type: api.StepSMS, Config: &api.SMSConfig{
					Body: "Quick follow up, {first_name}",
				}},
			)

			result, err := f.engine.RunWorkflow(ctx, wf.ID, lead.ID, api.RunOptions{})
			if err != nil {
				t.Fatalf("RunWorkflow failed: %v", err)
			}
			if !result.Completed || result.Suspended {
				t.Fatalf("expected completed run, got %+v", result)
			}
			if result.StepsRun != 2 {
				t.Fatalf("expected 2 steps run, got %d", result.StepsRun)
			}

			sent := f.email.Sent()
			if len(sent) != 1 {
				t.Fatalf("expected 1 email, got %d", len(sent))
			}
			if sent[0].Message.Subject != "Hi Jane" {
				t.Fatalf("expected substituted subject, got %q", sent[0].Message.Subject)
			}
			if !strings.Contains(sent[0].Message.HTML, "Plumbing businesses") {
				t.Fatalf("expected substituted body, got %q", sent[0].Message.HTML)
			}

			texts := f.sms.Sent()
			if len(texts) != 1 {
				t.Fatalf("expected 1 sms, got %d", len(texts))
			}
			if texts[0].To != "+15551234567" {
				t.Fatalf("expected normalized phone, got %q", texts[0].To)
			}

			exec, err := f.engine.GetExecution(ctx, result.ExecutionID)
			if err != nil {
				t.Fatalf("GetExecution failed: %v", err)
			}
			if exec.Status != api.ExecutionCompleted {
				t.Fatalf("expected COMPLETED, got %q", exec.Status)
			}
			if exec.CompletedAt == nil {
				t.Fatal("expected CompletedAt to be set")
			}

			logs, err := f.store.Logs.ListExecutionLogs(ctx, result.ExecutionID)
			if err != nil {
				t.Fatalf("ListExecutionLogs failed: %v", err)
			}
			if len(logs) == 0 || logs[0].Message != "Workflow started by SYSTEM" {
				t.Fatalf("expected start log first, got %v", logs)
			}
			if logs[len(logs)-1].Message != "Workflow completed" {
				t.Fatalf("expected completion log last, got %q", logs[len(logs)-1].Message)
			}
		})
	}
}

func TestRunWorkflow_EmailUpdatesAutomationStatus(t *testing.T) {
	for _, factory := range engineFactories() {
		t.Run(factory.name, func(t *testing.T) {
			f := factory.make(t)
			ctx := context.Background()

			lead := f.seedLead(t, fullLead())
			wf := f.seedWorkflow(t,
				api.Step{Order: 1, Type: api.StepEmail, Config: &api.EmailConfig{
					Subject: "Hi {first_name}",
					Body:    "<p>Hello</p>",
				}},
			)

			if _, err := f.engine.RunWorkflow(ctx, wf.ID, lead.ID, api.RunOptions{}); err != nil {
				t.Fatalf("RunWorkflow failed: %v", err)
			}

			got, err := f.store.Leads.GetLead(ctx, lead.ID)
			if err != nil {
				t.Fatalf("GetLead failed: %v", err)
			}
			if got.AutomationStatus != "Email sent: Hi Jane" {
				t.Fatalf("expected automation status after email, got %q", got.AutomationStatus)
			}
		})
	}
}

func TestRunWorkflow_FailedEmailLeavesAutomationStatus(t *testing.T) {
	f := engineFactories()[0].make(t)
	ctx := context.Background()
	f.email.Fail = true
	f.email.Error = "smtp timeout"

	lead := f.seedLead(t, fullLead())
	wf := f.seedWorkflow(t,
		api.Step{Order: 1, Type: api.StepEmail, Config: &api.EmailConfig{Body: "<p>Hello</p>"}},
	)

	if _, err := f.engine.RunWorkflow(ctx, wf.ID, lead.ID, api.RunOptions{}); err == nil {
		t.Fatal("expected the run to fail")
	}

	got, err := f.store.Leads.GetLead(ctx, lead.ID)
	if err != nil {
		t.Fatalf("GetLead failed: %v", err)
	}
	if got.AutomationStatus != "" {
		t.Fatalf("failed run must not touch automation status, got %q", got.AutomationStatus)
	}
}

func TestRunWorkflow_NegativeResumeIndexStartsAtFirstStep(t *testing.T) {
	f := engineFactories()[0].make(t)
	ctx := context.Background()

	lead := f.seedLead(t, fullLead())
	wf := f.seedWorkflow(t,
		api.Step{Order: 1, Type: api.StepEmail, Config: &api.EmailConfig{Body: "<p>Hello</p>"}},
	)

	result, err := f.engine.RunWorkflow(ctx, wf.ID, lead.ID, api.RunOptions{ResumeFromStep: -3})
	if err != nil {
		t.Fatalf("RunWorkflow failed: %v", err)
	}
	if !result.Completed || result.StepsRun != 1 {
		t.Fatalf("expected the full workflow to run, got %+v", result)
	}
	if len(f.email.Sent()) != 1 {
		t.Fatalf("expected 1 email, got %d", len(f.email.Sent()))
	}
}

func TestRunWorkflow_SuspendsAtSmartDelay(t *testing.T) {
	for _, factory := range engineFactories() {
		t.Run(factory.name, func(t *testing.T) {
			f := factory.make(t)
			ctx := context.Background()

			lead := f.seedLead(t, fullLead())
			wf := f.seedWorkflow(t,
				api.Step{Order: 1, Type: api.StepEmail, Config: &api.EmailConfig{Body: "<p>Hello</p>"}},
				api.Step{Order: 2, Type: api.StepDelay, Config: &api.DelayConfig{Mode: api.DelaySmartStage2}},
				api.Step{Order: 3, Type: api.StepSMS, Config: &api.SMSConfig{Body: "Still there?"}},
			)

			result, err := f.engine.RunWorkflow(ctx, wf.ID, lead.ID, api.RunOptions{})
			if err != nil {
				t.Fatalf("RunWorkflow failed: %v", err)
			}
			if !result.Suspended || result.Completed {
				t.Fatalf("expected suspended run, got %+v", result)
			}
			if result.StepsRun != 2 {
				t.Fatalf("expected 2 steps run, got %d", result.StepsRun)
			}

			// Daytime creation: the stage-2 touch lands next day at
			// 14:00 in the business zone.
			wantResume := time.Date(2024, 1, 2, 19, 0, 0, 0, time.UTC)
			if result.ResumeAt == nil || !result.ResumeAt.Equal(wantResume) {
				t.Fatalf("expected resume at %v, got %v", wantResume, result.ResumeAt)
			}

			if len(f.sms.Sent()) != 0 {
				t.Fatalf("expected no sms before resume, got %d", len(f.sms.Sent()))
			}

			got, err := f.store.Leads.GetLead(ctx, lead.ID)
			if err != nil {
				t.Fatalf("GetLead failed: %v", err)
			}
			if got.NextNurtureAt == nil || !got.NextNurtureAt.Equal(wantResume) {
				t.Fatalf("expected checkpoint %v, got %v", wantResume, got.NextNurtureAt)
			}
			if got.NurtureStage != 1 {
				t.Fatalf("expected resume pointer at delay index 1, got %d", got.NurtureStage)
			}

			exec, err := f.engine.GetExecution(ctx, result.ExecutionID)
			if err != nil {
				t.Fatalf("GetExecution failed: %v", err)
			}
			if exec.Status != api.ExecutionActive {
				t.Fatalf("expected suspended execution to stay ACTIVE, got %q", exec.Status)
			}
		})
	}
}

func TestRunWorkflow_FixedDelay(t *testing.T) {
	f := engineFactories()[0].make(t)
	ctx := context.Background()

	lead := f.seedLead(t, fullLead())
	wf := f.seedWorkflow(t,
		api.Step{Order: 1, Type: api.StepDelay, Config: &api.DelayConfig{
			Mode:          api.DelayFixed,
			FixedDuration: 2,
			FixedUnit:     "hours",
		}},
	)

	result, err := f.engine.RunWorkflow(ctx, wf.ID, lead.ID, api.RunOptions{})
	if err != nil {
		t.Fatalf("RunWorkflow failed: %v", err)
	}
	want := f.clock.T.Add(2 * time.Hour)
	if result.ResumeAt == nil || !result.ResumeAt.Equal(want) {
		t.Fatalf("expected resume at %v, got %v", want, result.ResumeAt)
	}
}

func TestRunWorkflow_ResumeCompletesExecution(t *testing.T) {
	for _, factory := range engineFactories() {
		t.Run(factory.name, func(t *testing.T) {
			f := factory.make(t)
			ctx := context.Background()

			lead := f.seedLead(t, fullLead())
			wf := f.seedWorkflow(t,
				api.Step{Order: 1, Type: api.StepEmail, Config: &api.EmailConfig{Body: "<p>Hello</p>"}},
				api.Step{Order: 2, Type: api.StepDelay, Config: &api.DelayConfig{Mode: api.DelaySmartStage2}},
				api.Step{Order: 3, Type: api.StepSMS, Config: &api.SMSConfig{Body: "Still there?"}},
			)

			first, err := f.engine.RunWorkflow(ctx, wf.ID, lead.ID, api.RunOptions{})
			if err != nil {
				t.Fatalf("initial run failed: %v", err)
			}

			second, err := f.engine.RunWorkflow(ctx, wf.ID, lead.ID, api.RunOptions{
				ResumeFromStep:      2,
				ExistingExecutionID: first.ExecutionID,
				TriggeredBy:         "SCHEDULER",
			})
			if err != nil {
				t.Fatalf("resume run failed: %v", err)
			}
			if second.ExecutionID != first.ExecutionID {
				t.Fatalf("expected resume to reuse execution %s, got %s", first.ExecutionID, second.ExecutionID)
			}
			if !second.Completed {
				t.Fatalf("expected resumed run to complete, got %+v", second)
			}
			if len(f.sms.Sent()) != 1 {
				t.Fatalf("expected sms on resume, got %d", len(f.sms.Sent()))
			}

			all, err := f.engine.ListExecutions(ctx, api.ExecutionListOptions{LeadID: lead.ID})
			if err != nil {
				t.Fatalf("ListExecutions failed: %v", err)
			}
			if len(all) != 1 {
				t.Fatalf("expected a single execution, got %d", len(all))
			}
		})
	}
}

func TestRunWorkflow_CancelsExistingActiveExecution(t *testing.T) {
	for _, factory := range engineFactories() {
		t.Run(factory.name, func(t *testing.T) {
			f := factory.make(t)
			ctx := context.Background()

			lead := f.seedLead(t, fullLead())
			wf := f.seedWorkflow(t,
				api.Step{Order: 1, Type: api.StepDelay, Config: &api.DelayConfig{Mode: api.DelaySmartStage2}},
			)

			first, err := f.engine.RunWorkflow(ctx, wf.ID, lead.ID, api.RunOptions{})
			if err != nil {
				t.Fatalf("first run failed: %v", err)
			}

			second, err := f.engine.RunWorkflow(ctx, wf.ID, lead.ID, api.RunOptions{})
			if err != nil {
				t.Fatalf("second run failed: %v", err)
			}
			if second.ExecutionID == first.ExecutionID {
				t.Fatal("expected a fresh execution for the second run")
			}

			old, err := f.engine.GetExecution(ctx, first.ExecutionID)
			if err != nil {
				t.Fatalf("GetExecution failed: %v", err)
			}
			if old.Status != api.ExecutionCancelled {
				t.Fatalf("expected first execution CANCELLED, got %q", old.Status)
			}
			if old.CancelReason != "New workflow started" {
				t.Fatalf("unexpected cancel reason %q", old.CancelReason)
			}
			if old.CancelledAt == nil {
				t.Fatal("expected CancelledAt to be set")
			}

			active, err := f.engine.ListExecutions(ctx, api.ExecutionListOptions{
				LeadID: lead.ID,
				Status: api.ExecutionActive,
			})
			if err != nil {
				t.Fatalf("ListExecutions failed: %v", err)
			}
			if len(active) != 1 || active[0].ID != second.ExecutionID {
				t.Fatalf("expected only the new execution ACTIVE, got %v", active)
			}
		})
	}
}

func TestRunWorkflow_EmailValidationFailure(t *testing.T) {
	for _, factory := range engineFactories() {
		t.Run(factory.name, func(t *testing.T) {
			f := factory.make(t)
			ctx := context.Background()

			lead := fullLead()
			lead.Email = ""
			f.seedLead(t, lead)
			wf := f.seedWorkflow(t,
				api.Step{Order: 1, Type: api.StepEmail, Config: &api.EmailConfig{Body: "<p>Hello</p>"}},
			)

			result, err := f.engine.RunWorkflow(ctx, wf.ID, lead.ID, api.RunOptions{})
			if err == nil {
				t.Fatal("expected a step error")
			}
			stepErr, ok := api.AsStepError(err)
			if !ok {
				t.Fatalf("expected *StepError, got %v", err)
			}
			if stepErr.Kind != api.StepErrorValidation {
				t.Fatalf("expected VALIDATION, got %q", stepErr.Kind)
			}
			if len(f.email.Sent()) != 0 {
				t.Fatal("channel must not be invoked for an unroutable lead")
			}

			exec, getErr := f.engine.GetExecution(ctx, result.ExecutionID)
			if getErr != nil {
				t.Fatalf("GetExecution failed: %v", getErr)
			}
			if exec.Status != api.ExecutionFailed {
				t.Fatalf("expected FAILED, got %q", exec.Status)
			}

			logs, _ := f.store.Logs.ListExecutionLogs(ctx, result.ExecutionID)
			last := logs[len(logs)-1]
			if last.Status != api.LogFailed {
				t.Fatalf("expected FAILED log row, got %q", last.Status)
			}
			if !strings.Contains(last.Message, "step 1 (EMAIL)") {
				t.Fatalf("expected step error message, got %q", last.Message)
			}
		})
	}
}

func TestRunWorkflow_ChannelFailureFailsRun(t *testing.T) {
	f := engineFactories()[0].make(t)
	ctx := context.Background()
	f.sms.Fail = true
	f.sms.Error = "carrier rejected"

	lead := f.seedLead(t, fullLead())
	wf := f.seedWorkflow(t,
		api.Step{Order: 1, Type: api.StepSMS, Config: &api.SMSConfig{Body: "Hello"}},
	)

	_, err := f.engine.RunWorkflow(ctx, wf.ID, lead.ID, api.RunOptions{})
	stepErr, ok := api.AsStepError(err)
	if !ok {
		t.Fatalf("expected *StepError, got %v", err)
	}
	if stepErr.Kind != api.StepErrorExternal {
		t.Fatalf("expected EXTERNAL_SERVICE, got %q", stepErr.Kind)
	}
	if !strings.Contains(stepErr.Error(), "carrier rejected") {
		t.Fatalf("expected cause in message, got %q", stepErr.Error())
	}

	leadLogs, _ := f.store.Logs.ListLeadLogs(ctx, lead.ID)
	if len(leadLogs) != 1 || leadLogs[0].Status != api.DeliveryFailed {
		t.Fatalf("expected one FAILED lead log, got %v", leadLogs)
	}
}

func TestRunWorkflow_TemplateOverridesStepContent(t *testing.T) {
	f := engineFactories()[0].make(t)
	ctx := context.Background()

	tpl := &api.Template{
		Name:    "Welcome",
		Type:    api.MessageEmail,
		Subject: "Welcome, {first_name}",
		Body:    "<p>Thanks for reaching out, {name}.</p>",
	}
	if err := f.store.Workflows.SaveTemplate(ctx, tpl); err != nil {
		t.Fatalf("SaveTemplate failed: %v", err)
	}

	lead := f.seedLead(t, fullLead())
	wf := f.seedWorkflow(t,
		api.Step{Order: 1, Type: api.StepEmail, Config: &api.EmailConfig{
			TemplateID: &tpl.ID,
			Subject:    "ignored",
			Body:       "<p>ignored</p>",
		}},
	)

	if _, err := f.engine.RunWorkflow(ctx, wf.ID, lead.ID, api.RunOptions{}); err != nil {
		t.Fatalf("RunWorkflow failed: %v", err)
	}

	sent := f.email.Sent()
	if len(sent) != 1 {
		t.Fatalf("expected 1 email, got %d", len(sent))
	}
	if sent[0].Message.Subject != "Welcome, Jane" {
		t.Fatalf("expected template subject, got %q", sent[0].Message.Subject)
	}
	if !strings.Contains(sent[0].Message.HTML, "Jane Smith") {
		t.Fatalf("expected template body, got %q", sent[0].Message.HTML)
	}
}

func TestRunWorkflow_MissingTemplateIsConfigurationError(t *testing.T) {
	f := engineFactories()[0].make(t)
	ctx := context.Background()

	missing := int64(999)
	lead := f.seedLead(t, fullLead())
	wf := f.seedWorkflow(t,
		api.Step{Order: 1, Type: api.StepEmail, Config: &api.EmailConfig{TemplateID: &missing}},
	)

	_, err := f.engine.RunWorkflow(ctx, wf.ID, lead.ID, api.RunOptions{})
	stepErr, ok := api.AsStepError(err)
	if !ok {
		t.Fatalf("expected *StepError, got %v", err)
	}
	if stepErr.Kind != api.StepErrorConfiguration {
		t.Fatalf("expected CONFIGURATION, got %q", stepErr.Kind)
	}
	if !errors.Is(err, api.ErrTemplateNotFound) {
		t.Fatalf("expected ErrTemplateNotFound in chain, got %v", err)
	}
}

func TestRunWorkflow_SignatureHandling(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		name    string
		body    string
		include *bool
		want    string
	}{
		{
			name: "token replaced in place",
			body: "<p>Hello</p>{signature}",
			want: "<p>Hello</p><p>Best, Sales</p>",
		},
		{
			name: "appended when no token",
			body: "<p>Hello</p>",
			want: "<p>Hello</p><br/><br/><p>Best, Sales</p>",
		},
		{
			name:    "append suppressed when opted out",
			body:    "<p>Hello</p>",
			include: boolPtr(false),
			want:    "<p>Hello</p>",
		},
		{
			name:    "token replaced even when opted out",
			body:    "<p>Hello</p>{signature}",
			include: boolPtr(false),
			want:    "<p>Hello</p><p>Best, Sales</p>",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := engineFactories()[0].make(t)
			if err := f.store.Settings.SetSetting(ctx, api.SettingEmailSignature, "<p>Best, Sales</p>"); err != nil {
				t.Fatalf("SetSetting failed: %v", err)
			}

			lead := f.seedLead(t, fullLead())
			wf := f.seedWorkflow(t,
				api.Step{Order: 1, Type: api.StepEmail, Config: &api.EmailConfig{
					Body:             tc.body,
					IncludeSignature: tc.include,
				}},
			)

			if _, err := f.engine.RunWorkflow(ctx, wf.ID, lead.ID, api.RunOptions{}); err != nil {
				t.Fatalf("RunWorkflow failed: %v", err)
			}
			sent := f.email.Sent()
			if sent[0].Message.HTML != tc.want {
				t.Fatalf("expected body %q, got %q", tc.want, sent[0].Message.HTML)
			}
		})
	}
}

func TestRunWorkflow_SenderResolution(t *testing.T) {
	ctx := context.Background()

	t.Run("caller identity builds the from header", func(t *testing.T) {
		f := engineFactories()[0].make(t)
		lead := f.seedLead(t, fullLead())
		wf := f.seedWorkflow(t,
			api.Step{Order: 1, Type: api.StepEmail, Config: &api.EmailConfig{Body: "<p>Hello</p>"}},
		)

		_, err := f.engine.RunWorkflow(ctx, wf.ID, lead.ID, api.RunOptions{
			Caller: &api.UserIdentity{Name: "Alex Rivera", Email: "alex@agency.com"},
		})
		if err != nil {
			t.Fatalf("RunWorkflow failed: %v", err)
		}
		sent := f.email.Sent()
		if sent[0].Message.From != `"Alex Rivera" <alex@agency.com>` {
			t.Fatalf("unexpected from header %q", sent[0].Message.From)
		}
		if sent[0].Message.ReplyTo != "alex@agency.com" {
			t.Fatalf("unexpected reply-to %q", sent[0].Message.ReplyTo)
		}
	})

	t.Run("configured default used for automated sends", func(t *testing.T) {
		f := engineFactories()[0].make(t)
		if err := f.store.Settings.SetSetting(ctx, api.SettingDefaultSenderName, "Riverside Web Co"); err != nil {
			t.Fatalf("SetSetting failed: %v", err)
		}
		lead := f.seedLead(t, fullLead())
		wf := f.seedWorkflow(t,
			api.Step{Order: 1, Type: api.StepEmail, Config: &api.EmailConfig{Body: "<p>Hello</p>"}},
		)

		if _, err := f.engine.RunWorkflow(ctx, wf.ID, lead.ID, api.RunOptions{}); err != nil {
			t.Fatalf("RunWorkflow failed: %v", err)
		}
		sent := f.email.Sent()
		if sent[0].Message.From != "Riverside Web Co" {
			t.Fatalf("unexpected from header %q", sent[0].Message.From)
		}
	})
}

func TestRunWorkflow_CompanionSMS(t *testing.T) {
	ctx := context.Background()

	t.Run("sent alongside the email", func(t *testing.T) {
		f := engineFactories()[0].make(t)
		lead := f.seedLead(t, fullLead())
		wf := f.seedWorkflow(t,
			api.Step{Order: 1, Type: api.StepEmail, Config: &api.EmailConfig{
				Body:        "<p>Hello</p>",
				SendSMSAlso: true,
				SMSBody:     "Just emailed you, {first_name}",
			}},
		)

		result, err := f.engine.RunWorkflow(ctx, wf.ID, lead.ID, api.RunOptions{})
		if err != nil {
			t.Fatalf("RunWorkflow failed: %v", err)
		}
		if !result.Completed {
			t.Fatalf("expected completed run, got %+v", result)
		}
		texts := f.sms.Sent()
		if len(texts) != 1 || texts[0].Body != "Just emailed you, Jane" {
			t.Fatalf("unexpected companion sms: %v", texts)
		}
	})

	t.Run("failure does not fail the email step", func(t *testing.T) {
		f := engineFactories()[0].make(t)
		f.sms.Fail = true
		lead := f.seedLead(t, fullLead())
		wf := f.seedWorkflow(t,
			api.Step{Order: 1, Type: api.StepEmail, Config: &api.EmailConfig{
				Body:        "<p>Hello</p>",
				SendSMSAlso: true,
				SMSBody:     "Just emailed you",
			}},
		)

		result, err := f.engine.RunWorkflow(ctx, wf.ID, lead.ID, api.RunOptions{})
		if err != nil {
			t.Fatalf("RunWorkflow failed: %v", err)
		}
		if !result.Completed {
			t.Fatalf("expected completed run despite sms failure, got %+v", result)
		}
	})
}

func TestRunWorkflow_ActionSteps(t *testing.T) {
	ctx := context.Background()

	t.Run("unregistered action is skipped", func(t *testing.T) {
		f := engineFactories()[0].make(t)
		lead := f.seedLead(t, fullLead())
		wf := f.seedWorkflow(t,
			api.Step{Order: 1, Type: api.StepAction, Config: &api.ActionConfig{Name: "tag-lead"}},
		)

		result, err := f.engine.RunWorkflow(ctx, wf.ID, lead.ID, api.RunOptions{})
		if err != nil {
			t.Fatalf("RunWorkflow failed: %v", err)
		}
		if !result.Completed {
			t.Fatalf("expected completed run, got %+v", result)
		}

		logs, _ := f.store.Logs.ListExecutionLogs(ctx, result.ExecutionID)
		found := false
		for _, row := range logs {
			if row.Status == api.LogInfo && strings.Contains(row.Message, `Action "tag-lead" skipped`) {
				found = true
			}
		}
		if !found {
			t.Fatalf("expected skip log row, got %v", logs)
		}
	})

	t.Run("registered handler runs", func(t *testing.T) {
		f := engineFactories()[0].make(t)
		var gotLead int64
		if err := f.engine.RegisterActionHandler("tag-lead", func(ctx context.Context, lead *api.Lead, params json.RawMessage) error {
			gotLead = lead.ID
			return nil
		}); err != nil {
			t.Fatalf("RegisterActionHandler failed: %v", err)
		}

		lead := f.seedLead(t, fullLead())
		wf := f.seedWorkflow(t,
			api.Step{Order: 1, Type: api.StepAction, Config: &api.ActionConfig{Name: "tag-lead"}},
		)

		if _, err := f.engine.RunWorkflow(ctx, wf.ID, lead.ID, api.RunOptions{}); err != nil {
			t.Fatalf("RunWorkflow failed: %v", err)
		}
		if gotLead != lead.ID {
			t.Fatalf("expected handler to see lead %d, got %d", lead.ID, gotLead)
		}
	})

	t.Run("duplicate registration rejected", func(t *testing.T) {
		f := engineFactories()[0].make(t)
		noop := func(ctx context.Context, lead *api.Lead, params json.RawMessage) error { return nil }
		if err := f.engine.RegisterActionHandler("x", noop); err != nil {
			t.Fatalf("first registration failed: %v", err)
		}
		if err := f.engine.RegisterActionHandler("x", noop); err == nil {
			t.Fatal("expected duplicate registration to fail")
		}
	})
}

func TestRunWorkflow_NotFound(t *testing.T) {
	f := engineFactories()[0].make(t)
	ctx := context.Background()

	lead := f.seedLead(t, fullLead())
	wf := f.seedWorkflow(t,
		api.Step{Order: 1, Type: api.StepEmail, Config: &api.EmailConfig{Body: "<p>Hello</p>"}},
	)

	if _, err := f.engine.RunWorkflow(ctx, wf.ID, 999, api.RunOptions{}); !errors.Is(err, api.ErrLeadNotFound) {
		t.Fatalf("expected ErrLeadNotFound, got %v", err)
	}
	if _, err := f.engine.RunWorkflow(ctx, 999, lead.ID, api.RunOptions{}); !errors.Is(err, api.ErrWorkflowNotFound) {
		t.Fatalf("expected ErrWorkflowNotFound, got %v", err)
	}

	// Failed lookups must leave no trace.
	execs, err := f.engine.ListExecutions(ctx, api.ExecutionListOptions{})
	if err != nil {
		t.Fatalf("ListExecutions failed: %v", err)
	}
	if len(execs) != 0 {
		t.Fatalf("expected no executions, got %d", len(execs))
	}
}

func TestStopAutomation(t *testing.T) {
	for _, factory := range engineFactories() {
		t.Run(factory.name, func(t *testing.T) {
			f := factory.make(t)
			ctx := context.Background()

			lead := f.seedLead(t, fullLead())
			wf := f.seedWorkflow(t,
				api.Step{Order: 1, Type: api.StepDelay, Config: &api.DelayConfig{Mode: api.DelaySmartStage2}},
			)

			result, err := f.engine.RunWorkflow(ctx, wf.ID, lead.ID, api.RunOptions{})
			if err != nil {
				t.Fatalf("RunWorkflow failed: %v", err)
			}

			if err := f.engine.StopAutomation(ctx, lead.ID, "Lead replied"); err != nil {
				t.Fatalf("StopAutomation failed: %v", err)
			}

			exec, err := f.engine.GetExecution(ctx, result.ExecutionID)
			if err != nil {
				t.Fatalf("GetExecution failed: %v", err)
			}
			if exec.Status != api.ExecutionCancelled || exec.CancelReason != "Lead replied" {
				t.Fatalf("expected cancelled execution, got %+v", exec)
			}

			got, err := f.store.Leads.GetLead(ctx, lead.ID)
			if err != nil {
				t.Fatalf("GetLead failed: %v", err)
			}
			if got.NextNurtureAt != nil {
				t.Fatalf("expected cleared checkpoint, got %v", got.NextNurtureAt)
			}
			if got.AutomationStatus != "Stopped" {
				t.Fatalf("expected AutomationStatus Stopped, got %q", got.AutomationStatus)
			}
		})
	}
}

func boolPtr(b bool) *bool { return &b }
