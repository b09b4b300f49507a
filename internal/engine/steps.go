package engine

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/leadforge/nurture/pkg/api"
	"github.com/leadforge/nurture/pkg/schedule"
	"github.com/leadforge/nurture/pkg/template"
)

// stepOutcome is the success result of a step executor. A suspended
// outcome halts the step loop and leaves the execution ACTIVE.
type stepOutcome struct {
	suspended bool
	resumeAt  time.Time
}

// runContext carries the per-invocation state step executors need.
type runContext struct {
	exec *api.Execution
	lead *api.Lead
	opts api.RunOptions
}

var signatureToken = regexp.MustCompile(`(?i)\{signature\}`)

func (e *engineImpl) executeStep(ctx context.Context, rc *runContext, step api.Step, stepIndex int) (stepOutcome, error) {
	fail := func(kind api.StepErrorKind, err error) (stepOutcome, error) {
		return stepOutcome{}, &api.StepError{
			StepID:    step.ID,
			StepIndex: stepIndex,
			StepType:  step.Type,
			Kind:      kind,
			Err:       err,
		}
	}

	switch cfg := step.Config.(type) {
	case *api.EmailConfig:
		return e.executeEmail(ctx, rc, step, cfg, fail)
	case *api.SMSConfig:
		return e.executeSMS(ctx, rc, step, cfg, fail)
	case *api.DelayConfig:
		return e.executeDelay(ctx, rc, step, stepIndex, cfg, fail)
	case *api.ActionConfig:
		return e.executeAction(ctx, rc, step, cfg, fail)
	default:
		return fail(api.StepErrorConfiguration, fmt.Errorf("step type %q has no executor", step.Type))
	}
}

type failFunc func(kind api.StepErrorKind, err error) (stepOutcome, error)

func (e *engineImpl) executeEmail(ctx context.Context, rc *runContext, step api.Step, cfg *api.EmailConfig, fail failFunc) (stepOutcome, error) {
	lead := rc.lead

	recipient := strings.TrimSpace(lead.Email)
	if len(recipient) < 5 {
		return fail(api.StepErrorValidation, fmt.Errorf("lead %d has no usable email address", lead.ID))
	}

	subject := cfg.Subject
	body := cfg.Body
	if cfg.TemplateID != nil {
		tpl, err := e.persistence.Workflows.GetTemplate(ctx, *cfg.TemplateID)
		if err != nil {
			if errors.Is(err, api.ErrTemplateNotFound) {
				return fail(api.StepErrorConfiguration, fmt.Errorf("email template %d: %w", *cfg.TemplateID, err))
			}
			return fail(api.StepErrorExternal, err)
		}
		subject = tpl.Subject
		body = tpl.Body
	}

	fields := leadFields(lead)
	subject = template.Substitute(subject, fields)
	body = template.Substitute(body, fields)
	body = e.applySignature(ctx, body, cfg.IncludeSignature)

	senderName := e.resolveSenderName(ctx, cfg.SenderName, rc.opts.Caller)
	from := senderName
	if rc.opts.Caller != nil && rc.opts.Caller.Email != "" {
		from = fmt.Sprintf("%q <%s>", senderName, rc.opts.Caller.Email)
	}
	replyTo := cfg.ReplyTo
	if replyTo == "" && rc.opts.Caller != nil {
		replyTo = rc.opts.Caller.Email
	}

	result := e.email.SendEmail(ctx, api.EmailMessage{
		To:      recipient,
		Subject: subject,
		HTML:    body,
		From:    from,
		ReplyTo: replyTo,
	}, rc.opts.Credentials)

	if err := result.Err(); err != nil {
		e.appendLeadLog(ctx, lead, api.MessageEmail, api.DeliveryFailed, subject, body)
		e.audit.RecordActivity(ctx, api.AuditEntry{
			Category:    api.AuditCategoryCommunication,
			Action:      api.AuditEmailFailed,
			EntityType:  "lead",
			EntityID:    lead.ID,
			EntityName:  lead.Name,
			Description: fmt.Sprintf("Email to %s failed: %v", recipient, err),
		})
		return fail(api.StepErrorExternal, fmt.Errorf("email to %s: %w", recipient, err))
	}

	// The label records the last successful outreach; failed runs leave
	// it untouched.
	status := fmt.Sprintf("Email sent: %s", subject)
	if err := e.persistence.Leads.SetAutomationStatus(ctx, lead.ID, status); err == nil {
		lead.AutomationStatus = status
	}

	e.appendLeadLog(ctx, lead, api.MessageEmail, api.DeliverySent, subject, body)
	e.audit.RecordActivity(ctx, api.AuditEntry{
		Category:    api.AuditCategoryCommunication,
		Action:      api.AuditEmailSent,
		EntityType:  "lead",
		EntityID:    lead.ID,
		EntityName:  lead.Name,
		Description: fmt.Sprintf("Email %q sent to %s", subject, recipient),
	})
	e.appendExecutionLog(ctx, rc.exec.ID, &step.ID, api.LogSuccess,
		fmt.Sprintf("Email %q sent to %s", subject, recipient))

	// The companion SMS is best-effort; its failure is recorded but
	// never fails an email step that already went out.
	if cfg.SendSMSAlso && strings.TrimSpace(cfg.SMSBody) != "" {
		e.sendCompanionSMS(ctx, rc, step, cfg.SMSBody)
	}

	return stepOutcome{}, nil
}

func (e *engineImpl) sendCompanionSMS(ctx context.Context, rc *runContext, step api.Step, rawBody string) {
	lead := rc.lead
	phone, ok := normalizePhone(lead.Phone)
	if !ok {
		e.appendExecutionLog(ctx, rc.exec.ID, &step.ID, api.LogInfo,
			"Companion SMS skipped: lead has no phone number")
		return
	}

	body := template.Substitute(rawBody, leadFields(lead))
	result := e.sms.SendSMS(ctx, phone, body)
	if err := result.Err(); err != nil {
		e.appendLeadLog(ctx, lead, api.MessageSMS, api.DeliveryFailed, "", body)
		e.appendExecutionLog(ctx, rc.exec.ID, &step.ID, api.LogFailed,
			fmt.Sprintf("Companion SMS to %s failed: %v", phone, err))
		return
	}

	e.appendLeadLog(ctx, lead, api.MessageSMS, api.DeliverySent, "", body)
	e.audit.RecordActivity(ctx, api.AuditEntry{
		Category:    api.AuditCategoryCommunication,
		Action:      api.AuditSMSSent,
		EntityType:  "lead",
		EntityID:    lead.ID,
		EntityName:  lead.Name,
		Description: fmt.Sprintf("Companion SMS sent to %s", phone),
	})
}

func (e *engineImpl) executeSMS(ctx context.Context, rc *runContext, step api.Step, cfg *api.SMSConfig, fail failFunc) (stepOutcome, error) {
	lead := rc.lead

	phone, ok := normalizePhone(lead.Phone)
	if !ok {
		return fail(api.StepErrorValidation, fmt.Errorf("lead %d has no usable phone number", lead.ID))
	}

	body := cfg.Body
	if cfg.TemplateID != nil {
		tpl, err := e.persistence.Workflows.GetTemplate(ctx, *cfg.TemplateID)
		if err != nil {
			if errors.Is(err, api.ErrTemplateNotFound) {
				return fail(api.StepErrorConfiguration, fmt.Errorf("sms template %d: %w", *cfg.TemplateID, err))
			}
			return fail(api.StepErrorExternal, err)
		}
		body = tpl.Body
	}
	body = template.Substitute(body, leadFields(lead))

	result := e.sms.SendSMS(ctx, phone, body)
	if err := result.Err(); err != nil {
		e.appendLeadLog(ctx, lead, api.MessageSMS, api.DeliveryFailed, "", body)
		e.audit.RecordActivity(ctx, api.AuditEntry{
			Category:    api.AuditCategoryCommunication,
			Action:      api.AuditSMSFailed,
			EntityType:  "lead",
			EntityID:    lead.ID,
			EntityName:  lead.Name,
			Description: fmt.Sprintf("SMS to %s failed: %v", phone, err),
		})
		return fail(api.StepErrorExternal, fmt.Errorf("sms to %s: %w", phone, err))
	}

	e.appendLeadLog(ctx, lead, api.MessageSMS, api.DeliverySent, "", body)
	e.audit.RecordActivity(ctx, api.AuditEntry{
		Category:    api.AuditCategoryCommunication,
		Action:      api.AuditSMSSent,
		EntityType:  "lead",
		EntityID:    lead.ID,
		EntityName:  lead.Name,
		Description: fmt.Sprintf("SMS sent to %s", phone),
	})
	e.appendExecutionLog(ctx, rc.exec.ID, &step.ID, api.LogSuccess,
		fmt.Sprintf("SMS sent to %s", phone))

	return stepOutcome{}, nil
}

func (e *engineImpl) executeDelay(ctx context.Context, rc *runContext, step api.Step, stepIndex int, cfg *api.DelayConfig, fail failFunc) (stepOutcome, error) {
	now := e.clock.Now()

	var resumeAt time.Time
	if target := cfg.TargetStage(); target > 0 {
		prior := target - 1
		if prior < 1 {
			prior = 1
		}
		if next := schedule.NextNurture(rc.lead.CreatedAt, prior, now); next != nil {
			resumeAt = next.At
		}
	}
	if resumeAt.IsZero() {
		resumeAt = now.Add(fixedDelay(cfg))
	}

	// The nurture stage doubles as the resume pointer: the scheduler
	// restarts the run at the step after the one recorded here.
	if err := e.persistence.Leads.SetCheckpoint(ctx, rc.lead.ID, &resumeAt, stepIndex); err != nil {
		return fail(api.StepErrorExternal, fmt.Errorf("checkpoint lead %d: %w", rc.lead.ID, err))
	}
	rc.lead.NextNurtureAt = &resumeAt
	rc.lead.NurtureStage = stepIndex

	e.appendExecutionLog(ctx, rc.exec.ID, &step.ID, api.LogInfo,
		fmt.Sprintf("Waiting until %s", resumeAt.UTC().Format(time.RFC3339)))
	e.audit.RecordActivity(ctx, api.AuditEntry{
		Category:    api.AuditCategoryAutomation,
		Action:      api.AuditDelayStarted,
		EntityType:  "lead",
		EntityID:    rc.lead.ID,
		EntityName:  rc.lead.Name,
		Description: fmt.Sprintf("Workflow paused until %s", resumeAt.UTC().Format(time.RFC3339)),
	})

	return stepOutcome{suspended: true, resumeAt: resumeAt}, nil
}

func (e *engineImpl) executeAction(ctx context.Context, rc *runContext, step api.Step, cfg *api.ActionConfig, fail failFunc) (stepOutcome, error) {
	e.mu.RLock()
	handler := e.actions[cfg.Name]
	e.mu.RUnlock()

	if handler == nil {
		e.appendExecutionLog(ctx, rc.exec.ID, &step.ID, api.LogInfo,
			fmt.Sprintf("Action %q skipped: no handler registered", cfg.Name))
		return stepOutcome{}, nil
	}

	if err := handler(ctx, rc.lead, cfg.Params); err != nil {
		return fail(api.StepErrorExternal, fmt.Errorf("action %q: %w", cfg.Name, err))
	}
	e.appendExecutionLog(ctx, rc.exec.ID, &step.ID, api.LogSuccess,
		fmt.Sprintf("Action %q completed", cfg.Name))
	return stepOutcome{}, nil
}

// applySignature resolves the configured email signature into body.
// An explicit {signature} token is always replaced in place; the
// include flag only gates appending when no token is present.
func (e *engineImpl) applySignature(ctx context.Context, body string, include *bool) string {
	sig, err := e.settings.GetSetting(ctx, api.SettingEmailSignature)
	if err != nil {
		sig = ""
	}
	if signatureToken.MatchString(body) {
		return signatureToken.ReplaceAllString(body, sig)
	}
	if include != nil && !*include {
		return body
	}
	if sig == "" {
		return body
	}
	return body + "<br/><br/>" + sig
}

// resolveSenderName picks the display name for outgoing email:
// step config, then the caller's name, then the configured default,
// then a generic fallback.
func (e *engineImpl) resolveSenderName(ctx context.Context, configured string, caller *api.UserIdentity) string {
	if configured != "" {
		return configured
	}
	if caller != nil && caller.Name != "" {
		return caller.Name
	}
	if name, err := e.settings.GetSetting(ctx, api.SettingDefaultSenderName); err == nil && name != "" {
		return name
	}
	return "Sales Team"
}

func leadFields(lead *api.Lead) template.Fields {
	return template.Fields{
		Name:         lead.Name,
		Phone:        lead.Phone,
		Email:        lead.Email,
		Website:      lead.Website,
		Status:       lead.Status,
		Stage:        strconv.Itoa(lead.NurtureStage),
		BusinessType: lead.BusinessType,
		Quality:      lead.Quality,
	}
}

// normalizePhone strips formatting and applies a +1 country code
// default. It reports false when no digits remain.
func normalizePhone(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	hasPlus := strings.HasPrefix(raw, "+")

	var digits strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	if digits.Len() == 0 {
		return "", false
	}
	if hasPlus {
		return "+" + digits.String(), true
	}
	return "+1" + digits.String(), true
}

func fixedDelay(cfg *api.DelayConfig) time.Duration {
	n := cfg.FixedDuration
	if n <= 0 {
		n = 1
	}
	switch strings.ToLower(cfg.FixedUnit) {
	case "minutes":
		return time.Duration(n) * time.Minute
	case "days":
		return time.Duration(n) * 24 * time.Hour
	default:
		return time.Duration(n) * time.Hour
	}
}
