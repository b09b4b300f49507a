package api

import (
	"context"
	"errors"
)

// Setting keys the engine resolves through a SettingsStore.
const (
	SettingEmailSignature    = "email_signature"
	SettingDefaultSenderName = "default_sender_name"
)

// SendResult is the outcome reported by an email or SMS channel.
type SendResult struct {
	Success   bool
	MessageID string
	Error     string
}

// Err converts a failed result into an error, or nil on success.
func (r SendResult) Err() error {
	if r.Success {
		return nil
	}
	if r.Error == "" {
		return errors.New("send failed")
	}
	return errors.New(r.Error)
}

// EmailMessage is the payload handed to an EmailChannel.
type EmailMessage struct {
	To      string
	Subject string
	HTML    string
	From    string
	ReplyTo string
}

// Credentials are delegated, per-caller channel credentials (for
// example OAuth tokens for a user's mailbox). They are passed through
// to the channel untouched; refresh is the channel's concern.
type Credentials struct {
	AccessToken  string
	RefreshToken string
}

// EmailChannel sends email. Implementations own rate limiting,
// provider retries and token refresh.
type EmailChannel interface {
	SendEmail(ctx context.Context, msg EmailMessage, creds *Credentials) SendResult
}

// SMSChannel sends text messages. The engine normalizes phone numbers
// before invoking it.
type SMSChannel interface {
	SendSMS(ctx context.Context, to, body string) SendResult
}

// SettingsStore is a key/value lookup for operator-configured values
// such as the email signature and default sender name. A missing key
// returns ("", nil).
type SettingsStore interface {
	GetSetting(ctx context.Context, key string) (string, error)
}

// AuditEntry is one row for the system-wide activity feed.
type AuditEntry struct {
	Category   string
	Action     string
	EntityType string
	EntityID   int64
	EntityName string

	Description string
	Details     map[string]any
}

// Audit categories and actions recorded by the engine.
const (
	AuditCategoryAutomation    = "AUTOMATION"
	AuditCategoryCommunication = "COMMUNICATION"

	AuditWorkflowStarted   = "WORKFLOW_STARTED"
	AuditWorkflowResumed   = "WORKFLOW_RESUMED"
	AuditWorkflowCancelled = "WORKFLOW_CANCELLED"
	AuditDelayStarted      = "DELAY_STARTED"
	AuditEmailSent         = "EMAIL_SENT"
	AuditEmailFailed       = "EMAIL_FAILED"
	AuditSMSSent           = "SMS_SENT"
	AuditSMSFailed         = "SMS_FAILED"
)

// AuditSink records activity entries. Recording is fire-and-forget;
// implementations must swallow their own failures.
type AuditSink interface {
	RecordActivity(ctx context.Context, e AuditEntry)
}

// NoopAuditSink discards all entries. Used when no sink is configured.
type NoopAuditSink struct{}

func (NoopAuditSink) RecordActivity(ctx context.Context, e AuditEntry) {}
