package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/leadforge/nurture/pkg/api"
)

// FakeEmailChannel records every send and answers with a scripted
// result. The zero value reports success for all sends.
type FakeEmailChannel struct {
	mu    sync.Mutex
	sent  []SentEmail
	Fail  bool
	Error string
}

type SentEmail struct {
	Message api.EmailMessage
	Creds   *api.Credentials
}

var _ api.EmailChannel = (*FakeEmailChannel)(nil)

func (f *FakeEmailChannel) SendEmail(_ context.Context, msg api.EmailMessage, creds *api.Credentials) api.SendResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, SentEmail{Message: msg, Creds: creds})
	if f.Fail {
		errMsg := f.Error
		if errMsg == "" {
			errMsg = "email provider rejected the message"
		}
		return api.SendResult{Success: false, Error: errMsg}
	}
	return api.SendResult{Success: true, MessageID: "fake-email-1"}
}

// Sent returns a copy of the recorded sends.
func (f *FakeEmailChannel) Sent() []SentEmail {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]SentEmail, len(f.sent))
	copy(out, f.sent)
	return out
}

// FakeSMSChannel records every send and answers with a scripted
// result. The zero value reports success for all sends.
type FakeSMSChannel struct {
	mu    sync.Mutex
	sent  []SentSMS
	Fail  bool
	Error string
}

type SentSMS struct {
	To   string
	Body string
}

var _ api.SMSChannel = (*FakeSMSChannel)(nil)

func (f *FakeSMSChannel) SendSMS(_ context.Context, to, body string) api.SendResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, SentSMS{To: to, Body: body})
	if f.Fail {
		errMsg := f.Error
		if errMsg == "" {
			errMsg = "sms provider rejected the message"
		}
		return api.SendResult{Success: false, Error: errMsg}
	}
	return api.SendResult{Success: true, MessageID: "fake-sms-1"}
}

// Sent returns a copy of the recorded sends.
func (f *FakeSMSChannel) Sent() []SentSMS {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]SentSMS, len(f.sent))
	copy(out, f.sent)
	return out
}

// RecordingAuditSink captures audit entries for assertions.
type RecordingAuditSink struct {
	mu      sync.Mutex
	entries []api.AuditEntry
}

var _ api.AuditSink = (*RecordingAuditSink)(nil)

func (r *RecordingAuditSink) RecordActivity(_ context.Context, entry api.AuditEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
}

// Entries returns a copy of the recorded entries.
func (r *RecordingAuditSink) Entries() []api.AuditEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]api.AuditEntry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Actions returns the recorded entry actions in order.
func (r *RecordingAuditSink) Actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.Action)
	}
	return out
}

// FixedClock always reports the same instant.
type FixedClock struct {
	T time.Time
}

func (c FixedClock) Now() time.Time { return c.T }
