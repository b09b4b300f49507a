package api

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// DelayMode selects how a DELAY step computes its resumption time.
type DelayMode string

const (
	// DelaySmartStage2 schedules the 1→2 follow-up transition using the
	// business-hours rule derived from the lead's creation time.
	DelaySmartStage2 DelayMode = "SMART_STAGE_2"

	// DelaySmartStage3 schedules the 2→3 follow-up transition.
	DelaySmartStage3 DelayMode = "SMART_STAGE_3"

	// DelayFixed waits for an explicit duration from "now".
	DelayFixed DelayMode = "FIXED"
)

// StepConfig is the tagged union of per-step-type configuration.
// Concrete variants are EmailConfig, SMSConfig, DelayConfig and
// ActionConfig; the set is closed.
type StepConfig interface {
	// Validate reports malformed configuration. It is called at decode
	// time so bad configs are rejected before a run starts.
	Validate() error

	stepConfig()
}

// EmailConfig configures an EMAIL step.
type EmailConfig struct {
	// TemplateID, when set, links a reusable Template whose subject and
	// body override Subject and Body at execution time.
	TemplateID *int64 `json:"templateId,omitempty"`

	Subject string `json:"subject"`
	Body    string `json:"body"`

	// SenderName and ReplyTo take precedence over the caller identity
	// and the configured defaults.
	SenderName string `json:"senderName,omitempty"`
	ReplyTo    string `json:"replyTo,omitempty"`

	// IncludeSignature appends the configured signature after the body
	// unless explicitly false. A {signature} token in the body takes
	// precedence over appending.
	IncludeSignature *bool `json:"includeSignature,omitempty"`

	// SendSMSAlso sends a companion SMS with SMSBody when the lead has
	// a phone number. Its outcome is logged independently and does not
	// affect the email step's own success.
	SendSMSAlso bool   `json:"sendSmsAlso,omitempty"`
	SMSBody     string `json:"smsBody,omitempty"`
}

func (*EmailConfig) stepConfig() {}

func (c *EmailConfig) Validate() error {
	if c.TemplateID == nil && strings.TrimSpace(c.Body) == "" {
		return fmt.Errorf("email step requires a body or a linked template")
	}
	return nil
}

// SMSConfig configures an SMS step.
type SMSConfig struct {
	TemplateID *int64 `json:"templateId,omitempty"`
	Body       string `json:"body"`
}

func (*SMSConfig) stepConfig() {}

func (c *SMSConfig) Validate() error {
	if c.TemplateID == nil && strings.TrimSpace(c.Body) == "" {
		return fmt.Errorf("sms step requires a body or a linked template")
	}
	return nil
}

// DelayConfig configures a DELAY step. A delay is "smart" when Mode or
// SmartStage designates a target nurture stage; otherwise it is a fixed
// offset of FixedDuration FixedUnits from the evaluation time.
type DelayConfig struct {
	Mode DelayMode `json:"mode,omitempty"`

	// SmartStage is an explicit numeric target stage, honored when Mode
	// does not already designate one.
	SmartStage int `json:"smartStage,omitempty"`

	// FixedDuration defaults to 1; FixedUnit is one of "minutes",
	// "hours", "days" and falls back to hours when unrecognized.
	FixedDuration int    `json:"fixedDuration,omitempty"`
	FixedUnit     string `json:"fixedUnit,omitempty"`

	// CancelOnStatuses / CancelOnSubStatuses cancel a suspended
	// execution when the lead's status matches at resume time.
	CancelOnStatuses    []string `json:"cancelOnStatuses,omitempty"`
	CancelOnSubStatuses []string `json:"cancelOnSubStatuses,omitempty"`
}

func (*DelayConfig) stepConfig() {}

func (c *DelayConfig) Validate() error {
	if c.FixedDuration < 0 {
		return fmt.Errorf("delay step has negative duration %d", c.FixedDuration)
	}
	if c.SmartStage < 0 {
		return fmt.Errorf("delay step has negative smart stage %d", c.SmartStage)
	}
	return nil
}

// TargetStage returns the nurture stage a smart delay schedules toward,
// or 0 when the delay is fixed.
func (c *DelayConfig) TargetStage() int {
	switch c.Mode {
	case DelaySmartStage2:
		return 2
	case DelaySmartStage3:
		return 3
	}
	if c.SmartStage > 0 {
		return c.SmartStage
	}
	return 0
}

// UnmarshalJSON accepts fixedDuration as either a JSON number or a
// numeric string; stored configs carry both forms.
func (c *DelayConfig) UnmarshalJSON(data []byte) error {
	type alias DelayConfig
	aux := struct {
		*alias
		FixedDuration json.RawMessage `json:"fixedDuration,omitempty"`
	}{alias: (*alias)(c)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if len(aux.FixedDuration) == 0 {
		return nil
	}
	raw := strings.Trim(string(aux.FixedDuration), `"`)
	if raw == "" {
		return nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("delay step duration %q is not an integer", raw)
	}
	c.FixedDuration = n
	return nil
}

// ActionConfig configures an ACTION step. Actions have no built-in
// executor; they dispatch to handlers registered on the engine.
type ActionConfig struct {
	// Name selects the registered handler.
	Name string `json:"name"`

	// Params is passed through to the handler untouched.
	Params json.RawMessage `json:"params,omitempty"`
}

func (*ActionConfig) stepConfig() {}

func (c *ActionConfig) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("action step requires a name")
	}
	return nil
}

// DecodeStepConfig parses the stored JSON configuration for a step of
// the given type and validates it. Unknown step types are rejected.
func DecodeStepConfig(t StepType, raw []byte) (StepConfig, error) {
	if len(raw) == 0 {
		raw = []byte("{}")
	}

	var cfg StepConfig
	switch t {
	case StepEmail:
		cfg = &EmailConfig{}
	case StepSMS:
		cfg = &SMSConfig{}
	case StepDelay:
		cfg = &DelayConfig{}
	case StepAction:
		cfg = &ActionConfig{}
	default:
		return nil, fmt.Errorf("unknown step type %q", t)
	}

	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("decode %s step config: %w", t, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s step config: %w", t, err)
	}
	return cfg, nil
}

// EncodeStepConfig serializes a step config back to its stored JSON
// form. A nil config encodes as an empty object.
func EncodeStepConfig(cfg StepConfig) ([]byte, error) {
	if cfg == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(cfg)
}
