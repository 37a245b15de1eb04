package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/linnemanlabs/lifeline/internal/crisis"
	"github.com/linnemanlabs/lifeline/internal/notify"
)

const (
	// CrisisAlertName is the tool name the model calls.
	CrisisAlertName = "trigger_crisis_alert"

	defaultLLMReason = "Crisis detected by LLM"
	alertTriggered   = "Crisis alert triggered."
)

// Escalator schedules delivery of an alert and returns its id.
type Escalator interface {
	Escalate(ctx context.Context, source string, ev notify.Event) string
}

// CrisisAlert lets the model escalate when it judges the user to be at risk,
// independently of the detector.
type CrisisAlert struct {
	escalator Escalator
}

// NewCrisisAlert creates the trigger_crisis_alert tool.
func NewCrisisAlert(escalator Escalator) *CrisisAlert {
	return &CrisisAlert{escalator: escalator}
}

func (c *CrisisAlert) Name() string { return CrisisAlertName }

func (c *CrisisAlert) Description() string {
	return "Trigger an emergency alert to the support team. Use this ONLY if the user expresses " +
		"suicidal thoughts, self-harm intent or is in immediate danger."
}

func (c *CrisisAlert) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"reason": {
				"type": "string",
				"description": "Short explanation of why the alert is being triggered."
			}
		}
	}`)
}

type crisisAlertParams struct {
	Reason string `json:"reason"`
}

type crisisAlertResult struct {
	Result  string `json:"result"`
	AlertID string `json:"alert_id"`
}

// Execute schedules an escalation for the subject attached to ctx.
func (c *CrisisAlert) Execute(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	var p crisisAlertParams
	if len(params) > 0 && string(params) != "null" {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("crisis alert: invalid params: %w", err)
		}
	}
	reason := strings.TrimSpace(p.Reason)
	if reason == "" {
		reason = defaultLLMReason
	}

	subj, _ := SubjectFromContext(ctx)
	id := c.escalator.Escalate(ctx, crisis.SourceTool, notify.Event{
		UserName:     subj.UserName,
		Location:     subj.Location,
		Reason:       reason,
		ShortMessage: subj.Message,
	})

	return json.Marshal(crisisAlertResult{Result: alertTriggered, AlertID: id})
}
