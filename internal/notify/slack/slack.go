// Package slack sends crisis alerts to Slack via incoming webhooks.
package slack

import (
	"context"
	"fmt"
	"net/http"
	"time"
	"unicode/utf8"

	goslack "github.com/slack-go/slack"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/lifeline/internal/notify"
)

const (
	maxHeaderLen  = 150
	maxMessageLen = 3000
	httpTimeout   = 10 * time.Second
)

// Provider posts alerts to a Slack webhook.
type Provider struct {
	webhookURL string
	client     *http.Client
	logger     log.Logger
	now        func() time.Time
}

// New creates a Slack provider. With an empty webhookURL Send always fails.
func New(webhookURL string, logger log.Logger) *Provider {
	if logger == nil {
		logger = log.Nop()
	}
	return &Provider{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
		logger:     logger.With("provider", "slack"),
		now:        time.Now,
	}
}

// Configured reports whether a webhook URL is set.
func (p *Provider) Configured() bool { return p.webhookURL != "" }

func (p *Provider) Name() string { return "slack" }

// Send posts the alert. Any 2xx response counts as delivered.
func (p *Provider) Send(ctx context.Context, payload notify.Payload) bool {
	if !p.Configured() {
		p.logger.Warn(ctx, "slack webhook not configured, cannot send alert")
		return false
	}

	err := goslack.PostWebhookCustomHTTPContext(ctx, p.webhookURL, p.client, buildMessage(payload, p.now()))
	if err != nil {
		p.logger.Error(ctx, fmt.Errorf("slack: post webhook: %w", err), "failed to send slack alert",
			"alert_id", payload[notify.KeyAlertID])
		return false
	}
	p.logger.Info(ctx, "slack alert sent", "alert_id", payload[notify.KeyAlertID])
	return true
}

func buildMessage(p notify.Payload, ts time.Time) *goslack.WebhookMessage {
	fallback := fmt.Sprintf("Crisis alert: %s at %s", orDash(p[notify.KeyUserName]), orDash(p[notify.KeyLocation]))
	return &goslack.WebhookMessage{
		Text: fallback,
		Blocks: &goslack.Blocks{BlockSet: []goslack.Block{
			headerBlock(p),
			goslack.NewDividerBlock(),
			fieldsBlock(p),
			goslack.NewDividerBlock(),
			messageBlock(p),
			goslack.NewDividerBlock(),
			contextBlock(p, ts),
		}},
	}
}

func headerBlock(p notify.Payload) goslack.Block {
	text := "\U0001f6a8 Crisis detected: " + orDash(p[notify.KeyUserName])
	return goslack.NewHeaderBlock(
		goslack.NewTextBlockObject(goslack.PlainTextType, truncate(text, maxHeaderLen), true, false),
	)
}

func fieldsBlock(p notify.Payload) goslack.Block {
	fields := []*goslack.TextBlockObject{
		field("User", p[notify.KeyUserName]),
		field("Location", p[notify.KeyLocation]),
		field("Reason", p[notify.KeyReason]),
	}
	return goslack.NewSectionBlock(nil, fields, nil)
}

func field(label, value string) *goslack.TextBlockObject {
	return goslack.NewTextBlockObject(goslack.MarkdownType, fmt.Sprintf("*%s:* %s", label, orDash(value)), false, false)
}

func messageBlock(p notify.Payload) goslack.Block {
	text := truncate(p[notify.KeyShortMessage], maxMessageLen)
	if text == "" {
		text = truncate(p[notify.KeyMessage], maxMessageLen)
	}
	if text == "" {
		text = "_No message available._"
	}
	return goslack.NewSectionBlock(
		goslack.NewTextBlockObject(goslack.MarkdownType, "*Message*\n\n"+text+"\n\nPlease take immediate action.", false, false),
		nil, nil,
	)
}

func contextBlock(p notify.Payload, ts time.Time) goslack.Block {
	text := fmt.Sprintf("lifeline • alert %s • %s", orDash(p[notify.KeyAlertID]), ts.UTC().Format("2006-01-02 15:04 UTC"))
	return goslack.NewContextBlock("",
		goslack.NewTextBlockObject(goslack.MarkdownType, text, false, false),
	)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// truncate shortens s to at most limit runes, ending in "..." when cut.
func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	r := []rune(s)
	return string(r[:limit-3]) + "..."
}
