// Package telegram sends crisis alerts through a Telegram bot.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/lifeline/internal/notify"
)

const (
	DefaultBaseURL = "https://api.telegram.org"
	defaultTimeout = 10 * time.Second
)

// Config holds the bot token and destination chat.
type Config struct {
	Token   string
	ChatID  string
	BaseURL string
	Timeout time.Duration
}

// Provider is a notify.Provider backed by the Telegram Bot API.
type Provider struct {
	cfg    Config
	client *http.Client
	logger log.Logger
}

// New creates a Telegram provider. Missing credentials are logged once here.
func New(cfg Config, logger log.Logger) *Provider {
	if logger == nil {
		logger = log.Nop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	p := &Provider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With("provider", "telegram"),
	}
	if !p.Configured() {
		p.logger.Warn(context.Background(), "telegram credentials missing, chat alerts disabled")
	}
	return p
}

// Configured reports whether both token and chat id are present.
func (p *Provider) Configured() bool {
	return p.cfg.Token != "" && p.cfg.ChatID != ""
}

func (p *Provider) Name() string { return "telegram" }

type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// Send posts payload[message] to the configured chat. Only HTTP 200 counts as delivered.
func (p *Provider) Send(ctx context.Context, payload notify.Payload) bool {
	if !p.Configured() {
		p.logger.Warn(ctx, "telegram not configured, cannot send message")
		return false
	}
	if err := p.send(ctx, payload[notify.KeyMessage]); err != nil {
		p.logger.Error(ctx, err, "failed to send telegram message", "alert_id", payload[notify.KeyAlertID])
		return false
	}
	p.logger.Info(ctx, "telegram message sent", "alert_id", payload[notify.KeyAlertID])
	return true
}

func (p *Provider) send(ctx context.Context, text string) error {
	body, err := json.Marshal(sendMessageRequest{
		ChatID:    p.cfg.ChatID,
		Text:      text,
		ParseMode: "Markdown",
	})
	if err != nil {
		return fmt.Errorf("telegram: marshal message: %w", err)
	}

	endpoint := p.cfg.BaseURL + "/bot" + p.cfg.Token + "/sendMessage"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: create request: %w", redact(err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req) //nolint:gosec // G704: base URL is from trusted config
	if err != nil {
		return fmt.Errorf("telegram: post message: %w", redact(err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Description string `json:"description"`
		}
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Description != "" {
			return fmt.Errorf("telegram: api returned %d: %s", resp.StatusCode, apiErr.Description)
		}
		return fmt.Errorf("telegram: api returned %d", resp.StatusCode)
	}
	return nil
}

// redact drops the request URL, which embeds the bot token, from transport errors.
func redact(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return fmt.Errorf("%s: %w", ue.Op, ue.Err)
	}
	return err
}
