// Package twilio sends crisis alerts as SMS through the Twilio Messages API.
package twilio

import (
	"context"
	"encoding/json"
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
	DefaultBaseURL     = "https://api.twilio.com"
	DefaultCountryCode = "+91"
	defaultTimeout     = 10 * time.Second
)

// Config holds Twilio credentials. Either MessagingServiceSID or From must be set.
type Config struct {
	AccountSID          string
	AuthToken           string
	MessagingServiceSID string
	From                string
	CountryCode         string
	BaseURL             string
	Timeout             time.Duration
}

// Provider is a notify.Provider backed by Twilio SMS.
type Provider struct {
	cfg    Config
	client *http.Client
	logger log.Logger
}

// New creates a Twilio provider. Missing credentials are logged once here;
// Send then reports failure without contacting Twilio.
func New(cfg Config, logger log.Logger) *Provider {
	if logger == nil {
		logger = log.Nop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.CountryCode == "" {
		cfg.CountryCode = DefaultCountryCode
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	p := &Provider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With("provider", "twilio"),
	}
	if !p.Configured() {
		p.logger.Warn(context.Background(), "twilio credentials missing, sms alerts disabled")
	}
	return p
}

// Configured reports whether every credential needed to send is present.
func (p *Provider) Configured() bool {
	return p.cfg.AccountSID != "" && p.cfg.AuthToken != "" &&
		(p.cfg.MessagingServiceSID != "" || p.cfg.From != "")
}

func (p *Provider) Name() string { return "twilio" }

// Send delivers payload[message] to payload[phone_number].
func (p *Provider) Send(ctx context.Context, payload notify.Payload) bool {
	if !p.Configured() {
		p.logger.Warn(ctx, "twilio not configured, cannot send sms")
		return false
	}
	to := NormalizeNumber(payload[notify.KeyPhoneNumber], p.cfg.CountryCode)
	if to == "" {
		p.logger.Warn(ctx, "no destination phone number, cannot send sms")
		return false
	}

	sid, err := p.send(ctx, to, payload[notify.KeyMessage])
	if err != nil {
		p.logger.Error(ctx, err, "failed to send sms", "alert_id", payload[notify.KeyAlertID])
		return false
	}
	p.logger.Info(ctx, "sms sent", "message_sid", sid, "alert_id", payload[notify.KeyAlertID])
	return true
}

func (p *Provider) send(ctx context.Context, to, body string) (string, error) {
	form := url.Values{}
	form.Set("To", to)
	form.Set("Body", body)
	if p.cfg.MessagingServiceSID != "" {
		form.Set("MessagingServiceSid", p.cfg.MessagingServiceSID)
	} else {
		form.Set("From", p.cfg.From)
	}

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", p.cfg.BaseURL, url.PathEscape(p.cfg.AccountSID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("twilio: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(p.cfg.AccountSID, p.cfg.AuthToken)

	resp, err := p.client.Do(req) //nolint:gosec // G704: base URL is from trusted config
	if err != nil {
		return "", fmt.Errorf("twilio: post message: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		}
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return "", fmt.Errorf("twilio: api returned %d: code %d: %s", resp.StatusCode, apiErr.Code, apiErr.Message)
		}
		return "", fmt.Errorf("twilio: api returned %d", resp.StatusCode)
	}

	var msg struct {
		SID string `json:"sid"`
	}
	_ = json.Unmarshal(respBody, &msg)
	return msg.SID, nil
}

// NormalizeNumber strips spaces and prefixes countryCode to numbers that do
// not already carry a leading "+".
func NormalizeNumber(number, countryCode string) string {
	n := strings.Join(strings.Fields(number), "")
	if n == "" {
		return ""
	}
	if strings.HasPrefix(n, "+") {
		return n
	}
	return countryCode + n
}
