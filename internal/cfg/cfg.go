package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config holds lifeline's application settings. It satisfies the common
// cfg.Registerable and cfg.Validatable interfaces.
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	APIToken              string

	EmbeddingProvider string
	OllamaEndpoint    string
	OllamaModel       string
	GenAIAPIKey       string
	GenAIModel        string
	EmbedTimeout      time.Duration
	CachePath         string
	DatabaseURL       string

	SemanticThreshold float64
	ChunkWindow       int
	ChunkStep         int

	TwilioAccountSID          string
	TwilioAuthToken           string
	TwilioMessagingServiceSID string
	TwilioFromNumber          string
	HelplineNumber            string
	DefaultCountryCode        string
	TelegramBotToken          string
	TelegramChatID            string
	SlackWebhookURL           string
	AlertTimeout              time.Duration
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.APIToken, "api-token", "", "bearer token required on /api/v1 requests")

	fs.StringVar(&c.EmbeddingProvider, "embedding-provider", "none", "embedding backend for semantic detection: none, ollama or genai")
	fs.StringVar(&c.OllamaEndpoint, "ollama-endpoint", "http://localhost:11434", "Ollama server base URL")
	fs.StringVar(&c.OllamaModel, "ollama-model", "all-minilm", "Ollama embedding model")
	fs.StringVar(&c.GenAIAPIKey, "genai-api-key", "", "Google GenAI API key (required for -embedding-provider=genai)")
	fs.StringVar(&c.GenAIModel, "genai-model", "gemini-embedding-001", "Google GenAI embedding model")
	fs.DurationVar(&c.EmbedTimeout, "embed-timeout", 5*time.Second, "timeout for each per-chunk embedding call (100ms..60s)")
	fs.StringVar(&c.CachePath, "embedding-cache-path", "crisis_embeddings.json", "JSON file caching reference embeddings (empty = in-memory)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL; when set the embedding cache lives in postgres")

	fs.Float64Var(&c.SemanticThreshold, "semantic-threshold", 0.85, "cosine similarity a chunk must exceed to count as crisis (0..1)")
	fs.IntVar(&c.ChunkWindow, "chunk-window", 15, "sliding window size in words (1..512)")
	fs.IntVar(&c.ChunkStep, "chunk-step", 10, "sliding window step in words (1..chunk-window)")

	fs.StringVar(&c.TwilioAccountSID, "twilio-account-sid", "", "Twilio account SID for SMS alerts")
	fs.StringVar(&c.TwilioAuthToken, "twilio-auth-token", "", "Twilio auth token")
	fs.StringVar(&c.TwilioMessagingServiceSID, "twilio-messaging-service-sid", "", "Twilio messaging service SID used as sender")
	fs.StringVar(&c.TwilioFromNumber, "twilio-from-number", "", "Twilio sender number when no messaging service is set")
	fs.StringVar(&c.HelplineNumber, "helpline-number", "", "phone number that receives SMS alerts")
	fs.StringVar(&c.DefaultCountryCode, "default-country-code", "+91", "country code prefixed to numbers without a leading +")
	fs.StringVar(&c.TelegramBotToken, "telegram-bot-token", "", "Telegram bot token for backup alerts")
	fs.StringVar(&c.TelegramChatID, "telegram-chat-id", "", "Telegram chat id receiving alerts")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack incoming webhook URL for alerts (optional)")
	fs.DurationVar(&c.AlertTimeout, "alert-timeout", 10*time.Second, "HTTP timeout per alert channel (1s..60s)")
}

// Validate checks all configuration fields for correctness.
// Alert channel settings are optional; a channel without credentials is skipped at dispatch.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}
	if c.APIToken == "" {
		errs = append(errs, errors.New("API_TOKEN is required"))
	}

	switch c.EmbeddingProvider {
	case "", "none":
	case "ollama":
		if _, err := url.ParseRequestURI(c.OllamaEndpoint); err != nil || c.OllamaEndpoint == "" {
			errs = append(errs, fmt.Errorf("invalid OLLAMA_ENDPOINT %q", c.OllamaEndpoint))
		}
	case "genai":
		if c.GenAIAPIKey == "" {
			errs = append(errs, errors.New("GENAI_API_KEY is required when EMBEDDING_PROVIDER=genai"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid EMBEDDING_PROVIDER %q (must be none, ollama or genai)", c.EmbeddingProvider))
	}
	if c.EmbedTimeout < 100*time.Millisecond || c.EmbedTimeout > time.Minute {
		errs = append(errs, fmt.Errorf("invalid EMBED_TIMEOUT %s (must be 100ms..60s)", c.EmbedTimeout))
	}

	// NaN fails both comparisons, so test for the valid range
	if !(c.SemanticThreshold > 0 && c.SemanticThreshold <= 1) {
		errs = append(errs, fmt.Errorf("invalid SEMANTIC_THRESHOLD %v (must be in (0, 1])", c.SemanticThreshold))
	}
	if c.ChunkWindow < 1 || c.ChunkWindow > 512 {
		errs = append(errs, fmt.Errorf("invalid CHUNK_WINDOW %d (must be 1..512)", c.ChunkWindow))
	}
	if c.ChunkStep < 1 || c.ChunkStep > c.ChunkWindow {
		errs = append(errs, fmt.Errorf("invalid CHUNK_STEP %d (must be 1..CHUNK_WINDOW)", c.ChunkStep))
	}

	if c.DefaultCountryCode != "" && !strings.HasPrefix(c.DefaultCountryCode, "+") {
		errs = append(errs, fmt.Errorf("invalid DEFAULT_COUNTRY_CODE %q (must start with +)", c.DefaultCountryCode))
	}
	if c.AlertTimeout < time.Second || c.AlertTimeout > time.Minute {
		errs = append(errs, fmt.Errorf("invalid ALERT_TIMEOUT %s (must be 1s..60s)", c.AlertTimeout))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
