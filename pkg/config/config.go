// Package config holds the environment-driven service configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the umbrella configuration object assembled at startup and
// passed to the components that need it.
type Config struct {
	// HTTPPort is the listen port for the API and the /ws socket.
	HTTPPort int

	// OpenAIAPIKey is required. It is handed to the LLM client and
	// never logged.
	OpenAIAPIKey string

	// Model is the chat-completions model name.
	Model string

	// MaxSteps is the per-task step budget.
	MaxSteps int

	// MaxRetries is the consecutive-failure budget per task.
	MaxRetries int

	// ActionTimeout is the per-action response deadline.
	ActionTimeout time.Duration

	// WorkerCount is the number of concurrent task workers. The agent
	// drives a single browser, so the default is 1.
	WorkerCount int

	// QueueSize is the task queue capacity.
	QueueSize int

	// SettleDelayNav is the pause after navigate and click actions.
	SettleDelayNav time.Duration

	// SettleDelayType is the pause after type actions.
	SettleDelayType time.Duration

	// SettleDelayOther is the pause after all other actions.
	SettleDelayOther time.Duration

	// VerificationDelay is the pause before each verification read.
	VerificationDelay time.Duration

	// DOMContentLimit caps the DOM excerpt sent to the verifier.
	DOMContentLimit int

	// EnableScreenshots controls the final-verification screenshot.
	EnableScreenshots bool

	// ExtraForbiddenPrefixes extends the built-in forbidden URL set.
	ExtraForbiddenPrefixes []string
}

// Default returns the built-in defaults. The API key has no default.
func Default() *Config {
	return &Config{
		HTTPPort:          8000,
		Model:             "gpt-4o",
		MaxSteps:          20,
		MaxRetries:        3,
		ActionTimeout:     20 * time.Second,
		WorkerCount:       1,
		QueueSize:         16,
		SettleDelayNav:    2 * time.Second,
		SettleDelayType:   3 * time.Second,
		SettleDelayOther:  500 * time.Millisecond,
		VerificationDelay: 1 * time.Second,
		DOMContentLimit:   3000,
		EnableScreenshots: true,
	}
}

// LoadFromEnv builds the configuration from defaults plus environment
// overrides and validates it.
func LoadFromEnv() (*Config, error) {
	cfg := Default()

	cfg.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	if v := os.Getenv("MODEL_NAME"); v != "" {
		cfg.Model = v
	}

	var err error
	if cfg.HTTPPort, err = envInt("HTTP_PORT", cfg.HTTPPort); err != nil {
		return nil, err
	}
	if cfg.MaxSteps, err = envInt("MAX_STEPS", cfg.MaxSteps); err != nil {
		return nil, err
	}
	if cfg.MaxRetries, err = envInt("MAX_RETRIES", cfg.MaxRetries); err != nil {
		return nil, err
	}
	if cfg.WorkerCount, err = envInt("WORKER_COUNT", cfg.WorkerCount); err != nil {
		return nil, err
	}
	if cfg.QueueSize, err = envInt("QUEUE_SIZE", cfg.QueueSize); err != nil {
		return nil, err
	}
	if cfg.ActionTimeout, err = envSeconds("ACTION_TIMEOUT_SECONDS", cfg.ActionTimeout); err != nil {
		return nil, err
	}
	if cfg.SettleDelayNav, err = envSeconds("PAGE_SETTLE_DELAY_SECONDS", cfg.SettleDelayNav); err != nil {
		return nil, err
	}
	if cfg.VerificationDelay, err = envSeconds("VERIFICATION_DELAY_SECONDS", cfg.VerificationDelay); err != nil {
		return nil, err
	}
	if cfg.DOMContentLimit, err = envInt("DOM_CONTENT_LIMIT", cfg.DOMContentLimit); err != nil {
		return nil, err
	}
	if v := os.Getenv("ENABLE_SCREENSHOTS"); v != "" {
		cfg.EnableScreenshots = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("FORBIDDEN_URL_PREFIXES"); v != "" {
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				cfg.ExtraForbiddenPrefixes = append(cfg.ExtraForbiddenPrefixes, p)
			}
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	if c.OpenAIAPIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required")
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("HTTP_PORT %d is out of range", c.HTTPPort)
	}
	if c.MaxSteps <= 0 {
		return fmt.Errorf("MAX_STEPS must be positive, got %d", c.MaxSteps)
	}
	if c.MaxRetries <= 0 {
		return fmt.Errorf("MAX_RETRIES must be positive, got %d", c.MaxRetries)
	}
	if c.WorkerCount <= 0 {
		return fmt.Errorf("WORKER_COUNT must be positive, got %d", c.WorkerCount)
	}
	if c.ActionTimeout <= 0 {
		return fmt.Errorf("ACTION_TIMEOUT_SECONDS must be positive")
	}
	return nil
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %q is not an integer", key, v)
	}
	return n, nil
}

func envSeconds(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil || secs < 0 {
		return 0, fmt.Errorf("%s: %q is not a non-negative number of seconds", key, v)
	}
	return time.Duration(secs * float64(time.Second)), nil
}
