package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

type AppConfig struct {
	RedisURL    string
	DatabaseURL string

	// PushMode selects the notifier transport: ws | log | none.
	PushMode  string
	PushWSURL string

	// Payment verification service consumed by the purchase confirmer.
	PaymentBaseURL string
	PaymentAPIKey  string

	QueueEntryTTL time.Duration
	SweepInterval time.Duration
	TurnDeadline  time.Duration

	StakesFile string
	Stakes     *StakesCatalog

	// MessagesDir optionally overrides the embedded push message templates.
	MessagesDir string
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		PushMode:      "log",
		QueueEntryTTL: 2 * time.Minute,
		SweepInterval: 10 * time.Second,
		TurnDeadline:  60 * time.Second,
	}

	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))

	if v := strings.TrimSpace(os.Getenv("PUSH_MODE")); v != "" {
		cfg.PushMode = strings.ToLower(v)
	}
	cfg.PushWSURL = strings.TrimSpace(os.Getenv("PUSH_WS_URL"))

	cfg.PaymentBaseURL = strings.TrimSpace(os.Getenv("PAYMENT_BASE_URL"))
	cfg.PaymentAPIKey = strings.TrimSpace(os.Getenv("PAYMENT_API_KEY"))

	if d, ok := envDuration("QUEUE_ENTRY_TTL"); ok {
		cfg.QueueEntryTTL = d
	}
	if d, ok := envDuration("QUEUE_SWEEP_INTERVAL"); ok {
		cfg.SweepInterval = d
	}
	if d, ok := envDuration("TURN_DEADLINE"); ok {
		cfg.TurnDeadline = d
	}

	cfg.MessagesDir = strings.TrimSpace(os.Getenv("MESSAGES_DIR"))

	cfg.StakesFile = strings.TrimSpace(os.Getenv("STAKES_FILE"))
	stakes, err := LoadStakes(cfg.StakesFile)
	if err != nil {
		return nil, err
	}
	cfg.Stakes = stakes

	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.PushMode == "ws" && cfg.PushWSURL == "" {
		return nil, errors.New("PUSH_WS_URL is required when PUSH_MODE=ws")
	}
	return cfg, nil
}

// envDuration accepts either a Go duration string or a plain seconds integer.
func envDuration(key string) (time.Duration, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, false
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d, true
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return time.Duration(n) * time.Second, true
	}
	return 0, false
}
