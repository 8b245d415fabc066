// Package config loads and validates the environment configuration.
// Invalid values fail startup; the pipeline never limps along with a
// half-understood config.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/awerhq/wpp-webhooks/internal/projection"
)

// MaxAttempts is the retry budget for a raw event before it is finalized
// with its last error.
const MaxAttempts = 10

// Config is the validated runtime configuration.
type Config struct {
	Port            int
	WebhookSecret   string
	DatabaseDSN     string
	BatchSize       int
	WorkerInterval  time.Duration
	VerboseLogs     bool
	PreviewChars    int
	LogLevel        string
	UserPhoneColumn string
	BlockedAsOptOut bool
}

// Load reads configuration from the process environment.
func Load() (Config, error) {
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from the given lookup function. Split out for
// tests.
func FromEnv(get func(string) string) (Config, error) {
	cfg := Config{
		Port:            8080,
		BatchSize:       50,
		WorkerInterval:  time.Second,
		VerboseLogs:     true,
		PreviewChars:    2500,
		LogLevel:        "info",
		UserPhoneColumn: "phone",
		BlockedAsOptOut: true,
	}

	var err error
	if cfg.Port, err = intVar(get, "PORT", cfg.Port, 1, 65535); err != nil {
		return cfg, err
	}

	cfg.WebhookSecret = get("GUPSHUP_WEBHOOK_SECRET")
	if cfg.WebhookSecret == "" {
		return cfg, fmt.Errorf("GUPSHUP_WEBHOOK_SECRET is required")
	}

	if cfg.DatabaseDSN, err = resolveDSN(get); err != nil {
		return cfg, err
	}

	if cfg.BatchSize, err = intVar(get, "WEBHOOK_WORKER_BATCH_SIZE", cfg.BatchSize, 1, 10000); err != nil {
		return cfg, err
	}

	intervalMS, err := intVar(get, "WEBHOOK_WORKER_INTERVAL_MS", 1000, 100, 3600_000)
	if err != nil {
		return cfg, err
	}
	cfg.WorkerInterval = time.Duration(intervalMS) * time.Millisecond

	if cfg.PreviewChars, err = intVar(get, "WEBHOOK_PAYLOAD_PREVIEW_CHARS", cfg.PreviewChars, 256, 12000); err != nil {
		return cfg, err
	}

	if cfg.VerboseLogs, err = boolVar(get, "WEBHOOK_VERBOSE_LOGS", true); err != nil {
		return cfg, err
	}
	if cfg.BlockedAsOptOut, err = boolVar(get, "BLOCKED_AS_OPT_OUT", true); err != nil {
		return cfg, err
	}

	if v := get("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if v := get("USER_PHONE_COLUMN"); v != "" {
		cfg.UserPhoneColumn = v
	}
	// The phone column is interpolated into SQL at projection time, so
	// it must pass the identifier whitelist or we refuse to start.
	if !projection.ValidIdentifier(cfg.UserPhoneColumn) {
		return cfg, fmt.Errorf("USER_PHONE_COLUMN %q is not a valid identifier", cfg.UserPhoneColumn)
	}

	return cfg, nil
}

func intVar(get func(string) string, key string, def, min, max int) (int, error) {
	v := get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q", key, v)
	}
	if n < min || n > max {
		return 0, fmt.Errorf("%s: %d out of range [%d, %d]", key, n, min, max)
	}
	return n, nil
}

func boolVar(get func(string) string, key string, def bool) (bool, error) {
	v := strings.ToLower(strings.TrimSpace(get(key)))
	switch v {
	case "":
		return def, nil
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	}
	return false, fmt.Errorf("%s: invalid boolean %q", key, v)
}
