// Package config provides configuration management functionality.
//
// This package handles loading configuration from environment variables (.env file)
// and updating configuration from the settings database. Settings database values
// take precedence over environment variables.
//
// Configuration Loading Order:
// 1. Load from .env file (if exists)
// 2. Load from environment variables
// 3. Update from settings database (takes precedence)
//
// Data Directory Priority (highest to lowest):
// 1. dataDirOverride argument to Load (if non-empty)
// 2. LEDGER_DATA_DIR environment variable
// 3. ./data (default)
//
// The server re-reads the webhook secrets from the settings database on
// every webhook delivery, so they can be rotated without a restart; the
// broker credential overrides are applied once, at startup.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/aristath/orderledger/internal/modules/settings"
	"github.com/joho/godotenv"
)

// placeholderSecrets are values that look like someone forgot to configure
// a real secret. A non-debug boot with one of these as the webhook secret
// is refused.
var placeholderSecrets = map[string]bool{
	"":          true,
	"changeme":  true,
	"change_me": true,
	"default":   true,
	"secret":    true,
	"test":      true,
}

// Config holds application configuration.
//
// Configuration is loaded from environment variables and can be updated
// from the settings database. Settings database values take precedence.
type Config struct {
	DataDir                        string // Base directory for all databases, always absolute
	Port                           int    // HTTP server port (default: 8001)
	DevMode                        bool   // Development mode: relaxes trader/client auth and secret checks
	LogLevel                       string // Log level (debug, info, warn, error)
	BrokerWebhookSecret            string // Primary HMAC signing secret for broker webhooks
	BrokerWebhookAdditionalSecrets []string // Rotated secrets still accepted, in priority order
	BrokerAPIKey                   string // Vendor API key (can be overridden by settings DB)
	BrokerAPISecret                string // Vendor API secret (can be overridden by settings DB)
	SnapshotCron                   string // cron expression for the daily portfolio snapshot job
}

// Load reads configuration from environment variables.
//
// This function:
// 1. Loads .env file if it exists (via godotenv)
// 2. Reads environment variables with defaults
// 3. Resolves data directory to absolute path
// 4. Creates data directory if it doesn't exist
// 5. Validates configuration
//
// Note: Configuration can be updated later from settings database via UpdateFromSettings().
// Settings database values take precedence over environment variables.
func Load(dataDirOverride ...string) (*Config, error) {
	// godotenv.Load() returns an error if .env doesn't exist, which is fine.
	_ = godotenv.Load()

	var dataDir string
	if len(dataDirOverride) > 0 && dataDirOverride[0] != "" {
		dataDir = dataDirOverride[0]
	} else {
		dataDir = getEnv("LEDGER_DATA_DIR", "")
		if dataDir == "" {
			dataDir = "./data"
		}
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:                        absDataDir,
		Port:                           getEnvAsInt("GO_PORT", 8001),
		DevMode:                        getEnvAsBool("DEBUG", false),
		LogLevel:                       getEnv("LOG_LEVEL", "info"),
		BrokerWebhookSecret:            getEnv("BROKER_WEBHOOK_SECRET", ""),
		BrokerWebhookAdditionalSecrets: splitSecrets(getEnv("BROKER_WEBHOOK_ADDITIONAL_SECRETS", "")),
		BrokerAPIKey:                   getEnv("BROKER_API_KEY", ""),
		BrokerAPISecret:                getEnv("BROKER_API_SECRET", ""),
		SnapshotCron:                   getEnv("SNAPSHOT_CRON", "0 30 23 * * *"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// UpdateFromSettings updates configuration from settings database.
//
// This should be called after the config database is initialized. Settings
// database values take precedence over environment variables; if a settings
// value is empty, the environment variable value is kept as a fallback.
func (c *Config) UpdateFromSettings(settingsRepo *settings.Repository) error {
	if v, err := settingsRepo.BrokerWebhookSecret(); err != nil {
		return fmt.Errorf("failed to get broker webhook secret from settings: %w", err)
	} else if v != "" {
		c.BrokerWebhookSecret = v
	}

	if v, err := settingsRepo.BrokerWebhookAdditionalSecrets(); err != nil {
		return fmt.Errorf("failed to get broker webhook additional secrets from settings: %w", err)
	} else if v != "" {
		c.BrokerWebhookAdditionalSecrets = splitSecrets(v)
	}

	if v, err := settingsRepo.BrokerAPIKey(); err != nil {
		return fmt.Errorf("failed to get broker API key from settings: %w", err)
	} else if v != "" {
		c.BrokerAPIKey = v
	}

	if v, err := settingsRepo.BrokerAPISecret(); err != nil {
		return fmt.Errorf("failed to get broker API secret from settings: %w", err)
	} else if v != "" {
		c.BrokerAPISecret = v
	}

	return nil
}

// Validate checks if required configuration is present. In non-debug mode a
// missing or placeholder webhook secret aborts startup, since an unsigned
// or trivially-forgeable webhook would let anyone move client funds.
func (c *Config) Validate() error {
	if c.DevMode {
		return nil
	}
	if placeholderSecrets[strings.ToLower(strings.TrimSpace(c.BrokerWebhookSecret))] {
		return fmt.Errorf("BROKER_WEBHOOK_SECRET must be set to a real secret outside DEBUG mode")
	}
	return nil
}

// CandidateSecrets returns the primary secret followed by the accepted
// rotated secrets, in the order webhook verification should try them.
func (c *Config) CandidateSecrets() []string {
	out := make([]string, 0, 1+len(c.BrokerWebhookAdditionalSecrets))
	if c.BrokerWebhookSecret != "" {
		out = append(out, c.BrokerWebhookSecret)
	}
	out = append(out, c.BrokerWebhookAdditionalSecrets...)
	return out
}

func splitSecrets(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ==========================================
// Helper Functions
// ==========================================

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
