// Package settings stores the handful of runtime-rotatable credentials this
// service needs: the broker webhook HMAC secret (plus any accepted rotated
// secrets) and the broker API key/secret pair. Values here take precedence
// over the environment variables loaded at startup (see internal/config),
// which lets an operator rotate a compromised webhook secret without a
// restart.
package settings

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const (
	keyBrokerWebhookSecret            = "broker_webhook_secret"
	keyBrokerWebhookAdditionalSecrets = "broker_webhook_additional_secrets"
	keyBrokerAPIKey                   = "broker_api_key"
	keyBrokerAPISecret                = "broker_api_secret"
)

// Repository reads and writes config.db's settings table.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a settings repository over config.db.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "settings").Logger(),
	}
}

// BrokerWebhookSecret returns the primary HMAC signing secret for inbound
// broker webhooks, or "" if it has never been set in the database.
func (r *Repository) BrokerWebhookSecret() (string, error) {
	return r.get(keyBrokerWebhookSecret)
}

// SetBrokerWebhookSecret rotates the primary webhook secret.
func (r *Repository) SetBrokerWebhookSecret(value string) error {
	return r.set(keyBrokerWebhookSecret, value, "Primary HMAC signing secret for broker webhooks")
}

// BrokerWebhookAdditionalSecrets returns the comma-separated list of
// previously-rotated secrets still accepted during a rotation window.
func (r *Repository) BrokerWebhookAdditionalSecrets() (string, error) {
	return r.get(keyBrokerWebhookAdditionalSecrets)
}

// SetBrokerWebhookAdditionalSecrets replaces the rotated-secret list.
func (r *Repository) SetBrokerWebhookAdditionalSecrets(value string) error {
	return r.set(keyBrokerWebhookAdditionalSecrets, value, "Comma-separated rotated webhook secrets, still accepted")
}

// BrokerAPIKey returns the broker API key used to establish sessions.
func (r *Repository) BrokerAPIKey() (string, error) {
	return r.get(keyBrokerAPIKey)
}

// SetBrokerAPIKey rotates the broker API key.
func (r *Repository) SetBrokerAPIKey(value string) error {
	return r.set(keyBrokerAPIKey, value, "Broker API key")
}

// BrokerAPISecret returns the broker API secret paired with BrokerAPIKey.
func (r *Repository) BrokerAPISecret() (string, error) {
	return r.get(keyBrokerAPISecret)
}

// SetBrokerAPISecret rotates the broker API secret.
func (r *Repository) SetBrokerAPISecret(value string) error {
	return r.set(keyBrokerAPISecret, value, "Broker API secret")
}

// get returns "" if key has never been set, not an error.
func (r *Repository) get(key string) (string, error) {
	var value string
	err := r.db.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get setting %s: %w", key, err)
	}
	return value, nil
}

func (r *Repository) set(key, value, description string) error {
	now := time.Now().Unix()
	_, err := r.db.Exec(`
		INSERT INTO settings (key, value, description, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			description = excluded.description,
			updated_at = excluded.updated_at
	`, key, value, description, now)
	if err != nil {
		return fmt.Errorf("failed to set setting %s: %w", key, err)
	}
	return nil
}
