package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRejectsPlaceholderSecretOutsideDebug(t *testing.T) {
	t.Setenv("DEBUG", "false")
	t.Setenv("BROKER_WEBHOOK_SECRET", "changeme")
	t.Setenv("LEDGER_DATA_DIR", t.TempDir())

	_, err := Load()
	require.Error(t, err)
}

func TestLoadAllowsMissingSecretInDebugMode(t *testing.T) {
	t.Setenv("DEBUG", "true")
	t.Setenv("BROKER_WEBHOOK_SECRET", "")
	t.Setenv("LEDGER_DATA_DIR", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.DevMode)
}

func TestCandidateSecretsOrdersPrimaryFirst(t *testing.T) {
	cfg := &Config{
		BrokerWebhookSecret:            "primary",
		BrokerWebhookAdditionalSecrets: []string{"rotated-1", "rotated-2"},
	}

	assert.Equal(t, []string{"primary", "rotated-1", "rotated-2"}, cfg.CandidateSecrets())
}

func TestSplitSecretsTrimsAndDropsEmpty(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitSecrets(" a ,  , b"))
	assert.Nil(t, splitSecrets(""))
}
