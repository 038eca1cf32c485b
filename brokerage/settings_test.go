package brokerage

import (
	"os"
	"path/filepath"
	"testing"

	fsm "github.com/goliatone/go-fsm"
	"github.com/goliatone/go-fsm/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSettingsMergesFileAndEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "brokerage.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
mail:
  sender: desk@broker.example
offers:
  min_options: 2
  validity_days: 14
logging:
  level: debug
`), 0o600))
	t.Setenv("BROKERAGE_OFFER_VALIDITY_DAYS", "7")
	t.Setenv("BROKERAGE_OPPORTUNITY_REQUIRE_ADMIN", "false")

	cfg, err := LoadSettings(path)
	require.NoError(t, err)

	assert.Equal(t, "desk@broker.example", cfg.Mail.Sender)
	assert.Equal(t, 2, cfg.Offers.MinOptions)
	assert.Equal(t, 7, cfg.Offers.ValidityDays)
	assert.Equal(t, "@hourly", cfg.Offers.ExpirySchedule)
	assert.False(t, cfg.Opportunities.RequireAdmin)
	assert.True(t, cfg.Mandates.RequireSignature)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadSettingsWithoutFileUsesDefaults(t *testing.T) {
	cfg, err := LoadSettings("")
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings(), cfg)
}

func TestLoadSettingsErrors(t *testing.T) {
	_, err := LoadSettings(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("offers: ["), 0o600))
	_, err = LoadSettings(path)
	assert.True(t, fsm.IsConfiguration(err))

	t.Setenv("BROKERAGE_MAIL_ENABLED", "true")
	_, err = LoadSettings("")
	assert.True(t, fsm.IsConfiguration(err))
}

func TestNewServiceValidatesSettings(t *testing.T) {
	cfg := DefaultSettings()
	cfg.Offers.ValidityDays = 0
	_, err := NewService(cfg, store.NewInMemoryStateStore())
	assert.True(t, fsm.IsConfiguration(err))
}

func TestMailSenderFallsBackToLog(t *testing.T) {
	s, _ := newTestService(t)
	sender, err := s.MailSender()
	require.NoError(t, err)
	assert.NotNil(t, sender)

	s.Settings.Mail.Enabled = true
	s.Settings.Mail.ServerToken = "server-token"
	sender, err = s.MailSender()
	require.NoError(t, err)
	assert.NotNil(t, sender)
}
