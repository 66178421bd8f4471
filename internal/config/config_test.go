package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigFromEnvironment(t *testing.T) {
	t.Setenv("SISREG_JWT_SECRET", "env-secret")
	t.Setenv("SISREG_SERVER_PORT", "9090")
	t.Setenv("SISREG_OUTBOX_POLL_INTERVAL", "2s")
	t.Setenv("SISREG_DB_PASSWORD", "db-secret")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "env-secret", cfg.JWT.Secret)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 2*time.Second, cfg.Outbox.PollInterval)
	assert.Equal(t, "db-secret", cfg.Database.Password)
	assert.Equal(t, "America/Sao_Paulo", cfg.Audit.Timezone)
	assert.Equal(t, time.Minute, cfg.Authz.CacheTTL)
	assert.Equal(t, 5*time.Minute, cfg.Outbox.ClaimTimeout)
}

func TestValidate(t *testing.T) {
	t.Setenv("SISREG_JWT_SECRET", "")

	_, err := LoadConfig()
	assert.ErrorContains(t, err, "jwt.secret")

	cfg := &Config{
		Server: ServerConfig{Port: 8080},
		JWT:    JWTConfig{Secret: "x"},
		Outbox: OutboxConfig{BatchSize: 10, PollInterval: time.Second},
		SMTP:   SMTPConfig{Enabled: true},
	}
	assert.ErrorContains(t, cfg.Validate(), "outbox.claim_timeout")

	cfg.Outbox.ClaimTimeout = time.Minute
	assert.ErrorContains(t, cfg.Validate(), "smtp.host")

	cfg.SMTP = SMTPConfig{Enabled: true, Host: "smtp.example.com", From: "no-reply@example.com"}
	assert.NoError(t, cfg.Validate())
}
