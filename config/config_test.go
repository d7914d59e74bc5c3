package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "BSP", cfg.Membership.UIDPrefix)
	assert.False(t, cfg.Audit.RecordDenials)
	assert.Equal(t, 100, cfg.Audit.DefaultLimit)
	assert.Equal(t, 1000, cfg.Audit.MaxLimit)
	assert.True(t, cfg.Redis.Enabled)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("AUDIT_DENIALS", "true")
	t.Setenv("SCOUT_UID_PREFIX", "gsp")
	t.Setenv("REDIS_ENABLED", "false")
	t.Setenv("DATABASE_URL", "postgres://db/scouts")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.Audit.RecordDenials)
	assert.Equal(t, "GSP", cfg.Membership.UIDPrefix)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, "postgres://db/scouts", cfg.Database.DSN())
}

func TestLoadRejectsWeakSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "short")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsBadAuditLimits(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("AUDIT_DEFAULT_LIMIT", "500")
	t.Setenv("AUDIT_MAX_LIMIT", "100")
	_, err := Load()
	assert.Error(t, err)
}

func TestDSNFromParts(t *testing.T) {
	c := DatabaseConfig{User: "u", Password: "p", Host: "h", Port: "5432", DBName: "d", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p@h:5432/d?sslmode=disable", c.DSN())
}

func TestEmailFrom(t *testing.T) {
	assert.Equal(t, "ScoutHub <noreply@example.com>", EmailConfig{FromAddress: "noreply@example.com", FromName: "ScoutHub"}.From())
	assert.Equal(t, "noreply@example.com", EmailConfig{FromAddress: "noreply@example.com"}.From())
}
