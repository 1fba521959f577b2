package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "./data/payroll.db", cfg.DBPath)
	assert.Empty(t, cfg.RedisAddr)
	assert.False(t, cfg.AutoLockEnabled)
	assert.Equal(t, time.Hour, cfg.AutoLockInterval)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.False(t, cfg.IsProduction())
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("PAYROLL_ENV", "production")
	t.Setenv("PAYROLL_REDIS_ADDR", "redis:6379")
	t.Setenv("PAYROLL_AUTO_LOCK_ENABLED", "true")
	t.Setenv("PAYROLL_AUTO_LOCK_INTERVAL", "15m")
	t.Setenv("PAYROLL_CORS_ORIGINS", "https://a.example,https://b.example")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.IsProduction())
	assert.Equal(t, "redis:6379", cfg.RedisAddr)
	assert.True(t, cfg.AutoLockEnabled)
	assert.Equal(t, 15*time.Minute, cfg.AutoLockInterval)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
}

func TestLoad_RejectsInvalid(t *testing.T) {
	t.Setenv("PAYROLL_RATE_LIMIT", "-1")
	_, err := Load()
	assert.Error(t, err)
}
