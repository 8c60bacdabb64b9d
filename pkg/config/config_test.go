package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, 30*time.Second, cfg.Heartbeat.Interval)
	require.Equal(t, 5*time.Second, cfg.Heartbeat.Timeout)
	require.Equal(t, 3, cfg.Heartbeat.MaxMissed)
	require.True(t, cfg.Heartbeat.Adaptive)
	require.Equal(t, 60*time.Second, cfg.Heartbeat.MaxInterval)
	require.Equal(t, 5, cfg.Reconnection.MaxRetries)
	require.True(t, cfg.Reconnection.ExponentialBackoff)
	require.Equal(t, 10, cfg.RateLimit.ConnectionMax)
	require.Equal(t, 100, cfg.RateLimit.CommandMax)
	require.Equal(t, time.Minute, cfg.RateLimit.CommandWindow)
	require.Equal(t, 5*time.Minute, cfg.RateLimit.CleanupInterval)
	require.Equal(t, 5*time.Second, cfg.Shutdown.GracePeriod)
	require.Equal(t, RateLimitBackendMemory, cfg.RateLimit.Backend)
	require.Empty(t, cfg.Server.TrustedProxies)
	require.False(t, cfg.Kafka.Enabled)
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	yaml := []byte(`
server:
  port: 9090
heartbeat:
  interval: 10s
  maxMissed: 2
reconnection:
  exponentialBackoff: false
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0o600))
	t.Setenv("GAMERT_SHUTDOWN_GRACEPERIOD", "2s")

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, 10*time.Second, cfg.Heartbeat.Interval)
	require.Equal(t, 2, cfg.Heartbeat.MaxMissed)
	require.False(t, cfg.Reconnection.ExponentialBackoff)
	require.Equal(t, 2*time.Second, cfg.Shutdown.GracePeriod)
}

func TestValidate(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	bad := *cfg
	bad.Heartbeat.Interval = 0
	require.Error(t, bad.Validate())

	bad = *cfg
	bad.RateLimit.Backend = RateLimitBackendRedis
	require.Error(t, bad.Validate())
	bad.Redis.Enabled = true
	require.NoError(t, bad.Validate())

	bad = *cfg
	bad.Reconnection.MaxInterval = bad.Reconnection.BaseInterval / 2
	require.Error(t, bad.Validate())

	bad = *cfg
	bad.Server.TrustedProxies = []string{"10.0.0.0/8", "192.168.1.1"}
	require.NoError(t, bad.Validate())
	bad.Server.TrustedProxies = []string{"proxy.internal"}
	require.Error(t, bad.Validate())
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(&LoggerConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	require.NotNil(t, logger)

	_, err = NewLogger(&LoggerConfig{Level: "loud", Format: "json"})
	require.Error(t, err)
}
