package config_test

import (
	"os"
	"testing"
	"time"

	"github.com/jrsteele09/go-tg-session-gateway/internal/config"
	"github.com/stretchr/testify/require"
)

var keys = []string{
	"PORT", "APP_NAME", "ENV", "DATA_FOLDER", "SHUTDOWN_TIMEOUT", "ALLOWED_ORIGINS",
	"GATE_MODE", "SESSION_IDLE_TTL", "EVICTION_INTERVAL", "SESSION_STORAGE",
	"REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB", "REDIS_KEY_PREFIX",
	"UPLOAD_DIR", "MAX_UPLOAD_BYTES", "DEFAULT_TARGET",
}

// clearEnv blanks every key; Viper treats empty variables as unset.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := config.Load()
	require.NoError(t, err)

	require.Equal(t, ":8080", cfg.GetPort())
	require.Equal(t, "DEV", cfg.GetEnv())
	require.Equal(t, "./data", cfg.GetDataFolder())
	require.Equal(t, 5*time.Second, cfg.GetShutdownTimeout())
	require.Equal(t, "global", cfg.GetGateMode())
	require.Zero(t, cfg.GetSessionIdleTTL())
	require.Equal(t, time.Minute, cfg.GetEvictionInterval())
	require.Equal(t, config.StorageFile, cfg.GetSessionStorage())
	require.Equal(t, "tgsession", cfg.GetRedisKeyPrefix())
	require.Equal(t, os.TempDir(), cfg.GetUploadDir())
	require.EqualValues(t, 20<<20, cfg.GetMaxUploadBytes())
	require.Equal(t, "me", cfg.GetDefaultTarget())
	require.True(t, cfg.GetAllowedOrigins().IsAllowedOrigin("https://anywhere.example"))
}

func TestLoad_EnvVarOverride(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", ":9090")
	t.Setenv("GATE_MODE", "identity")
	t.Setenv("SESSION_IDLE_TTL", "30m")
	t.Setenv("SESSION_STORAGE", "redis")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("MAX_UPLOAD_BYTES", "1024")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg, err := config.Load()
	require.NoError(t, err)

	require.Equal(t, ":9090", cfg.GetPort())
	require.Equal(t, "identity", cfg.GetGateMode())
	require.Equal(t, 30*time.Minute, cfg.GetSessionIdleTTL())
	require.Equal(t, config.StorageRedis, cfg.GetSessionStorage())
	require.Equal(t, "localhost:6379", cfg.GetRedisAddr())
	require.Equal(t, 3, cfg.GetRedisDB())
	require.EqualValues(t, 1024, cfg.GetMaxUploadBytes())

	origins := cfg.GetAllowedOrigins()
	require.True(t, origins.IsAllowedOrigin("https://b.example"))
	require.False(t, origins.IsAllowedOrigin("https://evil.example"))
	require.Equal(t, "https://a.example, https://b.example", origins.String())
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown gate mode", map[string]string{"GATE_MODE": "per-phone"}},
		{"unknown storage", map[string]string{"SESSION_STORAGE": "s3"}},
		{"redis without address", map[string]string{"SESSION_STORAGE": "redis"}},
		{"bad idle ttl", map[string]string{"SESSION_IDLE_TTL": "soon"}},
		{"negative shutdown", map[string]string{"SHUTDOWN_TIMEOUT": "-1s"}},
		{"eviction without interval", map[string]string{"SESSION_IDLE_TTL": "1h", "EVICTION_INTERVAL": "0s"}},
		{"zero upload limit", map[string]string{"MAX_UPLOAD_BYTES": "0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := config.Load()
			require.Error(t, err)
		})
	}
}
