package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("LOCUS_URL", "https://locus.example.com/locus/api/v1")
	t.Setenv("PUSH_URL", "wss://mercury.example.com/v1/events")
	t.Setenv("DEVICE_URL", "https://wdm.example.com/devices/self")
}

func TestLoadConfigDefaults(t *testing.T) {
	setRequired(t)
	t.Setenv("ACCESS_TOKEN", "token")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, 10*time.Minute, cfg.EntitlementTTL)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Zero(t, cfg.ToneInterval)
}

func TestLoadConfigErrors(t *testing.T) {
	t.Run("missing required", func(t *testing.T) {
		t.Setenv("LOCUS_URL", "")
		t.Setenv("ACCESS_TOKEN", "token")
		_, err := LoadConfig()
		assert.Error(t, err)
	})
	t.Run("no credentials", func(t *testing.T) {
		setRequired(t)
		t.Setenv("ACCESS_TOKEN", "")
		t.Setenv("TOKEN_URL", "https://idbroker.example.com/token")
		_, err := LoadConfig()
		assert.Error(t, err, "без refresh токена")
	})
	t.Run("bad level", func(t *testing.T) {
		setRequired(t)
		t.Setenv("ACCESS_TOKEN", "token")
		t.Setenv("LOG_LEVEL", "loud")
		_, err := LoadConfig()
		assert.Error(t, err)
	})
	t.Run("negative tone interval", func(t *testing.T) {
		setRequired(t)
		t.Setenv("ACCESS_TOKEN", "token")
		t.Setenv("TONE_INTERVAL", "-1s")
		_, err := LoadConfig()
		assert.Error(t, err)
	})
}

func TestLoadEnvFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "softcall.env")
	require.NoError(t, os.WriteFile(file, []byte("SOFTCALL_TEST_VALUE=from-file\n"), 0o600))
	t.Setenv("ENV_FILE", file)
	t.Setenv("SOFTCALL_TEST_VALUE", "")
	require.NoError(t, os.Unsetenv("SOFTCALL_TEST_VALUE"))

	require.NoError(t, LoadEnv())
	assert.Equal(t, "from-file", os.Getenv("SOFTCALL_TEST_VALUE"))

	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, LoadEnv())
}
