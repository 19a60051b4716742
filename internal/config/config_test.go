package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("GOOGLE_API_KEY", "")
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "sqlite3", cfg.StoreDriver)
	assert.Equal(t, 3, cfg.MaxReminders)
	assert.Equal(t, 3, cfg.MaxDelays)
	assert.Equal(t, 5*time.Minute, cfg.DelayWait)
	assert.Equal(t, "/dev/ttyACM0", cfg.SerialPort)
	assert.Equal(t, 9600, cfg.BaudRate)
	assert.Equal(t, 50, cfg.AlertFeedSize)
}

func TestLoadFromEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	content := "MAX_DELAYS=5\nDELAY_WAIT=90s\nCAREGIVER_DEVICE_TOKENS=tok-a, tok-b,\nSILENCE_THRESHOLD=0.02\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	t.Cleanup(func() {
		os.Unsetenv("MAX_DELAYS")
		os.Unsetenv("DELAY_WAIT")
		os.Unsetenv("CAREGIVER_DEVICE_TOKENS")
		os.Unsetenv("SILENCE_THRESHOLD")
	})

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.MaxDelays)
	assert.Equal(t, 90*time.Second, cfg.DelayWait)
	assert.Equal(t, []string{"tok-a", "tok-b"}, cfg.CaregiverDeviceTokens)
	assert.InDelta(t, 0.02, cfg.SilenceThreshold, 1e-9)
}

func TestBadValuesFallBackToDefaults(t *testing.T) {
	t.Setenv("MAX_REMINDERS", "three")
	t.Setenv("DELAY_WAIT", "soon")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.MaxReminders)
	assert.Equal(t, 5*time.Minute, cfg.DelayWait)
}

func validConfig() *Config {
	return &Config{
		StoreDriver:    "memory",
		VoiceMode:      "console",
		IntentProvider: "openai",
		OpenAIAPIKey:   "sk-test",
		SchedulerMode:  "demo",
		MaxReminders:   3,
		MaxDelays:      3,
		DelayWait:      time.Second,
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"unknown store", func(c *Config) { c.StoreDriver = "mongo" }, true},
		{"postgres without url", func(c *Config) { c.StoreDriver = "postgres"; c.DatabaseURL = "" }, true},
		{"gemini without key", func(c *Config) { c.IntentProvider = "gemini" }, true},
		{"google voice without credentials", func(c *Config) { c.VoiceMode = "google" }, true},
		{"bad scheduler mode", func(c *Config) { c.SchedulerMode = "cron" }, true},
		{"zero reminders", func(c *Config) { c.MaxReminders = 0 }, true},
		{"zero delay wait", func(c *Config) { c.DelayWait = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConsoleMode(t *testing.T) {
	cfg := validConfig()
	cfg.VoiceMode = "google"
	cfg.PillboxEnabled = true

	cfg.ConsoleMode()

	assert.Equal(t, "console", cfg.VoiceMode)
	assert.False(t, cfg.PillboxEnabled)
}
