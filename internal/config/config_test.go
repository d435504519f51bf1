package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 500, cfg.Sweep.BatchSize)
	assert.Equal(t, 100, cfg.Sweep.DrainLimit)
	assert.Equal(t, 7, cfg.Reminders.MonthlyWarningDays)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "log", cfg.Mail.Provider)
}

func TestFromYAMLLayersOverDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte(`
timezone: Europe/Paris
sweep:
  concurrency: 2
escalation:
  email: ops@example.com
`))
	require.NoError(t, err)
	assert.Equal(t, "Europe/Paris", cfg.Timezone)
	assert.Equal(t, 2, cfg.Sweep.Concurrency)
	assert.Equal(t, 500, cfg.Sweep.BatchSize)
	assert.Equal(t, "ops@example.com", cfg.Escalation.Email)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"bad timezone":      "timezone: Mars/Olympus\n",
		"bad provider":      "mail:\n  provider: pigeon\n",
		"smtp without host": "mail:\n  provider: smtp\n  from: a@example.com\n",
		"bad schedule":      "sweep:\n  schedule: every now and then\n",
		"zero batch":        "sweep:\n  batch_size: 0\n",
		"bad reminders":     "reminders:\n  monthly_days_before: -1\n",
		"webhook url":       "webhooks:\n  - secret: s\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromYAML([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	cfg.Auth.CronSecret = "from-file"
	env := map[string]string{
		"INSPECTLINE_JWT_SECRET": "jwt",
		"TWILIO_AUTH_TOKEN":      "tok",
	}
	cfg.ApplyEnv(func(k string) string { return env[k] })
	assert.Equal(t, "jwt", cfg.Auth.JWTSecret)
	assert.Equal(t, "from-file", cfg.Auth.CronSecret)
	assert.Equal(t, "tok", cfg.Push.Twilio.AuthToken)
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	require.NoError(t, err)
	assert.Equal(t, "UTC", cfg.Timezone)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "inspectline.yml"), []byte("timezone: America/New_York\n"), 0o644))
	cfg, err = Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "America/New_York", cfg.Timezone)
}
