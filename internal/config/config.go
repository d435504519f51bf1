package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"inspectline/internal/reminder"
)

// Config models inspectline.yml.
type Config struct {
	Timezone string `yaml:"timezone"`
	AppURL   string `yaml:"app_url"`

	Server struct {
		Addr            string        `yaml:"addr"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Auth struct {
		JWTSecret     string `yaml:"jwt_secret"`
		CronSecret    string `yaml:"cron_secret"`
		WebhookSecret string `yaml:"webhook_secret"`
	} `yaml:"auth"`

	// Reminders seeds the fallback used when no settings row is stored.
	Reminders reminder.Settings `yaml:"reminders"`

	Sweep struct {
		Schedule    string `yaml:"schedule"`
		BatchSize   int    `yaml:"batch_size"`
		DrainLimit  int    `yaml:"drain_limit"`
		Concurrency int    `yaml:"concurrency"`
	} `yaml:"sweep"`

	Recurrence struct {
		Schedule string `yaml:"schedule"`
	} `yaml:"recurrence"`

	Escalation struct {
		Email string `yaml:"email"`
	} `yaml:"escalation"`

	Mail MailConfig `yaml:"mail"`

	Push struct {
		Twilio struct {
			Enabled      bool   `yaml:"enabled"`
			AccountSID   string `yaml:"account_sid"`
			AuthToken    string `yaml:"auth_token"`
			From         string `yaml:"from"`
			WhatsAppFrom string `yaml:"whatsapp_from"`
		} `yaml:"twilio"`
	} `yaml:"push"`

	Tasks struct {
		Workers   int `yaml:"workers"`
		QueueSize int `yaml:"queue_size"`
	} `yaml:"tasks"`

	Webhooks []WebhookConfig `yaml:"webhooks"`

	Kafka struct {
		Brokers []string `yaml:"brokers"`
		Topic   string   `yaml:"topic"`
	} `yaml:"kafka"`
}

type MailConfig struct {
	Provider string `yaml:"provider"`
	From     string `yaml:"from"`
	SMTP     struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
	} `yaml:"smtp"`
	SES struct {
		Region string `yaml:"region"`
	} `yaml:"ses"`
}

// WebhookConfig is one outbound audit event subscriber.
type WebhookConfig struct {
	URL    string   `yaml:"url"`
	Secret string   `yaml:"secret"`
	Events []string `yaml:"events"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with il config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional falls back to Default when the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			return fmt.Errorf("config.timezone: %w", err)
		}
	}
	if err := c.Reminders.Validate(); err != nil {
		return fmt.Errorf("config.reminders: %w", err)
	}
	if c.Sweep.BatchSize <= 0 {
		return errors.New("config.sweep.batch_size must be positive")
	}
	if c.Sweep.DrainLimit <= 0 {
		return errors.New("config.sweep.drain_limit must be positive")
	}
	if c.Sweep.Concurrency <= 0 {
		return errors.New("config.sweep.concurrency must be positive")
	}
	for name, spec := range map[string]string{"sweep": c.Sweep.Schedule, "recurrence": c.Recurrence.Schedule} {
		if spec == "" {
			continue
		}
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("config.%s.schedule: %w", name, err)
		}
	}
	switch c.Mail.Provider {
	case "log":
	case "smtp":
		if c.Mail.SMTP.Host == "" || c.Mail.From == "" {
			return errors.New("config.mail.smtp.host and config.mail.from are required for smtp")
		}
	case "ses":
		if c.Mail.From == "" {
			return errors.New("config.mail.from is required for ses")
		}
	default:
		return fmt.Errorf("config.mail.provider must be log, smtp or ses, got %q", c.Mail.Provider)
	}
	for i, w := range c.Webhooks {
		if w.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		return errors.New("config.kafka.topic is required when brokers are set")
	}
	if c.Tasks.Workers <= 0 || c.Tasks.QueueSize <= 0 {
		return errors.New("config.tasks.workers and queue_size must be positive")
	}
	return nil
}

// ApplyEnv overrides secrets from the environment. Values already in the
// file are kept when a variable is unset.
func (c *Config) ApplyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&c.Auth.JWTSecret, "INSPECTLINE_JWT_SECRET")
	set(&c.Auth.CronSecret, "INSPECTLINE_CRON_SECRET")
	set(&c.Auth.WebhookSecret, "INSPECTLINE_WEBHOOK_SECRET")
	set(&c.Escalation.Email, "INSPECTLINE_ESCALATION_EMAIL")
	set(&c.Mail.SMTP.Password, "INSPECTLINE_SMTP_PASSWORD")
	set(&c.Push.Twilio.AccountSID, "TWILIO_ACCOUNT_SID")
	set(&c.Push.Twilio.AuthToken, "TWILIO_AUTH_TOKEN")
	set(&c.Push.Twilio.From, "TWILIO_FROM_NUMBER")
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "inspectline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Keys missing
// from data keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `timezone: UTC
app_url: ""

server:
  addr: ":8080"
  shutdown_timeout: 10s

reminders:
  monthly_days_before: 7
  yearly_months_before: 6
  three_year_months_before: 6
  weekly_due_day: true
  monthly_due_day: true
  yearly_due_day: true
  three_year_due_day: true
  yearly_monthly_reminder: true
  three_year_monthly_reminder: true
  monthly_warning_days: 7

sweep:
  schedule: "*/15 * * * *"
  batch_size: 500
  drain_limit: 100
  concurrency: 8

recurrence:
  schedule: "5 0 * * *"

escalation:
  email: ""

mail:
  provider: log
  from: ""
  smtp:
    port: 587

push:
  twilio:
    enabled: false

tasks:
  workers: 4
  queue_size: 256

webhooks: []

kafka:
  brokers: []
  topic: inspectline.events
`
