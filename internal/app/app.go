// Package app wires the store, transports, engine and sweeper from a
// deployment config.
package app

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"inspectline/internal/config"
	"inspectline/internal/db"
	"inspectline/internal/dispatch"
	"inspectline/internal/engine"
	"inspectline/internal/migrate"
	"inspectline/internal/notify"
	"inspectline/internal/repo"
	"inspectline/internal/scheduler"
	"inspectline/internal/sweep"
	"inspectline/internal/tasks"
)

type App struct {
	Config  *config.Config
	DB      *sql.DB
	Repo    repo.Repo
	Engine  engine.Engine
	Sweeper sweep.Sweeper
	Tasks   *tasks.Queue
	Logger  *slog.Logger

	closers []func() error
}

type Options struct {
	Workspace string
	DBPath    string
	Logger    *slog.Logger
	// Mailer and Pusher override the configured transports.
	Mailer notify.Mailer
	Pusher notify.Pusher
}

// Open connects to the database, applies migrations and builds the
// engine and sweeper.
func Open(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := db.Open(db.Config{Workspace: opts.Workspace, Path: opts.DBPath})
	if err != nil {
		return nil, err
	}
	if _, err := migrate.MigrateContext(ctx, conn); err != nil {
		conn.Close()
		return nil, err
	}
	a := &App{Config: cfg, DB: conn, Repo: repo.Repo{DB: conn}, Logger: logger}
	a.closers = append(a.closers, conn.Close)

	a.Tasks = tasks.New(tasks.Options{Workers: cfg.Tasks.Workers, QueueSize: cfg.Tasks.QueueSize, Logger: logger.With("component", "tasks")})

	eng := engine.New(conn, cfg)
	eng.Tasks = a.Tasks
	eng.Logger = logger.With("component", "engine")
	a.Engine = eng

	mailer := opts.Mailer
	if mailer == nil {
		if mailer, err = BuildMailer(ctx, cfg, logger); err != nil {
			a.Close(ctx)
			return nil, err
		}
	}
	pusher := opts.Pusher
	if pusher == nil {
		if pusher, err = BuildPusher(cfg, a.Repo); err != nil {
			a.Close(ctx)
			return nil, err
		}
	}
	zone, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		zone = time.UTC
	}
	a.Sweeper = sweep.Sweeper{
		Store:  a.Repo,
		Events: eng.Events,
		Mailer: mailer,
		Pusher: pusher,
		Logger: logger.With("component", "sweep"),
		Options: sweep.Options{
			BatchSize:       cfg.Sweep.BatchSize,
			DrainLimit:      cfg.Sweep.DrainLimit,
			Concurrency:     cfg.Sweep.Concurrency,
			EscalationEmail: cfg.Escalation.Email,
			AppURL:          cfg.AppURL,
			Zone:            zone,
		},
		Fallback: eng.FallbackSettings(),
	}
	return a, nil
}

// BuildMailer picks the mail transport named by mail.provider.
func BuildMailer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (notify.Mailer, error) {
	switch cfg.Mail.Provider {
	case "smtp":
		return notify.SMTPMailer{
			Host:     cfg.Mail.SMTP.Host,
			Port:     cfg.Mail.SMTP.Port,
			Username: cfg.Mail.SMTP.Username,
			Password: cfg.Mail.SMTP.Password,
			From:     cfg.Mail.From,
		}, nil
	case "ses":
		return notify.NewSESMailer(ctx, cfg.Mail.SES.Region, cfg.Mail.From)
	}
	return notify.LogMailer{Logger: logger.With("component", "mail")}, nil
}

// BuildPusher returns the Twilio pusher when enabled, else a no-op.
func BuildPusher(cfg *config.Config, profiles notify.ProfileLookup) (notify.Pusher, error) {
	tw := cfg.Push.Twilio
	if !tw.Enabled {
		return notify.NopPusher{}, nil
	}
	return notify.NewTwilioPusher(notify.TwilioConfig{
		AccountSID:   tw.AccountSID,
		AuthToken:    tw.AuthToken,
		From:         tw.From,
		WhatsAppFrom: tw.WhatsAppFrom,
	}, profiles)
}

// Dispatcher builds the audit event fan-out from the webhooks and kafka
// sections.
func (a *App) Dispatcher() *dispatch.Dispatcher {
	d := dispatch.New(a.Repo, a.Logger.With("component", "dispatch"))
	for _, w := range a.Config.Webhooks {
		d.Add(dispatch.WebhookSink{URL: w.URL, Secret: w.Secret}, w.Events)
	}
	if len(a.Config.Kafka.Brokers) > 0 {
		sink := dispatch.NewKafkaSink(a.Config.Kafka.Brokers, a.Config.Kafka.Topic)
		a.closers = append(a.closers, sink.Close)
		d.Add(sink, nil)
	}
	return d
}

// Scheduler registers the sweep and recurrence jobs.
func (a *App) Scheduler() (*scheduler.Scheduler, error) {
	s := scheduler.New(a.Sweeper.Options.Zone, a.Logger.With("component", "scheduler"))
	if err := s.Add("sweep", a.Config.Sweep.Schedule, func(ctx context.Context) error {
		_, err := a.Sweeper.Run(ctx)
		return err
	}); err != nil {
		return nil, err
	}
	if err := s.Add("recurrence", a.Config.Recurrence.Schedule, func(ctx context.Context) error {
		_, err := a.Engine.RollOver(ctx)
		return err
	}); err != nil {
		return nil, err
	}
	return s, nil
}

// Close drains background tasks, then releases resources in reverse order.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Tasks != nil {
		if err := a.Tasks.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
