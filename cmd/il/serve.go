package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"inspectline/internal/app"
	"inspectline/internal/server"
)

func serveCmd() *cobra.Command {
	var addr, basePath string
	var noScheduler bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API, the scheduler and the event dispatcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			cfg := a.Config
			if cfg.Auth.JWTSecret == "" {
				a.Close(context.Background())
				return fmt.Errorf("INSPECTLINE_JWT_SECRET is required for bearer auth")
			}
			if addr == "" {
				addr = cfg.Server.Addr
			}
			handler, err := server.New(server.Config{
				Engine:   a.Engine,
				Sweeper:  a.Sweeper,
				BasePath: basePath,
				Auth: server.AuthConfig{
					JWTSecret:     cfg.Auth.JWTSecret,
					CronSecret:    cfg.Auth.CronSecret,
					WebhookSecret: cfg.Auth.WebhookSecret,
				},
				Logger: a.Logger.With("component", "http"),
			})
			if err != nil {
				a.Close(context.Background())
				return err
			}

			sched, err := a.Scheduler()
			if err != nil {
				a.Close(context.Background())
				return err
			}
			if !noScheduler {
				sched.Start()
			}
			dispatcher := a.Dispatcher()
			dispatchDone := make(chan struct{})
			go func() {
				defer close(dispatchDone)
				if dispatcher.Len() > 0 {
					dispatcher.Run(ctx)
				}
			}()

			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			stopped := make(chan struct{})
			go func() {
				defer close(stopped)
				<-ctx.Done()
				shutdown(a, srv, sched, dispatchDone, cfg.Server.ShutdownTimeout)
			}()
			a.Logger.Info("serving", "addr", addr, "base_path", basePath, "scheduler", !noScheduler && sched.Len() > 0, "sinks", dispatcher.Len())
			serveErr := srv.ListenAndServe()
			stop()
			<-stopped
			if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
				return serveErr
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	cmd.Flags().BoolVar(&noScheduler, "no-scheduler", false, "rely on external cron calls instead of in-process schedules")
	return cmd
}

type stopper interface {
	Stop(ctx context.Context)
}

// shutdown stops intake first, then waits for in-flight work and queued
// notification tasks before closing the database.
func shutdown(a *app.App, srv *http.Server, sched stopper, dispatchDone <-chan struct{}, timeout time.Duration) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		a.Logger.Warn("http shutdown", "err", err)
	}
	sched.Stop(ctx)
	select {
	case <-dispatchDone:
	case <-ctx.Done():
	}
	if err := a.Close(ctx); err != nil {
		a.Logger.Warn("close", "err", err)
	}
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one reminder sweep now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := a.Sweeper.Run(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.SetTitle("Sweep at " + res.Timestamp.Format(time.RFC3339))
				tw.AppendHeader(table.Row{"Metric", "Value"})
				tw.AppendRow(table.Row{"queued", res.Queued})
				tw.AppendRow(table.Row{"emails sent", res.Processed.Sent})
				tw.AppendRow(table.Row{"emails failed", res.Processed.Failed})
				tw.AppendRow(table.Row{"push sent", res.Push.Sent})
				tw.AppendRow(table.Row{"push failed", res.Push.Failed})
				for cat, n := range res.Reminders.ByCategory {
					tw.AppendRow(table.Row{"reminders " + string(cat), n})
				}
				tw.AppendRow(table.Row{"unassigned overdue", res.Escalation.UnassignedCount})
				tw.AppendRow(table.Row{"escalation sent", res.Escalation.Sent})
				tw.SortBy([]table.SortBy{{Name: "Metric", Mode: table.Asc}})
				tw.Render()
				return nil
			})
		},
	}
}

func recurCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recur",
		Short: "Generate the next instances of active templates",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := a.Engine.RollOver(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Instance", "Template", "Due"})
				for _, inst := range res.Created {
					tw.AppendRow(table.Row{inst.ID, inst.TemplateID, humanize.Time(inst.DueAt)})
				}
				tw.AppendFooter(table.Row{"", fmt.Sprintf("%d templates", res.Templates), fmt.Sprintf("%d failed", len(res.Failed))})
				tw.Render()
				return nil
			})
		},
	}
}
