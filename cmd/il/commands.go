package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"inspectline/internal/app"
	"inspectline/internal/config"
	"inspectline/internal/db"
	"inspectline/internal/domain"
	"inspectline/internal/engine"
	"inspectline/internal/engine/auth"
	"inspectline/internal/migrate"
	"inspectline/internal/repo"
	"inspectline/internal/server"
)

func locationCmd() *cobra.Command {
	loc := &cobra.Command{Use: "location", Short: "Manage locations"}
	loc.AddCommand(locationCreateCmd())
	loc.AddCommand(locationListCmd())
	return loc
}

func locationCreateCmd() *cobra.Command {
	var opts engine.LocationCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a location",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, a *app.App, actor auth.Actor) error {
				opts.Actor = actor
				l, err := a.Engine.CreateLocation(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(l)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "location id (generated when empty)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "display name")
	cmd.Flags().StringVar(&opts.Timezone, "timezone", "", "IANA timezone (defaults to config timezone)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func locationListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List locations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Repo.ListLocations(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Timezone"})
				for _, l := range items {
					tw.AppendRow(table.Row{l.ID, l.Name, l.Timezone})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func profileCmd() *cobra.Command {
	p := &cobra.Command{Use: "profile", Short: "Manage staff profiles"}
	p.AddCommand(profileCreateCmd())
	p.AddCommand(profileListCmd())
	return p
}

func profileCreateCmd() *cobra.Command {
	var opts engine.ProfileCreateOptions
	var role string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a staff profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, a *app.App, actor auth.Actor) error {
				opts.Actor = actor
				opts.Role = domain.Role(role)
				p, err := a.Engine.CreateProfile(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "profile id (generated when empty)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "display name")
	cmd.Flags().StringVar(&opts.Email, "email", "", "email address")
	cmd.Flags().StringVar(&opts.Phone, "phone", "", "E.164 phone number for SMS")
	cmd.Flags().StringVar(&role, "role", string(domain.RoleInspector), "owner, admin, nurse or inspector")
	cmd.Flags().StringSliceVar(&opts.LocationIDs, "location", nil, "location ids (repeatable)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func profileListCmd() *cobra.Command {
	var locationID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Repo.ListProfiles(ctx, locationID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Role", "Email", "Phone", "Locations"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Name, p.Role, p.Email, p.Phone, strings.Join(p.LocationIDs, ",")})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&locationID, "location", "", "only profiles at this location")
	return cmd
}

func templateCmd() *cobra.Command {
	t := &cobra.Command{Use: "template", Short: "Manage recurring inspection templates"}
	t.AddCommand(templateCreateCmd())
	t.AddCommand(templateListCmd())
	t.AddCommand(templateDeactivateCmd())
	return t
}

func templateCreateCmd() *cobra.Command {
	var opts engine.TemplateCreateOptions
	var frequency string
	var dow, dom, month int
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a template and its first instance",
		Example: `  il template create --location loc-1 --name "Fire extinguisher" --frequency weekly --day-of-week 1
  il template create --location loc-1 --name "Boiler" --frequency yearly --month 3 --day-of-month 15`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Frequency = domain.Frequency(frequency)
			if cmd.Flags().Changed("day-of-week") {
				opts.Anchor.DayOfWeek = &dow
			}
			if cmd.Flags().Changed("day-of-month") {
				opts.Anchor.DayOfMonth = &dom
			}
			if cmd.Flags().Changed("month") {
				opts.Anchor.Month = &month
			}
			return withActor(cmd.Context(), func(ctx context.Context, a *app.App, actor auth.Actor) error {
				opts.Actor = actor
				t, inst, err := a.Engine.CreateTemplate(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"template": t, "first_instance": inst})
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "template id (generated when empty)")
	cmd.Flags().StringVar(&opts.LocationID, "location", "", "location id")
	cmd.Flags().StringVar(&opts.Name, "name", "", "inspection name")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&frequency, "frequency", "", "daily, weekly, monthly, quarterly, yearly or every_3_years")
	cmd.Flags().IntVar(&dow, "day-of-week", 0, "0 (Sunday) to 6 (Saturday)")
	cmd.Flags().IntVar(&dom, "day-of-month", 0, "1 to 31, clamped to short months")
	cmd.Flags().IntVar(&month, "month", 0, "1 to 12")
	cmd.Flags().StringVar(&opts.AssigneeProfileID, "assignee", "", "assignee profile id")
	cmd.Flags().StringVar(&opts.AssigneeEmail, "assignee-email", "", "assignee email when there is no profile")
	_ = cmd.MarkFlagRequired("location")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("frequency")
	return cmd
}

func templateListCmd() *cobra.Command {
	var f repo.TemplateFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List templates",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Repo.ListTemplates(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Location", "Frequency", "Assignee", "Active"})
				for _, t := range items {
					assignee := deref(t.AssigneeProfileID)
					if assignee == "" {
						assignee = deref(t.AssigneeEmail)
					}
					tw.AppendRow(table.Row{t.ID, t.Name, t.LocationID, t.Frequency, assignee, t.Active})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.LocationID, "location", "", "location filter")
	cmd.Flags().BoolVar(&f.ActiveOnly, "active", false, "only active templates")
	return cmd
}

func templateDeactivateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deactivate <id>",
		Short: "Stop generating instances for a template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, a *app.App, actor auth.Actor) error {
				t, err := a.Engine.DeactivateTemplate(ctx, args[0], actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func instanceCmd() *cobra.Command {
	i := &cobra.Command{Use: "instance", Short: "Work inspection instances"}
	i.AddCommand(instanceListCmd())
	i.AddCommand(instanceTransitionCmd())
	i.AddCommand(instanceRemindCmd())
	return i
}

func instanceListCmd() *cobra.Command {
	var f repo.InstanceFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List instances",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Repo.ListInstances(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Template", "Location", "Due", "", "Status", "Assignee"})
				for _, inst := range items {
					assignee := deref(inst.AssigneeProfileID)
					if assignee == "" {
						assignee = deref(inst.AssigneeEmail)
					}
					tw.AppendRow(table.Row{inst.ID, inst.TemplateID, inst.LocationID, inst.DueAt.Format(time.RFC3339), humanize.Time(inst.DueAt), inst.Status, assignee})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.LocationID, "location", "", "location filter")
	cmd.Flags().StringVar(&f.TemplateID, "template", "", "template filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.AssigneeID, "assignee", "", "assignee profile filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max rows")
	return cmd
}

func instanceTransitionCmd() *cobra.Command {
	var remarks string
	cmd := &cobra.Command{
		Use:   "transition <id> <status>",
		Short: "Move an instance to a new status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var remarksPtr *string
			if cmd.Flags().Changed("remarks") {
				remarksPtr = &remarks
			}
			return withActor(cmd.Context(), func(ctx context.Context, a *app.App, actor auth.Actor) error {
				inst, err := a.Engine.TransitionInstance(ctx, engine.TransitionOptions{
					InstanceID: args[0],
					To:         domain.Status(args[1]),
					Remarks:    remarksPtr,
					Actor:      actor,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(inst)
			})
		},
	}
	cmd.Flags().StringVar(&remarks, "remarks", "", "inspection remarks")
	return cmd
}

func instanceRemindCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remind <id>",
		Short: "Queue a manual reminder to the assignee",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, a *app.App, actor auth.Actor) error {
				n, err := a.Engine.Remind(ctx, args[0], actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(n)
			})
		},
	}
}

func outboxCmd() *cobra.Command {
	o := &cobra.Command{Use: "outbox", Short: "Inspect the notification outbox"}
	o.AddCommand(outboxListCmd())
	o.AddCommand(outboxStatsCmd())
	o.AddCommand(outboxRequeueCmd())
	return o
}

func outboxListCmd() *cobra.Command {
	var f repo.NotificationFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List notifications, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Repo.ListNotifications(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Category", "To", "Subject", "Status", "Created", "Error"})
				for _, n := range items {
					tw.AppendRow(table.Row{n.ID, n.Category, n.Destination, n.Subject, n.Status, humanize.Time(n.CreatedAt), deref(n.Error)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "queued, sent or failed")
	cmd.Flags().StringVar(&f.Category, "category", "", "category filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max rows")
	return cmd
}

func outboxStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Count notifications by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				counts, err := a.Repo.CountNotifications(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(counts)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Status", "Count"})
				for _, s := range []domain.NotificationStatus{domain.NotificationQueued, domain.NotificationSent, domain.NotificationFailed} {
					tw.AppendRow(table.Row{s, humanize.Comma(int64(counts[s]))})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func outboxRequeueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "requeue <id>",
		Short: "Queue a failed notification again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, a *app.App, actor auth.Actor) error {
				n, err := a.Engine.RequeueNotification(ctx, args[0], actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(n)
			})
		},
	}
}

func settingsCmd() *cobra.Command {
	s := &cobra.Command{Use: "settings", Short: "Reminder settings"}
	s.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show effective reminder settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				settings, err := a.Engine.ReminderSettings(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(settings)
			})
		},
	})
	s.AddCommand(settingsSetCmd())
	return s
}

func settingsSetCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Store reminder settings from a YAML file",
		Long:  "Keys missing from the file keep their current values.",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(filePath)
			if err != nil {
				return err
			}
			return withActor(cmd.Context(), func(ctx context.Context, a *app.App, actor auth.Actor) error {
				current, err := a.Engine.ReminderSettings(ctx)
				if err != nil {
					return err
				}
				if err := yaml.Unmarshal(data, &current); err != nil {
					return fmt.Errorf("invalid settings yaml: %w", err)
				}
				saved, err := a.Engine.SaveReminderSettings(ctx, current, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(saved)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML settings")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func logCmd() *cobra.Command {
	l := &cobra.Command{Use: "log", Short: "Audit event log"}
	var f repo.EventFilters
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show the latest events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Repo.LatestEvents(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "When", "Type", "Entity", "Actor"})
				for _, e := range items {
					tw.AppendRow(table.Row{e.ID, e.TS, e.Type, e.EntityKind + ":" + e.EntityID, e.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	tail.Flags().IntVar(&f.Limit, "n", 20, "number of events")
	tail.Flags().StringVar(&f.Type, "type", "", "event type filter")
	tail.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	tail.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	tail.Flags().StringVar(&f.LocationID, "location", "", "location id")
	l.AddCommand(tail)
	return l
}

func configCmd() *cobra.Command {
	c := &cobra.Command{Use: "config", Short: "Deployment config (inspectline.yml)"}
	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default inspectline.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; pass --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	c.AddCommand(initCmd)
	c.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate inspectline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.Load(viper.GetString("workspace")); err != nil {
				return err
			}
			fmt.Println("config ok")
			return nil
		},
	})
	c.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective config with secrets redacted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			redacted := *cfg
			for _, s := range []*string{&redacted.Auth.JWTSecret, &redacted.Auth.CronSecret, &redacted.Auth.WebhookSecret, &redacted.Mail.SMTP.Password, &redacted.Push.Twilio.AuthToken} {
				if *s != "" {
					*s = "********"
				}
			}
			out, err := yaml.Marshal(&redacted)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	})
	return c
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace"), Path: viper.GetString("db")})
			if err != nil {
				return err
			}
			defer conn.Close()
			version, err := migrate.MigrateContext(cmd.Context(), conn)
			if err != nil {
				return err
			}
			fmt.Printf("schema at version %d\n", version)
			return nil
		},
	}
}

func tokenCmd() *cobra.Command {
	var profileID string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an API bearer token for a profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if _, err := a.Repo.GetProfile(ctx, profileID); err != nil {
					return err
				}
				tok, err := server.SignToken(a.Config.Auth.JWTSecret, profileID, ttl, time.Now())
				if err != nil {
					return err
				}
				fmt.Println(tok)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&profileID, "profile", "", "profile id the token acts as")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime; 0 never expires")
	_ = cmd.MarkFlagRequired("profile")
	return cmd
}
