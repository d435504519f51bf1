package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"inspectline/internal/app"
	"inspectline/internal/engine/auth"
)

func apiKeyCmd() *cobra.Command {
	k := &cobra.Command{Use: "apikey", Short: "Manage integration API keys"}
	k.AddCommand(apiKeyCreateCmd())
	k.AddCommand(apiKeyListCmd())
	k.AddCommand(apiKeyRevokeCmd())
	return k
}

func apiKeyCreateCmd() *cobra.Command {
	var profileID, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Issue an API key acting as a profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, a *app.App, actor auth.Actor) error {
				plain, key, err := a.Engine.CreateAPIKey(ctx, profileID, name, actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"key": plain, "api_key": key})
				}
				fmt.Fprintf(os.Stdout, "%s\n", plain)
				fmt.Fprintln(os.Stderr, "store this key now; it cannot be shown again")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&profileID, "profile", "", "profile the key acts as")
	cmd.Flags().StringVar(&name, "name", "", "label for the key")
	_ = cmd.MarkFlagRequired("profile")
	return cmd
}

func apiKeyListCmd() *cobra.Command {
	var profileID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				keys, err := a.Repo.ListAPIKeys(ctx, profileID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Profile", "Name", "Created", "Last used"})
				for _, k := range keys {
					used := "never"
					if k.LastUsedAt != nil {
						used = humanize.Time(*k.LastUsedAt)
					}
					tw.AppendRow(table.Row{k.ID, k.ProfileID, k.Name, humanize.Time(k.CreatedAt), used})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&profileID, "profile", "", "only keys for this profile")
	return cmd
}

func apiKeyRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, a *app.App, actor auth.Actor) error {
				if err := a.Engine.RevokeAPIKey(ctx, args[0], actor); err != nil {
					return err
				}
				fmt.Fprintf(os.Stdout, "revoked %s\n", args[0])
				return nil
			})
		},
	}
}
