package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/inzamrzn918/checkerq-sub000/internal/settings"
)

func newSettingsCommand(deps commandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Backup preferences and AI service keys",
		Example: "  checkerq settings prefs --auto-backup --frequency weekly\n" +
			"  checkerq settings keys status",
	}
	cmd.AddCommand(
		newSettingsPrefsCommand(deps),
		newSettingsKeysCommand(deps),
	)
	return cmd
}

func newSettingsPrefsCommand(deps commandDeps) *cobra.Command {
	var (
		autoBackup bool
		frequency  string
		driveEmail string
	)
	cmd := &cobra.Command{
		Use:   "prefs",
		Short: "Show or update backup preferences",
		Long:  "Without flags, prints the current preferences. Flags update only the fields they name.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 {
				return usageErrorf("settings prefs does not accept positional arguments")
			}
			flags := cmd.Flags()
			return withRuntime(cmd.Context(), deps, func(ctx context.Context, rt *runtime) error {
				prefs, err := rt.prefs.BackupPreferences(ctx)
				if err != nil {
					return err
				}
				changed := false
				if flags.Changed("auto-backup") {
					prefs.AutoBackupEnabled = autoBackup
					changed = true
				}
				if flags.Changed("frequency") {
					prefs.BackupFrequency = settings.BackupFrequency(frequency)
					changed = true
				}
				if flags.Changed("drive-email") {
					prefs.GoogleDriveEmail = driveEmail
					prefs.GoogleDriveConnected = driveEmail != ""
					changed = true
				}
				if changed {
					if err := rt.prefs.SetBackupPreferences(ctx, prefs); err != nil {
						return err
					}
				}
				return emit(deps, prefs, func(w io.Writer) error {
					last := "never"
					if prefs.LastBackupTime != nil {
						last = prefs.LastBackupTime.UTC().Format(time.RFC3339)
					}
					_, err := fmt.Fprintf(w, "auto_backup=%s frequency=%s last_backup=%s drive=%s\n",
						boolToState(prefs.AutoBackupEnabled, "on", "off"), prefs.BackupFrequency, last,
						boolToState(prefs.GoogleDriveConnected, prefs.GoogleDriveEmail, "disconnected"))
					return err
				})
			})
		},
	}
	cmd.Flags().BoolVar(&autoBackup, "auto-backup", false, "Enable scheduled backups")
	cmd.Flags().StringVar(&frequency, "frequency", "", "Backup frequency: daily, weekly or manual")
	cmd.Flags().StringVar(&driveEmail, "drive-email", "", "Account the backups are shared to; empty disconnects")
	return cmd
}

func newSettingsKeysCommand(deps commandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage AI service API keys",
	}
	cmd.AddCommand(
		newSettingsKeysStatusCommand(deps),
		newSettingsKeysSetCommand(deps),
		newSettingsKeysClearCommand(deps),
	)
	return cmd
}

func newSettingsKeysStatusCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report which keys are configured",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 {
				return usageErrorf("settings keys status does not accept positional arguments")
			}
			return withRuntime(cmd.Context(), deps, func(ctx context.Context, rt *runtime) error {
				keys, err := rt.prefs.APIKeys(ctx)
				if err != nil {
					return err
				}
				ready, err := rt.prefs.HasValidKeys(ctx)
				if err != nil {
					return err
				}
				payload := map[string]any{
					"gemini":  keys.Gemini != "",
					"mistral": keys.Mistral != "",
					"ready":   ready,
				}
				return emit(deps, payload, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "gemini=%s mistral=%s ready=%s\n",
						boolToState(keys.Gemini != "", "set", "unset"),
						boolToState(keys.Mistral != "", "set", "unset"),
						boolToState(ready, "yes", "no"))
					return err
				})
			})
		},
	}
}

func newSettingsKeysSetCommand(deps commandDeps) *cobra.Command {
	var keys settings.APIKeys
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Store API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 {
				return usageErrorf("settings keys set does not accept positional arguments")
			}
			if keys.Gemini == "" && keys.Mistral == "" {
				return usageErrorf("settings keys set requires --gemini or --mistral")
			}
			return withRuntime(cmd.Context(), deps, func(ctx context.Context, rt *runtime) error {
				if err := rt.prefs.SetAPIKeys(ctx, keys); err != nil {
					return err
				}
				return emit(deps, map[string]any{"saved": true}, func(w io.Writer) error {
					_, err := fmt.Fprintln(w, "api keys saved")
					return err
				})
			})
		},
	}
	cmd.Flags().StringVar(&keys.Gemini, "gemini", "", "Gemini API key")
	cmd.Flags().StringVar(&keys.Mistral, "mistral", "", "Mistral API key")
	return cmd
}

func newSettingsKeysClearCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove all stored API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 {
				return usageErrorf("settings keys clear does not accept positional arguments")
			}
			if err := requireYes(deps, "settings keys clear"); err != nil {
				return err
			}
			return withRuntime(cmd.Context(), deps, func(ctx context.Context, rt *runtime) error {
				if err := rt.prefs.ClearAPIKeys(ctx); err != nil {
					return err
				}
				return emit(deps, map[string]any{"cleared": true}, func(w io.Writer) error {
					_, err := fmt.Fprintln(w, "api keys cleared")
					return err
				})
			})
		},
	}
}
