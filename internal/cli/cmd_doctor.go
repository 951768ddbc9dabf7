package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	debugpkg "github.com/inzamrzn918/checkerq-sub000/internal/debug"
	"github.com/inzamrzn918/checkerq-sub000/internal/storage"
)

func newDoctorCommand(deps commandDeps) *cobra.Command {
	var bundlePath string
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check config, database, settings and backup directory",
		Example: "  checkerq doctor\n" +
			"  checkerq doctor --bundle ./checkerq-debug.json",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 {
				return usageErrorf("doctor does not accept positional arguments")
			}

			bundle := debugpkg.NewBundle()
			bundle.Version = map[string]any{
				"version":    deps.build.Version,
				"commit":     deps.build.Commit,
				"build_time": deps.build.BuildTime,
			}

			rt, err := openRuntime(deps)
			if err != nil {
				bundle.Checks = append(bundle.Checks, debugpkg.Check{Name: "config", OK: false, Message: err.Error()})
			} else {
				defer rt.Close()
				bundle.Checks = append(bundle.Checks, debugpkg.Check{Name: "config", OK: true, Message: configMessage(rt)})
				bundle.Config = map[string]any{
					"storage_path":     rt.cfg.Storage.Path,
					"schema_policy":    rt.cfg.Storage.SchemaPolicy,
					"backup_dir":       rt.cfg.Backup.Dir,
					"settings_path":    rt.cfg.Settings.Path,
					"policy_overrides": rt.report.PolicyOverrides,
				}

				ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout(deps.globals))
				defer cancel()
				bundle.Checks = append(bundle.Checks, checkStorage(ctx, rt, &bundle))
				bundle.Checks = append(bundle.Checks, checkSettings(ctx, rt)...)
				bundle.Checks = append(bundle.Checks, checkBackupDir(rt.cfg.Backup.Dir))
			}

			if strings.TrimSpace(bundlePath) != "" {
				if err := debugpkg.WriteBundle(bundlePath, bundle); err != nil {
					return mapCommandError(err)
				}
			}

			if deps.globals.JSON {
				if err := printJSON(deps.out, map[string]any{"checks": bundle.Checks, "bundle": bundlePath}); err != nil {
					return mapCommandError(err)
				}
			} else if !deps.globals.Quiet {
				for _, check := range bundle.Checks {
					if _, err := fmt.Fprintf(deps.out, "%s: %s (%s)\n", check.Name, boolToState(check.OK, "ok", "fail"), check.Message); err != nil {
						return mapCommandError(err)
					}
				}
				if bundlePath != "" {
					fmt.Fprintf(deps.out, "debug bundle written: %s\n", bundlePath)
				}
			}

			if bundle.Failed() {
				return asExitError(ExitCodeGeneric, fmt.Errorf("doctor: one or more checks failed"))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&bundlePath, "bundle", "", "Also write a sanitized JSON debug bundle to this path")
	return cmd
}

func configMessage(rt *runtime) string {
	source := rt.report.ConfigPath
	if _, err := os.Stat(source); err != nil {
		source = "defaults"
	}
	if rt.report.EnvFile != "" {
		source += " + " + rt.report.EnvFile
	}
	return source
}

func checkStorage(ctx context.Context, rt *runtime, bundle *debugpkg.Bundle) debugpkg.Check {
	store, err := rt.handle.Open(ctx)
	if err != nil {
		return debugpkg.Check{Name: "storage", OK: false, Message: err.Error()}
	}
	version, err := store.SchemaVersion()
	if err != nil {
		return debugpkg.Check{Name: "storage", OK: false, Message: err.Error()}
	}
	counts, err := store.Counts(ctx)
	if err != nil {
		return debugpkg.Check{Name: "storage", OK: false, Message: err.Error()}
	}
	bundle.Storage = map[string]any{
		"schema_version": version,
		"schema_current": storage.CurrentSchemaVersion(),
		"assessments":    counts.Assessments,
		"questions":      counts.Questions,
		"evaluations":    counts.Evaluations,
	}
	return debugpkg.Check{
		Name: "storage",
		OK:   true,
		Message: fmt.Sprintf("%s schema v%d, %d assessments, %d evaluations",
			store.Path(), version, counts.Assessments, counts.Evaluations),
	}
}

func checkSettings(ctx context.Context, rt *runtime) []debugpkg.Check {
	prefs, err := rt.prefs.BackupPreferences(ctx)
	if err != nil {
		return []debugpkg.Check{{Name: "settings", OK: false, Message: err.Error()}}
	}
	checks := []debugpkg.Check{{
		Name:    "settings",
		OK:      true,
		Message: fmt.Sprintf("%s, auto backup %s (%s)", rt.store.Path(), boolToState(prefs.AutoBackupEnabled, "on", "off"), prefs.BackupFrequency),
	}}

	// Missing keys only limit grading; the store itself still works.
	ready, err := rt.prefs.HasValidKeys(ctx)
	if err != nil {
		return append(checks, debugpkg.Check{Name: "api_keys", OK: false, Message: err.Error()})
	}
	return append(checks, debugpkg.Check{
		Name:    "api_keys",
		OK:      true,
		Message: boolToState(ready, "extraction key configured", "no extraction key, grading unavailable"),
	})
}

func checkBackupDir(dir string) debugpkg.Check {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return debugpkg.Check{Name: "backup_dir", OK: false, Message: err.Error()}
	}
	probe, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return debugpkg.Check{Name: "backup_dir", OK: false, Message: err.Error()}
	}
	name := probe.Name()
	_ = probe.Close()
	_ = os.Remove(name)
	return debugpkg.Check{Name: "backup_dir", OK: true, Message: filepath.Clean(dir) + " writable"}
}
