package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/inzamrzn918/checkerq-sub000/internal/app"
)

func newBackupCommand(deps commandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Snapshot, export, import and restore data",
		Example: "  checkerq backup export --passphrase-stdin < pass.txt\n" +
			"  checkerq backup import checkerq_backup_2026-06-10.json",
	}
	cmd.AddCommand(
		newBackupCreateCommand(deps),
		newBackupExportCommand(deps),
		newBackupImportCommand(deps),
		newBackupRestoreCommand(deps),
		newBackupClearCommand(deps),
		newBackupAutoCommand(deps),
	)
	return cmd
}

func newBackupCreateCommand(deps commandDeps) *cobra.Command {
	var outputPath string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Print a snapshot of all data as JSON",
		Long:  "Builds a snapshot without writing to the backup directory.",
		Example: "  checkerq backup create > snapshot.json\n" +
			"  checkerq backup create --output ./snapshot.json",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 {
				return usageErrorf("backup create does not accept positional arguments")
			}
			return withRuntime(cmd.Context(), deps, func(ctx context.Context, rt *runtime) error {
				snapshot, err := rt.backups.CreateBackup(ctx)
				if err != nil {
					return err
				}
				data, err := app.EncodeSnapshot(snapshot)
				if err != nil {
					return err
				}
				if strings.TrimSpace(outputPath) == "" {
					_, err = deps.out.Write(append(data, '\n'))
					return err
				}
				if err := os.MkdirAll(filepath.Dir(outputPath), 0o700); err != nil {
					return fmt.Errorf("backup create: create directory: %w", err)
				}
				if err := os.WriteFile(outputPath, data, 0o600); err != nil {
					return fmt.Errorf("backup create: %w", err)
				}
				return emit(deps, map[string]any{
					"output":      outputPath,
					"assessments": len(snapshot.Assessments),
					"evaluations": len(snapshot.Evaluations),
				}, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "snapshot written: %s (%d assessments, %d evaluations)\n",
						outputPath, len(snapshot.Assessments), len(snapshot.Evaluations))
					return err
				})
			})
		},
	}
	cmd.Flags().StringVar(&outputPath, "output", "", "Write the snapshot to this path instead of stdout")
	return cmd
}

func newBackupExportCommand(deps commandDeps) *cobra.Command {
	var (
		pass  passphraseInput
		share bool
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a dated backup file to the backup directory",
		Example: "  checkerq backup export\n" +
			"  checkerq backup export --passphrase-stdin --share < pass.txt",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 {
				return usageErrorf("backup export does not accept positional arguments")
			}
			passphrase, err := pass.resolve(cmd.InOrStdin(), "backup export")
			if err != nil {
				return err
			}
			defer wipe(passphrase)

			return withRuntime(cmd.Context(), deps, func(ctx context.Context, rt *runtime) error {
				result, err := rt.backups.ExportToFile(ctx, app.ExportRequest{Passphrase: passphrase, Share: share})
				if err != nil {
					return err
				}
				return emit(deps, result, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "backup exported: %s (%d assessments, %d evaluations, encrypted=%s, shared=%s)\n",
						result.Path, result.Assessments, result.Evaluations,
						boolToState(result.Encrypted, "yes", "no"), boolToState(result.Shared, "yes", "no"))
					return err
				})
			})
		},
	}
	cmd.Flags().StringVar(&pass.value, "passphrase", "", "Encrypt the export with this passphrase")
	cmd.Flags().BoolVar(&pass.stdin, "passphrase-stdin", false, "Read the encryption passphrase from stdin")
	cmd.Flags().BoolVar(&share, "share", false, "Run backup.share_command on the written file")
	return cmd
}

func newBackupImportCommand(deps commandDeps) *cobra.Command {
	var pass passphraseInput
	cmd := &cobra.Command{
		Use:   "import <path>",
		Short: "Restore a backup file",
		Long: "Restores every record in the file, overwriting records with the same id.\n" +
			"A bare file name is looked up in the backup directory.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 || strings.TrimSpace(args[0]) == "" {
				return usageErrorf("backup import requires exactly one path")
			}
			passphrase, err := pass.resolve(cmd.InOrStdin(), "backup import")
			if err != nil {
				return err
			}
			defer wipe(passphrase)

			return withRuntime(cmd.Context(), deps, func(ctx context.Context, rt *runtime) error {
				result, err := rt.backups.ImportFromFile(ctx, app.ImportRequest{Path: args[0], Passphrase: passphrase})
				if err != nil {
					return err
				}
				return printRestoreResult(deps, result)
			})
		},
	}
	cmd.Flags().StringVar(&pass.value, "passphrase", "", "Passphrase of an encrypted backup")
	cmd.Flags().BoolVar(&pass.stdin, "passphrase-stdin", false, "Read the passphrase from stdin")
	return cmd
}

func newBackupRestoreCommand(deps commandDeps) *cobra.Command {
	var (
		file string
		pass passphraseInput
	)
	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Restore a snapshot from a file or stdin",
		Example: "  checkerq backup create | checkerq backup restore --file -\n" +
			"  checkerq backup restore --file ./snapshot.json",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 {
				return usageErrorf("backup restore does not accept positional arguments")
			}
			if strings.TrimSpace(file) == "" {
				return usageErrorf("backup restore requires --file")
			}
			if file == "-" && pass.stdin {
				return usageErrorf("backup restore cannot read both the snapshot and the passphrase from stdin")
			}
			passphrase, err := pass.resolve(cmd.InOrStdin(), "backup restore")
			if err != nil {
				return err
			}
			defer wipe(passphrase)

			raw, err := readInput(cmd.InOrStdin(), file)
			if err != nil {
				return mapCommandError(err)
			}
			return withRuntime(cmd.Context(), deps, func(ctx context.Context, rt *runtime) error {
				result, err := rt.backups.RestoreJSON(ctx, raw, passphrase)
				if err != nil {
					return err
				}
				return printRestoreResult(deps, result)
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "Snapshot JSON file, or - for stdin")
	cmd.Flags().StringVar(&pass.value, "passphrase", "", "Passphrase of an encrypted snapshot")
	cmd.Flags().BoolVar(&pass.stdin, "passphrase-stdin", false, "Read the passphrase from stdin")
	return cmd
}

func printRestoreResult(deps commandDeps, result *app.RestoreResult) error {
	return emit(deps, result, func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "restored: %d assessments, %d evaluations, preferences=%s\n",
			result.Assessments, result.Evaluations, boolToState(result.PreferencesApplied, "applied", "unchanged"))
		return err
	})
}

func newBackupClearCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:     "clear",
		Short:   "Delete every assessment and evaluation",
		Example: "  checkerq backup export && checkerq --yes backup clear",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 {
				return usageErrorf("backup clear does not accept positional arguments")
			}
			if err := requireYes(deps, "backup clear"); err != nil {
				return err
			}
			return withRuntime(cmd.Context(), deps, func(ctx context.Context, rt *runtime) error {
				result, err := rt.backups.ClearAllData(ctx)
				if err != nil {
					return err
				}
				return emit(deps, result, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "cleared: %d assessments, %d evaluations\n", result.Assessments, result.Evaluations)
					return err
				})
			})
		},
	}
}

func newBackupAutoCommand(deps commandDeps) *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "auto",
		Short: "Export on schedule when backup preferences call for it",
		Long: "Checks backup preferences on backup.auto_schedule and exports once the\n" +
			"daily or weekly window has passed. --once checks a single time and exits.",
		Example: "  checkerq backup auto --once\n" +
			"  checkerq backup auto",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 {
				return usageErrorf("backup auto does not accept positional arguments")
			}
			if once {
				return withRuntime(cmd.Context(), deps, func(ctx context.Context, rt *runtime) error {
					auto, err := newAutoBackup(rt)
					if err != nil {
						return err
					}
					result, err := auto.RunOnce(ctx, time.Now())
					if err != nil {
						return err
					}
					payload := map[string]any{"exported": result != nil}
					if result != nil {
						payload["path"] = result.Path
					}
					return emit(deps, payload, func(w io.Writer) error {
						if result == nil {
							_, err := fmt.Fprintln(w, "auto backup: not due")
							return err
						}
						_, err := fmt.Fprintf(w, "auto backup: exported %s\n", result.Path)
						return err
					})
				})
			}
			return runAutoBackupLoop(cmd.Context(), deps)
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "Check once and exit")
	return cmd
}

func newAutoBackup(rt *runtime) (*app.AutoBackup, error) {
	return app.NewAutoBackup(app.AutoBackupOptions{
		Backups:     rt.backups,
		Preferences: rt.prefs,
		Schedule:    rt.cfg.Backup.AutoSchedule,
		Logger:      rt.logger,
		Timeout:     rt.cfg.Backup.Timeout,
	})
}

// runAutoBackupLoop runs until interrupted; --timeout does not apply.
func runAutoBackupLoop(cmdCtx context.Context, deps commandDeps) error {
	if cmdCtx == nil {
		cmdCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(cmdCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := openRuntime(deps)
	if err != nil {
		return mapCommandError(err)
	}
	defer rt.Close()

	auto, err := newAutoBackup(rt)
	if err != nil {
		return mapCommandError(err)
	}
	if err := auto.Start(ctx); err != nil {
		return mapCommandError(err)
	}
	if !deps.globals.Quiet && !deps.globals.JSON {
		fmt.Fprintf(deps.out, "auto backup running on %q; press Ctrl-C to stop\n", rt.cfg.Backup.AutoSchedule)
	}
	<-ctx.Done()
	auto.Stop()
	return nil
}
