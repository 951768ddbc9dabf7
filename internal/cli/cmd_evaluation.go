package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/inzamrzn918/checkerq-sub000/internal/analytics"
	"github.com/inzamrzn918/checkerq-sub000/internal/app"
	"github.com/inzamrzn918/checkerq-sub000/internal/report"
	"github.com/inzamrzn918/checkerq-sub000/internal/storage"
)

func newEvaluationCommand(deps commandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "evaluation",
		Aliases: []string{"evaluations"},
		Short:   "Manage graded answer scripts",
		Example: "  checkerq evaluation list --assessment a1\n" +
			"  checkerq evaluation report e1 --output ./e1.pdf",
	}
	cmd.AddCommand(
		newEvaluationListCommand(deps),
		newEvaluationSaveCommand(deps),
		newEvaluationDeleteCommand(deps),
		newEvaluationAdjustCommand(deps),
		newEvaluationReportCommand(deps),
	)
	return cmd
}

func newEvaluationListCommand(deps commandDeps) *cobra.Command {
	var assessmentID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List evaluations, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 {
				return usageErrorf("evaluation list does not accept positional arguments")
			}
			return withRuntime(cmd.Context(), deps, func(ctx context.Context, rt *runtime) error {
				evaluations, err := rt.records.ListEvaluations(ctx, assessmentID)
				if err != nil {
					return err
				}
				return emit(deps, evaluations, func(w io.Writer) error {
					tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "ID\tASSESSMENT\tSTUDENT\tSCORE\tPERCENT\tSTATUS\tCREATED")
					for _, e := range evaluations {
						fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%.1f\t%s\t%s\n",
							e.ID, e.AssessmentID, e.StudentName, e.ObtainedMarks, e.TotalMarks,
							analytics.Percentage(e), e.Status, formatMillis(e.CreatedAt))
					}
					return tw.Flush()
				})
			})
		},
	}
	cmd.Flags().StringVar(&assessmentID, "assessment", "", "Only evaluations of this assessment")
	return cmd
}

func newEvaluationSaveCommand(deps commandDeps) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "save",
		Short: "Create or replace an evaluation from JSON",
		Long: "Reads one evaluation object. Marks are clamped: negative values become\n" +
			"zero and obtained marks never exceed total marks.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 {
				return usageErrorf("evaluation save does not accept positional arguments")
			}
			if strings.TrimSpace(file) == "" {
				return usageErrorf("evaluation save requires --file")
			}
			var evaluation storage.Evaluation
			if err := decodeInput(cmd.InOrStdin(), file, &evaluation); err != nil {
				return mapCommandError(err)
			}
			return withRuntime(cmd.Context(), deps, func(ctx context.Context, rt *runtime) error {
				if err := rt.records.SaveEvaluation(ctx, &evaluation); err != nil {
					return err
				}
				return emit(deps, map[string]any{
					"saved":         true,
					"id":            evaluation.ID,
					"obtainedMarks": evaluation.ObtainedMarks,
					"totalMarks":    evaluation.TotalMarks,
				}, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "evaluation saved: %s (%d/%d)\n", evaluation.ID, evaluation.ObtainedMarks, evaluation.TotalMarks)
					return err
				})
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "Evaluation JSON file, or - for stdin")
	return cmd
}

func newEvaluationDeleteCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an evaluation",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 || strings.TrimSpace(args[0]) == "" {
				return usageErrorf("evaluation delete requires exactly one id")
			}
			return withRuntime(cmd.Context(), deps, func(ctx context.Context, rt *runtime) error {
				if err := rt.records.DeleteEvaluation(ctx, args[0]); err != nil {
					return err
				}
				return emit(deps, map[string]any{"deleted": true, "id": args[0]}, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "evaluation deleted: %s\n", args[0])
					return err
				})
			})
		},
	}
}

// Marks are clamped to the question's maximum and the evaluation total is
// recomputed from its results.
func newEvaluationAdjustCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:     "adjust <evaluation-id> <question-id> <marks>",
		Short:   "Override the marks awarded for one question",
		Example: "  checkerq evaluation adjust e1 q2 3",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 3 || strings.TrimSpace(args[0]) == "" || strings.TrimSpace(args[1]) == "" {
				return usageErrorf("evaluation adjust requires an evaluation id, a question id and marks")
			}
			marks, err := strconv.Atoi(strings.TrimSpace(args[2]))
			if err != nil {
				return usageErrorf("evaluation adjust: marks %q is not a whole number", args[2])
			}
			return withRuntime(cmd.Context(), deps, func(ctx context.Context, rt *runtime) error {
				grading := app.NewGradingService(rt.records, nil, nil, rt.logger)
				evaluation, err := grading.AdjustMarks(ctx, args[0], args[1], marks)
				if err != nil {
					return err
				}
				rt.logger.Info("marks adjusted",
					"evaluation_id", evaluation.ID,
					"question_id", args[1],
					"obtained", evaluation.ObtainedMarks,
				)
				return emit(deps, evaluation, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "evaluation %s: %d/%d marks\n", evaluation.ID, evaluation.ObtainedMarks, evaluation.TotalMarks)
					return err
				})
			})
		},
	}
}

func newEvaluationReportCommand(deps commandDeps) *cobra.Command {
	var outputPath string
	cmd := &cobra.Command{
		Use:     "report <id>",
		Short:   "Render an evaluation as a PDF",
		Example: "  checkerq evaluation report e1 --output ./reports/e1.pdf",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 || strings.TrimSpace(args[0]) == "" {
				return usageErrorf("evaluation report requires exactly one id")
			}
			if strings.TrimSpace(outputPath) == "" {
				return usageErrorf("evaluation report requires --output")
			}
			return withRuntime(cmd.Context(), deps, func(ctx context.Context, rt *runtime) error {
				evaluation := rt.records.GetEvaluationByID(ctx, args[0])
				if evaluation == nil {
					return fmt.Errorf("evaluation %q: %w", args[0], storage.ErrNotFound)
				}
				assessment := rt.records.GetAssessmentByID(ctx, evaluation.AssessmentID)

				if err := writeReportFile(outputPath, assessment, evaluation); err != nil {
					return err
				}
				return emit(deps, map[string]any{"output": outputPath, "id": evaluation.ID}, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "report written: %s\n", outputPath)
					return err
				})
			})
		},
	}
	cmd.Flags().StringVar(&outputPath, "output", "", "PDF output path")
	return cmd
}

func writeReportFile(path string, assessment *storage.Assessment, evaluation *storage.Evaluation) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("write report: create directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("write report: %w", closeErr)
		}
	}()
	return report.WriteEvaluationPDF(f, assessment, evaluation)
}
