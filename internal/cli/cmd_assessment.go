package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/inzamrzn918/checkerq-sub000/internal/storage"
)

func newAssessmentCommand(deps commandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "assessment",
		Aliases: []string{"assessments"},
		Short:   "Manage question papers",
		Example: "  checkerq assessment list\n" +
			"  checkerq assessment save --file ./midterm.json",
	}
	cmd.AddCommand(
		newAssessmentListCommand(deps),
		newAssessmentShowCommand(deps),
		newAssessmentSaveCommand(deps),
		newAssessmentDeleteCommand(deps),
	)
	return cmd
}

func newAssessmentListCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List assessments, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 {
				return usageErrorf("assessment list does not accept positional arguments")
			}
			return withRuntime(cmd.Context(), deps, func(ctx context.Context, rt *runtime) error {
				assessments, err := rt.records.ListAssessments(ctx)
				if err != nil {
					return err
				}
				return emit(deps, assessments, func(w io.Writer) error {
					tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "ID\tTITLE\tSUBJECT\tCLASS\tQUESTIONS\tMARKS\tCREATED")
					for _, a := range assessments {
						fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
							a.ID, a.Title, a.Subject, a.ClassRoom, len(a.Questions), sumMarks(a.Questions), formatMillis(a.CreatedAt))
					}
					return tw.Flush()
				})
			})
		},
	}
}

func newAssessmentShowCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one assessment with its questions",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 || strings.TrimSpace(args[0]) == "" {
				return usageErrorf("assessment show requires exactly one id")
			}
			return withRuntime(cmd.Context(), deps, func(ctx context.Context, rt *runtime) error {
				assessment := rt.records.GetAssessmentByID(ctx, args[0])
				if assessment == nil {
					return fmt.Errorf("assessment %q: %w", args[0], storage.ErrNotFound)
				}
				return emit(deps, assessment, func(w io.Writer) error {
					fmt.Fprintf(w, "%s (%s)\n", assessment.Title, assessment.ID)
					fmt.Fprintf(w, "subject=%s class=%s teacher=%s created=%s\n",
						assessment.Subject, assessment.ClassRoom, assessment.TeacherName, formatMillis(assessment.CreatedAt))
					for i, q := range assessment.Questions {
						if _, err := fmt.Fprintf(w, "%d. [%s, %d] %s\n", i+1, q.Type, q.Marks, q.Text); err != nil {
							return err
						}
						for _, option := range q.Options {
							fmt.Fprintf(w, "     - %s\n", option)
						}
					}
					return nil
				})
			})
		},
	}
}

func newAssessmentSaveCommand(deps commandDeps) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "save",
		Short: "Create or replace an assessment from JSON",
		Long: "Reads one assessment object. An existing assessment with the same id\n" +
			"is replaced, including its full question list.",
		Example: "  checkerq assessment save --file ./midterm.json\n" +
			"  cat midterm.json | checkerq assessment save --file -",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 {
				return usageErrorf("assessment save does not accept positional arguments")
			}
			if strings.TrimSpace(file) == "" {
				return usageErrorf("assessment save requires --file")
			}
			var assessment storage.Assessment
			if err := decodeInput(cmd.InOrStdin(), file, &assessment); err != nil {
				return mapCommandError(err)
			}
			return withRuntime(cmd.Context(), deps, func(ctx context.Context, rt *runtime) error {
				if err := rt.records.SaveAssessment(ctx, &assessment); err != nil {
					return err
				}
				return emit(deps, map[string]any{"saved": true, "id": assessment.ID, "questions": len(assessment.Questions)}, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "assessment saved: %s (%d questions)\n", assessment.ID, len(assessment.Questions))
					return err
				})
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "Assessment JSON file, or - for stdin")
	return cmd
}

func newAssessmentDeleteCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an assessment and its questions",
		Long:  "Evaluations that reference the assessment are kept.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 || strings.TrimSpace(args[0]) == "" {
				return usageErrorf("assessment delete requires exactly one id")
			}
			return withRuntime(cmd.Context(), deps, func(ctx context.Context, rt *runtime) error {
				if err := rt.records.DeleteAssessment(ctx, args[0]); err != nil {
					return err
				}
				return emit(deps, map[string]any{"deleted": true, "id": args[0]}, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "assessment deleted: %s\n", args[0])
					return err
				})
			})
		},
	}
}

func sumMarks(questions []storage.Question) int {
	total := 0
	for _, q := range questions {
		total += q.Marks
	}
	return total
}

func formatMillis(ms int64) string {
	if ms <= 0 {
		return "-"
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}
