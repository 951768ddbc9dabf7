package cli

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/inzamrzn918/checkerq-sub000/internal/analytics"
	"github.com/inzamrzn918/checkerq-sub000/internal/storage"
)

func newAnalyticsCommand(deps commandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analytics",
		Short: "Class, question, student and subject statistics",
		Example: "  checkerq analytics classes\n" +
			"  checkerq analytics student \"Asha Rao\"",
	}
	cmd.AddCommand(
		newAnalyticsClassesCommand(deps),
		newAnalyticsQuestionsCommand(deps),
		newAnalyticsStudentCommand(deps),
		newAnalyticsTopCommand(deps),
		newAnalyticsSubjectsCommand(deps),
	)
	return cmd
}

// withDataset loads every assessment and evaluation for fn.
func withDataset(cmdCtx context.Context, deps commandDeps, fn func([]storage.Assessment, []storage.Evaluation) error) error {
	return withRuntime(cmdCtx, deps, func(ctx context.Context, rt *runtime) error {
		assessments, err := rt.records.ListAssessments(ctx)
		if err != nil {
			return err
		}
		evaluations, err := rt.records.ListEvaluations(ctx, "")
		if err != nil {
			return err
		}
		return fn(assessments, evaluations)
	})
}

func newAnalyticsClassesCommand(deps commandDeps) *cobra.Command {
	var className string
	cmd := &cobra.Command{
		Use:   "classes",
		Short: "Average score, pass rate and grade spread per class",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 {
				return usageErrorf("analytics classes does not accept positional arguments")
			}
			return withDataset(cmd.Context(), deps, func(assessments []storage.Assessment, evaluations []storage.Evaluation) error {
				classes := analytics.ClassPerformanceReport(evaluations, assessments, className)
				return emit(deps, classes, func(w io.Writer) error {
					tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "CLASS\tAVG\tPASS%\tSTUDENTS\tEVALUATIONS\tA/B/C/D/F")
					for _, c := range classes {
						g := c.GradeDistribution
						fmt.Fprintf(tw, "%s\t%.1f\t%.1f\t%d\t%d\t%d/%d/%d/%d/%d\n",
							c.ClassName, c.AverageScore, c.PassRate, c.TotalStudents, c.TotalEvaluations, g.A, g.B, g.C, g.D, g.F)
					}
					return tw.Flush()
				})
			})
		},
	}
	cmd.Flags().StringVar(&className, "class", "", "Only this class")
	return cmd
}

func newAnalyticsQuestionsCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "questions <assessment-id>",
		Short: "Per-question success rate and difficulty",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 || strings.TrimSpace(args[0]) == "" {
				return usageErrorf("analytics questions requires exactly one assessment id")
			}
			return withDataset(cmd.Context(), deps, func(assessments []storage.Assessment, evaluations []storage.Evaluation) error {
				var target *storage.Assessment
				for i := range assessments {
					if assessments[i].ID == args[0] {
						target = &assessments[i]
						break
					}
				}
				if target == nil {
					return fmt.Errorf("assessment %q: %w", args[0], storage.ErrNotFound)
				}
				stats := analytics.QuestionAnalysis(evaluations, *target)
				return emit(deps, stats, func(w io.Writer) error {
					tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "QUESTION\tMAX\tAVG\tSUCCESS%\tDIFFICULTY\tATTEMPTS")
					for _, s := range stats {
						fmt.Fprintf(tw, "%s\t%d\t%.1f\t%.1f\t%s\t%d\n",
							s.QuestionID, s.MaxMarks, s.AverageMarks, s.SuccessRate, s.Difficulty, s.AttemptedBy)
					}
					return tw.Flush()
				})
			})
		},
	}
}

func newAnalyticsStudentCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "student <name>",
		Short: "One student's results over time and trend",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 || strings.TrimSpace(args[0]) == "" {
				return usageErrorf("analytics student requires exactly one student name")
			}
			return withDataset(cmd.Context(), deps, func(assessments []storage.Assessment, evaluations []storage.Evaluation) error {
				progress := analytics.StudentProgressReport(evaluations, args[0], assessments)
				if progress == nil {
					return fmt.Errorf("student %q: %w", args[0], storage.ErrNotFound)
				}
				return emit(deps, progress, func(w io.Writer) error {
					fmt.Fprintf(w, "%s: average %.1f%%, trend %s\n", progress.StudentName, progress.AverageScore, progress.Trend)
					tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "DATE\tSUBJECT\tSCORE\tPERCENT")
					for _, e := range progress.Evaluations {
						fmt.Fprintf(tw, "%s\t%s\t%d/%d\t%.1f\n", e.Date.Format("2006-01-02"), e.Subject, e.Score, e.TotalMarks, e.Percentage)
					}
					if err := tw.Flush(); err != nil {
						return err
					}
					subjects := make([]string, 0, len(progress.SubjectPerformance))
					for subject := range progress.SubjectPerformance {
						subjects = append(subjects, subject)
					}
					sort.Strings(subjects)
					for _, subject := range subjects {
						fmt.Fprintf(w, "  %s: %.1f%%\n", subject, progress.SubjectPerformance[subject])
					}
					return nil
				})
			})
		},
	}
}

func newAnalyticsTopCommand(deps commandDeps) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "top",
		Short: "Students with the highest average",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 {
				return usageErrorf("analytics top does not accept positional arguments")
			}
			if limit < 0 {
				return usageErrorf("analytics top --limit must not be negative")
			}
			return withDataset(cmd.Context(), deps, func(_ []storage.Assessment, evaluations []storage.Evaluation) error {
				top := analytics.TopPerformers(evaluations, limit)
				return emit(deps, top, func(w io.Writer) error {
					for i, p := range top {
						if _, err := fmt.Fprintf(w, "%d. %s %.1f%%\n", i+1, p.Name, p.AvgScore); err != nil {
							return err
						}
					}
					return nil
				})
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", analytics.DefaultTopLimit, "Number of students to show")
	return cmd
}

func newAnalyticsSubjectsCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "subjects",
		Short: "Average score per subject",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 {
				return usageErrorf("analytics subjects does not accept positional arguments")
			}
			return withDataset(cmd.Context(), deps, func(assessments []storage.Assessment, evaluations []storage.Evaluation) error {
				insights := analytics.SubjectInsights(evaluations, assessments)
				return emit(deps, insights, func(w io.Writer) error {
					tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "SUBJECT\tAVG\tEVALUATIONS")
					for _, s := range insights {
						fmt.Fprintf(tw, "%s\t%.1f\t%d\n", s.Subject, s.AvgScore, s.Count)
					}
					return tw.Flush()
				})
			})
		},
	}
}
