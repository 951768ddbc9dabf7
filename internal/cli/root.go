package cli

import (
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
)

const defaultCommandTimeout = 30 * time.Second

type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

type GlobalOptions struct {
	JSON         bool
	Quiet        bool
	ConfigPath   string
	DBPath       string
	SchemaPolicy string
	LogLevel     string
	Timeout      time.Duration
	Yes          bool
}

type commandDeps struct {
	globals *GlobalOptions
	build   BuildInfo
	out     io.Writer
	errOut  io.Writer
}

func NewRootCommand(out io.Writer, build BuildInfo) *cobra.Command {
	globals := &GlobalOptions{}
	deps := commandDeps{
		globals: globals,
		build:   build,
		out:     out,
		errOut:  os.Stderr,
	}

	cmd := &cobra.Command{
		Use:   "checkerq",
		Short: "Local grading store and backup tool",
		Long: "checkerq keeps assessments, questions and graded evaluations in a local\n" +
			"SQLite database and moves them in and out of JSON backup snapshots.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOut(out)
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageErrorf("%v", err)
	})

	flags := cmd.PersistentFlags()
	flags.BoolVar(&globals.JSON, "json", false, "Print machine-readable JSON")
	flags.BoolVar(&globals.Quiet, "quiet", false, "Suppress non-essential output")
	flags.StringVar(&globals.ConfigPath, "config", "", "Config file path")
	flags.StringVar(&globals.DBPath, "db", "", "Database path (overrides storage.path)")
	flags.StringVar(&globals.SchemaPolicy, "schema-policy", "", "Schema policy: migrate or reset (overrides storage.schema_policy)")
	flags.StringVar(&globals.LogLevel, "log-level", "", "Log level: debug, info, warn or error (overrides logging.level)")
	flags.DurationVar(&globals.Timeout, "timeout", defaultCommandTimeout, "Per-command timeout")
	flags.BoolVar(&globals.Yes, "yes", false, "Assume yes for destructive operations")

	cmd.AddCommand(
		newAssessmentCommand(deps),
		newEvaluationCommand(deps),
		newBackupCommand(deps),
		newAnalyticsCommand(deps),
		newSettingsCommand(deps),
		newDoctorCommand(deps),
		newVersionCommand(deps),
	)
	cmd.InitDefaultCompletionCmd()
	return cmd
}
