package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

func newVersionCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build version information",
		Example: "  checkerq version\n" +
			"  checkerq --json version",
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) != 0 {
				return usageErrorf("version does not accept positional arguments")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return mapCommandError(emit(deps, deps.build, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "version=%s commit=%s build_time=%s\n",
					deps.build.Version, deps.build.Commit, deps.build.BuildTime)
				return err
			}))
		},
	}
}
