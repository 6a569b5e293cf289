package cli

import (
	"github.com/spf13/cobra"

	"github.com/incmake/incmake"
)

func newCleanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clean [target...]",
		Short: "Remove target outputs and memo records",
		Long: `Remove the targets' output files and their memo records. Removal is
best effort; already missing files are fine.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := bindFlags(cmd); err != nil {
				return err
			}
			tree, err := loadTree(newLogger(cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			targets, err := resolveTargets(tree, args)
			if err != nil {
				return err
			}
			return incmake.Clean(targets)
		},
	}
	return cmd
}
