package cli

import (
	"github.com/spf13/cobra"

	"github.com/incmake/incmake"
)

func newTouchCmd() *cobra.Command {
	var noCreate bool

	cmd := &cobra.Command{
		Use:   "touch [target...]",
		Short: "Mark targets up to date without running them",
		Long: `Stamp the targets' outputs with the current time and record their
memos as current, so the next run treats them as up to date. Missing
outputs are created empty unless --no-create is given.`,
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
			var opts []incmake.TouchOption
			if noCreate {
				opts = append(opts, incmake.NoCreate())
			}
			return incmake.Touch(targets, opts...)
		},
	}

	cmd.Flags().BoolVar(&noCreate, "no-create", false, "leave missing outputs missing")
	return cmd
}
