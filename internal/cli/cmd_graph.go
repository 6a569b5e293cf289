package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/incmake/incmake"
)

func newGraphCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "graph [target...]",
		Short: "Print the dependency graph",
		Long: `Print the dependency graph of the targets and everything they depend
on, as Graphviz DOT or a Mermaid flowchart.`,
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
			switch format {
			case "dot":
				return incmake.WriteDOT(cmd.OutOrStdout(), targets...)
			case "mermaid":
				return incmake.WriteMermaid(cmd.OutOrStdout(), targets...)
			default:
				return fmt.Errorf("unknown graph format %q (want dot or mermaid)", format)
			}
		},
	}

	cmd.Flags().StringVar(&format, "format", "dot", "output format: dot or mermaid")
	return cmd
}
