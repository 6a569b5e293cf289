package cli

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/incmake/incmake"
	"github.com/incmake/incmake/internal/manifest"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [target...]",
		Short: "Bring targets up to date",
		Long: `Run every stale rule a target depends on, in dependency order.
Targets are qualified rule or group names; no target means the whole
manifest. A rule is stale when an output is missing, older than a plain
input, downstream of a rule that ran, or recorded with different
parameters or value-tracked input content.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := bindFlags(cmd); err != nil {
				return err
			}
			logger := newLogger(cmd.ErrOrStderr())
			tree, err := loadTree(logger)
			if err != nil {
				return err
			}
			targets, err := resolveTargets(tree, args)
			if err != nil {
				return err
			}

			jobs := viper.GetInt("jobs")
			if jobs == 0 {
				jobs = tree.Jobs
			}
			opts := []incmake.MakeOption{
				incmake.WithOutput(cmd.OutOrStdout(), cmd.ErrOrStderr()),
			}
			if jobs > 0 {
				opts = append(opts, incmake.Jobs(jobs))
			}
			dryRun := viper.GetBool("dry-run")
			if dryRun {
				opts = append(opts, incmake.DryRun())
			}
			if viper.GetBool("keep-going") {
				opts = append(opts, incmake.KeepGoing())
			}

			summary, err := incmake.Make(cmd.Context(), targets, opts...)
			printSummary(cmd.OutOrStdout(), tree, summary, dryRun, viper.GetBool("verbose"))
			return err
		},
	}

	cmd.Flags().IntP("jobs", "j", 0, "rules to run in parallel (0 = manifest setting)")
	cmd.Flags().BoolP("dry-run", "n", false, "report what would run without running anything")
	cmd.Flags().BoolP("keep-going", "k", false, "after a failure, keep building rules that do not depend on it")
	return cmd
}

var (
	ranColor     = color.New(color.FgGreen)
	failedColor  = color.New(color.FgRed, color.Bold)
	abortedColor = color.New(color.FgYellow)
	skippedColor = color.New(color.Faint)
)

// printSummary lists the per-rule outcomes in manifest order and the
// final counts. Skipped rules are only listed in verbose mode.
func printSummary(w io.Writer, tree *manifest.Tree, summary incmake.Summary, dryRun, verbose bool) {
	ranLabel := "ran"
	if dryRun {
		ranLabel = "would run"
	}
	for _, name := range tree.RuleNames() {
		res, ok := summary.Detail[name]
		if !ok {
			continue
		}
		switch res.Status {
		case incmake.StatusRan:
			fmt.Fprintf(w, "%s  %s (%s)\n", ranColor.Sprintf("%-9s", ranLabel), name, res.Reason)
		case incmake.StatusFailed:
			fmt.Fprintf(w, "%s  %s: %v\n", failedColor.Sprintf("%-9s", "failed"), name, res.Err)
		case incmake.StatusAborted:
			fmt.Fprintf(w, "%s  %s\n", abortedColor.Sprintf("%-9s", "aborted"), name)
		case incmake.StatusSkipped:
			if verbose {
				fmt.Fprintf(w, "%s  %s\n", skippedColor.Sprintf("%-9s", "skipped"), name)
			}
		}
	}
	fmt.Fprintf(w, "%d %s, %d skipped, %d failed, %d aborted\n",
		summary.Ran, ranLabel, summary.Skipped, summary.Failed, summary.Aborted)
}
