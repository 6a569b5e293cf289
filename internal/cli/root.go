// Package cli provides the cobra command tree for the incmake binary.
package cli

import (
	"context"
	"io"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/incmake/incmake"
	"github.com/incmake/incmake/internal/manifest"
)

// Version is stamped at build time.
var Version = "dev"

// NewRootCmd creates the root command. Flags can also be set through the
// environment with an INCMAKE_ prefix, such as INCMAKE_JOBS=4.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "incmake",
		Short: "Incremental file builds from a YAML manifest",
		Long: `incmake runs the rules of a YAML manifest, skipping every rule whose
outputs are already up to date with its inputs and parameters.`,
		Version:       Version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			initConfig()
			if viper.GetBool("no-color") {
				color.NoColor = true
			}
		},
	}

	root.PersistentFlags().StringP("manifest", "f", manifest.DefaultFileName, "manifest file to load")
	root.PersistentFlags().BoolP("verbose", "v", false, "log every staleness decision")
	root.PersistentFlags().Bool("no-color", false, "disable colored output")

	root.AddCommand(
		newRunCmd(),
		newGraphCmd(),
		newTouchCmd(),
		newCleanCmd(),
	)
	return root
}

// initConfig wires the environment into viper. Flag bindings happen per
// subcommand so each one sees its own flag set.
func initConfig() {
	viper.SetEnvPrefix("incmake")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// Execute runs the command tree. This is the entry point from main.
func Execute(ctx context.Context, stdout, stderr io.Writer) error {
	root := NewRootCmd()
	root.SetOut(stdout)
	root.SetErr(stderr)
	return root.ExecuteContext(ctx)
}

// bindFlags makes the invoked command's flags visible through viper,
// including their INCMAKE_ environment overrides.
func bindFlags(cmd *cobra.Command) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	return viper.BindPFlags(cmd.InheritedFlags())
}

// newLogger builds the event logger for one invocation. Default level
// only surfaces warnings; verbose turns on the full per-rule trace.
func newLogger(w io.Writer) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(w)
	if viper.GetBool("verbose") {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.WarnLevel)
	}
	return logger
}

// loadTree loads the manifest named by --manifest and builds its rule
// tree. The manifest's dir is taken relative to the manifest file.
func loadTree(logger logrus.FieldLogger) (*manifest.Tree, error) {
	path := viper.GetString("manifest")
	def, err := manifest.LoadFile(path)
	if err != nil {
		return nil, err
	}
	dir := def.Dir
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(filepath.Dir(path), dir)
	}
	return manifest.Build(def, incmake.Config{Dir: dir, Logger: logger})
}

// resolveTargets maps positional arguments to targets; no arguments
// means the whole tree.
func resolveTargets(tree *manifest.Tree, args []string) ([]incmake.Target, error) {
	if len(args) == 0 {
		return []incmake.Target{tree.Root}, nil
	}
	targets := make([]incmake.Target, len(args))
	for i, arg := range args {
		t, err := tree.Lookup(arg)
		if err != nil {
			return nil, err
		}
		targets[i] = t
	}
	return targets, nil
}
