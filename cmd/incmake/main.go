// Command incmake brings the outputs of a YAML build manifest up to
// date, running only the rules whose inputs or parameters changed.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/incmake/incmake/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.Execute(ctx, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "incmake: %v\n", err)
		os.Exit(1)
	}
}
