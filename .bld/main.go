package main

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/goyek/goyek/v3"
	"github.com/goyek/x/boot"

	"github.com/incmake/incmake"
)

var (
	gitRootOnce sync.Once
	gitRootPath string
)

// repoRoot returns the repository root so tasks work from any directory.
func repoRoot(a *goyek.A) string {
	gitRootOnce.Do(func() {
		out, err := exec.Command("git", "rev-parse", "--show-toplevel").Output()
		if err != nil {
			return
		}
		gitRootPath = strings.TrimSpace(string(out))
	})
	if gitRootPath == "" {
		a.Fatal("not inside a git repository")
	}
	return gitRootPath
}

func run(a *goyek.A, dir, name string, args ...string) {
	cmd := exec.CommandContext(a.Context(), name, args...)
	cmd.Dir = dir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		a.Fatalf("%s: %v", name, err)
	}
}

var format = goyek.Define(goyek.Task{
	Name:  "fmt",
	Usage: "format Go code",
	Action: func(a *goyek.A) {
		run(a, repoRoot(a), "gofmt", "-w", ".")
	},
})

var lint = goyek.Define(goyek.Task{
	Name:  "lint",
	Usage: "run golangci-lint",
	Action: func(a *goyek.A) {
		run(a, repoRoot(a), "golangci-lint", "run", "./...")
	},
})

var test = goyek.Define(goyek.Task{
	Name:  "test",
	Usage: "run tests with race detection",
	Action: func(a *goyek.A) {
		run(a, repoRoot(a), "go", "test", "-race", "./...")
	},
})

var tidy = goyek.Define(goyek.Task{
	Name:  "tidy",
	Usage: "tidy both go.mod files",
	Action: func(a *goyek.A) {
		root := repoRoot(a)
		run(a, root, "go", "mod", "tidy")
		run(a, filepath.Join(root, ".bld"), "go", "mod", "tidy")
	},
})

// smoke builds a tiny rule tree through the public API and checks that
// the second make skips everything.
var smoke = goyek.Define(goyek.Task{
	Name:  "smoke",
	Usage: "exercise the engine end to end",
	Action: func(a *goyek.A) {
		dir, err := os.MkdirTemp("", "incmake-smoke-*")
		if err != nil {
			a.Fatal(err)
		}
		defer os.RemoveAll(dir)

		src := filepath.Join(dir, "greeting.txt")
		if err := os.WriteFile(src, []byte("hello\n"), 0o644); err != nil {
			a.Fatal(err)
		}

		root, err := incmake.New(incmake.Config{Dir: dir})
		if err != nil {
			a.Fatal(err)
		}
		upper := root.MustRule("upper",
			func(ctx context.Context, run *incmake.Run) error {
				data, err := os.ReadFile(run.Input("src"))
				if err != nil {
					return err
				}
				return os.WriteFile(run.Output("out"), bytes.ToUpper(data), 0o644)
			},
			incmake.Out("out", "GREETING.txt"),
			incmake.In("src", "greeting.txt"),
		)

		if _, err := upper.Make(a.Context()); err != nil {
			a.Fatal(err)
		}
		summary, err := upper.Make(a.Context())
		if err != nil {
			a.Fatal(err)
		}
		if summary.Ran != 0 {
			a.Fatalf("second make ran %d rules, want 0", summary.Ran)
		}
	},
})

var all = goyek.Define(goyek.Task{
	Name:  "all",
	Usage: "run all build tasks",
	Deps:  goyek.Deps{format, lint, test, smoke},
})

func main() {
	goyek.SetDefault(all)
	boot.Main()
}
