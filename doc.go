// Package incmake defines file-producing rules and brings their outputs
// up to date, rerunning only the rules whose inputs, parameters or
// outputs changed since the last run.
//
// A build is declared as a tree of groups holding rules. Each rule names
// its output files, the files it reads, and a method that produces the
// former from the latter:
//
//	root, _ := incmake.New(incmake.Config{Dir: "build"})
//	compile := root.MustRule("compile",
//		func(ctx context.Context, run *incmake.Run) error {
//			return compileInto(run.Output("bin"), run.Input("src"))
//		},
//		incmake.Out("bin", "app"),
//		incmake.In("src", "../src/main.c"),
//	)
//	summary, err := compile.Make(context.Background())
//
// Make walks the dependency graph, decides per rule whether it is stale
// (missing outputs, older than its inputs, changed parameters, or a
// rerun upstream) and runs the stale ones, in parallel when requested
// with Jobs. Inputs declared with VIn are compared by content hash
// instead of modification time, and Param values are memoized so a
// changed flag reruns the rule even when no file moved.
package incmake
