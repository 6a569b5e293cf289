package incmake

import (
	"context"
	"io"

	"github.com/incmake/incmake/internal/engine"
)

// Method is the executable body of a rule. It runs in a worker
// goroutine when the rule is stale. Methods must write every declared
// output and should send human-readable output to run.Stdout/Stderr,
// which the engine keeps from interleaving across parallel rules.
type Method func(ctx context.Context, run *Run) error

// Run gives a method its resolved view of the rule: absolute paths in
// declaration order, keyed lookup, and params.
type Run struct {
	// Stdout and Stderr are the destinations for method output.
	Stdout io.Writer
	Stderr io.Writer

	rule *Rule
}

func newRun(r *Rule, out *engine.Output) *Run {
	return &Run{Stdout: out.Stdout, Stderr: out.Stderr, rule: r}
}

// Name returns the qualified rule name.
func (r *Run) Name() string { return r.rule.qname }

// Inputs returns the resolved input paths in declaration order.
func (r *Run) Inputs() []string {
	out := make([]string, len(r.rule.inputs))
	for i, in := range r.rule.inputs {
		out[i] = in.path
	}
	return out
}

// Input returns the resolved path of the input with the given key, or
// the empty string for an unknown key. Inputs added by DependsOn use
// "<producer-name>:<output-key>" keys.
func (r *Run) Input(key string) string {
	for _, in := range r.rule.inputs {
		if in.key == key {
			return in.path
		}
	}
	return ""
}

// Outputs returns the resolved output paths in declaration order.
func (r *Run) Outputs() []string { return r.rule.Outputs() }

// Output returns the resolved path of the output with the given key,
// or the empty string for an unknown key.
func (r *Run) Output(key string) string { return r.rule.Output(key) }

// Param returns the declared param value for the key, or nil.
func (r *Run) Param(key string) Value {
	for _, p := range r.rule.params {
		if p.key == key {
			return p.value
		}
	}
	return nil
}
