package incmake

import (
	"context"
	"errors"
	"io"
	"sort"

	"github.com/incmake/incmake/internal/engine"
)

// Target is anything make can be pointed at: a *Rule or a *Group. A
// group targets every rule in its subtree.
type Target interface {
	targetIDs() []int
	buildTree() *tree
}

// Status is a rule's terminal state within one make.
type Status string

const (
	// StatusRan means the method ran and succeeded, or would have run
	// under dry run.
	StatusRan Status = "ran"
	// StatusSkipped means the rule was up to date.
	StatusSkipped Status = "skipped"
	// StatusFailed means the method ran and failed.
	StatusFailed Status = "failed"
	// StatusAborted means the rule was never attempted because an
	// upstream failed.
	StatusAborted Status = "aborted"
)

// RuleResult is one rule's outcome within a Summary.
type RuleResult struct {
	Status Status
	// Reason is the staleness verdict that drove the outcome, such as
	// "up-to-date", "missing-output" or "outdated-by-memo".
	Reason string
	Err    error
}

// Summary aggregates one make invocation over the target subgraph.
// Ran+Skipped+Failed+Aborted == Total.
type Summary struct {
	Total   int
	Ran     int
	Skipped int
	Failed  int
	Aborted int
	Detail  map[string]RuleResult
}

// OK reports whether every considered rule either ran or was skipped.
func (s Summary) OK() bool { return s.Failed == 0 && s.Aborted == 0 }

type makeConfig struct {
	jobs      int
	dryRun    bool
	keepGoing bool
	stdout    io.Writer
	stderr    io.Writer
}

// MakeOption configures one make invocation.
type MakeOption func(*makeConfig)

// Jobs bounds the number of concurrently running methods. The default
// is 1; values below 1 mean 1.
func Jobs(n int) MakeOption {
	return func(c *makeConfig) { c.jobs = n }
}

// DryRun computes verdicts and reports what would run without executing
// methods or touching the filesystem.
func DryRun() MakeOption {
	return func(c *makeConfig) { c.dryRun = true }
}

// KeepGoing continues independent subgraphs after a failure instead of
// stopping at the first error. Failures still abort their dependents.
func KeepGoing() MakeOption {
	return func(c *makeConfig) { c.keepGoing = true }
}

// WithOutput redirects method output. The default is the process
// streams.
func WithOutput(stdout, stderr io.Writer) MakeOption {
	return func(c *makeConfig) {
		c.stdout = stdout
		c.stderr = stderr
	}
}

// Make brings the targets and everything they depend on up to date and
// reports what happened. All targets must belong to the same build
// tree. The error is non-nil for definition problems (cycles, foreign
// targets), context cancellation, or the first rule failure, which
// KeepGoing delays to the end rather than suppresses; per-rule outcomes
// are always in the Summary.
func Make(ctx context.Context, targets []Target, opts ...MakeOption) (Summary, error) {
	var cfg makeConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	t, ids, err := gatherTargets(targets)
	if err != nil {
		return Summary{}, err
	}
	if len(ids) == 0 {
		return Summary{}, nil
	}

	g, err := engine.NewGraph(t.snapshot())
	if err != nil {
		return Summary{}, convertErr(err)
	}

	var out *engine.Output
	if cfg.stdout != nil || cfg.stderr != nil {
		out = &engine.Output{Stdout: cfg.stdout, Stderr: cfg.stderr}
		if out.Stdout == nil {
			out.Stdout = io.Discard
		}
		if out.Stderr == nil {
			out.Stderr = io.Discard
		}
	}

	sum, err := engine.Make(ctx, g, ids, engine.Options{
		Jobs:      cfg.jobs,
		DryRun:    cfg.dryRun,
		KeepGoing: cfg.keepGoing,
		Store:     t.store,
		Logger:    t.cfg.Logger,
		Out:       out,
	})
	return convertSummary(sum), convertErr(err)
}

// gatherTargets merges target id sets, verifying they share one tree.
func gatherTargets(targets []Target) (*tree, []int, error) {
	var t *tree
	seen := make(map[int]bool)
	var ids []int
	for _, target := range targets {
		if target == nil {
			continue
		}
		tt := target.buildTree()
		if t == nil {
			t = tt
		} else if t != tt {
			return nil, nil, defErrf(CodeUnknownDependency, "targets come from different build trees")
		}
		for _, id := range target.targetIDs() {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	sort.Ints(ids)
	return t, ids, nil
}

func convertSummary(s engine.Summary) Summary {
	out := Summary{
		Total:   s.Total,
		Ran:     s.Ran,
		Skipped: s.Skipped,
		Failed:  s.Failed,
		Aborted: s.Aborted,
	}
	if len(s.Detail) > 0 {
		out.Detail = make(map[string]RuleResult, len(s.Detail))
		for name, res := range s.Detail {
			reason := res.Verdict.String()
			if res.Status == engine.StatusAborted {
				reason = ""
			}
			out.Detail[name] = RuleResult{
				Status: convertStatus(res.Status),
				Reason: reason,
				Err:    convertErr(res.Err),
			}
		}
	}
	return out
}

func convertStatus(s engine.Status) Status {
	switch s {
	case engine.StatusRan:
		return StatusRan
	case engine.StatusFailed:
		return StatusFailed
	case engine.StatusAborted:
		return StatusAborted
	default:
		return StatusSkipped
	}
}

// convertJoined is convertErr applied through errors.Join trees, so
// multi-rule maintenance errors keep one entry per rule.
func convertJoined(err error) error {
	if err == nil {
		return nil
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		sub := joined.Unwrap()
		converted := make([]error, len(sub))
		for i, e := range sub {
			converted[i] = convertJoined(e)
		}
		return errors.Join(converted...)
	}
	return convertErr(err)
}

// convertErr rewraps internal error types into their public versions so
// callers can use errors.As against this package only.
func convertErr(err error) error {
	if err == nil {
		return nil
	}
	var re *engine.RuleError
	if errors.As(err, &re) {
		inner := re.Err
		var mo *engine.MissingOutputError
		if errors.As(inner, &mo) {
			inner = &MissingOutputError{Path: mo.Path}
		}
		return &RuleError{Rule: re.Rule, Err: inner}
	}
	var ce *engine.CycleError
	if errors.As(err, &ce) {
		return defErrf(CodeCycle, "%s", ce.Error())
	}
	return err
}
