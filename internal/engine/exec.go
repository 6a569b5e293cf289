package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/incmake/incmake/internal/memo"
)

// Options configure one make invocation.
type Options struct {
	// Jobs bounds the number of concurrently running methods. Values
	// below 1 mean 1.
	Jobs int
	// DryRun computes verdicts and reports what would run without
	// executing methods or touching the filesystem.
	DryRun bool
	// KeepGoing continues independent subgraphs after a failure instead
	// of stopping at the first error.
	KeepGoing bool
	// Store persists memo records.
	Store memo.Store
	// Logger receives build events. Nil discards them.
	Logger logrus.FieldLogger
	// Out receives method output. Nil means the process streams.
	Out *Output
	// Now stamps outputs of successful rules. Nil means time.Now.
	Now func() time.Time
}

// RuleError wraps a failure with the rule that caused it.
type RuleError struct {
	Rule string
	Err  error
}

func (e *RuleError) Error() string { return fmt.Sprintf("rule %s: %v", e.Rule, e.Err) }
func (e *RuleError) Unwrap() error { return e.Err }

// MissingOutputError reports a method that succeeded without producing
// a declared output.
type MissingOutputError struct {
	Path string
}

func (e *MissingOutputError) Error() string { return "missing required output " + e.Path }

// job is one dispatched rule plus the verdict that made it run.
type job struct {
	rule    *Rule
	verdict Verdict
}

type workerResult struct {
	id      int
	err     error
	took    time.Duration
	out     *capture
	aborted bool
}

// Make evaluates and executes the subgraph reachable from targets.
//
// A single coordinator goroutine owns all graph state: it computes each
// rule's verdict once every producer is terminal, feeds stale rules to
// the worker pool, and folds results back in. Workers only run methods
// and their output/memo side effects; the channels between are the only
// shared structures.
//
// The returned error is non-nil for graph validation failures, context
// cancellation, or the first rule failure; KeepGoing delays that error
// to the end instead of suppressing it. Per-rule failures are always
// recorded in the Summary.
func Make(ctx context.Context, g *Graph, targets []int, opts Options) (Summary, error) {
	jobs := opts.Jobs
	if jobs < 1 {
		jobs = 1
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	parentOut := opts.Out
	if parentOut == nil {
		parentOut = StdOutput()
	}

	ids, err := g.Subgraph(targets)
	if err != nil {
		return Summary{}, err
	}

	ev := newEvents(opts.Logger)
	eval := &evaluator{store: opts.Store, hasher: memo.NewHasher()}

	inSub := make(map[int]bool, len(ids))
	for _, id := range ids {
		inSub[id] = true
	}
	pending := make(map[int]int, len(ids))
	ready := make([]int, 0, len(ids))
	for _, id := range ids {
		n := 0
		for _, p := range g.producers(id) {
			if inSub[p] {
				n++
			}
		}
		pending[id] = n
		if n == 0 {
			ready = append(ready, id)
		}
	}

	results := make(map[int]RuleResult, len(ids))
	ran := make(map[int]bool, len(ids))
	verdicts := make(map[int]Verdict, len(ids))

	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	workCh := make(chan job, len(ids))
	doneCh := make(chan workerResult, len(ids))
	buffered := jobs > 1

	var pool *errgroup.Group
	if !opts.DryRun {
		var pctx context.Context
		pool, pctx = errgroup.WithContext(wctx)
		for i := 0; i < jobs; i++ {
			pool.Go(func() error {
				for j := range workCh {
					doneCh <- runRule(pctx, j, eval.hasher, opts.Store, parentOut, buffered, now, ev)
				}
				return nil
			})
		}
	}

	upstreamRan := func(id int) bool {
		for _, p := range g.producers(id) {
			if ran[p] {
				return true
			}
		}
		return false
	}
	release := func(id int) {
		for _, d := range g.dependents[id] {
			if !inSub[d] {
				continue
			}
			pending[d]--
			if pending[d] == 0 {
				ready = insertSorted(ready, d)
			}
		}
	}

	outstanding := 0
	stopped := false
	var firstErr error

	dispatch := func() {
		for len(ready) > 0 {
			id := ready[0]
			ready = ready[1:]
			r := g.Rule(id)
			if stopped {
				results[id] = RuleResult{Status: StatusAborted}
				ev.ruleAborted(r)
				continue
			}
			v := eval.evaluate(r, upstreamRan(id))
			if !v.Stale() {
				results[id] = RuleResult{Status: StatusSkipped, Verdict: v}
				ev.ruleSkipped(r)
				release(id)
				continue
			}
			if opts.DryRun {
				results[id] = RuleResult{Status: StatusRan, Verdict: v}
				ran[id] = true
				ev.ruleWouldRun(r, v)
				release(id)
				continue
			}
			verdicts[id] = v
			outstanding++
			workCh <- job{rule: r, verdict: v}
		}
	}

	dispatch()
	for outstanding > 0 {
		res := <-doneCh
		outstanding--
		r := g.Rule(res.id)
		res.out.flushTo(parentOut)
		switch {
		case res.aborted:
			results[res.id] = RuleResult{Status: StatusAborted}
			ev.ruleAborted(r)
		case res.err != nil:
			rerr := &RuleError{Rule: r.Name, Err: res.err}
			results[res.id] = RuleResult{Status: StatusFailed, Verdict: verdicts[res.id], Err: rerr}
			ev.ruleFailed(r, res.err)
			if firstErr == nil {
				firstErr = rerr
			}
			if !opts.KeepGoing && !stopped {
				stopped = true
				cancel()
			}
		default:
			results[res.id] = RuleResult{Status: StatusRan, Verdict: verdicts[res.id]}
			ran[res.id] = true
			ev.ruleDone(r, res.took)
			release(res.id)
		}
		dispatch()
	}
	close(workCh)
	if pool != nil {
		_ = pool.Wait()
	}

	// Rules downstream of a failure never became ready.
	for _, id := range ids {
		if _, ok := results[id]; !ok {
			results[id] = RuleResult{Status: StatusAborted}
			ev.ruleAborted(g.Rule(id))
		}
	}

	var sum Summary
	for _, id := range ids {
		sum.record(g.Rule(id).Name, results[id])
	}
	ev.makeDone(sum)

	if firstErr == nil && ctx.Err() != nil {
		firstErr = ctx.Err()
	}
	return sum, firstErr
}

// runRule executes one rule in a worker goroutine. On success it
// verifies declared outputs, stamps their mtimes and persists the memo
// record; on any failure it resets output mtimes to the epoch and drops
// the record so the next make sees the rule as stale.
func runRule(ctx context.Context, j job, hasher *memo.Hasher, store memo.Store, parent *Output, buffered bool, now func() time.Time, ev *events) workerResult {
	r := j.rule
	if ctx.Err() != nil {
		return workerResult{id: r.ID, aborted: true}
	}
	ev.ruleStarted(r, j.verdict)
	start := time.Now()
	res := workerResult{id: r.ID}

	out := parent
	if buffered {
		res.out = &capture{}
		out = res.out.output()
	}

	err := prepareOutputDirs(r)
	if err == nil {
		err = r.Method(ctx, out)
	}
	if err == nil {
		err = checkOutputs(r)
	}
	if err == nil {
		stamp := now()
		for _, o := range r.Outputs {
			if terr := os.Chtimes(o.Path, stamp, stamp); terr != nil {
				err = fmt.Errorf("stamping output %s: %w", o.Path, terr)
				break
			}
		}
	}
	if err == nil {
		var rec memo.Record
		if rec, err = currentRecord(r, hasher); err == nil {
			err = store.Save(r.Primary(), rec)
		}
		if err != nil {
			err = fmt.Errorf("memoizing: %w", err)
		}
	}
	if err != nil {
		discardOutputs(r, store)
		res.err = err
	}
	res.took = time.Since(start)
	return res
}

func prepareOutputDirs(r *Rule) error {
	for _, o := range r.Outputs {
		if err := os.MkdirAll(filepath.Dir(o.Path), 0o755); err != nil {
			return fmt.Errorf("preparing output dir: %w", err)
		}
	}
	return nil
}

func checkOutputs(r *Rule) error {
	for _, o := range r.Outputs {
		if _, err := os.Stat(o.Path); err != nil {
			return &MissingOutputError{Path: o.Path}
		}
	}
	return nil
}

// discardOutputs is the failure hygiene step: existing outputs get the
// epoch mtime so they never mask the failure, and the memo goes away.
func discardOutputs(r *Rule, store memo.Store) {
	epoch := time.Unix(0, 0)
	for _, o := range r.Outputs {
		if _, err := os.Stat(o.Path); err == nil {
			_ = os.Chtimes(o.Path, epoch, epoch)
		}
	}
	_ = store.Delete(r.Primary())
}

func insertSorted(s []int, v int) []int {
	i := sort.SearchInts(s, v)
	s = append(s, 0)
	copy(s[i+1:], s[i:])
	s[i] = v
	return s
}
