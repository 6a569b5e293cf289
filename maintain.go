package incmake

import (
	"context"
	"time"

	"github.com/incmake/incmake/internal/engine"
)

type touchConfig struct {
	at     time.Time
	create bool
}

// TouchOption configures Touch.
type TouchOption func(*touchConfig)

// At overrides the stamp time. The default is now.
func At(t time.Time) TouchOption {
	return func(c *touchConfig) { c.at = t }
}

// NoCreate leaves missing outputs missing instead of creating them
// empty.
func NoCreate() TouchOption {
	return func(c *touchConfig) { c.create = false }
}

// Touch marks the targeted rules up to date without running them: it
// stamps their outputs with the given time, creates missing outputs
// empty (unless NoCreate), and refreshes their memo records to current
// values. Unlike Make it affects exactly the targeted rules, not their
// upstream closure.
func Touch(targets []Target, opts ...TouchOption) error {
	cfg := touchConfig{at: time.Now(), create: true}
	for _, opt := range opts {
		opt(&cfg)
	}
	t, ids, err := gatherTargets(targets)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	g, err := engine.NewGraph(t.snapshot())
	if err != nil {
		return convertErr(err)
	}
	return convertJoined(engine.Touch(g, ids, cfg.at, cfg.create, t.store, t.cfg.Logger))
}

// Clean removes the targeted rules' outputs and memo records. Removal
// is best effort: missing files are not errors and one rule's failure
// does not stop the others.
func Clean(targets []Target) error {
	t, ids, err := gatherTargets(targets)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	g, err := engine.NewGraph(t.snapshot())
	if err != nil {
		return convertErr(err)
	}
	return convertJoined(engine.Clean(g, ids, t.store, t.cfg.Logger))
}

// Make on a group brings every rule in its subtree up to date.
func (g *Group) Make(ctx context.Context, opts ...MakeOption) (Summary, error) {
	return Make(ctx, []Target{g}, opts...)
}

// Touch stamps every rule in the group's subtree. See Touch.
func (g *Group) Touch(opts ...TouchOption) error {
	return Touch([]Target{g}, opts...)
}

// Clean removes the outputs of every rule in the group's subtree.
func (g *Group) Clean() error {
	return Clean([]Target{g})
}
