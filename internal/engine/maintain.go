package engine

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/incmake/incmake/internal/memo"
)

// Touch stamps the outputs of the given rules with the time at and
// refreshes their memo records to current values, making the rules
// up to date without running their methods. Missing outputs are created
// empty when create is set, otherwise left alone. Unlike Make, Touch
// operates on exactly the given rules, not their upstream closure.
func Touch(g *Graph, ids []int, at time.Time, create bool, store memo.Store, log logrus.FieldLogger) error {
	ev := newEvents(log)
	hasher := memo.NewHasher()
	var errs []error
	for _, id := range ids {
		r := g.Rule(id)
		if err := touchRule(r, at, create, store, hasher); err != nil {
			errs = append(errs, &RuleError{Rule: r.Name, Err: err})
			continue
		}
		ev.ruleTouched(r)
	}
	return errors.Join(errs...)
}

func touchRule(r *Rule, at time.Time, create bool, store memo.Store, hasher *memo.Hasher) error {
	for _, o := range r.Outputs {
		if _, err := os.Stat(o.Path); err != nil {
			if !os.IsNotExist(err) {
				return err
			}
			if !create {
				continue
			}
			if err := os.MkdirAll(filepath.Dir(o.Path), 0o755); err != nil {
				return err
			}
			f, err := os.OpenFile(o.Path, os.O_CREATE|os.O_WRONLY, 0o644)
			if err != nil {
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
		}
		if err := os.Chtimes(o.Path, at, at); err != nil {
			return err
		}
	}
	rec, err := currentRecord(r, hasher)
	if err != nil {
		return fmt.Errorf("memoizing: %w", err)
	}
	return store.Save(r.Primary(), rec)
}

// Clean removes the outputs and memo records of the given rules.
// Removal is best effort: missing files are not errors, and one rule's
// failure does not stop the others.
func Clean(g *Graph, ids []int, store memo.Store, log logrus.FieldLogger) error {
	ev := newEvents(log)
	var errs []error
	for _, id := range ids {
		r := g.Rule(id)
		var rerr error
		for _, o := range r.Outputs {
			if err := os.Remove(o.Path); err != nil && !os.IsNotExist(err) {
				rerr = errors.Join(rerr, err)
			}
		}
		if err := store.Delete(r.Primary()); err != nil {
			rerr = errors.Join(rerr, err)
		}
		if rerr != nil {
			errs = append(errs, &RuleError{Rule: r.Name, Err: rerr})
			continue
		}
		ev.ruleCleaned(r)
	}
	return errors.Join(errs...)
}
