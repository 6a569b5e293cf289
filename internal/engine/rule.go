package engine

import (
	"context"

	"github.com/incmake/incmake/internal/memo"
)

// Method is the executable body of a rule. It receives the writers its
// output should go to; under parallel execution these are per-rule
// buffers flushed as the rule completes.
type Method func(ctx context.Context, out *Output) error

// Input is one dependency edge of a rule.
type Input struct {
	Artifact Artifact
	// Producer is the id of the rule that produces this artifact, or -1
	// for source files nothing in the graph produces.
	Producer int
}

// Rule is a node of the build graph. Rules are immutable once handed to
// the engine; ids are dense indexes assigned by the frontend in
// definition order.
type Rule struct {
	ID      int
	Name    string
	Inputs  []Input
	Outputs []Artifact
	Params  []memo.Entry
	Method  Method
	Force   bool
}

// Primary returns the path the rule's memo record is keyed by.
func (r *Rule) Primary() string {
	return r.Outputs[0].Path
}

// currentRecord assembles the rule's memo record as of now: the
// definition-time param entries followed by content hashes of every
// value-tracked input, in input order.
func currentRecord(r *Rule, hasher *memo.Hasher) (memo.Record, error) {
	entries := make([]memo.Entry, 0, len(r.Params))
	entries = append(entries, r.Params...)
	for _, in := range r.Inputs {
		if in.Artifact.Kind != ValueTracked {
			continue
		}
		sum, err := hasher.Sum(in.Artifact.Path)
		if err != nil {
			return memo.Record{}, err
		}
		entries = append(entries, memo.Content(in.Artifact.Path, sum))
	}
	return memo.Record{Entries: entries}, nil
}
