package incmake

import (
	"context"
)

// Rule is the handle returned by definition. It identifies the rule in
// dependency declarations and offers per-rule maintenance operations.
// Handles are immutable.
type Rule struct {
	name    string
	qname   string
	group   *Group
	id      int
	outputs []outputDecl
	inputs  []inputDecl
	params  []paramDecl
}

// Name returns the rule's qualified name, such as "reports/render".
func (r *Rule) Name() string { return r.qname }

// Output returns the resolved absolute path of a declared output, or
// the empty string for an unknown key.
func (r *Rule) Output(key string) string {
	if od, ok := r.outputDecl(key); ok {
		return od.path
	}
	return ""
}

// Outputs returns the resolved output paths in declaration order.
func (r *Rule) Outputs() []string {
	out := make([]string, len(r.outputs))
	for i, o := range r.outputs {
		out[i] = o.path
	}
	return out
}

func (r *Rule) outputDecl(key string) (outputDecl, bool) {
	for _, o := range r.outputs {
		if o.key == key {
			return o, true
		}
	}
	return outputDecl{}, false
}

func (r *Rule) outputDeclByPath(path string) (outputDecl, bool) {
	for _, o := range r.outputs {
		if o.path == path {
			return o, true
		}
	}
	return outputDecl{}, false
}

// Make brings this rule and everything it depends on up to date.
func (r *Rule) Make(ctx context.Context, opts ...MakeOption) (Summary, error) {
	return Make(ctx, []Target{r}, opts...)
}

// Touch stamps the rule's outputs and refreshes its memo record. See
// Touch for the semantics.
func (r *Rule) Touch(opts ...TouchOption) error {
	return Touch([]Target{r}, opts...)
}

// Clean removes the rule's outputs and memo record.
func (r *Rule) Clean() error {
	return Clean([]Target{r})
}

func (r *Rule) targetIDs() []int { return []int{r.id} }

func (r *Rule) buildTree() *tree { return r.group.tree }
