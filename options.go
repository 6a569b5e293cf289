package incmake

// RuleOption configures a rule at definition time. Options are applied
// in order; declaration order of outputs, inputs and params is
// significant because it fixes memo record order and the positional
// views a method sees.
type RuleOption func(*ruleSpec)

type outputDecl struct {
	key   string
	path  string // as declared; resolved against the group dir later
	value bool
}

type inputDecl struct {
	key      string
	path     string
	value    bool
	producer *Rule // nil for source files
	outKey   string
}

type paramDecl struct {
	key   string
	value Value
}

type ruleSpec struct {
	outputs []outputDecl
	inputs  []inputDecl
	params  []paramDecl
	force   bool
}

// Out declares a plain output artifact. The first declared output is
// the rule's primary output; the memo record is stored next to it.
func Out(key, path string) RuleOption {
	return func(s *ruleSpec) {
		s.outputs = append(s.outputs, outputDecl{key: key, path: path})
	}
}

// VOut declares a value-tracked output artifact: consumers compare its
// content hash instead of its mtime.
func VOut(key, path string) RuleOption {
	return func(s *ruleSpec) {
		s.outputs = append(s.outputs, outputDecl{key: key, path: path, value: true})
	}
}

// In declares a plain source file input.
func In(key, path string) RuleOption {
	return func(s *ruleSpec) {
		s.inputs = append(s.inputs, inputDecl{key: key, path: path})
	}
}

// VIn declares a value-tracked source file input. It never triggers a
// rebuild through mtime alone; only a content change does.
func VIn(key, path string) RuleOption {
	return func(s *ruleSpec) {
		s.inputs = append(s.inputs, inputDecl{key: key, path: path, value: true})
	}
}

// DependsOn adds every output of each given rule as an input, in the
// producer's declaration order. Input keys are qualified as
// "<producer-name>:<output-key>".
func DependsOn(rules ...*Rule) RuleOption {
	return func(s *ruleSpec) {
		for _, r := range rules {
			for _, o := range r.outputs {
				s.inputs = append(s.inputs, inputDecl{
					key:      r.qname + ":" + o.key,
					producer: r,
					outKey:   o.key,
				})
			}
		}
	}
}

// UseOutput adds one named output of a rule as an input under the given
// key.
func UseOutput(key string, r *Rule, outKey string) RuleOption {
	return func(s *ruleSpec) {
		s.inputs = append(s.inputs, inputDecl{key: key, producer: r, outKey: outKey})
	}
}

// Param declares a memoized non-file parameter. Changing its value
// makes the rule stale even when no file changed.
func Param(key string, v Value) RuleOption {
	return func(s *ruleSpec) {
		s.params = append(s.params, paramDecl{key: key, value: v})
	}
}

// Force marks the rule stale on every make.
func Force() RuleOption {
	return func(s *ruleSpec) {
		s.force = true
	}
}
