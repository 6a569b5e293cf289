package incmake

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/incmake/incmake/internal/engine"
	"github.com/incmake/incmake/internal/memo"
)

// Config configures a build tree. It is passed explicitly to New; the
// library keeps no global state.
type Config struct {
	// Dir is the directory all relative artifact paths resolve under.
	// Empty means the current directory.
	Dir string
	// Logger receives build events. Nil discards them.
	Logger logrus.FieldLogger
	// MemoDirName overrides the reserved subdirectory holding memo
	// records next to each rule's primary output. Empty means
	// ".incmake".
	MemoDirName string
}

// tree is the state shared by every group and rule of one build tree.
type tree struct {
	mu      sync.Mutex
	cfg     Config
	store   memo.Store
	rules   []*engine.Rule
	handles []*Rule
	outputs map[string]*Rule               // abs path -> producer
	sources map[string]engine.ArtifactKind // abs path -> kind first seen with
	trie    *pathTrie
}

// snapshot returns the current rule set for the engine. Rules are
// append-only, so the prefix the graph sees never mutates.
func (t *tree) snapshot() []*engine.Rule {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rules[:len(t.rules):len(t.rules)]
}

// Group is a node of the definition tree. Each group owns a directory
// prefix; nested groups nest directories. Groups and rules are looked
// up by explicit name, and definition calls return errors synchronously
// so mistakes surface where they are written.
type Group struct {
	name   string // simple name, "" for the root
	path   string // qualified name, "" for the root
	dir    string // absolute directory prefix
	parent *Group
	tree   *tree
	groups map[string]*Group
	rules  map[string]*Rule
}

// New creates the root group of a build tree.
func New(cfg Config) (*Group, error) {
	dir, err := absPath("", cfg.Dir)
	if err != nil {
		return nil, err
	}
	t := &tree{
		cfg:     cfg,
		store:   memo.Store{DirName: cfg.MemoDirName},
		outputs: make(map[string]*Rule),
		sources: make(map[string]engine.ArtifactKind),
		trie:    newPathTrie(),
	}
	return &Group{
		dir:    dir,
		tree:   t,
		groups: make(map[string]*Group),
		rules:  make(map[string]*Rule),
	}, nil
}

// Name returns the group's qualified name; the root group's is empty.
func (g *Group) Name() string { return g.path }

// Dir returns the absolute directory the group's relative paths resolve
// under.
func (g *Group) Dir() string { return g.dir }

func (g *Group) qualify(name string) string {
	if g.path == "" {
		return name
	}
	return g.path + "/" + name
}

func validName(name string) bool {
	return name != "" && !strings.ContainsAny(name, "/\\")
}

// Group creates a nested group. Its directory is the parent's joined
// with the group name.
func (g *Group) Group(name string) (*Group, error) {
	if !validName(name) {
		return nil, defErrf(CodeInvalidRule, "invalid group name %q", name)
	}
	g.tree.mu.Lock()
	defer g.tree.mu.Unlock()
	if _, ok := g.groups[name]; ok {
		return nil, defErrf(CodeDuplicateName, "group %q already defined in %q", name, g.path)
	}
	if _, ok := g.rules[name]; ok {
		return nil, defErrf(CodeDuplicateName, "name %q already used by a rule in %q", name, g.path)
	}
	dir, err := absPath(g.dir, name)
	if err != nil {
		return nil, err
	}
	child := &Group{
		name:   name,
		path:   g.qualify(name),
		dir:    dir,
		parent: g,
		tree:   g.tree,
		groups: make(map[string]*Group),
		rules:  make(map[string]*Rule),
	}
	g.groups[name] = child
	return child, nil
}

// MustGroup is Group, panicking on error. Definition mistakes are
// programmer errors; panicking keeps package-level build definitions
// terse.
func (g *Group) MustGroup(name string) *Group {
	child, err := g.Group(name)
	Must(err)
	return child
}

// Child returns the named nested group.
func (g *Group) Child(name string) (*Group, bool) {
	g.tree.mu.Lock()
	defer g.tree.mu.Unlock()
	child, ok := g.groups[name]
	return child, ok
}

// RuleNamed returns the named rule of this group.
func (g *Group) RuleNamed(name string) (*Rule, bool) {
	g.tree.mu.Lock()
	defer g.tree.mu.Unlock()
	r, ok := g.rules[name]
	return r, ok
}

// Groups returns the nested groups sorted by name.
func (g *Group) Groups() []*Group {
	g.tree.mu.Lock()
	defer g.tree.mu.Unlock()
	out := make([]*Group, 0, len(g.groups))
	for _, child := range g.groups {
		out = append(out, child)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// Rules returns the group's own rules sorted by name.
func (g *Group) Rules() []*Rule {
	g.tree.mu.Lock()
	defer g.tree.mu.Unlock()
	out := make([]*Rule, 0, len(g.rules))
	for _, r := range g.rules {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// Rule defines a rule in this group. The method runs whenever the rule
// is stale; outputs, inputs and params come from options. Definition
// problems are reported immediately as *DefinitionError.
func (g *Group) Rule(name string, method Method, opts ...RuleOption) (*Rule, error) {
	if !validName(name) {
		return nil, defErrf(CodeInvalidRule, "invalid rule name %q", name)
	}
	if method == nil {
		return nil, defErrf(CodeInvalidRule, "rule %q has no method", g.qualify(name))
	}
	var spec ruleSpec
	for _, opt := range opts {
		opt(&spec)
	}

	g.tree.mu.Lock()
	defer g.tree.mu.Unlock()
	return g.defineLocked(name, method, &spec)
}

// MustRule is Rule, panicking on error.
func (g *Group) MustRule(name string, method Method, opts ...RuleOption) *Rule {
	r, err := g.Rule(name, method, opts...)
	Must(err)
	return r
}

func (g *Group) defineLocked(name string, method Method, spec *ruleSpec) (*Rule, error) {
	t := g.tree
	qname := g.qualify(name)

	if _, ok := g.rules[name]; ok {
		return nil, defErrf(CodeDuplicateName, "rule %q already defined in %q", name, g.path)
	}
	if _, ok := g.groups[name]; ok {
		return nil, defErrf(CodeDuplicateName, "name %q already used by a group in %q", name, g.path)
	}
	if len(spec.outputs) == 0 {
		return nil, defErrf(CodeInvalidRule, "rule %q declares no outputs", qname)
	}

	// Resolve and vet outputs first; nothing is registered until the
	// whole definition is known good.
	outKeys := make(map[string]bool, len(spec.outputs))
	resolvedOuts := make([]outputDecl, 0, len(spec.outputs))
	for _, o := range spec.outputs {
		if o.key == "" {
			return nil, defErrf(CodeInvalidRule, "rule %q has an output with an empty key", qname)
		}
		if outKeys[o.key] {
			return nil, defErrf(CodeInvalidRule, "rule %q declares output key %q twice", qname, o.key)
		}
		outKeys[o.key] = true
		path, err := absPath(g.dir, o.path)
		if err != nil {
			return nil, err
		}
		if prod, ok := t.outputs[path]; ok {
			return nil, defErrf(CodeDuplicateOutput, "output %s of rule %q is already produced by %q", path, qname, prod.qname)
		}
		if _, ok := t.sources[path]; ok {
			return nil, defErrf(CodeDuplicateOutput, "output %s of rule %q is already referenced as a source input", path, qname)
		}
		resolvedOuts = append(resolvedOuts, outputDecl{key: o.key, path: path, value: o.value})
	}

	// Resolve inputs: source paths and producer references.
	resolvedIns := make([]inputDecl, 0, len(spec.inputs))
	inKeys := make(map[string]bool, len(spec.inputs))
	for _, in := range spec.inputs {
		if in.producer != nil {
			if in.producer.group == nil || in.producer.group.tree != t {
				return nil, defErrf(CodeUnknownDependency, "rule %q depends on rule %q from a different build tree", qname, in.producer.qname)
			}
			od, ok := in.producer.outputDecl(in.outKey)
			if !ok {
				return nil, defErrf(CodeUnknownDependency, "rule %q depends on output %q which rule %q does not declare", qname, in.outKey, in.producer.qname)
			}
			key := in.key
			if key == "" {
				key = in.producer.qname + ":" + od.key
			}
			if inKeys[key] {
				return nil, defErrf(CodeInvalidRule, "rule %q declares input key %q twice", qname, key)
			}
			inKeys[key] = true
			resolvedIns = append(resolvedIns, inputDecl{key: key, path: od.path, value: od.value, producer: in.producer, outKey: od.key})
			continue
		}

		if in.key == "" {
			return nil, defErrf(CodeInvalidRule, "rule %q has an input with an empty key", qname)
		}
		if inKeys[in.key] {
			return nil, defErrf(CodeInvalidRule, "rule %q declares input key %q twice", qname, in.key)
		}
		inKeys[in.key] = true
		path, err := absPath(g.dir, in.path)
		if err != nil {
			return nil, err
		}
		kind := engine.Plain
		if in.value {
			kind = engine.ValueTracked
		}
		if prod, ok := t.outputs[path]; ok {
			// Referencing a produced path by name binds the producer.
			od, _ := prod.outputDeclByPath(path)
			if od.value != in.value {
				return nil, defErrf(CodeInvalidRule, "rule %q reads %s as %s but rule %q produces it as %s", qname, path, kindName(in.value), prod.qname, kindName(od.value))
			}
			resolvedIns = append(resolvedIns, inputDecl{key: in.key, path: path, value: in.value, producer: prod, outKey: od.key})
			continue
		}
		if seen, ok := t.sources[path]; ok && seen != kind {
			return nil, defErrf(CodeInvalidRule, "source %s is referenced both as plain and as value-tracked", path)
		}
		resolvedIns = append(resolvedIns, inputDecl{key: in.key, path: path, value: in.value})
	}

	// Params: encode now; definition time fixes the memo.
	paramKeys := make(map[string]bool, len(spec.params))
	params := make([]memo.Entry, 0, len(spec.params))
	for _, p := range spec.params {
		if p.key == "" {
			return nil, defErrf(CodeInvalidRule, "rule %q has a param with an empty key", qname)
		}
		if paramKeys[p.key] {
			return nil, defErrf(CodeInvalidRule, "rule %q declares param key %q twice", qname, p.key)
		}
		paramKeys[p.key] = true
		params = append(params, memo.Param(p.key, encoded(p.value)))
	}

	// Structural path collisions, against the tree and between this
	// rule's own outputs. Checks run before any registration so a bad
	// definition leaves no state behind.
	for i, o := range resolvedOuts {
		if t.trie.conflicts(o.path) {
			return nil, defErrf(CodeDuplicateOutput, "output %s of rule %q collides with another output path", o.path, qname)
		}
		for _, prev := range resolvedOuts[:i] {
			if o.path == prev.path ||
				strings.HasPrefix(o.path, prev.path+"/") ||
				strings.HasPrefix(prev.path, o.path+"/") {
				return nil, defErrf(CodeDuplicateOutput, "outputs %s and %s of rule %q collide", prev.path, o.path, qname)
			}
		}
	}
	for _, o := range resolvedOuts {
		t.trie.insert(o.path)
	}

	id := len(t.rules)
	handle := &Rule{
		name:    name,
		qname:   qname,
		group:   g,
		id:      id,
		outputs: resolvedOuts,
		inputs:  resolvedIns,
		params:  spec.params,
	}

	engIns := make([]engine.Input, len(resolvedIns))
	for i, in := range resolvedIns {
		kind := engine.Plain
		if in.value {
			kind = engine.ValueTracked
		}
		producer := -1
		if in.producer != nil {
			producer = in.producer.id
		}
		engIns[i] = engine.Input{Artifact: engine.Artifact{Path: in.path, Kind: kind}, Producer: producer}
	}
	engOuts := make([]engine.Artifact, len(resolvedOuts))
	for i, o := range resolvedOuts {
		kind := engine.Plain
		if o.value {
			kind = engine.ValueTracked
		}
		engOuts[i] = engine.Artifact{Path: o.path, Kind: kind}
	}
	eng := &engine.Rule{
		ID:      id,
		Name:    qname,
		Inputs:  engIns,
		Outputs: engOuts,
		Params:  params,
		Force:   spec.force,
		Method: func(ctx context.Context, out *engine.Output) error {
			return method(ctx, newRun(handle, out))
		},
	}

	for _, o := range resolvedOuts {
		t.outputs[o.path] = handle
	}
	for _, in := range resolvedIns {
		if in.producer == nil {
			kind := engine.Plain
			if in.value {
				kind = engine.ValueTracked
			}
			t.sources[in.path] = kind
		}
	}
	t.rules = append(t.rules, eng)
	t.handles = append(t.handles, handle)
	g.rules[name] = handle
	return handle, nil
}

func kindName(value bool) string {
	if value {
		return "value-tracked"
	}
	return "plain"
}

// targetIDs implements Target: a group targets every rule in its
// subtree, in definition order.
func (g *Group) targetIDs() []int {
	g.tree.mu.Lock()
	defer g.tree.mu.Unlock()
	var ids []int
	g.collectIDs(&ids)
	sort.Ints(ids)
	return ids
}

func (g *Group) collectIDs(ids *[]int) {
	for _, r := range g.rules {
		*ids = append(*ids, r.id)
	}
	for _, child := range g.groups {
		child.collectIDs(ids)
	}
}

func (g *Group) buildTree() *tree { return g.tree }
