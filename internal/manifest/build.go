package manifest

import (
	"context"
	"fmt"
	"math"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/incmake/incmake"
)

// waitDelay is how long a command gets between context cancellation and
// a kill.
const waitDelay = 5 * time.Second

// Tree is a built manifest: the rule tree plus name lookup for targets.
type Tree struct {
	Root *incmake.Group
	// Jobs is the manifest's default parallelism, 0 when unset.
	Jobs  int
	rules map[string]*incmake.Rule
	order []string
}

// RuleNames returns the qualified rule names in manifest order.
func (t *Tree) RuleNames() []string {
	return append([]string(nil), t.order...)
}

// Rule returns the named rule.
func (t *Tree) Rule(name string) (*incmake.Rule, bool) {
	r, ok := t.rules[name]
	return r, ok
}

// Lookup resolves a target name: the empty string means the whole tree,
// otherwise a qualified rule name, otherwise a group name.
func (t *Tree) Lookup(name string) (incmake.Target, error) {
	if name == "" {
		return t.Root, nil
	}
	if r, ok := t.rules[name]; ok {
		return r, nil
	}
	g := t.Root
	for _, part := range strings.Split(name, "/") {
		child, ok := g.Child(part)
		if !ok {
			return nil, fmt.Errorf("manifest: no rule or group named %q", name)
		}
		g = child
	}
	return g, nil
}

// Build turns a validated definition into a rule tree. Rules may refer
// to each other in any file order; Build defines producers before their
// consumers and rejects reference cycles.
func Build(def Definition, cfg incmake.Config) (*Tree, error) {
	root, err := incmake.New(cfg)
	if err != nil {
		return nil, err
	}
	tree := &Tree{Root: root, Jobs: def.Jobs, rules: make(map[string]*incmake.Rule)}

	flat, err := flatten(def, root)
	if err != nil {
		return nil, err
	}
	if err := resolveDeps(flat, cfg.Dir); err != nil {
		return nil, err
	}
	order, err := defineOrder(flat)
	if err != nil {
		return nil, err
	}

	workDir := cfg.Dir
	if workDir == "" {
		workDir = "."
	}
	handles := make([]*incmake.Rule, len(flat))
	for _, i := range order {
		fr := flat[i]
		opts, err := ruleOptions(fr, flat, handles)
		if err != nil {
			return nil, err
		}
		r, err := fr.group.Rule(fr.def.Name, commandMethod(fr.def, workDir), opts...)
		if err != nil {
			return nil, err
		}
		handles[i] = r
		tree.rules[fr.qname] = r
	}
	for _, fr := range flat {
		tree.order = append(tree.order, fr.qname)
	}
	return tree, nil
}

// flatRule is one rule of the manifest with its group resolved.
type flatRule struct {
	def   RuleDef
	qname string
	group *incmake.Group
	dir   string // the group's approximate resolved directory
	deps  []int  // indexes of rules this one consumes
}

func flatten(def Definition, root *incmake.Group) ([]*flatRule, error) {
	var flat []*flatRule
	byName := make(map[string]int)
	var walk func(g *incmake.Group, prefix, dir string, groups []GroupDef, rules []RuleDef) error
	walk = func(g *incmake.Group, prefix, dir string, groups []GroupDef, rules []RuleDef) error {
		for _, r := range rules {
			qname := qualify(prefix, r.Name)
			if _, ok := byName[qname]; ok {
				return fmt.Errorf("manifest: rule %q defined twice", qname)
			}
			byName[qname] = len(flat)
			flat = append(flat, &flatRule{def: r, qname: qname, group: g, dir: dir})
		}
		for _, gd := range groups {
			child, err := g.Group(gd.Name)
			if err != nil {
				return err
			}
			if err := walk(child, qualify(prefix, gd.Name), filepath.Join(dir, gd.Name), gd.Groups, gd.Rules); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(root, "", "", def.Groups, def.Rules); err != nil {
		return nil, err
	}
	return flat, nil
}

// resolveDeps fills each rule's dep list from explicit rule references
// and from file inputs whose path matches another rule's output.
func resolveDeps(flat []*flatRule, baseDir string) error {
	byName := make(map[string]int, len(flat))
	byPath := make(map[string]int)
	for i, fr := range flat {
		byName[fr.qname] = i
		for _, o := range fr.def.Outputs {
			byPath[approxPath(baseDir, fr.dir, o.Path)] = i
		}
	}
	for i, fr := range flat {
		seen := make(map[int]bool)
		add := func(dep int) {
			if dep != i && !seen[dep] {
				seen[dep] = true
				fr.deps = append(fr.deps, dep)
			}
		}
		for _, in := range fr.def.Inputs {
			if in.Rule != "" {
				dep, ok := byName[in.Rule]
				if !ok {
					return fmt.Errorf("manifest: rule %q depends on unknown rule %q", fr.qname, in.Rule)
				}
				if dep == i {
					return fmt.Errorf("manifest: rule %q depends on itself", fr.qname)
				}
				add(dep)
				continue
			}
			if dep, ok := byPath[approxPath(baseDir, fr.dir, in.Path)]; ok {
				add(dep)
			}
		}
	}
	return nil
}

// approxPath mirrors the library's path resolution closely enough to
// match inputs to producing rules. The library re-resolves
// authoritatively at definition time.
func approxPath(baseDir, groupDir, path string) string {
	if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, groupDir, path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	return abs
}

// defineOrder orders rules so producers come before consumers, keeping
// file order where the dependencies allow it.
func defineOrder(flat []*flatRule) ([]int, error) {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make([]int, len(flat))
	order := make([]int, 0, len(flat))
	var visit func(i int) error
	visit = func(i int) error {
		switch state[i] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("manifest: dependency cycle through rule %q", flat[i].qname)
		}
		state[i] = visiting
		for _, dep := range flat[i].deps {
			if err := visit(dep); err != nil {
				return err
			}
		}
		state[i] = done
		order = append(order, i)
		return nil
	}
	for i := range flat {
		if err := visit(i); err != nil {
			return nil, err
		}
	}
	return order, nil
}

func ruleOptions(fr *flatRule, flat []*flatRule, handles []*incmake.Rule) ([]incmake.RuleOption, error) {
	var opts []incmake.RuleOption
	for _, o := range fr.def.Outputs {
		if o.Value {
			opts = append(opts, incmake.VOut(o.Key, o.Path))
		} else {
			opts = append(opts, incmake.Out(o.Key, o.Path))
		}
	}
	byName := make(map[string]*incmake.Rule)
	for i := range flat {
		if handles[i] != nil {
			byName[flat[i].qname] = handles[i]
		}
	}
	for _, in := range fr.def.Inputs {
		switch {
		case in.Rule != "":
			dep := byName[in.Rule]
			if in.Output == "" {
				opts = append(opts, incmake.DependsOn(dep))
			} else {
				opts = append(opts, incmake.UseOutput(in.Key, dep, in.Output))
			}
		case in.Value:
			opts = append(opts, incmake.VIn(in.Key, in.Path))
		default:
			opts = append(opts, incmake.In(in.Key, in.Path))
		}
	}
	for _, p := range fr.def.Params {
		v, err := valueFromYAML(p.Value)
		if err != nil {
			return nil, fmt.Errorf("manifest: rule %q param %q: %w", fr.qname, p.Key, err)
		}
		opts = append(opts, incmake.Param(p.Key, v))
	}
	if fr.def.Force {
		opts = append(opts, incmake.Force())
	}
	return opts, nil
}

func valueFromYAML(v any) (incmake.Value, error) {
	switch x := v.(type) {
	case nil:
		return incmake.Nil(), nil
	case bool:
		return incmake.Bool(x), nil
	case int:
		return incmake.Int(int64(x)), nil
	case int64:
		return incmake.Int(x), nil
	case uint64:
		if x > math.MaxInt64 {
			return nil, fmt.Errorf("integer %d overflows", x)
		}
		return incmake.Int(int64(x)), nil
	case float64:
		return incmake.Float(x), nil
	case string:
		return incmake.Str(x), nil
	case []any:
		items := make([]incmake.Value, len(x))
		for i, item := range x {
			iv, err := valueFromYAML(item)
			if err != nil {
				return nil, err
			}
			items[i] = iv
		}
		return incmake.List(items...), nil
	case map[string]any:
		m := make(map[string]incmake.Value, len(x))
		for k, item := range x {
			iv, err := valueFromYAML(item)
			if err != nil {
				return nil, err
			}
			m[k] = iv
		}
		return incmake.Map(m), nil
	default:
		return nil, fmt.Errorf("unsupported value of type %T", v)
	}
}

var placeholderRe = regexp.MustCompile(`\{\{\s*(in|out)\.([^{}\s]+)\s*\}\}`)

// commandMethod wraps a manifest command line as a rule method. The
// command runs in the manifest's base directory with its output wired to
// the rule's captured streams. Cancelled commands get a short grace
// period before being killed.
func commandMethod(def RuleDef, workDir string) incmake.Method {
	return func(ctx context.Context, run *incmake.Run) error {
		var argv []string
		if def.Shell != "" {
			line, err := expand(def.Shell, run)
			if err != nil {
				return err
			}
			argv = []string{"sh", "-c", line}
		} else {
			argv = make([]string, len(def.Command))
			for i, a := range def.Command {
				ex, err := expand(a, run)
				if err != nil {
					return err
				}
				argv[i] = ex
			}
		}
		cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
		cmd.Dir = workDir
		cmd.Stdout = run.Stdout
		cmd.Stderr = run.Stderr
		cmd.WaitDelay = waitDelay
		return cmd.Run()
	}
}

// expand substitutes {{in.KEY}} and {{out.KEY}} placeholders with the
// rule's resolved artifact paths.
func expand(s string, run *incmake.Run) (string, error) {
	var bad error
	out := placeholderRe.ReplaceAllStringFunc(s, func(m string) string {
		sub := placeholderRe.FindStringSubmatch(m)
		var path string
		if sub[1] == "in" {
			path = run.Input(sub[2])
		} else {
			path = run.Output(sub[2])
		}
		if path == "" && bad == nil {
			bad = fmt.Errorf("rule %q: unknown placeholder %s", run.Name(), m)
		}
		return path
	})
	if bad != nil {
		return "", bad
	}
	return out, nil
}
