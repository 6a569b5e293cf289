package incmake

import (
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
)

// WriteDOT renders the dependency graph of the targets (and everything
// they depend on) as Graphviz DOT. Rules are boxes, source files are
// ellipses.
func WriteDOT(w io.Writer, targets ...Target) error {
	view, err := newGraphView(targets)
	if err != nil {
		return err
	}
	var b strings.Builder
	b.WriteString("digraph build {\n")
	b.WriteString("  rankdir=LR;\n")
	for _, id := range view.ids {
		h := view.handle(id)
		fmt.Fprintf(&b, "  r%d [shape=box, label=%q];\n", id, h.qname+"\n"+view.outputLabel(h))
	}
	for i, src := range view.sources {
		fmt.Fprintf(&b, "  s%d [shape=ellipse, label=%q];\n", i, view.rel(src))
	}
	for _, e := range view.edges {
		fmt.Fprintf(&b, "  %s -> r%d;\n", e.from, e.to)
	}
	b.WriteString("}\n")
	_, err = io.WriteString(w, b.String())
	return err
}

// WriteMermaid renders the same graph as a Mermaid flowchart, handy for
// embedding in markdown.
func WriteMermaid(w io.Writer, targets ...Target) error {
	view, err := newGraphView(targets)
	if err != nil {
		return err
	}
	var b strings.Builder
	b.WriteString("flowchart LR\n")
	for _, id := range view.ids {
		h := view.handle(id)
		fmt.Fprintf(&b, "  r%d[%q]\n", id, h.qname)
	}
	for i, src := range view.sources {
		fmt.Fprintf(&b, "  s%d(%q)\n", i, view.rel(src))
	}
	for _, e := range view.edges {
		fmt.Fprintf(&b, "  %s --> r%d\n", e.from, e.to)
	}
	_, err = io.WriteString(w, b.String())
	return err
}

type vizEdge struct {
	from string
	to   int
}

// graphView is the render-ready form of a target closure: rule ids in
// definition order, deduplicated source files, and edges.
type graphView struct {
	handles []*Rule
	root    string
	ids     []int
	sources []string
	edges   []vizEdge
}

func newGraphView(targets []Target) (*graphView, error) {
	t, ids, err := gatherTargets(targets)
	if err != nil {
		return nil, err
	}
	view := &graphView{}
	if t == nil {
		return view, nil
	}

	t.mu.Lock()
	handles := t.handles[:len(t.handles):len(t.handles)]
	t.mu.Unlock()
	view.handles = handles
	if root, err := absPath("", t.cfg.Dir); err == nil {
		view.root = root
	}

	// Expand to the upstream closure.
	inSet := make(map[int]bool)
	stack := append([]int(nil), ids...)
	for _, id := range ids {
		inSet[id] = true
	}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, in := range handles[id].inputs {
			if in.producer != nil && !inSet[in.producer.id] {
				inSet[in.producer.id] = true
				stack = append(stack, in.producer.id)
			}
		}
	}
	for id := range inSet {
		view.ids = append(view.ids, id)
	}
	sort.Ints(view.ids)

	srcIndex := make(map[string]int)
	for _, id := range view.ids {
		for _, in := range handles[id].inputs {
			if in.producer != nil {
				view.edges = append(view.edges, vizEdge{from: fmt.Sprintf("r%d", in.producer.id), to: id})
				continue
			}
			si, ok := srcIndex[in.path]
			if !ok {
				si = len(view.sources)
				srcIndex[in.path] = si
				view.sources = append(view.sources, in.path)
			}
			view.edges = append(view.edges, vizEdge{from: fmt.Sprintf("s%d", si), to: id})
		}
	}
	return view, nil
}

func (v *graphView) handle(id int) *Rule { return v.handles[id] }

func (v *graphView) outputLabel(h *Rule) string {
	names := make([]string, len(h.outputs))
	for i, o := range h.outputs {
		names[i] = filepath.Base(o.path)
	}
	return strings.Join(names, ", ")
}

// rel shortens a source path against the tree root for readable labels.
func (v *graphView) rel(path string) string {
	if v.root == "" {
		return path
	}
	rel, err := filepath.Rel(v.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return rel
}
