package engine

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/incmake/incmake/internal/memo"
)

func mustGraph(t *testing.T, rules ...*Rule) *Graph {
	t.Helper()
	g, err := NewGraph(rules)
	if err != nil {
		t.Fatal(err)
	}
	return g
}

// constRule writes fixed content to its single output.
func constRule(id int, name, out, content string) *Rule {
	return &Rule{
		ID:      id,
		Name:    name,
		Outputs: []Artifact{{Path: out}},
		Method: func(ctx context.Context, o *Output) error {
			return os.WriteFile(out, []byte(content), 0o644)
		},
	}
}

// chainRule copies src to dst; producer is the id of the rule producing
// src, or -1 for a source file.
func chainRule(id int, name, src, dst string, producer int) *Rule {
	return &Rule{
		ID:      id,
		Name:    name,
		Inputs:  []Input{{Artifact: Artifact{Path: src}, Producer: producer}},
		Outputs: []Artifact{{Path: dst}},
		Method: func(ctx context.Context, o *Output) error {
			data, err := os.ReadFile(src)
			if err != nil {
				return err
			}
			return os.WriteFile(dst, data, 0o644)
		},
	}
}

func TestMake_BuildsMissingThenSkips(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.txt")
	b := filepath.Join(dir, "b.txt")
	g := mustGraph(t,
		constRule(0, "make-a", a, "alpha"),
		chainRule(1, "make-b", a, b, 0),
	)

	sum, err := Make(context.Background(), g, []int{1}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if sum.Ran != 2 || sum.Total != 2 {
		t.Fatalf("expected 2 ran of 2, got %+v", sum)
	}
	if got := sum.Detail["make-a"].Verdict; got != MissingOutput {
		t.Errorf("expected missing-output for make-a, got %v", got)
	}
	if got := sum.Detail["make-b"].Verdict; got != UpstreamRan {
		t.Errorf("expected upstream-ran for make-b, got %v", got)
	}
	data, err := os.ReadFile(b)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "alpha" {
		t.Errorf("expected alpha, got %q", data)
	}

	sum, err = Make(context.Background(), g, []int{1}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if sum.Skipped != 2 || sum.Ran != 0 {
		t.Errorf("expected a fully skipped second make, got %+v", sum)
	}
}

func TestMake_SourceChangeRipplesDownstream(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "seed.txt")
	a := filepath.Join(dir, "a.txt")
	b := filepath.Join(dir, "b.txt")
	base := time.Now().Add(-time.Hour)
	writeFile(t, src, "seed")
	chtimes(t, src, base.Add(-time.Minute))

	g := mustGraph(t,
		chainRule(0, "stage", src, a, -1),
		chainRule(1, "publish", a, b, 0),
	)

	if _, err := Make(context.Background(), g, []int{1}, Options{Now: func() time.Time { return base }}); err != nil {
		t.Fatal(err)
	}

	sum, err := Make(context.Background(), g, []int{1}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if sum.Skipped != 2 {
		t.Fatalf("expected nothing to run before the touch, got %+v", sum)
	}

	chtimes(t, src, base.Add(time.Minute))
	sum, err = Make(context.Background(), g, []int{1}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if sum.Ran != 2 {
		t.Fatalf("expected the change to ripple, got %+v", sum)
	}
	if got := sum.Detail["stage"].Verdict; got != OutdatedByMtime {
		t.Errorf("expected outdated-by-mtime for stage, got %v", got)
	}
	if got := sum.Detail["publish"].Verdict; got != UpstreamRan {
		t.Errorf("expected upstream-ran for publish, got %v", got)
	}
}

func TestMake_JoinRebuildsOnlyChangedBranch(t *testing.T) {
	dir := t.TempDir()
	src1 := filepath.Join(dir, "original1.txt")
	src2 := filepath.Join(dir, "original2.txt")
	copy1 := filepath.Join(dir, "copy1.txt")
	copy2 := filepath.Join(dir, "copy2.txt")
	merged := filepath.Join(dir, "concat.txt")
	base := time.Now().Add(-time.Hour)
	writeFile(t, src1, "one")
	writeFile(t, src2, "two")
	chtimes(t, src1, base.Add(-time.Minute))
	chtimes(t, src2, base.Add(-time.Minute))

	concat := &Rule{
		ID:   2,
		Name: "concat",
		Inputs: []Input{
			{Artifact: Artifact{Path: copy1}, Producer: 0},
			{Artifact: Artifact{Path: copy2}, Producer: 1},
		},
		Outputs: []Artifact{{Path: merged}},
		Method: func(ctx context.Context, o *Output) error {
			first, err := os.ReadFile(copy1)
			if err != nil {
				return err
			}
			second, err := os.ReadFile(copy2)
			if err != nil {
				return err
			}
			return os.WriteFile(merged, append(first, second...), 0o644)
		},
	}
	g := mustGraph(t,
		chainRule(0, "cp1", src1, copy1, -1),
		chainRule(1, "cp2", src2, copy2, -1),
		concat,
	)

	sum, err := Make(context.Background(), g, []int{2}, Options{Now: func() time.Time { return base }})
	if err != nil {
		t.Fatal(err)
	}
	if sum.Ran != 3 {
		t.Fatalf("expected all three rules to run, got %+v", sum)
	}

	chtimes(t, src1, base.Add(time.Minute))
	sum, err = Make(context.Background(), g, []int{2}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if sum.Detail["cp1"].Status != StatusRan {
		t.Errorf("expected cp1 to rerun, got %+v", sum.Detail["cp1"])
	}
	if sum.Detail["cp2"].Status != StatusSkipped {
		t.Errorf("expected cp2 to skip, got %+v", sum.Detail["cp2"])
	}
	if sum.Detail["concat"].Status != StatusRan {
		t.Errorf("expected concat to follow cp1, got %+v", sum.Detail["concat"])
	}
	data, err := os.ReadFile(merged)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "onetwo" {
		t.Errorf("expected onetwo, got %q", data)
	}
}

func TestMake_TargetSubsetLeavesRestAlone(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.txt")
	b := filepath.Join(dir, "b.txt")
	c := filepath.Join(dir, "c.txt")
	g := mustGraph(t,
		constRule(0, "make-a", a, "a"),
		chainRule(1, "make-b", a, b, 0),
		constRule(2, "make-c", c, "c"),
	)

	sum, err := Make(context.Background(), g, []int{1}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if sum.Total != 2 {
		t.Errorf("expected only the target closure, got %+v", sum)
	}
	if _, ok := sum.Detail["make-c"]; ok {
		t.Error("make-c is outside the target closure")
	}
	if _, err := os.Stat(c); !os.IsNotExist(err) {
		t.Error("make-c must not have been built")
	}
}

func TestMake_DryRunTouchesNothing(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.txt")
	b := filepath.Join(dir, "b.txt")
	g := mustGraph(t,
		constRule(0, "make-a", a, "a"),
		chainRule(1, "make-b", a, b, 0),
	)

	sum, err := Make(context.Background(), g, []int{1}, Options{DryRun: true})
	if err != nil {
		t.Fatal(err)
	}
	if sum.Ran != 2 {
		t.Fatalf("expected both rules to report would-run, got %+v", sum)
	}
	if got := sum.Detail["make-b"].Verdict; got != UpstreamRan {
		t.Errorf("expected would-run to infect downstream, got %v", got)
	}
	for _, p := range []string{a, b} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("dry run created %s", p)
		}
	}
	if _, ok := (memo.Store{}).Load(a); ok {
		t.Error("dry run persisted a memo record")
	}
}

func TestMake_FailFastAbortsDependents(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.txt")
	b := filepath.Join(dir, "b.txt")
	c := filepath.Join(dir, "c.txt")
	errBoom := errors.New("boom")

	failing := chainRule(1, "explode", a, b, 0)
	failing.Method = func(ctx context.Context, o *Output) error { return errBoom }

	g := mustGraph(t,
		constRule(0, "make-a", a, "a"),
		failing,
		chainRule(2, "make-c", b, c, 1),
	)

	sum, err := Make(context.Background(), g, []int{2}, Options{})
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected the failure to surface, got %v", err)
	}
	var rerr *RuleError
	if !errors.As(err, &rerr) || rerr.Rule != "explode" {
		t.Fatalf("expected a rule error for explode, got %v", err)
	}
	if sum.OK() {
		t.Error("summary must not be OK")
	}
	if got := sum.Detail["make-a"].Status; got != StatusRan {
		t.Errorf("expected make-a ran, got %v", got)
	}
	if got := sum.Detail["explode"].Status; got != StatusFailed {
		t.Errorf("expected explode failed, got %v", got)
	}
	if got := sum.Detail["make-c"].Status; got != StatusAborted {
		t.Errorf("expected make-c aborted, got %v", got)
	}
}

func TestMake_KeepGoingBuildsIndependentRules(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.txt")
	b := filepath.Join(dir, "b.txt")
	c := filepath.Join(dir, "c.txt")
	d := filepath.Join(dir, "d.txt")
	errBoom := errors.New("boom")

	failing := chainRule(1, "explode", a, b, 0)
	failing.Method = func(ctx context.Context, o *Output) error { return errBoom }

	join := &Rule{
		ID:   3,
		Name: "join",
		Inputs: []Input{
			{Artifact: Artifact{Path: b}, Producer: 1},
			{Artifact: Artifact{Path: c}, Producer: 2},
		},
		Outputs: []Artifact{{Path: d}},
		Method: func(ctx context.Context, o *Output) error {
			return os.WriteFile(d, []byte("joined"), 0o644)
		},
	}

	g := mustGraph(t,
		constRule(0, "make-a", a, "a"),
		failing,
		chainRule(2, "make-c", a, c, 0),
		join,
	)

	sum, err := Make(context.Background(), g, []int{3}, Options{KeepGoing: true})
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected the failure to surface at the end, got %v", err)
	}
	if sum.Ran != 2 || sum.Failed != 1 || sum.Aborted != 1 {
		t.Fatalf("expected 2 ran, 1 failed, 1 aborted, got %+v", sum)
	}
	if _, err := os.Stat(c); err != nil {
		t.Error("make-c should have been built despite the failure")
	}
	if got := sum.Detail["join"].Status; got != StatusAborted {
		t.Errorf("expected join aborted, got %v", got)
	}
}

func TestMake_MissingOutputFailsAndResets(t *testing.T) {
	dir := t.TempDir()
	o1 := filepath.Join(dir, "one.txt")
	o2 := filepath.Join(dir, "two.txt")

	half := &Rule{
		ID:      0,
		Name:    "half",
		Outputs: []Artifact{{Path: o1}, {Path: o2}},
		Method: func(ctx context.Context, o *Output) error {
			return os.WriteFile(o1, []byte("one"), 0o644)
		},
	}
	g := mustGraph(t, half)

	sum, err := Make(context.Background(), g, []int{0}, Options{})
	var merr *MissingOutputError
	if !errors.As(err, &merr) || merr.Path != o2 {
		t.Fatalf("expected missing output error for %s, got %v", o2, err)
	}
	if got := sum.Detail["half"].Status; got != StatusFailed {
		t.Errorf("expected failed, got %v", got)
	}

	info, err := os.Stat(o1)
	if err != nil {
		t.Fatal(err)
	}
	if info.ModTime().Unix() != 0 {
		t.Errorf("expected the surviving output at the epoch, got %v", info.ModTime())
	}

	sum, _ = Make(context.Background(), g, []int{0}, Options{})
	if got := sum.Detail["half"].Verdict; got != MissingOutput {
		t.Errorf("expected the next make to see it missing, got %v", got)
	}
}

func TestMake_ForceAlwaysRuns(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "stamp.txt")
	runs := 0
	forced := &Rule{
		ID:      0,
		Name:    "stamp",
		Outputs: []Artifact{{Path: out}},
		Force:   true,
		Method: func(ctx context.Context, o *Output) error {
			runs++
			return os.WriteFile(out, []byte("s"), 0o644)
		},
	}
	g := mustGraph(t, forced)

	for i := 0; i < 2; i++ {
		sum, err := Make(context.Background(), g, []int{0}, Options{})
		if err != nil {
			t.Fatal(err)
		}
		if got := sum.Detail["stamp"].Verdict; got != ForcedUpdate {
			t.Errorf("expected forced, got %v", got)
		}
	}
	if runs != 2 {
		t.Errorf("expected 2 runs, got %d", runs)
	}
}

func TestMake_ParamChangeReruns(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out.txt")
	withParam := func(encoded string) *Graph {
		r := constRule(0, "render", out, "content")
		r.Params = []memo.Entry{memo.Param("mode", encoded)}
		return mustGraph(t, r)
	}

	if _, err := Make(context.Background(), withParam(`s:"fast"`), []int{0}, Options{}); err != nil {
		t.Fatal(err)
	}

	sum, err := Make(context.Background(), withParam(`s:"slow"`), []int{0}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if got := sum.Detail["render"].Verdict; got != OutdatedByMemo {
		t.Errorf("expected outdated-by-memo, got %v", got)
	}

	sum, err = Make(context.Background(), withParam(`s:"slow"`), []int{0}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if sum.Skipped != 1 {
		t.Errorf("expected a skip once the param settled, got %+v", sum)
	}
}

func TestMake_SingleJobRunsInIDOrder(t *testing.T) {
	dir := t.TempDir()
	var order []string
	named := func(id int, name string) *Rule {
		out := filepath.Join(dir, name+".txt")
		return &Rule{
			ID:      id,
			Name:    name,
			Outputs: []Artifact{{Path: out}},
			Method: func(ctx context.Context, o *Output) error {
				order = append(order, name)
				return os.WriteFile(out, []byte(name), 0o644)
			},
		}
	}
	g := mustGraph(t, named(0, "first"), named(1, "second"), named(2, "third"))

	if _, err := Make(context.Background(), g, []int{0, 1, 2}, Options{Jobs: 1}); err != nil {
		t.Fatal(err)
	}
	if strings.Join(order, ",") != "first,second,third" {
		t.Errorf("expected id order, got %v", order)
	}
}

func TestMake_ParallelJobsOverlap(t *testing.T) {
	dir := t.TempDir()
	ready := make(chan struct{}, 3)
	start := make(chan struct{})
	newRule := func(id int, out string) *Rule {
		return &Rule{
			ID:      id,
			Name:    filepath.Base(out),
			Outputs: []Artifact{{Path: out}},
			Method: func(ctx context.Context, o *Output) error {
				ready <- struct{}{}
				select {
				case <-start:
				case <-time.After(5 * time.Second):
					return errors.New("peers never arrived; the pool is not parallel")
				}
				return os.WriteFile(out, []byte("x"), 0o644)
			},
		}
	}
	g := mustGraph(t,
		newRule(0, filepath.Join(dir, "p0.txt")),
		newRule(1, filepath.Join(dir, "p1.txt")),
		newRule(2, filepath.Join(dir, "p2.txt")),
	)

	go func() {
		for i := 0; i < 3; i++ {
			<-ready
		}
		close(start)
	}()

	sum, err := Make(context.Background(), g, []int{0, 1, 2}, Options{Jobs: 3})
	if err != nil {
		t.Fatal(err)
	}
	if sum.Ran != 3 {
		t.Errorf("expected 3 ran, got %+v", sum)
	}
}

func TestMake_ParallelOutputNotInterleaved(t *testing.T) {
	dir := t.TempDir()
	ready := make(chan struct{}, 2)
	start := make(chan struct{})
	chatty := func(id int, name string) *Rule {
		out := filepath.Join(dir, name+".txt")
		return &Rule{
			ID:      id,
			Name:    name,
			Outputs: []Artifact{{Path: out}},
			Method: func(ctx context.Context, o *Output) error {
				ready <- struct{}{}
				select {
				case <-start:
				case <-time.After(5 * time.Second):
					return errors.New("barrier timeout")
				}
				for i := 1; i <= 3; i++ {
					if _, err := io.WriteString(o.Stdout, name+" line\n"); err != nil {
						return err
					}
					time.Sleep(time.Millisecond)
				}
				return os.WriteFile(out, []byte("x"), 0o644)
			},
		}
	}
	g := mustGraph(t, chatty(0, "alpha"), chatty(1, "beta"))

	go func() {
		<-ready
		<-ready
		close(start)
	}()

	var buf bytes.Buffer
	parent := &Output{Stdout: &buf, Stderr: &buf}
	if _, err := Make(context.Background(), g, []int{0, 1}, Options{Jobs: 2, Out: parent}); err != nil {
		t.Fatal(err)
	}

	text := buf.String()
	for _, name := range []string{"alpha", "beta"} {
		block := strings.Repeat(name+" line\n", 3)
		if !strings.Contains(text, block) {
			t.Errorf("output of %s was interleaved:\n%s", name, text)
		}
	}
}

func TestMake_CancelledContextAborts(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.txt")
	b := filepath.Join(dir, "b.txt")
	g := mustGraph(t,
		constRule(0, "make-a", a, "a"),
		chainRule(1, "make-b", a, b, 0),
	)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sum, err := Make(ctx, g, []int{1}, Options{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if sum.Aborted != 2 {
		t.Errorf("expected both rules aborted, got %+v", sum)
	}
}

func TestMake_CreatesOutputParentDirs(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "deep", "nested", "out.txt")
	g := mustGraph(t, constRule(0, "deep", out, "x"))

	if _, err := Make(context.Background(), g, []int{0}, Options{}); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(out); err != nil {
		t.Errorf("expected the output with its parents, got %v", err)
	}
}
