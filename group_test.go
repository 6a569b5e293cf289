package incmake

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopMethod(ctx context.Context, run *Run) error { return nil }

// touchOut writes every declared output so the post-run check passes.
func touchOut(ctx context.Context, run *Run) error {
	for _, p := range run.Outputs() {
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			return err
		}
	}
	return nil
}

func newRoot(t *testing.T) (*Group, string) {
	t.Helper()
	dir := t.TempDir()
	root, err := New(Config{Dir: dir})
	require.NoError(t, err)
	return root, dir
}

func defCode(t *testing.T, err error) DefinitionCode {
	t.Helper()
	var derr *DefinitionError
	require.ErrorAs(t, err, &derr)
	return derr.Code
}

func TestNew_ResolvesDir(t *testing.T) {
	root, dir := newRoot(t)
	assert.Equal(t, dir, root.Dir())
	assert.Empty(t, root.Name())
}

func TestGroup_NestingQualifiesNamesAndDirs(t *testing.T) {
	root, dir := newRoot(t)
	gen := root.MustGroup("gen")
	deep := gen.MustGroup("deep")

	assert.Equal(t, "gen", gen.Name())
	assert.Equal(t, "gen/deep", deep.Name())
	assert.Equal(t, filepath.Join(dir, "gen", "deep"), deep.Dir())

	r := deep.MustRule("render", noopMethod, Out("out", "page.html"))
	assert.Equal(t, "gen/deep/render", r.Name())
	assert.Equal(t, filepath.Join(dir, "gen", "deep", "page.html"), r.Output("out"))
}

func TestGroup_DuplicateNamesRejected(t *testing.T) {
	root, _ := newRoot(t)
	root.MustGroup("assets")
	root.MustRule("render", noopMethod, Out("out", "page.html"))

	_, err := root.Group("assets")
	assert.Equal(t, CodeDuplicateName, defCode(t, err))

	_, err = root.Group("render")
	assert.Equal(t, CodeDuplicateName, defCode(t, err))

	_, err = root.Rule("render", noopMethod, Out("out", "other.html"))
	assert.Equal(t, CodeDuplicateName, defCode(t, err))

	_, err = root.Rule("assets", noopMethod, Out("out", "third.html"))
	assert.Equal(t, CodeDuplicateName, defCode(t, err))
}

func TestGroup_InvalidNamesRejected(t *testing.T) {
	root, _ := newRoot(t)
	for _, name := range []string{"", "a/b", `a\b`} {
		_, err := root.Group(name)
		assert.Equal(t, CodeInvalidRule, defCode(t, err), "group name %q", name)
		_, err = root.Rule(name, noopMethod, Out("out", "o.txt"))
		assert.Equal(t, CodeInvalidRule, defCode(t, err), "rule name %q", name)
	}
}

func TestRule_RequiresMethodAndOutputs(t *testing.T) {
	root, _ := newRoot(t)

	_, err := root.Rule("nomethod", nil, Out("out", "o.txt"))
	assert.Equal(t, CodeInvalidRule, defCode(t, err))

	_, err = root.Rule("nooutputs", noopMethod)
	assert.Equal(t, CodeInvalidRule, defCode(t, err))
}

func TestRule_KeyValidation(t *testing.T) {
	root, _ := newRoot(t)
	cases := []struct {
		name string
		opts []RuleOption
	}{
		{"empty output key", []RuleOption{Out("", "o.txt")}},
		{"duplicate output key", []RuleOption{Out("out", "a.txt"), Out("out", "b.txt")}},
		{"empty input key", []RuleOption{Out("out", "o.txt"), In("", "s.txt")}},
		{"duplicate input key", []RuleOption{Out("out", "o.txt"), In("src", "a.txt"), In("src", "b.txt")}},
		{"empty param key", []RuleOption{Out("out", "o.txt"), Param("", Int(1))}},
		{"duplicate param key", []RuleOption{Out("out", "o.txt"), Param("p", Int(1)), Param("p", Int(2))}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := root.Rule("bad", noopMethod, tc.opts...)
			assert.Equal(t, CodeInvalidRule, defCode(t, err))
		})
	}
}

func TestRule_OutputClaimedTwice(t *testing.T) {
	root, _ := newRoot(t)
	root.MustRule("first", noopMethod, Out("out", "shared.txt"))

	_, err := root.Rule("second", noopMethod, Out("out", "shared.txt"))
	assert.Equal(t, CodeDuplicateOutput, defCode(t, err))
}

func TestRule_OutputCannotShadowSource(t *testing.T) {
	root, _ := newRoot(t)
	root.MustRule("reader", noopMethod, Out("out", "o.txt"), In("src", "data.txt"))

	_, err := root.Rule("writer", noopMethod, Out("out", "data.txt"))
	assert.Equal(t, CodeDuplicateOutput, defCode(t, err))
}

func TestRule_PathPrefixCollisions(t *testing.T) {
	root, _ := newRoot(t)
	root.MustRule("file", noopMethod, Out("out", "dist/app.txt"))

	// dist is a directory of an existing output.
	_, err := root.Rule("dir", noopMethod, Out("out", "dist"))
	assert.Equal(t, CodeDuplicateOutput, defCode(t, err))

	// And the reverse: a path under an output that is a file.
	root.MustRule("leaf", noopMethod, Out("out", "bundle.tar"))
	_, err = root.Rule("under", noopMethod, Out("out", "bundle.tar/part"))
	assert.Equal(t, CodeDuplicateOutput, defCode(t, err))

	// Within a single rule.
	_, err = root.Rule("self", noopMethod, Out("a", "pkg"), Out("b", "pkg/sub.txt"))
	assert.Equal(t, CodeDuplicateOutput, defCode(t, err))
}

func TestRule_FailedDefinitionLeavesNoState(t *testing.T) {
	root, _ := newRoot(t)

	_, err := root.Rule("bad", noopMethod, Out("a", "keep.txt"), Out("b", "keep.txt/under"))
	require.Error(t, err)

	// The rejected definition must not have claimed keep.txt.
	_, err = root.Rule("good", noopMethod, Out("out", "keep.txt"))
	assert.NoError(t, err)
}

func TestRule_UnknownOutputKey(t *testing.T) {
	root, _ := newRoot(t)
	producer := root.MustRule("producer", noopMethod, Out("lib", "lib.txt"))

	_, err := root.Rule("consumer", noopMethod, Out("out", "o.txt"), UseOutput("in", producer, "nope"))
	assert.Equal(t, CodeUnknownDependency, defCode(t, err))
}

func TestRule_ForeignTreeDependency(t *testing.T) {
	root, _ := newRoot(t)
	other, _ := newRoot(t)
	foreign := other.MustRule("producer", noopMethod, Out("lib", "lib.txt"))

	_, err := root.Rule("consumer", noopMethod, Out("out", "o.txt"), DependsOn(foreign))
	assert.Equal(t, CodeUnknownDependency, defCode(t, err))
}

func TestRule_KindMismatchWithProducer(t *testing.T) {
	root, _ := newRoot(t)
	root.MustRule("producer", noopMethod, VOut("cfg", "cfg.json"))

	// Reading a value-tracked output as a plain path is a definition
	// mistake, not something to silently reconcile.
	_, err := root.Rule("consumer", noopMethod, Out("out", "o.txt"), In("cfg", "cfg.json"))
	assert.Equal(t, CodeInvalidRule, defCode(t, err))
}

func TestRule_SourceKindConflict(t *testing.T) {
	root, _ := newRoot(t)
	root.MustRule("plain", noopMethod, Out("out", "a.txt"), In("src", "shared.txt"))

	_, err := root.Rule("tracked", noopMethod, Out("out", "b.txt"), VIn("src", "shared.txt"))
	assert.Equal(t, CodeInvalidRule, defCode(t, err))
}

func TestRule_DependsOnTwiceDuplicatesKeys(t *testing.T) {
	root, _ := newRoot(t)
	producer := root.MustRule("producer", noopMethod, Out("lib", "lib.txt"))

	_, err := root.Rule("consumer", noopMethod, Out("out", "o.txt"), DependsOn(producer), DependsOn(producer))
	assert.Equal(t, CodeInvalidRule, defCode(t, err))
}

func TestMustRule_PanicsOnError(t *testing.T) {
	root, _ := newRoot(t)
	assert.Panics(t, func() {
		root.MustRule("bad", noopMethod)
	})
}

func TestGroup_Accessors(t *testing.T) {
	root, _ := newRoot(t)
	gen := root.MustGroup("gen")
	root.MustGroup("assets")
	b := root.MustRule("beta", noopMethod, Out("out", "b.txt"))
	root.MustRule("alpha", noopMethod, Out("out", "a.txt"))

	child, ok := root.Child("gen")
	require.True(t, ok)
	assert.Same(t, gen, child)
	_, ok = root.Child("missing")
	assert.False(t, ok)

	r, ok := root.RuleNamed("beta")
	require.True(t, ok)
	assert.Same(t, b, r)
	_, ok = root.RuleNamed("missing")
	assert.False(t, ok)

	groups := root.Groups()
	require.Len(t, groups, 2)
	assert.Equal(t, "assets", groups[0].Name())
	assert.Equal(t, "gen", groups[1].Name())

	rules := root.Rules()
	require.Len(t, rules, 2)
	assert.Equal(t, "alpha", rules[0].Name())
	assert.Equal(t, "beta", rules[1].Name())
}

func TestRule_OutputLookup(t *testing.T) {
	root, dir := newRoot(t)
	r := root.MustRule("render", noopMethod, Out("page", "page.html"), Out("feed", "feed.xml"))

	assert.Equal(t, filepath.Join(dir, "feed.xml"), r.Output("feed"))
	assert.Empty(t, r.Output("missing"))
	assert.Equal(t, []string{
		filepath.Join(dir, "page.html"),
		filepath.Join(dir, "feed.xml"),
	}, r.Outputs())
}
