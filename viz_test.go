package incmake

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vizFixture(t *testing.T) (*Rule, string) {
	t.Helper()
	root, dir := newRoot(t)
	seed := filepath.Join(dir, "seed.txt")
	writeSrc(t, seed, "x")

	gen := root.MustGroup("gen")
	stage := gen.MustRule("stage", copyUpper, Out("out", "staged.txt"), In("src", seed))
	publish := root.MustRule("publish", touchOut, Out("out", "final.txt"), DependsOn(stage))
	root.MustRule("unrelated", touchOut, Out("out", "extra.txt"))
	return publish, dir
}

func TestWriteDOT(t *testing.T) {
	publish, _ := vizFixture(t)

	var buf bytes.Buffer
	require.NoError(t, WriteDOT(&buf, publish))
	out := buf.String()

	assert.Contains(t, out, "digraph build {")
	assert.Contains(t, out, "rankdir=LR")
	assert.Contains(t, out, "shape=box")
	assert.Contains(t, out, "gen/stage")
	assert.Contains(t, out, "publish")
	assert.Contains(t, out, "shape=ellipse")
	assert.Contains(t, out, "seed.txt")
	assert.Contains(t, out, "-> r")
	assert.NotContains(t, out, "unrelated", "only the target closure is drawn")
}

func TestWriteMermaid(t *testing.T) {
	publish, _ := vizFixture(t)

	var buf bytes.Buffer
	require.NoError(t, WriteMermaid(&buf, publish))
	out := buf.String()

	assert.Contains(t, out, "flowchart LR")
	assert.Contains(t, out, "gen/stage")
	assert.Contains(t, out, "-->")
	assert.NotContains(t, out, "unrelated")
}
