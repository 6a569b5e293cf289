package engine

import (
	"bytes"
	"io"
	"os"
)

// Output is the destination pair for rule method output.
type Output struct {
	Stdout io.Writer
	Stderr io.Writer
}

// StdOutput returns an Output writing to the process streams.
func StdOutput() *Output {
	return &Output{Stdout: os.Stdout, Stderr: os.Stderr}
}

// capture buffers both streams of one rule run. Workers hand the filled
// capture back with their result and the coordinator flushes it, so
// output from concurrent rules never interleaves and no lock is needed.
type capture struct {
	stdout bytes.Buffer
	stderr bytes.Buffer
}

func (c *capture) output() *Output {
	return &Output{Stdout: &c.stdout, Stderr: &c.stderr}
}

func (c *capture) flushTo(parent *Output) {
	if c == nil || parent == nil {
		return
	}
	if c.stdout.Len() > 0 {
		_, _ = parent.Stdout.Write(c.stdout.Bytes())
	}
	if c.stderr.Len() > 0 {
		_, _ = parent.Stderr.Write(c.stderr.Bytes())
	}
}
