// Package engine implements the core of the incremental build system:
// the rule graph, the staleness evaluator, and the scheduler that runs
// stale rules in dependency order with a bounded worker pool.
//
// The engine deals in resolved absolute paths and dense rule ids. Rule
// definition ergonomics (groups, path prefixes, duplicate detection)
// live in the public package; validation that requires whole-graph
// knowledge (cycles, target expansion) lives here.
package engine

import (
	"os"
	"time"
)

// ArtifactKind selects how an artifact participates in staleness checks.
type ArtifactKind uint8

const (
	// Plain artifacts are compared by mtime only.
	Plain ArtifactKind = iota
	// ValueTracked artifacts are excluded from mtime comparison; their
	// content hash is part of the consuming rule's memo record instead.
	ValueTracked
)

func (k ArtifactKind) String() string {
	if k == ValueTracked {
		return "value"
	}
	return "plain"
}

// Artifact is a single file tracked by the engine.
type Artifact struct {
	Path string
	Kind ArtifactKind
}

// mtime probes an artifact's modification time. The second return is
// false when the file is missing or its metadata is unreadable; the
// evaluator decides what that means for the verdict.
func mtime(path string) (time.Time, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, false
	}
	return info.ModTime(), true
}
