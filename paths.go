package incmake

import (
	"path/filepath"
	"strings"
)

// absPath resolves a possibly relative artifact path against a group
// directory and normalizes it.
func absPath(dir, path string) (string, error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(dir, path)
	}
	return filepath.Abs(path)
}

// pathTrie detects structural collisions between output paths: a path
// that is simultaneously a file and a directory prefix of another
// output can never exist on disk, so it is rejected at definition time.
type pathTrie struct {
	children map[string]*pathTrie
	terminal bool
}

func newPathTrie() *pathTrie {
	return &pathTrie{children: make(map[string]*pathTrie)}
}

func splitPath(path string) []string {
	return strings.Split(strings.TrimPrefix(filepath.ToSlash(path), "/"), "/")
}

// conflicts reports whether registering path would collide with an
// already registered one: it equals one, lies under one, or is a
// directory prefix of one. It never mutates the trie, so a multi-output
// rule can vet all its paths before registering any.
func (t *pathTrie) conflicts(path string) bool {
	node := t
	for _, part := range splitPath(path) {
		if node.terminal {
			return true
		}
		child, ok := node.children[part]
		if !ok {
			return false
		}
		node = child
	}
	return node.terminal || len(node.children) > 0
}

// insert registers an absolute path. Callers check conflicts first.
func (t *pathTrie) insert(path string) {
	node := t
	for _, part := range splitPath(path) {
		child, ok := node.children[part]
		if !ok {
			child = newPathTrie()
			node.children[part] = child
		}
		node = child
	}
	node.terminal = true
}
