// Package registry holds the observable registry: a tree keyed by path segment
// whose leaves are live value streams.
//
// A Registry is immutable. Merge returns a new snapshot that shares untouched
// subtrees with the old one, so readers holding an older snapshot never observe
// a partial update.
package registry

import (
	"sort"
	"strings"

	"schemawatch/internal/stream"
)

// Stream is a live value stream stored at a registry leaf
type Stream = stream.Observable[any]

// Separator joins path segments in the dotted form of a path
const Separator = "."

// node is either a leaf (stream set) or an internal mapping (children set)
type node struct {
	leaf     Stream
	children map[string]*node
}

func (n *node) isLeaf() bool {
	return n.leaf != nil
}

// Registry is an immutable snapshot of the observable tree
type Registry struct {
	root *node
	size int
}

// New returns an empty registry
func New() *Registry {
	return &Registry{root: &node{children: map[string]*node{}}}
}

// SplitPath converts a dotted path into segments. Empty segments are dropped.
func SplitPath(dotted string) []string {
	parts := strings.Split(dotted, Separator)
	path := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			path = append(path, p)
		}
	}
	return path
}

// JoinPath converts segments into the dotted form
func JoinPath(path []string) string {
	return strings.Join(path, Separator)
}

// Lookup returns the stream stored at path. Internal nodes and missing paths are absent.
func (r *Registry) Lookup(path []string) (Stream, bool) {
	if r == nil || len(path) == 0 {
		return nil, false
	}
	n := r.root
	for _, seg := range path {
		if n.isLeaf() {
			return nil, false
		}
		child, ok := n.children[seg]
		if !ok {
			return nil, false
		}
		n = child
	}
	if !n.isLeaf() {
		return nil, false
	}
	return n.leaf, true
}

// LookupPath is Lookup for a dotted path string
func (r *Registry) LookupPath(dotted string) (Stream, bool) {
	return r.Lookup(SplitPath(dotted))
}

// Has reports whether a stream is registered at path
func (r *Registry) Has(path []string) bool {
	_, ok := r.Lookup(path)
	return ok
}

// Merge returns a new snapshot with s registered at path.
// The path is expanded into nested single-key mappings (rightmost segment innermost)
// and deep-merged into the tree: mappings combine key by key, and a leaf already at
// path is replaced wholesale. An empty path or nil stream leaves the registry unchanged.
func (r *Registry) Merge(path []string, s Stream) *Registry {
	if len(path) == 0 || s == nil {
		return r
	}
	entry := &node{leaf: s}
	for i := len(path) - 1; i >= 0; i-- {
		entry = &node{children: map[string]*node{path[i]: entry}}
	}
	return r.MergeRegistry(&Registry{root: entry, size: 1})
}

// MergeRegistry deep-merges other into r and returns the combined snapshot.
// On collisions the value from other wins.
func (r *Registry) MergeRegistry(other *Registry) *Registry {
	if other == nil {
		return r
	}
	if r == nil {
		r = New()
	}
	root := mergeNodes(r.root, other.root)
	return &Registry{root: root, size: countLeaves(root)}
}

// mergeNodes deep-merges b over a without mutating either.
// A leaf on either side is not merged into: the newer node replaces the older one.
func mergeNodes(a, b *node) *node {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	if a.isLeaf() || b.isLeaf() {
		return b
	}
	merged := &node{children: make(map[string]*node, len(a.children)+len(b.children))}
	for k, v := range a.children {
		merged.children[k] = v
	}
	for k, v := range b.children {
		merged.children[k] = mergeNodes(merged.children[k], v)
	}
	return merged
}

func countLeaves(n *node) int {
	if n == nil {
		return 0
	}
	if n.isLeaf() {
		return 1
	}
	total := 0
	for _, c := range n.children {
		total += countLeaves(c)
	}
	return total
}

// Len returns the number of registered streams
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return r.size
}

// Paths returns the paths of every registered stream, sorted by dotted form
func (r *Registry) Paths() [][]string {
	if r == nil {
		return nil
	}
	var paths [][]string
	walk(r.root, nil, func(path []string, _ Stream) {
		paths = append(paths, path)
	})
	sort.Slice(paths, func(i, j int) bool {
		return JoinPath(paths[i]) < JoinPath(paths[j])
	})
	return paths
}

// Walk calls fn for every registered stream, in no particular order
func (r *Registry) Walk(fn func(path []string, s Stream)) {
	if r == nil {
		return
	}
	walk(r.root, nil, fn)
}

func walk(n *node, prefix []string, fn func([]string, Stream)) {
	if n.isLeaf() {
		path := make([]string, len(prefix))
		copy(path, prefix)
		fn(path, n.leaf)
		return
	}
	for k, c := range n.children {
		walk(c, append(prefix, k), fn)
	}
}
