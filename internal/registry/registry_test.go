package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schemawatch/internal/stream"
)

// constStream delivers a single value on subscribe
type constStream struct {
	value any
}

func (c *constStream) Subscribe(fn func(any)) stream.Subscription {
	fn(c.value)
	return stream.NewSubscription(nil)
}

func TestRegistry_LookupEmpty(t *testing.T) {
	r := New()
	_, ok := r.Lookup([]string{"x"})
	assert.False(t, ok)
	_, ok = r.Lookup(nil)
	assert.False(t, ok)
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_MergeAndLookup(t *testing.T) {
	s := &constStream{value: 42}
	r := New().Merge([]string{"x", "balance"}, s)

	got, ok := r.Lookup([]string{"x", "balance"})
	require.True(t, ok)
	assert.Same(t, s, got)

	got, ok = r.LookupPath("x.balance")
	require.True(t, ok)
	assert.Same(t, s, got)

	// internal nodes are not streams
	_, ok = r.Lookup([]string{"x"})
	assert.False(t, ok)
	_, ok = r.Lookup([]string{"x", "balance", "deeper"})
	assert.False(t, ok)
}

func TestRegistry_DisjointPathsArePreserved(t *testing.T) {
	a := &constStream{value: 1}
	b := &constStream{value: 2}
	c := &constStream{value: 3}

	r := New().
		Merge([]string{"x", "balance"}, a).
		Merge([]string{"x", "supply"}, b).
		Merge([]string{"y"}, c)

	for path, want := range map[string]*constStream{"x.balance": a, "x.supply": b, "y": c} {
		got, ok := r.LookupPath(path)
		require.True(t, ok, path)
		assert.Same(t, want, got, path)
	}
	assert.Equal(t, 3, r.Len())
	assert.Equal(t, [][]string{{"x", "balance"}, {"x", "supply"}, {"y"}}, r.Paths())
}

func TestRegistry_SameLeafLastWriteWins(t *testing.T) {
	old := &constStream{value: "old"}
	newer := &constStream{value: "new"}

	r := New().Merge([]string{"x", "balance"}, old).Merge([]string{"x", "balance"}, newer)

	got, ok := r.LookupPath("x.balance")
	require.True(t, ok)
	assert.Same(t, newer, got)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_MergeDoesNotMutatePreviousSnapshot(t *testing.T) {
	a := &constStream{value: 1}
	b := &constStream{value: 2}

	first := New().Merge([]string{"x", "a"}, a)
	second := first.Merge([]string{"x", "b"}, b)

	assert.False(t, first.Has([]string{"x", "b"}))
	assert.True(t, second.Has([]string{"x", "a"}))
	assert.True(t, second.Has([]string{"x", "b"}))
	assert.Equal(t, 1, first.Len())
	assert.Equal(t, 2, second.Len())
}

func TestRegistry_NewerNodeReplacesLeafAndViceVersa(t *testing.T) {
	leaf := &constStream{value: 1}
	nested := &constStream{value: 2}

	r := New().Merge([]string{"x"}, leaf).Merge([]string{"x", "y"}, nested)
	_, ok := r.LookupPath("x")
	assert.False(t, ok)
	got, ok := r.LookupPath("x.y")
	require.True(t, ok)
	assert.Same(t, nested, got)

	r = r.Merge([]string{"x"}, leaf)
	got, ok = r.LookupPath("x")
	require.True(t, ok)
	assert.Same(t, leaf, got)
	assert.False(t, r.Has([]string{"x", "y"}))
}

func TestRegistry_MergeRegistry(t *testing.T) {
	a := &constStream{value: 1}
	b := &constStream{value: 2}
	left := New().Merge([]string{"p", "a"}, a)
	right := New().Merge([]string{"p", "b"}, b)

	merged := left.MergeRegistry(right)
	assert.True(t, merged.Has([]string{"p", "a"}))
	assert.True(t, merged.Has([]string{"p", "b"}))
	assert.Equal(t, 2, merged.Len())
}

func TestRegistry_IgnoresEmptyPath(t *testing.T) {
	r := New()
	assert.Same(t, r, r.Merge(nil, &constStream{}))
	assert.Same(t, r, r.Merge([]string{"x"}, nil))
}

func TestSplitPath(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, SplitPath("a.b.c"))
	assert.Equal(t, []string{"a", "b"}, SplitPath(".a..b."))
	assert.Empty(t, SplitPath(""))
	assert.Equal(t, "a.b", JoinPath([]string{"a", "b"}))
}
