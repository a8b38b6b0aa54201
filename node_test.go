package reflow

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func buildNode(t *testing.T, def *Definition) *Node {
	t.Helper()
	require.NoError(t, def.compile())
	return materializeNode(def, nil, def.name)
}

func TestPlainVarGetSet(t *testing.T) {
	t.Parallel()

	n := buildNode(t, NewDefinition("app").Var("count", 1).Var("name", "x"))
	require.Equal(t, 1, n.MustGet("count"))

	n.Set("count", 5)
	require.Equal(t, 5, n.MustGet("count"))
	require.Equal(t, 5, n.Int("count"))
	require.Equal(t, "x", n.String("name"))
}

func TestSetUnknownVarPanics(t *testing.T) {
	t.Parallel()

	n := buildNode(t, NewDefinition("app").Var("count", 1))
	require.Panics(t, func() { n.Set("missing", 1) })
}

func TestComputedVarRecomputesOnDependencyWrite(t *testing.T) {
	t.Parallel()

	n := buildNode(t, NewDefinition("app").
		Var("plain", 1).
		Computed("double", "plain * 2", Cached()))

	v, err := n.Get("double")
	require.NoError(t, err)
	require.EqualValues(t, 2, v)

	n.Set("plain", 5)
	v, err = n.Get("double")
	require.NoError(t, err)
	require.EqualValues(t, 10, v, "cache must be invalidated by the dependency write")
}

func TestCachedComputedDoesNotRecomputeUntilInvalidated(t *testing.T) {
	t.Parallel()

	n := buildNode(t, NewDefinition("app").
		Var("plain", 2).
		Computed("squared", "plain * plain", Cached()))

	first, err := n.Get("squared")
	require.NoError(t, err)
	require.EqualValues(t, 4, first)

	// Mutate the backing value without marking dirty: the documented
	// limitation is that untracked changes return the cached value.
	n.values["plain"] = 100
	second, err := n.Get("squared")
	require.NoError(t, err)
	require.EqualValues(t, 4, second, "cache is only dropped by MarkDirty")

	n.MarkDirty("plain")
	third, err := n.Get("squared")
	require.NoError(t, err)
	require.EqualValues(t, 10000, third)
}

func TestTransitiveComputedInvalidation(t *testing.T) {
	t.Parallel()

	n := buildNode(t, NewDefinition("app").
		Var("base", 1).
		Computed("double", "base * 2", Cached()).
		Computed("quad", "double * 2", Cached()))

	v, err := n.Get("quad")
	require.NoError(t, err)
	require.EqualValues(t, 4, v)

	n.Set("base", 3)
	v, err = n.Get("quad")
	require.NoError(t, err)
	require.EqualValues(t, 12, v, "invalidation must flow through computed-on-computed reads")
}

func TestTransitiveInvalidationRepeatsAfterRecache(t *testing.T) {
	t.Parallel()

	n := buildNode(t, NewDefinition("app").
		Var("base", 1).
		Computed("double", "base * 2", Cached()).
		Computed("quad", "double * 2", Cached()))

	// Re-cache the whole chain while every var is still in the dirty set
	// (as it is right after materialization, and between writes and the
	// next delta build).
	v, err := n.Get("quad")
	require.NoError(t, err)
	require.EqualValues(t, 4, v)

	n.Set("base", 3)
	v, err = n.Get("quad")
	require.NoError(t, err)
	require.EqualValues(t, 12, v, "a write must invalidate re-cached transitive dependents")

	// And again, without any intervening delta build clearing dirtiness.
	n.Set("base", 5)
	v, err = n.Get("quad")
	require.NoError(t, err)
	require.EqualValues(t, 20, v)
}

func TestSetAlwaysMarksDirty(t *testing.T) {
	t.Parallel()

	n := buildNode(t, NewDefinition("app").Var("count", 1))
	n.dirty = make(map[string]struct{})

	n.Set("count", 1) // same value
	require.Contains(t, n.dirty, "count", "no-op writes still mark dirty")
}

func TestComputedErrorPropagates(t *testing.T) {
	t.Parallel()

	n := buildNode(t, NewDefinition("app").
		Var("items", []any{"a", "b"}).
		Var("cursor", 5).
		Computed("picked", "items[cursor]"))

	_, err := n.Get("picked")
	require.Error(t, err, "out-of-range read inside the getter must surface")
	var cerr *ComputedVarError
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, "app", cerr.Node)
	require.Equal(t, "picked", cerr.Var)

	// A valid cursor recovers.
	n.Set("cursor", 1)
	v, err := n.Get("picked")
	require.NoError(t, err)
	require.Equal(t, "b", v)
}

func TestComputedCycleRejected(t *testing.T) {
	t.Parallel()

	def := NewDefinition("app").
		Computed("a", "b + 1").
		Computed("b", "a + 1")
	require.Error(t, def.compile())
}

func TestLazyChildMaterialization(t *testing.T) {
	t.Parallel()

	child := NewDefinition("settings").Var("theme", "light")
	n := buildNode(t, NewDefinition("app").Var("count", 0).Child(child))
	require.Empty(t, n.children, "children materialize on first access")

	settings := n.Child("settings")
	require.Equal(t, "app.settings", settings.Name())
	require.Equal(t, "light", settings.MustGet("theme"))
	require.Same(t, settings, n.Child("settings"), "same instance on reaccess")
	require.Same(t, n, settings.Parent())

	require.Panics(t, func() { n.Child("nope") })
}

func TestResolveDottedPath(t *testing.T) {
	t.Parallel()

	inner := NewDefinition("inner").Var("x", 1)
	mid := NewDefinition("mid").Child(inner)
	n := buildNode(t, NewDefinition("app").Child(mid))

	got, err := n.Resolve("mid.inner")
	require.NoError(t, err)
	require.Equal(t, "app.mid.inner", got.Name())

	_, err = n.Resolve("mid.missing")
	require.Error(t, err)
}

func TestDependencyDiscoveryIsConservative(t *testing.T) {
	t.Parallel()

	def := NewDefinition("app").
		Var("a", 1).
		Var("b", 2).
		Var("flag", true).
		Computed("pick", "flag ? a : b", Cached())
	require.NoError(t, def.compile())

	// Both branches count as reads, whatever flag currently is.
	deps := def.computed["pick"].deps
	require.ElementsMatch(t, []string{"flag", "a", "b"}, deps)
}

func TestSnapshotRestore(t *testing.T) {
	t.Parallel()

	makeDef := func() *Definition {
		return NewDefinition("app").Var("count", 0).Child(NewDefinition("settings").Var("theme", "light"))
	}

	n := buildNode(t, makeDef())
	n.Set("count", 7)
	n.Child("settings").Set("theme", "dark")

	nodes := make(map[string]map[string]any)
	n.snapshotInto(nodes)

	restored := buildNode(t, makeDef())
	restored.restore(nodes)
	require.Equal(t, 7, restored.MustGet("count"))
	require.Equal(t, "dark", restored.Child("settings").MustGet("theme"))
}
