package reflow

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
)

// Node is the mutable runtime state for one definition and one client. Nodes
// form a strict hierarchy mirroring the definitions; each node has exactly
// one parent (the root has none) and owns its children exclusively. Child
// nodes are materialized lazily, on first access, with their default var
// values.
//
// Nodes are not safe for unsynchronized concurrent use; the dispatcher
// guards every node of a session with the session's per-token lock.
type Node struct {
	def        *Definition
	name       string // dotted path from the root
	values     map[string]any
	caches     map[string]*computedCache
	dirty      map[string]struct{}
	dependents map[string][]string
	parent     *Node
	children   map[string]*Node
}

type computedCache struct {
	value any
	valid bool
}

// materializeNode builds a node from its definition with default values.
// Every var starts dirty so a fresh node's full state rides the next delta.
func materializeNode(def *Definition, parent *Node, name string) *Node {
	n := &Node{
		def:        def,
		name:       name,
		values:     make(map[string]any, len(def.vars)),
		caches:     make(map[string]*computedCache, len(def.computed)),
		dirty:      make(map[string]struct{}, len(def.vars)+len(def.computed)),
		dependents: def.dependents(),
		parent:     parent,
		children:   make(map[string]*Node),
	}
	for _, vn := range def.varOrder {
		n.values[vn] = def.vars[vn].def
		n.dirty[vn] = struct{}{}
	}
	for cn := range def.computed {
		n.caches[cn] = &computedCache{}
		n.dirty[cn] = struct{}{}
	}
	return n
}

// Name returns the node's dotted path from the root.
func (n *Node) Name() string { return n.name }

// Parent returns the parent node, or nil for the root.
func (n *Node) Parent() *Node { return n.parent }

// Get returns the current value of a plain or computed var. Computed vars
// recompute only when their cache is absent or was invalidated by a
// dependency write; getter failures return a *ComputedVarError.
func (n *Node) Get(name string) (any, error) {
	if n.def.hasPlain(name) {
		return n.values[name], nil
	}
	c, ok := n.def.computed[name]
	if !ok {
		return nil, fmt.Errorf("reflow: state %q has no var %q", n.name, name)
	}
	cache := n.caches[name]
	if c.cached && cache.valid {
		return cache.value, nil
	}
	value, err := n.evalComputed(c)
	if err != nil {
		return nil, err
	}
	if c.cached {
		cache.value = value
		cache.valid = true
	}
	return value, nil
}

// MustGet is Get but panics on error. Intended for handlers reading plain
// vars they declared themselves.
func (n *Node) MustGet(name string) any {
	v, err := n.Get(name)
	if err != nil {
		panic(err)
	}
	return v
}

// Int reads a plain var as an int, coercing the numeric types produced by
// JSON decoding. It panics on unknown names or non-numeric values, which are
// programmer errors.
func (n *Node) Int(name string) int {
	switch v := n.MustGet(name).(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		panic(fmt.Sprintf("reflow: var %s.%s is %T, not an integer", n.name, name, v))
	}
}

// String reads a plain var as a string, panicking on mismatch.
func (n *Node) String(name string) string {
	v, ok := n.MustGet(name).(string)
	if !ok {
		panic(fmt.Sprintf("reflow: var %s.%s is not a string", n.name, name))
	}
	return v
}

// Bool reads a plain var as a bool, panicking on mismatch.
func (n *Node) Bool(name string) bool {
	v, ok := n.MustGet(name).(bool)
	if !ok {
		panic(fmt.Sprintf("reflow: var %s.%s is not a bool", n.name, name))
	}
	return v
}

// Set overwrites a plain var and marks it dirty unconditionally, whether or
// not the value changed: a write inside a handler is expected to have an
// observable effect, so no-op suppression is deliberately not performed.
// Writing an unknown var name panics; that is a programmer error, not a
// user-recoverable condition.
func (n *Node) Set(name string, value any) {
	if !n.def.hasPlain(name) {
		panic(fmt.Sprintf("reflow: state %q declares no plain var %q", n.name, name))
	}
	n.values[name] = value
	n.MarkDirty(name)
}

// MarkDirty adds the var to the node's dirty set and invalidates the cache
// of every computed var that statically reads it, recursively through
// computed vars that read other computed vars.
func (n *Node) MarkDirty(name string) {
	n.markDirty(name, make(map[string]struct{}))
}

// markDirty is the recursive body of MarkDirty. The visited set bounds the
// recursion per call; the dirty set cannot serve that purpose because a
// computed var can be re-cached by Get while still dirty, and its own
// dependents must be invalidated again on the next write.
func (n *Node) markDirty(name string, visited map[string]struct{}) {
	if _, seen := visited[name]; seen {
		return
	}
	visited[name] = struct{}{}
	n.dirty[name] = struct{}{}
	if cache, ok := n.caches[name]; ok {
		cache.valid = false
		cache.value = nil
	}
	for _, dep := range n.dependents[name] {
		n.markDirty(dep, visited)
	}
}

// Child returns the named child node, materializing it on first access. An
// undeclared child name panics.
func (n *Node) Child(name string) *Node {
	if c, ok := n.children[name]; ok {
		return c
	}
	def, ok := n.def.children[name]
	if !ok {
		panic(fmt.Sprintf("reflow: state %q declares no child %q", n.name, name))
	}
	c := materializeNode(def, n, n.name+"."+name)
	n.children[name] = c
	return c
}

// Resolve walks a dotted path relative to this node, materializing
// intermediate children as needed. An empty path resolves to the node
// itself.
func (n *Node) Resolve(path string) (*Node, error) {
	if path == "" {
		return n, nil
	}
	cur := n
	for _, seg := range strings.Split(path, ".") {
		if _, ok := cur.def.children[seg]; !ok {
			return nil, fmt.Errorf("reflow: state %q has no child %q", cur.name, seg)
		}
		cur = cur.Child(seg)
	}
	return cur, nil
}

// walk visits the node and every materialized descendant, depth first.
func (n *Node) walk(fn func(*Node) error) error {
	if err := fn(n); err != nil {
		return err
	}
	for _, name := range n.def.childOrd {
		c, ok := n.children[name]
		if !ok {
			continue
		}
		if err := c.walk(fn); err != nil {
			return err
		}
	}
	return nil
}

// evalComputed runs a computed var's compiled expression against an
// environment of this node's plain vars plus the computed deps it reads.
func (n *Node) evalComputed(c *computedDef) (any, error) {
	env := make(map[string]any, len(n.values)+len(c.deps))
	for name, value := range n.values {
		env[name] = value
	}
	for _, dep := range c.deps {
		if _, isComputed := n.def.computed[dep]; !isComputed {
			continue
		}
		v, err := n.Get(dep)
		if err != nil {
			return nil, err
		}
		env[dep] = v
	}
	value, err := expr.Run(c.prog, env)
	if err != nil {
		return nil, &ComputedVarError{Node: n.name, Var: c.name, Err: err}
	}
	return value, nil
}

// snapshotInto records the plain var values of this node and every
// materialized descendant.
func (n *Node) snapshotInto(nodes map[string]map[string]any) {
	values := make(map[string]any, len(n.values))
	for name, value := range n.values {
		values[name] = value
	}
	nodes[n.name] = values
	for _, c := range n.children {
		c.snapshotInto(nodes)
	}
}

// restore applies a persisted snapshot, materializing any snapshotted
// descendants. Snapshot vars no longer declared are dropped silently so
// schema evolution does not strand old sessions.
func (n *Node) restore(nodes map[string]map[string]any) {
	if values, ok := nodes[n.name]; ok {
		for name, value := range values {
			if n.def.hasPlain(name) {
				n.values[name] = value
				n.MarkDirty(name)
			}
		}
	}
	for childName := range n.def.children {
		childPath := n.name + "." + childName
		if !snapshotCovers(nodes, childPath) {
			continue
		}
		n.Child(childName).restore(nodes)
	}
}

// snapshotCovers reports whether the snapshot contains the node itself or
// any descendant of it.
func snapshotCovers(nodes map[string]map[string]any, path string) bool {
	if _, ok := nodes[path]; ok {
		return true
	}
	prefix := path + "."
	for name := range nodes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}
