package reflow

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"
	"github.com/expr-lang/expr/vm"

	"github.com/joeycumines/go-reflow/vars"
)

// Definition declares the shape of one state node: its plain vars with
// default values, its computed vars, its event handlers, and its child
// definitions. Definitions are built once at startup, compiled by New, and
// shared read-only by every client session.
type Definition struct {
	name     string
	varOrder []string
	vars     map[string]*varDef
	computed map[string]*computedDef
	handlers map[string]*handlerDef
	children map[string]*Definition
	childOrd []string
	err      error // first builder error, surfaced by New
}

type varDef struct {
	name    string
	def     any
	storage StorageSource
}

type computedDef struct {
	name   string
	src    string
	cached bool
	prog   *vm.Program
	deps   []string // direct reads, plain and computed names of this node
}

type handlerDef struct {
	name       string
	fn         HandlerFunc
	background bool
	args       []argDef
	anyArgs    bool
}

type argDef struct {
	name     string
	optional bool
	def      any
}

// NewDefinition starts a state definition. Node names must be non-empty and
// contain no dots; dotted paths are reserved for tree addressing.
func NewDefinition(name string) *Definition {
	d := &Definition{
		name:     name,
		vars:     make(map[string]*varDef),
		computed: make(map[string]*computedDef),
		handlers: make(map[string]*handlerDef),
		children: make(map[string]*Definition),
	}
	if name == "" || strings.Contains(name, ".") {
		d.err = fmt.Errorf("reflow: invalid state name %q", name)
	}
	return d
}

// VarOption configures a declared plain var.
type VarOption func(*varDef)

// FromClientStorage tags a var as sourced from browser-side storage. The
// runtime requests its current value from the client on first load instead
// of assuming server-side truth.
func FromClientStorage(source StorageSource) VarOption {
	return func(v *varDef) { v.storage = source }
}

// Var declares a plain var with its default value.
func (d *Definition) Var(name string, def any, opts ...VarOption) *Definition {
	if d.err == nil && d.taken(name) {
		d.err = fmt.Errorf("reflow: duplicate var %q on state %q", name, d.name)
		return d
	}
	v := &varDef{name: name, def: def}
	for _, opt := range opts {
		opt(v)
	}
	d.vars[name] = v
	d.varOrder = append(d.varOrder, name)
	return d
}

// ComputedOption configures a computed var.
type ComputedOption func(*computedDef)

// Cached marks a computed var's value as cached until a var it reads from is
// dirtied.
func Cached() ComputedOption {
	return func(c *computedDef) { c.cached = true }
}

// Computed declares a derived var as an expression over this node's vars,
// e.g. `Computed("double", "counter * 2", Cached())`. Expressions are
// compiled once; the vars an expression reads are discovered statically at
// compile time and drive cache invalidation.
func (d *Definition) Computed(name, src string, opts ...ComputedOption) *Definition {
	if d.err == nil && d.taken(name) {
		d.err = fmt.Errorf("reflow: duplicate var %q on state %q", name, d.name)
		return d
	}
	c := &computedDef{name: name, src: src}
	for _, opt := range opts {
		opt(c)
	}
	d.computed[name] = c
	return d
}

// HandlerOption configures a declared handler.
type HandlerOption func(*handlerDef)

// Background marks a handler as a background task: it runs outside the
// per-client exclusive lock and must bracket every mutation in
// Call.Exclusive.
func Background() HandlerOption {
	return func(h *handlerDef) { h.background = true }
}

// WithArgs declares the required payload arguments the handler binds.
func WithArgs(names ...string) HandlerOption {
	return func(h *handlerDef) {
		for _, name := range names {
			h.args = append(h.args, argDef{name: name})
		}
	}
}

// WithOptionalArg declares an optional payload argument with a default.
func WithOptionalArg(name string, def any) HandlerOption {
	return func(h *handlerDef) {
		h.args = append(h.args, argDef{name: name, optional: true, def: def})
	}
}

// WithAnyArgs disables payload binding checks; the handler receives the raw
// payload. Intended for dynamic handlers that introspect their arguments.
func WithAnyArgs() HandlerOption {
	return func(h *handlerDef) { h.anyArgs = true }
}

// Handler declares an event handler. Its fully qualified name is the node's
// dotted path followed by the handler name.
func (d *Definition) Handler(name string, fn HandlerFunc, opts ...HandlerOption) *Definition {
	if d.err == nil {
		if _, dup := d.handlers[name]; dup {
			d.err = fmt.Errorf("reflow: duplicate handler %q on state %q", name, d.name)
			return d
		}
	}
	h := &handlerDef{name: name, fn: fn}
	for _, opt := range opts {
		opt(h)
	}
	d.handlers[name] = h
	return d
}

// Child attaches a sub-state definition. Each definition may be attached to
// exactly one parent.
func (d *Definition) Child(child *Definition) *Definition {
	if d.err == nil {
		if child.err != nil {
			d.err = child.err
			return d
		}
		if _, dup := d.children[child.name]; dup {
			d.err = fmt.Errorf("reflow: duplicate child state %q under %q", child.name, d.name)
			return d
		}
	}
	d.children[child.name] = child
	d.childOrd = append(d.childOrd, child.name)
	return d
}

// Ref returns a symbolic Var referencing a declared plain or computed var of
// this node, typed from the var's default value (computed vars type as Any
// unless relabeled). The state qualifier is the node's own name; callers
// addressing nested nodes should build refs from the child definition.
func (d *Definition) Ref(name string) (vars.Var, error) {
	if v, ok := d.vars[name]; ok {
		return vars.StateField(d.name, name, vars.TypeOf(v.def)), nil
	}
	if _, ok := d.computed[name]; ok {
		return vars.StateField(d.name, name, vars.Any()), nil
	}
	return vars.Var{}, fmt.Errorf("reflow: state %q declares no var %q", d.name, name)
}

func (d *Definition) taken(name string) bool {
	if _, ok := d.vars[name]; ok {
		return true
	}
	_, ok := d.computed[name]
	return ok
}

func (d *Definition) hasPlain(name string) bool {
	_, ok := d.vars[name]
	return ok
}

// compile compiles every computed var of this definition and its children,
// discovers their dependencies, and validates the dependency graph.
func (d *Definition) compile() error {
	if d.err != nil {
		return d.err
	}
	for name, c := range d.computed {
		prog, err := expr.Compile(c.src)
		if err != nil {
			return fmt.Errorf("reflow: computed var %s.%s: %w", d.name, name, err)
		}
		c.prog = prog
		deps, err := d.discoverDeps(c.src)
		if err != nil {
			return fmt.Errorf("reflow: computed var %s.%s: %w", d.name, name, err)
		}
		c.deps = deps
	}
	if err := d.checkComputedCycles(); err != nil {
		return err
	}
	for _, name := range d.childOrd {
		if err := d.children[name].compile(); err != nil {
			return err
		}
	}
	return nil
}

// discoverDeps statically enumerates the vars an expression reads by walking
// its AST and collecting identifiers that name declared vars of this node.
// The analysis is deliberately conservative: reads behind branches still
// count, so caches may be invalidated more often than strictly needed but
// are never stale.
func (d *Definition) discoverDeps(src string) ([]string, error) {
	tree, err := parser.Parse(src)
	if err != nil {
		return nil, err
	}
	collector := &identCollector{seen: make(map[string]struct{})}
	ast.Walk(&tree.Node, collector)
	var deps []string
	for _, name := range collector.idents {
		if d.taken(name) {
			deps = append(deps, name)
		}
	}
	return deps, nil
}

type identCollector struct {
	idents []string
	seen   map[string]struct{}
}

func (c *identCollector) Visit(node *ast.Node) {
	id, ok := (*node).(*ast.IdentifierNode)
	if !ok {
		return
	}
	if _, dup := c.seen[id.Value]; dup {
		return
	}
	c.seen[id.Value] = struct{}{}
	c.idents = append(c.idents, id.Value)
}

// checkComputedCycles rejects computed vars that (transitively) read
// themselves.
func (d *Definition) checkComputedCycles() error {
	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := make(map[string]int)
	var visit func(name string) error
	visit = func(name string) error {
		switch color[name] {
		case grey:
			return fmt.Errorf("reflow: computed var cycle through %s.%s", d.name, name)
		case black:
			return nil
		}
		color[name] = grey
		if c, ok := d.computed[name]; ok {
			for _, dep := range c.deps {
				if _, isComputed := d.computed[dep]; isComputed {
					if err := visit(dep); err != nil {
						return err
					}
				}
			}
		}
		color[name] = black
		return nil
	}
	for name := range d.computed {
		if err := visit(name); err != nil {
			return err
		}
	}
	return nil
}

// dependents builds the reverse dependency map for this definition: var name
// (plain or computed) to the computed vars that directly read it.
func (d *Definition) dependents() map[string][]string {
	rev := make(map[string][]string)
	for name, c := range d.computed {
		for _, dep := range c.deps {
			rev[dep] = append(rev[dep], name)
		}
	}
	return rev
}
