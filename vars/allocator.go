package vars

import (
	"fmt"
	"sync"
)

// Allocator hands out unique synthesized local variable names within one
// compilation pass. It is an explicit dependency, injected wherever locals
// are synthesized, and is scoped to the pass that created it; names are
// never reused by the same allocator.
type Allocator struct {
	mu     sync.Mutex
	prefix string
	next   map[string]int
	used   map[string]struct{}
}

// NewAllocator creates an allocator whose names all start with the given
// prefix (e.g. "_rf").
func NewAllocator(prefix string) *Allocator {
	if prefix == "" {
		prefix = "_v"
	}
	return &Allocator{
		prefix: prefix,
		next:   make(map[string]int),
		used:   make(map[string]struct{}),
	}
}

// Fresh returns a name of the form `<prefix>_<hint>_<n>` that has not been
// handed out or reserved before.
func (a *Allocator) Fresh(hint string) string {
	if hint == "" {
		hint = "x"
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for {
		n := a.next[hint]
		a.next[hint] = n + 1
		name := fmt.Sprintf("%s_%s_%d", a.prefix, hint, n)
		if _, taken := a.used[name]; !taken {
			a.used[name] = struct{}{}
			return name
		}
	}
}

// Reserve marks a name as taken so Fresh never returns it. Reserving an
// already-taken name is an error, surfaced so collisions in generated code
// are caught at compile time rather than on the client.
func (a *Allocator) Reserve(name string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, taken := a.used[name]; taken {
		return fmt.Errorf("vars: name %q already allocated", name)
	}
	a.used[name] = struct{}{}
	return nil
}

// FreshVar is a convenience for Fresh that returns the name wrapped as a
// local Var of the given type.
func (a *Allocator) FreshVar(hint string, typ Type) Var {
	return Local(a.Fresh(hint), typ)
}
