// Package storage provides persistence backends for reflow client state
// trees. Backends implement reflow.Store and are registered by name so
// applications can select one from configuration.
package storage

import (
	"fmt"

	reflow "github.com/joeycumines/go-reflow"
)

// Factory creates a backend from an opaque data source name (a file path
// for disk-backed stores, ignored by the in-memory store).
type Factory func(dsn string) (reflow.Store, error)

// Registry maps backend names to factories.
var Registry = map[string]Factory{
	"memory": func(string) (reflow.Store, error) { return NewMemoryStore(), nil },
	"bolt":   func(dsn string) (reflow.Store, error) { return OpenBoltStore(dsn) },
}

// Open creates a backend by registered name.
func Open(name, dsn string) (reflow.Store, error) {
	factory, ok := Registry[name]
	if !ok {
		return nil, fmt.Errorf("storage: unknown backend %q", name)
	}
	return factory(dsn)
}
