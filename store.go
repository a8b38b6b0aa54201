package reflow

import "context"

// Snapshot is the persistable form of one client's state tree: plain var
// values keyed by dotted node name. Computed vars are derived and never
// persisted.
type Snapshot struct {
	Token string                    `json:"token"`
	Nodes map[string]map[string]any `json:"nodes"`
}

// Store is the persistence contract for client state trees. Implementations
// must honor at-most-one-writer-per-token; the runtime guarantees it only
// writes a token's state while holding that token's exclusive lock, so
// in-process, disk-backed, and remote implementations are interchangeable.
//
// GetState MUST return (nil, nil) when no state is persisted for the token.
type Store interface {
	GetState(ctx context.Context, token string) (*Snapshot, error)
	SetState(ctx context.Context, token string, snap *Snapshot) error
	DeleteState(ctx context.Context, token string) error
	Close() error
}
