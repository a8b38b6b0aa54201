// Package reflow is a backend-driven reactive UI state runtime. An
// application declares a tree of state definitions (plain vars, computed
// vars, and event handlers); reflow materializes one mutable state tree per
// connected client, dispatches inbound events to handlers under a per-client
// exclusive lock, tracks which vars each handler dirtied, and emits minimal
// serialized deltas back to the client after every discrete step.
//
// Handlers come in three shapes. A plain handler mutates state and may return
// follow-up events, which are dispatched after the handler's own delta is
// transmitted. A multi-step handler calls Call.Flush to push interim state
// mid-body, or Call.Yield to dispatch nested events (each producing its own
// delta) before the handler resumes. A background handler runs outside the
// per-client lock entirely and brackets each mutation in Call.Exclusive,
// which acquires the lock, applies the mutation, flushes a delta, and
// releases, so long-running work never starves other handlers for the same
// client.
//
// The symbolic expression side of the framework lives in the vars
// subpackage; persistence backends live in storage; the websocket wire
// adapter lives in wsbridge.
package reflow
