package reflow

import (
	"fmt"

	"github.com/google/uuid"
)

// HydrateEventName is the reserved handler name a client uses to push the
// current values of client-storage-tagged vars (cookie, localStorage,
// sessionStorage) back to the server. The payload maps state-node name to a
// map of var name to value.
const HydrateEventName = "__hydrate"

// Envelope is one inbound event at the transport boundary: which client it
// belongs to, which handler it targets, and the already-decoded payload.
// Envelopes are consumed immediately by dispatch and never persisted.
type Envelope struct {
	Token   string         `json:"token"`
	Name    string         `json:"name"`
	Payload map[string]any `json:"payload,omitempty"`
	Router  RouterData     `json:"router_data,omitzero"`
}

// RouterData carries the client's routing context along with an event.
type RouterData struct {
	Path  string            `json:"path,omitempty"`
	Query map[string]string `json:"query,omitempty"`
}

// Event is a follow-up event spec produced by a handler, either returned or
// yielded. It always targets the same client as the step that produced it.
type Event struct {
	Name string
	Args map[string]any
}

// NewEvent builds an event spec for the fully qualified handler name.
func NewEvent(name string, args map[string]any) Event {
	return Event{Name: name, Args: args}
}

// Delta is a minimal diff of changed state: state-node name to changed var
// name to serialized value. Only vars that were dirty at build time appear.
type Delta map[string]map[string]any

// Update is one outbound message to a client. Processing reports whether
// more queued events remain for the client after this update.
type Update struct {
	Delta      Delta            `json:"delta,omitempty"`
	Processing bool             `json:"processing"`
	Hydrate    []HydrateRequest `json:"hydrate,omitempty"`
	Error      *EventError      `json:"error,omitempty"`
}

// HydrateRequest asks the client to send the current value of one
// client-storage-backed var via the reserved hydrate event.
type HydrateRequest struct {
	Node   string        `json:"node"`
	Var    string        `json:"var"`
	Source StorageSource `json:"source"`
}

// EventError is a structured error notification delivered to the client that
// originated a failed step.
type EventError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// StorageSource identifies where the client persists a storage-tagged var.
type StorageSource string

const (
	StorageNone    StorageSource = ""
	StorageCookie  StorageSource = "cookie"
	StorageLocal   StorageSource = "local_storage"
	StorageSession StorageSource = "session_storage"
)

// NewToken returns a fresh opaque client token.
func NewToken() string {
	return uuid.NewString()
}

// Args is a handler's bound payload.
type Args map[string]any

// Get returns a raw argument value.
func (a Args) Get(name string) (any, bool) {
	v, ok := a[name]
	return v, ok
}

// Int returns an integer argument, coercing the numeric types JSON decoding
// produces.
func (a Args) Int(name string) (int, error) {
	v, ok := a[name]
	if !ok {
		return 0, fmt.Errorf("reflow: no argument %q", name)
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("reflow: argument %q is %T, not an integer", name, v)
	}
}

// Float returns a floating point argument.
func (a Args) Float(name string) (float64, error) {
	v, ok := a[name]
	if !ok {
		return 0, fmt.Errorf("reflow: no argument %q", name)
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("reflow: argument %q is %T, not a number", name, v)
	}
}

// String returns a string argument.
func (a Args) String(name string) (string, error) {
	v, ok := a[name]
	if !ok {
		return "", fmt.Errorf("reflow: no argument %q", name)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("reflow: argument %q is %T, not a string", name, v)
	}
	return s, nil
}

// Bool returns a boolean argument.
func (a Args) Bool(name string) (bool, error) {
	v, ok := a[name]
	if !ok {
		return false, fmt.Errorf("reflow: no argument %q", name)
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("reflow: argument %q is %T, not a bool", name, v)
	}
	return b, nil
}
