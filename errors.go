package reflow

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by operations on an App after Close.
var ErrClosed = errors.New("reflow: app closed")

// HandlerNotFoundError reports an event naming a handler that is not
// registered. It is logged and treated as a no-op, never fatal to the
// connection.
type HandlerNotFoundError struct {
	Name string
}

func (e *HandlerNotFoundError) Error() string {
	return fmt.Sprintf("reflow: no handler registered as %q", e.Name)
}

// EventPayloadError reports a payload that does not bind to the handler's
// declared arguments. The handler is not executed; the error is surfaced to
// the originating client as a diagnostic no-op.
type EventPayloadError struct {
	Handler string
	Reason  string
}

func (e *EventPayloadError) Error() string {
	return fmt.Sprintf("reflow: payload for %q does not bind: %s", e.Handler, e.Reason)
}

// ComputedVarError reports a computed var whose getter failed. It aborts the
// dispatch step that triggered the recomputation.
type ComputedVarError struct {
	Node string
	Var  string
	Err  error
}

func (e *ComputedVarError) Error() string {
	return fmt.Sprintf("reflow: computed var %s.%s: %v", e.Node, e.Var, e.Err)
}

func (e *ComputedVarError) Unwrap() error { return e.Err }

// HandlerExecutionError reports a handler body that failed. The current
// event chain is aborted; deltas already flushed earlier in the chain remain
// applied.
type HandlerExecutionError struct {
	Handler string
	Err     error
}

func (e *HandlerExecutionError) Error() string {
	return fmt.Sprintf("reflow: handler %q failed: %v", e.Handler, e.Err)
}

func (e *HandlerExecutionError) Unwrap() error { return e.Err }

// SerializationError reports a dirty value with no registered serializer for
// its exact type or any registered ancestor. It is fatal for the step
// emitting the delta; values are never silently dropped.
type SerializationError struct {
	Node string
	Var  string
	Type string
}

func (e *SerializationError) Error() string {
	if e.Node == "" && e.Var == "" {
		return fmt.Sprintf("reflow: no serializer registered for type %s", e.Type)
	}
	return fmt.Sprintf("reflow: no serializer registered for %s.%s (type %s)", e.Node, e.Var, e.Type)
}

// ConcurrentAccessError reports a background task's exclusive bracket
// invoked after its session was evicted. The mutation is dropped and logged;
// the error is never raised to the client.
type ConcurrentAccessError struct {
	Token string
}

func (e *ConcurrentAccessError) Error() string {
	return fmt.Sprintf("reflow: session for token %q is gone; exclusive bracket dropped", e.Token)
}
