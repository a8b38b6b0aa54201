package reflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Session is one client's live state: the materialized node tree, the
// per-token exclusive lock, and the pending hydration requests. Everything
// except the closed flag is guarded by sem.
type Session struct {
	app    *App
	token  string
	root   *Node
	sem    *semaphore.Weighted
	closed atomic.Bool

	hydrate []HydrateRequest
}

// Token returns the session's client token.
func (s *Session) Token() string { return s.token }

// resolveNodePath resolves a dotted absolute node path ("root" or
// "root.child.sub") against this session's tree, materializing children as
// needed. Must be called with the session lock held.
func (s *Session) resolveNodePath(path string) (*Node, error) {
	if path == s.root.name {
		return s.root, nil
	}
	rest, ok := strings.CutPrefix(path, s.root.name+".")
	if !ok {
		return nil, fmt.Errorf("reflow: node path %q is outside state %q", path, s.root.name)
	}
	return s.root.Resolve(rest)
}

// runChain drains one event chain: the seed event plus every follow-up any
// step returns, in FIFO order, one delta transmitted per step. Every step of
// the chain carries the routing context of the envelope that started it.
// When nested is true the chain was started from inside a yielding handler
// and the processing flag stays raised throughout. The session lock must be
// held.
func (s *Session) runChain(ctx context.Context, send Sender, seed Event, nested bool, router RouterData) error {
	queue := []Event{seed}
	for len(queue) > 0 {
		ev := queue[0]
		queue = queue[1:]
		follow, err := s.step(ctx, send, ev, len(queue), nested, router)
		if err != nil {
			// The step already surfaced the failure; drop the rest of the
			// chain. Deltas flushed by earlier steps stay applied.
			return nil
		}
		queue = append(queue, follow...)
	}
	return nil
}

// step executes one event: resolve handler and node, bind the payload, run
// the body, then flush and transmit this step's delta before any follow-up
// runs. remaining is the number of events already queued behind this one.
func (s *Session) step(ctx context.Context, send Sender, ev Event, remaining int, nested bool, router RouterData) ([]Event, error) {
	bh, ok := s.app.handlers[ev.Name]
	if !ok {
		s.app.logger.Warn("event dropped", "err", &HandlerNotFoundError{Name: ev.Name}, "token", s.token)
		return nil, nil
	}
	if bh.h.background {
		// Background follow-ups leave the chain and re-enter via Dispatch.
		args, err := bindArgs(bh.h, ev.Name, ev.Args)
		if err != nil {
			s.app.logger.Warn("background event rejected", "err", err)
			return nil, nil
		}
		s.app.tasks.Add(1)
		go s.app.runBackground(ctx, s, send, ev.Name, bh, args, router)
		return nil, nil
	}
	node, err := s.resolveNodePath(bh.path)
	if err != nil {
		return nil, err
	}
	args, err := bindArgs(bh.h, ev.Name, ev.Args)
	if err != nil {
		s.app.logger.Warn("event rejected", "err", err, "token", s.token)
		sendErr := send.Send(ctx, s.token, Update{
			Error:      toEventError(ev.Name, err),
			Processing: nested || remaining > 0,
		})
		return nil, sendErr
	}
	call := &Call{sess: s, node: node, name: ev.Name, path: bh.path, args: args, send: send, router: router}
	follow, herr := bh.h.fn(ctx, call)
	if herr != nil {
		hex := &HandlerExecutionError{Handler: ev.Name, Err: herr}
		s.app.logger.Error("handler failed", "err", hex, "token", s.token)
		_ = send.Send(ctx, s.token, Update{Error: toEventError(ev.Name, hex), Processing: false})
		return nil, hex
	}
	processing := nested || remaining > 0 || len(follow) > 0
	if err := s.flush(ctx, send, processing); err != nil {
		s.app.logger.Error("delta flush failed", "err", err, "token", s.token)
		_ = send.Send(ctx, s.token, Update{Error: toEventError(ev.Name, err), Processing: false})
		return nil, err
	}
	return follow, nil
}

// flush builds the delta for every dirty var, persists the snapshot when a
// store is configured, and transmits the update. Dirty sets are cleared only
// after the whole delta built successfully, so a failed step leaves them
// intact. Must be called with the session lock held.
func (s *Session) flush(ctx context.Context, send Sender, processing bool) error {
	delta, err := s.buildDelta()
	if err != nil {
		return err
	}
	if s.app.store != nil {
		if err := s.app.store.SetState(ctx, s.token, s.snapshot()); err != nil {
			return fmt.Errorf("reflow: persisting state for token %q: %w", s.token, err)
		}
	}
	u := Update{Delta: delta, Processing: processing}
	if len(s.hydrate) > 0 {
		u.Hydrate = s.hydrate
		s.hydrate = nil
	}
	return send.Send(ctx, s.token, u)
}

// buildDelta walks every materialized node, serializes the current value of
// each dirty var (recomputing invalidated computed vars lazily), and clears
// the dirty sets it read. Calling it again with no intervening mutation
// yields an empty delta.
func (s *Session) buildDelta() (Delta, error) {
	delta := Delta{}
	var visited []*Node
	err := s.root.walk(func(n *Node) error {
		if len(n.dirty) == 0 {
			return nil
		}
		changed := make(map[string]any, len(n.dirty))
		for name := range n.dirty {
			value, err := n.Get(name)
			if err != nil {
				return err
			}
			wire, err := s.app.serializers.Serialize(value)
			if err != nil {
				var serr *SerializationError
				if errors.As(err, &serr) && serr.Node == "" {
					return &SerializationError{Node: n.name, Var: name, Type: serr.Type}
				}
				return err
			}
			changed[name] = wire
		}
		delta[n.name] = changed
		visited = append(visited, n)
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, n := range visited {
		n.dirty = make(map[string]struct{})
	}
	return delta, nil
}

// snapshot captures the plain vars of every materialized node.
func (s *Session) snapshot() *Snapshot {
	nodes := make(map[string]map[string]any)
	s.root.snapshotInto(nodes)
	return &Snapshot{Token: s.token, Nodes: nodes}
}

// Call is the execution context handed to a handler: the resolved state
// node, the bound arguments, and the flush/yield/exclusive operations that
// sequence multi-step and background work.
type Call struct {
	sess       *Session
	node       *Node
	name       string
	path       string
	args       Args
	send       Sender
	router     RouterData
	background bool
}

// State returns the handler's state node. For background handlers it panics:
// state access outside an Exclusive bracket is a data race by construction.
func (c *Call) State() *Node {
	if c.background {
		panic("reflow: background handlers must access state inside Call.Exclusive")
	}
	return c.node
}

// Args returns the bound payload.
func (c *Call) Args() Args { return c.args }

// Token returns the client token the call belongs to.
func (c *Call) Token() string { return c.sess.token }

// Router returns the routing context of the envelope that started the
// current chain. It is captured at dispatch time, so a background handler
// sees its own envelope's routing context no matter what the client
// navigates to while the task runs.
func (c *Call) Router() RouterData { return c.router }

// Flush emits the current dirty state to the client immediately and
// continues the handler: the multi-step equivalent of yielding nothing.
// Background handlers cannot Flush; their mutations flush when the
// Exclusive bracket exits.
func (c *Call) Flush(ctx context.Context) error {
	if c.background {
		return errors.New("reflow: background handlers flush via Call.Exclusive")
	}
	return c.sess.flush(ctx, c.send, true)
}

// Yield flushes the current dirty state, then fully drains the given events
// in order, each as its own dispatch step with its own delta, before
// returning control to the caller. This is how a handler shows interim UI
// state and runs nested work mid-body.
//
// From a background handler Yield skips the flush (there is no bracketed
// state to flush) and dispatches each event through the ordinary locked
// path.
func (c *Call) Yield(ctx context.Context, events ...Event) error {
	if c.background {
		for _, ev := range events {
			env := Envelope{Token: c.sess.token, Name: ev.Name, Payload: ev.Args, Router: c.router}
			if err := c.sess.app.Dispatch(ctx, env, c.send); err != nil {
				return err
			}
		}
		return nil
	}
	if err := c.sess.flush(ctx, c.send, true); err != nil {
		return err
	}
	for _, ev := range events {
		if err := c.sess.runChain(ctx, c.send, ev, true, c.router); err != nil {
			return err
		}
	}
	return nil
}

// Exclusive acquires the per-token lock, hands the resolved state node to
// fn, flushes the resulting delta, and releases. It is the only legal way a
// background handler touches state; acquisition blocks until ordinary
// handlers for the client finish. Against an evicted session it fails with
// a *ConcurrentAccessError and the mutation is dropped.
func (c *Call) Exclusive(ctx context.Context, fn func(*Node) error) error {
	if !c.background {
		return errors.New("reflow: Exclusive is for background handlers; ordinary handlers already hold the lock")
	}
	s := c.sess
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.sem.Release(1)
	if s.closed.Load() {
		return &ConcurrentAccessError{Token: s.token}
	}
	node, err := s.resolveNodePath(c.path)
	if err != nil {
		return err
	}
	if err := fn(node); err != nil {
		return &HandlerExecutionError{Handler: c.name, Err: err}
	}
	return s.flush(ctx, c.send, false)
}

// bindArgs checks the payload against the handler's declared arguments:
// required names must be present, optional names fall back to their
// defaults, and undeclared names are rejected.
func bindArgs(h *handlerDef, name string, payload map[string]any) (Args, error) {
	if h.anyArgs {
		out := make(Args, len(payload))
		for k, v := range payload {
			out[k] = v
		}
		return out, nil
	}
	out := make(Args, len(h.args))
	declared := make(map[string]struct{}, len(h.args))
	for _, arg := range h.args {
		declared[arg.name] = struct{}{}
		v, ok := payload[arg.name]
		switch {
		case ok:
			out[arg.name] = v
		case arg.optional:
			out[arg.name] = arg.def
		default:
			return nil, &EventPayloadError{Handler: name, Reason: fmt.Sprintf("missing required argument %q", arg.name)}
		}
	}
	for k := range payload {
		if _, ok := declared[k]; !ok {
			return nil, &EventPayloadError{Handler: name, Reason: fmt.Sprintf("unexpected argument %q", k)}
		}
	}
	return out, nil
}

func toEventError(name string, err error) *EventError {
	return &EventError{Name: name, Message: err.Error()}
}
