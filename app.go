package reflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/joeycumines/go-reflow/vars"
)

// HandlerFunc is an event handler body. It runs with the client's state tree
// resolved and, for non-background handlers, with the per-token exclusive
// lock held. Returned events are follow-ups, dispatched after this step's
// delta has been transmitted. An error aborts the current event chain;
// deltas already flushed by earlier steps stay applied.
type HandlerFunc func(ctx context.Context, c *Call) ([]Event, error)

// Sender transmits outbound updates to one client. Implementations are
// provided by the transport layer; the runtime only requires that updates
// for one token are delivered in the order Send is called.
type Sender interface {
	Send(ctx context.Context, token string, u Update) error
}

// App is the compiled runtime for one state definition tree. It owns the
// per-client sessions, the handler registry, the serializer registry, and
// the background task supervisor.
type App struct {
	def         *Definition
	handlers    map[string]boundHandler
	store       Store
	serializers *Serializers
	logger      *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session

	tasks  sync.WaitGroup
	closed atomic.Bool
}

type boundHandler struct {
	h    *handlerDef
	path string // dotted node path, root name included
}

// Option configures an App.
type Option func(*App)

// WithStore configures state persistence. The runtime loads a token's
// snapshot when the token is first seen and writes it back after every
// delta flush, always under the token's exclusive lock. The caller retains
// ownership of the store and is responsible for closing it.
func WithStore(store Store) Option {
	return func(a *App) { a.store = store }
}

// WithLogger overrides the default slog logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *App) { a.logger = logger }
}

// WithSerializers overrides the default serializer registry.
func WithSerializers(s *Serializers) Option {
	return func(a *App) { a.serializers = s }
}

// New compiles a definition tree into a runnable App: computed var
// expressions are compiled, their dependencies discovered, and every
// handler registered under its fully qualified name.
func New(def *Definition, opts ...Option) (*App, error) {
	if err := def.compile(); err != nil {
		return nil, err
	}
	a := &App{
		def:         def,
		handlers:    make(map[string]boundHandler),
		serializers: NewSerializers(),
		logger:      slog.Default(),
		sessions:    make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.registerHandlers(def, def.name)
	return a, nil
}

func (a *App) registerHandlers(def *Definition, path string) {
	for name, h := range def.handlers {
		a.handlers[path+"."+name] = boundHandler{h: h, path: path}
	}
	for _, childName := range def.childOrd {
		a.registerHandlers(def.children[childName], path+"."+childName)
	}
}

// Serializers returns the app's serializer registry for further
// registrations.
func (a *App) Serializers() *Serializers { return a.serializers }

// Ref resolves a dotted "node.path.var" reference into a symbolic Var typed
// from the declared default value. Computed vars type as Any unless
// relabeled by the caller.
func (a *App) Ref(path string) (vars.Var, error) {
	i := strings.LastIndex(path, ".")
	if i < 0 {
		return vars.Var{}, fmt.Errorf("reflow: ref %q must be a dotted node.var path", path)
	}
	nodePath, varName := path[:i], path[i+1:]
	def, err := a.definitionAt(nodePath)
	if err != nil {
		return vars.Var{}, err
	}
	if v, ok := def.vars[varName]; ok {
		return vars.StateField(nodePath, varName, vars.TypeOf(v.def)), nil
	}
	if _, ok := def.computed[varName]; ok {
		return vars.StateField(nodePath, varName, vars.Any()), nil
	}
	return vars.Var{}, fmt.Errorf("reflow: state %q declares no var %q", nodePath, varName)
}

func (a *App) definitionAt(path string) (*Definition, error) {
	segs := strings.Split(path, ".")
	if segs[0] != a.def.name {
		return nil, fmt.Errorf("reflow: unknown state path %q", path)
	}
	def := a.def
	for _, seg := range segs[1:] {
		child, ok := def.children[seg]
		if !ok {
			return nil, fmt.Errorf("reflow: unknown state path %q", path)
		}
		def = child
	}
	return def, nil
}

// Dispatch processes one inbound event envelope to completion: it resolves
// or creates the session for the envelope's token, runs the handler and
// every follow-up it produces, and sends a delta through send after each
// step. Unknown handler names are logged no-ops. Background handlers return
// immediately after their task is started.
func (a *App) Dispatch(ctx context.Context, env Envelope, send Sender) error {
	if a.closed.Load() {
		return ErrClosed
	}
	if env.Token == "" {
		return fmt.Errorf("reflow: envelope has no client token")
	}
	if env.Name == HydrateEventName {
		return a.dispatchHydrate(ctx, env, send)
	}
	bh, ok := a.handlers[env.Name]
	if !ok {
		a.logger.Warn("event dropped", "err", &HandlerNotFoundError{Name: env.Name}, "token", env.Token)
		return nil
	}
	sess, err := a.session(ctx, env.Token)
	if err != nil {
		return err
	}
	if bh.h.background {
		args, bindErr := bindArgs(bh.h, env.Name, env.Payload)
		if bindErr != nil {
			a.logger.Warn("background event rejected", "err", bindErr)
			return send.Send(ctx, env.Token, Update{Error: toEventError(env.Name, bindErr)})
		}
		a.tasks.Add(1)
		go a.runBackground(ctx, sess, send, env.Name, bh, args, env.Router)
		return nil
	}
	if err := sess.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer sess.sem.Release(1)
	if sess.closed.Load() {
		a.logger.Debug("event for evicted session dropped", "token", env.Token, "name", env.Name)
		return nil
	}
	return sess.runChain(ctx, send, Event{Name: env.Name, Args: env.Payload}, false, env.Router)
}

// runBackground executes a background-flagged handler outside the per-token
// lock. Client disconnects do not cancel the task; it runs on a context
// detached from the dispatch context. Failures are log records, never client
// errors, except where the handler itself brackets them.
func (a *App) runBackground(ctx context.Context, sess *Session, send Sender, name string, bh boundHandler, args Args, router RouterData) {
	defer a.tasks.Done()
	bctx := context.WithoutCancel(ctx)
	call := &Call{sess: sess, name: name, path: bh.path, args: args, send: send, router: router, background: true}
	events, err := bh.h.fn(bctx, call)
	if err != nil {
		var cae *ConcurrentAccessError
		if errors.As(err, &cae) {
			a.logger.Info("background mutation dropped", "token", sess.token, "name", name)
			return
		}
		a.logger.Error("background task failed", "token", sess.token, "name", name, "err", err)
		return
	}
	for _, ev := range events {
		env := Envelope{Token: sess.token, Name: ev.Name, Payload: ev.Args, Router: router}
		if err := a.Dispatch(bctx, env, send); err != nil {
			a.logger.Error("background follow-up failed", "token", sess.token, "name", ev.Name, "err", err)
			return
		}
	}
}

// dispatchHydrate applies client-provided values for storage-tagged vars.
// The payload maps dotted node names to var/value maps; entries for vars
// that are not declared or not storage-tagged are ignored with a log entry.
func (a *App) dispatchHydrate(ctx context.Context, env Envelope, send Sender) error {
	sess, err := a.session(ctx, env.Token)
	if err != nil {
		return err
	}
	if err := sess.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer sess.sem.Release(1)
	if sess.closed.Load() {
		return nil
	}
	for nodePath, raw := range env.Payload {
		values, ok := raw.(map[string]any)
		if !ok {
			a.logger.Warn("malformed hydrate entry", "token", env.Token, "node", nodePath)
			continue
		}
		node, err := sess.resolveNodePath(nodePath)
		if err != nil {
			a.logger.Warn("hydrate for unknown node", "token", env.Token, "node", nodePath)
			continue
		}
		for name, value := range values {
			v, declared := node.def.vars[name]
			if !declared || v.storage == StorageNone {
				a.logger.Warn("hydrate for untagged var", "token", env.Token, "node", nodePath, "var", name)
				continue
			}
			node.Set(name, value)
		}
	}
	return sess.flush(ctx, send, false)
}

// session returns the token's session, materializing it (and loading any
// persisted snapshot) the first time the token is seen.
func (a *App) session(ctx context.Context, token string) (*Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if s, ok := a.sessions[token]; ok {
		return s, nil
	}
	s := &Session{
		app:   a,
		token: token,
		root:  materializeNode(a.def, nil, a.def.name),
		sem:   semaphore.NewWeighted(1),
	}
	s.hydrate = collectHydrateRequests(a.def, a.def.name, nil)
	if a.store != nil {
		snap, err := a.store.GetState(ctx, token)
		if err != nil {
			return nil, fmt.Errorf("reflow: loading state for token %q: %w", token, err)
		}
		if snap != nil {
			s.root.restore(snap.Nodes)
		}
	}
	a.sessions[token] = s
	return s, nil
}

func collectHydrateRequests(def *Definition, path string, out []HydrateRequest) []HydrateRequest {
	for _, name := range def.varOrder {
		if v := def.vars[name]; v.storage != StorageNone {
			out = append(out, HydrateRequest{Node: path, Var: name, Source: v.storage})
		}
	}
	for _, childName := range def.childOrd {
		out = collectHydrateRequests(def.children[childName], path+"."+childName, out)
	}
	return out
}

// Evict tears down the session for a token: any persisted snapshot is
// written one last time and the session is removed. In-flight background
// tasks are not cancelled; their next exclusive bracket fails with a
// *ConcurrentAccessError and is dropped.
func (a *App) Evict(ctx context.Context, token string) error {
	a.mu.Lock()
	sess, ok := a.sessions[token]
	delete(a.sessions, token)
	a.mu.Unlock()
	if !ok {
		return nil
	}
	if err := sess.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer sess.sem.Release(1)
	sess.closed.Store(true)
	if a.store != nil {
		if err := a.store.SetState(ctx, token, sess.snapshot()); err != nil {
			return fmt.Errorf("reflow: persisting state for token %q: %w", token, err)
		}
	}
	return nil
}

// Close evicts every session and waits for in-flight background tasks,
// bounded by ctx. The configured store is not closed; the caller owns it.
func (a *App) Close(ctx context.Context) error {
	if !a.closed.CompareAndSwap(false, true) {
		return nil
	}
	a.mu.Lock()
	tokens := make([]string, 0, len(a.sessions))
	for token := range a.sessions {
		tokens = append(tokens, token)
	}
	a.mu.Unlock()
	var firstErr error
	for _, token := range tokens {
		if err := a.Evict(ctx, token); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	done := make(chan struct{})
	go func() {
		a.tasks.Wait()
		close(done)
	}()
	select {
	case <-done:
		return firstErr
	case <-ctx.Done():
		return ctx.Err()
	}
}
