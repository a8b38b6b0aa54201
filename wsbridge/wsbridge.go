// Package wsbridge adapts the reflow runtime to a websocket transport.
// Inbound frames are JSON event envelopes; outbound frames are JSON updates
// (delta plus processing flag). The bridge owns nothing about state or
// ordering beyond delivering each client's updates in the order the runtime
// emits them.
package wsbridge

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	reflow "github.com/joeycumines/go-reflow"
)

// Bridge is an http.Handler that upgrades requests to websocket connections
// and pumps events between each connection and the reflow App.
type Bridge struct {
	app      *reflow.App
	logger   *slog.Logger
	upgrader websocket.Upgrader

	// EvictOnClose tears the client's session down when its connection
	// closes. Leave false when clients reconnect with the same token and
	// expect their state back.
	EvictOnClose bool
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger overrides the default slog logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bridge) { b.logger = logger }
}

// WithCheckOrigin overrides the upgrader's origin check.
func WithCheckOrigin(fn func(*http.Request) bool) Option {
	return func(b *Bridge) { b.upgrader.CheckOrigin = fn }
}

// WithEvictOnClose makes the bridge evict a client's session when its
// connection closes.
func WithEvictOnClose() Option {
	return func(b *Bridge) { b.EvictOnClose = true }
}

// New creates a bridge for the given app.
func New(app *reflow.App, opts ...Option) *Bridge {
	b := &Bridge{
		app:    app,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// inboundFrame is the wire shape of one client event. The token is optional
// on the frame when the connection established one via the `token` query
// parameter or a prior frame.
type inboundFrame struct {
	Token      string            `json:"token,omitempty"`
	Name       string            `json:"name"`
	Payload    map[string]any    `json:"payload,omitempty"`
	RouterData reflow.RouterData `json:"router_data,omitzero"`
}

// outboundFrame is the wire shape of one update. Token is set on the first
// frame of connections whose token was assigned server-side.
type outboundFrame struct {
	Token string `json:"token,omitempty"`
	reflow.Update
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	token := r.URL.Query().Get("token")
	assigned := token == ""
	if assigned {
		token = reflow.NewToken()
	}
	sender := &connSender{conn: conn}
	if assigned {
		if err := sender.sendFrame(outboundFrame{Token: token}); err != nil {
			return
		}
	}
	if b.EvictOnClose {
		defer func() {
			if err := b.app.Evict(context.Background(), token); err != nil {
				b.logger.Warn("session eviction failed", "token", token, "err", err)
			}
		}()
	}

	routerData := reflow.RouterData{Path: r.URL.Path, Query: singleValued(r.URL.Query())}
	ctx := r.Context()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) &&
				!errors.Is(err, context.Canceled) {
				b.logger.Debug("websocket read ended", "token", token, "err", err)
			}
			return
		}
		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			b.logger.Warn("malformed frame dropped", "token", token, "err", err)
			continue
		}
		env := reflow.Envelope{
			Token:   token,
			Name:    frame.Name,
			Payload: frame.Payload,
			Router:  frame.RouterData,
		}
		if frame.Token != "" {
			env.Token = frame.Token
		}
		if env.Router.Path == "" && env.Router.Query == nil {
			env.Router = routerData
		}
		if err := b.app.Dispatch(ctx, env, sender); err != nil {
			if errors.Is(err, reflow.ErrClosed) {
				return
			}
			b.logger.Error("dispatch failed", "token", env.Token, "name", env.Name, "err", err)
		}
	}
}

// connSender serializes writes to one websocket connection. gorilla/websocket
// permits at most one concurrent writer, and background brackets can flush
// from other goroutines.
type connSender struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *connSender) Send(_ context.Context, _ string, u reflow.Update) error {
	return s.sendFrame(outboundFrame{Update: u})
}

func (s *connSender) sendFrame(frame outboundFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(frame)
}

var _ reflow.Sender = (*connSender)(nil)

func singleValued(values map[string][]string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]string, len(values))
	for k, v := range values {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}
