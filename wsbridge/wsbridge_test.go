package wsbridge

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	reflow "github.com/joeycumines/go-reflow"
)

const (
	flakeTimeout  = 5 * time.Second
	flakeInterval = 20 * time.Millisecond
)

func maxDeadline() time.Time { return time.Now().Add(time.Second) }

type testFrame struct {
	Token      string             `json:"token"`
	Delta      reflow.Delta       `json:"delta"`
	Processing bool               `json:"processing"`
	Error      *reflow.EventError `json:"error"`
}

func counterApp(t *testing.T, opts ...reflow.Option) *reflow.App {
	t.Helper()
	def := reflow.NewDefinition("counter").
		Var("value", 0).
		Handler("increment", func(_ context.Context, c *reflow.Call) ([]reflow.Event, error) {
			n, err := c.Args().Int("amount")
			if err != nil {
				return nil, err
			}
			c.State().Set("value", c.State().Int("value")+n)
			return nil, nil
		}, reflow.WithOptionalArg("amount", 1))
	app, err := reflow.New(def, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })
	return app
}

func startBridge(t *testing.T, app *reflow.App, opts ...Option) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(New(app, opts...))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	if token != "" {
		url += "?token=" + token
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// readUntilSettled reads frames until one arrives with the processing flag
// down, returning everything read.
func readUntilSettled(t *testing.T, conn *websocket.Conn) []testFrame {
	t.Helper()
	var frames []testFrame
	for {
		var f testFrame
		require.NoError(t, conn.ReadJSON(&f))
		frames = append(frames, f)
		if !f.Processing {
			return frames
		}
	}
}

func TestServerAssignsTokenWhenAbsent(t *testing.T) {
	t.Parallel()

	srv := startBridge(t, counterApp(t))
	conn := dial(t, srv, "")

	var hello testFrame
	require.NoError(t, conn.ReadJSON(&hello))
	require.NotEmpty(t, hello.Token, "first frame of a token-less connection carries the assigned token")
	require.Empty(t, hello.Delta)
}

func TestEventRoundTripOverWebsocket(t *testing.T) {
	t.Parallel()

	srv := startBridge(t, counterApp(t))
	token := reflow.NewToken()
	conn := dial(t, srv, token)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"name":    "counter.increment",
		"payload": map[string]any{"amount": 2},
	}))
	frames := readUntilSettled(t, conn)
	last := frames[len(frames)-1]
	require.EqualValues(t, 2, last.Delta["counter"]["value"])

	require.NoError(t, conn.WriteJSON(map[string]any{"name": "counter.increment"}))
	frames = readUntilSettled(t, conn)
	last = frames[len(frames)-1]
	require.EqualValues(t, 3, last.Delta["counter"]["value"])
}

func TestStateSurvivesReconnectWithSameToken(t *testing.T) {
	t.Parallel()

	srv := startBridge(t, counterApp(t))
	token := reflow.NewToken()

	conn := dial(t, srv, token)
	require.NoError(t, conn.WriteJSON(map[string]any{
		"name":    "counter.increment",
		"payload": map[string]any{"amount": 5},
	}))
	readUntilSettled(t, conn)
	require.NoError(t, conn.Close())

	conn2 := dial(t, srv, token)
	require.NoError(t, conn2.WriteJSON(map[string]any{"name": "counter.increment"}))
	frames := readUntilSettled(t, conn2)
	require.EqualValues(t, 6, frames[len(frames)-1].Delta["counter"]["value"],
		"session state must survive a reconnect")
}

func TestEvictOnCloseDiscardsSession(t *testing.T) {
	t.Parallel()

	srv := startBridge(t, counterApp(t), WithEvictOnClose())
	token := reflow.NewToken()

	conn := dial(t, srv, token)
	require.NoError(t, conn.WriteJSON(map[string]any{
		"name":    "counter.increment",
		"payload": map[string]any{"amount": 5},
	}))
	readUntilSettled(t, conn)
	require.NoError(t, conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), maxDeadline()))
	_ = conn.Close()

	// The eviction races the close handshake; retry until the fresh session
	// shows through.
	require.Eventually(t, func() bool {
		conn2 := dial(t, srv, token)
		defer conn2.Close()
		if conn2.WriteJSON(map[string]any{"name": "counter.increment"}) != nil {
			return false
		}
		var f testFrame
		if conn2.ReadJSON(&f) != nil {
			return false
		}
		v, ok := f.Delta["counter"]["value"].(float64)
		return ok && v == 1
	}, flakeTimeout, flakeInterval, "evicted session must restart from defaults")
}

func TestMalformedFrameIsDroppedConnectionSurvives(t *testing.T) {
	t.Parallel()

	srv := startBridge(t, counterApp(t))
	conn := dial(t, srv, reflow.NewToken())

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	require.NoError(t, conn.WriteJSON(map[string]any{"name": "counter.increment"}))
	frames := readUntilSettled(t, conn)
	require.EqualValues(t, 1, frames[len(frames)-1].Delta["counter"]["value"])
}

func TestHandlerErrorReachesClientAsFrame(t *testing.T) {
	t.Parallel()

	srv := startBridge(t, counterApp(t))
	conn := dial(t, srv, reflow.NewToken())

	require.NoError(t, conn.WriteJSON(map[string]any{
		"name":    "counter.increment",
		"payload": map[string]any{"amount": "three"},
	}))
	frames := readUntilSettled(t, conn)
	last := frames[len(frames)-1]
	require.NotNil(t, last.Error)
	require.Contains(t, last.Error.Message, "amount")
}
