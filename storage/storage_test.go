package storage

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	reflow "github.com/joeycumines/go-reflow"
)

func openBackends(t *testing.T) map[string]reflow.Store {
	t.Helper()
	mem, err := Open("memory", "")
	require.NoError(t, err)
	db, err := Open("bolt", filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	stores := map[string]reflow.Store{"memory": mem, "bolt": db}
	t.Cleanup(func() {
		for _, s := range stores {
			require.NoError(t, s.Close())
		}
	})
	return stores
}

func TestStoreRoundTrip(t *testing.T) {
	t.Parallel()

	for name, store := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			token := reflow.NewToken()

			got, err := store.GetState(ctx, token)
			require.NoError(t, err)
			require.Nil(t, got, "absent token must yield (nil, nil)")

			snap := &reflow.Snapshot{
				Token: token,
				Nodes: map[string]map[string]any{
					"app":          {"count": 7, "name": "x"},
					"app.settings": {"theme": "dark"},
				},
			}
			require.NoError(t, store.SetState(ctx, token, snap))

			got, err = store.GetState(ctx, token)
			require.NoError(t, err)
			require.NotNil(t, got)
			require.Equal(t, token, got.Token)
			require.EqualValues(t, 7, got.Nodes["app"]["count"])
			require.Equal(t, "dark", got.Nodes["app.settings"]["theme"])

			require.NoError(t, store.DeleteState(ctx, token))
			got, err = store.GetState(ctx, token)
			require.NoError(t, err)
			require.Nil(t, got)

			// Deleting again is a no-op.
			require.NoError(t, store.DeleteState(ctx, token))
		})
	}
}

func TestStoreSnapshotsDoNotAlias(t *testing.T) {
	t.Parallel()

	for name, store := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			token := reflow.NewToken()
			snap := &reflow.Snapshot{
				Token: token,
				Nodes: map[string]map[string]any{"app": {"count": 1}},
			}
			require.NoError(t, store.SetState(ctx, token, snap))

			// Mutating the snapshot after writing must not change stored state.
			snap.Nodes["app"]["count"] = 999
			got, err := store.GetState(ctx, token)
			require.NoError(t, err)
			require.EqualValues(t, 1, got.Nodes["app"]["count"])

			// Nor does mutating a read-back copy.
			got.Nodes["app"]["count"] = 42
			again, err := store.GetState(ctx, token)
			require.NoError(t, err)
			require.EqualValues(t, 1, again.Nodes["app"]["count"])
		})
	}
}

func TestStoreTokensAreIndependent(t *testing.T) {
	t.Parallel()

	for name, store := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			a, b := reflow.NewToken(), reflow.NewToken()
			require.NoError(t, store.SetState(ctx, a, &reflow.Snapshot{
				Token: a, Nodes: map[string]map[string]any{"app": {"v": "a"}},
			}))
			require.NoError(t, store.SetState(ctx, b, &reflow.Snapshot{
				Token: b, Nodes: map[string]map[string]any{"app": {"v": "b"}},
			}))
			require.NoError(t, store.DeleteState(ctx, a))

			got, err := store.GetState(ctx, b)
			require.NoError(t, err)
			require.Equal(t, "b", got.Nodes["app"]["v"])
		})
	}
}

func TestStoreConcurrentDistinctTokens(t *testing.T) {
	t.Parallel()

	for name, store := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			tokens := make([]string, 8)
			var wg sync.WaitGroup
			errs := make(chan error, len(tokens))
			for i := range tokens {
				tokens[i] = reflow.NewToken()
				wg.Add(1)
				go func(token string, n int) {
					defer wg.Done()
					errs <- store.SetState(ctx, token, &reflow.Snapshot{
						Token: token,
						Nodes: map[string]map[string]any{"app": {"n": n}},
					})
				}(tokens[i], i)
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				require.NoError(t, err)
			}
			for i, token := range tokens {
				got, err := store.GetState(ctx, token)
				require.NoError(t, err)
				require.EqualValues(t, i, got.Nodes["app"]["n"])
			}
		})
	}
}

func TestBoltStateSurvivesReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state.db")
	ctx := context.Background()
	token := reflow.NewToken()

	store, err := OpenBoltStore(path)
	require.NoError(t, err)
	require.NoError(t, store.SetState(ctx, token, &reflow.Snapshot{
		Token: token, Nodes: map[string]map[string]any{"app": {"count": 3}},
	}))
	require.NoError(t, store.Close())

	reopened, err := OpenBoltStore(path)
	require.NoError(t, err)
	defer reopened.Close()
	got, err := reopened.GetState(ctx, token)
	require.NoError(t, err)
	require.EqualValues(t, 3, got.Nodes["app"]["count"])
}

func TestOpenUnknownBackend(t *testing.T) {
	t.Parallel()

	_, err := Open("redis", "")
	require.Error(t, err)
	require.Contains(t, err.Error(), "redis")
}

func TestAppPersistsAndRestoresAcrossEviction(t *testing.T) {
	t.Parallel()

	for name, store := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			def := func() *reflow.Definition {
				return reflow.NewDefinition("app").
					Var("count", 0).
					Handler("inc", func(_ context.Context, c *reflow.Call) ([]reflow.Event, error) {
						c.State().Set("count", c.State().Int("count")+1)
						return nil, nil
					})
			}
			app, err := reflow.New(def(), reflow.WithStore(store))
			require.NoError(t, err)
			token := reflow.NewToken()
			sender := discardSender{}

			for i := 0; i < 3; i++ {
				require.NoError(t, app.Dispatch(ctx, reflow.Envelope{Token: token, Name: "app.inc"}, sender))
			}
			require.NoError(t, app.Evict(ctx, token))

			// A fresh app over the same store resumes where the client left off.
			app2, err := reflow.New(def(), reflow.WithStore(store))
			require.NoError(t, err)
			capture := &lastSender{}
			require.NoError(t, app2.Dispatch(ctx, reflow.Envelope{Token: token, Name: "app.inc"}, capture))
			require.EqualValues(t, 4, capture.last().Delta["app"]["count"])
		})
	}
}

type discardSender struct{}

func (discardSender) Send(context.Context, string, reflow.Update) error { return nil }

type lastSender struct {
	mu sync.Mutex
	u  reflow.Update
}

func (s *lastSender) Send(_ context.Context, _ string, u reflow.Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.u = u
	return nil
}

func (s *lastSender) last() reflow.Update {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.u
}
