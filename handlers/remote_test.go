package handlers

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"duel-arena/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func (s *testServer) listen(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go s.app.Listener(ln)
	t.Cleanup(func() { s.app.ShutdownWithTimeout(time.Second) })
	return "http://" + ln.Addr().String()
}

func dial(t *testing.T, baseURL, playerID string) *store.Remote {
	t.Helper()
	r, err := store.Dial(context.Background(), store.RemoteConfig{
		BaseURL:   baseURL,
		PlayerID:  playerID,
		Heartbeat: 50 * time.Millisecond,
	})
	require.NoError(t, err)
	return r
}

func TestRemoteAgainstServer(t *testing.T) {
	s := newTestServer(t)
	baseURL := s.listen(t)
	ctx := context.Background()

	r := dial(t, baseURL, "alice")
	defer r.Close()

	t.Run("set and get", func(t *testing.T) {
		require.NoError(t, r.Set(ctx, "balances/alice/coins", json.RawMessage(`100`)))
		snap, err := r.Get(ctx, "balances/alice/coins")
		require.NoError(t, err)
		assert.JSONEq(t, `100`, string(snap.Value))

		_, err = r.Get(ctx, "balances/$/coins")
		assert.ErrorIs(t, err, store.ErrInvalidPath)
	})

	t.Run("concurrent updates", func(t *testing.T) {
		other := dial(t, baseURL, "bob")
		defer other.Close()

		var g errgroup.Group
		for _, st := range []store.Store{r, other} {
			st := st
			for i := 0; i < 2; i++ {
				g.Go(func() error {
					for j := 0; j < 5; j++ {
						_, err := store.UpdateJSON(ctx, st, "counters/shared", func(cur *int) (*int, error) {
							n := 0
							if cur != nil {
								n = *cur
							}
							n++
							return &n, nil
						})
						if err != nil {
							return err
						}
					}
					return nil
				})
			}
		}
		require.NoError(t, g.Wait())

		n, err := store.GetJSON[int](ctx, r, "counters/shared")
		require.NoError(t, err)
		require.NotNil(t, n)
		assert.Equal(t, 20, *n)
	})

	t.Run("subscribe", func(t *testing.T) {
		got := make(chan json.RawMessage, 16)
		sub, err := r.Subscribe(ctx, "flags/x", func(snap store.Snapshot) {
			got <- snap.Value
		})
		require.NoError(t, err)
		defer sub.Close()

		select {
		case v := <-got:
			assert.Empty(t, v)
		case <-time.After(5 * time.Second):
			t.Fatal("no initial snapshot")
		}

		require.NoError(t, s.conn.Set(ctx, "flags/x", json.RawMessage(`true`)))
		deadline := time.After(5 * time.Second)
		for {
			select {
			case v := <-got:
				if string(v) == "true" {
					return
				}
			case <-deadline:
				t.Fatal("change never arrived")
			}
		}
	})
}

func TestRemoteCloseRunsHooks(t *testing.T) {
	s := newTestServer(t)
	baseURL := s.listen(t)
	ctx := context.Background()

	r := dial(t, baseURL, "alice")
	require.NoError(t, r.Set(ctx, "presence/alice", json.RawMessage(`{"playerId":"alice"}`)))
	require.NoError(t, r.OnDisconnectRemove(ctx, "presence/alice"))
	require.NoError(t, r.Close())

	snap, err := s.conn.Get(ctx, "presence/alice")
	require.NoError(t, err)
	assert.False(t, snap.Exists())
}
