package arena

import (
	"context"
	"testing"
	"time"

	"duel-arena/models"
	"duel-arena/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func fixedScore(score int) ScoringEngine {
	return ScoringEngineFunc(func(ctx context.Context, onComplete func(int)) { onComplete(score) })
}

func newPlayer(t *testing.T, mem *store.Memory, id Identity) *Client {
	t.Helper()
	conn := mem.Connect()
	t.Cleanup(func() { conn.Close() })
	return NewClient(New(conn, WithCountdown(3, time.Millisecond)), id)
}

func TestEndToEndDuel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	mem := store.NewMemory(nil)
	a := newPlayer(t, mem, alice)
	b := newPlayer(t, mem, bob)

	_, err := a.Adjust(ctx, alice.PlayerID, models.CurrencyCoins, 100)
	require.NoError(t, err)
	_, err = b.Adjust(ctx, bob.PlayerID, models.CurrencyCoins, 100)
	require.NoError(t, err)

	require.NoError(t, a.Announce(ctx))
	require.NoError(t, b.Announce(ctx))

	lobby, err := b.ListAvailable(ctx, bob.PlayerID)
	require.NoError(t, err)
	defer lobby.Close()
	players := <-lobby.C()
	require.Len(t, players, 1)
	assert.Equal(t, alice.PlayerID, players[0].PlayerID)
	assert.Equal(t, "alice", players[0].Handle)

	incoming, err := b.WatchIncoming(ctx, bob.PlayerID)
	require.NoError(t, err)
	defer incoming.Close()

	matchID, err := a.Invite(ctx, bob)
	require.NoError(t, err)

	var invites []models.Match
	require.Eventually(t, func() bool {
		select {
		case invites = <-incoming.C():
		default:
		}
		return len(invites) == 1
	}, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, matchID, invites[0].ID)

	_, err = b.Accept(ctx, matchID)
	require.NoError(t, err)

	var g errgroup.Group
	var finalA, finalB *models.Match
	g.Go(func() error {
		m, err := a.Play(ctx, matchID, fixedScore(15), nil)
		finalA = m
		return err
	})
	g.Go(func() error {
		m, err := b.Play(ctx, matchID, fixedScore(10), nil)
		finalB = m
		return err
	})

	_, err = a.Ready(ctx, matchID)
	require.NoError(t, err)
	_, err = b.Ready(ctx, matchID)
	require.NoError(t, err)

	require.NoError(t, g.Wait())
	for _, m := range []*models.Match{finalA, finalB} {
		require.NotNil(t, m)
		assert.Equal(t, models.MatchFinished, m.Status)
		assert.Equal(t, alice.PlayerID, m.WinnerID)
	}

	balA, err := a.Balance(ctx, alice.PlayerID, models.CurrencyCoins)
	require.NoError(t, err)
	balB, err := b.Balance(ctx, bob.PlayerID, models.CurrencyCoins)
	require.NoError(t, err)
	assert.Equal(t, int64(120), balA)
	assert.Equal(t, int64(80), balB)

	progA, err := a.Progress(ctx, alice.PlayerID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), progA.Wins)
	assert.Equal(t, DefaultXPWeights.WinXP, progA.TotalXP)
	progB, err := b.Progress(ctx, bob.PlayerID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), progB.Losses)
}

func TestClientSingleOutboundInvite(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory(nil)
	a := newPlayer(t, mem, alice)

	first, err := a.Invite(ctx, bob)
	require.NoError(t, err)
	_, err = a.Invite(ctx, carol)
	assert.ErrorIs(t, err, ErrInvitePending)

	// declined invitations free the slot
	require.NoError(t, a.Arena.Decline(ctx, first, bob.PlayerID))
	second, err := a.Invite(ctx, carol)
	require.NoError(t, err)

	require.NoError(t, a.Cancel(ctx, second))
	_, err = a.Invite(ctx, bob)
	require.NoError(t, err)
}

func TestPlayReturnsWhenMatchVanishes(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	mem := store.NewMemory(nil)
	a := newPlayer(t, mem, alice)
	b := newPlayer(t, mem, bob)

	matchID, err := a.Invite(ctx, bob)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := b.Play(ctx, matchID, fixedScore(1), nil)
		done <- err
	}()
	require.NoError(t, b.Decline(ctx, matchID))

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrMatchGone)
	case <-ctx.Done():
		t.Fatal("play never noticed the match disappeared")
	}
}

func TestDisconnectRemovesPresence(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory(nil)
	observerConn := mem.Connect()
	observer := New(observerConn)
	defer observerConn.Close()

	conn := mem.Connect()
	a := NewClient(New(conn), alice)
	require.NoError(t, a.Announce(ctx))

	snap, err := observerConn.Get(ctx, "presence/alice")
	require.NoError(t, err)
	require.True(t, snap.Exists())

	require.NoError(t, conn.Close())
	snap, err = observer.Store().Get(ctx, "presence/alice")
	require.NoError(t, err)
	assert.False(t, snap.Exists())
}

func TestAnnounceFailsLoudly(t *testing.T) {
	conn := store.NewMemory(nil).Connect()
	conn.SetOffline(true)
	a := New(conn)
	assert.ErrorIs(t, a.Announce(context.Background(), alice), store.ErrUnavailable)
}
