package arena

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"duel-arena/models"
	"duel-arena/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// outageStore fails chosen atomic updates as if the store dropped out.
type outageStore struct {
	store.Store

	mu      sync.Mutex
	updates int
	failing map[int]bool
}

// failUpdates makes the given updates, counted from now starting at 1, fail.
func (s *outageStore) failUpdates(nth ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing = make(map[int]bool, len(nth))
	for _, n := range nth {
		s.failing[s.updates+n] = true
	}
}

func (s *outageStore) Update(ctx context.Context, path string, fn store.UpdateFunc) (json.RawMessage, error) {
	s.mu.Lock()
	s.updates++
	fail := s.failing[s.updates]
	s.mu.Unlock()
	if fail {
		return nil, fmt.Errorf("update %s: %w", path, store.ErrUnavailable)
	}
	return s.Store.Update(ctx, path, fn)
}

func TestReadyRetryAfterOutage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	flaky := &outageStore{Store: f.arena.Store()}
	f.arena = New(flaky, WithClock(f.clock))
	id := f.bettingMatch(t)
	f.fund(t, alice.PlayerID, models.CurrencyCoins, 100)
	f.fund(t, bob.PlayerID, models.CurrencyCoins, 100)

	// the debit and the claim release both fail
	flaky.failUpdates(2, 3)
	_, err := f.arena.Ready(ctx, id, alice.PlayerID)
	require.ErrorIs(t, err, store.ErrUnavailable)

	m, err := f.arena.GetMatch(ctx, id)
	require.NoError(t, err)
	assert.True(t, m.Player1.Ready)
	assert.False(t, m.Player1.Escrowed)
	assert.Equal(t, int64(100), f.balance(t, alice.PlayerID, models.CurrencyCoins))

	m, err = f.arena.Ready(ctx, id, alice.PlayerID)
	require.NoError(t, err)
	assert.True(t, m.Player1.Escrowed)
	assert.Equal(t, int64(80), f.balance(t, alice.PlayerID, models.CurrencyCoins))

	m, err = f.arena.Ready(ctx, id, bob.PlayerID)
	require.NoError(t, err)
	assert.Equal(t, models.MatchCountdown, m.Status)
	assert.Equal(t, int64(80), f.balance(t, bob.PlayerID, models.CurrencyCoins))
}

func TestReadyConfirmOutageRefunds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	flaky := &outageStore{Store: f.arena.Store()}
	f.arena = New(flaky, WithClock(f.clock))
	id := f.bettingMatch(t)
	f.fund(t, alice.PlayerID, models.CurrencyCoins, 100)

	// claim and debit go through, the confirm does not
	flaky.failUpdates(3)
	_, err := f.arena.Ready(ctx, id, alice.PlayerID)
	require.ErrorIs(t, err, store.ErrUnavailable)
	assert.Equal(t, int64(100), f.balance(t, alice.PlayerID, models.CurrencyCoins))

	m, err := f.arena.Ready(ctx, id, alice.PlayerID)
	require.NoError(t, err)
	assert.True(t, m.Player1.Escrowed)
	assert.Equal(t, int64(80), f.balance(t, alice.PlayerID, models.CurrencyCoins))
}

func TestReadyWaitsOutForeignClaim(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.bettingMatch(t)
	f.fund(t, alice.PlayerID, models.CurrencyCoins, 100)

	// another device of alice claimed the side and has not confirmed yet
	_, err := f.arena.updateMatch(ctx, id, func(m *models.Match) error {
		m.Player1.Ready = true
		m.Player1.Claim = "other-device:1"
		m.Player1.ClaimedAt = f.clock.Now().UnixMilli()
		return nil
	})
	require.NoError(t, err)

	_, err = f.arena.Ready(ctx, id, alice.PlayerID)
	assert.ErrorIs(t, err, ErrEscrowPending)
	assert.Equal(t, int64(100), f.balance(t, alice.PlayerID, models.CurrencyCoins))

	f.clock.Advance(DefaultClaimLease)
	m, err := f.arena.Ready(ctx, id, alice.PlayerID)
	require.NoError(t, err)
	assert.True(t, m.Player1.Escrowed)
	assert.NotEqual(t, "other-device:1", m.Player1.Claim)
	assert.Equal(t, int64(80), f.balance(t, alice.PlayerID, models.CurrencyCoins))
}

func TestReadyFromSecondClientKeepsEscrow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.bettingMatch(t)
	f.fund(t, alice.PlayerID, models.CurrencyCoins, 100)

	_, err := f.arena.Ready(ctx, id, alice.PlayerID)
	require.NoError(t, err)

	// the same player readying again from another device must not stake twice
	other := New(f.arena.Store(), WithClock(f.clock))
	f.clock.Advance(time.Minute)
	m, err := other.Ready(ctx, id, alice.PlayerID)
	require.NoError(t, err)
	assert.True(t, m.Player1.Escrowed)
	assert.Equal(t, int64(80), f.balance(t, alice.PlayerID, models.CurrencyCoins))
}
