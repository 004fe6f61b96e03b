package arena

import (
	"context"
	"testing"
	"time"

	"duel-arena/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestAdjustIsAtomic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var g errgroup.Group
	for i := 0; i < 50; i++ {
		g.Go(func() error {
			_, err := f.arena.Adjust(ctx, alice.PlayerID, models.CurrencyDiamonds, 3)
			return err
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int64(150), f.balance(t, alice.PlayerID, models.CurrencyDiamonds))
}

func TestDebitNeverGoesNegative(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, alice.PlayerID, models.CurrencyCoins, 50)

	_, err := f.arena.Debit(ctx, alice.PlayerID, models.CurrencyCoins, 51)
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	_, err = f.arena.Debit(ctx, alice.PlayerID, models.CurrencyCoins, 0)
	assert.ErrorIs(t, err, ErrInvalidBet)

	bal, err := f.arena.Debit(ctx, alice.PlayerID, models.CurrencyCoins, 50)
	require.NoError(t, err)
	assert.Zero(t, bal)

	_, err = f.arena.Balance(ctx, alice.PlayerID, "gold")
	assert.ErrorIs(t, err, ErrInvalidBet)
}

func TestWatchBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	feed, err := f.arena.WatchBalance(ctx, bob.PlayerID, models.CurrencyCoins)
	require.NoError(t, err)
	defer feed.Close()
	assert.Zero(t, <-feed.C())

	f.fund(t, bob.PlayerID, models.CurrencyCoins, 75)
	require.Eventually(t, func() bool {
		select {
		case v := <-feed.C():
			return v == 75
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}
