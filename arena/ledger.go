package arena

import (
	"context"
	"fmt"
	"log"

	"duel-arena/models"
	"duel-arena/store"
)

func balancePath(playerID string, currency models.Currency) string {
	return store.Join("balances", playerID, string(currency))
}

func decodeBalance(s store.Snapshot) (int64, error) {
	v, err := store.Decode[int64](s.Value)
	if err != nil {
		return 0, fmt.Errorf("%w: balance %s: %v", ErrInvalidRecord, s.Path, err)
	}
	if v == nil {
		return 0, nil
	}
	if *v < 0 {
		return 0, fmt.Errorf("%w: negative balance at %s", ErrInvalidRecord, s.Path)
	}
	return *v, nil
}

// Balance returns the player's balance; a missing balance is zero.
func (a *Arena) Balance(ctx context.Context, playerID string, currency models.Currency) (int64, error) {
	if !currency.Valid() {
		return 0, fmt.Errorf("%w: unknown currency %q", ErrInvalidBet, currency)
	}
	snap, err := a.store.Get(ctx, balancePath(playerID, currency))
	if err != nil {
		return 0, err
	}
	return decodeBalance(snap)
}

// Adjust applies balance += delta as one atomic update and returns the new balance.
// A delta that would take the balance below zero is rejected with ErrInsufficientFunds.
func (a *Arena) Adjust(ctx context.Context, playerID string, currency models.Currency, delta int64) (int64, error) {
	if !currency.Valid() {
		return 0, fmt.Errorf("%w: unknown currency %q", ErrInvalidBet, currency)
	}
	path := balancePath(playerID, currency)
	next, err := store.UpdateJSON(ctx, a.store, path, func(cur *int64) (*int64, error) {
		var bal int64
		if cur != nil {
			bal = *cur
		}
		if bal+delta < 0 {
			return nil, fmt.Errorf("%w: %s has %d %s, needs %d", ErrInsufficientFunds, playerID, bal, currency, -delta)
		}
		bal += delta
		return &bal, nil
	})
	if err != nil {
		return 0, err
	}
	return *next, nil
}

// Debit is the checked withdrawal used for escrow.
func (a *Arena) Debit(ctx context.Context, playerID string, currency models.Currency, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("%w: debit of %d", ErrInvalidBet, amount)
	}
	return a.Adjust(ctx, playerID, currency, -amount)
}

// credit pays out and logs failures, which leave funds stranded in escrow.
func (a *Arena) credit(ctx context.Context, matchID, playerID string, currency models.Currency, amount int64) error {
	bal, err := a.Adjust(ctx, playerID, currency, amount)
	if err != nil {
		log.Printf("❌ [SETTLE] match %s: crediting %d %s to %s failed: %v", matchID, amount, currency, playerID, err)
		return fmt.Errorf("credit %s: %w", playerID, err)
	}
	log.Printf("✅ [SETTLE] match %s: credited %d %s to %s (balance %d)", matchID, amount, currency, playerID, bal)
	return nil
}

// WatchBalance streams the player's balance in one currency.
func (a *Arena) WatchBalance(ctx context.Context, playerID string, currency models.Currency) (*Feed[int64], error) {
	if !currency.Valid() {
		return nil, fmt.Errorf("%w: unknown currency %q", ErrInvalidBet, currency)
	}
	return newFeed(ctx, a.store, balancePath(playerID, currency), func(s store.Snapshot) (int64, bool) {
		bal, err := decodeBalance(s)
		if err != nil {
			log.Printf("⚠️  [LEDGER] %v", err)
			return 0, false
		}
		return bal, true
	})
}
