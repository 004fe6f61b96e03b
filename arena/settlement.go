package arena

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"duel-arena/models"

	"github.com/google/uuid"
)

// Ready stakes the caller's side of the bet. The ready flag is claimed first under a
// fresh token so the stake is debited at most once, then the debit is confirmed with the
// escrowed flag. Whichever side confirms second moves the match into countdown.
//
// A claim left unconfirmed by a failed attempt of this Arena is taken over on retry;
// one left by another client only after the claim lease. A flow that lost its claim
// refunds itself when it tries to confirm.
func (a *Arena) Ready(ctx context.Context, matchID, callerID string) (*models.Match, error) {
	m, err := a.GetMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	side, err := sideOf(m, callerID)
	if err != nil {
		return nil, err
	}

	unlock, err := a.lockEscrow(ctx, matchID+"/"+side.String())
	if err != nil {
		return nil, err
	}
	defer unlock()

	// an attempt we waited for may have finished the job
	m, err = a.GetMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if m.Slot(side).Escrowed {
		return m, nil
	}
	if m.Status != models.MatchBetting {
		return nil, fmt.Errorf("%w: ready in %s", ErrInvalidState, m.Status)
	}
	bal, err := a.Balance(ctx, callerID, m.Bet.Currency)
	if err != nil {
		return nil, err
	}
	if bal < m.Bet.Amount {
		return nil, fmt.Errorf("%w: %s has %d %s, bet is %d", ErrInsufficientFunds, callerID, bal, m.Bet.Currency, m.Bet.Amount)
	}

	token := a.claimPrefix + uuid.NewString()
	now := a.nowMillis()
	var claimed bool
	var stake models.Bet
	m, err = a.updateMatch(ctx, matchID, func(m *models.Match) error {
		claimed = false
		slot := m.Slot(side)
		if slot.Escrowed {
			return errNoop
		}
		if m.Status != models.MatchBetting {
			return fmt.Errorf("%w: ready in %s", ErrInvalidState, m.Status)
		}
		if slot.Ready && !a.reclaimable(slot, now) {
			return fmt.Errorf("%w: %s side of match %s", ErrEscrowPending, side, matchID)
		}
		slot.Ready = true
		slot.Claim, slot.ClaimedAt = token, now
		claimed, stake = true, m.Bet
		return nil
	})
	if err != nil || !claimed {
		return m, err
	}

	if _, err := a.Debit(ctx, callerID, stake.Currency, stake.Amount); err != nil {
		a.releaseClaim(ctx, matchID, side, token)
		return nil, err
	}
	log.Printf("[SETTLE] %s escrowed %d %s for match %s", callerID, stake.Amount, stake.Currency, matchID)

	var confirmed bool
	m, err = a.updateMatch(ctx, matchID, func(m *models.Match) error {
		confirmed = false
		slot := m.Slot(side)
		if m.Status != models.MatchBetting || slot.Claim != token || slot.Escrowed || m.Bet != stake {
			// the claim was cleared by a bet change or taken over
			return errNoop
		}
		slot.Escrowed = true
		confirmed = true
		return nil
	})
	if err != nil && !errors.Is(err, ErrMatchGone) {
		// the write may have landed before the error
		if cur, getErr := a.GetMatch(ctx, matchID); getErr == nil && cur.Slot(side).Escrowed && cur.Slot(side).Claim == token {
			m, err, confirmed = cur, nil, true
		}
	}
	if err != nil || !confirmed {
		if refundErr := a.credit(ctx, matchID, callerID, stake.Currency, stake.Amount); refundErr != nil {
			err = errors.Join(err, refundErr)
		}
		return m, err
	}

	if m.Slot(side.Other()).Escrowed {
		return a.enterCountdown(ctx, matchID)
	}
	return m, nil
}

// reclaimable reports whether an unconfirmed ready claim may be taken over. Claims of
// this Arena are never in flight here because lockEscrow serializes them.
func (a *Arena) reclaimable(slot *models.PlayerSlot, now int64) bool {
	if strings.HasPrefix(slot.Claim, a.claimPrefix) {
		return true
	}
	return now-slot.ClaimedAt >= a.claimLease.Milliseconds()
}

// lockEscrow serializes Ready attempts of this Arena for one side of a match.
func (a *Arena) lockEscrow(ctx context.Context, key string) (func(), error) {
	for {
		a.mu.Lock()
		busy, ok := a.escrows[key]
		if !ok {
			done := make(chan struct{})
			a.escrows[key] = done
			a.mu.Unlock()
			return func() {
				a.mu.Lock()
				delete(a.escrows, key)
				a.mu.Unlock()
				close(done)
			}, nil
		}
		a.mu.Unlock()
		select {
		case <-busy:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// releaseClaim undoes a ready claim whose debit failed. If the store is down the claim
// stays behind and the next Ready takes it over.
func (a *Arena) releaseClaim(ctx context.Context, matchID string, side models.Side, token string) {
	_, err := a.updateMatch(ctx, matchID, func(m *models.Match) error {
		slot := m.Slot(side)
		if m.Status != models.MatchBetting || slot.Claim != token || slot.Escrowed {
			return errNoop
		}
		slot.Ready = false
		slot.Claim, slot.ClaimedAt = "", 0
		return nil
	})
	if err != nil && !errors.Is(err, ErrMatchGone) {
		log.Printf("⚠️  [SETTLE] releasing ready claim on match %s: %v", matchID, err)
	}
}

// enterCountdown is idempotent: it only acts on a betting match whose stakes are both in.
func (a *Arena) enterCountdown(ctx context.Context, matchID string) (*models.Match, error) {
	return a.updateMatch(ctx, matchID, func(m *models.Match) error {
		if m.Status != models.MatchBetting || !m.Player1.Escrowed || !m.Player2.Escrowed {
			return errNoop
		}
		m.Status = models.MatchCountdown
		log.Printf("[MATCH] match %s counting down", matchID)
		return nil
	})
}

// MarkPlaying ends the countdown. Only player1 writes it; repeats are no-ops.
func (a *Arena) MarkPlaying(ctx context.Context, matchID, callerID string) (*models.Match, error) {
	return a.updateMatch(ctx, matchID, func(m *models.Match) error {
		if err := requireSide(m, callerID, models.Player1); err != nil {
			return err
		}
		switch m.Status {
		case models.MatchCountdown:
			m.Status = models.MatchPlaying
			return nil
		case models.MatchPlaying, models.MatchFinished:
			return errNoop
		}
		return fmt.Errorf("%w: cannot start from %s", ErrInvalidState, m.Status)
	})
}

// SubmitScore records the caller's final score. The side that finishes second settles.
func (a *Arena) SubmitScore(ctx context.Context, matchID, callerID string, score int) (*models.Match, error) {
	if score < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidScore, score)
	}
	now := a.nowMillis()
	m, err := a.updateMatch(ctx, matchID, func(m *models.Match) error {
		side, err := sideOf(m, callerID)
		if err != nil {
			return err
		}
		slot := m.Slot(side)
		if slot.Finished || m.Status == models.MatchFinished {
			return errNoop
		}
		if m.Status != models.MatchPlaying {
			return fmt.Errorf("%w: score in %s", ErrInvalidState, m.Status)
		}
		slot.Score = score
		slot.Finished = true
		slot.FinishedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	if m.Status == models.MatchPlaying && m.Player1.Finished && m.Player2.Finished {
		return a.Settle(ctx, matchID)
	}
	return m, nil
}

// DetermineWinner compares final scores; a tie returns models.DrawWinner.
func DetermineWinner(m *models.Match) string {
	switch {
	case m.Player1.Score > m.Player2.Score:
		return m.Player1.PlayerID
	case m.Player2.Score > m.Player1.Score:
		return m.Player2.PlayerID
	}
	return models.DrawWinner
}

// Settle finishes a match whose sides have both submitted. Claiming the transition into
// finished is atomic, so the pot is paid exactly once however many clients try.
func (a *Arena) Settle(ctx context.Context, matchID string) (*models.Match, error) {
	var claimed bool
	m, err := a.updateMatch(ctx, matchID, func(m *models.Match) error {
		claimed = false
		if m.Status == models.MatchFinished {
			return errNoop
		}
		if m.Status != models.MatchPlaying || !m.Player1.Finished || !m.Player2.Finished {
			return fmt.Errorf("%w: settle in %s", ErrInvalidState, m.Status)
		}
		m.WinnerID = DetermineWinner(m)
		m.Status = models.MatchFinished
		claimed = true
		return nil
	})
	if err != nil || !claimed {
		return m, err
	}
	return m, a.payout(ctx, m)
}

// Forfeit settles a match abandoned by one side: the side that finished wins if the
// other has not finished within grace of it. claimed is true only for the call that
// moved the match into finished and paid it out.
func (a *Arena) Forfeit(ctx context.Context, matchID string, grace time.Duration) (m *models.Match, claimed bool, err error) {
	now := a.nowMillis()
	m, err = a.updateMatch(ctx, matchID, func(m *models.Match) error {
		claimed = false
		if m.Status != models.MatchPlaying || m.Player1.Finished == m.Player2.Finished {
			return errNoop
		}
		done := m.Slot(models.Player1)
		if !done.Finished {
			done = m.Slot(models.Player2)
		}
		if now-done.FinishedAt < grace.Milliseconds() {
			return errNoop
		}
		m.WinnerID = done.PlayerID
		m.Status = models.MatchFinished
		claimed = true
		return nil
	})
	if err != nil || !claimed {
		return m, false, err
	}
	log.Printf("[SETTLE] match %s forfeited to %s", matchID, m.WinnerID)
	return m, true, a.payout(ctx, m)
}

func (a *Arena) payout(ctx context.Context, m *models.Match) error {
	var errs []error
	if m.WinnerID == models.DrawWinner {
		for _, p := range []string{m.Player1.PlayerID, m.Player2.PlayerID} {
			if err := a.credit(ctx, m.ID, p, m.Bet.Currency, m.Bet.Amount); err != nil {
				errs = append(errs, err)
			}
		}
	} else if err := a.credit(ctx, m.ID, m.WinnerID, m.Bet.Currency, m.Pot()); err != nil {
		errs = append(errs, err)
	}
	if a.progress {
		if err := a.RecordResult(ctx, m); err != nil {
			log.Printf("⚠️  [SETTLE] progress for match %s: %v", m.ID, err)
		}
	}
	log.Printf("✅ [SETTLE] match %s finished, winner %s", m.ID, m.WinnerID)
	return errors.Join(errs...)
}
