package arena

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"

	"duel-arena/models"
	"duel-arena/store"
)

// MatchEvent is one observation of a match. Gone means the record is absent or no
// longer usable and the client should go back to the lobby.
type MatchEvent struct {
	Match *models.Match
	Gone  bool
}

func decodeMatch(matchID string, raw json.RawMessage) (*models.Match, error) {
	m, err := store.Decode[models.Match](raw)
	if err != nil {
		return nil, fmt.Errorf("%w: match %s: %v", ErrInvalidRecord, matchID, err)
	}
	if m == nil {
		return nil, nil
	}
	m.ID = matchID
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%w: match %s: %v", ErrInvalidRecord, matchID, err)
	}
	m.Status = m.Status.Normalize()
	return m, nil
}

func encodeMatch(m *models.Match) (json.RawMessage, error) {
	out := *m
	out.ID = ""
	return json.Marshal(&out)
}

// updateMatch runs fn inside an atomic update of the match. fn may return errNoop to
// leave the record untouched or errDelete to remove it. The returned match is the
// committed state, or nil after a delete.
func (a *Arena) updateMatch(ctx context.Context, matchID string, fn func(m *models.Match) error) (*models.Match, error) {
	var seen *models.Match
	raw, err := a.store.Update(ctx, matchPath(matchID), func(cur json.RawMessage) (json.RawMessage, error) {
		seen = nil
		m, err := decodeMatch(matchID, cur)
		if err != nil {
			return nil, err
		}
		if m == nil {
			return nil, ErrMatchGone
		}
		snapshot := *m
		seen = &snapshot
		switch err := fn(m); {
		case errors.Is(err, errDelete):
			return nil, nil
		case err != nil:
			return nil, err
		}
		return encodeMatch(m)
	})
	if errors.Is(err, errNoop) {
		return seen, nil
	}
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	return decodeMatch(matchID, raw)
}

// GetMatch returns the match or ErrMatchGone.
func (a *Arena) GetMatch(ctx context.Context, matchID string) (*models.Match, error) {
	snap, err := a.store.Get(ctx, matchPath(matchID))
	if err != nil {
		return nil, err
	}
	m, err := decodeMatch(matchID, snap.Value)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, ErrMatchGone
	}
	return m, nil
}

func sideOf(m *models.Match, callerID string) (models.Side, error) {
	side, ok := m.SideOf(callerID)
	if !ok {
		return 0, fmt.Errorf("%w: %s in match %s", ErrNotParticipant, callerID, m.ID)
	}
	return side, nil
}

func requireSide(m *models.Match, callerID string, want models.Side) error {
	side, err := sideOf(m, callerID)
	if err != nil {
		return err
	}
	if side != want {
		return fmt.Errorf("%w: only %s may do this", ErrWrongRole, want)
	}
	return nil
}

// Invite creates a pending match with the default bet and returns its store-assigned id.
func (a *Arena) Invite(ctx context.Context, from, to Identity) (string, error) {
	if from.PlayerID == "" || to.PlayerID == "" {
		return "", fmt.Errorf("%w: invite needs two players", ErrNotParticipant)
	}
	if from.PlayerID == to.PlayerID {
		return "", fmt.Errorf("%w: cannot invite yourself", ErrNotParticipant)
	}
	m := &models.Match{
		Player1:   models.PlayerSlot{PlayerID: from.PlayerID, DisplayName: NormalizeDisplayName(from.DisplayName)},
		Player2:   models.PlayerSlot{PlayerID: to.PlayerID, DisplayName: NormalizeDisplayName(to.DisplayName)},
		Status:    models.MatchPending,
		Bet:       models.DefaultBet,
		StartTime: a.nowMillis(),
	}
	raw, err := encodeMatch(m)
	if err != nil {
		return "", err
	}
	id, err := a.store.Push(ctx, "matches", raw)
	if err != nil {
		return "", fmt.Errorf("invite %s: %w", to.PlayerID, err)
	}
	log.Printf("[MATCH] %s invited %s (match %s)", from.PlayerID, to.PlayerID, id)
	return id, nil
}

// IncomingInvites lists pending matches addressed to selfID, oldest first.
func IncomingInvites(snap store.Snapshot, selfID string) []models.Match {
	var out []models.Match
	for id, raw := range snap.Children {
		m, err := decodeMatch(id, raw)
		if err != nil {
			log.Printf("⚠️  [MATCH] %v", err)
			continue
		}
		if m == nil || m.Status != models.MatchPending || m.Player2.PlayerID != selfID {
			continue
		}
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTime != out[j].StartTime {
			return out[i].StartTime < out[j].StartTime
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// WatchIncoming streams every pending invitation addressed to selfID.
func (a *Arena) WatchIncoming(ctx context.Context, selfID string) (*Feed[[]models.Match], error) {
	return newFeed(ctx, a.store, "matches", func(s store.Snapshot) ([]models.Match, bool) {
		return IncomingInvites(s, selfID), true
	})
}

// Accept moves a pending invitation into betting. Only the invitee may accept.
func (a *Arena) Accept(ctx context.Context, matchID, callerID string) (*models.Match, error) {
	m, err := a.updateMatch(ctx, matchID, func(m *models.Match) error {
		if err := requireSide(m, callerID, models.Player2); err != nil {
			return err
		}
		switch m.Status {
		case models.MatchPending:
			m.Status = models.MatchBetting
			return nil
		case models.MatchBetting:
			return errNoop
		}
		return fmt.Errorf("%w: accept in %s", ErrInvalidState, m.Status)
	})
	if err != nil {
		return nil, err
	}
	log.Printf("[MATCH] %s accepted match %s", callerID, matchID)
	return m, nil
}

// Decline deletes a pending invitation. Only the invitee may decline.
func (a *Arena) Decline(ctx context.Context, matchID, callerID string) error {
	return a.withdraw(ctx, matchID, callerID, models.Player2)
}

// Cancel deletes the caller's own pending invitation.
func (a *Arena) Cancel(ctx context.Context, matchID, callerID string) error {
	return a.withdraw(ctx, matchID, callerID, models.Player1)
}

func (a *Arena) withdraw(ctx context.Context, matchID, callerID string, side models.Side) error {
	_, err := a.updateMatch(ctx, matchID, func(m *models.Match) error {
		if err := requireSide(m, callerID, side); err != nil {
			return err
		}
		if m.Status != models.MatchPending {
			return fmt.Errorf("%w: invitation already %s", ErrInvalidState, m.Status)
		}
		return errDelete
	})
	if errors.Is(err, ErrMatchGone) {
		return nil
	}
	return err
}

// SetBet changes the stake. Only player1 may do it, only while betting. Both ready
// flags are cleared; any stake already escrowed under the old bet is refunded.
func (a *Arena) SetBet(ctx context.Context, matchID, callerID string, bet models.Bet) (*models.Match, error) {
	if err := bet.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBet, err)
	}

	type refund struct {
		playerID string
		bet      models.Bet
	}
	var refunds []refund
	m, err := a.updateMatch(ctx, matchID, func(m *models.Match) error {
		refunds = refunds[:0]
		if err := requireSide(m, callerID, models.Player1); err != nil {
			return err
		}
		if m.Status != models.MatchBetting {
			return fmt.Errorf("%w: bet is locked in %s", ErrInvalidState, m.Status)
		}
		for _, side := range []models.Side{models.Player1, models.Player2} {
			slot := m.Slot(side)
			if slot.Escrowed {
				refunds = append(refunds, refund{slot.PlayerID, m.Bet})
			}
			slot.Ready = false
			slot.Claim, slot.ClaimedAt = "", 0
			slot.Escrowed = false
		}
		m.Bet = bet
		return nil
	})
	if err != nil {
		return nil, err
	}

	var errs []error
	for _, r := range refunds {
		if err := a.credit(ctx, matchID, r.playerID, r.bet.Currency, r.bet.Amount); err != nil {
			errs = append(errs, err)
		}
	}
	log.Printf("[MATCH] match %s bet set to %d %s", matchID, bet.Amount, bet.Currency)
	return m, errors.Join(errs...)
}

// WatchMatch streams the match. A missing or malformed record yields a Gone event.
func (a *Arena) WatchMatch(ctx context.Context, matchID string) (*Feed[MatchEvent], error) {
	return newFeed(ctx, a.store, matchPath(matchID), func(s store.Snapshot) (MatchEvent, bool) {
		m, err := decodeMatch(matchID, s.Value)
		if err != nil {
			log.Printf("⚠️  [MATCH] %v", err)
			return MatchEvent{Gone: true}, true
		}
		if m == nil {
			return MatchEvent{Gone: true}, true
		}
		return MatchEvent{Match: m}, true
	})
}

// LeaveMatch removes a finished match record once a player returns to the lobby.
func (a *Arena) LeaveMatch(ctx context.Context, matchID, callerID string) error {
	_, err := a.updateMatch(ctx, matchID, func(m *models.Match) error {
		if _, err := sideOf(m, callerID); err != nil {
			return err
		}
		if m.Status != models.MatchFinished {
			return fmt.Errorf("%w: match is %s", ErrInvalidState, m.Status)
		}
		return errDelete
	})
	if errors.Is(err, ErrMatchGone) {
		return nil
	}
	return err
}
