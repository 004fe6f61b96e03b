package models

import (
	"errors"
	"fmt"
)

// MatchStatus is the lifecycle stage of a duel. Stages only move forward.
type MatchStatus string

const (
	MatchPending   MatchStatus = "pending"
	MatchBetting   MatchStatus = "betting"
	MatchAccepted  MatchStatus = "accepted" // legacy alias of betting, never written
	MatchCountdown MatchStatus = "countdown"
	MatchPlaying   MatchStatus = "playing"
	MatchFinished  MatchStatus = "finished"
)

// Stage orders statuses for forward-only checks. Unknown statuses return 0.
func (s MatchStatus) Stage() int {
	switch s {
	case MatchPending:
		return 1
	case MatchBetting, MatchAccepted:
		return 2
	case MatchCountdown:
		return 3
	case MatchPlaying:
		return 4
	case MatchFinished:
		return 5
	}
	return 0
}

func (s MatchStatus) Valid() bool { return s.Stage() > 0 }

// Normalize folds the accepted alias into betting.
func (s MatchStatus) Normalize() MatchStatus {
	if s == MatchAccepted {
		return MatchBetting
	}
	return s
}

type Currency string

const (
	CurrencyCoins    Currency = "coins"
	CurrencyDiamonds Currency = "diamonds"
)

func (c Currency) Valid() bool {
	return c == CurrencyCoins || c == CurrencyDiamonds
}

// Side identifies a seat in a match.
type Side int

const (
	Player1 Side = 1
	Player2 Side = 2
)

func (s Side) Other() Side {
	if s == Player1 {
		return Player2
	}
	return Player1
}

func (s Side) String() string {
	if s == Player1 {
		return "player1"
	}
	return "player2"
}

// DrawWinner is stored in WinnerID when both scores tie.
const DrawWinner = "draw"

// DefaultBet is what every new invitation starts with.
var DefaultBet = Bet{Amount: 20, Currency: CurrencyCoins}

type Bet struct {
	Amount   int64    `json:"amount"`
	Currency Currency `json:"currency"`
}

func (b Bet) Validate() error {
	if b.Amount <= 0 {
		return fmt.Errorf("bet amount must be positive, got %d", b.Amount)
	}
	if !b.Currency.Valid() {
		return fmt.Errorf("unknown currency %q", b.Currency)
	}
	return nil
}

// PlayerSlot is one side of a match. Ready claims the escrow under the Claim token,
// Escrowed confirms the stake was debited; a bet change clears all three on either side.
type PlayerSlot struct {
	PlayerID    string `json:"playerId"`
	DisplayName string `json:"displayName"`
	Ready       bool   `json:"ready"`
	Claim       string `json:"claim,omitempty"`
	ClaimedAt   int64  `json:"claimedAt,omitempty"` // unix ms
	Escrowed    bool   `json:"escrowed"`
	Score       int    `json:"score"`
	Finished    bool   `json:"finished"`
	FinishedAt  int64  `json:"finishedAt,omitempty"` // unix ms
}

// Match is the record stored under matches/{id}.
type Match struct {
	ID        string      `json:"matchId,omitempty"`
	Player1   PlayerSlot  `json:"player1"`
	Player2   PlayerSlot  `json:"player2"`
	Status    MatchStatus `json:"status"`
	Bet       Bet         `json:"bet"`
	StartTime int64       `json:"startTime"` // unix ms
	WinnerID  string      `json:"winnerId,omitempty"`
}

func (m *Match) Slot(side Side) *PlayerSlot {
	if side == Player1 {
		return &m.Player1
	}
	return &m.Player2
}

// SideOf reports which seat playerID occupies.
func (m *Match) SideOf(playerID string) (Side, bool) {
	switch playerID {
	case m.Player1.PlayerID:
		return Player1, true
	case m.Player2.PlayerID:
		return Player2, true
	}
	return 0, false
}

// Pot is the total escrowed once both sides are ready.
func (m *Match) Pot() int64 { return 2 * m.Bet.Amount }

// Validate rejects records that could not have been produced by a well-behaved client.
func (m *Match) Validate() error {
	if m.Player1.PlayerID == "" || m.Player2.PlayerID == "" {
		return errors.New("match is missing a participant")
	}
	if m.Player1.PlayerID == m.Player2.PlayerID {
		return errors.New("match participants must differ")
	}
	if !m.Status.Valid() {
		return fmt.Errorf("unknown match status %q", m.Status)
	}
	if err := m.Bet.Validate(); err != nil {
		return err
	}
	if m.Player1.Score < 0 || m.Player2.Score < 0 {
		return errors.New("negative score")
	}
	if m.WinnerID != "" && m.WinnerID != DrawWinner {
		if _, ok := m.SideOf(m.WinnerID); !ok {
			return fmt.Errorf("winner %q is not a participant", m.WinnerID)
		}
	}
	return nil
}
