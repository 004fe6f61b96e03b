package arena

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"duel-arena/models"
)

// Client is one player's session: it knows who it is, keeps the single-outbound-invite
// guard and owns the countdown timers for its matches.
type Client struct {
	*Arena
	ID        Identity
	Countdown *Countdown

	mu       sync.Mutex
	outbound string
}

func NewClient(a *Arena, id Identity) *Client {
	return &Client{
		Arena:     a,
		ID:        id,
		Countdown: NewCountdown(a.clock, a.countdownTicks, a.countdownTick),
	}
}

// Invite refuses while an earlier invitation from this client is still unresolved.
func (c *Client) Invite(ctx context.Context, to Identity) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.outbound != "" {
		m, err := c.GetMatch(ctx, c.outbound)
		switch {
		case errors.Is(err, ErrMatchGone):
		case err != nil:
			return "", err
		case m.Status != models.MatchFinished:
			return "", fmt.Errorf("%w: match %s", ErrInvitePending, c.outbound)
		}
		c.outbound = ""
	}
	id, err := c.Arena.Invite(ctx, c.ID, to)
	if err != nil {
		return "", err
	}
	c.outbound = id
	return id, nil
}

// Cancel withdraws the client's pending invitation.
func (c *Client) Cancel(ctx context.Context, matchID string) error {
	if err := c.Arena.Cancel(ctx, matchID, c.ID.PlayerID); err != nil {
		return err
	}
	c.mu.Lock()
	if c.outbound == matchID {
		c.outbound = ""
	}
	c.mu.Unlock()
	return nil
}

func (c *Client) Announce(ctx context.Context) error { return c.Arena.Announce(ctx, c.ID) }

func (c *Client) Accept(ctx context.Context, matchID string) (*models.Match, error) {
	return c.Arena.Accept(ctx, matchID, c.ID.PlayerID)
}

func (c *Client) Decline(ctx context.Context, matchID string) error {
	return c.Arena.Decline(ctx, matchID, c.ID.PlayerID)
}

func (c *Client) SetBet(ctx context.Context, matchID string, bet models.Bet) (*models.Match, error) {
	return c.Arena.SetBet(ctx, matchID, c.ID.PlayerID, bet)
}

func (c *Client) Ready(ctx context.Context, matchID string) (*models.Match, error) {
	return c.Arena.Ready(ctx, matchID, c.ID.PlayerID)
}

// Play follows a match from betting to the end. It starts the countdown when the match
// enters it, runs engine once play begins, submits the score and returns the finished
// match. Readiness stays the caller's decision. onEvent, if set, sees every observation.
func (c *Client) Play(ctx context.Context, matchID string, engine ScoringEngine, onEvent func(MatchEvent)) (*models.Match, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	feed, err := c.WatchMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	defer feed.Close()
	defer c.Countdown.Forget(matchID)

	scores := make(chan int, 1)
	var engineStarted, submitted bool
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case score := <-scores:
			submitted = true
			if _, err := c.SubmitScore(ctx, matchID, c.ID.PlayerID, score); err != nil {
				return nil, fmt.Errorf("submit score: %w", err)
			}

		case ev, ok := <-feed.C():
			if !ok {
				return nil, ErrMatchGone
			}
			if onEvent != nil {
				onEvent(ev)
			}
			if ev.Gone {
				return nil, ErrMatchGone
			}
			m := ev.Match
			side, err := sideOf(m, c.ID.PlayerID)
			if err != nil {
				return nil, err
			}

			switch m.Status {
			case models.MatchCountdown:
				c.Countdown.Start(ctx, matchID, nil, func() {
					if side != models.Player1 {
						return
					}
					if _, err := c.MarkPlaying(ctx, matchID, c.ID.PlayerID); err != nil && ctx.Err() == nil {
						log.Printf("⚠️  [MATCH] starting match %s: %v", matchID, err)
					}
				})

			case models.MatchPlaying:
				if !engineStarted && !m.Slot(side).Finished {
					engineStarted = true
					go engine.Run(ctx, func(score int) {
						select {
						case scores <- score:
						default:
						}
					})
				}
				// a settler that dropped out leaves both sides finished in playing
				if submitted && m.Player1.Finished && m.Player2.Finished {
					if _, err := c.Settle(ctx, matchID); err != nil {
						return nil, err
					}
				}

			case models.MatchFinished:
				return m, nil
			}
		}
	}
}
