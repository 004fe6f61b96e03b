package arena

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Countdown runs at most one local timer per match, no matter how many times the
// countdown status is observed.
type Countdown struct {
	clock clockwork.Clock
	ticks int
	tick  time.Duration

	mu      sync.Mutex
	started map[string]struct{}
}

func NewCountdown(clock clockwork.Clock, ticks int, tick time.Duration) *Countdown {
	return &Countdown{
		clock:   clock,
		ticks:   ticks,
		tick:    tick,
		started: make(map[string]struct{}),
	}
}

// Start launches the timer for matchID and reports whether it did. onTick receives the
// seconds left before each tick; onZero runs once when the timer reaches zero and is
// skipped if ctx ends first.
func (c *Countdown) Start(ctx context.Context, matchID string, onTick func(remaining int), onZero func()) bool {
	c.mu.Lock()
	if _, ok := c.started[matchID]; ok {
		c.mu.Unlock()
		return false
	}
	c.started[matchID] = struct{}{}
	c.mu.Unlock()

	go func() {
		for remaining := c.ticks; remaining > 0; remaining-- {
			if onTick != nil {
				onTick(remaining)
			}
			select {
			case <-ctx.Done():
				return
			case <-c.clock.After(c.tick):
			}
		}
		if onZero != nil {
			onZero()
		}
	}()
	return true
}

// Forget drops the record of matchID once the match is over.
func (c *Countdown) Forget(matchID string) {
	c.mu.Lock()
	delete(c.started, matchID)
	c.mu.Unlock()
}
