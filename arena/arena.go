// Package arena is the client side of staked 1v1 duels: lobby presence, invitations,
// escrow, countdown and settlement, all coordinated through a shared store.
package arena

import (
	"context"
	"sync"
	"time"

	"duel-arena/store"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

const (
	DefaultCountdownTicks = 10
	DefaultCountdownTick  = time.Second
	DefaultPresenceTTL    = 300 * time.Second

	// a ready claim from another client that was never confirmed is taken over after this
	DefaultClaimLease = 30 * time.Second
)

// Identity is who the local player is. Issuing it is someone else's job.
type Identity struct {
	PlayerID    string `json:"playerId"`
	DisplayName string `json:"displayName"`
}

// ScoringEngine plays one round and reports a non-negative score exactly once.
type ScoringEngine interface {
	Run(ctx context.Context, onComplete func(score int))
}

type ScoringEngineFunc func(ctx context.Context, onComplete func(score int))

func (f ScoringEngineFunc) Run(ctx context.Context, onComplete func(score int)) { f(ctx, onComplete) }

// Arena holds everything the operations share. It carries no per-player state and is
// safe for concurrent use.
type Arena struct {
	store          store.Store
	clock          clockwork.Clock
	countdownTicks int
	countdownTick  time.Duration
	presenceTTL    time.Duration
	claimLease     time.Duration
	progress       bool
	xp             XPWeights

	// claimPrefix marks escrow claims written by this Arena
	claimPrefix string
	mu          sync.Mutex
	escrows     map[string]chan struct{}
}

type Option func(*Arena)

func WithClock(c clockwork.Clock) Option {
	return func(a *Arena) { a.clock = c }
}

func WithCountdown(ticks int, tick time.Duration) Option {
	return func(a *Arena) {
		a.countdownTicks = ticks
		a.countdownTick = tick
	}
}

func WithPresenceTTL(ttl time.Duration) Option {
	return func(a *Arena) { a.presenceTTL = ttl }
}

func WithClaimLease(lease time.Duration) Option {
	return func(a *Arena) { a.claimLease = lease }
}

// WithProgress toggles recording XP and win/loss counters after settlement.
func WithProgress(enabled bool) Option {
	return func(a *Arena) { a.progress = enabled }
}

func New(st store.Store, opts ...Option) *Arena {
	a := &Arena{
		store:          st,
		clock:          clockwork.NewRealClock(),
		countdownTicks: DefaultCountdownTicks,
		countdownTick:  DefaultCountdownTick,
		presenceTTL:    DefaultPresenceTTL,
		claimLease:     DefaultClaimLease,
		progress:       true,
		xp:             DefaultXPWeights,
		claimPrefix:    uuid.NewString() + ":",
		escrows:        make(map[string]chan struct{}),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

func (a *Arena) Store() store.Store     { return a.store }
func (a *Arena) Clock() clockwork.Clock { return a.clock }

func (a *Arena) PresenceTTL() time.Duration { return a.presenceTTL }

func (a *Arena) nowMillis() int64 { return a.clock.Now().UnixMilli() }

func presencePath(playerID string) string { return store.Join("presence", playerID) }
func matchPath(matchID string) string     { return store.Join("matches", matchID) }
func progressPath(playerID string) string { return store.Join("progress", playerID) }
