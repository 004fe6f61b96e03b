// Command duelbot is a headless player for smoke-testing a duel server. A challenger
// invites the first idle player it sees; a defender accepts the first invitation it
// receives. Both ready up, play one round with a random score and report the result.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"duel-arena/arena"
	"duel-arena/models"
	"duel-arena/store"
	"duel-arena/utils"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

type botConfig struct {
	mode     string
	bet      models.Bet
	grant    int64
	maxScore int
}

func randomEngine(maxScore int) arena.ScoringEngine {
	return arena.ScoringEngineFunc(func(ctx context.Context, onComplete func(score int)) {
		select {
		case <-ctx.Done():
		case <-time.After(time.Duration(200+rand.Intn(1300)) * time.Millisecond):
			onComplete(rand.Intn(maxScore + 1))
		}
	})
}

// readyUp readies the bot whenever the match is in betting without it, which also
// covers a bet change resetting both sides.
func readyUp(ctx context.Context, c *arena.Client, cfg botConfig) func(arena.MatchEvent) {
	betPlaced := false
	return func(ev arena.MatchEvent) {
		if ev.Gone || ev.Match.Status != models.MatchBetting {
			return
		}
		m := ev.Match
		if cfg.bet.Amount > 0 && !betPlaced && m.Player1.PlayerID == c.ID.PlayerID {
			betPlaced = true
			if m.Bet != cfg.bet {
				if _, err := c.SetBet(ctx, m.ID, cfg.bet); err != nil {
					log.Printf("⚠️  [BOT] set bet: %v", err)
				}
				// the change comes back as its own event
				return
			}
		}
		side, ok := m.SideOf(c.ID.PlayerID)
		if !ok || m.Slot(side).Escrowed {
			return
		}
		if _, err := c.Ready(ctx, m.ID); err != nil {
			log.Printf("⚠️  [BOT] ready: %v", err)
		}
	}
}

func challenge(ctx context.Context, c *arena.Client) (string, error) {
	lobby, err := c.ListAvailable(ctx, c.ID.PlayerID)
	if err != nil {
		return "", err
	}
	defer lobby.Close()

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case players, ok := <-lobby.C():
			if !ok {
				return "", errors.New("lobby closed")
			}
			i := slices.IndexFunc(players, func(p models.Presence) bool {
				return p.Availability == models.AvailabilityIdle
			})
			if i < 0 {
				continue
			}
			target := players[i]
			log.Printf("[BOT] challenging %s (%s)", target.DisplayName, target.PlayerID)
			return c.Invite(ctx, arena.Identity{PlayerID: target.PlayerID, DisplayName: target.DisplayName})
		}
	}
}

func defend(ctx context.Context, c *arena.Client) (string, error) {
	incoming, err := c.WatchIncoming(ctx, c.ID.PlayerID)
	if err != nil {
		return "", err
	}
	defer incoming.Close()

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case invites, ok := <-incoming.C():
			if !ok {
				return "", errors.New("invitations closed")
			}
			for _, inv := range invites {
				if _, err := c.Accept(ctx, inv.ID); err != nil {
					log.Printf("⚠️  [BOT] accept %s: %v", inv.ID, err)
					continue
				}
				log.Printf("[BOT] accepted challenge from %s", inv.Player1.DisplayName)
				return inv.ID, nil
			}
		}
	}
}

func duel(ctx context.Context, c *arena.Client, cfg botConfig) error {
	if cfg.grant > 0 {
		bal, err := c.Adjust(ctx, c.ID.PlayerID, models.CurrencyCoins, cfg.grant)
		if err != nil {
			return fmt.Errorf("grant coins: %w", err)
		}
		log.Printf("[BOT] granted %d coins, balance %d", cfg.grant, bal)
	}

	var matchID string
	var err error
	switch cfg.mode {
	case "challenger":
		matchID, err = challenge(ctx, c)
	case "defender":
		matchID, err = defend(ctx, c)
	default:
		return fmt.Errorf("unknown BOT_MODE %q", cfg.mode)
	}
	if err != nil {
		return err
	}

	if err := c.SetAvailability(ctx, c.ID.PlayerID, models.AvailabilityBusy); err != nil {
		log.Printf("⚠️  [BOT] set busy: %v", err)
	}
	m, err := c.Play(ctx, matchID, randomEngine(cfg.maxScore), readyUp(ctx, c, cfg))
	if err != nil {
		return fmt.Errorf("match %s: %w", matchID, err)
	}

	switch m.WinnerID {
	case models.DrawWinner:
		log.Printf("🤝 [BOT] match %s drawn %d:%d", m.ID, m.Player1.Score, m.Player2.Score)
	case c.ID.PlayerID:
		log.Printf("🏆 [BOT] won match %s %d:%d, pot %d %s", m.ID, m.Player1.Score, m.Player2.Score, m.Pot(), m.Bet.Currency)
	default:
		log.Printf("💀 [BOT] lost match %s %d:%d", m.ID, m.Player1.Score, m.Player2.Score)
	}
	if bal, err := c.Balance(ctx, c.ID.PlayerID, m.Bet.Currency); err == nil {
		log.Printf("[BOT] %s balance now %d", m.Bet.Currency, bal)
	}
	return c.LeaveMatch(ctx, m.ID, c.ID.PlayerID)
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	playerID := os.Getenv("PLAYER_ID")
	if playerID == "" {
		log.Fatal("PLAYER_ID environment variable not set")
	}
	id := arena.Identity{
		PlayerID:    playerID,
		DisplayName: utils.GetEnv("DISPLAY_NAME", playerID),
	}
	cfg := botConfig{
		mode:     utils.GetEnv("BOT_MODE", "defender"),
		grant:    int64(utils.GetEnvInt("BOT_GRANT", 0)),
		maxScore: utils.GetEnvInt("BOT_MAX_SCORE", 20),
		bet: models.Bet{
			Amount:   int64(utils.GetEnvInt("BOT_BET", 0)),
			Currency: models.Currency(utils.GetEnv("BOT_CURRENCY", string(models.CurrencyCoins))),
		},
	}
	if cfg.bet.Amount > 0 {
		if err := cfg.bet.Validate(); err != nil {
			log.Fatalf("invalid BOT_BET: %v", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	remote, err := store.Dial(ctx, store.RemoteConfig{
		BaseURL:   utils.GetEnv("STORE_URL", "http://localhost:5200"),
		Token:     os.Getenv("STORE_SERVICE_TOKEN"),
		PlayerID:  id.PlayerID,
		Heartbeat: utils.GetEnvDuration("SESSION_HEARTBEAT", 15*time.Second),
	})
	if err != nil {
		log.Fatal("failed to connect to store:", err)
	}
	defer remote.Close()

	a := arena.New(remote,
		arena.WithCountdown(utils.GetEnvInt("COUNTDOWN_TICKS", arena.DefaultCountdownTicks),
			utils.GetEnvDuration("COUNTDOWN_TICK", arena.DefaultCountdownTick)),
		arena.WithPresenceTTL(utils.GetEnvDuration("PRESENCE_TTL", arena.DefaultPresenceTTL)),
	)
	client := arena.NewClient(a, id)
	if err := client.Announce(ctx); err != nil {
		log.Fatal("failed to join lobby:", err)
	}
	log.Printf("✅ %s joined the lobby as %s", id.DisplayName, cfg.mode)

	g, gctx := errgroup.WithContext(ctx)
	gctx, done := context.WithCancel(gctx)
	g.Go(func() error {
		a.RunHeartbeat(gctx, id, utils.GetEnvDuration("PRESENCE_HEARTBEAT", time.Minute))
		return nil
	})
	g.Go(func() error {
		defer done()
		return duel(gctx, client, cfg)
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("❌ [BOT] %v", err)
	}

	if err := a.Leave(context.Background(), id.PlayerID); err != nil {
		log.Printf("⚠️  [BOT] leave lobby: %v", err)
	}
}
