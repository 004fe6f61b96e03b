package workers

import (
	"context"
	"errors"
	"log"
	"time"

	"duel-arena/arena"
	"duel-arena/models"
	"duel-arena/store"
)

// ForfeitWorker settles matches abandoned mid-play: one side finished more than Grace
// ago, the other never did and has left the lobby.
type ForfeitWorker struct {
	Arena *arena.Arena
	Grace time.Duration
}

func NewForfeitWorker(a *arena.Arena, grace time.Duration) *ForfeitWorker {
	return &ForfeitWorker{Arena: a, Grace: grace}
}

// abandoned returns the match's laggard if the match qualifies for a forfeit check.
func (w *ForfeitWorker) abandoned(m *models.Match, now time.Time) (string, bool) {
	if m.Status != models.MatchPlaying || m.Player1.Finished == m.Player2.Finished {
		return "", false
	}
	done, laggard := m.Player1, m.Player2
	if !done.Finished {
		done, laggard = m.Player2, m.Player1
	}
	if now.Sub(time.UnixMilli(done.FinishedAt)) < w.Grace {
		return "", false
	}
	return laggard.PlayerID, true
}

// Sweep checks every match once and returns how many it forfeited itself. Matches
// another client settled first are not counted.
func (w *ForfeitWorker) Sweep(ctx context.Context) (int, error) {
	st := w.Arena.Store()
	snap, err := st.Get(ctx, "matches")
	if err != nil {
		return 0, err
	}
	now := w.Arena.Clock().Now()

	forfeited := 0
	for id := range snap.Children {
		m, err := w.Arena.GetMatch(ctx, id)
		if err != nil {
			if !errors.Is(err, arena.ErrMatchGone) {
				log.Printf("⚠️  [FORFEIT] skipping match %s: %v", id, err)
			}
			continue
		}
		laggard, ok := w.abandoned(m, now)
		if !ok {
			continue
		}
		presence, err := st.Get(ctx, store.Join("presence", laggard))
		if err != nil {
			log.Printf("❌ [FORFEIT] presence lookup for %s: %v", laggard, err)
			continue
		}
		if presence.Exists() {
			continue
		}
		_, claimed, err := w.Arena.Forfeit(ctx, id, w.Grace)
		if err != nil {
			log.Printf("❌ [FORFEIT] match %s: %v", id, err)
		}
		if claimed {
			forfeited++
		}
	}
	return forfeited, nil
}

// PollForfeits runs Sweep on every tick until ctx is cancelled.
func PollForfeits(ctx context.Context, w *ForfeitWorker, pollInterval time.Duration) {
	log.Printf("Starting forfeit polling (grace %s)...", w.Grace)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Forfeit polling stopped.")
			return
		case <-ticker.C:
			n, err := w.Sweep(ctx)
			if err != nil {
				log.Printf("❌ Error polling matches: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("✅ Forfeited %d abandoned match(es).", n)
			}
		}
	}
}
