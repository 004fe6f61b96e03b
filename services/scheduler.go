// services/scheduler.go
package services

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"duel-arena/arena"
	"duel-arena/models"
	"duel-arena/store"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
)

// CollectStalePresence deletes lobby entries whose heartbeat is older than ttl. Each
// delete re-checks the entry atomically so a concurrent heartbeat wins.
func CollectStalePresence(ctx context.Context, st store.Store, clock clockwork.Clock, ttl time.Duration) (int, error) {
	snap, err := st.Get(ctx, "presence")
	if err != nil {
		return 0, err
	}
	removed := 0
	for id := range snap.Children {
		var stale bool
		_, err := st.Update(ctx, store.Join("presence", id), func(cur json.RawMessage) (json.RawMessage, error) {
			stale = false
			p, err := store.Decode[models.Presence](cur)
			if err != nil {
				// unreadable entries are garbage too
				stale = true
				return nil, nil
			}
			if p == nil {
				return nil, store.ErrAborted
			}
			if clock.Now().Sub(time.UnixMilli(p.LastHeartbeat)) <= ttl {
				return nil, store.ErrAborted
			}
			stale = true
			return nil, nil
		})
		if err != nil && !errors.Is(err, store.ErrAborted) {
			log.Printf("[Scheduler] presence GC for %s failed: %v", id, err)
			continue
		}
		if stale {
			removed++
		}
	}
	return removed, nil
}

type SchedulerConfig struct {
	Sessions         *SessionService
	Store            store.Store
	Clock            clockwork.Clock
	PresenceTTL      time.Duration
	SessionSweep     time.Duration
	Snapshots        *SnapshotService
	SnapshotInterval time.Duration
}

// StartMaintenanceScheduler runs the housekeeping jobs until the scheduler is shut down.
func StartMaintenanceScheduler(cfg SchedulerConfig) (gocron.Scheduler, error) {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.PresenceTTL <= 0 {
		cfg.PresenceTTL = arena.DefaultPresenceTTL
	}
	sched, err := gocron.NewScheduler(gocron.WithClock(cfg.Clock))
	if err != nil {
		return nil, err
	}

	// Sessions that stopped heartbeating: run their disconnect hooks
	if cfg.Sessions != nil && cfg.SessionSweep > 0 {
		_, err = sched.NewJob(
			gocron.DurationJob(cfg.SessionSweep),
			gocron.NewTask(func() {
				n, err := cfg.Sessions.SweepExpired(context.Background())
				if err != nil {
					log.Printf("[Scheduler] session sweep error: %v", err)
					return
				}
				if n > 0 {
					log.Printf("✅ [Scheduler] closed %d expired session(s)", n)
				}
			}),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return nil, err
		}
	}

	// Every minute: drop stale lobby entries
	_, err = sched.NewJob(
		gocron.DurationJob(time.Minute),
		gocron.NewTask(func() {
			n, err := CollectStalePresence(context.Background(), cfg.Store, cfg.Clock, cfg.PresenceTTL)
			if err != nil {
				log.Printf("[Scheduler] presence GC error: %v", err)
				return
			}
			if n > 0 {
				log.Printf("✅ [Scheduler] removed %d stale presence entr(y/ies)", n)
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return nil, err
	}

	if cfg.Snapshots != nil && cfg.SnapshotInterval > 0 {
		_, err = sched.NewJob(
			gocron.DurationJob(cfg.SnapshotInterval),
			gocron.NewTask(func() {
				if _, err := cfg.Snapshots.Export(context.Background()); err != nil {
					log.Printf("❌ [Scheduler] snapshot export failed: %v", err)
				}
			}),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return nil, err
		}
	}

	sched.Start()
	return sched, nil
}
