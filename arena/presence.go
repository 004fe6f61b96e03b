package arena

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"duel-arena/models"
	"duel-arena/store"

	"github.com/gosimple/slug"
	"github.com/gosimple/unidecode"
	"golang.org/x/text/unicode/norm"
)

// lobbyOrder folds case and accents so "Zoë" sorts with "zoe".
func lobbyOrder(name string) string {
	return strings.ToLower(unidecode.Unidecode(name))
}

// NormalizeDisplayName trims and NFC-normalizes a name so equal-looking names compare equal.
func NormalizeDisplayName(name string) string {
	return strings.TrimSpace(norm.NFC.String(name))
}

// Announce puts the player in the lobby as idle. The entry is removed by the store when
// this connection drops.
func (a *Arena) Announce(ctx context.Context, id Identity) error {
	if id.PlayerID == "" {
		return errors.New("announce: empty player id")
	}
	name := NormalizeDisplayName(id.DisplayName)
	if name == "" {
		name = id.PlayerID
	}
	p := models.Presence{
		PlayerID:      id.PlayerID,
		DisplayName:   name,
		Handle:        slug.Make(name),
		Availability:  models.AvailabilityIdle,
		LastHeartbeat: a.nowMillis(),
	}
	path := presencePath(id.PlayerID)
	if err := a.store.OnDisconnectRemove(ctx, path); err != nil {
		return fmt.Errorf("announce %s: %w", id.PlayerID, err)
	}
	if err := store.SetJSON(ctx, a.store, path, p); err != nil {
		return fmt.Errorf("announce %s: %w", id.PlayerID, err)
	}
	log.Printf("[PRESENCE] %s (%s) joined the lobby", name, id.PlayerID)
	return nil
}

func (a *Arena) touchPresence(ctx context.Context, playerID string, fn func(p *models.Presence)) error {
	_, err := store.UpdateJSON(ctx, a.store, presencePath(playerID), func(cur *models.Presence) (*models.Presence, error) {
		if cur == nil {
			return nil, store.ErrNotFound
		}
		fn(cur)
		return cur, nil
	})
	return err
}

// Heartbeat refreshes lastHeartbeat. Returns store.ErrNotFound once the entry is gone,
// in which case the caller has to announce again.
func (a *Arena) Heartbeat(ctx context.Context, playerID string) error {
	now := a.nowMillis()
	return a.touchPresence(ctx, playerID, func(p *models.Presence) { p.LastHeartbeat = now })
}

func (a *Arena) SetAvailability(ctx context.Context, playerID string, av models.Availability) error {
	if !av.Valid() {
		return fmt.Errorf("unknown availability %q", av)
	}
	now := a.nowMillis()
	return a.touchPresence(ctx, playerID, func(p *models.Presence) {
		p.Availability = av
		p.LastHeartbeat = now
	})
}

// RunHeartbeat refreshes the entry every interval until ctx ends, re-announcing if the
// entry was collected in between.
func (a *Arena) RunHeartbeat(ctx context.Context, id Identity, every time.Duration) {
	ticker := a.clock.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			err := a.Heartbeat(ctx, id.PlayerID)
			if errors.Is(err, store.ErrNotFound) {
				err = a.Announce(ctx, id)
			}
			if err != nil && ctx.Err() == nil {
				log.Printf("⚠️  [PRESENCE] heartbeat for %s failed: %v", id.PlayerID, err)
			}
		}
	}
}

// Leave removes the player from the lobby. Leaving twice is fine.
func (a *Arena) Leave(ctx context.Context, playerID string) error {
	return a.store.Delete(ctx, presencePath(playerID))
}

// AvailablePlayers filters a presence snapshot down to fresh entries other than self,
// ordered by display name ignoring case and accents. Busy players are kept with their
// availability so callers can show them. An entry older than ttl at now is stale.
func AvailablePlayers(snap store.Snapshot, selfID string, now time.Time, ttl time.Duration) []models.Presence {
	out := make([]models.Presence, 0, len(snap.Children))
	for key, raw := range snap.Children {
		p, err := store.Decode[models.Presence](raw)
		if err != nil || p == nil {
			log.Printf("⚠️  [PRESENCE] skipping unreadable entry %s: %v", key, err)
			continue
		}
		if err := p.Validate(); err != nil || p.PlayerID != key {
			log.Printf("⚠️  [PRESENCE] skipping invalid entry %s: %v", key, err)
			continue
		}
		if p.PlayerID == selfID {
			continue
		}
		if now.Sub(time.UnixMilli(p.LastHeartbeat)) > ttl {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if ki, kj := lobbyOrder(out[i].DisplayName), lobbyOrder(out[j].DisplayName); ki != kj {
			return ki < kj
		}
		return out[i].PlayerID < out[j].PlayerID
	})
	return out
}

// ListAvailable streams the lobby as seen by selfID. Staleness is judged against the
// clock each time the lobby changes.
func (a *Arena) ListAvailable(ctx context.Context, selfID string) (*Feed[[]models.Presence], error) {
	return newFeed(ctx, a.store, "presence", func(s store.Snapshot) ([]models.Presence, bool) {
		return AvailablePlayers(s, selfID, a.clock.Now(), a.presenceTTL), true
	})
}
