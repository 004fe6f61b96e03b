// services/snapshot_service.go
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"duel-arena/store"

	"github.com/jonboulle/clockwork"
)

// Uploader stores an object and returns where it ended up.
type Uploader func(ctx context.Context, key string, body []byte, contentType string) (string, error)

// SnapshotService exports the whole store as one JSON object for backups.
type SnapshotService struct {
	Store  store.Backend
	Upload Uploader
	Clock  clockwork.Clock
	Prefix string
}

func NewSnapshotService(st store.Backend, upload Uploader, clock clockwork.Clock) *SnapshotService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &SnapshotService{Store: st, Upload: upload, Clock: clock, Prefix: "snapshots"}
}

type storeSnapshot struct {
	TakenAt   string                     `json:"taken_at"`
	Documents map[string]json.RawMessage `json:"documents"`
}

// Export dumps every document and uploads it under a timestamped key.
func (s *SnapshotService) Export(ctx context.Context) (string, error) {
	docs, err := s.Store.Dump(ctx)
	if err != nil {
		return "", fmt.Errorf("dump store: %w", err)
	}
	now := s.Clock.Now().UTC()
	body, err := json.Marshal(storeSnapshot{TakenAt: now.Format("2006-01-02T15:04:05Z"), Documents: docs})
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}
	key := fmt.Sprintf("%s/%s.json", s.Prefix, now.Format("20060102T150405Z"))
	url, err := s.Upload(ctx, key, body, "application/json")
	if err != nil {
		return "", err
	}
	log.Printf("✅ [Scheduler] exported %d document(s) to %s", len(docs), url)
	return url, nil
}
