package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"duel-arena/models"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const maxCASAttempts = 32

// GormStore keeps documents as versioned rows in store_nodes. Atomic updates are
// optimistic: the row is rewritten only if its version did not move, otherwise the
// update function runs again. Writers in other processes are picked up by polling.
type GormStore struct {
	DB           *gorm.DB
	Clock        clockwork.Clock
	PollInterval time.Duration

	mu       sync.Mutex
	watchers map[*watcher]struct{}
	hooks    []string
}

func NewGormStore(db *gorm.DB, clock clockwork.Clock, pollInterval time.Duration) *GormStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &GormStore{
		DB:           db,
		Clock:        clock,
		PollInterval: pollInterval,
		watchers:     make(map[*watcher]struct{}),
	}
}

func unavailable(op, path string, err error) error {
	return fmt.Errorf("%s %s: %w: %v", op, path, ErrUnavailable, err)
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func (s *GormStore) Get(ctx context.Context, path string) (Snapshot, error) {
	p, err := CleanPath(path)
	if err != nil {
		return Snapshot{}, err
	}

	var nodes []models.StoreNode
	if err := s.DB.WithContext(ctx).
		Where("path = ? OR path LIKE ? ESCAPE '\\'", p, escapeLike(p)+"/%").
		Order("path ASC").
		Find(&nodes).Error; err != nil {
		return Snapshot{}, unavailable("get", p, err)
	}

	snap := Snapshot{Path: p}
	docs := make([]versioned, 0, len(nodes))
	for _, n := range nodes {
		docs = append(docs, versioned{n.Path, n.Version, []byte(n.Value)})
		if n.Path == p {
			snap.Value = json.RawMessage(n.Value)
			snap.Version = n.Version
			continue
		}
		key, _ := childKey(p, n.Path)
		if snap.Children == nil {
			snap.Children = make(map[string]json.RawMessage)
		}
		snap.Children[key] = json.RawMessage(n.Value)
	}
	snap.sig = signature(docs)
	return snap, nil
}

func (s *GormStore) Set(ctx context.Context, path string, value json.RawMessage) error {
	p, err := CleanPath(path)
	if err != nil {
		return err
	}
	if isNull(value) {
		return s.Delete(ctx, p)
	}

	now := s.Clock.Now().UTC()
	node := models.StoreNode{Path: p, Value: string(value), Version: 1, UpdatedAt: now}
	if err := s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "path"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"value":      node.Value,
			"version":    gorm.Expr("store_nodes.version + 1"),
			"updated_at": now,
		}),
	}).Create(&node).Error; err != nil {
		return unavailable("set", p, err)
	}
	s.changed(p)
	return nil
}

func (s *GormStore) Push(ctx context.Context, parent string, value json.RawMessage) (string, error) {
	p, err := CleanPath(parent)
	if err != nil {
		return "", err
	}
	key, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("push key: %w", err)
	}
	if err := s.Set(ctx, Join(p, key.String()), value); err != nil {
		return "", err
	}
	return key.String(), nil
}

func (s *GormStore) Delete(ctx context.Context, path string) error {
	p, err := CleanPath(path)
	if err != nil {
		return err
	}
	res := s.DB.WithContext(ctx).Where("path = ?", p).Delete(&models.StoreNode{})
	if res.Error != nil {
		return unavailable("delete", p, res.Error)
	}
	if res.RowsAffected > 0 {
		s.changed(p)
	}
	return nil
}

func (s *GormStore) load(ctx context.Context, p string) (models.StoreNode, bool, error) {
	var node models.StoreNode
	err := s.DB.WithContext(ctx).Where("path = ?", p).Take(&node).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return node, false, nil
	}
	if err != nil {
		return node, false, unavailable("read", p, err)
	}
	return node, true, nil
}

// swap writes next over the row at version (0 = absent). It reports false when another
// writer got there first.
func (s *GormStore) swap(ctx context.Context, p string, version int64, next json.RawMessage) (int64, bool, error) {
	db := s.DB.WithContext(ctx)
	now := s.Clock.Now().UTC()

	var res *gorm.DB
	newVersion := version + 1
	switch {
	case isNull(next) && version == 0:
		return 0, true, nil
	case isNull(next):
		newVersion = 0
		res = db.Where("path = ? AND version = ?", p, version).Delete(&models.StoreNode{})
	case version == 0:
		res = db.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&models.StoreNode{Path: p, Value: string(next), Version: 1, UpdatedAt: now})
	default:
		res = db.Model(&models.StoreNode{}).
			Where("path = ? AND version = ?", p, version).
			Updates(map[string]interface{}{
				"value":      string(next),
				"version":    newVersion,
				"updated_at": now,
			})
	}
	if res.Error != nil {
		return 0, false, unavailable("write", p, res.Error)
	}
	if res.RowsAffected != 1 {
		return 0, false, nil
	}
	s.changed(p)
	return newVersion, true, nil
}

func (s *GormStore) Update(ctx context.Context, path string, fn UpdateFunc) (json.RawMessage, error) {
	p, err := CleanPath(path)
	if err != nil {
		return nil, err
	}
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		node, exists, err := s.load(ctx, p)
		if err != nil {
			return nil, err
		}
		var cur json.RawMessage
		var version int64
		if exists {
			cur = json.RawMessage(node.Value)
			version = node.Version
		}
		next, err := fn(cur)
		if err != nil {
			return nil, err
		}
		_, ok, err := s.swap(ctx, p, version, next)
		if err != nil {
			return nil, err
		}
		if ok {
			if isNull(next) {
				return nil, nil
			}
			return next, nil
		}
	}
	return nil, fmt.Errorf("update %s after %d attempts: %w", p, maxCASAttempts, ErrConflict)
}

func (s *GormStore) CompareAndSwap(ctx context.Context, path string, version int64, value json.RawMessage) (int64, error) {
	p, err := CleanPath(path)
	if err != nil {
		return 0, err
	}
	v, ok, err := s.swap(ctx, p, version, value)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%s not at version %d: %w", p, version, ErrConflict)
	}
	return v, nil
}

func (s *GormStore) Subscribe(ctx context.Context, path string, fn func(Snapshot)) (Subscription, error) {
	p, err := CleanPath(path)
	if err != nil {
		return nil, err
	}
	w := newWatcher(p, s.Clock, s.PollInterval, func(ctx context.Context) (Snapshot, bool, error) {
		snap, err := s.Get(ctx, p)
		return snap, err == nil, err
	}, fn)
	w.onClose = func() {
		s.mu.Lock()
		delete(s.watchers, w)
		s.mu.Unlock()
	}
	s.mu.Lock()
	s.watchers[w] = struct{}{}
	s.mu.Unlock()
	w.start(ctx)
	return w, nil
}

// changed wakes local watchers right away instead of waiting for the next poll.
func (s *GormStore) changed(p string) {
	s.mu.Lock()
	var ws []*watcher
	for w := range s.watchers {
		if related(w.path, p) {
			ws = append(ws, w)
		}
	}
	s.mu.Unlock()
	wakeAll(ws)
}

func (s *GormStore) OnDisconnectRemove(ctx context.Context, path string) error {
	p, err := CleanPath(path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.hooks = append(s.hooks, p)
	s.mu.Unlock()
	return nil
}

func (s *GormStore) Dump(ctx context.Context) (map[string]json.RawMessage, error) {
	var nodes []models.StoreNode
	if err := s.DB.WithContext(ctx).Order("path ASC").Find(&nodes).Error; err != nil {
		return nil, unavailable("dump", "/", err)
	}
	out := make(map[string]json.RawMessage, len(nodes))
	for _, n := range nodes {
		out[n.Path] = json.RawMessage(n.Value)
	}
	return out, nil
}

// Close runs the process-level remove-on-disconnect hooks. The database handle is
// owned by the caller and stays open.
func (s *GormStore) Close() error {
	s.mu.Lock()
	hooks := s.hooks
	s.hooks = nil
	s.mu.Unlock()

	var errs []error
	for _, p := range hooks {
		if err := s.Delete(context.Background(), p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
