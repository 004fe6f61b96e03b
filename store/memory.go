package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

type memDoc struct {
	value   json.RawMessage
	version int64
}

// Memory is an in-process store shared by any number of connections. It is the
// reference implementation used by tests and single-process deployments.
type Memory struct {
	mu       sync.Mutex
	clock    clockwork.Clock
	docs     map[string]memDoc
	seq      int64
	watchers map[*watcher]struct{}
}

func NewMemory(clock clockwork.Clock) *Memory {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Memory{
		clock:    clock,
		docs:     make(map[string]memDoc),
		watchers: make(map[*watcher]struct{}),
	}
}

// Connect opens a connection. Each connection owns its remove-on-disconnect hooks.
func (m *Memory) Connect() *MemoryConn {
	return &MemoryConn{mem: m}
}

func (m *Memory) snapshot(path string) Snapshot {
	snap := Snapshot{Path: path}
	docs := make([]versioned, 0, 1)
	if d, ok := m.docs[path]; ok {
		snap.Value = d.value
		snap.Version = d.version
		docs = append(docs, versioned{path, d.version, d.value})
	}
	for p, d := range m.docs {
		if key, ok := childKey(path, p); ok {
			if snap.Children == nil {
				snap.Children = make(map[string]json.RawMessage)
			}
			snap.Children[key] = d.value
			docs = append(docs, versioned{p, d.version, d.value})
		}
	}
	snap.sig = signature(docs)
	return snap
}

// write must be called with mu held; it returns the watchers to notify.
func (m *Memory) write(path string, value json.RawMessage) (int64, []*watcher) {
	if isNull(value) {
		if _, ok := m.docs[path]; !ok {
			return 0, nil
		}
		delete(m.docs, path)
		return 0, m.affected(path)
	}
	m.seq++
	m.docs[path] = memDoc{value: append(json.RawMessage(nil), value...), version: m.seq}
	return m.seq, m.affected(path)
}

func (m *Memory) affected(path string) []*watcher {
	var out []*watcher
	for w := range m.watchers {
		if related(w.path, path) {
			out = append(out, w)
		}
	}
	return out
}

func wakeAll(ws []*watcher) {
	for _, w := range ws {
		w.notify()
	}
}

// MemoryConn is one client's connection to a Memory store.
type MemoryConn struct {
	mem     *Memory
	mu      sync.Mutex
	hooks   []string
	closed  bool
	offline atomic.Bool
}

// SetOffline makes every operation fail with ErrUnavailable until reset.
func (c *MemoryConn) SetOffline(off bool) { c.offline.Store(off) }

func (c *MemoryConn) open() error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed || c.offline.Load() {
		return ErrUnavailable
	}
	return nil
}

func (c *MemoryConn) check(path string) (string, error) {
	if err := c.open(); err != nil {
		return "", err
	}
	return CleanPath(path)
}

func (c *MemoryConn) Get(ctx context.Context, path string) (Snapshot, error) {
	p, err := c.check(path)
	if err != nil {
		return Snapshot{}, err
	}
	c.mem.mu.Lock()
	defer c.mem.mu.Unlock()
	return c.mem.snapshot(p), nil
}

func (c *MemoryConn) Set(ctx context.Context, path string, value json.RawMessage) error {
	p, err := c.check(path)
	if err != nil {
		return err
	}
	c.mem.mu.Lock()
	_, ws := c.mem.write(p, value)
	c.mem.mu.Unlock()
	wakeAll(ws)
	return nil
}

func (c *MemoryConn) Push(ctx context.Context, parent string, value json.RawMessage) (string, error) {
	p, err := c.check(parent)
	if err != nil {
		return "", err
	}
	key, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("push key: %w", err)
	}
	if err := c.Set(ctx, Join(p, key.String()), value); err != nil {
		return "", err
	}
	return key.String(), nil
}

func (c *MemoryConn) Delete(ctx context.Context, path string) error {
	return c.Set(ctx, path, nil)
}

func (c *MemoryConn) Update(ctx context.Context, path string, fn UpdateFunc) (json.RawMessage, error) {
	p, err := c.check(path)
	if err != nil {
		return nil, err
	}
	c.mem.mu.Lock()
	var cur json.RawMessage
	if d, ok := c.mem.docs[p]; ok {
		cur = append(json.RawMessage(nil), d.value...)
	}
	next, err := fn(cur)
	if err != nil {
		c.mem.mu.Unlock()
		return nil, err
	}
	_, ws := c.mem.write(p, next)
	c.mem.mu.Unlock()
	wakeAll(ws)
	if isNull(next) {
		return nil, nil
	}
	return next, nil
}

func (c *MemoryConn) CompareAndSwap(ctx context.Context, path string, version int64, value json.RawMessage) (int64, error) {
	p, err := c.check(path)
	if err != nil {
		return 0, err
	}
	c.mem.mu.Lock()
	var current int64
	if d, ok := c.mem.docs[p]; ok {
		current = d.version
	}
	if current != version {
		c.mem.mu.Unlock()
		return current, fmt.Errorf("%s at version %d, expected %d: %w", p, current, version, ErrConflict)
	}
	v, ws := c.mem.write(p, value)
	c.mem.mu.Unlock()
	wakeAll(ws)
	return v, nil
}

func (c *MemoryConn) Subscribe(ctx context.Context, path string, fn func(Snapshot)) (Subscription, error) {
	p, err := c.check(path)
	if err != nil {
		return nil, err
	}
	m := c.mem
	w := newWatcher(p, m.clock, 0, func(context.Context) (Snapshot, bool, error) {
		if c.offline.Load() {
			return Snapshot{}, false, ErrUnavailable
		}
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.snapshot(p), true, nil
	}, fn)
	w.onClose = func() {
		m.mu.Lock()
		delete(m.watchers, w)
		m.mu.Unlock()
	}
	m.mu.Lock()
	m.watchers[w] = struct{}{}
	m.mu.Unlock()
	w.start(ctx)
	return w, nil
}

func (c *MemoryConn) OnDisconnectRemove(ctx context.Context, path string) error {
	p, err := c.check(path)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.hooks = append(c.hooks, p)
	c.mu.Unlock()
	return nil
}

func (c *MemoryConn) Dump(ctx context.Context) (map[string]json.RawMessage, error) {
	if err := c.open(); err != nil {
		return nil, err
	}
	c.mem.mu.Lock()
	defer c.mem.mu.Unlock()
	out := make(map[string]json.RawMessage, len(c.mem.docs))
	for p, d := range c.mem.docs {
		out[p] = d.value
	}
	return out, nil
}

// Close drops the connection and runs its remove-on-disconnect hooks, the same thing
// the server does when a remote client's session lapses.
func (c *MemoryConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	hooks := c.hooks
	c.hooks = nil
	c.mu.Unlock()

	for _, p := range hooks {
		c.mem.mu.Lock()
		_, ws := c.mem.write(p, nil)
		c.mem.mu.Unlock()
		wakeAll(ws)
	}
	return nil
}
