// Package store is the shared, concurrently writable document store every client
// coordinates through. Documents are JSON values addressed by slash separated paths.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
)

var (
	ErrNotFound    = errors.New("store: not found")
	ErrAborted     = errors.New("store: update aborted")
	ErrUnavailable = errors.New("store: unavailable")
	ErrConflict    = errors.New("store: version conflict")
	ErrInvalidPath = errors.New("store: invalid path")
)

// UpdateFunc receives the current value (nil when absent) and returns the value to
// commit. Returning a nil value deletes the document. Returning an error aborts the
// update without writing and the error is passed back to the caller unchanged.
type UpdateFunc func(current json.RawMessage) (json.RawMessage, error)

// Snapshot is the state of a path at one instant: the document stored at the path
// itself plus every document stored below it, keyed by the path relative to it.
type Snapshot struct {
	Path     string                     `json:"path"`
	Value    json.RawMessage            `json:"value,omitempty"`
	Version  int64                      `json:"version"`
	Children map[string]json.RawMessage `json:"children,omitempty"`

	sig string
}

func (s Snapshot) Exists() bool { return len(s.Value) > 0 }

// Subscription stops a change stream. Close blocks until no callback is running,
// so it must not be called from inside the callback itself.
type Subscription interface {
	Close()
}

type Store interface {
	Get(ctx context.Context, path string) (Snapshot, error)
	Set(ctx context.Context, path string, value json.RawMessage) error
	// Push stores value under a fresh, time-ordered key below parent and returns the key.
	Push(ctx context.Context, parent string, value json.RawMessage) (string, error)
	Delete(ctx context.Context, path string) error
	// Update is the single-key atomic read-modify-write. fn may run more than once.
	Update(ctx context.Context, path string, fn UpdateFunc) (json.RawMessage, error)
	// Subscribe delivers the current snapshot immediately and again after changes at or
	// below path. Intermediate states may be skipped; the latest state is always delivered.
	Subscribe(ctx context.Context, path string, fn func(Snapshot)) (Subscription, error)
	// OnDisconnectRemove deletes path once this connection goes away.
	OnDisconnectRemove(ctx context.Context, path string) error
	Close() error
}

// Backend is a store that can be served to remote clients.
type Backend interface {
	Store
	// CompareAndSwap writes value only if the document is at version (0 means absent).
	// A nil value deletes. Returns the new version.
	CompareAndSwap(ctx context.Context, path string, version int64, value json.RawMessage) (int64, error)
	Dump(ctx context.Context) (map[string]json.RawMessage, error)
}

func isNull(v json.RawMessage) bool {
	t := bytes.TrimSpace(v)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}
