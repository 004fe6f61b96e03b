package store

import (
	"context"
	"encoding/json"
	"fmt"
)

// Decode unmarshals a document. Absent documents decode to (nil, nil).
func Decode[T any](raw json.RawMessage) (*T, error) {
	if isNull(raw) {
		return nil, nil
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// GetJSON reads and decodes the document at path.
func GetJSON[T any](ctx context.Context, st Store, path string) (*T, error) {
	snap, err := st.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	v, err := Decode[T](snap.Value)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return v, nil
}

// SetJSON encodes v and stores it at path.
func SetJSON(ctx context.Context, st Store, path string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return st.Set(ctx, path, raw)
}

// UpdateJSON is Update over a typed document. fn gets nil when the document is absent
// and returns nil to delete it.
func UpdateJSON[T any](ctx context.Context, st Store, path string, fn func(cur *T) (*T, error)) (*T, error) {
	raw, err := st.Update(ctx, path, func(current json.RawMessage) (json.RawMessage, error) {
		cur, err := Decode[T](current)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		next, err := fn(cur)
		if err != nil {
			return nil, err
		}
		if next == nil {
			return nil, nil
		}
		return json.Marshal(next)
	})
	if err != nil {
		return nil, err
	}
	return Decode[T](raw)
}
