package arena

import (
	"context"
	"sync"

	"duel-arena/store"
)

// Feed is a live view over a store subscription. C always yields the most recent
// value; values nobody read in time are replaced, never queued. C is closed by Close.
type Feed[T any] struct {
	ch   chan T
	sub  store.Subscription
	done chan struct{}
	once sync.Once
}

func newFeed[T any](ctx context.Context, st store.Store, path string, decode func(store.Snapshot) (T, bool)) (*Feed[T], error) {
	f := &Feed[T]{
		ch:   make(chan T, 1),
		done: make(chan struct{}),
	}
	sub, err := st.Subscribe(ctx, path, func(s store.Snapshot) {
		if v, ok := decode(s); ok {
			f.publish(v)
		}
	})
	if err != nil {
		return nil, err
	}
	f.sub = sub
	return f, nil
}

func (f *Feed[T]) publish(v T) {
	for {
		select {
		case <-f.done:
			return
		case f.ch <- v:
			return
		default:
			select {
			case <-f.ch:
			default:
			}
		}
	}
}

func (f *Feed[T]) C() <-chan T { return f.ch }

// Close ends the subscription. Safe to call more than once.
func (f *Feed[T]) Close() {
	f.once.Do(func() {
		close(f.done)
		f.sub.Close()
		close(f.ch)
	})
}
