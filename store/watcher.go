package store

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// watcher serializes callback delivery for one subscription. Wake-ups coalesce, so a
// slow callback only ever sees the most recent state.
type watcher struct {
	path  string
	load  func(ctx context.Context) (Snapshot, bool, error)
	fn    func(Snapshot)
	poll  time.Duration
	clock clockwork.Clock

	wake    chan struct{}
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
	lastSig string
	onClose func()
}

func newWatcher(path string, clock clockwork.Clock, poll time.Duration, load func(context.Context) (Snapshot, bool, error), fn func(Snapshot)) *watcher {
	return &watcher{
		path:  path,
		load:  load,
		fn:    fn,
		poll:  poll,
		clock: clock,
		wake:  make(chan struct{}, 1),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

func (w *watcher) start(ctx context.Context) {
	go w.run(ctx)
}

func (w *watcher) run(ctx context.Context) {
	defer close(w.done)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-w.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	var tick <-chan time.Time
	if w.poll > 0 {
		ticker := w.clock.NewTicker(w.poll)
		defer ticker.Stop()
		tick = ticker.Chan()
	}

	first := true
	for {
		snap, ok, err := w.load(ctx)
		switch {
		case err != nil:
			if ctx.Err() == nil {
				log.Printf("⚠️  [STORE] watch %s: %v", w.path, err)
			}
		case ok && (first || snap.sig == "" || snap.sig != w.lastSig):
			first = false
			w.lastSig = snap.sig
			w.fn(snap)
		}

		select {
		case <-ctx.Done():
			return
		case <-w.wake:
		case <-tick:
		}
	}
}

func (w *watcher) notify() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *watcher) Close() {
	w.once.Do(func() {
		close(w.stop)
		if w.onClose != nil {
			w.onClose()
		}
	})
	<-w.done
}
