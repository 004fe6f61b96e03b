package store

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Remote talks to a store server over HTTP. Change streams arrive as server-sent
// events; atomic updates are a read plus an If-Match write, retried on conflict.
type Remote struct {
	BaseURL   string
	Token     string
	PlayerID  string
	SessionID string
	Client    *http.Client
	Clock     clockwork.Clock

	stream *http.Client
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

type RemoteConfig struct {
	BaseURL   string
	Token     string
	PlayerID  string
	Heartbeat time.Duration
	Clock     clockwork.Clock
}

// Dial opens a session on the server and keeps it alive until Close.
func Dial(ctx context.Context, cfg RemoteConfig) (*Remote, error) {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 15 * time.Second
	}
	r := &Remote{
		BaseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		Token:    cfg.Token,
		PlayerID: cfg.PlayerID,
		Client:   &http.Client{Timeout: 10 * time.Second},
		Clock:    cfg.Clock,
		stream:   &http.Client{},
	}

	var out struct {
		SessionID string `json:"session_id"`
	}
	if err := r.do(ctx, http.MethodPost, "/sessions", nil, nil, nil, &out); err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	r.SessionID = out.SessionID

	hbCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.wg.Add(1)
	go r.heartbeat(hbCtx, cfg.Heartbeat)
	return r, nil
}

func (r *Remote) heartbeat(ctx context.Context, every time.Duration) {
	defer r.wg.Done()
	ticker := r.Clock.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if err := r.do(ctx, http.MethodPost, "/sessions/"+r.SessionID+"/heartbeat", nil, nil, nil, nil); err != nil && ctx.Err() == nil {
				log.Printf("⚠️  [STORE] heartbeat for session %s failed: %v", r.SessionID, err)
			}
		}
	}
}

func (r *Remote) newRequest(ctx context.Context, method, endpoint string, query url.Values, body []byte) (*http.Request, error) {
	u := r.BaseURL + endpoint
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+r.Token)
	if r.PlayerID != "" {
		req.Header.Set("X-Player-ID", r.PlayerID)
	}
	if r.SessionID != "" {
		req.Header.Set("X-Session-ID", r.SessionID)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (r *Remote) do(ctx context.Context, method, endpoint string, query url.Values, header http.Header, body []byte, out interface{}) error {
	req, err := r.newRequest(ctx, method, endpoint, query, body)
	if err != nil {
		return err
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := r.Client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w: %v", method, endpoint, ErrUnavailable, err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	switch {
	case resp.StatusCode == http.StatusPreconditionFailed:
		return fmt.Errorf("%s %s: %w", method, endpoint, ErrConflict)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s %s: %w", method, endpoint, ErrNotFound)
	case resp.StatusCode == http.StatusBadRequest:
		return fmt.Errorf("%s %s: %w: %s", method, endpoint, ErrInvalidPath, strings.TrimSpace(string(data)))
	case resp.StatusCode >= 300:
		return fmt.Errorf("%s %s returned %d: %w: %s", method, endpoint, resp.StatusCode, ErrUnavailable, strings.TrimSpace(string(data)))
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode %s response: %w", endpoint, err)
		}
	}
	return nil
}

func pathQuery(p string) url.Values {
	return url.Values{"path": {p}}
}

func (r *Remote) Get(ctx context.Context, path string) (Snapshot, error) {
	p, err := CleanPath(path)
	if err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := r.do(ctx, http.MethodGet, "/store/value", pathQuery(p), nil, nil, &snap); err != nil {
		return Snapshot{}, err
	}
	snap.Path = p
	return snap, nil
}

func (r *Remote) Set(ctx context.Context, path string, value json.RawMessage) error {
	p, err := CleanPath(path)
	if err != nil {
		return err
	}
	if isNull(value) {
		return r.Delete(ctx, p)
	}
	return r.do(ctx, http.MethodPut, "/store/value", pathQuery(p), nil, value, nil)
}

func (r *Remote) Push(ctx context.Context, parent string, value json.RawMessage) (string, error) {
	p, err := CleanPath(parent)
	if err != nil {
		return "", err
	}
	var out struct {
		Key string `json:"key"`
	}
	if err := r.do(ctx, http.MethodPost, "/store/push", pathQuery(p), nil, value, &out); err != nil {
		return "", err
	}
	return out.Key, nil
}

func (r *Remote) Delete(ctx context.Context, path string) error {
	p, err := CleanPath(path)
	if err != nil {
		return err
	}
	return r.do(ctx, http.MethodDelete, "/store/value", pathQuery(p), nil, nil, nil)
}

func (r *Remote) CompareAndSwap(ctx context.Context, path string, version int64, value json.RawMessage) (int64, error) {
	p, err := CleanPath(path)
	if err != nil {
		return 0, err
	}
	h := http.Header{"If-Match": {strconv.FormatInt(version, 10)}}
	var out struct {
		Version int64 `json:"version"`
	}
	method := http.MethodPut
	if isNull(value) {
		method, value = http.MethodDelete, nil
	}
	if err := r.do(ctx, method, "/store/value", pathQuery(p), h, value, &out); err != nil {
		return 0, err
	}
	return out.Version, nil
}

func (r *Remote) Update(ctx context.Context, path string, fn UpdateFunc) (json.RawMessage, error) {
	p, err := CleanPath(path)
	if err != nil {
		return nil, err
	}
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		snap, err := r.Get(ctx, p)
		if err != nil {
			return nil, err
		}
		next, err := fn(snap.Value)
		if err != nil {
			return nil, err
		}
		if isNull(next) && !snap.Exists() {
			return nil, nil
		}
		_, err = r.CompareAndSwap(ctx, p, snap.Version, next)
		if errors.Is(err, ErrConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if isNull(next) {
			return nil, nil
		}
		return next, nil
	}
	return nil, fmt.Errorf("update %s after %d attempts: %w", p, maxCASAttempts, ErrConflict)
}

func (r *Remote) Subscribe(ctx context.Context, path string, fn func(Snapshot)) (Subscription, error) {
	p, err := CleanPath(path)
	if err != nil {
		return nil, err
	}

	var (
		mu     sync.Mutex
		latest *Snapshot
	)
	w := newWatcher(p, r.Clock, 0, func(context.Context) (Snapshot, bool, error) {
		mu.Lock()
		defer mu.Unlock()
		if latest == nil {
			return Snapshot{}, false, nil
		}
		snap := *latest
		latest = nil
		return snap, true, nil
	}, fn)

	streamCtx, cancel := context.WithCancel(ctx)
	w.onClose = cancel
	go func() {
		for streamCtx.Err() == nil {
			err := r.readStream(streamCtx, p, func(s Snapshot) {
				mu.Lock()
				latest = &s
				mu.Unlock()
				w.notify()
			})
			if streamCtx.Err() != nil {
				return
			}
			log.Printf("⚠️  [STORE] stream %s dropped: %v, reconnecting", p, err)
			select {
			case <-streamCtx.Done():
				return
			case <-r.Clock.After(time.Second):
			}
		}
	}()
	w.start(ctx)
	return w, nil
}

// readStream consumes one SSE connection until it ends.
func (r *Remote) readStream(ctx context.Context, p string, deliver func(Snapshot)) error {
	req, err := r.newRequest(ctx, http.MethodGet, "/store/stream", pathQuery(p), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := r.stream.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("stream returned %d: %w", resp.StatusCode, ErrUnavailable)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 16<<20)
	var event string
	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if event == "snapshot" && data.Len() > 0 {
				var snap Snapshot
				if err := json.Unmarshal([]byte(data.String()), &snap); err != nil {
					log.Printf("❌ [STORE] bad snapshot on %s: %v", p, err)
				} else {
					snap.Path = p
					deliver(snap)
				}
			}
			event = ""
			data.Reset()
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return io.EOF
}

func (r *Remote) OnDisconnectRemove(ctx context.Context, path string) error {
	p, err := CleanPath(path)
	if err != nil {
		return err
	}
	return r.do(ctx, http.MethodPost, "/sessions/"+r.SessionID+"/on-disconnect", pathQuery(p), nil, nil, nil)
}

// Close stops the heartbeat and ends the session, which runs its disconnect hooks.
func (r *Remote) Close() error {
	var err error
	r.once.Do(func() {
		if r.cancel != nil {
			r.cancel()
		}
		r.wg.Wait()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = r.do(ctx, http.MethodDelete, "/sessions/"+r.SessionID, nil, nil, nil, nil)
	})
	return err
}
