// services/store_service.go
package services

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"duel-arena/store"

	"github.com/gofiber/fiber/v2"
)

// StoreService serves a store.Backend over HTTP so remote clients can share it.
type StoreService struct {
	Store     store.Backend
	KeepAlive time.Duration
}

func NewStoreService(st store.Backend) *StoreService {
	return &StoreService{Store: st, KeepAlive: 15 * time.Second}
}

func storeError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, store.ErrInvalidPath):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, store.ErrConflict):
		return c.Status(fiber.StatusPreconditionFailed).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, store.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, store.ErrUnavailable):
		log.Printf("❌ [STORE] %s %s: %v", c.Method(), c.OriginalURL(), err)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "store unavailable"})
	}
	log.Printf("❌ [STORE] %s %s: %v", c.Method(), c.OriginalURL(), err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
}

// ifMatch parses the If-Match header; ok is false when the header is absent.
func ifMatch(c *fiber.Ctx) (int64, bool, error) {
	h := c.Get(fiber.HeaderIfMatch)
	if h == "" {
		return 0, false, nil
	}
	v, err := strconv.ParseInt(h, 10, 64)
	if err != nil || v < 0 {
		return 0, false, fmt.Errorf("bad If-Match %q", h)
	}
	return v, true, nil
}

func (s *StoreService) GetValue(c *fiber.Ctx) error {
	snap, err := s.Store.Get(c.UserContext(), c.Query("path"))
	if err != nil {
		return storeError(c, err)
	}
	return c.JSON(snap)
}

func (s *StoreService) PutValue(c *fiber.Ctx) error {
	body := c.Body()
	if !json.Valid(body) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "body must be a JSON document"})
	}
	value := json.RawMessage(append([]byte(nil), body...))

	version, conditional, err := ifMatch(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	if conditional {
		v, err := s.Store.CompareAndSwap(c.UserContext(), c.Query("path"), version, value)
		if err != nil {
			return storeError(c, err)
		}
		return c.JSON(fiber.Map{"version": v})
	}
	if err := s.Store.Set(c.UserContext(), c.Query("path"), value); err != nil {
		return storeError(c, err)
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *StoreService) DeleteValue(c *fiber.Ctx) error {
	version, conditional, err := ifMatch(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	if conditional {
		if _, err := s.Store.CompareAndSwap(c.UserContext(), c.Query("path"), version, nil); err != nil {
			return storeError(c, err)
		}
		return c.JSON(fiber.Map{"version": 0})
	}
	if err := s.Store.Delete(c.UserContext(), c.Query("path")); err != nil {
		return storeError(c, err)
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *StoreService) PushValue(c *fiber.Ctx) error {
	body := c.Body()
	if !json.Valid(body) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "body must be a JSON document"})
	}
	key, err := s.Store.Push(c.UserContext(), c.Query("path"), json.RawMessage(append([]byte(nil), body...)))
	if err != nil {
		return storeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"key": key})
}

// Stream pushes a snapshot event for the path every time it changes
func (s *StoreService) Stream(c *fiber.Ctx) error {
	p, err := store.CleanPath(c.Query("path"))
	if err != nil {
		return storeError(c, err)
	}

	// SSE headers
	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no") // nginx

	serverDone := c.Context().Done()
	keepAlive := s.KeepAlive
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		updates := make(chan store.Snapshot, 1)
		sub, err := s.Store.Subscribe(ctx, p, func(snap store.Snapshot) {
			for {
				select {
				case updates <- snap:
					return
				case <-ctx.Done():
					return
				default:
					select {
					case <-updates:
					default:
					}
				}
			}
		})
		if err != nil {
			log.Printf("❌ [STORE] stream %s: %v", p, err)
			return
		}
		defer sub.Close()
		defer cancel()

		ticker := time.NewTicker(keepAlive)
		defer ticker.Stop()

		// Initial keepalive (comment event)
		w.WriteString(":\n\n")
		if err := w.Flush(); err != nil {
			return
		}

		for {
			select {
			case snap := <-updates:
				payload, err := json.Marshal(snap)
				if err != nil {
					log.Printf("❌ [STORE] stream %s encode: %v", p, err)
					continue
				}
				fmt.Fprintf(w, "event: snapshot\ndata: %s\n\n", payload)
				if err := w.Flush(); err != nil {
					// Client disconnected
					return
				}

			case <-ticker.C:
				w.WriteString(":\n\n")
				if err := w.Flush(); err != nil {
					return
				}

			case <-serverDone:
				return
			}
		}
	})

	return nil
}
