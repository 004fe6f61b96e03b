// services/session_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"duel-arena/models"
	"duel-arena/store"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"
)

var ErrSessionNotFound = errors.New("session not found")

// SessionService tracks remote client connections so their remove-on-disconnect hooks
// run when they close or stop sending heartbeats.
type SessionService struct {
	DB    *gorm.DB
	Store store.Store
	Clock clockwork.Clock
	TTL   time.Duration
}

func NewSessionService(db *gorm.DB, st store.Store, clock clockwork.Clock, ttl time.Duration) *SessionService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &SessionService{DB: db, Store: st, Clock: clock, TTL: ttl}
}

func (s *SessionService) Open(ctx context.Context, playerID string) (*models.StoreSession, error) {
	sess := models.StoreSession{
		ID:         uuid.NewString(),
		PlayerID:   playerID,
		LastSeenAt: s.Clock.Now().UTC(),
	}
	if err := s.DB.WithContext(ctx).Create(&sess).Error; err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	log.Printf("[SESSION] opened %s for player %q", sess.ID, playerID)
	return &sess, nil
}

func (s *SessionService) Touch(ctx context.Context, id string) error {
	res := s.DB.WithContext(ctx).Model(&models.StoreSession{}).
		Where("id = ?", id).
		Update("last_seen_at", s.Clock.Now().UTC())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (s *SessionService) AddHook(ctx context.Context, id, path string) error {
	p, err := store.CleanPath(path)
	if err != nil {
		return err
	}
	var sess models.StoreSession
	if err := s.DB.WithContext(ctx).Where("id = ?", id).First(&sess).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrSessionNotFound
		}
		return err
	}
	return s.DB.WithContext(ctx).Create(&models.DisconnectHook{SessionID: id, Path: p}).Error
}

// Close runs the session's hooks and ends it. Returns how many paths were removed.
func (s *SessionService) Close(ctx context.Context, id string) (int, error) {
	var sess models.StoreSession
	if err := s.DB.WithContext(ctx).Preload("Hooks").Where("id = ?", id).First(&sess).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrSessionNotFound
		}
		return 0, err
	}

	removed := 0
	var errs []error
	for _, h := range sess.Hooks {
		if err := s.Store.Delete(ctx, h.Path); err != nil {
			errs = append(errs, fmt.Errorf("hook %s: %w", h.Path, err))
			continue
		}
		removed++
	}
	if len(errs) > 0 {
		// keep the session so the next sweep retries
		return removed, errors.Join(errs...)
	}

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", id).Delete(&models.DisconnectHook{}).Error; err != nil {
			return err
		}
		return tx.Unscoped().Delete(&sess).Error
	})
	if err != nil {
		return removed, err
	}
	log.Printf("[SESSION] closed %s, removed %d path(s)", id, removed)
	return removed, nil
}

// SweepExpired closes every session whose last heartbeat is older than TTL.
func (s *SessionService) SweepExpired(ctx context.Context) (int, error) {
	cutoff := s.Clock.Now().UTC().Add(-s.TTL)
	var expired []models.StoreSession
	if err := s.DB.WithContext(ctx).Where("last_seen_at < ?", cutoff).Find(&expired).Error; err != nil {
		return 0, err
	}
	closed := 0
	for _, sess := range expired {
		if _, err := s.Close(ctx, sess.ID); err != nil {
			log.Printf("❌ [SESSION] failed to close expired session %s: %v", sess.ID, err)
			continue
		}
		closed++
	}
	return closed, nil
}

// ---- HTTP ----

func (s *SessionService) OpenSession(c *fiber.Ctx) error {
	playerID, _ := c.Locals("player_id").(string)
	sess, err := s.Open(c.UserContext(), playerID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"session_id":  sess.ID,
		"ttl_seconds": int(s.TTL.Seconds()),
	})
}

func (s *SessionService) Heartbeat(c *fiber.Ctx) error {
	if err := s.Touch(c.UserContext(), c.Params("id")); err != nil {
		return sessionError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *SessionService) RegisterHook(c *fiber.Ctx) error {
	if err := s.AddHook(c.UserContext(), c.Params("id"), c.Query("path")); err != nil {
		return sessionError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *SessionService) CloseSession(c *fiber.Ctx) error {
	removed, err := s.Close(c.UserContext(), c.Params("id"))
	if err != nil {
		return sessionError(c, err)
	}
	return c.JSON(fiber.Map{"removed": removed})
}

func sessionError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, store.ErrInvalidPath):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	log.Printf("❌ [SESSION] %s %s: %v", c.Method(), c.Path(), err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
}
