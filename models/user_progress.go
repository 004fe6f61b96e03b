package models

import (
	"time"

	"gorm.io/gorm"
)

// PlayerProgress tracks gamified progression per player, stored under progress/{playerId}.
type PlayerProgress struct {
	PlayerID string `json:"playerId"`

	// Core progression
	TotalXP int64 `json:"totalXp"`
	Level   int   `json:"level"`
	Rank    int   `json:"rank"` // Bronze(1)→Silver(2)→Gold(3)→Platinum(4)→Diamond(5)

	// Activity counters
	TotalMatches int64 `json:"totalMatches"`
	Wins         int64 `json:"wins"`
	Losses       int64 `json:"losses"`
	Draws        int64 `json:"draws"`

	// Milestones (unix ms)
	LastLevelUpAt int64 `json:"lastLevelUpAt,omitempty"`
	LastRankUpAt  int64 `json:"lastRankUpAt,omitempty"`
}

// Timestamps adds GORM auto-times
type Timestamps struct {
	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}
