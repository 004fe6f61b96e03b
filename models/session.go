package models

import "time"

// StoreSession is a remote client connection. When it is closed or its heartbeat lapses
// every DisconnectHook registered under it is executed.
type StoreSession struct {
	ID         string           `gorm:"primaryKey;type:varchar(64)" json:"id"`
	PlayerID   string           `gorm:"index" json:"player_id"`
	LastSeenAt time.Time        `gorm:"index;not null" json:"last_seen_at"`
	Hooks      []DisconnectHook `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE" json:"hooks,omitempty"`
	Timestamps
}

// DisconnectHook removes Path when its session goes away.
type DisconnectHook struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	SessionID string    `gorm:"index;not null;type:varchar(64)" json:"session_id"`
	Path      string    `gorm:"not null;type:varchar(512)" json:"path"`
	CreatedAt time.Time `json:"created_at"`
}
