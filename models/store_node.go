package models

import "time"

// StoreNode is one JSON document of the shared store. Version increases on every write
// and is the compare-and-swap token for atomic updates.
type StoreNode struct {
	Path      string    `gorm:"primaryKey;type:varchar(512)" json:"path"`
	Value     string    `gorm:"type:text;not null" json:"value"`
	Version   int64     `gorm:"not null;default:1" json:"version"`
	UpdatedAt time.Time `gorm:"index" json:"updated_at"`
}
