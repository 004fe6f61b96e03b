package models

import (
	"errors"
	"fmt"
)

type Availability string

const (
	AvailabilityIdle Availability = "idle"
	AvailabilityBusy Availability = "busy"
)

func (a Availability) Valid() bool {
	return a == AvailabilityIdle || a == AvailabilityBusy
}

// Presence is the lobby entry stored under presence/{playerId}.
type Presence struct {
	PlayerID      string       `json:"playerId"`
	DisplayName   string       `json:"displayName"`
	Handle        string       `json:"handle,omitempty"`
	Availability  Availability `json:"availability"`
	LastHeartbeat int64        `json:"lastHeartbeat"` // unix ms
}

func (p *Presence) Validate() error {
	if p.PlayerID == "" {
		return errors.New("presence without player id")
	}
	if !p.Availability.Valid() {
		return fmt.Errorf("unknown availability %q", p.Availability)
	}
	return nil
}
