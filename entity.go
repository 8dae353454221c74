package voxgrid

import "time"

// Entity carries the audit timestamps shared by every persisted record.
type Entity struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewEntity returns an Entity stamped with the current UTC time.
func NewEntity() Entity {
	return NewEntityAt(time.Now().UTC())
}

// NewEntityAt returns an Entity stamped with the given time. Loops and
// tests that inject a Clock use this variant.
func NewEntityAt(now time.Time) Entity {
	return Entity{CreatedAt: now, UpdatedAt: now}
}
