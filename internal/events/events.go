// Package events publishes committed parking transitions to other services.
package events

import (
	"context"
	"time"
)

// Event types.
const (
	TypeClockIn  = "parking.clock_in"
	TypeClockOut = "parking.clock_out"
)

// SessionEvent is the JSON message published for every committed transition.
type SessionEvent struct {
	Type      string    `json:"type"`
	SessionID int64     `json:"session_id"`
	UserID    string    `json:"user_id"`
	VehicleID int64     `json:"vehicle_id"`
	Location  string    `json:"location"`
	Occupancy int       `json:"occupancy"`
	Capacity  int       `json:"capacity"`
	At        time.Time `json:"at"`
}

type Publisher interface {
	PublishSession(ctx context.Context, evt SessionEvent) error
	Close() error
}

// Noop discards events. It is used when no broker is configured.
type Noop struct{}

func (Noop) PublishSession(context.Context, SessionEvent) error { return nil }
func (Noop) Close() error                                       { return nil }
