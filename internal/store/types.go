package store

import (
	"errors"
	"time"

	"parkpeek-guard/internal/model"
)

var (
	// ErrNotFound is returned when a looked-up row does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrSlotFull is returned when a clock-in finds the slot at capacity.
	ErrSlotFull = errors.New("parking slot is full")
	// ErrAlreadyActive is returned when a clock-in finds an active session for the same user and slot.
	ErrAlreadyActive = errors.New("active session already exists")
	// ErrNoActiveSession is returned when a clock-out finds no matching active session.
	ErrNoActiveSession = errors.New("no active session")
	// ErrSlotEmpty is returned when a clock-out would take the counter below zero.
	ErrSlotEmpty = errors.New("parking slot counter is already zero")
	// ErrMultipleActive is returned when more than one active session matches a clock-out.
	ErrMultipleActive = errors.New("multiple active sessions")
)

// ClockInRequest carries the resolved identifiers of a clock-in.
type ClockInRequest struct {
	UserID    string
	VehicleID int64
	SlotID    int64
	At        time.Time
}

// ClockOutRequest carries the resolved identifiers of a clock-out.
type ClockOutRequest struct {
	UserID    string
	VehicleID int64
	SlotID    int64
	At        time.Time
}

// Transition is the committed outcome of a clock-in or clock-out.
type Transition struct {
	Session           model.ParkingTransaction
	Slot              model.ParkingSlot
	PreviousOccupancy int
}

// Clamp bounds an occupancy value to [0, total].
func Clamp(value, total int) int {
	if total < 0 {
		total = 0
	}
	if value < 0 {
		return 0
	}
	if value > total {
		return total
	}
	return value
}
