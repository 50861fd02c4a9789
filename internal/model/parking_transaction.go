package model

import "time"

// SessionStatus is the lifecycle state of a parking transaction.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
)

// ParkingTransaction records one vehicle's stay at one parking slot.
type ParkingTransaction struct {
	ID            int64     `gorm:"primaryKey"`
	UserID        string    `gorm:"index:idx_tx_user_slot_status;size:36;not null"`
	VehicleID     int64     `gorm:"index;not null"`
	ParkingSlotID int64     `gorm:"index:idx_tx_user_slot_status;not null"`
	TimeIn        time.Time `gorm:"not null"`
	TimeOut       *time.Time
	Status        SessionStatus `gorm:"index:idx_tx_user_slot_status;size:16;not null"`
	CreatedAt     time.Time     `gorm:"not null"`
	UpdatedAt     time.Time     `gorm:"not null"`
}
