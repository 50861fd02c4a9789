package model

import "time"

// ParkingSlot is one named parking location and its occupancy counter.
type ParkingSlot struct {
	ID               int64     `gorm:"primaryKey"`
	Name             string    `gorm:"uniqueIndex;size:64;not null"`
	CurrentOccupancy int       `gorm:"not null;default:0"`
	TotalCapacity    int       `gorm:"not null"`
	CreatedAt        time.Time `gorm:"not null"`
	UpdatedAt        time.Time `gorm:"not null"`
}
