package model

import "time"

// Profile links a student number to the user that owns vehicles and sessions.
type Profile struct {
	UserID        string    `gorm:"primaryKey;size:36"`
	StudentNumber string    `gorm:"uniqueIndex;size:32;not null"`
	FullName      string    `gorm:"size:256"`
	CreatedAt     time.Time `gorm:"not null"`

	// Associations
	Vehicles []Vehicle `gorm:"foreignKey:UserID;references:UserID"`
}

// Vehicle is a registered vehicle belonging to exactly one profile.
type Vehicle struct {
	ID          int64     `gorm:"primaryKey"`
	UserID      string    `gorm:"index:idx_vehicle_owner_plate,unique;size:36;not null"`
	PlateNumber string    `gorm:"index:idx_vehicle_owner_plate,unique;size:32;not null"`
	CreatedAt   time.Time `gorm:"not null"`
}
