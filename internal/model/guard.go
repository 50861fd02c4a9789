package model

import "time"

// Guard is a staff account allowed to operate the scanners.
type Guard struct {
	ID           string    `gorm:"primaryKey;size:36"`
	Email        string    `gorm:"uniqueIndex;size:256;not null"`
	DisplayName  string    `gorm:"size:128"`
	PasswordHash string    `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null"`
}

// Report is an incident report filed by a guard.
type Report struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	GuardID   string    `gorm:"index;size:36;not null" json:"guardId"`
	Title     string    `gorm:"size:256;not null" json:"title"`
	Details   string    `gorm:"type:text;not null" json:"details"`
	Location  *string   `gorm:"size:64" json:"location,omitempty"`
	CreatedAt time.Time `gorm:"index;not null" json:"createdAt"`
}
