package models

import "time"

// Lead carries the funnel status of a session. Owned by the CRM side.
type Lead struct {
	TenantID    string `gorm:"primaryKey;size:64"`
	SessionID   string `gorm:"primaryKey;size:128"`
	PhoneNumber string `gorm:"size:32;index"`
	Name        string `gorm:"size:128"`
	Status      string `gorm:"size:32;index"`
	Stage       string `gorm:"size:64"`
	UpdatedAt   time.Time
}

// PauseFlag is the manual silence switch operators flip per phone number.
type PauseFlag struct {
	TenantID    string `gorm:"primaryKey;size:64"`
	PhoneNumber string `gorm:"primaryKey;size:32"`
	Paused      bool   `gorm:"not null"`
	Reason      string `gorm:"size:256"`
	UpdatedAt   time.Time
}
