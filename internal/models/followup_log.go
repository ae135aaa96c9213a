package models

import "time"

// Delivery outcomes recorded on FollowUpLog.
const (
	OutcomeSent   = "sent"
	OutcomeFailed = "failed"
)

// FollowUpLog is an append-only record of one dispatch attempt.
type FollowUpLog struct {
	ID               uint   `gorm:"primaryKey;autoIncrement"`
	TenantID         string `gorm:"size:64;not null;index"`
	ScheduleID       uint   `gorm:"not null;index"`
	SessionID        string `gorm:"size:128"`
	RunID            string `gorm:"size:36;index"`
	Attempt          int    `gorm:"not null"`
	Message          string `gorm:"type:text"`
	MessageSource    string `gorm:"size:16"` // "ai" or "template"
	Reasoning        string `gorm:"type:text"`
	Degraded         bool   `gorm:"default:false"`
	Outcome          string `gorm:"size:16;not null"`
	GatewayMessageID string `gorm:"size:128"`
	GatewayResponse  string `gorm:"type:text"`
	Error            string `gorm:"type:text"`
	CreatedAt        time.Time
}
