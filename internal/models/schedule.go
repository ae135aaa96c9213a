package models

import (
	"encoding/json"
	"time"
)

// Terminal reason codes recorded in FollowUpSchedule.LeadStatus once a
// schedule is deactivated.
const (
	ReasonResponded    = "responded"
	ReasonPausedManual = "paused_manual"
	ReasonStopped      = "stopped"
	ReasonUnresponsive = "unresponsive"
	ReasonClosedManual = "closed_manual"
	// ReasonStatusPrefix is joined with the funnel status, e.g. "status_perdido".
	ReasonStatusPrefix = "status_"
)

// StatusReason returns the reason code for a terminal funnel status.
func StatusReason(funnelStatus string) string {
	return ReasonStatusPrefix + funnelStatus
}

// FollowUpSchedule tracks one lead's follow-up timetable. At most one active
// row exists per tenant and session: ActiveSlot is 1 while active and NULL
// afterwards, and the unique index treats NULLs as distinct.
type FollowUpSchedule struct {
	ID                  uint       `gorm:"primaryKey;autoIncrement"`
	TenantID            string     `gorm:"size:64;not null;uniqueIndex:idx_schedule_active_session,priority:1;index:idx_schedule_due,priority:1"`
	SessionID           string     `gorm:"size:128;not null;uniqueIndex:idx_schedule_active_session,priority:2"`
	ActiveSlot          *int       `gorm:"uniqueIndex:idx_schedule_active_session,priority:3"`
	PhoneNumber         string     `gorm:"size:32;index"`
	LeadName            string     `gorm:"size:128"`
	LastMessage         string     `gorm:"type:text"`
	ConversationContext string     `gorm:"type:json"`
	LastInteractionAt   time.Time  `gorm:"not null"`
	LastFollowupAt      *time.Time
	AttemptCount        int        `gorm:"not null;default:0"`
	NextFollowupAt      *time.Time `gorm:"index:idx_schedule_due,priority:3"`
	IsActive            bool       `gorm:"not null;index:idx_schedule_due,priority:2"`
	LeadStatus          string     `gorm:"size:48"`
	FunnelStage         string     `gorm:"size:64"`
	CreatedAt           time.Time
	UpdatedAt           time.Time
	ClosedAt            *time.Time

	Logs []FollowUpLog `gorm:"foreignKey:ScheduleID"`
}

// Turns decodes the transcript snapshot. An empty column yields no turns.
func (s *FollowUpSchedule) Turns() ([]Turn, error) {
	if s.ConversationContext == "" {
		return nil, nil
	}
	var turns []Turn
	if err := json.Unmarshal([]byte(s.ConversationContext), &turns); err != nil {
		return nil, err
	}
	return turns, nil
}

// EncodeTurns serializes a transcript snapshot for ConversationContext.
func EncodeTurns(turns []Turn) (string, error) {
	if turns == nil {
		turns = []Turn{}
	}
	data, err := json.Marshal(turns)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Turn is one message of a transcript snapshot.
type Turn struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}
