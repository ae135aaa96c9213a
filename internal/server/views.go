package server

import (
	"time"

	"github.com/zulandar/caboose/internal/models"
)

// ScheduleView is the JSON shape of a follow-up schedule.
type ScheduleView struct {
	ID                uint       `json:"id"`
	SessionID         string     `json:"session_id"`
	PhoneNumber       string     `json:"phone_number"`
	LeadName          string     `json:"lead_name,omitempty"`
	LastMessage       string     `json:"last_message,omitempty"`
	FunnelStage       string     `json:"funnel_stage,omitempty"`
	AttemptCount      int        `json:"attempt_count"`
	IsActive          bool       `json:"is_active"`
	LeadStatus        string     `json:"lead_status,omitempty"`
	LastInteractionAt time.Time  `json:"last_interaction_at"`
	LastFollowupAt    *time.Time `json:"last_followup_at,omitempty"`
	NextFollowupAt    *time.Time `json:"next_followup_at,omitempty"`
	ClosedAt          *time.Time `json:"closed_at,omitempty"`
	UpdatedAt         time.Time  `json:"updated_at"`
	Logs              []LogView  `json:"logs,omitempty"`
}

// NewScheduleView converts a stored schedule.
func NewScheduleView(s *models.FollowUpSchedule) ScheduleView {
	return ScheduleView{
		ID:                s.ID,
		SessionID:         s.SessionID,
		PhoneNumber:       s.PhoneNumber,
		LeadName:          s.LeadName,
		LastMessage:       s.LastMessage,
		FunnelStage:       s.FunnelStage,
		AttemptCount:      s.AttemptCount,
		IsActive:          s.IsActive,
		LeadStatus:        s.LeadStatus,
		LastInteractionAt: s.LastInteractionAt,
		LastFollowupAt:    s.LastFollowupAt,
		NextFollowupAt:    s.NextFollowupAt,
		ClosedAt:          s.ClosedAt,
		UpdatedAt:         s.UpdatedAt,
	}
}

// LogView is the JSON shape of one dispatch attempt.
type LogView struct {
	ID        uint      `json:"id"`
	RunID     string    `json:"run_id"`
	Attempt   int       `json:"attempt"`
	Message   string    `json:"message"`
	Source    string    `json:"source"`
	Reasoning string    `json:"reasoning,omitempty"`
	Degraded  bool      `json:"degraded"`
	Outcome   string    `json:"outcome"`
	GatewayID string    `json:"gateway_message_id,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NewLogView converts a stored log entry.
func NewLogView(l models.FollowUpLog) LogView {
	return LogView{
		ID:        l.ID,
		RunID:     l.RunID,
		Attempt:   l.Attempt,
		Message:   l.Message,
		Source:    l.MessageSource,
		Reasoning: l.Reasoning,
		Degraded:  l.Degraded,
		Outcome:   l.Outcome,
		GatewayID: l.GatewayMessageID,
		Error:     l.Error,
		CreatedAt: l.CreatedAt,
	}
}
