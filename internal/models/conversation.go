package models

import "time"

// Message authors in a conversation transcript.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is one turn of a lead conversation. The table is written by the
// conversational front end; this service only reads it.
type ChatMessage struct {
	ID          uint      `gorm:"primaryKey;autoIncrement"`
	TenantID    string    `gorm:"size:64;not null;index:idx_chat_session,priority:1"`
	SessionID   string    `gorm:"size:128;not null;index:idx_chat_session,priority:2"`
	PhoneNumber string    `gorm:"size:32"`
	Role        string    `gorm:"size:16;not null"` // "user" or "assistant"
	Content     string    `gorm:"type:text"`
	CreatedAt   time.Time `gorm:"index;index:idx_chat_session,priority:3"`
}

// FromLead reports whether the human lead authored the message.
func (m ChatMessage) FromLead() bool { return m.Role == RoleUser }
