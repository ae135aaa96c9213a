package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/caboose/internal/models"
	"gorm.io/gorm"
)

// LastMessage returns the most recent transcript message for a session.
func (s *Store) LastMessage(ctx context.Context, tenantID, sessionID string) (*models.ChatMessage, error) {
	var msg models.ChatMessage
	err := s.with(ctx).
		Where("tenant_id = ? AND session_id = ?", tenantID, sessionID).
		Order("created_at DESC, id DESC").
		First(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: last message %s/%s: %w", tenantID, sessionID, err)
	}
	return &msg, nil
}

// RecentTurns returns up to n of the latest transcript turns, oldest first.
func (s *Store) RecentTurns(ctx context.Context, tenantID, sessionID string, n int) ([]models.Turn, error) {
	if n <= 0 {
		return nil, nil
	}
	var msgs []models.ChatMessage
	if err := s.with(ctx).
		Where("tenant_id = ? AND session_id = ?", tenantID, sessionID).
		Order("created_at DESC, id DESC").
		Limit(n).
		Find(&msgs).Error; err != nil {
		return nil, fmt.Errorf("store: recent turns %s/%s: %w", tenantID, sessionID, err)
	}
	turns := make([]models.Turn, len(msgs))
	for i, m := range msgs {
		turns[len(msgs)-1-i] = models.Turn{Role: m.Role, Content: m.Content, At: m.CreatedAt.UTC()}
	}
	return turns, nil
}

// ActiveSessions lists the sessions with at least one message since the
// given instant.
func (s *Store) ActiveSessions(ctx context.Context, tenantID string, since time.Time) ([]string, error) {
	var ids []string
	if err := s.with(ctx).Model(&models.ChatMessage{}).
		Where("tenant_id = ? AND created_at >= ?", tenantID, since.UTC()).
		Distinct("session_id").
		Order("session_id").
		Pluck("session_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("store: active sessions for %s: %w", tenantID, err)
	}
	return ids, nil
}

// IsPaused reports whether any of the given phone forms carries an active
// manual pause flag.
func (s *Store) IsPaused(ctx context.Context, tenantID string, phones []string) (bool, error) {
	if len(phones) == 0 {
		return false, nil
	}
	var count int64
	if err := s.with(ctx).Model(&models.PauseFlag{}).
		Where("tenant_id = ? AND phone_number IN ? AND paused = ?", tenantID, phones, true).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("store: pause flag for %s: %w", tenantID, err)
	}
	return count > 0, nil
}

// Lead returns the funnel record for a session.
func (s *Store) Lead(ctx context.Context, tenantID, sessionID string) (*models.Lead, error) {
	var lead models.Lead
	err := s.with(ctx).Where("tenant_id = ? AND session_id = ?", tenantID, sessionID).First(&lead).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: lead %s/%s: %w", tenantID, sessionID, err)
	}
	return &lead, nil
}

// FunnelStatus returns the lead's funnel status, or "" when the session has
// no lead record.
func (s *Store) FunnelStatus(ctx context.Context, tenantID, sessionID string) (string, error) {
	lead, err := s.Lead(ctx, tenantID, sessionID)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return lead.Status, nil
}
