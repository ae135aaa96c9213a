// Package store is the tenant-scoped gorm implementation of every data port
// the scheduler reads and writes: schedules, dispatch logs, transcripts,
// pause flags and funnel status.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/caboose/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// Store wraps a gorm connection. All methods take the tenant explicitly.
type Store struct {
	db *gorm.DB
}

// New returns a Store over db.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying connection for migrations and tests.
func (s *Store) DB() *gorm.DB { return s.db }

func (s *Store) with(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

// DueSchedules returns up to limit active schedules whose next follow-up is at
// or before now, oldest due first. limit <= 0 means no limit.
func (s *Store) DueSchedules(ctx context.Context, tenantID string, now time.Time, limit int) ([]models.FollowUpSchedule, error) {
	q := s.with(ctx).
		Where("tenant_id = ? AND is_active = ? AND next_followup_at IS NOT NULL AND next_followup_at <= ?",
			tenantID, true, now.UTC()).
		Order("next_followup_at ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []models.FollowUpSchedule
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("store: due schedules for %s: %w", tenantID, err)
	}
	return rows, nil
}

// ActiveSchedule returns the active schedule for a session.
func (s *Store) ActiveSchedule(ctx context.Context, tenantID, sessionID string) (*models.FollowUpSchedule, error) {
	var row models.FollowUpSchedule
	err := s.with(ctx).
		Where("tenant_id = ? AND session_id = ? AND is_active = ?", tenantID, sessionID, true).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: active schedule %s/%s: %w", tenantID, sessionID, err)
	}
	return &row, nil
}

// LatestSchedule returns the session's most recent schedule, active or not.
// Rows are never reopened, so an active row is always the latest.
func (s *Store) LatestSchedule(ctx context.Context, tenantID, sessionID string) (*models.FollowUpSchedule, error) {
	var row models.FollowUpSchedule
	err := s.with(ctx).
		Where("tenant_id = ? AND session_id = ?", tenantID, sessionID).
		Order("id DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: latest schedule %s/%s: %w", tenantID, sessionID, err)
	}
	return &row, nil
}

// GetSchedule loads one schedule by ID.
func (s *Store) GetSchedule(ctx context.Context, tenantID string, id uint) (*models.FollowUpSchedule, error) {
	var row models.FollowUpSchedule
	err := s.with(ctx).Where("tenant_id = ? AND id = ?", tenantID, id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get schedule %d: %w", id, err)
	}
	return &row, nil
}

// ListFilters narrows ListSchedules.
type ListFilters struct {
	Active    *bool
	SessionID string
	Status    string
	Limit     int
}

// ListSchedules returns schedules for a tenant, most recently updated first.
func (s *Store) ListSchedules(ctx context.Context, tenantID string, f ListFilters) ([]models.FollowUpSchedule, error) {
	q := s.with(ctx).Where("tenant_id = ?", tenantID)
	if f.Active != nil {
		q = q.Where("is_active = ?", *f.Active)
	}
	if f.SessionID != "" {
		q = q.Where("session_id = ?", f.SessionID)
	}
	if f.Status != "" {
		q = q.Where("lead_status = ?", f.Status)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var rows []models.FollowUpSchedule
	if err := q.Order("updated_at DESC, id DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("store: list schedules for %s: %w", tenantID, err)
	}
	return rows, nil
}

// UpsertActive inserts a new active schedule, or resets the existing active
// row for the same session when two scanner passes race. Either way the row
// ends up active with the values in sched.
func (s *Store) UpsertActive(ctx context.Context, sched *models.FollowUpSchedule) error {
	sched.IsActive = true
	slot := 1
	sched.ActiveSlot = &slot
	sched.LeadStatus = ""
	sched.ClosedAt = nil
	sched.LastInteractionAt = sched.LastInteractionAt.UTC()
	if sched.NextFollowupAt != nil {
		next := sched.NextFollowupAt.UTC()
		sched.NextFollowupAt = &next
	}

	result := s.with(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "tenant_id"}, {Name: "session_id"}, {Name: "active_slot"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"phone_number", "lead_name", "last_message", "conversation_context",
			"last_interaction_at", "last_followup_at", "attempt_count", "next_followup_at",
			"funnel_stage", "updated_at",
		}),
	}).Create(sched)
	if result.Error != nil {
		return fmt.Errorf("store: upsert schedule %s/%s: %w", sched.TenantID, sched.SessionID, result.Error)
	}
	return nil
}

// Restart resets an active schedule to attempt 0 after a newer automated
// message. It only applies while the row is still active and its tracked
// interaction is older than lastInteractionAt.
func (s *Store) Restart(ctx context.Context, tenantID string, id uint, snap Snapshot, lastInteractionAt, nextDue time.Time) (bool, error) {
	updates := snap.columns()
	updates["attempt_count"] = 0
	updates["last_interaction_at"] = lastInteractionAt.UTC()
	updates["next_followup_at"] = nextDue.UTC()
	updates["last_followup_at"] = nil

	result := s.with(ctx).Model(&models.FollowUpSchedule{}).
		Where("tenant_id = ? AND id = ? AND is_active = ? AND last_interaction_at < ?",
			tenantID, id, true, lastInteractionAt.UTC()).
		Updates(updates)
	if result.Error != nil {
		return false, fmt.Errorf("store: restart schedule %d: %w", id, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// Snapshot is the conversation state copied onto a schedule.
type Snapshot struct {
	LeadName    string
	PhoneNumber string
	LastMessage string
	Context     string
	FunnelStage string
}

func (sn Snapshot) columns() map[string]interface{} {
	cols := map[string]interface{}{
		"last_message":         sn.LastMessage,
		"conversation_context": sn.Context,
	}
	if sn.LeadName != "" {
		cols["lead_name"] = sn.LeadName
	}
	if sn.PhoneNumber != "" {
		cols["phone_number"] = sn.PhoneNumber
	}
	if sn.FunnelStage != "" {
		cols["funnel_stage"] = sn.FunnelStage
	}
	return cols
}

// RefreshSnapshot overwrites the transcript snapshot of an active schedule
// without touching its timetable.
func (s *Store) RefreshSnapshot(ctx context.Context, tenantID string, id uint, snap Snapshot) error {
	result := s.with(ctx).Model(&models.FollowUpSchedule{}).
		Where("tenant_id = ? AND id = ? AND is_active = ?", tenantID, id, true).
		Updates(snap.columns())
	if result.Error != nil {
		return fmt.Errorf("store: refresh snapshot %d: %w", id, result.Error)
	}
	return nil
}

// Deactivate closes an active schedule with a terminal reason. It reports
// false when the row was already inactive, which makes repeated calls safe.
func (s *Store) Deactivate(ctx context.Context, tenantID string, id uint, reason string, at time.Time) (bool, error) {
	result := s.with(ctx).Model(&models.FollowUpSchedule{}).
		Where("tenant_id = ? AND id = ? AND is_active = ?", tenantID, id, true).
		Updates(map[string]interface{}{
			"is_active":        false,
			"active_slot":      nil,
			"lead_status":      reason,
			"next_followup_at": nil,
			"closed_at":        at.UTC(),
		})
	if result.Error != nil {
		return false, fmt.Errorf("store: deactivate %d (%s): %w", id, reason, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// Advance records a sent follow-up and moves the schedule to the next
// attempt. The update only applies if the row is still active at fromAttempt,
// so a concurrent pass cannot advance it twice.
func (s *Store) Advance(ctx context.Context, tenantID string, id uint, fromAttempt int, sentAt, nextDue time.Time) (bool, error) {
	result := s.with(ctx).Model(&models.FollowUpSchedule{}).
		Where("tenant_id = ? AND id = ? AND is_active = ? AND attempt_count = ?", tenantID, id, true, fromAttempt).
		Updates(map[string]interface{}{
			"attempt_count":       fromAttempt + 1,
			"next_followup_at":    nextDue.UTC(),
			"last_followup_at":    sentAt.UTC(),
			"last_interaction_at": sentAt.UTC(),
		})
	if result.Error != nil {
		return false, fmt.Errorf("store: advance %d: %w", id, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// Exhaust records the final follow-up and closes the schedule as
// unresponsive, under the same attempt guard as Advance.
func (s *Store) Exhaust(ctx context.Context, tenantID string, id uint, fromAttempt int, sentAt time.Time) (bool, error) {
	result := s.with(ctx).Model(&models.FollowUpSchedule{}).
		Where("tenant_id = ? AND id = ? AND is_active = ? AND attempt_count = ?", tenantID, id, true, fromAttempt).
		Updates(map[string]interface{}{
			"attempt_count":       fromAttempt + 1,
			"last_followup_at":    sentAt.UTC(),
			"last_interaction_at": sentAt.UTC(),
			"is_active":           false,
			"active_slot":         nil,
			"lead_status":         models.ReasonUnresponsive,
			"next_followup_at":    nil,
			"closed_at":           sentAt.UTC(),
		})
	if result.Error != nil {
		return false, fmt.Errorf("store: exhaust %d: %w", id, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// AppendLog inserts a dispatch log row. Log rows are never updated.
func (s *Store) AppendLog(ctx context.Context, entry *models.FollowUpLog) error {
	if err := s.with(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("store: append log for schedule %d: %w", entry.ScheduleID, err)
	}
	return nil
}

// Logs returns the dispatch history of a schedule, oldest first.
func (s *Store) Logs(ctx context.Context, tenantID string, scheduleID uint) ([]models.FollowUpLog, error) {
	var rows []models.FollowUpLog
	if err := s.with(ctx).
		Where("tenant_id = ? AND schedule_id = ?", tenantID, scheduleID).
		Order("id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("store: logs for schedule %d: %w", scheduleID, err)
	}
	return rows, nil
}
