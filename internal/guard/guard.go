// Package guard implements the early-exit checks that cancel a follow-up
// before any message is composed: manual pause, terminal funnel status, and
// a fresh reply from the lead.
package guard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zulandar/caboose/internal/models"
	"github.com/zulandar/caboose/internal/phone"
	"github.com/zulandar/caboose/internal/store"
	"github.com/zulandar/caboose/internal/tenant"
)

// PauseReader reports manual pause flags keyed by phone number.
type PauseReader interface {
	IsPaused(ctx context.Context, tenantID string, phones []string) (bool, error)
}

// StatusReader reports a lead's funnel status.
type StatusReader interface {
	FunnelStatus(ctx context.Context, tenantID, sessionID string) (string, error)
}

// LastMessageReader returns the live latest message for a session.
type LastMessageReader interface {
	LastMessage(ctx context.Context, tenantID, sessionID string) (*models.ChatMessage, error)
}

// Deactivator closes a schedule. It must be a no-op on inactive rows.
type Deactivator interface {
	Deactivate(ctx context.Context, tenantID string, id uint, reason string, at time.Time) (bool, error)
}

// Candidate is the schedule being checked.
type Candidate struct {
	ScheduleID  uint
	SessionID   string
	PhoneNumber string
}

// Verdict is the result of a guard run. A zero Verdict means every guard
// passed.
type Verdict struct {
	Fired  bool
	Reason string
	Guard  string
}

func fired(guardName, reason string) Verdict {
	return Verdict{Fired: true, Reason: reason, Guard: guardName}
}

// Guard names, in evaluation order.
const (
	GuardPause  = "pause"
	GuardStatus = "status"
	GuardReply  = "reply"
)

// Chain evaluates the guards in a fixed order and stops at the first one
// that fires.
type Chain struct {
	pauses   PauseReader
	statuses StatusReader
	messages LastMessageReader
	terminal map[string]string
}

// New builds a Chain. terminalStatuses are matched case-insensitively.
func New(pauses PauseReader, statuses StatusReader, messages LastMessageReader, terminalStatuses []string) *Chain {
	terminal := make(map[string]string, len(terminalStatuses))
	for _, s := range terminalStatuses {
		key := strings.ToLower(strings.TrimSpace(s))
		if key != "" {
			terminal[key] = key
		}
	}
	return &Chain{pauses: pauses, statuses: statuses, messages: messages, terminal: terminal}
}

// IsTerminal reports whether status is a configured terminal funnel state.
func (c *Chain) IsTerminal(status string) bool {
	_, ok := c.terminal[strings.ToLower(strings.TrimSpace(status))]
	return ok
}

// Check runs pause, terminal status and fresh reply, in that order, against
// live data. It performs no writes.
func (c *Chain) Check(ctx context.Context, t tenant.Tenant, cand Candidate) (Verdict, error) {
	v, err := c.CheckStanding(ctx, t, cand)
	if err != nil || v.Fired {
		return v, err
	}

	msg, err := c.messages.LastMessage(ctx, t.ID, cand.SessionID)
	if errors.Is(err, store.ErrNotFound) {
		return Verdict{}, nil
	}
	if err != nil {
		return Verdict{}, fmt.Errorf("guard: reply check %s: %w", cand.SessionID, err)
	}
	if msg.FromLead() {
		return fired(GuardReply, models.ReasonResponded), nil
	}
	return Verdict{}, nil
}

// CheckStanding runs only the pause and terminal-status guards. The intake
// scanner uses it before creating a schedule, when the author of the last
// message is already known.
func (c *Chain) CheckStanding(ctx context.Context, t tenant.Tenant, cand Candidate) (Verdict, error) {
	if cand.PhoneNumber != "" {
		paused, err := c.pauses.IsPaused(ctx, t.ID, phone.Variants(cand.PhoneNumber, t.CountryCode))
		if err != nil {
			return Verdict{}, fmt.Errorf("guard: pause check %s: %w", cand.SessionID, err)
		}
		if paused {
			return fired(GuardPause, models.ReasonPausedManual), nil
		}
	}

	status, err := c.statuses.FunnelStatus(ctx, t.ID, cand.SessionID)
	if err != nil {
		return Verdict{}, fmt.Errorf("guard: status check %s: %w", cand.SessionID, err)
	}
	if key, ok := c.terminal[strings.ToLower(strings.TrimSpace(status))]; ok {
		return fired(GuardStatus, models.StatusReason(key)), nil
	}
	return Verdict{}, nil
}

// Run checks the candidate and, when a guard fires, deactivates its schedule
// with the guard's reason. Running it again on a closed row is harmless.
func (c *Chain) Run(ctx context.Context, t tenant.Tenant, cand Candidate, d Deactivator, now time.Time) (Verdict, error) {
	v, err := c.Check(ctx, t, cand)
	if err != nil || !v.Fired {
		return v, err
	}
	if cand.ScheduleID == 0 {
		return v, nil
	}
	if _, err := d.Deactivate(ctx, t.ID, cand.ScheduleID, v.Reason, now); err != nil {
		return v, fmt.Errorf("guard: deactivate %d (%s): %w", cand.ScheduleID, v.Reason, err)
	}
	return v, nil
}
