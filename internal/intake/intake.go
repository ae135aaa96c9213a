// Package intake keeps follow-up schedules in step with live conversations:
// it opens a schedule when the automation spoke last and closes it when the
// lead replies.
package intake

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/zulandar/caboose/internal/escalation"
	"github.com/zulandar/caboose/internal/guard"
	"github.com/zulandar/caboose/internal/models"
	"github.com/zulandar/caboose/internal/notify"
	"github.com/zulandar/caboose/internal/store"
	"github.com/zulandar/caboose/internal/telemetry"
	"github.com/zulandar/caboose/internal/tenant"
)

// Store is the data access the scanner needs.
type Store interface {
	ActiveSessions(ctx context.Context, tenantID string, since time.Time) ([]string, error)
	LastMessage(ctx context.Context, tenantID, sessionID string) (*models.ChatMessage, error)
	RecentTurns(ctx context.Context, tenantID, sessionID string, n int) ([]models.Turn, error)
	Lead(ctx context.Context, tenantID, sessionID string) (*models.Lead, error)
	LatestSchedule(ctx context.Context, tenantID, sessionID string) (*models.FollowUpSchedule, error)
	UpsertActive(ctx context.Context, sched *models.FollowUpSchedule) error
	Restart(ctx context.Context, tenantID string, id uint, snap store.Snapshot, lastInteractionAt, nextDue time.Time) (bool, error)
	RefreshSnapshot(ctx context.Context, tenantID string, id uint, snap store.Snapshot) error
	Deactivate(ctx context.Context, tenantID string, id uint, reason string, at time.Time) (bool, error)
}

// Guards runs the pause and terminal-status checks.
type Guards interface {
	CheckStanding(ctx context.Context, t tenant.Tenant, cand guard.Candidate) (guard.Verdict, error)
}

// Config tunes a Scanner.
type Config struct {
	Lookback        time.Duration
	EchoWindow      time.Duration
	TranscriptTurns int
	StoreTimeout    time.Duration
	DryRun          bool
}

// Deps are the collaborators of a Scanner.
type Deps struct {
	Store    Store
	Guards   Guards
	Table    *escalation.Table
	Metrics  *telemetry.Metrics
	Notifier notify.Notifier
	Logger   *slog.Logger
	Now      func() time.Time
}

// Scanner runs intake passes.
type Scanner struct {
	store    Store
	guards   Guards
	table    *escalation.Table
	metrics  *telemetry.Metrics
	notifier notify.Notifier
	logger   *slog.Logger
	now      func() time.Time
	cfg      Config
}

// New validates deps and builds a Scanner.
func New(deps Deps, cfg Config) (*Scanner, error) {
	switch {
	case deps.Store == nil:
		return nil, fmt.Errorf("intake: store is required")
	case deps.Guards == nil:
		return nil, fmt.Errorf("intake: guard chain is required")
	case deps.Table == nil:
		return nil, fmt.Errorf("intake: escalation table is required")
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = 24 * time.Hour
	}
	if cfg.TranscriptTurns <= 0 {
		cfg.TranscriptTurns = 10
	}
	s := &Scanner{
		store:    deps.Store,
		guards:   deps.Guards,
		table:    deps.Table,
		metrics:  deps.Metrics,
		notifier: deps.Notifier,
		logger:   deps.Logger,
		now:      deps.Now,
		cfg:      cfg,
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// DryRun returns a copy of s that persists nothing.
func (s *Scanner) DryRun() *Scanner {
	cp := *s
	cp.cfg.DryRun = true
	return &cp
}

// Action is what the scanner did with one session.
type Action string

const (
	ActionScheduled Action = "scheduled"
	ActionRestarted Action = "restarted"
	ActionCancelled Action = "cancelled"
	ActionRefreshed Action = "refreshed"
	ActionSkipped   Action = "skipped"
	ActionNone      Action = "none"
	ActionError     Action = "error"
)

// SessionResult records the outcome for one session.
type SessionResult struct {
	SessionID string `json:"session_id"`
	Action    Action `json:"action"`
	Reason    string `json:"reason,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Summary is the outcome of one pass.
type Summary struct {
	RunID     string          `json:"run_id"`
	TenantID  string          `json:"tenant_id"`
	DryRun    bool            `json:"dry_run"`
	Sessions  int             `json:"sessions"`
	Scheduled int             `json:"scheduled"`
	Cancelled int             `json:"cancelled"`
	Refreshed int             `json:"refreshed"`
	Skipped   int             `json:"skipped"`
	Errors    int             `json:"errors"`
	Results   []SessionResult `json:"results"`
}

func (s *Summary) add(r SessionResult) {
	s.Results = append(s.Results, r)
	switch r.Action {
	case ActionScheduled, ActionRestarted:
		s.Scheduled++
	case ActionCancelled:
		s.Cancelled++
	case ActionRefreshed:
		s.Refreshed++
	case ActionSkipped:
		s.Skipped++
	case ActionError:
		s.Errors++
	}
}

// Pass scans the tenant's recently active sessions. It returns an error only
// when the session list cannot be loaded or ctx is cancelled.
func (s *Scanner) Pass(ctx context.Context, t tenant.Tenant) (Summary, error) {
	started := s.now()
	sum := Summary{RunID: uuid.NewString(), TenantID: t.ID, DryRun: s.cfg.DryRun}
	log := s.logger.With("pass", "intake", "tenant", t.ID, "run_id", sum.RunID)

	qctx, cancel := s.storeCtx(ctx)
	sessions, err := s.store.ActiveSessions(qctx, t.ID, started.Add(-s.cfg.Lookback))
	cancel()
	if err != nil {
		return sum, fmt.Errorf("intake: load active sessions for %s: %w", t.ID, err)
	}
	sum.Sessions = len(sessions)

	for _, sessionID := range sessions {
		if err := ctx.Err(); err != nil {
			s.finish(ctx, t, &sum, started)
			return sum, err
		}
		res := s.scan(ctx, t, sessionID, log)
		sum.add(res)
	}

	s.finish(ctx, t, &sum, started)
	if sum.Sessions > 0 {
		log.Info("intake pass finished",
			"sessions", sum.Sessions, "scheduled", sum.Scheduled, "cancelled", sum.Cancelled,
			"refreshed", sum.Refreshed, "errors", sum.Errors)
	}
	return sum, nil
}

func (s *Scanner) scan(ctx context.Context, t tenant.Tenant, sessionID string, log *slog.Logger) SessionResult {
	res := SessionResult{SessionID: sessionID, Action: ActionNone}
	log = log.With("session_id", sessionID)
	fail := func(err error) SessionResult {
		res.Action = ActionError
		res.Error = err.Error()
		log.Error("intake session failed", "error", err)
		return res
	}

	qctx, cancel := s.storeCtx(ctx)
	last, err := s.store.LastMessage(qctx, t.ID, sessionID)
	cancel()
	if errors.Is(err, store.ErrNotFound) {
		return res
	}
	if err != nil {
		return fail(err)
	}

	qctx, cancel = s.storeCtx(ctx)
	latest, err := s.store.LatestSchedule(qctx, t.ID, sessionID)
	cancel()
	if errors.Is(err, store.ErrNotFound) {
		latest = nil
	} else if err != nil {
		return fail(err)
	}
	var active *models.FollowUpSchedule
	if latest != nil && latest.IsActive {
		active = latest
	}

	// The lead spoke last: any open schedule is done.
	if last.FromLead() {
		if active == nil {
			return res
		}
		if err := s.deactivate(ctx, t, active.ID, models.ReasonResponded); err != nil {
			return fail(err)
		}
		log.Info("lead replied; schedule closed", "schedule_id", active.ID)
		res.Action = ActionCancelled
		res.Reason = models.ReasonResponded
		return res
	}

	// The automation spoke last.
	lastAt := last.CreatedAt.UTC()

	// A closed schedule stays closed until the conversation moves past it.
	if active == nil && latest != nil && !s.newerThan(latest, lastAt) {
		return res
	}

	snap, phoneNumber, err := s.snapshot(ctx, t, sessionID, last)
	if err != nil {
		return fail(err)
	}

	if active != nil && !s.newerThan(active, lastAt) {
		if s.cfg.DryRun {
			res.Action = ActionRefreshed
			return res
		}
		qctx, cancel = s.storeCtx(ctx)
		err := s.store.RefreshSnapshot(qctx, t.ID, active.ID, snap)
		cancel()
		if err != nil {
			return fail(err)
		}
		res.Action = ActionRefreshed
		return res
	}

	cand := guard.Candidate{SessionID: sessionID, PhoneNumber: phoneNumber}
	if active != nil {
		cand.ScheduleID = active.ID
	}
	qctx, cancel = s.storeCtx(ctx)
	verdict, err := s.guards.CheckStanding(qctx, t, cand)
	cancel()
	if err != nil {
		return fail(err)
	}
	if verdict.Fired {
		if active == nil {
			res.Action = ActionSkipped
			res.Reason = verdict.Reason
			return res
		}
		if err := s.deactivate(ctx, t, active.ID, verdict.Reason); err != nil {
			return fail(err)
		}
		res.Action = ActionCancelled
		res.Reason = verdict.Reason
		return res
	}

	if phoneNumber == "" {
		log.Warn("no phone number for session; not scheduling")
		res.Action = ActionSkipped
		res.Reason = "no_phone"
		return res
	}

	next, ok := s.table.NextDue(t.Local(lastAt), 1)
	if !ok {
		return fail(fmt.Errorf("intake: escalation table has no first stage"))
	}

	if active != nil {
		if s.cfg.DryRun {
			res.Action = ActionRestarted
			return res
		}
		qctx, cancel = s.storeCtx(ctx)
		applied, err := s.store.Restart(qctx, t.ID, active.ID, snap, lastAt, next)
		cancel()
		if err != nil {
			return fail(err)
		}
		if !applied {
			res.Action = ActionRefreshed
			return res
		}
		s.metrics.RecordScheduled(ctx, t.ID)
		log.Info("schedule restarted", "schedule_id", active.ID, "next_followup_at", next)
		res.Action = ActionRestarted
		return res
	}

	if s.cfg.DryRun {
		res.Action = ActionScheduled
		return res
	}
	sched := &models.FollowUpSchedule{
		TenantID:            t.ID,
		SessionID:           sessionID,
		PhoneNumber:         phoneNumber,
		LeadName:            snap.LeadName,
		LastMessage:         snap.LastMessage,
		ConversationContext: snap.Context,
		FunnelStage:         snap.FunnelStage,
		LastInteractionAt:   lastAt,
		AttemptCount:        0,
		NextFollowupAt:      &next,
	}
	qctx, cancel = s.storeCtx(ctx)
	err = s.store.UpsertActive(qctx, sched)
	cancel()
	if err != nil {
		return fail(err)
	}
	s.metrics.RecordScheduled(ctx, t.ID)
	log.Info("schedule created", "schedule_id", sched.ID, "next_followup_at", next)
	res.Action = ActionScheduled
	return res
}

// newerThan reports whether an automated message at lastAt is a conversation
// event past sched. Messages no newer than the tracked interaction, and the
// echo of our own follow-up, are not.
func (s *Scanner) newerThan(sched *models.FollowUpSchedule, lastAt time.Time) bool {
	if !lastAt.After(sched.LastInteractionAt) {
		return false
	}
	if sched.LastFollowupAt != nil && s.cfg.EchoWindow > 0 {
		if !lastAt.After(sched.LastFollowupAt.Add(s.cfg.EchoWindow)) {
			return false
		}
	}
	return true
}

// snapshot builds the transcript snapshot and resolves the lead's phone.
func (s *Scanner) snapshot(ctx context.Context, t tenant.Tenant, sessionID string, last *models.ChatMessage) (store.Snapshot, string, error) {
	qctx, cancel := s.storeCtx(ctx)
	turns, err := s.store.RecentTurns(qctx, t.ID, sessionID, s.cfg.TranscriptTurns)
	cancel()
	if err != nil {
		return store.Snapshot{}, "", err
	}
	encoded, err := models.EncodeTurns(turns)
	if err != nil {
		return store.Snapshot{}, "", fmt.Errorf("intake: encode transcript: %w", err)
	}
	snap := store.Snapshot{LastMessage: last.Content, Context: encoded}
	phoneNumber := last.PhoneNumber

	qctx, cancel = s.storeCtx(ctx)
	lead, err := s.store.Lead(qctx, t.ID, sessionID)
	cancel()
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return store.Snapshot{}, "", err
	default:
		snap.LeadName = lead.Name
		snap.FunnelStage = lead.Stage
		if phoneNumber == "" {
			phoneNumber = lead.PhoneNumber
		}
	}
	snap.PhoneNumber = phoneNumber
	return snap, phoneNumber, nil
}

func (s *Scanner) deactivate(ctx context.Context, t tenant.Tenant, id uint, reason string) error {
	if s.cfg.DryRun {
		return nil
	}
	qctx, cancel := s.storeCtx(ctx)
	defer cancel()
	if _, err := s.store.Deactivate(qctx, t.ID, id, reason, s.now()); err != nil {
		return err
	}
	s.metrics.RecordCancel(ctx, t.ID, reason)
	return nil
}

func (s *Scanner) finish(ctx context.Context, t tenant.Tenant, sum *Summary, started time.Time) {
	s.metrics.RecordPass(ctx, t.ID, "intake", s.now().Sub(started).Seconds())
	if s.notifier == nil || sum.Errors == 0 {
		return
	}
	report := notify.Report{
		Pass:       "intake",
		TenantID:   t.ID,
		TenantName: t.Name,
		RunID:      sum.RunID,
		DryRun:     sum.DryRun,
		Counts: []notify.Count{
			{Name: "sessions", Value: sum.Sessions},
			{Name: "scheduled", Value: sum.Scheduled},
			{Name: "cancelled", Value: sum.Cancelled},
			{Name: "errors", Value: sum.Errors},
		},
	}
	for _, r := range sum.Results {
		if r.Error != "" {
			report.Errors = append(report.Errors, fmt.Sprintf("session %s: %s", r.SessionID, r.Error))
		}
	}
	if err := s.notifier.Notify(ctx, notify.FormatReport(report)); err != nil {
		s.logger.Warn("intake alert failed", "tenant", t.ID, "error", err)
	}
}

func (s *Scanner) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.StoreTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.StoreTimeout)
}
