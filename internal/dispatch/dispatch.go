// Package dispatch implements the follow-up dispatch loop: one pass picks up
// a tenant's due schedules and, row by row, runs the guard chain, asks the
// analyzer, composes the message, sends it and advances or closes the row.
package dispatch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/zulandar/caboose/internal/analyzer"
	"github.com/zulandar/caboose/internal/escalation"
	"github.com/zulandar/caboose/internal/gateway"
	"github.com/zulandar/caboose/internal/guard"
	"github.com/zulandar/caboose/internal/message"
	"github.com/zulandar/caboose/internal/models"
	"github.com/zulandar/caboose/internal/notify"
	"github.com/zulandar/caboose/internal/telemetry"
	"github.com/zulandar/caboose/internal/tenant"
)

// Store is the data access the dispatch loop needs.
type Store interface {
	guard.Deactivator
	DueSchedules(ctx context.Context, tenantID string, now time.Time, limit int) ([]models.FollowUpSchedule, error)
	RecentTurns(ctx context.Context, tenantID, sessionID string, n int) ([]models.Turn, error)
	Advance(ctx context.Context, tenantID string, id uint, fromAttempt int, sentAt, nextDue time.Time) (bool, error)
	Exhaust(ctx context.Context, tenantID string, id uint, fromAttempt int, sentAt time.Time) (bool, error)
	AppendLog(ctx context.Context, entry *models.FollowUpLog) error
}

// Guards checks a candidate against live data and closes it when a guard
// fires.
type Guards interface {
	Check(ctx context.Context, t tenant.Tenant, cand guard.Candidate) (guard.Verdict, error)
	Run(ctx context.Context, t tenant.Tenant, cand guard.Candidate, d guard.Deactivator, now time.Time) (guard.Verdict, error)
}

// Analyzer judges whether to send.
type Analyzer interface {
	Analyze(ctx context.Context, in analyzer.Input) analyzer.Decision
}

// Config tunes a Dispatcher.
type Config struct {
	BatchSize       int
	StoreTimeout    time.Duration
	GatewayTimeout  time.Duration
	SendDelay       time.Duration
	TypingDelay     time.Duration
	TranscriptTurns int
	DryRun          bool
}

// Deps are the collaborators of a Dispatcher. Metrics, Notifier, Logger and
// the clock hooks are optional.
type Deps struct {
	Store    Store
	Guards   Guards
	Analyzer Analyzer
	Selector *message.Selector
	Gateway  gateway.Gateway
	Table    *escalation.Table
	Metrics  *telemetry.Metrics
	Notifier notify.Notifier
	Logger   *slog.Logger

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// Dispatcher runs dispatch passes. It holds no per-pass state, so passes for
// different tenants may run concurrently.
type Dispatcher struct {
	store    Store
	guards   Guards
	analyzer Analyzer
	selector *message.Selector
	gateway  gateway.Gateway
	table    *escalation.Table
	metrics  *telemetry.Metrics
	notifier notify.Notifier
	logger   *slog.Logger
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
	cfg      Config
}

// New validates deps and builds a Dispatcher.
func New(deps Deps, cfg Config) (*Dispatcher, error) {
	switch {
	case deps.Store == nil:
		return nil, fmt.Errorf("dispatch: store is required")
	case deps.Guards == nil:
		return nil, fmt.Errorf("dispatch: guard chain is required")
	case deps.Analyzer == nil:
		return nil, fmt.Errorf("dispatch: analyzer is required")
	case deps.Selector == nil:
		return nil, fmt.Errorf("dispatch: message selector is required")
	case deps.Gateway == nil:
		return nil, fmt.Errorf("dispatch: gateway is required")
	case deps.Table == nil:
		return nil, fmt.Errorf("dispatch: escalation table is required")
	}
	if deps.Selector.Stages() < deps.Table.Len() {
		return nil, fmt.Errorf("dispatch: %d templates for %d escalation stages", deps.Selector.Stages(), deps.Table.Len())
	}

	d := &Dispatcher{
		store:    deps.Store,
		guards:   deps.Guards,
		analyzer: deps.Analyzer,
		selector: deps.Selector,
		gateway:  deps.Gateway,
		table:    deps.Table,
		metrics:  deps.Metrics,
		notifier: deps.Notifier,
		logger:   deps.Logger,
		now:      deps.Now,
		sleep:    deps.Sleep,
		cfg:      cfg,
	}
	if d.logger == nil {
		d.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if d.now == nil {
		d.now = time.Now
	}
	if d.sleep == nil {
		d.sleep = sleepWithContext
	}
	if d.cfg.TranscriptTurns <= 0 {
		d.cfg.TranscriptTurns = 10
	}
	return d, nil
}

// DryRun returns a copy of d that makes every decision but persists and
// sends nothing.
func (d *Dispatcher) DryRun() *Dispatcher {
	cp := *d
	cp.cfg.DryRun = true
	return &cp
}

// State is the terminal state of one row within a pass.
type State string

const (
	StateGuardedOut     State = "guarded_out"
	StateAIStopped      State = "ai_stopped"
	StateSentContinuing State = "sent_continuing"
	StateSentExhausted  State = "sent_exhausted"
	StateExhausted      State = "exhausted"
	StateSendFailed     State = "send_failed"
	StateError          State = "error"
)

// RowResult records what happened to one due row.
type RowResult struct {
	ScheduleID uint   `json:"schedule_id"`
	SessionID  string `json:"session_id"`
	Attempt    int    `json:"attempt"`
	State      State  `json:"state"`
	Reason     string `json:"reason,omitempty"`
	Source     string `json:"source,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Summary is the outcome of one pass.
type Summary struct {
	RunID     string      `json:"run_id"`
	TenantID  string      `json:"tenant_id"`
	DryRun    bool        `json:"dry_run"`
	Total     int         `json:"total"`
	Sent      int         `json:"sent"`
	Errors    int         `json:"errors"`
	Cancelled int         `json:"cancelled"`
	Stopped   int         `json:"stopped"`
	Exhausted int         `json:"exhausted"`
	Degraded  int         `json:"degraded"`
	Rows      []RowResult `json:"rows"`
}

func (s *Summary) add(r RowResult) {
	s.Rows = append(s.Rows, r)
	switch r.State {
	case StateGuardedOut:
		s.Cancelled++
	case StateAIStopped:
		s.Stopped++
	case StateSentContinuing:
		s.Sent++
	case StateSentExhausted:
		s.Sent++
		s.Exhausted++
	case StateExhausted:
		s.Exhausted++
	case StateSendFailed, StateError:
		s.Errors++
	}
}

// Pass processes the tenant's due schedules sequentially. It returns an error
// only when the due rows cannot be loaded or ctx is cancelled; per-row
// failures are counted in the summary.
func (d *Dispatcher) Pass(ctx context.Context, t tenant.Tenant) (Summary, error) {
	started := d.now()
	sum := Summary{RunID: uuid.NewString(), TenantID: t.ID, DryRun: d.cfg.DryRun}
	log := d.logger.With("pass", "dispatch", "tenant", t.ID, "run_id", sum.RunID)

	qctx, cancel := d.storeCtx(ctx)
	due, err := d.store.DueSchedules(qctx, t.ID, started, d.cfg.BatchSize)
	cancel()
	if err != nil {
		return sum, fmt.Errorf("dispatch: load due schedules for %s: %w", t.ID, err)
	}
	sum.Total = len(due)
	if len(due) == 0 {
		return sum, nil
	}
	log.Info("dispatch pass started", "due", len(due), "dry_run", d.cfg.DryRun)

	sends := 0
	for i := range due {
		if err := ctx.Err(); err != nil {
			log.Warn("dispatch pass cancelled", "processed", i, "due", len(due))
			d.finish(ctx, t, &sum, started)
			return sum, err
		}
		res := d.processRow(ctx, t, &due[i], &sends, &sum, log)
		sum.add(res)
	}

	d.finish(ctx, t, &sum, started)
	log.Info("dispatch pass finished",
		"total", sum.Total, "sent", sum.Sent, "errors", sum.Errors,
		"cancelled", sum.Cancelled, "stopped", sum.Stopped, "exhausted", sum.Exhausted)
	return sum, nil
}

func (d *Dispatcher) processRow(ctx context.Context, t tenant.Tenant, row *models.FollowUpSchedule, sends *int, sum *Summary, log *slog.Logger) RowResult {
	attempt := row.AttemptCount + 1
	res := RowResult{ScheduleID: row.ID, SessionID: row.SessionID, Attempt: attempt}
	log = log.With("schedule_id", row.ID, "session_id", row.SessionID, "attempt", attempt)

	fail := func(state State, err error) RowResult {
		res.State = state
		res.Error = err.Error()
		log.Error("dispatch row failed", "state", state, "error", err)
		return res
	}

	// A row past the last stage should not exist while active; close it
	// without sending.
	if attempt > d.table.Len() {
		if err := d.deactivate(ctx, t, row.ID, models.ReasonUnresponsive); err != nil {
			return fail(StateError, err)
		}
		d.metrics.RecordCancel(ctx, t.ID, models.ReasonUnresponsive)
		log.Info("schedule past last stage; closed", "reason", models.ReasonUnresponsive)
		res.State = StateExhausted
		res.Reason = models.ReasonUnresponsive
		return res
	}

	// Guard chain against live data.
	cand := guard.Candidate{ScheduleID: row.ID, SessionID: row.SessionID, PhoneNumber: row.PhoneNumber}
	gctx, cancel := d.storeCtx(ctx)
	var verdict guard.Verdict
	var err error
	if d.cfg.DryRun {
		verdict, err = d.guards.Check(gctx, t, cand)
	} else {
		verdict, err = d.guards.Run(gctx, t, cand, d.store, d.now())
	}
	cancel()
	if err != nil {
		return fail(StateError, err)
	}
	if verdict.Fired {
		d.metrics.RecordCancel(ctx, t.ID, verdict.Reason)
		log.Info("schedule cancelled by guard", "guard", verdict.Guard, "reason", verdict.Reason)
		res.State = StateGuardedOut
		res.Reason = verdict.Reason
		return res
	}

	// Fresh transcript for the analyzer; the row snapshot is only a fallback
	// when the session has no stored messages.
	tctx, cancel := d.storeCtx(ctx)
	turns, err := d.store.RecentTurns(tctx, t.ID, row.SessionID, d.cfg.TranscriptTurns)
	cancel()
	if err != nil {
		return fail(StateError, fmt.Errorf("dispatch: load transcript: %w", err))
	}
	if len(turns) == 0 {
		turns, _ = row.Turns()
	}
	lastMessage := row.LastMessage
	if len(turns) > 0 {
		lastMessage = turns[len(turns)-1].Content
	}

	decision := d.analyzer.Analyze(ctx, analyzer.Input{
		LeadName:          row.LeadName,
		LastMessage:       lastMessage,
		Transcript:        turns,
		Attempt:           attempt,
		MaxAttempts:       d.table.Len(),
		LastInteractionAt: t.Local(row.LastInteractionAt),
		FunnelStage:       row.FunnelStage,
	})
	if decision.Degraded {
		sum.Degraded++
		d.metrics.RecordDegraded(ctx, t.ID)
	}
	if !decision.ShouldSend {
		if err := d.deactivate(ctx, t, row.ID, models.ReasonStopped); err != nil {
			return fail(StateError, err)
		}
		log.Info("analyzer declined follow-up", "reasoning", decision.Reasoning)
		res.State = StateAIStopped
		res.Reason = models.ReasonStopped
		return res
	}

	text, source, err := d.selector.Select(decision.Message, attempt, row.LeadName)
	if err != nil {
		return fail(StateError, err)
	}
	res.Source = string(source)

	number := gateway.NormalizePhone(row.PhoneNumber, t.CountryCode)
	entry := &models.FollowUpLog{
		TenantID:      t.ID,
		ScheduleID:    row.ID,
		SessionID:     row.SessionID,
		RunID:         sum.RunID,
		Attempt:       attempt,
		Message:       text,
		MessageSource: string(source),
		Reasoning:     decision.Reasoning,
		Degraded:      decision.Degraded,
	}

	if d.cfg.DryRun {
		log.Info("dry run: would send follow-up", "phone", number, "source", source, "text", text)
		res.State = d.successState(attempt)
		return res
	}

	// Outbound pacing between sends within one pass.
	if *sends > 0 && d.cfg.SendDelay > 0 {
		if err := d.sleep(ctx, d.cfg.SendDelay); err != nil {
			return fail(StateError, err)
		}
	}
	*sends++

	sendCtx, cancel := d.gatewayCtx(ctx)
	result, sendErr := d.sendTo(sendCtx, t.Instance, number, text)
	cancel()
	sentAt := d.now()

	entry.GatewayMessageID = result.ID
	entry.GatewayResponse = result.Raw
	if sendErr != nil {
		entry.Outcome = models.OutcomeFailed
		entry.Error = sendErr.Error()
		d.appendLog(ctx, entry, log)
		d.metrics.RecordSend(ctx, t.ID, false)
		return fail(StateSendFailed, sendErr)
	}

	entry.Outcome = models.OutcomeSent
	d.appendLog(ctx, entry, log)
	d.metrics.RecordSend(ctx, t.ID, true)

	wctx, cancel := d.storeCtx(ctx)
	defer cancel()
	if next, ok := d.table.NextDue(t.Local(sentAt), attempt+1); ok {
		applied, err := d.store.Advance(wctx, t.ID, row.ID, row.AttemptCount, sentAt, next)
		if err != nil {
			return fail(StateError, err)
		}
		if !applied {
			log.Warn("schedule changed during send; advance skipped")
		}
		log.Info("follow-up sent", "source", source, "next_followup_at", next)
		res.State = StateSentContinuing
		return res
	}

	applied, err := d.store.Exhaust(wctx, t.ID, row.ID, row.AttemptCount, sentAt)
	if err != nil {
		return fail(StateError, err)
	}
	if !applied {
		log.Warn("schedule changed during send; exhaust skipped")
	}
	d.metrics.RecordCancel(ctx, t.ID, models.ReasonUnresponsive)
	log.Info("final follow-up sent; schedule closed", "source", source, "reason", models.ReasonUnresponsive)
	res.State = StateSentExhausted
	res.Reason = models.ReasonUnresponsive
	return res
}

func (d *Dispatcher) sendTo(ctx context.Context, instance, number, text string) (gateway.Result, error) {
	if number == "" {
		return gateway.Result{}, fmt.Errorf("dispatch: schedule has no usable phone number")
	}
	return d.gateway.Send(ctx, instance, number, text, d.cfg.TypingDelay)
}

func (d *Dispatcher) successState(attempt int) State {
	if attempt >= d.table.Len() {
		return StateSentExhausted
	}
	return StateSentContinuing
}

func (d *Dispatcher) deactivate(ctx context.Context, t tenant.Tenant, id uint, reason string) error {
	if d.cfg.DryRun {
		return nil
	}
	sctx, cancel := d.storeCtx(ctx)
	defer cancel()
	if _, err := d.store.Deactivate(sctx, t.ID, id, reason, d.now()); err != nil {
		return err
	}
	d.metrics.RecordCancel(ctx, t.ID, reason)
	return nil
}

func (d *Dispatcher) appendLog(ctx context.Context, entry *models.FollowUpLog, log *slog.Logger) {
	lctx, cancel := d.storeCtx(ctx)
	defer cancel()
	if err := d.store.AppendLog(lctx, entry); err != nil {
		log.Error("write follow-up log", "outcome", entry.Outcome, "error", err)
	}
}

// finish records pass metrics and posts an operator alert when warranted.
func (d *Dispatcher) finish(ctx context.Context, t tenant.Tenant, sum *Summary, started time.Time) {
	d.metrics.RecordPass(ctx, t.ID, "dispatch", d.now().Sub(started).Seconds())
	if d.notifier == nil {
		return
	}
	report := notify.Report{
		Pass:       "dispatch",
		TenantID:   t.ID,
		TenantName: t.Name,
		RunID:      sum.RunID,
		DryRun:     sum.DryRun,
		Counts: []notify.Count{
			{Name: "due", Value: sum.Total},
			{Name: "sent", Value: sum.Sent},
			{Name: "cancelled", Value: sum.Cancelled},
			{Name: "stopped", Value: sum.Stopped},
			{Name: "exhausted", Value: sum.Exhausted},
			{Name: "errors", Value: sum.Errors},
		},
	}
	for _, r := range sum.Rows {
		switch {
		case r.Error != "":
			report.Errors = append(report.Errors, fmt.Sprintf("schedule %d (%s): %s", r.ScheduleID, r.SessionID, r.Error))
		case r.State == StateSentExhausted, r.State == StateExhausted:
			report.Exhausted = append(report.Exhausted, r.SessionID)
		}
	}
	if !report.Worth() {
		return
	}
	if err := d.notifier.Notify(ctx, notify.FormatReport(report)); err != nil {
		d.logger.Warn("dispatch alert failed", "tenant", t.ID, "error", err)
	}
}

func (d *Dispatcher) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.cfg.StoreTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d.cfg.StoreTimeout)
}

func (d *Dispatcher) gatewayCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.cfg.GatewayTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d.cfg.GatewayTimeout)
}

// sleepWithContext waits for d or until ctx is cancelled.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
