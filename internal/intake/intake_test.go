package intake

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zulandar/caboose/internal/config"
	"github.com/zulandar/caboose/internal/db"
	"github.com/zulandar/caboose/internal/escalation"
	"github.com/zulandar/caboose/internal/guard"
	"github.com/zulandar/caboose/internal/hours"
	"github.com/zulandar/caboose/internal/models"
	"github.com/zulandar/caboose/internal/store"
	"github.com/zulandar/caboose/internal/tenant"
)

// Monday 2025-03-03 19:00 UTC, after business hours.
var now = time.Date(2025, 3, 3, 19, 0, 0, 0, time.UTC)

var acme = tenant.Tenant{ID: "acme", Name: "Acme", Location: time.UTC, CountryCode: "55"}

const leadPhone = "5511999990000"

type harness struct {
	t     *testing.T
	store *store.Store
	s     *Scanner
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gdb, err := db.Open(config.DatabaseConfig{Driver: "sqlite", Path: ":memory:"})
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(gdb, true))

	st := store.New(gdb)
	table, err := escalation.New(escalation.DefaultIntervals, hours.Default())
	require.NoError(t, err)

	s, err := New(Deps{
		Store:  st,
		Guards: guard.New(st, st, st, config.DefaultTerminalStatuses),
		Table:  table,
		Now:    func() time.Time { return now },
	}, Config{Lookback: 24 * time.Hour, EchoWindow: 2 * time.Minute, TranscriptTurns: 10})
	require.NoError(t, err)
	return &harness{t: t, store: st, s: s}
}

func (h *harness) chat(session, role, content string, at time.Time) {
	h.t.Helper()
	require.NoError(h.t, h.store.DB().Create(&models.ChatMessage{
		TenantID: acme.ID, SessionID: session, PhoneNumber: leadPhone,
		Role: role, Content: content, CreatedAt: at,
	}).Error)
}

func (h *harness) lead(session, name, status string) {
	h.t.Helper()
	require.NoError(h.t, h.store.DB().Create(&models.Lead{
		TenantID: acme.ID, SessionID: session, PhoneNumber: leadPhone,
		Name: name, Status: status, Stage: "qualificacao",
	}).Error)
}

func (h *harness) active(session string) *models.FollowUpSchedule {
	h.t.Helper()
	sched, err := h.store.ActiveSchedule(context.Background(), acme.ID, session)
	require.NoError(h.t, err)
	return sched
}

func (h *harness) schedule(session string, attempt int, lastInteraction time.Time, lastFollowup *time.Time) *models.FollowUpSchedule {
	h.t.Helper()
	next := lastInteraction.Add(time.Hour)
	sched := &models.FollowUpSchedule{
		TenantID:          acme.ID,
		SessionID:         session,
		PhoneNumber:       leadPhone,
		LastInteractionAt: lastInteraction,
		LastFollowupAt:    lastFollowup,
		AttemptCount:      attempt,
		NextFollowupAt:    &next,
	}
	require.NoError(h.t, h.store.UpsertActive(context.Background(), sched))
	return sched
}

// Automated message inside business hours: the first attempt is due ten
// minutes later.
func TestPass_SchedulesAfterAutomatedMessage(t *testing.T) {
	h := newHarness(t)
	h.lead("s1", "Ana Souza", "novo")
	h.chat("s1", models.RoleUser, "Quero saber o preço", time.Date(2025, 3, 3, 13, 58, 0, 0, time.UTC))
	h.chat("s1", models.RoleAssistant, "Claro! Qual modelo?", time.Date(2025, 3, 3, 14, 0, 0, 0, time.UTC))

	sum, err := h.s.Pass(context.Background(), acme)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Sessions)
	assert.Equal(t, 1, sum.Scheduled)
	assert.NotEmpty(t, sum.RunID)

	sched := h.active("s1")
	assert.Equal(t, 0, sched.AttemptCount)
	assert.Equal(t, "Ana Souza", sched.LeadName)
	assert.Equal(t, "qualificacao", sched.FunnelStage)
	assert.Equal(t, leadPhone, sched.PhoneNumber)
	assert.Equal(t, "Claro! Qual modelo?", sched.LastMessage)
	require.NotNil(t, sched.NextFollowupAt)
	assert.True(t, time.Date(2025, 3, 3, 14, 10, 0, 0, time.UTC).Equal(*sched.NextFollowupAt))
	assert.Nil(t, sched.LastFollowupAt)

	turns, err := sched.Turns()
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, models.RoleUser, turns[0].Role)
	assert.Equal(t, "Claro! Qual modelo?", turns[1].Content)
}

// Automated message at 17:55 Monday: 18:05 is after hours, so the first
// attempt moves to Tuesday 08:00.
func TestPass_FirstAttemptRespectsBusinessHours(t *testing.T) {
	h := newHarness(t)
	at := time.Date(2025, 3, 3, 17, 55, 0, 0, time.UTC)
	h.chat("s1", models.RoleAssistant, "Posso ajudar em algo mais?", at)

	_, err := h.s.Pass(context.Background(), acme)
	require.NoError(t, err)

	sched := h.active("s1")
	want := hours.Default().Advance(at.Add(10 * time.Minute))
	assert.True(t, want.Equal(*sched.NextFollowupAt))
	assert.True(t, time.Date(2025, 3, 4, 8, 0, 0, 0, time.UTC).Equal(*sched.NextFollowupAt))
}

func TestPass_SecondPassIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.chat("s1", models.RoleAssistant, "Oi!", time.Date(2025, 3, 3, 14, 0, 0, 0, time.UTC))

	_, err := h.s.Pass(context.Background(), acme)
	require.NoError(t, err)
	first := h.active("s1")

	sum, err := h.s.Pass(context.Background(), acme)
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Scheduled)
	assert.Equal(t, 1, sum.Refreshed)

	second := h.active("s1")
	assert.Equal(t, first.ID, second.ID)
	assert.True(t, first.NextFollowupAt.Equal(*second.NextFollowupAt))

	var count int64
	require.NoError(t, h.store.DB().Model(&models.FollowUpSchedule{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestPass_LeadReplyClosesSchedule(t *testing.T) {
	h := newHarness(t)
	sent := time.Date(2025, 3, 3, 14, 0, 0, 0, time.UTC)
	sched := h.schedule("s1", 2, sent, &sent)
	h.chat("s1", models.RoleAssistant, "Conseguiu ver?", sent)
	h.chat("s1", models.RoleUser, "Vi sim", sent.Add(time.Hour))

	sum, err := h.s.Pass(context.Background(), acme)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Cancelled)
	require.Len(t, sum.Results, 1)
	assert.Equal(t, models.ReasonResponded, sum.Results[0].Reason)

	got, err := h.store.GetSchedule(context.Background(), acme.ID, sched.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)
	assert.Equal(t, models.ReasonResponded, got.LeadStatus)
	assert.Nil(t, got.NextFollowupAt)
}

func TestPass_LeadReplyWithoutScheduleIsNoop(t *testing.T) {
	h := newHarness(t)
	h.chat("s1", models.RoleUser, "Oi", time.Date(2025, 3, 3, 14, 0, 0, 0, time.UTC))

	sum, err := h.s.Pass(context.Background(), acme)
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Scheduled)
	assert.Equal(t, 0, sum.Cancelled)
	assert.Equal(t, ActionNone, sum.Results[0].Action)

	_, err = h.store.ActiveSchedule(context.Background(), acme.ID, "s1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPass_NewAutomatedMessageRestartsEscalation(t *testing.T) {
	h := newHarness(t)
	old := time.Date(2025, 3, 3, 11, 0, 0, 0, time.UTC)
	sched := h.schedule("s1", 2, old, &old)
	h.chat("s1", models.RoleAssistant, "Temos uma promoção nova", time.Date(2025, 3, 3, 16, 0, 0, 0, time.UTC))

	sum, err := h.s.Pass(context.Background(), acme)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Scheduled)
	assert.Equal(t, ActionRestarted, sum.Results[0].Action)

	got := h.active("s1")
	assert.Equal(t, sched.ID, got.ID)
	assert.Equal(t, 0, got.AttemptCount)
	assert.Nil(t, got.LastFollowupAt)
	assert.True(t, time.Date(2025, 3, 3, 16, 10, 0, 0, time.UTC).Equal(*got.NextFollowupAt))
	assert.Equal(t, "Temos uma promoção nova", got.LastMessage)
}

// The follow-up we sent shows up in the transcript a few seconds after the
// send. It must not reset the escalation.
func TestPass_FollowUpEchoDoesNotRestart(t *testing.T) {
	h := newHarness(t)
	sent := time.Date(2025, 3, 3, 15, 0, 0, 0, time.UTC)
	sched := h.schedule("s1", 3, sent, &sent)
	h.chat("s1", models.RoleAssistant, "Oi Ana, tudo bem?", sent.Add(5*time.Second))

	sum, err := h.s.Pass(context.Background(), acme)
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Scheduled)
	assert.Equal(t, 1, sum.Refreshed)

	got := h.active("s1")
	assert.Equal(t, sched.ID, got.ID)
	assert.Equal(t, 3, got.AttemptCount)
	assert.Equal(t, "Oi Ana, tudo bem?", got.LastMessage)
}

func (h *harness) close(sched *models.FollowUpSchedule, reason string, at time.Time) {
	h.t.Helper()
	ok, err := h.store.Deactivate(context.Background(), acme.ID, sched.ID, reason, at)
	require.NoError(h.t, err)
	require.True(h.t, ok)
}

func (h *harness) rows(session string) []models.FollowUpSchedule {
	h.t.Helper()
	rows, err := h.store.ListSchedules(context.Background(), acme.ID, store.ListFilters{SessionID: session})
	require.NoError(h.t, err)
	return rows
}

// A schedule the dispatch loop closed stays closed while the transcript
// holds nothing newer than what the row already accounted for.
func TestPass_ClosedScheduleNotReopenedWithoutNewActivity(t *testing.T) {
	sent := time.Date(2025, 3, 3, 14, 0, 0, 0, time.UTC)
	tests := []struct {
		name      string
		attempt   int
		followup  *time.Time
		messageAt time.Time
		reason    string
	}{
		{"stopped after follow-up echo", 7, &sent, sent.Add(3 * time.Second), models.ReasonStopped},
		{"unresponsive after final follow-up echo", 8, &sent, sent.Add(3 * time.Second), models.ReasonUnresponsive},
		{"stopped before any follow-up", 0, nil, sent, models.ReasonStopped},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			h.lead("s1", "Ana", "novo")
			h.chat("s1", models.RoleAssistant, "Oi Ana, ainda tem interesse?", tc.messageAt)
			sched := h.schedule("s1", tc.attempt, sent, tc.followup)
			h.close(sched, tc.reason, sent.Add(2*time.Hour))

			sum, err := h.s.Pass(context.Background(), acme)
			require.NoError(t, err)
			assert.Equal(t, 0, sum.Scheduled)
			assert.Equal(t, ActionNone, sum.Results[0].Action)

			rows := h.rows("s1")
			require.Len(t, rows, 1)
			assert.Equal(t, sched.ID, rows[0].ID)
			assert.False(t, rows[0].IsActive)
			assert.Equal(t, tc.reason, rows[0].LeadStatus)
		})
	}
}

// A later automated message past a closed schedule starts a fresh one.
func TestPass_NewActivityAfterClosedScheduleStartsNewRow(t *testing.T) {
	h := newHarness(t)
	sent := time.Date(2025, 3, 3, 14, 0, 0, 0, time.UTC)
	old := h.schedule("s1", 7, sent, &sent)
	h.close(old, models.ReasonStopped, sent.Add(time.Minute))
	h.chat("s1", models.RoleAssistant, "Oi Ana, tudo bem?", sent.Add(3*time.Second))
	h.chat("s1", models.RoleAssistant, "Chegou o modelo novo!", time.Date(2025, 3, 3, 17, 0, 0, 0, time.UTC))

	sum, err := h.s.Pass(context.Background(), acme)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Scheduled)
	assert.Equal(t, ActionScheduled, sum.Results[0].Action)

	got := h.active("s1")
	assert.NotEqual(t, old.ID, got.ID)
	assert.Equal(t, 0, got.AttemptCount)
	assert.True(t, time.Date(2025, 3, 3, 17, 10, 0, 0, time.UTC).Equal(*got.NextFollowupAt))
	assert.Len(t, h.rows("s1"), 2)
}

// The lead replied (closing the schedule) and the automation answered: the
// answer is a new event and gets its own schedule.
func TestPass_AutomatedAnswerAfterResponseSchedules(t *testing.T) {
	h := newHarness(t)
	sent := time.Date(2025, 3, 3, 11, 0, 0, 0, time.UTC)
	old := h.schedule("s1", 2, sent, &sent)
	reply := time.Date(2025, 3, 3, 12, 0, 0, 0, time.UTC)
	h.chat("s1", models.RoleUser, "Tenho sim", reply)
	h.close(old, models.ReasonResponded, reply.Add(5*time.Minute))
	h.chat("s1", models.RoleAssistant, "Ótimo! Qual horário?", reply.Add(30*time.Second))

	sum, err := h.s.Pass(context.Background(), acme)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Scheduled)

	got := h.active("s1")
	assert.NotEqual(t, old.ID, got.ID)
	assert.True(t, reply.Add(30*time.Second+10*time.Minute).Equal(*got.NextFollowupAt))
}

func TestPass_PausedLeadIsNotScheduled(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.DB().Create(&models.PauseFlag{
		TenantID: acme.ID, PhoneNumber: leadPhone, Paused: true,
	}).Error)
	h.chat("s1", models.RoleAssistant, "Oi!", time.Date(2025, 3, 3, 14, 0, 0, 0, time.UTC))

	sum, err := h.s.Pass(context.Background(), acme)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Skipped)
	assert.Equal(t, models.ReasonPausedManual, sum.Results[0].Reason)

	_, err = h.store.ActiveSchedule(context.Background(), acme.ID, "s1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPass_TerminalStatusClosesActiveSchedule(t *testing.T) {
	h := newHarness(t)
	old := time.Date(2025, 3, 3, 11, 0, 0, 0, time.UTC)
	sched := h.schedule("s1", 1, old, &old)
	h.lead("s1", "Ana", "Perdido")
	h.chat("s1", models.RoleAssistant, "Que pena!", time.Date(2025, 3, 3, 16, 0, 0, 0, time.UTC))

	sum, err := h.s.Pass(context.Background(), acme)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Cancelled)

	got, err := h.store.GetSchedule(context.Background(), acme.ID, sched.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)
	assert.Equal(t, "status_perdido", got.LeadStatus)
}

func TestPass_SkipsSessionWithoutPhone(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.DB().Create(&models.ChatMessage{
		TenantID: acme.ID, SessionID: "web-1", Role: models.RoleAssistant,
		Content: "Oi!", CreatedAt: time.Date(2025, 3, 3, 14, 0, 0, 0, time.UTC),
	}).Error)

	sum, err := h.s.Pass(context.Background(), acme)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Skipped)
	assert.Equal(t, "no_phone", sum.Results[0].Reason)
}

func TestPass_IgnoresSessionsOutsideLookback(t *testing.T) {
	h := newHarness(t)
	h.chat("old", models.RoleAssistant, "Oi!", now.Add(-48*time.Hour))

	sum, err := h.s.Pass(context.Background(), acme)
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Sessions)
}

func TestPass_DryRunPersistsNothing(t *testing.T) {
	h := newHarness(t)
	h.chat("s1", models.RoleAssistant, "Oi!", time.Date(2025, 3, 3, 14, 0, 0, 0, time.UTC))
	sent := time.Date(2025, 3, 3, 14, 0, 0, 0, time.UTC)
	sched := h.schedule("s2", 1, sent, &sent)
	h.chat("s2", models.RoleUser, "Oi", sent.Add(time.Hour))

	sum, err := h.s.DryRun().Pass(context.Background(), acme)
	require.NoError(t, err)
	assert.True(t, sum.DryRun)
	assert.Equal(t, 1, sum.Scheduled)
	assert.Equal(t, 1, sum.Cancelled)

	_, err = h.store.ActiveSchedule(context.Background(), acme.ID, "s1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	got, err := h.store.GetSchedule(context.Background(), acme.ID, sched.ID)
	require.NoError(t, err)
	assert.True(t, got.IsActive)
}

// deadlineStore records the deadline each store call was given.
type deadlineStore struct {
	*store.Store
	reads  []time.Time
	writes []time.Time
}

func (d *deadlineStore) record(ctx context.Context, into *[]time.Time) {
	dl, _ := ctx.Deadline()
	*into = append(*into, dl)
}

func (d *deadlineStore) LastMessage(ctx context.Context, tenantID, sessionID string) (*models.ChatMessage, error) {
	d.record(ctx, &d.reads)
	time.Sleep(5 * time.Millisecond)
	return d.Store.LastMessage(ctx, tenantID, sessionID)
}

func (d *deadlineStore) UpsertActive(ctx context.Context, sched *models.FollowUpSchedule) error {
	d.record(ctx, &d.writes)
	return d.Store.UpsertActive(ctx, sched)
}

// Each store call gets its own timeout, so slow reads do not eat into the
// budget of the final write.
func TestPass_StoreTimeoutPerCall(t *testing.T) {
	h := newHarness(t)
	ds := &deadlineStore{Store: h.store}
	table, err := escalation.New(escalation.DefaultIntervals, hours.Default())
	require.NoError(t, err)
	s, err := New(Deps{
		Store:  ds,
		Guards: guard.New(h.store, h.store, h.store, config.DefaultTerminalStatuses),
		Table:  table,
		Now:    func() time.Time { return now },
	}, Config{Lookback: 24 * time.Hour, EchoWindow: 2 * time.Minute, StoreTimeout: time.Minute})
	require.NoError(t, err)
	h.chat("s1", models.RoleAssistant, "Oi!", time.Date(2025, 3, 3, 14, 0, 0, 0, time.UTC))

	sum, err := s.Pass(context.Background(), acme)
	require.NoError(t, err)
	require.Equal(t, 1, sum.Scheduled)

	require.Len(t, ds.reads, 1)
	require.Len(t, ds.writes, 1)
	require.False(t, ds.reads[0].IsZero())
	assert.True(t, ds.writes[0].After(ds.reads[0]), "write deadline %v should be later than read deadline %v", ds.writes[0], ds.reads[0])
}

func TestPass_CancelledContext(t *testing.T) {
	h := newHarness(t)
	h.chat("s1", models.RoleAssistant, "Oi!", time.Date(2025, 3, 3, 14, 0, 0, 0, time.UTC))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.s.Pass(ctx, acme)
	assert.Error(t, err)
}

func TestNew_RequiresDeps(t *testing.T) {
	_, err := New(Deps{}, Config{})
	assert.Error(t, err)

	table, err := escalation.New(escalation.DefaultIntervals, hours.Default())
	require.NoError(t, err)
	_, err = New(Deps{Store: &store.Store{}, Table: table}, Config{})
	assert.ErrorContains(t, err, "guard chain")
}

var _ Guards = (*guard.Chain)(nil)
