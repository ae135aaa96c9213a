package daemon

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zulandar/caboose/internal/dispatch"
	"github.com/zulandar/caboose/internal/intake"
	"github.com/zulandar/caboose/internal/tenant"
)

type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, s)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

type fakeIntake struct {
	rec *recorder
	err error
}

func (f *fakeIntake) Pass(_ context.Context, t tenant.Tenant) (intake.Summary, error) {
	f.rec.add("intake:" + t.ID)
	return intake.Summary{RunID: "r-in", TenantID: t.ID, Sessions: 3, Scheduled: 1}, f.err
}

type fakeDispatch struct {
	rec    *recorder
	onPass func()
}

func (f *fakeDispatch) Pass(_ context.Context, t tenant.Tenant) (dispatch.Summary, error) {
	f.rec.add("dispatch:" + t.ID)
	if f.onPass != nil {
		f.onPass()
	}
	return dispatch.Summary{RunID: "r-d", TenantID: t.ID, Total: 2, Sent: 2}, nil
}

var tenants = []tenant.Tenant{{ID: "acme"}, {ID: "globex"}}

func TestNew_Validates(t *testing.T) {
	rec := &recorder{}
	in, disp := &fakeIntake{rec: rec}, &fakeDispatch{rec: rec}
	cfg := Config{IntakeCron: "*/5 * * * *", DispatchCron: "@every 2m"}

	_, err := New(nil, in, disp, cfg, nil, nil)
	assert.ErrorContains(t, err, "tenant")

	_, err = New(tenants, nil, disp, cfg, nil, nil)
	assert.Error(t, err)

	_, err = New(tenants, in, disp, Config{IntakeCron: "nope", DispatchCron: "* * * * *"}, nil, nil)
	assert.ErrorContains(t, err, "invalid cron expression")

	d, err := New(tenants, in, disp, cfg, nil, nil)
	require.NoError(t, err)
	assert.NotNil(t, d)
}

func TestRunOnce_IntakeBeforeDispatchPerTenant(t *testing.T) {
	rec := &recorder{}
	var out bytes.Buffer
	d, err := New(tenants, &fakeIntake{rec: rec}, &fakeDispatch{rec: rec},
		Config{IntakeCron: "* * * * *", DispatchCron: "* * * * *"}, nil, &out)
	require.NoError(t, err)

	d.RunOnce(context.Background())

	assert.Equal(t, []string{"intake:acme", "dispatch:acme", "intake:globex", "dispatch:globex"}, rec.list())
	assert.Contains(t, out.String(), "[acme] intake: 3 sessions, 1 scheduled")
	assert.Contains(t, out.String(), "[globex] dispatch: 2 due, 2 sent")
}

func TestRunOnce_IntakeErrorStillDispatches(t *testing.T) {
	rec := &recorder{}
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	d, err := New(tenants[:1], &fakeIntake{rec: rec, err: errors.New("db down")}, &fakeDispatch{rec: rec},
		Config{IntakeCron: "* * * * *", DispatchCron: "* * * * *"}, logger, nil)
	require.NoError(t, err)

	d.RunOnce(context.Background())

	assert.Equal(t, []string{"intake:acme", "dispatch:acme"}, rec.list())
	assert.Contains(t, logs.String(), "intake pass failed")
	assert.Contains(t, logs.String(), "db down")
}

func TestRun_StopsOnCancel(t *testing.T) {
	rec := &recorder{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var out bytes.Buffer
	d, err := New(tenants, &fakeIntake{rec: rec}, &fakeDispatch{rec: rec, onPass: cancel},
		Config{IntakeCron: "0 3 * * *", DispatchCron: "0 3 * * *", RunOnStart: true}, nil, &out)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	// The cancel fired inside the first tenant's dispatch, so the second
	// tenant never ran.
	assert.Equal(t, []string{"intake:acme", "dispatch:acme"}, rec.list())
	assert.True(t, strings.HasSuffix(out.String(), "Caboose daemon stopped.\n"))
}

func TestNextRun(t *testing.T) {
	from := time.Date(2025, 3, 3, 10, 1, 0, 0, time.UTC)
	next, err := NextRun("*/5 * * * *", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 3, 10, 5, 0, 0, time.UTC), next)

	_, err = NextRun("not a cron expr", from)
	assert.Error(t, err)
}

func TestCronLogger(t *testing.T) {
	var buf bytes.Buffer
	l := cronLogger{slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))}
	l.Info("wake", "now", "x")
	l.Error(errors.New("panic"), "job failed", "job", 1)

	assert.Contains(t, buf.String(), "cron: wake")
	assert.Contains(t, buf.String(), "cron: job failed")
	assert.Contains(t, buf.String(), "error=panic")
}
