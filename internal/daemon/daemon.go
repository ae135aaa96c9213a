// Package daemon runs the intake and dispatch passes for every tenant on
// cron schedules.
package daemon

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/zulandar/caboose/internal/dispatch"
	"github.com/zulandar/caboose/internal/intake"
	"github.com/zulandar/caboose/internal/tenant"
)

// cronParser accepts standard 5-field expressions plus descriptors such as
// "@every 2m".
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateSpec reports whether expr is a schedule the daemon accepts.
func ValidateSpec(expr string) error {
	if _, err := cronParser.Parse(expr); err != nil {
		return fmt.Errorf("daemon: invalid cron expression %q: %w", expr, err)
	}
	return nil
}

// NextRun returns the first fire time of expr after from.
func NextRun(expr string, from time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("daemon: invalid cron expression %q: %w", expr, err)
	}
	return sched.Next(from), nil
}

// IntakePass is satisfied by *intake.Scanner.
type IntakePass interface {
	Pass(ctx context.Context, t tenant.Tenant) (intake.Summary, error)
}

// DispatchPass is satisfied by *dispatch.Dispatcher.
type DispatchPass interface {
	Pass(ctx context.Context, t tenant.Tenant) (dispatch.Summary, error)
}

// Config holds the cadence of each pass.
type Config struct {
	IntakeCron   string
	DispatchCron string
	// RunOnStart triggers one intake and one dispatch per tenant before the
	// first scheduled tick.
	RunOnStart bool
}

// Daemon owns the cron scheduler.
type Daemon struct {
	tenants  []tenant.Tenant
	intake   IntakePass
	dispatch DispatchPass
	cfg      Config
	logger   *slog.Logger
	out      io.Writer
}

// New validates the schedules and builds a Daemon. Progress lines go to out.
func New(tenants []tenant.Tenant, in IntakePass, disp DispatchPass, cfg Config, logger *slog.Logger, out io.Writer) (*Daemon, error) {
	if len(tenants) == 0 {
		return nil, fmt.Errorf("daemon: at least one tenant is required")
	}
	if in == nil || disp == nil {
		return nil, fmt.Errorf("daemon: intake and dispatch passes are required")
	}
	if err := ValidateSpec(cfg.IntakeCron); err != nil {
		return nil, err
	}
	if err := ValidateSpec(cfg.DispatchCron); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if out == nil {
		out = io.Discard
	}
	return &Daemon{tenants: tenants, intake: in, dispatch: disp, cfg: cfg, logger: logger, out: out}, nil
}

// Run schedules one intake job and one dispatch job per tenant and blocks
// until ctx is cancelled. Running passes are allowed to finish before Run
// returns. A job whose previous run has not finished skips its tick.
func (d *Daemon) Run(ctx context.Context) error {
	clog := cronLogger{d.logger}
	c := cron.New(
		cron.WithParser(cronParser),
		cron.WithLocation(time.UTC),
		cron.WithLogger(clog),
		cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
	)

	for _, t := range d.tenants {
		if _, err := c.AddFunc(d.cfg.IntakeCron, func() { d.runIntake(ctx, t) }); err != nil {
			return fmt.Errorf("daemon: schedule intake for %s: %w", t.ID, err)
		}
		if _, err := c.AddFunc(d.cfg.DispatchCron, func() { d.runDispatch(ctx, t) }); err != nil {
			return fmt.Errorf("daemon: schedule dispatch for %s: %w", t.ID, err)
		}
	}

	fmt.Fprintf(d.out, "Caboose daemon starting (%d tenants, intake %q, dispatch %q)...\n",
		len(d.tenants), d.cfg.IntakeCron, d.cfg.DispatchCron)

	if d.cfg.RunOnStart {
		d.RunOnce(ctx)
	}

	c.Start()
	<-ctx.Done()

	fmt.Fprintf(d.out, "Waiting for running passes...\n")
	<-c.Stop().Done()
	fmt.Fprintf(d.out, "Caboose daemon stopped.\n")
	return nil
}

// RunOnce runs intake then dispatch for every tenant, sequentially.
func (d *Daemon) RunOnce(ctx context.Context) {
	for _, t := range d.tenants {
		if ctx.Err() != nil {
			return
		}
		d.runIntake(ctx, t)
		d.runDispatch(ctx, t)
	}
}

func (d *Daemon) runIntake(ctx context.Context, t tenant.Tenant) {
	if ctx.Err() != nil {
		return
	}
	sum, err := d.intake.Pass(ctx, t)
	if err != nil {
		d.logger.Error("intake pass failed", "tenant", t.ID, "run_id", sum.RunID, "error", err)
		return
	}
	if sum.Scheduled+sum.Cancelled+sum.Errors > 0 {
		fmt.Fprintf(d.out, "[%s] intake: %d sessions, %d scheduled, %d cancelled, %d errors\n",
			t.ID, sum.Sessions, sum.Scheduled, sum.Cancelled, sum.Errors)
	}
}

func (d *Daemon) runDispatch(ctx context.Context, t tenant.Tenant) {
	if ctx.Err() != nil {
		return
	}
	sum, err := d.dispatch.Pass(ctx, t)
	if err != nil {
		d.logger.Error("dispatch pass failed", "tenant", t.ID, "run_id", sum.RunID, "error", err)
		return
	}
	if sum.Total > 0 {
		fmt.Fprintf(d.out, "[%s] dispatch: %d due, %d sent, %d cancelled, %d errors\n",
			t.ID, sum.Total, sum.Sent, sum.Cancelled, sum.Errors)
	}
}

// cronLogger bridges cron's logr-style logger to slog. Routine scheduler
// chatter goes to debug.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
