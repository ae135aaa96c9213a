package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"gorm.io/gorm"

	"github.com/zulandar/caboose/internal/analyzer"
	"github.com/zulandar/caboose/internal/config"
	"github.com/zulandar/caboose/internal/db"
	"github.com/zulandar/caboose/internal/dispatch"
	"github.com/zulandar/caboose/internal/escalation"
	"github.com/zulandar/caboose/internal/gateway"
	"github.com/zulandar/caboose/internal/guard"
	"github.com/zulandar/caboose/internal/hours"
	"github.com/zulandar/caboose/internal/intake"
	"github.com/zulandar/caboose/internal/message"
	"github.com/zulandar/caboose/internal/notify"
	"github.com/zulandar/caboose/internal/notify/discord"
	"github.com/zulandar/caboose/internal/notify/slack"
	"github.com/zulandar/caboose/internal/store"
	"github.com/zulandar/caboose/internal/telemetry"
	"github.com/zulandar/caboose/internal/tenant"
)

// app holds the collaborators shared by the pass commands.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	db        *gorm.DB
	store     *store.Store
	tenants   []tenant.Tenant
	table     *escalation.Table
	guards    *guard.Chain
	telemetry *telemetry.Provider
	metrics   *telemetry.Metrics
}

// loadApp reads the config and opens the database. Callers must Close it.
func loadApp(ctx context.Context, cmd *cobra.Command, configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	levelOverride, _ := cmd.Root().PersistentFlags().GetString("log-level")
	logger, err := newLogger(cfg.Log, levelOverride, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}

	table, err := buildTable(cfg)
	if err != nil {
		return nil, err
	}
	tenants, err := tenant.All(cfg)
	if err != nil {
		return nil, err
	}

	gdb, err := db.Open(cfg.Database)
	if err != nil {
		return nil, err
	}
	st := store.New(gdb)

	var opts []sdkmetric.Option
	if cfg.Telemetry.Enabled {
		reader, err := telemetry.StdoutReader(cmd.ErrOrStderr(), cfg.Telemetry.Interval)
		if err != nil {
			return nil, err
		}
		opts = append(opts, sdkmetric.WithReader(reader))
	}
	tp, err := telemetry.Init(ctx, cfg.Telemetry, opts...)
	if err != nil {
		return nil, err
	}
	metrics, err := telemetry.NewMetrics(tp.Meter)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	return &app{
		cfg:       cfg,
		logger:    logger,
		db:        gdb,
		store:     st,
		tenants:   tenants,
		table:     table,
		guards:    guard.New(st, st, st, cfg.TerminalStatuses),
		telemetry: tp,
		metrics:   metrics,
	}, nil
}

// Close flushes metrics and closes the database.
func (a *app) Close(ctx context.Context) {
	if err := a.telemetry.Shutdown(ctx); err != nil {
		a.logger.Warn("telemetry shutdown", "error", err)
	}
	closeDB(a.db)
}

// selectTenants returns the tenant named by id, or every tenant when id is empty.
func (a *app) selectTenants(id string) ([]tenant.Tenant, error) {
	if id == "" {
		return a.tenants, nil
	}
	t, err := tenant.Lookup(a.cfg, id)
	if err != nil {
		return nil, err
	}
	return []tenant.Tenant{t}, nil
}

func buildTable(cfg *config.Config) (*escalation.Table, error) {
	weekdays, err := cfg.BusinessHours.ParsedWeekdays()
	if err != nil {
		return nil, fmt.Errorf("business hours: %w", err)
	}
	window, err := hours.New(cfg.BusinessHours.OpenHour, cfg.BusinessHours.CloseHour, weekdays)
	if err != nil {
		return nil, err
	}
	return escalation.New(cfg.Escalation.Intervals, window)
}

func (a *app) notifier() (notify.Notifier, error) {
	n := a.cfg.Notify
	switch n.Platform {
	case "slack":
		return slack.New(slack.Opts{BotToken: n.Token(), ChannelID: n.ChannelID})
	case "discord":
		return discord.New(discord.Opts{BotToken: n.Token(), ChannelID: n.ChannelID})
	default:
		return nil, nil
	}
}

func (a *app) scanner() (*intake.Scanner, error) {
	n, err := a.notifier()
	if err != nil {
		return nil, err
	}
	return intake.New(intake.Deps{
		Store:    a.store,
		Guards:   a.guards,
		Table:    a.table,
		Metrics:  a.metrics,
		Notifier: n,
		Logger:   a.logger,
	}, intake.Config{
		Lookback:        a.cfg.Intake.Lookback,
		EchoWindow:      a.cfg.Intake.EchoWindow,
		TranscriptTurns: a.cfg.Intake.TranscriptTurns,
		StoreTimeout:    a.cfg.Dispatch.RowTimeout,
	})
}

func (a *app) dispatcher(ctx context.Context) (*dispatch.Dispatcher, error) {
	var judge analyzer.Judge
	if a.cfg.Analyzer.Enabled {
		g, err := analyzer.NewGeminiJudge(ctx, a.cfg.Analyzer.APIKey(), a.cfg.Analyzer.Model)
		if err != nil {
			a.logger.Warn("analyzer unavailable; templates only", "error", err)
		} else {
			judge = g
		}
	}
	an, err := analyzer.New(judge, a.cfg.Analyzer.Timeout, a.logger)
	if err != nil {
		return nil, err
	}

	sel, err := message.NewSelector(a.cfg.Templates, a.table.Len(), a.cfg.Gateway.MaxLength)
	if err != nil {
		return nil, err
	}

	gw, err := gateway.NewHTTP(gateway.HTTPConfig{
		BaseURL: a.cfg.Gateway.BaseURL,
		Token:   a.cfg.Gateway.Token(),
		Timeout: a.cfg.Gateway.Timeout,
	})
	if err != nil {
		return nil, err
	}

	n, err := a.notifier()
	if err != nil {
		return nil, err
	}

	return dispatch.New(dispatch.Deps{
		Store:    a.store,
		Guards:   a.guards,
		Analyzer: an,
		Selector: sel,
		Gateway:  gw,
		Table:    a.table,
		Metrics:  a.metrics,
		Notifier: n,
		Logger:   a.logger,
	}, dispatch.Config{
		BatchSize:       a.cfg.Dispatch.BatchSize,
		StoreTimeout:    a.cfg.Dispatch.RowTimeout,
		GatewayTimeout:  a.cfg.Gateway.Timeout,
		SendDelay:       a.cfg.Gateway.SendDelay,
		TypingDelay:     a.cfg.Gateway.TypingDelay,
		TranscriptTurns: a.cfg.Analyzer.Turns,
	})
}

// withApp loads the app, runs fn, and closes the app.
func withApp(cmd *cobra.Command, configPath string, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := loadApp(ctx, cmd, configPath)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())
	return fn(ctx, a)
}
