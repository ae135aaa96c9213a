// Package server exposes the HTTP trigger and inspection API.
package server

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/caboose/internal/dispatch"
	"github.com/zulandar/caboose/internal/intake"
	"github.com/zulandar/caboose/internal/models"
	"github.com/zulandar/caboose/internal/store"
	"github.com/zulandar/caboose/internal/tenant"
)

// Store is the read and close access the API needs.
type Store interface {
	ListSchedules(ctx context.Context, tenantID string, f store.ListFilters) ([]models.FollowUpSchedule, error)
	GetSchedule(ctx context.Context, tenantID string, id uint) (*models.FollowUpSchedule, error)
	Logs(ctx context.Context, tenantID string, scheduleID uint) ([]models.FollowUpLog, error)
	Deactivate(ctx context.Context, tenantID string, id uint, reason string, at time.Time) (bool, error)
}

// IntakePass runs one intake pass.
type IntakePass interface {
	Pass(ctx context.Context, t tenant.Tenant) (intake.Summary, error)
}

// DispatchPass runs one dispatch pass.
type DispatchPass interface {
	Pass(ctx context.Context, t tenant.Tenant) (dispatch.Summary, error)
}

// Opts holds the server's collaborators. The DryRun variants serve
// requests with ?dry_run=true.
type Opts struct {
	Store          Store
	Tenants        []tenant.Tenant
	Intake         IntakePass
	IntakeDryRun   IntakePass
	Dispatch       DispatchPass
	DispatchDryRun DispatchPass
	Port           int
	Out            io.Writer
	Logger         *slog.Logger
	Now            func() time.Time
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(opts Opts) (*gin.Engine, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("server: store is required")
	}
	if opts.Intake == nil || opts.Dispatch == nil {
		return nil, fmt.Errorf("server: intake and dispatch passes are required")
	}
	if opts.IntakeDryRun == nil {
		opts.IntakeDryRun = opts.Intake
	}
	if opts.DispatchDryRun == nil {
		opts.DispatchDryRun = opts.Dispatch
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	registerRoutes(router, &handlers{opts: opts, tenants: indexTenants(opts.Tenants)})
	return router, nil
}

// Start launches the HTTP server. It blocks until ctx is cancelled, then
// shuts down gracefully.
func Start(ctx context.Context, opts Opts) error {
	if opts.Port <= 0 {
		opts.Port = 8080
	}
	router, err := NewRouter(opts)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "API listening on http://localhost:%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

func indexTenants(ts []tenant.Tenant) map[string]tenant.Tenant {
	m := make(map[string]tenant.Tenant, len(ts))
	for _, t := range ts {
		m[t.ID] = t
	}
	return m
}
