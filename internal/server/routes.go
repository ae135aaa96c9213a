package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/caboose/internal/models"
	"github.com/zulandar/caboose/internal/store"
	"github.com/zulandar/caboose/internal/tenant"
)

const tenantKey = "tenant"

type handlers struct {
	opts    Opts
	tenants map[string]tenant.Tenant
}

// registerRoutes sets up all API routes on the Gin router.
func registerRoutes(router *gin.Engine, h *handlers) {
	router.GET("/healthz", h.health)

	api := router.Group("/api")
	api.GET("/tenants", h.listTenants)

	t := api.Group("/tenants/:tenant", h.resolveTenant)
	t.POST("/scan", h.scan)
	t.POST("/dispatch", h.dispatch)
	t.GET("/schedules", h.listSchedules)
	t.GET("/schedules/:id", h.showSchedule)
	t.POST("/schedules/:id/close", h.closeSchedule)
}

func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handlers) listTenants(c *gin.Context) {
	out := make([]gin.H, 0, len(h.opts.Tenants))
	for _, t := range h.opts.Tenants {
		loc := "UTC"
		if t.Location != nil {
			loc = t.Location.String()
		}
		out = append(out, gin.H{"id": t.ID, "name": t.Name, "timezone": loc})
	}
	c.JSON(http.StatusOK, gin.H{"tenants": out})
}

func (h *handlers) resolveTenant(c *gin.Context) {
	t, ok := h.tenants[c.Param("tenant")]
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "unknown tenant"})
		return
	}
	c.Set(tenantKey, t)
	c.Next()
}

func tenantFrom(c *gin.Context) tenant.Tenant {
	return c.MustGet(tenantKey).(tenant.Tenant)
}

func dryRun(c *gin.Context) bool {
	v, _ := strconv.ParseBool(c.Query("dry_run"))
	return v
}

func (h *handlers) scan(c *gin.Context) {
	t := tenantFrom(c)
	pass := h.opts.Intake
	if dryRun(c) {
		pass = h.opts.IntakeDryRun
	}
	sum, err := pass.Pass(c.Request.Context(), t)
	if err != nil {
		h.opts.Logger.Error("api intake pass failed", "tenant", t.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "summary": sum})
		return
	}
	c.JSON(http.StatusOK, sum)
}

func (h *handlers) dispatch(c *gin.Context) {
	t := tenantFrom(c)
	pass := h.opts.Dispatch
	if dryRun(c) {
		pass = h.opts.DispatchDryRun
	}
	sum, err := pass.Pass(c.Request.Context(), t)
	if err != nil {
		h.opts.Logger.Error("api dispatch pass failed", "tenant", t.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "summary": sum})
		return
	}
	c.JSON(http.StatusOK, sum)
}

func (h *handlers) listSchedules(c *gin.Context) {
	t := tenantFrom(c)
	f := store.ListFilters{
		SessionID: c.Query("session"),
		Status:    c.Query("status"),
	}
	if v := c.Query("active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "active must be true or false"})
			return
		}
		f.Active = &active
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		f.Limit = n
	}

	rows, err := h.opts.Store.ListSchedules(c.Request.Context(), t.ID, f)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := make([]ScheduleView, 0, len(rows))
	for i := range rows {
		out = append(out, NewScheduleView(&rows[i]))
	}
	c.JSON(http.StatusOK, gin.H{"schedules": out})
}

func (h *handlers) showSchedule(c *gin.Context) {
	t := tenantFrom(c)
	id, ok := scheduleID(c)
	if !ok {
		return
	}
	sched, err := h.opts.Store.GetSchedule(c.Request.Context(), t.ID, id)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "schedule not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	logs, err := h.opts.Store.Logs(c.Request.Context(), t.ID, id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	view := NewScheduleView(sched)
	view.Logs = make([]LogView, 0, len(logs))
	for _, l := range logs {
		view.Logs = append(view.Logs, NewLogView(l))
	}
	c.JSON(http.StatusOK, view)
}

func (h *handlers) closeSchedule(c *gin.Context) {
	t := tenantFrom(c)
	id, ok := scheduleID(c)
	if !ok {
		return
	}
	if _, err := h.opts.Store.GetSchedule(c.Request.Context(), t.ID, id); errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "schedule not found"})
		return
	} else if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	closed, err := h.opts.Store.Deactivate(c.Request.Context(), t.ID, id, models.ReasonClosedManual, h.opts.Now())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if closed {
		h.opts.Logger.Info("schedule closed via api", "tenant", t.ID, "schedule_id", id)
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "closed": closed})
}

func scheduleID(c *gin.Context) (uint, bool) {
	n, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || n == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid schedule id"})
		return 0, false
	}
	return uint(n), true
}
