package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/caboose/internal/models"
	"github.com/zulandar/caboose/internal/server"
	"github.com/zulandar/caboose/internal/store"
	"github.com/zulandar/caboose/internal/tenant"
)

func newSchedulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "schedules",
		Aliases: []string{"sched"},
		Short:   "Inspect and close follow-up schedules",
	}

	cmd.AddCommand(newSchedulesListCmd())
	cmd.AddCommand(newSchedulesShowCmd())
	cmd.AddCommand(newSchedulesCloseCmd())
	return cmd
}

// oneTenant resolves --tenant, defaulting to the only configured tenant.
func (a *app) oneTenant(id string) (tenant.Tenant, error) {
	if id == "" {
		if len(a.tenants) == 1 {
			return a.tenants[0], nil
		}
		return tenant.Tenant{}, fmt.Errorf("--tenant is required when %d tenants are configured", len(a.tenants))
	}
	return tenant.Lookup(a.cfg, id)
}

func newSchedulesListCmd() *cobra.Command {
	var (
		configPath string
		tenantID   string
		all        bool
		sessionID  string
		status     string
		limit      int
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List schedules (active only unless --all)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, configPath, func(ctx context.Context, a *app) error {
				t, err := a.oneTenant(tenantID)
				if err != nil {
					return err
				}
				f := store.ListFilters{SessionID: sessionID, Status: status, Limit: limit}
				if !all && status == "" {
					active := true
					f.Active = &active
				}
				rows, err := a.store.ListSchedules(ctx, t.ID, f)
				if err != nil {
					return err
				}
				if asJSON {
					views := make([]server.ScheduleView, 0, len(rows))
					for i := range rows {
						views = append(views, server.NewScheduleView(&rows[i]))
					}
					return writeJSON(cmd.OutOrStdout(), views)
				}
				printScheduleTable(cmd, t, rows)
				return nil
			})
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVarP(&tenantID, "tenant", "t", "", "tenant ID")
	cmd.Flags().BoolVarP(&all, "all", "a", false, "include closed schedules")
	cmd.Flags().StringVar(&sessionID, "session", "", "filter by session ID")
	cmd.Flags().StringVar(&status, "status", "", "filter by close reason (e.g. responded, unresponsive)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func printScheduleTable(cmd *cobra.Command, t tenant.Tenant, rows []models.FollowUpSchedule) {
	out := cmd.OutOrStdout()
	if len(rows) == 0 {
		fmt.Fprintln(out, "No schedules found.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSESSION\tLEAD\tATTEMPT\tNEXT\tSTATUS")
	for _, s := range rows {
		status := "active"
		if !s.IsActive {
			status = s.LeadStatus
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\t%s\n",
			s.ID, s.SessionID, s.LeadName, s.AttemptCount, formatLocal(t, s.NextFollowupAt), status)
	}
	w.Flush()
}

func newSchedulesShowCmd() *cobra.Command {
	var (
		configPath string
		tenantID   string
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one schedule with its dispatch log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseScheduleID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, configPath, func(ctx context.Context, a *app) error {
				t, err := a.oneTenant(tenantID)
				if err != nil {
					return err
				}
				s, err := a.store.GetSchedule(ctx, t.ID, id)
				if errors.Is(err, store.ErrNotFound) {
					return fmt.Errorf("schedule %d not found for tenant %s", id, t.ID)
				}
				if err != nil {
					return err
				}
				logs, err := a.store.Logs(ctx, t.ID, id)
				if err != nil {
					return err
				}
				if asJSON {
					view := server.NewScheduleView(s)
					for _, l := range logs {
						view.Logs = append(view.Logs, server.NewLogView(l))
					}
					return writeJSON(cmd.OutOrStdout(), view)
				}
				printSchedule(cmd, t, s, logs)
				return nil
			})
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVarP(&tenantID, "tenant", "t", "", "tenant ID")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func printSchedule(cmd *cobra.Command, t tenant.Tenant, s *models.FollowUpSchedule, logs []models.FollowUpLog) {
	out := cmd.OutOrStdout()
	status := "active"
	if !s.IsActive {
		status = "closed (" + s.LeadStatus + ")"
	}
	fmt.Fprintf(out, "Schedule %d  %s\n", s.ID, status)
	fmt.Fprintf(out, "  Session:          %s\n", s.SessionID)
	fmt.Fprintf(out, "  Lead:             %s <%s>\n", s.LeadName, s.PhoneNumber)
	if s.FunnelStage != "" {
		fmt.Fprintf(out, "  Funnel stage:     %s\n", s.FunnelStage)
	}
	fmt.Fprintf(out, "  Attempts sent:    %d\n", s.AttemptCount)
	fmt.Fprintf(out, "  Last interaction: %s\n", formatLocal(t, &s.LastInteractionAt))
	fmt.Fprintf(out, "  Last follow-up:   %s\n", formatLocal(t, s.LastFollowupAt))
	fmt.Fprintf(out, "  Next follow-up:   %s\n", formatLocal(t, s.NextFollowupAt))
	if s.ClosedAt != nil {
		fmt.Fprintf(out, "  Closed at:        %s\n", formatLocal(t, s.ClosedAt))
	}
	if s.LastMessage != "" {
		fmt.Fprintf(out, "  Last message:     %s\n", s.LastMessage)
	}

	if len(logs) == 0 {
		return
	}
	fmt.Fprintln(out, "\nDispatch log:")
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  AT\tATTEMPT\tSOURCE\tOUTCOME\tMESSAGE")
	for _, l := range logs {
		msg := l.Message
		if l.Error != "" {
			msg = "error: " + l.Error
		}
		fmt.Fprintf(w, "  %s\t%d\t%s\t%s\t%s\n",
			formatLocal(t, &l.CreatedAt), l.Attempt, l.MessageSource, l.Outcome, truncate(msg, 60))
	}
	w.Flush()
}

func newSchedulesCloseCmd() *cobra.Command {
	var (
		configPath string
		tenantID   string
		yes        bool
	)

	cmd := &cobra.Command{
		Use:   "close <id>",
		Short: "Stop following up on a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseScheduleID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, configPath, func(ctx context.Context, a *app) error {
				t, err := a.oneTenant(tenantID)
				if err != nil {
					return err
				}
				s, err := a.store.GetSchedule(ctx, t.ID, id)
				if errors.Is(err, store.ErrNotFound) {
					return fmt.Errorf("schedule %d not found for tenant %s", id, t.ID)
				}
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if !s.IsActive {
					fmt.Fprintf(out, "Schedule %d is already closed (%s).\n", id, s.LeadStatus)
					return nil
				}
				if !yes {
					ok, err := confirm(cmd, fmt.Sprintf("No more follow-ups will be sent to %s (session %s).", s.LeadName, s.SessionID))
					if err != nil {
						return err
					}
					if !ok {
						fmt.Fprintln(out, "Aborted.")
						return nil
					}
				}
				if _, err := a.store.Deactivate(ctx, t.ID, id, models.ReasonClosedManual, time.Now()); err != nil {
					return err
				}
				fmt.Fprintf(out, "Schedule %d closed.\n", id)
				return nil
			})
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVarP(&tenantID, "tenant", "t", "", "tenant ID")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip confirmation prompt")
	return cmd
}

func parseScheduleID(raw string) (uint, error) {
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("invalid schedule id %q", raw)
	}
	return uint(n), nil
}

func formatLocal(t tenant.Tenant, at *time.Time) string {
	if at == nil || at.IsZero() {
		return "-"
	}
	return t.Local(*at).Format("2006-01-02 15:04 MST")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
