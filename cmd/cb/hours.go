package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/caboose/internal/config"
	"github.com/zulandar/caboose/internal/escalation"
	"github.com/zulandar/caboose/internal/tenant"
)

func newHoursCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hours",
		Short: "Business-hours and escalation helpers",
	}
	cmd.AddCommand(newHoursNextCmd())
	return cmd
}

func newHoursNextCmd() *cobra.Command {
	var (
		configPath string
		tenantID   string
	)

	cmd := &cobra.Command{
		Use:   "next [time]",
		Short: "Show the escalation timetable for a last interaction at the given time",
		Long: `Prints, for a last interaction at the given tenant-local time (RFC 3339 or
"2006-01-02 15:04"; default now), whether it falls in business hours and when
each follow-up attempt would be due if every earlier one went out on time.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			table, err := buildTable(cfg)
			if err != nil {
				return err
			}
			t, err := pickTenant(cfg, tenantID)
			if err != nil {
				return err
			}
			at := t.Local(time.Now())
			if len(args) == 1 {
				at, err = parseLocalTime(args[0], t.Location)
				if err != nil {
					return err
				}
			}
			printTimetable(cmd.OutOrStdout(), table, at)
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVarP(&tenantID, "tenant", "t", "", "tenant whose timezone to use (default: first configured)")
	return cmd
}

func pickTenant(cfg *config.Config, id string) (tenant.Tenant, error) {
	if id != "" {
		return tenant.Lookup(cfg, id)
	}
	return tenant.FromConfig(cfg.Tenants[0])
}

var localLayouts = []string{
	"2006-01-02 15:04",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
}

func parseLocalTime(raw string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.In(loc), nil
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse time %q (want RFC 3339 or \"2006-01-02 15:04\")", raw)
}

func printTimetable(out io.Writer, table *escalation.Table, at time.Time) {
	window := table.Window()
	inHours := "no"
	if window.IsBusinessHours(at) {
		inHours = "yes"
	}
	const layout = "Mon 2006-01-02 15:04 MST"
	fmt.Fprintf(out, "Last interaction: %s (business hours: %s)\n", at.Format(layout), inHours)
	fmt.Fprintf(out, "Next opening:     %s\n", window.Advance(at).Format(layout))
	prev := at
	for attempt := 1; attempt <= table.Len(); attempt++ {
		d, _ := table.Interval(attempt)
		due, _ := table.NextDue(prev, attempt)
		fmt.Fprintf(out, "  attempt %d  +%-8s %s\n", attempt, d, due.Format(layout))
		prev = due
	}
}
