package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/caboose/internal/dispatch"
	"github.com/zulandar/caboose/internal/intake"
)

type passFlags struct {
	configPath string
	tenantID   string
	dryRun     bool
	asJSON     bool
}

func (f *passFlags) register(cmd *cobra.Command) {
	addConfigFlag(cmd, &f.configPath)
	cmd.Flags().StringVarP(&f.tenantID, "tenant", "t", "", "tenant ID (default: every configured tenant)")
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "decide everything but persist and send nothing")
	cmd.Flags().BoolVar(&f.asJSON, "json", false, "print the pass summary as JSON")
}

func newScanCmd() *cobra.Command {
	var f passFlags

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run one intake pass",
		Long: `Scans recently active conversations. Sessions where the automation spoke last
get a follow-up schedule; sessions where the lead replied have theirs closed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, f.configPath, func(ctx context.Context, a *app) error {
				return runScan(ctx, cmd, a, f)
			})
		},
	}

	f.register(cmd)
	return cmd
}

func runScan(ctx context.Context, cmd *cobra.Command, a *app, f passFlags) error {
	tenants, err := a.selectTenants(f.tenantID)
	if err != nil {
		return err
	}
	s, err := a.scanner()
	if err != nil {
		return err
	}
	if f.dryRun {
		s = s.DryRun()
	}

	var sums []intake.Summary
	for _, t := range tenants {
		sum, err := s.Pass(ctx, t)
		if err != nil {
			return err
		}
		sums = append(sums, sum)
	}

	out := cmd.OutOrStdout()
	if f.asJSON {
		return writeJSON(out, sums)
	}
	for _, sum := range sums {
		printIntakeSummary(out, sum)
	}
	return nil
}

func newDispatchCmd() *cobra.Command {
	var f passFlags

	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Run one dispatch pass",
		Long: `Sends every follow-up that is due, after re-checking the pause, funnel status
and reply guards, then advances each schedule to its next attempt.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, f.configPath, func(ctx context.Context, a *app) error {
				return runDispatch(ctx, cmd, a, f)
			})
		},
	}

	f.register(cmd)
	return cmd
}

func runDispatch(ctx context.Context, cmd *cobra.Command, a *app, f passFlags) error {
	tenants, err := a.selectTenants(f.tenantID)
	if err != nil {
		return err
	}
	d, err := a.dispatcher(ctx)
	if err != nil {
		return err
	}
	if f.dryRun {
		d = d.DryRun()
	}

	var sums []dispatch.Summary
	for _, t := range tenants {
		sum, err := d.Pass(ctx, t)
		if err != nil {
			return err
		}
		sums = append(sums, sum)
	}

	out := cmd.OutOrStdout()
	if f.asJSON {
		return writeJSON(out, sums)
	}
	for _, sum := range sums {
		printDispatchSummary(out, sum)
	}
	return nil
}

func dryRunTag(dry bool) string {
	if dry {
		return " (dry run)"
	}
	return ""
}

func printIntakeSummary(out io.Writer, sum intake.Summary) {
	fmt.Fprintf(out, "Intake %s for %s%s: %d sessions, %d scheduled, %d cancelled, %d refreshed, %d skipped, %d errors\n",
		sum.RunID, sum.TenantID, dryRunTag(sum.DryRun),
		sum.Sessions, sum.Scheduled, sum.Cancelled, sum.Refreshed, sum.Skipped, sum.Errors)
	var changed []intake.SessionResult
	for _, r := range sum.Results {
		if r.Action != intake.ActionNone && r.Action != intake.ActionRefreshed {
			changed = append(changed, r)
		}
	}
	if len(changed) == 0 {
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  SESSION\tACTION\tREASON\tERROR")
	for _, r := range changed {
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\n", r.SessionID, r.Action, r.Reason, r.Error)
	}
	w.Flush()
}

func printDispatchSummary(out io.Writer, sum dispatch.Summary) {
	fmt.Fprintf(out, "Dispatch %s for %s%s: %d due, %d sent, %d cancelled, %d stopped, %d exhausted, %d degraded, %d errors\n",
		sum.RunID, sum.TenantID, dryRunTag(sum.DryRun),
		sum.Total, sum.Sent, sum.Cancelled, sum.Stopped, sum.Exhausted, sum.Degraded, sum.Errors)
	if len(sum.Rows) == 0 {
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  SCHEDULE\tSESSION\tATTEMPT\tSTATE\tREASON")
	for _, r := range sum.Rows {
		reason := r.Reason
		if r.Error != "" {
			reason = r.Error
		}
		fmt.Fprintf(w, "  %d\t%s\t%d\t%s\t%s\n", r.ScheduleID, r.SessionID, r.Attempt, r.State, reason)
	}
	w.Flush()
}

func writeJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
