package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

const defaultConfigPath = "caboose.yaml"

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cb",
		Short: "Caboose follows up with leads who went quiet",
		Long: `Caboose watches lead conversations, schedules follow-ups when the automation
spoke last, and sends them on an escalating timetable inside business hours.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().String("log-level", "", "override the configured log level (debug, info, warn, error)")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newDBCmd())
	cmd.AddCommand(newScanCmd())
	cmd.AddCommand(newDispatchCmd())
	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newSchedulesCmd())
	cmd.AddCommand(newHoursCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "cb %s (commit: %s, built: %s)\n", Version, Commit, Date)
		},
	}
}

func addConfigFlag(cmd *cobra.Command, path *string) {
	cmd.Flags().StringVarP(path, "config", "c", defaultConfigPath, "path to Caboose config file")
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
