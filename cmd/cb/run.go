package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zulandar/caboose/internal/daemon"
	"github.com/zulandar/caboose/internal/server"
)

func newRunCmd() *cobra.Command {
	var (
		configPath string
		port       int
		noServer   bool
		once       bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the scheduler daemon and HTTP API",
		Long: `Runs intake and dispatch passes for every tenant on their configured cron
schedules, and serves the trigger and inspection API until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, configPath, func(ctx context.Context, a *app) error {
				return runDaemon(ctx, cmd, a, port, noServer, once)
			})
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().IntVarP(&port, "port", "p", 0, "API port (default: server.port from config)")
	cmd.Flags().BoolVar(&noServer, "no-server", false, "run the cron daemon without the HTTP API")
	cmd.Flags().BoolVar(&once, "once", false, "run one intake and one dispatch pass per tenant, then exit")
	return cmd
}

func runDaemon(ctx context.Context, cmd *cobra.Command, a *app, port int, noServer, once bool) error {
	out := cmd.OutOrStdout()

	scanner, err := a.scanner()
	if err != nil {
		return err
	}
	dispatcher, err := a.dispatcher(ctx)
	if err != nil {
		return err
	}

	d, err := daemon.New(a.tenants, scanner, dispatcher, daemon.Config{
		IntakeCron:   a.cfg.Intake.Cron,
		DispatchCron: a.cfg.Dispatch.Cron,
		RunOnStart:   true,
	}, a.logger, out)
	if err != nil {
		return err
	}

	if once {
		d.RunOnce(ctx)
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			fmt.Fprintf(out, "\nReceived %s, shutting down...\n", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	errCh := make(chan error, 1)
	if !noServer {
		if port <= 0 {
			port = a.cfg.Server.Port
		}
		go func() {
			err := server.Start(ctx, server.Opts{
				Store:          a.store,
				Tenants:        a.tenants,
				Intake:         scanner,
				IntakeDryRun:   scanner.DryRun(),
				Dispatch:       dispatcher,
				DispatchDryRun: dispatcher.DryRun(),
				Port:           port,
				Out:            out,
				Logger:         a.logger,
			})
			if err != nil {
				cancel()
			}
			errCh <- err
		}()
	}

	if err := d.Run(ctx); err != nil {
		return err
	}
	if !noServer {
		return <-errCh
	}
	return nil
}
