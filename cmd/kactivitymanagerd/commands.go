package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"kactivitymanagerd/internal/daemonctl"
	"kactivitymanagerd/internal/daemonrun"
)

func newStartCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the daemon unless one is already running",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(cmd, ctx)
		},
	}
}

func runStart(cmd *cobra.Command, ctx *commandContext) error {
	ctl, err := ctx.controller()
	if err != nil {
		return err
	}
	result, err := ctl.Start(cmd.Context())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	switch result.State {
	case daemonctl.StartStateAlreadyRunning:
		fmt.Fprintln(out, "Already running")
	default:
		fmt.Fprintf(out, "Service started (version %s)\n", result.Version)
	}
	return nil
}

func newStopCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Ask the running daemon to quit",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctl, err := ctx.controller()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if _, err := ctl.Stop(cmd.Context()); err != nil {
				if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
					fmt.Fprintln(out, "Service not running")
					return nil
				}
				return err
			}
			fmt.Fprintln(out, "Service stopped")
			return nil
		},
	}
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report whether the daemon is running",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctl, err := ctx.controller()
			if err != nil {
				return err
			}
			status, err := ctl.Status(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderStatus(status, shouldColorize(out)))
			return nil
		},
	}
}

func newStartDaemonCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   daemonctl.StartDaemonCommand,
		Short: "Run the daemon in this process",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{})
		},
	}
}
