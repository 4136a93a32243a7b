package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"kactivitymanagerd/internal/config"
)

// errUnrecognizedCommand reports a first argument that names no command.
type errUnrecognizedCommand struct{ arg string }

func (e errUnrecognizedCommand) Error() string {
	return "Unrecognized command: " + e.arg
}

// errUsage asks for the usage text to be printed with a zero exit status.
var errUsage = errors.New("usage requested")

// spawnFunc replaces the detached start-daemon launch. Nil uses the real
// executable.
type spawnFunc func(cfg *config.Config) error

func exactArgs(n int) cobra.PositionalArgs {
	return func(_ *cobra.Command, args []string) error {
		if len(args) != n {
			return errUsage
		}
		return nil
	}
}

func newRootCommand(ctx *commandContext) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "kactivitymanagerd [start|stop|status|start-daemon]",
		Short:         "KDE activity manager daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args: func(_ *cobra.Command, args []string) error {
			switch {
			case len(args) > 1:
				return errUsage
			case len(args) == 1:
				return errUnrecognizedCommand{arg: args[0]}
			default:
				return nil
			}
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(cmd, ctx)
		},
	}
	rootCmd.SetFlagErrorFunc(func(*cobra.Command, error) error { return errUsage })
	rootCmd.PersistentFlags().StringVarP(ctx.configFlag, "config", "c", "", "Configuration file path")

	rootCmd.AddCommand(
		newStartCommand(ctx),
		newStopCommand(ctx),
		newStatusCommand(ctx),
		newStartDaemonCommand(ctx),
	)
	return rootCmd
}

// run executes the command line and returns the process exit status.
func run(args []string, stdout, stderr io.Writer, spawn spawnFunc) int {
	ctx := newCommandContext(spawn)
	cmd := newRootCommand(ctx)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(context.Background())
	var unrecognized errUnrecognizedCommand
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errUsage):
		target := cmd
		if found, _, findErr := cmd.Find(args); findErr == nil && found != nil {
			target = found
		}
		fmt.Fprint(stdout, target.UsageString())
		return 0
	case errors.As(err, &unrecognized):
		fmt.Fprintln(stderr, unrecognized.Error())
		return 1
	case errors.Is(err, context.Canceled):
		return 1
	default:
		fmt.Fprintln(stderr, err)
		return 1
	}
}
