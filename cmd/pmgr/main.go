package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/loykin/pmgr/internal/manager"
)

// Exit codes.
const (
	exitOK          = 0
	exitUsage       = 1
	exitOperational = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes one CLI invocation and returns its exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := buildRoot(stdout, stderr)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}
	_, _ = fmt.Fprintln(stderr, "Error:", err)
	return exitCode(err)
}

// opError marks failures of an action the manager attempted.
type opError struct{ err error }

func (e *opError) Error() string { return e.err.Error() }
func (e *opError) Unwrap() error { return e.err }

func operational(err error) error {
	if err == nil {
		return nil
	}
	return &opError{err: err}
}

func exitCode(err error) int {
	var op *opError
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, ErrUsage), errors.Is(err, manager.ErrInvalid):
		return exitUsage
	case errors.As(err, &op):
		return exitOperational
	default:
		// cobra argument and flag errors
		return exitUsage
	}
}

// buildRoot creates the root command and its subcommands.
func buildRoot(stdout, stderr io.Writer) *cobra.Command {
	flags := &GlobalFlags{}
	c := command{flags: flags, out: stdout, errOut: stderr}

	root := &cobra.Command{
		Use:   "pmgr",
		Short: "Local process supervisor",
		Long: `pmgr starts named background processes, keeps their state across
invocations, and lets you stop, restart, inspect and tail them later.

Examples:
  pmgr start web python -m http.server 8080 --cwd ./site
  pmgr list
  pmgr logs web 100 -f
  pmgr stop web`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to config file (TOML, YAML or JSON)")
	root.PersistentFlags().StringVar(&flags.Home, "home", "", "state directory (default ~/.pm-manager)")
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	})

	root.AddCommand(
		createStartCommand(c),
		createStopCommand(c),
		createRestartCommand(c),
		createDeleteCommand(c),
		createListCommand(c),
		createLogsCommand(c),
		createStopAllCommand(c),
		createCleanupCommand(c),
	)
	return root
}
