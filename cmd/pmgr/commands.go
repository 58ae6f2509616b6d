package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/pmgr/internal/config"
	"github.com/loykin/pmgr/internal/env"
	"github.com/loykin/pmgr/internal/logger"
	"github.com/loykin/pmgr/internal/manager"
	"github.com/loykin/pmgr/internal/process"
)

// command carries what every subcommand needs to reach the manager.
type command struct {
	flags  *GlobalFlags
	out    io.Writer
	errOut io.Writer
}

// open resolves configuration, installs the diagnostic logger and opens the
// manager. The returned func releases both.
func (c command) open() (*manager.Manager, func(), error) {
	cfg, err := config.Load(config.Options{ConfigFile: c.flags.ConfigPath, Home: c.flags.Home})
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrUsage, err)
	}
	logCloser, err := logger.Setup(cfg.Log, c.errOut)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrUsage, err)
	}
	mgr, err := manager.Open(cfg)
	if err != nil {
		_ = logCloser.Close()
		if errors.Is(err, manager.ErrInvalid) {
			return nil, nil, err
		}
		return nil, nil, operational(err)
	}
	return mgr, func() {
		_ = mgr.Close()
		_ = logCloser.Close()
	}, nil
}

// withManager runs fn against an opened manager.
func (c command) withManager(fn func(*manager.Manager) error) error {
	mgr, done, err := c.open()
	if err != nil {
		return err
	}
	defer done()
	return fn(mgr)
}

func (c command) printf(format string, a ...any) {
	_, _ = fmt.Fprintf(c.out, format, a...)
}

func exactArgs(n int, usage string) cobra.PositionalArgs {
	return func(_ *cobra.Command, args []string) error {
		if len(args) != n {
			return fmt.Errorf("%w: expected %s", ErrUsage, usage)
		}
		return nil
	}
}

func createStartCommand(c command) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start <name> <command> [args...] [--cwd <dir>]",
		Short: "Start a named background process",
		Long: `Start a named process detached from this terminal. Its stdout and
stderr are appended to <home>/logs/<name>.log.

--cwd may appear anywhere. --env KEY=VALUE may be given before the name.
Every other token after the command is passed to the process.

Examples:
  pmgr start web python -m http.server 8080
  pmgr start --env PORT=9000 api ./server --cwd /srv/api
  pmgr start worker "sh -c 'while :; do date; sleep 5; done'"`,
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			sa, err := parseStartArgs(args)
			if err != nil {
				return err
			}
			if sa.Help {
				return cmd.Help()
			}
			if sa.Global.ConfigPath != "" {
				c.flags.ConfigPath = sa.Global.ConfigPath
			}
			if sa.Global.Home != "" {
				c.flags.Home = sa.Global.Home
			}
			pairs, err := env.ParsePairs(sa.Env)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrUsage, err)
			}
			spec := process.Spec{Name: sa.Name, Command: sa.Command, Args: sa.Args, WorkDir: sa.Cwd, Env: pairs}
			return c.withManager(func(mgr *manager.Manager) error {
				rec, err := mgr.Start(cmd.Context(), spec)
				if err != nil {
					return operational(err)
				}
				c.printf("Process %q started with PID: %d\n", rec.Name, rec.PID)
				return nil
			})
		},
	}
	return cmd
}

func createStopCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <name>",
		Short: "Stop a process (SIGTERM, then SIGKILL after the grace period)",
		Args:  exactArgs(1, "stop <name>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withManager(func(mgr *manager.Manager) error {
				out, err := mgr.Stop(cmd.Context(), args[0])
				if err != nil {
					return operational(err)
				}
				switch out {
				case process.NotRunning:
					c.printf("Process %q is not running\n", args[0])
				default:
					c.printf("Process %q %s\n", args[0], out)
				}
				return nil
			})
		},
	}
}

func createRestartCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:   "restart <name>",
		Short: "Stop a process if running, then start it again",
		Args:  exactArgs(1, "restart <name>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withManager(func(mgr *manager.Manager) error {
				rec, err := mgr.Restart(cmd.Context(), args[0])
				if err != nil {
					return operational(err)
				}
				c.printf("Process %q restarted with PID: %d\n", rec.Name, rec.PID)
				return nil
			})
		},
	}
}

func createDeleteCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <name>",
		Aliases: []string{"del"},
		Short:   "Stop a process if running and forget it",
		Args:    exactArgs(1, "delete <name>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withManager(func(mgr *manager.Manager) error {
				if err := mgr.Delete(cmd.Context(), args[0]); err != nil {
					return operational(err)
				}
				c.printf("Process %q deleted\n", args[0])
				return nil
			})
		},
	}
}

func createListCommand(c command) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List processes after checking which are still alive",
		Args:    exactArgs(0, "list [--json]"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withManager(func(mgr *manager.Manager) error {
				recs, err := mgr.List(cmd.Context())
				if err != nil {
					return operational(err)
				}
				if asJSON {
					b, err := json.MarshalIndent(recs, "", "  ")
					if err != nil {
						return operational(err)
					}
					c.printf("%s\n", b)
					return nil
				}
				if len(recs) == 0 {
					c.printf("No processes registered\n")
					return nil
				}
				renderTable(c.out, recs, time.Now())
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print records as JSON")
	return cmd
}

func createLogsCommand(c command) *cobra.Command {
	var follow bool
	cmd := &cobra.Command{
		Use:   "logs <name> [lines]",
		Short: "Show the last lines of a process log",
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) < 1 || len(args) > 2 {
				return fmt.Errorf("%w: expected logs <name> [lines]", ErrUsage)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			n := 0
			if len(args) == 2 {
				v, err := strconv.Atoi(args[1])
				if err != nil || v <= 0 {
					return fmt.Errorf("%w: lines must be a positive integer, got %q", ErrUsage, args[1])
				}
				n = v
			}
			return c.withManager(func(mgr *manager.Manager) error {
				if follow {
					return operational(mgr.Follow(cmd.Context(), args[0], n, c.out))
				}
				lines, err := mgr.Logs(args[0], n)
				if err != nil {
					return operational(err)
				}
				for _, l := range lines {
					c.printf("%s\n", l)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep printing new lines until interrupted")
	return cmd
}

func createStopAllCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:   "stop-all",
		Short: "Stop every running process",
		Args:  exactArgs(0, "stop-all"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withManager(func(mgr *manager.Manager) error {
				results, err := mgr.StopAll(cmd.Context())
				if len(results) == 0 && err == nil {
					c.printf("No running processes\n")
				}
				for _, r := range results {
					if r.Err != nil {
						continue
					}
					c.printf("Process %q %s\n", r.Name, r.Outcome)
				}
				return operational(err)
			})
		},
	}
}

func createCleanupCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Remove stopped processes from the registry",
		Args:  exactArgs(0, "cleanup"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withManager(func(mgr *manager.Manager) error {
				removed, err := mgr.Cleanup(cmd.Context())
				if err != nil {
					return operational(err)
				}
				if len(removed) == 0 {
					c.printf("Nothing to clean up\n")
				}
				for _, name := range removed {
					c.printf("Cleaned up stopped process: %s\n", name)
				}
				return nil
			})
		},
	}
}
