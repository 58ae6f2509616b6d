package main

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUsage marks bad command-line input. It maps to exit code 1.
var ErrUsage = errors.New("usage error")

// GlobalFlags holds the persistent flags shared by all subcommands.
type GlobalFlags struct {
	ConfigPath string
	Home       string
}

// StartArgs is the parsed form of "start <name> <command> [args...]".
type StartArgs struct {
	Name    string
	Command string
	Args    []string
	Cwd     string
	Env     []string
	Help    bool
	Global  GlobalFlags
}

// parseStartArgs splits raw start arguments. Options may precede the name;
// after it only --cwd is recognized, wherever it appears, and every other
// token belongs to the child.
func parseStartArgs(raw []string) (StartArgs, error) {
	var sa StartArgs
	var rest []string
	leading := true
	for i := 0; i < len(raw); i++ {
		tok := raw[i]
		flag, val, inline := strings.Cut(tok, "=")
		takeValue := func() (string, error) {
			if inline {
				return val, nil
			}
			if i+1 >= len(raw) {
				return "", fmt.Errorf("%w: %s requires a value", ErrUsage, flag)
			}
			i++
			return raw[i], nil
		}

		if flag == "--cwd" {
			v, err := takeValue()
			if err != nil {
				return sa, err
			}
			sa.Cwd = v
			continue
		}
		if !leading {
			rest = append(rest, tok)
			continue
		}
		switch flag {
		case "-h", "--help":
			sa.Help = true
		case "--env", "-e":
			v, err := takeValue()
			if err != nil {
				return sa, err
			}
			sa.Env = append(sa.Env, v)
		case "--config":
			v, err := takeValue()
			if err != nil {
				return sa, err
			}
			sa.Global.ConfigPath = v
		case "--home":
			v, err := takeValue()
			if err != nil {
				return sa, err
			}
			sa.Global.Home = v
		case "--":
			leading = false
		default:
			if strings.HasPrefix(tok, "-") {
				return sa, fmt.Errorf("%w: unknown option %s before process name", ErrUsage, tok)
			}
			leading = false
			rest = append(rest, tok)
		}
	}
	if sa.Help {
		return sa, nil
	}
	if len(rest) < 2 {
		return sa, fmt.Errorf("%w: start requires <name> <command> [args...]", ErrUsage)
	}
	sa.Name = rest[0]
	sa.Command = rest[1]
	sa.Args = rest[2:]
	return sa, nil
}
