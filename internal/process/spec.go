package process

import (
	"errors"
	"os/exec"
	"strings"
)

// shellMeta are characters that need a shell to interpret.
const shellMeta = "|&;<>*?`$\"'(){}[]~"

// Spec describes what to run for one supervised process.
type Spec struct {
	Name    string   `json:"name"`
	Command string   `json:"command"` // executable or shell snippet
	Args    []string `json:"args"`    // appended to Command
	WorkDir string   `json:"work_dir"`
	Env     []string `json:"env"` // per-process "K=V" overrides
}

// Validate checks the name can be used as a registry key and a log file name.
func (s Spec) Validate() error {
	if err := ValidateName(s.Name); err != nil {
		return err
	}
	if strings.TrimSpace(s.Command) == "" {
		return errors.New("process " + s.Name + " requires command")
	}
	return nil
}

// ValidateName rejects names that are empty or not a single path segment.
func ValidateName(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return errors.New("process requires name")
	case strings.ContainsAny(name, `/\`), strings.HasPrefix(name, "."):
		return errors.New("invalid process name " + name + ": must be a single path segment")
	case strings.ContainsAny(name, "\x00\n\r\t "):
		return errors.New("invalid process name " + name + ": contains whitespace")
	}
	return nil
}

// CommandLine joins Command and Args the way a shell would see them.
func (s Spec) CommandLine() string {
	line := strings.TrimSpace(s.Command)
	if len(s.Args) > 0 {
		line += " " + strings.Join(s.Args, " ")
	}
	return line
}

// BuildCommand constructs the *exec.Cmd for the spec.
// It honors an explicit "sh -c ..." prefix without double-wrapping, runs the
// joined command line under the shell when it contains metacharacters, and
// otherwise execs the command directly with its arguments preserved.
func (s Spec) BuildCommand() *exec.Cmd {
	cmdStr := strings.TrimSpace(s.Command)
	if cmdStr == "" {
		return trueCommand()
	}
	line := s.CommandLine()
	if _, afterC, ok := parseExplicitShell(line); ok {
		return shellCommand(afterC)
	}
	if strings.ContainsAny(line, shellMeta) {
		return shellCommand(line)
	}
	parts := append(strings.Fields(cmdStr), s.Args...)
	// #nosec G204
	return exec.Command(parts[0], parts[1:]...)
}

// parseExplicitShell detects "sh -c <ARG>" or "/bin/sh -c <ARG>" at the start
// of cmdStr and returns (shellPath, afterCArg, true). One pair of quotes
// around the script is stripped.
func parseExplicitShell(cmdStr string) (string, string, bool) {
	trim := strings.TrimLeft(cmdStr, " \t")
	for _, p := range []string{"sh -c ", "/bin/sh -c ", "/usr/bin/sh -c "} {
		if !strings.HasPrefix(trim, p) {
			continue
		}
		after := trim[len(p):]
		if n := len(after); n >= 2 {
			if (after[0] == '\'' && after[n-1] == '\'') || (after[0] == '"' && after[n-1] == '"') {
				after = after[1 : n-1]
			}
		}
		return strings.Fields(p)[0], after, true
	}
	return "", "", false
}
