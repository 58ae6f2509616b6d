// Package logs manages the per-process log files under <home>/logs.
//
// A child's stdout and stderr are attached to the same append-mode file the
// supervisor writes its own lifecycle lines to, so one file tells the whole
// story of a process.
package logs

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Level tags a supervisor-written log line.
type Level string

const (
	LevelInfo   Level = "info"
	LevelStdout Level = "stdout"
	LevelStderr Level = "stderr"
)

// DefaultLines is the tail length used when a caller asks for n <= 0.
const DefaultLines = 50

// timestampLayout is ISO-8601 UTC with milliseconds.
const timestampLayout = "2006-01-02T15:04:05.000Z"

// ErrNoLogs is returned when a process has never produced a log file.
var ErrNoLogs = errors.New("no logs found")

// Manager owns a directory of <name>.log files.
type Manager struct {
	Dir string
	// DefaultLines overrides DefaultLines when positive.
	DefaultLines int
}

// New returns a manager rooted at dir, creating it if needed.
func New(dir string) (*Manager, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("empty log directory")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	return &Manager{Dir: dir}, nil
}

// Path returns the log file path for name.
func (m *Manager) Path(name string) string {
	return filepath.Join(m.Dir, name+".log")
}

// OpenForChild opens the log file for appending. The caller passes the
// descriptor to the child as both stdout and stderr and closes its own copy
// once the child has started.
func (m *Manager) OpenForChild(name string) (*os.File, error) {
	if err := os.MkdirAll(m.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	// #nosec G304
	f, err := os.OpenFile(m.Path(name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open log for %s: %w", name, err)
	}
	return f, nil
}

// Append writes one timestamped line to the log of name.
func (m *Manager) Append(name, message string, level Level) error {
	f, err := m.OpenForChild(name)
	if err != nil {
		return err
	}
	_, werr := f.WriteString(FormatLine(time.Now(), level, message))
	cerr := f.Close()
	if werr != nil {
		return fmt.Errorf("append log for %s: %w", name, werr)
	}
	return cerr
}

// FormatLine renders "[<ts>] [<level>] <message>\n".
func FormatLine(ts time.Time, level Level, message string) string {
	return "[" + ts.UTC().Format(timestampLayout) + "] [" + string(level) + "] " + strings.TrimRight(message, "\r\n") + "\n"
}

// Tail returns the last n non-empty lines of the log of name. A missing file
// is ErrNoLogs; an empty file yields an empty slice.
func (m *Manager) Tail(name string, n int) ([]string, error) {
	n = m.lines(n)
	// #nosec G304
	b, err := os.ReadFile(m.Path(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w for %s", ErrNoLogs, name)
		}
		return nil, fmt.Errorf("read log for %s: %w", name, err)
	}
	return lastLines(b, n), nil
}

func (m *Manager) lines(n int) int {
	if n > 0 {
		return n
	}
	if m.DefaultLines > 0 {
		return m.DefaultLines
	}
	return DefaultLines
}

// lastLines keeps the trailing n non-empty lines of b.
func lastLines(b []byte, n int) []string {
	var out []string
	for _, raw := range bytes.Split(b, []byte("\n")) {
		line := strings.TrimRight(string(raw), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		out = append(out, line)
	}
	if len(out) > n {
		out = out[len(out)-n:]
	}
	if out == nil {
		out = []string{}
	}
	return out
}

// Remove deletes the log file of name. A missing file is not an error.
func (m *Manager) Remove(name string) error {
	err := os.Remove(m.Path(name))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove log for %s: %w", name, err)
	}
	return nil
}
