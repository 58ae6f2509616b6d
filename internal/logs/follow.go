package logs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/nxadm/tail"
)

// Follow writes the last n lines of the log of name to w, then streams lines
// appended afterwards until ctx is cancelled. The tailer is stopped and its
// inotify watch released before Follow returns.
func (m *Manager) Follow(ctx context.Context, name string, n int, w io.Writer) error {
	path := m.Path(name)
	// #nosec G304
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w for %s", ErrNoLogs, name)
		}
		return fmt.Errorf("read log for %s: %w", name, err)
	}
	for _, line := range lastLines(b, m.lines(n)) {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}

	t, err := tail.TailFile(path, tail.Config{
		// resume exactly where the snapshot above ended
		Location:  &tail.SeekInfo{Offset: int64(len(b)), Whence: io.SeekStart},
		Follow:    true,
		ReOpen:    true,
		MustExist: false,
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		return fmt.Errorf("follow log for %s: %w", name, err)
	}
	defer func() {
		if err := t.Stop(); err != nil {
			slog.Debug("Tailer stop", "name", name, "error", err)
		}
		t.Cleanup()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-t.Lines:
			if !ok {
				return t.Err()
			}
			if line.Err != nil {
				slog.Warn("Follow read error", "name", name, "error", line.Err)
				continue
			}
			if _, err := fmt.Fprintln(w, line.Text); err != nil {
				return err
			}
		}
	}
}
