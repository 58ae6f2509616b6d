package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"

	"github.com/loykin/pmgr/internal/registry"
)

const maxColumnWidth = 60

// formatUptime renders d as "1d 2h", "3h 4m", "5m 6s" or "7s".
func formatUptime(d time.Duration) string {
	secs := int64(d / time.Second)
	if secs < 0 {
		secs = 0
	}
	mins := secs / 60
	hours := mins / 60
	days := hours / 24
	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh", days, hours%24)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, mins%60)
	case mins > 0:
		return fmt.Sprintf("%dm %ds", mins, secs%60)
	default:
		return fmt.Sprintf("%ds", secs)
	}
}

// truncateLeft keeps the tail of s, which is the informative end of a path.
func truncateLeft(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return "..." + string(r[len(r)-(max-3):])
}

func truncateRight(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}

// renderTable writes recs as the list table.
func renderTable(w io.Writer, recs []registry.Record, now time.Time) {
	table := tablewriter.NewWriter(w)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"Name", "PID", "Status", "Restarts", "Uptime", "Started", "CWD", "Command"})
	for _, r := range recs {
		pid := "N/A"
		if r.PID != 0 {
			pid = strconv.Itoa(r.PID)
		}
		uptime := "N/A"
		if r.Status == registry.StatusRunning && !r.StartTime.IsZero() {
			uptime = formatUptime(r.Uptime(now))
		}
		started := "N/A"
		if !r.StartTime.IsZero() {
			started = humanize.RelTime(r.StartTime, now, "ago", "from now")
		}
		table.Append([]string{
			r.Name,
			pid,
			string(r.Status),
			strconv.Itoa(r.RestartCount),
			uptime,
			started,
			truncateLeft(r.WorkDir, maxColumnWidth),
			truncateRight(r.CommandLine(), maxColumnWidth),
		})
	}
	table.Render()
}
