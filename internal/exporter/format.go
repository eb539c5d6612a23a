package exporter

import (
	"fmt"
	"time"
)

// formatInt formats an int64 value for export
func formatInt(i int64) string {
	return fmt.Sprintf("%d", i)
}

// formatBool formats a boolean value for export
func formatBool(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// formatTime renders a timestamp in UTC, empty for nil
func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// formatDuration renders key minutes, "lifetime" for nil
func formatDuration(minutes *int) string {
	if minutes == nil {
		return "lifetime"
	}
	return formatInt(int64(*minutes))
}
