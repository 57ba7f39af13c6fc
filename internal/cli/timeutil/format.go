// Package timeutil provides time formatting utilities for CLI output.
package timeutil

import (
	"fmt"
	"time"
)

// LocalTimeFormat is the format used for displaying local times in CLI output.
// Uses Go's reference time: Mon Jan 2 15:04:05 2006.
const LocalTimeFormat = "Mon Jan 2 15:04:05 2006"

// FormatEpoch renders epoch seconds as a local time string. Zero renders as
// "never", matching a record that has not seen the event yet.
func FormatEpoch(sec int64) string {
	if sec <= 0 {
		return "never"
	}
	return time.Unix(sec, 0).Local().Format(LocalTimeFormat)
}

// FormatAgo renders epoch seconds as a coarse relative age ("12s ago",
// "3m ago", "2h ago", "5d ago"). Zero renders as "never".
func FormatAgo(sec int64) string {
	if sec <= 0 {
		return "never"
	}
	d := time.Since(time.Unix(sec, 0))
	if d < 0 {
		d = 0
	}
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours())/24)
	}
}
