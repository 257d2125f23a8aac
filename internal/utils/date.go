// internal/utils/date.go
package utils

import (
	"fmt"
	"time"
)

const TimestampLayout = "2006-01-02 15:04:05"

func FormatTimestamp(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Format(TimestampLayout)
}

// FormatDuration rounds d for display: "850ms", "12.3s", "4m05s".
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return d.Round(time.Millisecond).String()
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	default:
		d = d.Round(time.Second)
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
	}
}

// IsWithin reports whether t happened less than d ago.
func IsWithin(t time.Time, d time.Duration) bool {
	return time.Since(t) < d
}
