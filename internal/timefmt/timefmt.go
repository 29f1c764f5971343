// Package timefmt renders lead timestamps for people.
package timefmt

import (
	"fmt"
	"strings"
	"time"

	"github.com/boddenberg/crm-leads-go/internal/domain"
)

const absoluteLayout = "2 Jan, 15:04"

// Format renders an absolute date in loc. Empty input gives "no date" and
// unparsable input gives "invalid date".
func Format(ts string, loc *time.Location) string {
	if strings.TrimSpace(ts) == "" {
		return "no date"
	}
	t, err := domain.ParseTimestamp(ts)
	if err != nil {
		return "invalid date"
	}
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format(absoluteLayout)
}

// Relative renders ts relative to now: "just now" under an hour, "Nh ago"
// under a day, "yesterday", "Nd ago" under a week, then the absolute form.
// Missing or unparsable input gives "unknown".
func Relative(ts string, now time.Time) string {
	t, err := domain.ParseTimestamp(ts)
	if err != nil {
		return "unknown"
	}

	d := now.Sub(t)
	switch {
	case d < time.Hour:
		return "just now"
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d/time.Hour))
	}

	days := int(d / (24 * time.Hour))
	switch {
	case days == 1:
		return "yesterday"
	case days < 7:
		return fmt.Sprintf("%dd ago", days)
	default:
		return t.In(now.Location()).Format(absoluteLayout)
	}
}
