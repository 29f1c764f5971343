package timefmt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormat(t *testing.T) {
	assert.Equal(t, "29 Jan, 14:30", Format("2024-01-29T14:30:00", time.UTC))
	assert.Equal(t, "29 Jan, 12:30", Format("2024-01-29T14:30:00+02:00", time.UTC))
	assert.Equal(t, "no date", Format("", time.UTC))
	assert.Equal(t, "invalid date", Format("tomorrow", time.UTC))
}

func TestRelative(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	ago := func(d time.Duration) string { return now.Add(-d).Format(time.RFC3339) }

	tests := []struct {
		name string
		ts   string
		want string
	}{
		{"seconds", ago(30 * time.Second), "just now"},
		{"future", now.Add(time.Hour).Format(time.RFC3339), "just now"},
		{"hours", ago(5*time.Hour + 10*time.Minute), "5h ago"},
		{"yesterday", ago(30 * time.Hour), "yesterday"},
		{"days", ago(3 * 24 * time.Hour), "3d ago"},
		{"old", "2024-02-01T09:15:00Z", "1 Feb, 09:15"},
		{"zoneless is utc", "2024-03-10T09:00:00", "3h ago"},
		{"empty", "", "unknown"},
		{"invalid", "soon", "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Relative(tt.ts, now))
		})
	}
}
