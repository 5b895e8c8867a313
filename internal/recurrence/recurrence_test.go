package recurrence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tributary-data/tributary/internal/domain"
)

func ts(y int, m time.Month, d, hh, mm int) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, time.UTC)
}

func TestNextRun(t *testing.T) {
	tests := []struct {
		name    string
		freq    domain.RunFrequency
		lastRun *time.Time
		now     time.Time
		want    time.Time
	}{
		{
			name:    "daily ran earlier today advances to tomorrow",
			freq:    domain.FrequencyDaily,
			lastRun: ptr(ts(2025, 5, 12, 12, 30)),
			now:     ts(2025, 5, 12, 18, 0),
			want:    ts(2025, 5, 13, 0, 0),
		},
		{
			name: "daily never ran seeds tomorrow midnight",
			freq: domain.FrequencyDaily,
			now:  ts(2025, 5, 12, 12, 30),
			want: ts(2025, 5, 13, 0, 0),
		},
		{
			name:    "daily stale last run advances past today",
			freq:    domain.FrequencyDaily,
			lastRun: ptr(ts(2025, 5, 9, 3, 0)),
			now:     ts(2025, 5, 12, 12, 30),
			want:    ts(2025, 5, 13, 0, 0),
		},
		{
			name: "weekly never ran at monday midnight goes to next monday",
			freq: domain.FrequencyWeekly,
			now:  ts(2025, 5, 12, 0, 0), // Monday 00:00
			want: ts(2025, 5, 19, 0, 0),
		},
		{
			name: "weekly never ran midweek goes to next monday",
			freq: domain.FrequencyWeekly,
			now:  ts(2025, 5, 14, 9, 0), // Wednesday
			want: ts(2025, 5, 19, 0, 0),
		},
		{
			name:    "weekly ran this week goes to next monday",
			freq:    domain.FrequencyWeekly,
			lastRun: ptr(ts(2025, 5, 12, 1, 0)),
			now:     ts(2025, 5, 14, 9, 0),
			want:    ts(2025, 5, 19, 0, 0),
		},
		{
			name: "weekly sunday belongs to the current week",
			freq: domain.FrequencyWeekly,
			now:  ts(2025, 5, 18, 23, 0), // Sunday
			want: ts(2025, 5, 19, 0, 0),
		},
		{
			name:    "monthly ran this month goes to first of next month",
			freq:    domain.FrequencyMonthly,
			lastRun: ptr(ts(2025, 5, 3, 8, 0)),
			now:     ts(2025, 5, 20, 10, 0),
			want:    ts(2025, 6, 1, 0, 0),
		},
		{
			name: "monthly never ran goes to first of next month",
			freq: domain.FrequencyMonthly,
			now:  ts(2025, 5, 20, 10, 0),
			want: ts(2025, 6, 1, 0, 0),
		},
		{
			name:    "monthly december rolls into january",
			freq:    domain.FrequencyMonthly,
			lastRun: ptr(ts(2025, 12, 5, 0, 0)),
			now:     ts(2025, 12, 20, 0, 0),
			want:    ts(2026, 1, 1, 0, 0),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NextRun(tt.freq, tt.lastRun, tt.now)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNextRunUnknownFrequency(t *testing.T) {
	_, err := NextRun("HOURLY", nil, time.Now())
	require.Error(t, err)
}

func TestNextRunIsDeterministic(t *testing.T) {
	now := ts(2025, 5, 14, 9, 0)
	last := ptr(ts(2025, 5, 12, 1, 0))

	a, err := NextRun(domain.FrequencyWeekly, last, now)
	require.NoError(t, err)
	b, err := NextRun(domain.FrequencyWeekly, last, now)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestNextRunAlwaysAfterLastRun(t *testing.T) {
	// Post-run recomputation must make forward progress: with last_run set
	// to now, the next occurrence is strictly later.
	now := ts(2025, 5, 12, 12, 30)
	for _, freq := range []domain.RunFrequency{domain.FrequencyDaily, domain.FrequencyWeekly, domain.FrequencyMonthly} {
		got, err := NextRun(freq, &now, now)
		require.NoError(t, err)
		assert.True(t, got.After(now), "freq %s: %s not after %s", freq, got, now)
	}
}

func ptr(t time.Time) *time.Time { return &t }
