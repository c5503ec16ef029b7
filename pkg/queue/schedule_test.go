package queue_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/pgqueue/pkg/queue"
)

func TestSchedule_Next(t *testing.T) {
	t.Parallel()

	// Thursday
	base := time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC)

	tests := []struct {
		name     string
		schedule queue.Schedule
		from     time.Time
		want     time.Time
		str      string
	}{
		{
			name:     "every 5 minutes",
			schedule: queue.Every(5 * time.Minute),
			from:     base.Add(time.Minute),
			want:     time.Date(2026, 1, 15, 10, 35, 0, 0, time.UTC),
			str:      "every 5m0s",
		},
		{
			name:     "every interval on a boundary moves forward",
			schedule: queue.Every(5 * time.Minute),
			from:     base,
			want:     base.Add(5 * time.Minute),
			str:      "every 5m0s",
		},
		{
			name:     "hourly later this hour",
			schedule: queue.HourlyAt(45),
			from:     base,
			want:     time.Date(2026, 1, 15, 10, 45, 0, 0, time.UTC),
			str:      "hourly at :45",
		},
		{
			name:     "hourly next hour",
			schedule: queue.HourlyAt(15),
			from:     base,
			want:     time.Date(2026, 1, 15, 11, 15, 0, 0, time.UTC),
			str:      "hourly at :15",
		},
		{
			name:     "daily today",
			schedule: queue.DailyAt(14, 0),
			from:     base,
			want:     time.Date(2026, 1, 15, 14, 0, 0, 0, time.UTC),
			str:      "daily at 14:00",
		},
		{
			name:     "daily tomorrow",
			schedule: queue.DailyAt(9, 5),
			from:     base,
			want:     time.Date(2026, 1, 16, 9, 5, 0, 0, time.UTC),
			str:      "daily at 09:05",
		},
		{
			name:     "weekly later this week",
			schedule: queue.WeeklyOn(time.Saturday, 8, 0),
			from:     base,
			want:     time.Date(2026, 1, 17, 8, 0, 0, 0, time.UTC),
			str:      "weekly on Saturday at 08:00",
		},
		{
			name:     "weekly same day already passed",
			schedule: queue.WeeklyOn(time.Thursday, 9, 0),
			from:     base,
			want:     time.Date(2026, 1, 22, 9, 0, 0, 0, time.UTC),
			str:      "weekly on Thursday at 09:00",
		},
		{
			name:     "monthly next month",
			schedule: queue.MonthlyOn(1, 0, 0),
			from:     base,
			want:     time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
			str:      "monthly on day 1 at 00:00",
		},
		{
			name:     "monthly clamps to short month",
			schedule: queue.MonthlyOn(31, 12, 0),
			from:     time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC),
			want:     time.Date(2026, 2, 28, 12, 0, 0, 0, time.UTC),
			str:      "monthly on day 31 at 12:00",
		},
		{
			name:     "monthly across year end",
			schedule: queue.MonthlyOn(5, 6, 0),
			from:     time.Date(2026, 12, 20, 0, 0, 0, 0, time.UTC),
			want:     time.Date(2027, 1, 5, 6, 0, 0, 0, time.UTC),
			str:      "monthly on day 5 at 06:00",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := tt.schedule.Next(tt.from)
			assert.Equal(t, tt.want, got)
			assert.True(t, got.After(tt.from))
			assert.Equal(t, tt.str, tt.schedule.String())
		})
	}
}

func TestSchedule_Deterministic(t *testing.T) {
	t.Parallel()

	// two processes starting at different moments agree on the ticks
	s := queue.Every(time.Minute)
	a := s.Next(time.Date(2026, 3, 1, 8, 0, 12, 0, time.UTC))
	b := s.Next(time.Date(2026, 3, 1, 8, 0, 47, 0, time.UTC))
	assert.Equal(t, a, b)
}
