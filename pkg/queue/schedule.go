package queue

import (
	"fmt"
	"time"
)

// Schedule determines when a periodic task should run
type Schedule interface {
	// Next returns the first tick strictly after from.
	Next(from time.Time) time.Time
	String() string
}

// validator is implemented by schedules with bounded fields.
type validator interface {
	validate() error
}

// intervalSchedule runs at fixed intervals aligned on the Unix epoch,
// so every process computes the same ticks.
type intervalSchedule struct {
	every time.Duration
}

func (s intervalSchedule) Next(from time.Time) time.Time {
	next := from.Truncate(s.every)
	for !next.After(from) {
		next = next.Add(s.every)
	}
	return next
}

func (s intervalSchedule) String() string {
	return fmt.Sprintf("every %v", s.every)
}

func (s intervalSchedule) validate() error {
	if s.every < time.Second {
		return fmt.Errorf("%w: interval must be at least one second, got %v", ErrInvalidSchedule, s.every)
	}
	return nil
}

// clockSchedule runs at a wall-clock time; zero-valued fields above the
// period are ignored (hourly ignores hour, daily ignores weekday and day).
type clockSchedule struct {
	period  string
	weekday time.Weekday
	day     int
	hour    int
	minute  int
}

func (s clockSchedule) Next(from time.Time) time.Time {
	loc := from.Location()
	switch s.period {
	case "hourly":
		next := time.Date(from.Year(), from.Month(), from.Day(), from.Hour(), s.minute, 0, 0, loc)
		if !next.After(from) {
			next = next.Add(time.Hour)
		}
		return next
	case "weekly":
		// days until target weekday, wrapping around the week
		daysUntil := (int(s.weekday) - int(from.Weekday()) + 7) % 7
		d := from.AddDate(0, 0, daysUntil)
		next := time.Date(d.Year(), d.Month(), d.Day(), s.hour, s.minute, 0, 0, loc)
		if !next.After(from) {
			next = next.AddDate(0, 0, 7)
		}
		return next
	case "monthly":
		year, month := from.Year(), from.Month()
		next := time.Date(year, month, min(s.day, daysInMonth(year, month)), s.hour, s.minute, 0, 0, loc)
		if !next.After(from) {
			year, month = nextMonth(year, month)
			next = time.Date(year, month, min(s.day, daysInMonth(year, month)), s.hour, s.minute, 0, 0, loc)
		}
		return next
	default:
		next := time.Date(from.Year(), from.Month(), from.Day(), s.hour, s.minute, 0, 0, loc)
		if !next.After(from) {
			next = next.AddDate(0, 0, 1)
		}
		return next
	}
}

func (s clockSchedule) String() string {
	switch s.period {
	case "hourly":
		return fmt.Sprintf("hourly at :%02d", s.minute)
	case "weekly":
		return fmt.Sprintf("weekly on %s at %02d:%02d", s.weekday, s.hour, s.minute)
	case "monthly":
		return fmt.Sprintf("monthly on day %d at %02d:%02d", s.day, s.hour, s.minute)
	}
	return fmt.Sprintf("daily at %02d:%02d", s.hour, s.minute)
}

func (s clockSchedule) validate() error {
	switch {
	case s.minute < 0 || s.minute > 59:
		return fmt.Errorf("%w: minute %d out of range", ErrInvalidSchedule, s.minute)
	case s.hour < 0 || s.hour > 23:
		return fmt.Errorf("%w: hour %d out of range", ErrInvalidSchedule, s.hour)
	case s.period == "monthly" && (s.day < 1 || s.day > 31):
		return fmt.Errorf("%w: day %d out of range", ErrInvalidSchedule, s.day)
	case s.period == "weekly" && (s.weekday < time.Sunday || s.weekday > time.Saturday):
		return fmt.Errorf("%w: weekday %d out of range", ErrInvalidSchedule, s.weekday)
	}
	return nil
}

// Every runs at fixed intervals of at least one second.
func Every(d time.Duration) Schedule {
	return intervalSchedule{every: d}
}

// HourlyAt runs every hour at the given minute.
func HourlyAt(minute int) Schedule {
	return clockSchedule{period: "hourly", minute: minute}
}

// DailyAt runs every day at the given time.
func DailyAt(hour, minute int) Schedule {
	return clockSchedule{period: "daily", hour: hour, minute: minute}
}

// WeeklyOn runs every week on the given day and time.
func WeeklyOn(weekday time.Weekday, hour, minute int) Schedule {
	return clockSchedule{period: "weekly", weekday: weekday, hour: hour, minute: minute}
}

// MonthlyOn runs every month on the given day and time.
// Days past the end of a short month fall on its last day.
func MonthlyOn(day, hour, minute int) Schedule {
	return clockSchedule{period: "monthly", day: day, hour: hour, minute: minute}
}

func validateSchedule(s Schedule) error {
	if s == nil {
		return fmt.Errorf("%w: schedule is nil", ErrInvalidSchedule)
	}
	if v, ok := s.(validator); ok {
		return v.validate()
	}
	return nil
}

func nextMonth(year int, month time.Month) (int, time.Month) {
	if month == time.December {
		return year + 1, time.January
	}
	return year, month + 1
}

func daysInMonth(year int, month time.Month) int {
	// day 0 of the next month is the last day of this one
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
