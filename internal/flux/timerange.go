package flux

import (
	"fmt"
	"strings"
	"time"
)

// TimeRange holds the start and stop expressions of the range stage. Empty
// fields fall back to DefaultStart and DefaultStop.
type TimeRange struct {
	Start string
	Stop  string
}

// Relative is a range ending now, start being a negative duration like -24h.
func Relative(start string) TimeRange {
	return TimeRange{Start: start}
}

// Absolute is a range between two instants.
func Absolute(start, stop time.Time) TimeRange {
	return TimeRange{Start: TimeLiteral(start), Stop: TimeLiteral(stop)}
}

// HoursBack is the range covering the last n hours.
func HoursBack(n int) TimeRange {
	return TimeRange{Start: fmt.Sprintf("-%dh", n)}
}

// Bounds returns the start and stop expressions with defaults applied.
func (tr TimeRange) Bounds() (string, string) {
	start, stop := tr.Start, tr.Stop
	if start == "" {
		start = DefaultStart
	}
	if stop == "" || stop == "now" {
		stop = DefaultStop
	}
	return start, stop
}

// Validate accepts durations, now()/now, and time(v: "...") literals.
func (tr TimeRange) Validate() error {
	for _, expr := range []string{tr.Start, tr.Stop} {
		if expr == "" || expr == "now" || expr == DefaultStop || IsDuration(expr) {
			continue
		}
		if strings.HasPrefix(expr, "time(v: ") && strings.HasSuffix(expr, ")") {
			continue
		}
		return fmt.Errorf("%w: %q", ErrInvalidRange, expr)
	}
	return nil
}

// CalendarSelection is the date-picker input: one or two YYYY-MM-DD dates in
// any order and HH:MM bounds applied to the first and last day.
type CalendarSelection struct {
	Dates     []string
	StartTime string // default 00:00
	EndTime   string // default 23:59
}

// Range converts the selection. The earlier date is always the start. With no
// dates the zero TimeRange (the relative default) is returned.
func (c CalendarSelection) Range() (TimeRange, error) {
	if len(c.Dates) == 0 {
		return TimeRange{}, nil
	}
	if len(c.Dates) > 2 {
		return TimeRange{}, fmt.Errorf("%w: at most two dates", ErrInvalidRange)
	}

	days := make([]time.Time, len(c.Dates))
	for i, d := range c.Dates {
		t, err := time.Parse("2006-01-02", d)
		if err != nil {
			return TimeRange{}, fmt.Errorf("%w: date %q", ErrInvalidRange, d)
		}
		days[i] = t
	}
	first, last := days[0], days[len(days)-1]
	if last.Before(first) {
		first, last = last, first
	}

	startClock := orDefault(c.StartTime, "00:00")
	endClock := orDefault(c.EndTime, "23:59")
	start, err := atClock(first, startClock, 0)
	if err != nil {
		return TimeRange{}, err
	}
	stop, err := atClock(last, endClock, 59)
	if err != nil {
		return TimeRange{}, err
	}
	if stop.Before(start) {
		return TimeRange{}, fmt.Errorf("%w: stop before start", ErrInvalidRange)
	}
	return Absolute(start, stop), nil
}

func atClock(day time.Time, clock string, seconds int) (time.Time, error) {
	t, err := time.Parse("15:04", clock)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: time %q", ErrInvalidRange, clock)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), seconds, 0, time.UTC), nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
