package domain

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

const minutesPerDay = 24 * 60

// Interval is a half-open time range [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

func (iv Interval) Overlaps(o Interval) bool {
	return iv.Start.Before(o.End) && o.Start.Before(iv.End)
}

func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, Errorf(CodeCalendarBadRequest, "invalid date %q", s)
	}
	return t, nil
}

// ClockMinutes parses an "HH:MM" time-of-day into minutes since midnight.
func ClockMinutes(hhmm string) (int, error) {
	parts := strings.SplitN(hhmm, ":", 2)
	if len(parts) != 2 {
		return 0, Errorf(CodeCalendarBadRequest, "invalid time %q", hhmm)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, Errorf(CodeCalendarBadRequest, "invalid time %q", hhmm)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, Errorf(CodeCalendarBadRequest, "invalid time %q", hhmm)
	}
	return h*60 + m, nil
}

func ClockString(minutes int) string {
	minutes %= minutesPerDay
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// SlotStart resolves a (date, time) pair to an instant in the deployment's
// time zone.
func SlotStart(date, hhmm string, loc *time.Location) (time.Time, error) {
	day, err := ParseDate(date)
	if err != nil {
		return time.Time{}, err
	}
	mins, err := ClockMinutes(hhmm)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(day.Year(), day.Month(), day.Day(), mins/60, mins%60, 0, 0, loc), nil
}

// RoundUpToStep rounds a service duration up to the next multiple of the slot
// step. Durations of zero or less fall back to a single step.
func RoundUpToStep(durationMin, stepMin int) int {
	if stepMin <= 0 {
		stepMin = 30
	}
	if durationMin <= 0 {
		return stepMin
	}
	if rem := durationMin % stepMin; rem != 0 {
		return durationMin + stepMin - rem
	}
	return durationMin
}

// SubSlots returns every step-aligned sub-slot start needed to cover
// durationMin starting at hhmm. The second return is false when the span
// would cross midnight, which no template can contain.
func SubSlots(hhmm string, durationMin, stepMin int) ([]string, bool) {
	start, err := ClockMinutes(hhmm)
	if err != nil {
		return nil, false
	}
	if stepMin <= 0 || start+durationMin > minutesPerDay {
		return nil, false
	}
	n := durationMin / stepMin
	if durationMin%stepMin != 0 {
		n++
	}
	if n == 0 {
		n = 1
	}
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, ClockString(start+i*stepMin))
	}
	return out, true
}

// DefaultDaySlots generates the default per-date pattern: every step from
// open (inclusive) to close (exclusive).
func DefaultDaySlots(stepMin int, open, close string) []string {
	if stepMin <= 0 {
		stepMin = 30
	}
	from, err := ClockMinutes(open)
	if err != nil {
		return nil
	}
	to, err := ClockMinutes(close)
	if err != nil || to <= from {
		return nil
	}
	out := make([]string, 0, (to-from)/stepMin)
	for m := from; m < to; m += stepMin {
		out = append(out, ClockString(m))
	}
	return out
}

// NormalizeTimes parses, deduplicates, zero-pads and sorts a list of "HH:MM"
// times; entries that do not parse are dropped.
func NormalizeTimes(times []string) []string {
	seen := make(map[int]struct{}, len(times))
	mins := make([]int, 0, len(times))
	for _, t := range times {
		m, err := ClockMinutes(strings.TrimSpace(t))
		if err != nil {
			continue
		}
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		mins = append(mins, m)
	}
	sort.Ints(mins)
	out := make([]string, 0, len(mins))
	for _, m := range mins {
		out = append(out, ClockString(m))
	}
	return out
}
