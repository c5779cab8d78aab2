package ivr

import (
	"fmt"
	"iter"
	"slices"
	"strings"
	"time"

	"github.com/samber/lo"
)

const defaultHour = 9

// defaultTimeOfDay is used when a medication time is missing or malformed.
// Weekly check-ins and high-risk calls are always placed at this time.
func defaultTimeOfDay() TimeOfDay { return TimeOfDay{Hour: defaultHour} }

type TimeOfDay struct {
	Hour   int
	Minute int
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// ParseTimeOfDay parses "H:M" with one or two digits on each side, so "9:5"
// is 09:05. Anything else, or an out-of-range value, yields 09:00.
func ParseTimeOfDay(s string) TimeOfDay {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return defaultTimeOfDay()
	}
	h, okH := clockField(hh, 23)
	m, okM := clockField(mm, 59)
	if !okH || !okM {
		return defaultTimeOfDay()
	}
	return TimeOfDay{Hour: h, Minute: m}
}

func clockField(s string, limit int) (int, bool) {
	if len(s) == 0 || len(s) > 2 {
		return 0, false
	}
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
	}
	return n, n <= limit
}

var weekdayTags = func() map[string]time.Weekday {
	m := make(map[string]time.Weekday, 14)
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		name := strings.ToLower(wd.String())
		m[name] = wd
		m[name[:3]] = wd
	}
	return m
}()

// ParseWeekday accepts the short or full English name in any case: "Mon",
// "monday", "MON". Other spellings are rejected.
func ParseWeekday(tag string) (time.Weekday, bool) {
	wd, ok := weekdayTags[strings.ToLower(strings.TrimSpace(tag))]
	return wd, ok
}

// ParseWeekdays maps tags to weekdays, dropping unknown tags and duplicates.
func ParseWeekdays(tags []string) []time.Weekday {
	days := lo.FilterMap(tags, func(tag string, _ int) (time.Weekday, bool) {
		return ParseWeekday(tag)
	})
	return lo.Uniq(days)
}

// Occurrence is one planned medication reminder.
type Occurrence struct {
	At      time.Time
	Cycle   int
	Weekday time.Weekday
}

// baseOffset is the number of days from now to the first occurrence of wd at
// tod. Today counts only when tod is still ahead.
func baseOffset(now time.Time, wd time.Weekday, tod TimeOfDay) int {
	diff := (int(wd) - int(now.Weekday()) + 7) % 7
	if diff > 0 {
		return diff
	}
	today := atTimeOfDay(now, 0, tod)
	if today.After(now) {
		return 0
	}
	return 7
}

func atTimeOfDay(now time.Time, dayOffset int, tod TimeOfDay) time.Time {
	return time.Date(now.Year(), now.Month(), now.Day()+dayOffset, tod.Hour, tod.Minute, 0, 0, now.Location())
}

// PlanOccurrences yields one timestamp per (weekday, cycle) pair for cycles
// in [0, cycles), in chronological order. Every yielded time is strictly
// after now.
func PlanOccurrences(now time.Time, weekdays []time.Weekday, tod TimeOfDay, cycles int) iter.Seq[Occurrence] {
	type anchor struct {
		wd     time.Weekday
		offset int
	}
	anchors := lo.Map(lo.Uniq(weekdays), func(wd time.Weekday, _ int) anchor {
		return anchor{wd: wd, offset: baseOffset(now, wd, tod)}
	})
	slices.SortFunc(anchors, func(a, b anchor) int { return a.offset - b.offset })

	return func(yield func(Occurrence) bool) {
		for c := 0; c < cycles; c++ {
			for _, a := range anchors {
				at := atTimeOfDay(now, a.offset+7*c, tod)
				if !at.After(now) {
					continue
				}
				if !yield(Occurrence{At: at, Cycle: c, Weekday: a.wd}) {
					return
				}
			}
		}
	}
}
