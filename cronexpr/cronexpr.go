// Package cronexpr validates 5-field cron expressions and computes next
// run times. It is pure: no state, no clocks, no goroutines.
//
// Grammar per field: "*" (any), "N" (exact), "N-N" (inclusive range),
// "N,N,..." (list), "*/N" (every Nth value counted from 0). Fields are
// minute (0-59), hour (0-23), day-of-month (1-31), month (1-12), and
// day-of-week (0-6, Sunday = 0). A dash is a range separator only when
// it is not the first character of a sub-token, so "-5" is an invalid
// number, never a range.
package cronexpr

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// scanBound is how far Next scans before giving up on an expression that
// never matches (e.g. "0 0 31 2 *"). 366 days covers every reachable
// calendar combination including leap years.
const scanBound = 366 * 24 * 60 // minutes

// fallbackDelay is returned by Next when the scan bound is exhausted,
// keeping worst-case latency finite for impossible expressions.
const fallbackDelay = time.Hour

// fieldSpec names a cron field and its value domain.
type fieldSpec struct {
	name string
	min  int
	max  int
}

var fields = [5]fieldSpec{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day-of-month", 1, 31},
	{"month", 1, 12},
	{"day-of-week", 0, 6},
}

// Schedule is a parsed cron expression ready for repeated matching.
type Schedule struct {
	minute     map[int]bool
	hour       map[int]bool
	dayOfMonth map[int]bool
	month      map[int]bool
	dayOfWeek  map[int]bool
}

// Parse compiles a 5-field cron expression into a Schedule. The error
// names the field that failed.
func Parse(expr string) (*Schedule, error) {
	parts := strings.Fields(expr)
	if len(parts) != 5 {
		return nil, fmt.Errorf("cronexpr: expected 5 fields, got %d in %q", len(parts), expr)
	}

	var sets [5]map[int]bool
	for i, part := range parts {
		set, err := parseField(part, fields[i])
		if err != nil {
			return nil, fmt.Errorf("cronexpr: %s: %w", fields[i].name, err)
		}
		sets[i] = set
	}

	return &Schedule{
		minute:     sets[0],
		hour:       sets[1],
		dayOfMonth: sets[2],
		month:      sets[3],
		dayOfWeek:  sets[4],
	}, nil
}

// Validate checks a 5-field cron expression without retaining the parse.
func Validate(expr string) error {
	_, err := Parse(expr)
	return err
}

// MustParse is like Parse but panics on error. Use for hardcoded
// expressions.
func MustParse(expr string) *Schedule {
	s, err := Parse(expr)
	if err != nil {
		panic(fmt.Sprintf("cronexpr: must parse %q: %v", expr, err))
	}
	return s
}

// parseField expands one cron field into its matching value set.
func parseField(part string, spec fieldSpec) (map[int]bool, error) {
	values := make(map[int]bool)

	if part == "*" {
		for v := spec.min; v <= spec.max; v++ {
			values[v] = true
		}
		return values, nil
	}

	for _, token := range strings.Split(part, ",") {
		if token == "" {
			return nil, fmt.Errorf("empty list element in %q", part)
		}
		if err := parseToken(token, spec, values); err != nil {
			return nil, err
		}
	}
	return values, nil
}

// parseToken handles a single comma-separated sub-token: "*", "*/N",
// "N", or "N-N".
func parseToken(token string, spec fieldSpec, values map[int]bool) error {
	if token == "*" {
		for v := spec.min; v <= spec.max; v++ {
			values[v] = true
		}
		return nil
	}

	if step, ok := strings.CutPrefix(token, "*/"); ok {
		n, err := strconv.Atoi(step)
		if err != nil || n <= 0 || n > spec.max {
			return fmt.Errorf("invalid step %q (want 1-%d)", token, spec.max)
		}
		// Steps count from 0, so */15 in the minute field is 0,15,30,45.
		for v := spec.min; v <= spec.max; v++ {
			if v%n == 0 {
				values[v] = true
			}
		}
		return nil
	}

	// A dash at position 0 would be the sign of a negative number, which
	// is always invalid; only an interior dash separates a range.
	if idx := strings.Index(token, "-"); idx > 0 {
		startStr, endStr := token[:idx], token[idx+1:]
		start, err1 := strconv.Atoi(startStr)
		end, err2 := strconv.Atoi(endStr)
		if err1 != nil || err2 != nil || start > end || start < spec.min || end > spec.max {
			return fmt.Errorf("invalid range %q (want %d-%d, start <= end)", token, spec.min, spec.max)
		}
		for v := start; v <= end; v++ {
			values[v] = true
		}
		return nil
	}

	n, err := strconv.Atoi(token)
	if err != nil || n < spec.min || n > spec.max {
		return fmt.Errorf("invalid value %q (want %d-%d)", token, spec.min, spec.max)
	}
	values[n] = true
	return nil
}

// Matches reports whether t satisfies all five fields.
func (s *Schedule) Matches(t time.Time) bool {
	return s.minute[t.Minute()] &&
		s.hour[t.Hour()] &&
		s.dayOfMonth[t.Day()] &&
		s.month[int(t.Month())] &&
		s.dayOfWeek[int(t.Weekday())]
}

// Next returns the earliest time strictly after from at which the
// schedule matches, at minute granularity (seconds zeroed). The scan is
// bounded: an expression with no reachable match within 366 days yields
// from+1h instead of looping forever.
func (s *Schedule) Next(from time.Time) time.Time {
	// Round up to the next whole minute so the result is strictly after
	// from even when from sits exactly on a match.
	t := from.Truncate(time.Minute)

	for i := 1; i <= scanBound; i++ {
		candidate := t.Add(time.Duration(i) * time.Minute)
		if s.Matches(candidate) {
			return candidate
		}
	}

	return from.Add(fallbackDelay)
}

// Next parses expr and returns the earliest matching time strictly after
// from. An invalid expression also yields the bounded fallback; callers
// that need the distinction validate at ingress.
func Next(expr string, from time.Time) time.Time {
	s, err := Parse(expr)
	if err != nil {
		return from.Add(fallbackDelay)
	}
	return s.Next(from)
}
