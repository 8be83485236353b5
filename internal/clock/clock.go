// Package clock supplies local wall-clock time and the calendar-day
// arithmetic used to align daily counters to local midnight.
package clock

import "time"

// Func returns the current time. It is injected wherever "now" matters so
// tests can pin it.
type Func func() time.Time

// Local returns the current local wall-clock time.
func Local() time.Time {
	return time.Now().Local()
}

// NextMidnight returns local midnight daysAhead calendar days after the day
// containing from, in from's location.
func NextMidnight(from time.Time, daysAhead int) time.Time {
	y, m, d := from.Date()
	return time.Date(y, m, d+daysAhead, 0, 0, 0, 0, from.Location())
}

// SecondsUntilNextMidnight returns the whole seconds between from and
// NextMidnight(from, daysAhead). The result is floored and never negative.
func SecondsUntilNextMidnight(from time.Time, daysAhead int) int64 {
	secs := int64(NextMidnight(from, daysAhead).Sub(from) / time.Second)
	if secs < 0 {
		return 0
	}
	return secs
}

// Until returns the duration between from and NextMidnight(from, daysAhead),
// clamped to zero.
func Until(from time.Time, daysAhead int) time.Duration {
	return time.Duration(SecondsUntilNextMidnight(from, daysAhead)) * time.Second
}
