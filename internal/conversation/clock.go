package conversation

import "time"

// Clock supplies the current time to conversation transitions.
type Clock func() time.Time

// SystemClock is the wall clock.
func SystemClock() time.Time { return time.Now() }

// FixedClock returns a Clock that always reports t. Useful in tests, where
// the monotonic updatedAt guarantee still holds.
func FixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}

// nextTick returns a time strictly after prev, preferring now.
func nextTick(now, prev time.Time) time.Time {
	if now.After(prev) {
		return now
	}
	return prev.Add(time.Nanosecond)
}
