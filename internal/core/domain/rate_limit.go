package domain

import "time"

// RateLimitBucket is a fixed-window counter keyed by an arbitrary string such as "login:<ip>".
type RateLimitBucket struct {
	Key         string
	WindowStart time.Time
	Count       int64
}

// RateLimitDecision is the outcome of a single check-and-increment.
type RateLimitDecision struct {
	Allowed    bool
	Key        string
	Count      int64
	Limit      int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// Remaining returns how many calls are left in the current window.
func (d RateLimitDecision) Remaining() int {
	remaining := int64(d.Limit) - d.Count
	if remaining < 0 {
		return 0
	}
	return int(remaining)
}

// WindowStart aligns at to the start of its fixed window: floor(at/window)*window.
func WindowStart(at time.Time, window time.Duration) time.Time {
	if window <= 0 {
		return at
	}
	nanos := at.UnixNano()
	offset := nanos % int64(window)
	if offset < 0 {
		offset += int64(window)
	}
	return time.Unix(0, nanos-offset).UTC()
}
