package session

import (
	"fmt"
	"time"
)

// HoursPolicy decides whether a point in time falls inside market hours.
// The registry never hardcodes a trading calendar; the policy is injected.
type HoursPolicy interface {
	Within(t time.Time) bool
}

// FixedOffsetHours is a daily open/close window expressed in an
// exchange-local clock at a fixed offset from UTC. It has no notion of
// weekends or holidays; the idle TTL covers those.
type FixedOffsetHours struct {
	Open      time.Duration // offset from local midnight, e.g. 9h15m
	Close     time.Duration // offset from local midnight, e.g. 15h30m
	UTCOffset time.Duration // exchange-local offset from UTC, e.g. 5h30m
}

// Within reports whether t falls inside [Open, Close] on the local clock.
func (h FixedOffsetHours) Within(t time.Time) bool {
	local := t.UTC().Add(h.UTCOffset)
	clock := time.Duration(local.Hour())*time.Hour +
		time.Duration(local.Minute())*time.Minute +
		time.Duration(local.Second())*time.Second
	return clock >= h.Open && clock <= h.Close
}

// ParseClock converts an "HH:MM" string into an offset from midnight.
func ParseClock(s string) (time.Duration, error) {
	parsed, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("parse clock %q: %w", s, err)
	}
	return time.Duration(parsed.Hour())*time.Hour +
		time.Duration(parsed.Minute())*time.Minute, nil
}
