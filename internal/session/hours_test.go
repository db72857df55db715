package session

import (
	"testing"
	"time"
)

func TestFixedOffsetHoursWindow(t *testing.T) {
	// 09:15-15:30 at UTC+5:30.
	hours := FixedOffsetHours{
		Open:      9*time.Hour + 15*time.Minute,
		Close:     15*time.Hour + 30*time.Minute,
		UTCOffset: 5*time.Hour + 30*time.Minute,
	}

	cases := []struct {
		name string
		utc  string
		want bool
	}{
		{"mid-session", "2026-02-02T06:00:00Z", true},    // 11:30 local
		{"open boundary", "2026-02-02T03:45:00Z", true},  // 09:15 local
		{"close boundary", "2026-02-02T10:00:00Z", true}, // 15:30 local
		{"before open", "2026-02-02T03:44:00Z", false},   // 09:14 local
		{"after close", "2026-02-02T10:01:00Z", false},   // 15:31 local
		{"midnight", "2026-02-02T18:30:00Z", false},      // 00:00 local next day
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ts, err := time.Parse(time.RFC3339, tc.utc)
			if err != nil {
				t.Fatalf("bad test time: %v", err)
			}
			if got := hours.Within(ts); got != tc.want {
				t.Fatalf("Within(%s)=%v, want %v", tc.utc, got, tc.want)
			}
		})
	}
}

func TestParseClock(t *testing.T) {
	d, err := ParseClock("09:15")
	if err != nil {
		t.Fatalf("ParseClock failed: %v", err)
	}
	if d != 9*time.Hour+15*time.Minute {
		t.Fatalf("ParseClock(09:15)=%s", d)
	}

	if _, err := ParseClock("9.15pm"); err == nil {
		t.Fatal("ParseClock accepted garbage")
	}
}
