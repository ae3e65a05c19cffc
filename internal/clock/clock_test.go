package clock

import (
	"testing"
	"time"
)

func TestTodayTruncatesToMidnightUTC(t *testing.T) {
	loc := time.FixedZone("WIB", 7*3600)
	c := NewFakeClock(time.Date(2026, 3, 1, 2, 30, 0, 0, loc))

	got := Today(c)
	want := time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestFakeClockAdvance(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewFakeClock(start)
	c.Advance(36 * time.Hour)

	if got := Today(c); !got.Equal(start.AddDate(0, 0, 1)) {
		t.Fatalf("expected next day, got %s", got)
	}
}
