package clock

import (
	"time"

	"go.uber.org/fx"
)

// Clock is the single source of "now" for lifecycle decisions.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

var Module = fx.Module("clock",
	fx.Provide(func() Clock { return SystemClock{} }),
)

// Today truncates t to midnight UTC.
func Today(c Clock) time.Time {
	return Date(c.Now())
}

// Date truncates t to midnight UTC.
func Date(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
