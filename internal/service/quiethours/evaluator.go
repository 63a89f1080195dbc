// Package quiethours decides whether a send happens now or is deferred to
// the end of the user's quiet window. It is a pure function of its inputs so
// the dispatcher and its tests can inject "now".
package quiethours

import (
	"fmt"
	"time"

	"notifyhub/internal/model"
)

// Result is the evaluator's verdict for one channel.
type Result struct {
	Deferred      bool
	DeferredUntil time.Time
}

// SendNow is the verdict when nothing defers the delivery.
var SendNow = Result{}

// Evaluate maps (now, quiet-hours config, priority, channel) to a verdict.
// A delivery is deferred when quiet hours are enabled, the wall-clock time in
// the user's timezone falls inside [start, end) (the window may wrap
// midnight), the channel is covered, and the priority is not excluded.
func Evaluate(now time.Time, qh model.QuietHours, priority, channel string) (Result, error) {
	if !qh.Enabled {
		return SendNow, nil
	}
	if qh.ExcludesPriority(priority) {
		return SendNow, nil
	}
	if !qh.AppliesToChannel(channel) {
		return SendNow, nil
	}

	loc, err := time.LoadLocation(qh.Timezone)
	if err != nil {
		return SendNow, fmt.Errorf("invalid timezone %q: %w", qh.Timezone, err)
	}

	startH, startM, err := parseClock(qh.Start)
	if err != nil {
		return SendNow, err
	}
	endH, endM, err := parseClock(qh.End)
	if err != nil {
		return SendNow, err
	}

	local := now.In(loc)
	minute := local.Hour()*60 + local.Minute()
	start := startH*60 + startM
	end := endH*60 + endM

	inside := false
	if start <= end {
		inside = minute >= start && minute < end
	} else {
		// Window wraps midnight, e.g. 22:00-08:00.
		inside = minute >= start || minute < end
	}
	if !inside {
		return SendNow, nil
	}

	return Result{Deferred: true, DeferredUntil: nextWindowEnd(local, end)}, nil
}

// nextWindowEnd returns the first instant at or after local whose wall clock
// reads the window's end time.
func nextWindowEnd(local time.Time, endMinute int) time.Time {
	end := time.Date(local.Year(), local.Month(), local.Day(),
		endMinute/60, endMinute%60, 0, 0, local.Location())
	if !end.After(local) {
		end = end.AddDate(0, 0, 1)
	}
	return end
}

func parseClock(s string) (hour, minute int, err error) {
	if _, err := time.Parse("15:04", s); err != nil {
		return 0, 0, fmt.Errorf("invalid quiet hours time %q: %w", s, err)
	}
	fmt.Sscanf(s, "%d:%d", &hour, &minute)
	return hour, minute, nil
}
