package executor

import (
	"fmt"
	"strings"
	"time"

	"github.com/woolane/journey/pkg/models"
)

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// WakeTime computes when a delayed enrollment becomes due. The
// relative duration is applied first; UntilTime then snaps forward to
// the next occurrence of that wall-clock time, and UntilDays snaps
// forward to the next allowed weekday. The result is always after
// now.
func WakeTime(now time.Time, delay *models.DelayConfig) (time.Time, error) {
	if delay.Duration < 0 {
		return time.Time{}, fmt.Errorf("negative delay duration %d", delay.Duration)
	}

	wake := now.Add(delay.Unit.Duration(delay.Duration))

	if delay.UntilTime != "" {
		at, err := time.Parse("15:04", delay.UntilTime)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid until_time %q: %w", delay.UntilTime, err)
		}

		candidate := time.Date(wake.Year(), wake.Month(), wake.Day(),
			at.Hour(), at.Minute(), 0, 0, wake.Location())
		if candidate.Before(wake) {
			candidate = candidate.Add(24 * time.Hour)
		}

		wake = candidate
	}

	if len(delay.UntilDays) > 0 {
		allowed, err := parseWeekdays(delay.UntilDays)
		if err != nil {
			return time.Time{}, err
		}

		for range 7 {
			if allowed[wake.Weekday()] {
				break
			}

			wake = wake.Add(24 * time.Hour)
		}
	}

	return wake, nil
}

func parseWeekdays(names []string) (map[time.Weekday]bool, error) {
	allowed := make(map[time.Weekday]bool, len(names))

	for _, name := range names {
		day, ok := weekdays[strings.ToLower(name)]
		if !ok {
			return nil, fmt.Errorf("invalid until_days entry %q", name)
		}

		allowed[day] = true
	}

	return allowed, nil
}
