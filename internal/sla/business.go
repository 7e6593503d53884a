package sla

import (
	"time"

	"github.com/gangplank-systems/gangplank/pkg/types"
)

// Business hours window applied when businessHoursOnly is set.
const (
	businessOpenHour  = 9
	businessCloseHour = 17
)

// elapsedMinutes returns wall-clock minutes between start and now, or the
// business-hours-adjusted figure when the config requires it.
func elapsedMinutes(cfg *types.SLAConfig, start, now time.Time) float64 {
	if !cfg.BusinessHoursOnly {
		return now.Sub(start).Minutes()
	}
	loc := start.Location()
	if cfg.Timezone != "" {
		if l, err := time.LoadLocation(cfg.Timezone); err == nil {
			loc = l
		}
	}
	return businessMinutes(start.In(loc), now.In(loc))
}

// businessMinutes counts minutes between start and end that fall inside
// 09:00-17:00 on weekdays. Both times must be in the same location.
func businessMinutes(start, end time.Time) float64 {
	if !end.After(start) {
		return 0
	}

	var total time.Duration
	day := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, start.Location())
	for day.Before(end) {
		if isBusinessDay(day) {
			open := day.Add(businessOpenHour * time.Hour)
			closeAt := day.Add(businessCloseHour * time.Hour)
			total += overlap(start, end, open, closeAt)
		}
		day = day.AddDate(0, 0, 1)
	}
	return total.Minutes()
}

func isBusinessDay(t time.Time) bool {
	wd := t.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// overlap returns the duration of the intersection of [aStart,aEnd] and
// [bStart,bEnd].
func overlap(aStart, aEnd, bStart, bEnd time.Time) time.Duration {
	if aStart.Before(bStart) {
		aStart = bStart
	}
	if aEnd.After(bEnd) {
		aEnd = bEnd
	}
	if !aEnd.After(aStart) {
		return 0
	}
	return aEnd.Sub(aStart)
}
