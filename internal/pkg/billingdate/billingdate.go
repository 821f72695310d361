package billingdate

import "time"

// freeTrialDays is the fixed length of the introductory free period. A fixed
// 30-day window avoids the short-month ambiguity a calendar-month trial
// would have.
const freeTrialDays = 30

// NextDate computes the next charge date from an anchor date. The first
// (free) period is exactly 30 days long; every later period advances by one
// calendar month, clamped to the last valid day of the target month so that
// Jan 31 yields Feb 28 (or Feb 29 in a leap year), never Mar 2/3.
func NextDate(anchor time.Time, firstPeriod bool) time.Time {
	if firstPeriod {
		return anchor.AddDate(0, 0, freeTrialDays)
	}

	year, month, day := anchor.Date()
	targetYear := year
	targetMonth := month + 1
	if targetMonth > time.December {
		targetMonth = time.January
		targetYear++
	}

	if last := lastDayOfMonth(targetYear, targetMonth); day > last {
		day = last
	}

	hour, min, sec := anchor.Clock()
	return time.Date(targetYear, targetMonth, day, hour, min, sec, anchor.Nanosecond(), anchor.Location())
}

func lastDayOfMonth(year int, month time.Month) int {
	// Day 0 of the following month is the last day of this one.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
