// Package reminder decides which reminder, if any, an open instance earns.
package reminder

import (
	"time"

	"inspectline/internal/domain"
	"inspectline/internal/schedule"
)

// None is returned when no reminder applies.
const None domain.Category = ""

// Classify picks the reminder category for an instance due at dueAt. now
// should carry the location's timezone; calendar-day comparisons use it.
// Rules are checked in priority order and the first match wins.
func Classify(dueAt time.Time, freq domain.Frequency, s Settings, now time.Time) domain.Category {
	if dueAt.Before(now) {
		return domain.CategoryOverdue
	}
	due := dueAt.In(now.Location())
	if sameDay(due, now) && s.dueDay(freq) {
		return domain.CategoryDueToday
	}
	switch freq {
	case domain.FrequencyYearly, domain.FrequencyEvery3Years:
		months, enabled := s.longLead(freq)
		if enabled && months > 0 && inWindow(now, schedule.AddMonths(due, -months)) && now.Day() <= s.MonthlyWarningDays {
			return domain.CategoryMonthlyWarning
		}
	case domain.FrequencyMonthly, domain.FrequencyQuarterly:
		if s.MonthlyDaysBefore > 0 && inWindow(now, due.AddDate(0, 0, -s.MonthlyDaysBefore)) {
			return domain.CategoryUpcoming
		}
	}
	return None
}

// inWindow is inclusive at the opening edge.
func inWindow(now, opens time.Time) bool {
	return !now.Before(opens)
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
