package reminder_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inspectline/internal/domain"
	"inspectline/internal/reminder"
)

func day(y int, m time.Month, d, h int) time.Time {
	return time.Date(y, m, d, h, 0, 0, 0, time.UTC)
}

func TestOverdueAlwaysWins(t *testing.T) {
	now := day(2024, 6, 5, 12)
	off := reminder.Settings{}
	for _, freq := range []domain.Frequency{
		domain.FrequencyDaily, domain.FrequencyWeekly, domain.FrequencyMonthly,
		domain.FrequencyQuarterly, domain.FrequencyYearly, domain.FrequencyEvery3Years,
	} {
		for _, cfg := range []reminder.Settings{reminder.Defaults(), off} {
			got := reminder.Classify(now.Add(-time.Minute), freq, cfg, now)
			assert.Equal(t, domain.CategoryOverdue, got, "freq %s", freq)
			got = reminder.Classify(now.AddDate(-2, 0, 0), freq, cfg, now)
			assert.Equal(t, domain.CategoryOverdue, got, "freq %s", freq)
		}
	}
}

func TestDueTodayRespectsToggle(t *testing.T) {
	now := day(2024, 6, 5, 7)
	due := day(2024, 6, 5, 9)
	cfg := reminder.Defaults()
	assert.Equal(t, domain.CategoryDueToday, reminder.Classify(due, domain.FrequencyWeekly, cfg, now))

	cfg.WeeklyDueDay = false
	assert.Equal(t, reminder.None, reminder.Classify(due, domain.FrequencyWeekly, cfg, now))

	// monthly falls through to the upcoming window when its due-day toggle is off
	cfg.MonthlyDueDay = false
	assert.Equal(t, domain.CategoryUpcoming, reminder.Classify(due, domain.FrequencyMonthly, cfg, now))
}

func TestDueTodayUsesLocalCalendarDay(t *testing.T) {
	zone := time.FixedZone("UTC+10", 10*3600)
	// 23:30 UTC on the 4th is 09:30 on the 5th locally.
	now := time.Date(2024, 6, 4, 23, 30, 0, 0, time.UTC).In(zone)
	due := time.Date(2024, 6, 5, 9, 0, 0, 0, zone).Add(time.Hour)
	assert.Equal(t, domain.CategoryDueToday, reminder.Classify(due, domain.FrequencyWeekly, reminder.Defaults(), now))
}

func TestMonthlyUpcomingWindowIsInclusive(t *testing.T) {
	cfg := reminder.Defaults()
	due := day(2024, 6, 20, 9)
	boundary := due.AddDate(0, 0, -cfg.MonthlyDaysBefore)
	assert.Equal(t, domain.CategoryUpcoming, reminder.Classify(due, domain.FrequencyMonthly, cfg, boundary))
	assert.Equal(t, reminder.None, reminder.Classify(due, domain.FrequencyMonthly, cfg, boundary.Add(-time.Second)))
	assert.Equal(t, reminder.None, reminder.Classify(due, domain.FrequencyWeekly, cfg, boundary))
}

func TestMonthlyWarningFirstWeekInsideWindow(t *testing.T) {
	cfg := reminder.Defaults()
	due := day(2024, 10, 15, 9)

	cases := []struct {
		name string
		now  time.Time
		freq domain.Frequency
		want domain.Category
	}{
		{"first week inside window", day(2024, 6, 3, 10), domain.FrequencyYearly, domain.CategoryMonthlyWarning},
		{"three year cadence", day(2024, 6, 3, 10), domain.FrequencyEvery3Years, domain.CategoryMonthlyWarning},
		{"cutoff day", day(2024, 6, 7, 23), domain.FrequencyYearly, domain.CategoryMonthlyWarning},
		{"second week", day(2024, 6, 8, 0), domain.FrequencyYearly, reminder.None},
		{"before window", day(2024, 4, 2, 10), domain.FrequencyYearly, reminder.None},
		{"window opens", day(2024, 4, 15, 9), domain.FrequencyYearly, reminder.None},
		{"monthly never warns", day(2024, 6, 3, 10), domain.FrequencyMonthly, reminder.None},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, reminder.Classify(due, tc.freq, cfg, tc.now))
		})
	}

	// window boundary is inclusive: due 2024-10-05 09:00, six months earlier is 2024-04-05 09:00.
	early := day(2024, 10, 5, 9)
	assert.Equal(t, domain.CategoryMonthlyWarning, reminder.Classify(early, domain.FrequencyYearly, cfg, day(2024, 4, 5, 9)))
	assert.Equal(t, reminder.None, reminder.Classify(early, domain.FrequencyYearly, cfg, day(2024, 4, 5, 8)))

	cfg.YearlyMonthlyReminder = false
	assert.Equal(t, reminder.None, reminder.Classify(due, domain.FrequencyYearly, cfg, day(2024, 6, 3, 10)))
	assert.Equal(t, domain.CategoryMonthlyWarning, reminder.Classify(due, domain.FrequencyEvery3Years, cfg, day(2024, 6, 3, 10)))
}

func TestMonthlyWarningCutoffIsConfigurable(t *testing.T) {
	cfg := reminder.Defaults()
	cfg.MonthlyWarningDays = 3
	due := day(2024, 10, 15, 9)
	assert.Equal(t, domain.CategoryMonthlyWarning, reminder.Classify(due, domain.FrequencyYearly, cfg, day(2024, 7, 3, 9)))
	assert.Equal(t, reminder.None, reminder.Classify(due, domain.FrequencyYearly, cfg, day(2024, 7, 4, 9)))
}

func TestDailyOnlyEverGoesOverdue(t *testing.T) {
	now := day(2024, 6, 5, 7)
	assert.Equal(t, reminder.None, reminder.Classify(day(2024, 6, 5, 9), domain.FrequencyDaily, reminder.Defaults(), now))
}

func TestSettingsValidate(t *testing.T) {
	require.NoError(t, reminder.Defaults().Validate())

	bad := reminder.Defaults()
	bad.YearlyMonthsBefore = 0
	var cfgErr domain.ConfigurationError
	require.ErrorAs(t, bad.Validate(), &cfgErr)
	assert.Equal(t, "yearly_months_before", cfgErr.Field)

	bad = reminder.Defaults()
	bad.MonthlyWarningDays = 40
	require.ErrorAs(t, bad.Validate(), &cfgErr)
}

func TestLookaheadIsCapped(t *testing.T) {
	cfg := reminder.Defaults()
	assert.Equal(t, 6, cfg.LookaheadMonths())
	cfg.ThreeYearMonthsBefore = 18
	assert.Equal(t, reminder.MaxLookaheadMonths, cfg.LookaheadMonths())
	cfg.YearlyMonthsBefore, cfg.ThreeYearMonthsBefore = 2, 3
	assert.Equal(t, 3, cfg.LookaheadMonths())
}

func TestMonthlyWarningWindowFromMonthEndDueDate(t *testing.T) {
	cfg := reminder.Defaults()
	due := day(2026, 8, 31, 9)
	// Six months before Aug 31 is Feb 28, not Mar 3.
	assert.Equal(t, reminder.None, reminder.Classify(due, domain.FrequencyYearly, cfg, day(2026, 2, 27, 10)))
	assert.Equal(t, domain.CategoryMonthlyWarning, reminder.Classify(due, domain.FrequencyYearly, cfg, day(2026, 3, 1, 10)))
	assert.Equal(t, domain.CategoryMonthlyWarning, reminder.Classify(due, domain.FrequencyYearly, cfg, day(2026, 3, 2, 10)))
	assert.Equal(t, domain.CategoryMonthlyWarning, reminder.Classify(due, domain.FrequencyEvery3Years, cfg, day(2026, 3, 1, 10)))
}
