package schedule_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inspectline/internal/domain"
	"inspectline/internal/schedule"
)

func intp(v int) *int { return &v }

func TestWeeklyFromWednesdayLandsOnMonday(t *testing.T) {
	// 2024-06-05 is a Wednesday.
	from := time.Date(2024, 6, 5, 14, 30, 0, 0, time.UTC)
	due, err := schedule.NextDueDate(domain.FrequencyWeekly, domain.AnchorRule{DayOfWeek: intp(1)}, from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC), due)
	assert.Equal(t, time.Monday, due.Weekday())
}

func TestWeeklySameDayBeforeAndAfterNine(t *testing.T) {
	anchor := domain.AnchorRule{DayOfWeek: intp(1)}
	mondayEarly := time.Date(2024, 6, 10, 8, 0, 0, 0, time.UTC)
	due, err := schedule.NextDueDate(domain.FrequencyWeekly, anchor, mondayEarly)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC), due)

	mondayNine := time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC)
	due, err = schedule.NextDueDate(domain.FrequencyWeekly, anchor, mondayNine)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 6, 17, 9, 0, 0, 0, time.UTC), due)
}

func TestDueTimeUsesLocationZone(t *testing.T) {
	zone := time.FixedZone("UTC-5", -5*3600)
	from := time.Date(2024, 6, 5, 23, 0, 0, 0, zone)
	due, err := schedule.NextDueDate(domain.FrequencyDaily, domain.AnchorRule{}, from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 6, 6, 9, 0, 0, 0, zone), due)
	assert.Equal(t, 14, due.UTC().Hour())
}

func TestMonthlyClampsToMonthEnd(t *testing.T) {
	anchor := domain.AnchorRule{DayOfMonth: intp(31)}
	from := time.Date(2023, 1, 31, 9, 0, 0, 0, time.UTC)
	var got []time.Time
	for i := 0; i < 4; i++ {
		next, err := schedule.NextDueDate(domain.FrequencyMonthly, anchor, from)
		require.NoError(t, err)
		got = append(got, next)
		from = next
	}
	assert.Equal(t, []time.Time{
		time.Date(2023, 2, 28, 9, 0, 0, 0, time.UTC),
		time.Date(2023, 3, 31, 9, 0, 0, 0, time.UTC),
		time.Date(2023, 4, 30, 9, 0, 0, 0, time.UTC),
		time.Date(2023, 5, 31, 9, 0, 0, 0, time.UTC),
	}, got)
}

func TestMonthlyThisMonthWhenAhead(t *testing.T) {
	due, err := schedule.NextDueDate(domain.FrequencyMonthly, domain.AnchorRule{DayOfMonth: intp(15)}, time.Date(2024, 12, 3, 10, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 12, 15, 9, 0, 0, 0, time.UTC), due)

	due, err = schedule.NextDueDate(domain.FrequencyMonthly, domain.AnchorRule{DayOfMonth: intp(1)}, time.Date(2024, 12, 3, 10, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC), due)
}

func TestQuarterlyFollowsPhase(t *testing.T) {
	anchor := domain.AnchorRule{DayOfMonth: intp(10), Month: intp(2)}
	due, err := schedule.NextDueDate(domain.FrequencyQuarterly, anchor, time.Date(2024, 6, 20, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 8, 10, 9, 0, 0, 0, time.UTC), due)

	due, err = schedule.NextDueDate(domain.FrequencyQuarterly, domain.AnchorRule{DayOfMonth: intp(1)}, time.Date(2024, 11, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC), due)
}

func TestYearlyAndEveryThreeYears(t *testing.T) {
	anchor := domain.AnchorRule{Month: intp(3), DayOfMonth: intp(15)}
	before := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	after := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)

	due, err := schedule.NextDueDate(domain.FrequencyYearly, anchor, before)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC), due)
	due, err = schedule.NextDueDate(domain.FrequencyYearly, anchor, after)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 15, 9, 0, 0, 0, time.UTC), due)

	due, err = schedule.NextDueDate(domain.FrequencyEvery3Years, anchor, before)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC), due)
	due, err = schedule.NextDueDate(domain.FrequencyEvery3Years, anchor, due)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2027, 3, 15, 9, 0, 0, 0, time.UTC), due)
}

func TestLeapDayAnchorClampsInCommonYears(t *testing.T) {
	anchor := domain.AnchorRule{Month: intp(2), DayOfMonth: intp(29)}
	due, err := schedule.NextDueDate(domain.FrequencyYearly, anchor, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 2, 28, 9, 0, 0, 0, time.UTC), due)
}

func TestNextDueDateStrictlyAfterAndStable(t *testing.T) {
	cases := []struct {
		freq   domain.Frequency
		anchor domain.AnchorRule
	}{
		{domain.FrequencyDaily, domain.AnchorRule{}},
		{domain.FrequencyWeekly, domain.AnchorRule{DayOfWeek: intp(0)}},
		{domain.FrequencyWeekly, domain.AnchorRule{DayOfWeek: intp(6)}},
		{domain.FrequencyMonthly, domain.AnchorRule{DayOfMonth: intp(31)}},
		{domain.FrequencyQuarterly, domain.AnchorRule{DayOfMonth: intp(30), Month: intp(3)}},
		{domain.FrequencyYearly, domain.AnchorRule{Month: intp(2), DayOfMonth: intp(29)}},
		{domain.FrequencyEvery3Years, domain.AnchorRule{Month: intp(12), DayOfMonth: intp(31)}},
	}
	start := time.Date(2023, 12, 30, 17, 0, 0, 0, time.UTC)
	for _, tc := range cases {
		t.Run(string(tc.freq), func(t *testing.T) {
			for h := 0; h < 24*40; h += 7 {
				from := start.Add(time.Duration(h) * time.Hour)
				a, err := schedule.NextDueDate(tc.freq, tc.anchor, from)
				require.NoError(t, err)
				b, err := schedule.NextDueDate(tc.freq, tc.anchor, from)
				require.NoError(t, err)
				assert.True(t, a.After(from), "due %s not after %s", a, from)
				assert.Equal(t, a, b)
				assert.Equal(t, schedule.DueHour, a.Hour())
			}
		})
	}
}

func TestMalformedAnchorIsConfigurationError(t *testing.T) {
	cases := map[string]struct {
		freq   domain.Frequency
		anchor domain.AnchorRule
	}{
		"weekly missing day":        {domain.FrequencyWeekly, domain.AnchorRule{}},
		"weekly with day of month":  {domain.FrequencyWeekly, domain.AnchorRule{DayOfWeek: intp(1), DayOfMonth: intp(3)}},
		"weekly out of range":       {domain.FrequencyWeekly, domain.AnchorRule{DayOfWeek: intp(7)}},
		"monthly missing day":       {domain.FrequencyMonthly, domain.AnchorRule{DayOfWeek: intp(2)}},
		"monthly day zero":          {domain.FrequencyMonthly, domain.AnchorRule{DayOfMonth: intp(0)}},
		"yearly missing month":      {domain.FrequencyYearly, domain.AnchorRule{DayOfMonth: intp(3)}},
		"yearly impossible day":     {domain.FrequencyYearly, domain.AnchorRule{Month: intp(4), DayOfMonth: intp(31)}},
		"three years bad month":     {domain.FrequencyEvery3Years, domain.AnchorRule{Month: intp(13), DayOfMonth: intp(1)}},
		"daily with anchor":         {domain.FrequencyDaily, domain.AnchorRule{DayOfWeek: intp(1)}},
		"unknown frequency":         {domain.Frequency("hourly"), domain.AnchorRule{}},
		"quarterly with dayOfWeek":  {domain.FrequencyQuarterly, domain.AnchorRule{DayOfMonth: intp(1), DayOfWeek: intp(1)}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := schedule.NextDueDate(tc.freq, tc.anchor, time.Now())
			var cfgErr domain.ConfigurationError
			require.True(t, errors.As(err, &cfgErr), "expected ConfigurationError, got %v", err)
		})
	}
}

func TestLoadLocation(t *testing.T) {
	loc, err := schedule.LoadLocation("")
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)

	_, err = schedule.LoadLocation("Mars/Olympus_Mons")
	var cfgErr domain.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestAddMonthsClampsDay(t *testing.T) {
	zone := time.FixedZone("UTC-5", -5*3600)
	assert.Equal(t, time.Date(2026, 2, 28, 9, 0, 0, 0, zone), schedule.AddMonths(time.Date(2026, 8, 31, 9, 0, 0, 0, zone), -6))
	assert.Equal(t, time.Date(2024, 2, 29, 9, 0, 0, 0, time.UTC), schedule.AddMonths(time.Date(2024, 8, 31, 9, 0, 0, 0, time.UTC), -6))
	assert.Equal(t, time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC), schedule.AddMonths(time.Date(2024, 7, 15, 9, 0, 0, 0, time.UTC), 6))
}
