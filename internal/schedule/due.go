// Package schedule computes when recurring inspections fall due.
package schedule

import (
	"fmt"
	"strings"
	"time"
	// Location timezones must resolve on hosts without a zoneinfo database.
	_ "time/tzdata"

	"inspectline/internal/domain"
)

// DueHour is the local wall-clock hour every instance falls due at.
const DueHour = 9

// NextDueDate returns the first due instant of freq/anchor strictly after from.
// The result is expressed in from's location; callers convert from into the
// location's timezone first.
func NextDueDate(freq domain.Frequency, anchor domain.AnchorRule, from time.Time) (time.Time, error) {
	if err := ValidateAnchor(freq, anchor); err != nil {
		return time.Time{}, err
	}
	loc := from.Location()
	y, m, d := from.Date()
	switch freq {
	case domain.FrequencyDaily:
		next := at(loc, y, m, d)
		if !next.After(from) {
			next = at(loc, y, m, d+1)
		}
		return next, nil
	case domain.FrequencyWeekly:
		delta := (*anchor.DayOfWeek - int(from.Weekday()) + 7) % 7
		next := at(loc, y, m, d+delta)
		if !next.After(from) {
			next = at(loc, y, m, d+delta+7)
		}
		return next, nil
	case domain.FrequencyMonthly:
		for i := 0; ; i++ {
			ny, nm := addMonths(y, m, i)
			if next := at(loc, ny, nm, clampDay(ny, nm, *anchor.DayOfMonth)); next.After(from) {
				return next, nil
			}
		}
	case domain.FrequencyQuarterly:
		phase := 1
		if anchor.Month != nil {
			phase = *anchor.Month
		}
		for i := 0; ; i++ {
			ny, nm := addMonths(y, m, i)
			if ((int(nm)-phase)%3+3)%3 != 0 {
				continue
			}
			if next := at(loc, ny, nm, clampDay(ny, nm, *anchor.DayOfMonth)); next.After(from) {
				return next, nil
			}
		}
	case domain.FrequencyYearly, domain.FrequencyEvery3Years:
		month := time.Month(*anchor.Month)
		next := at(loc, y, month, clampDay(y, month, *anchor.DayOfMonth))
		if next.After(from) {
			return next, nil
		}
		step := 1
		if freq == domain.FrequencyEvery3Years {
			step = 3
		}
		ny := y + step
		return at(loc, ny, month, clampDay(ny, month, *anchor.DayOfMonth)), nil
	}
	return time.Time{}, domain.ConfigurationError{Field: "frequency", Reason: fmt.Sprintf("unsupported value %q", freq)}
}

// ValidateAnchor checks that anchor carries exactly the fields freq needs.
func ValidateAnchor(freq domain.Frequency, anchor domain.AnchorRule) error {
	if !freq.Valid() {
		return domain.ConfigurationError{Field: "frequency", Reason: fmt.Sprintf("unsupported value %q", freq)}
	}
	var required, allowed []string
	switch freq {
	case domain.FrequencyDaily:
	case domain.FrequencyWeekly:
		required = []string{"day_of_week"}
	case domain.FrequencyMonthly:
		required = []string{"day_of_month"}
	case domain.FrequencyQuarterly:
		required = []string{"day_of_month"}
		allowed = []string{"month"}
	case domain.FrequencyYearly, domain.FrequencyEvery3Years:
		required = []string{"month", "day_of_month"}
	}
	present := map[string]bool{
		"day_of_week":  anchor.DayOfWeek != nil,
		"day_of_month": anchor.DayOfMonth != nil,
		"month":        anchor.Month != nil,
	}
	for _, f := range required {
		if !present[f] {
			return domain.ConfigurationError{Field: "anchor." + f, Reason: fmt.Sprintf("is required for %s templates", freq)}
		}
		delete(present, f)
	}
	for _, f := range allowed {
		delete(present, f)
	}
	for f, set := range present {
		if set {
			return domain.ConfigurationError{Field: "anchor." + f, Reason: fmt.Sprintf("is not valid for %s templates", freq)}
		}
	}
	if v := anchor.DayOfWeek; v != nil && (*v < 0 || *v > 6) {
		return domain.ConfigurationError{Field: "anchor.day_of_week", Reason: "must be between 0 (Sunday) and 6 (Saturday)"}
	}
	if v := anchor.Month; v != nil && (*v < 1 || *v > 12) {
		return domain.ConfigurationError{Field: "anchor.month", Reason: "must be between 1 and 12"}
	}
	if v := anchor.DayOfMonth; v != nil {
		limit := 31
		if anchor.Month != nil && (freq == domain.FrequencyYearly || freq == domain.FrequencyEvery3Years) {
			// leap year so Feb 29 stays expressible
			limit = daysIn(2024, time.Month(*anchor.Month))
		}
		if *v < 1 || *v > limit {
			return domain.ConfigurationError{Field: "anchor.day_of_month", Reason: fmt.Sprintf("must be between 1 and %d", limit)}
		}
	}
	return nil
}

// LoadLocation resolves an IANA zone name. Empty means UTC.
func LoadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, domain.ConfigurationError{Field: "timezone", Reason: fmt.Sprintf("unknown zone %q", name)}
	}
	return loc, nil
}

func at(loc *time.Location, y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, DueHour, 0, 0, 0, loc)
}

// AddMonths shifts t by n calendar months. The day is clamped to the target
// month, so Aug 31 minus six months is Feb 28 (29 in leap years).
func AddMonths(t time.Time, n int) time.Time {
	y, m := addMonths(t.Year(), t.Month(), n)
	return time.Date(y, m, clampDay(y, m, t.Day()), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func addMonths(y int, m time.Month, n int) (int, time.Month) {
	t := time.Date(y, m+time.Month(n), 1, 0, 0, 0, 0, time.UTC)
	return t.Year(), t.Month()
}

func daysIn(y int, m time.Month) int {
	return time.Date(y, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func clampDay(y int, m time.Month, d int) int {
	if last := daysIn(y, m); d > last {
		return last
	}
	return d
}
