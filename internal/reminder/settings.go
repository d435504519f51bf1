package reminder

import (
	"fmt"

	"inspectline/internal/domain"
)

// MaxLookaheadMonths caps how far ahead a sweep looks for instances.
const MaxLookaheadMonths = 6

// Settings controls lead times and due-day toggles. It is read fresh for each
// sweep and handed around by value.
type Settings struct {
	MonthlyDaysBefore     int `json:"monthly_days_before" yaml:"monthly_days_before"`
	YearlyMonthsBefore    int `json:"yearly_months_before" yaml:"yearly_months_before"`
	ThreeYearMonthsBefore int `json:"three_year_months_before" yaml:"three_year_months_before"`

	WeeklyDueDay    bool `json:"weekly_due_day" yaml:"weekly_due_day"`
	MonthlyDueDay   bool `json:"monthly_due_day" yaml:"monthly_due_day"`
	YearlyDueDay    bool `json:"yearly_due_day" yaml:"yearly_due_day"`
	ThreeYearDueDay bool `json:"three_year_due_day" yaml:"three_year_due_day"`

	YearlyMonthlyReminder    bool `json:"yearly_monthly_reminder" yaml:"yearly_monthly_reminder"`
	ThreeYearMonthlyReminder bool `json:"three_year_monthly_reminder" yaml:"three_year_monthly_reminder"`

	// MonthlyWarningDays is the last day of a calendar month that still
	// counts as its first week for monthly warnings.
	MonthlyWarningDays int `json:"monthly_warning_days" yaml:"monthly_warning_days"`

	EscalationEmail string `json:"escalation_email,omitempty" yaml:"escalation_email"`
}

// Defaults returns the settings used when none are stored.
func Defaults() Settings {
	return Settings{
		MonthlyDaysBefore:        7,
		YearlyMonthsBefore:       6,
		ThreeYearMonthsBefore:    6,
		WeeklyDueDay:             true,
		MonthlyDueDay:            true,
		YearlyDueDay:             true,
		ThreeYearDueDay:          true,
		YearlyMonthlyReminder:    true,
		ThreeYearMonthlyReminder: true,
		MonthlyWarningDays:       7,
	}
}

func (s Settings) Validate() error {
	positive := []struct {
		field string
		value int
	}{
		{"monthly_days_before", s.MonthlyDaysBefore},
		{"yearly_months_before", s.YearlyMonthsBefore},
		{"three_year_months_before", s.ThreeYearMonthsBefore},
		{"monthly_warning_days", s.MonthlyWarningDays},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return domain.ConfigurationError{Field: p.field, Reason: fmt.Sprintf("must be positive, got %d", p.value)}
		}
	}
	if s.MonthlyWarningDays > 28 {
		return domain.ConfigurationError{Field: "monthly_warning_days", Reason: "must not exceed 28"}
	}
	return nil
}

// LookaheadMonths is the larger long-lead window, capped at MaxLookaheadMonths.
func (s Settings) LookaheadMonths() int {
	months := s.YearlyMonthsBefore
	if s.ThreeYearMonthsBefore > months {
		months = s.ThreeYearMonthsBefore
	}
	if months > MaxLookaheadMonths {
		months = MaxLookaheadMonths
	}
	if months < 1 {
		months = 1
	}
	return months
}

func (s Settings) dueDay(freq domain.Frequency) bool {
	switch freq {
	case domain.FrequencyWeekly:
		return s.WeeklyDueDay
	case domain.FrequencyMonthly, domain.FrequencyQuarterly:
		return s.MonthlyDueDay
	case domain.FrequencyYearly:
		return s.YearlyDueDay
	case domain.FrequencyEvery3Years:
		return s.ThreeYearDueDay
	}
	return false
}

func (s Settings) longLead(freq domain.Frequency) (months int, enabled bool) {
	switch freq {
	case domain.FrequencyYearly:
		return s.YearlyMonthsBefore, s.YearlyMonthlyReminder
	case domain.FrequencyEvery3Years:
		return s.ThreeYearMonthsBefore, s.ThreeYearMonthlyReminder
	}
	return 0, false
}
