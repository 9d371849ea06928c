package recurrence

import (
	"fmt"

	"github.com/dukerupert/famcal/internal/model"
)

// Validate checks a rule and reports every violation it finds.
func Validate(rule model.RecurrenceRule) error {
	ve := &model.ValidationError{}

	switch {
	case rule.Frequency == "":
		ve.Add("frequency is required")
	case !rule.Frequency.Valid():
		ve.Add(fmt.Sprintf("unknown frequency %q", rule.Frequency))
	}

	if rule.Interval < 1 {
		ve.Add("interval must be at least 1")
	}
	if rule.DayOfMonth < 0 || rule.DayOfMonth > 31 {
		ve.Add(fmt.Sprintf("day_of_month must be between 1 and 31, got %d", rule.DayOfMonth))
	}
	if rule.MonthOfYear < 0 || rule.MonthOfYear > 12 {
		ve.Add(fmt.Sprintf("month_of_year must be between 1 and 12, got %d", rule.MonthOfYear))
	}
	for _, d := range rule.DaysOfWeek {
		if d < 0 || d > 6 {
			ve.Add(fmt.Sprintf("days_of_week entries must be between 0 and 6, got %d", d))
		}
	}

	terminals := 0
	if rule.Unlimited {
		terminals++
	}
	if rule.EndDate != "" {
		terminals++
		if _, err := model.ParseDate(rule.EndDate); err != nil {
			ve.Add(fmt.Sprintf("end_date must be YYYY-MM-DD, got %q", rule.EndDate))
		}
	}
	if rule.MaxOccurrences != 0 {
		terminals++
		if rule.MaxOccurrences < 0 {
			ve.Add("max_occurrences must be positive")
		}
	}
	if terminals != 1 {
		ve.Add("exactly one of unlimited, end_date or max_occurrences must be set")
	}

	return ve.Err()
}
