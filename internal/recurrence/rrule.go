package recurrence

import (
	"fmt"
	"strings"
	"time"

	"github.com/dukerupert/famcal/internal/model"
	"github.com/teambition/rrule-go"
)

// rrule-go numbers weekdays from Monday; rules number them from Sunday.
var weekdays = []rrule.Weekday{rrule.SU, rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA}

// ToRRule renders rule as an RFC 5545 RRULE value anchored at anchor.
// Monthly rules on days missing from some months clamp in Expand but are
// skipped by RFC 5545 consumers.
func ToRRule(rule model.RecurrenceRule, anchor string) (string, error) {
	start, err := model.ParseDate(anchor)
	if err != nil {
		return "", fmt.Errorf("parse anchor: %w", err)
	}

	interval := rule.Interval
	if interval < 1 {
		interval = 1
	}
	opt := rrule.ROption{Dtstart: start, Interval: interval}

	switch rule.Frequency {
	case model.Daily:
		opt.Freq = rrule.DAILY
	case model.Weekly, model.Biweekly:
		opt.Freq = rrule.WEEKLY
		if rule.Frequency == model.Biweekly {
			opt.Interval = 2 * interval
		}
		opt.Wkst = rrule.SU
		for _, d := range rule.DaysOfWeek {
			if d >= 0 && d <= 6 {
				opt.Byweekday = append(opt.Byweekday, weekdays[d])
			}
		}
	case model.Monthly:
		opt.Freq = rrule.MONTHLY
		if rule.DayOfMonth > 0 {
			opt.Bymonthday = []int{rule.DayOfMonth}
		}
	case model.Yearly:
		opt.Freq = rrule.YEARLY
		if rule.MonthOfYear > 0 {
			opt.Bymonth = []int{rule.MonthOfYear}
		}
		if rule.DayOfMonth > 0 {
			opt.Bymonthday = []int{rule.DayOfMonth}
		}
	default:
		return "", fmt.Errorf("unsupported frequency: %q", rule.Frequency)
	}

	switch {
	case rule.MaxOccurrences > 0:
		opt.Count = rule.MaxOccurrences
	case rule.EndDate != "":
		until, err := model.ParseDate(rule.EndDate)
		if err != nil {
			return "", fmt.Errorf("parse end date: %w", err)
		}
		opt.Until = until.Add(24*time.Hour - time.Second)
	}

	if _, err := rrule.NewRRule(opt); err != nil {
		return "", fmt.Errorf("build rrule: %w", err)
	}
	return opt.RRuleString(), nil
}

// FromRRule parses an RRULE value such as "FREQ=WEEKLY;BYDAY=MO,WE".
func FromRRule(text string) (model.RecurrenceRule, error) {
	text = strings.TrimPrefix(strings.TrimSpace(text), "RRULE:")
	if text == "" {
		return model.RecurrenceRule{}, fmt.Errorf("empty rule")
	}
	opt, err := rrule.StrToROption(text)
	if err != nil {
		return model.RecurrenceRule{}, fmt.Errorf("parse rrule: %w", err)
	}

	rule := model.RecurrenceRule{Interval: opt.Interval}
	if rule.Interval < 1 {
		rule.Interval = 1
	}

	switch opt.Freq {
	case rrule.DAILY:
		rule.Frequency = model.Daily
	case rrule.WEEKLY:
		rule.Frequency = model.Weekly
		for _, wd := range opt.Byweekday {
			rule.DaysOfWeek = append(rule.DaysOfWeek, (wd.Day()+1)%7)
		}
	case rrule.MONTHLY:
		rule.Frequency = model.Monthly
	case rrule.YEARLY:
		rule.Frequency = model.Yearly
		if len(opt.Bymonth) > 0 {
			rule.MonthOfYear = opt.Bymonth[0]
		}
	default:
		return model.RecurrenceRule{}, fmt.Errorf("unsupported frequency: %v", opt.Freq)
	}
	if len(opt.Bymonthday) > 0 && (rule.Frequency == model.Monthly || rule.Frequency == model.Yearly) {
		rule.DayOfMonth = opt.Bymonthday[0]
	}

	switch {
	case opt.Count > 0:
		rule.MaxOccurrences = opt.Count
	case !opt.Until.IsZero():
		rule.EndDate = model.FormatDate(opt.Until)
	default:
		rule.Unlimited = true
	}

	return rule, Validate(rule)
}

// Describe returns a human-readable description of the rule.
func Describe(rule model.RecurrenceRule) string {
	n := rule.Interval
	if n < 1 {
		n = 1
	}

	var s string
	switch rule.Frequency {
	case model.Daily:
		s = plural(n, "Repeats daily", "days")
	case model.Weekly, model.Biweekly:
		if rule.Frequency == model.Biweekly {
			n *= 2
		}
		s = plural(n, "Repeats weekly", "weeks")
		if len(rule.DaysOfWeek) > 0 {
			var names []string
			for _, d := range rule.DaysOfWeek {
				if d >= 0 && d <= 6 {
					names = append(names, time.Weekday(d).String()[:3])
				}
			}
			s += " on " + strings.Join(names, ", ")
		}
	case model.Monthly:
		s = plural(n, "Repeats monthly", "months")
	case model.Yearly:
		s = plural(n, "Repeats yearly", "years")
	default:
		return ""
	}

	switch {
	case rule.MaxOccurrences > 0:
		s += fmt.Sprintf(", %d times", rule.MaxOccurrences)
	case rule.EndDate != "":
		s += ", until " + rule.EndDate
	}
	return s
}

func plural(n int, one, unit string) string {
	if n == 1 {
		return one
	}
	return fmt.Sprintf("Repeats every %d %s", n, unit)
}
