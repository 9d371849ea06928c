package recurrence

import (
	"strings"
	"testing"
	"time"

	"github.com/dukerupert/famcal/internal/model"
)

func d(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func parent(date string, rule model.RecurrenceRule) model.Event {
	return model.Event{
		ID:                "evt1",
		Title:             "Swim",
		Date:              date,
		Time:              "17:00",
		OwnerCollectionID: "fam1",
		IsRecurring:       true,
		RecurrenceRule:    &rule,
	}
}

func dates(exp Expansion) []string {
	var out []string
	for _, inst := range exp.Instances {
		out = append(out, inst.Date)
	}
	return out
}

func assertDates(t *testing.T, got Expansion, want ...string) {
	t.Helper()
	gd := dates(got)
	if strings.Join(gd, ",") != strings.Join(want, ",") {
		t.Fatalf("dates = %v, want %v", gd, want)
	}
}

// --- Expand tests ---

func TestExpandDailyWithMaxOccurrences(t *testing.T) {
	rule := model.RecurrenceRule{Frequency: model.Daily, Interval: 3, MaxOccurrences: 4}
	got := Expand(parent("2024-01-01", rule), rule, d(2024, 1, 1), d(2024, 1, 31))
	assertDates(t, got, "2024-01-01", "2024-01-04", "2024-01-07", "2024-01-10")
}

func TestExpandWeeklyDaysOfWeek(t *testing.T) {
	rule := model.RecurrenceRule{Frequency: model.Weekly, Interval: 1, DaysOfWeek: []int{1, 3, 5}, Unlimited: true}
	// 2024-01-01 is a Monday
	got := Expand(parent("2024-01-01", rule), rule, d(2024, 1, 1), d(2024, 1, 14))
	if len(got.Instances) != 6 {
		t.Fatalf("got %d occurrences, want 6", len(got.Instances))
	}
	want := []time.Weekday{time.Monday, time.Wednesday, time.Friday}
	for i, inst := range got.Instances {
		day, _ := model.ParseDate(inst.Date)
		if day.Weekday() != want[i%3] {
			t.Errorf("occ[%d] %s is a %v, want %v", i, inst.Date, day.Weekday(), want[i%3])
		}
	}
}

func TestExpandWeeklyDefaultsToAnchorWeekday(t *testing.T) {
	rule := model.RecurrenceRule{Frequency: model.Weekly, Interval: 1, Unlimited: true}
	// Tuesday
	got := Expand(parent("2026-02-03", rule), rule, d(2026, 2, 1), d(2026, 2, 28))
	assertDates(t, got, "2026-02-03", "2026-02-10", "2026-02-17", "2026-02-24")
}

func TestExpandWeeklySkipsDaysBeforeAnchor(t *testing.T) {
	rule := model.RecurrenceRule{Frequency: model.Weekly, Interval: 1, DaysOfWeek: []int{1, 3, 5}, Unlimited: true}
	// Wednesday anchor: Monday of the first week is before it
	got := Expand(parent("2024-01-03", rule), rule, d(2024, 1, 1), d(2024, 1, 8))
	assertDates(t, got, "2024-01-03", "2024-01-05", "2024-01-08")
}

func TestExpandBiweekly(t *testing.T) {
	rule := model.RecurrenceRule{Frequency: model.Biweekly, Interval: 1, Unlimited: true}
	got := Expand(parent("2026-02-03", rule), rule, d(2026, 2, 1), d(2026, 3, 15))
	assertDates(t, got, "2026-02-03", "2026-02-17", "2026-03-03")
}

func TestExpandMonthlyClampsShortMonths(t *testing.T) {
	rule := model.RecurrenceRule{Frequency: model.Monthly, Interval: 1, Unlimited: true}
	got := Expand(parent("2024-01-31", rule), rule, d(2024, 1, 1), d(2024, 4, 30))
	assertDates(t, got, "2024-01-31", "2024-02-29", "2024-03-31", "2024-04-30")

	got = Expand(parent("2023-01-31", rule), rule, d(2023, 2, 1), d(2023, 2, 28))
	assertDates(t, got, "2023-02-28")
}

func TestExpandMonthlyDayOfMonth(t *testing.T) {
	rule := model.RecurrenceRule{Frequency: model.Monthly, Interval: 2, DayOfMonth: 10, Unlimited: true}
	// day 10 of January is before the anchor, so the first occurrence is March 10
	got := Expand(parent("2024-01-15", rule), rule, d(2024, 1, 1), d(2024, 7, 31))
	assertDates(t, got, "2024-03-10", "2024-05-10", "2024-07-10")
}

func TestExpandYearly(t *testing.T) {
	rule := model.RecurrenceRule{Frequency: model.Yearly, Interval: 1, Unlimited: true}
	got := Expand(parent("2024-02-29", rule), rule, d(2024, 1, 1), d(2027, 12, 31))
	assertDates(t, got, "2024-02-29", "2025-02-28", "2026-02-28", "2027-02-28")
}

func TestExpandYearlyMonthOfYear(t *testing.T) {
	rule := model.RecurrenceRule{Frequency: model.Yearly, Interval: 1, MonthOfYear: 6, DayOfMonth: 15, Unlimited: true}
	got := Expand(parent("2026-01-01", rule), rule, d(2026, 1, 1), d(2028, 12, 31))
	assertDates(t, got, "2026-06-15", "2027-06-15", "2028-06-15")
}

func TestExpandEndDate(t *testing.T) {
	rule := model.RecurrenceRule{Frequency: model.Daily, Interval: 1, EndDate: "2026-02-09"}
	got := Expand(parent("2026-02-01", rule), rule, d(2026, 1, 1), d(2027, 1, 1))
	if len(got.Instances) != 9 {
		t.Fatalf("got %d occurrences, want 9 (Feb 1-9)", len(got.Instances))
	}
	if last := got.Instances[len(got.Instances)-1].Date; last != "2026-02-09" {
		t.Errorf("last = %s, want 2026-02-09", last)
	}
}

func TestExpandDefaultWindow(t *testing.T) {
	rule := model.RecurrenceRule{Frequency: model.Monthly, Interval: 1, Unlimited: true}
	got := Expand(parent("2024-01-10", rule), rule, time.Time{}, time.Time{})
	assertDates(t, got, "2024-01-10", "2024-02-10", "2024-03-10", "2024-04-10")
}

func TestExpandOpenEndedWindowFollowsStart(t *testing.T) {
	rule := model.RecurrenceRule{Frequency: model.Monthly, Interval: 1, Unlimited: true}
	got := Expand(parent("2024-01-10", rule), rule, d(2025, 6, 1), time.Time{})
	assertDates(t, got, "2025-06-10", "2025-07-10", "2025-08-10")
}

func TestExpandFarWindowWithoutLimit(t *testing.T) {
	rule := model.RecurrenceRule{Frequency: model.Daily, Interval: 7, Unlimited: true}
	// 2024-01-01 + 52*7 days = 2024-12-30
	got := Expand(parent("2024-01-01", rule), rule, d(2024, 12, 25), d(2025, 1, 10))
	assertDates(t, got, "2024-12-30", "2025-01-06")
}

func TestExpandMaxOccurrencesStableAcrossWindows(t *testing.T) {
	rule := model.RecurrenceRule{Frequency: model.Weekly, Interval: 1, DaysOfWeek: []int{2, 4}, MaxOccurrences: 10}
	ev := parent("2024-01-02", rule)

	full := Expand(ev, rule, d(2024, 1, 1), d(2024, 12, 31))
	if len(full.Instances) != 10 {
		t.Fatalf("full timeline has %d occurrences, want 10", len(full.Instances))
	}
	tenth := full.Instances[9].Date

	// Query later windows first, then earlier ones; the partition must
	// add up to exactly the same ten dates.
	windows := [][2]time.Time{
		{d(2024, 1, 20), d(2024, 3, 31)},
		{d(2024, 1, 1), d(2024, 1, 19)},
	}
	var seen []string
	for _, w := range windows {
		seen = append(seen, dates(Expand(ev, rule, w[0], w[1]))...)
	}
	if len(seen) != 10 {
		t.Fatalf("partitioned windows returned %d occurrences, want 10: %v", len(seen), seen)
	}

	late := Expand(ev, rule, d(2024, 1, 25), d(2024, 6, 30))
	if n := len(late.Instances); n == 0 || late.Instances[n-1].Date != tenth {
		t.Errorf("tenth occurrence from late window = %v, want %s", dates(late), tenth)
	}
}

func TestExpandExceptionRemovesExactlyOneDate(t *testing.T) {
	rule := model.RecurrenceRule{Frequency: model.Daily, Interval: 1, Unlimited: true}
	ev := parent("2024-03-01", rule)
	before := Expand(ev, rule, d(2024, 3, 1), d(2024, 3, 7))

	ev.RecurrenceExceptions = []string{"2024-03-04"}
	after := Expand(ev, rule, d(2024, 3, 1), d(2024, 3, 7))

	if len(after.Instances) != len(before.Instances)-1 {
		t.Fatalf("got %d occurrences, want %d", len(after.Instances), len(before.Instances)-1)
	}
	for _, date := range dates(after) {
		if date == "2024-03-04" {
			t.Error("exception date still present")
		}
	}
}

func TestExpandExceptionConsumesOccurrenceSlot(t *testing.T) {
	rule := model.RecurrenceRule{Frequency: model.Daily, Interval: 1, MaxOccurrences: 3}
	ev := parent("2024-03-01", rule)
	ev.RecurrenceExceptions = []string{"2024-03-02"}

	got := Expand(ev, rule, d(2024, 3, 1), d(2024, 3, 31))
	assertDates(t, got, "2024-03-01", "2024-03-03")
}

func TestExpandOverrideChangesOnlyThatInstance(t *testing.T) {
	rule := model.RecurrenceRule{Frequency: model.Daily, Interval: 1, Unlimited: true}
	ev := parent("2024-03-01", rule)
	title, tm := "Swim meet", "08:00"
	ev.RecurrenceOverrides = map[string]model.EventOverride{
		"2024-03-02": {Title: &title, Time: &tm},
	}

	got := Expand(ev, rule, d(2024, 3, 1), d(2024, 3, 3))
	if len(got.Instances) != 3 {
		t.Fatalf("got %d occurrences, want 3", len(got.Instances))
	}
	for _, inst := range got.Instances {
		if inst.Date == "2024-03-02" {
			if inst.Title != "Swim meet" || inst.Time != "08:00" {
				t.Errorf("override not applied: %+v", inst)
			}
			continue
		}
		if inst.Title != ev.Title || inst.Time != ev.Time {
			t.Errorf("instance %s changed: title=%q time=%q", inst.Date, inst.Title, inst.Time)
		}
	}
}

func TestExpandInstanceShape(t *testing.T) {
	rule := model.RecurrenceRule{Frequency: model.Daily, Interval: 1, MaxOccurrences: 1}
	got := Expand(parent("2024-03-01", rule), rule, time.Time{}, time.Time{})
	if len(got.Instances) != 1 {
		t.Fatalf("got %d occurrences, want 1", len(got.Instances))
	}
	inst := got.Instances[0]
	if inst.ID != "evt1-2024-03-01" {
		t.Errorf("id = %q", inst.ID)
	}
	if inst.RecurringEventID != "evt1" || !inst.IsRecurringInstance {
		t.Errorf("instance not linked to parent: %+v", inst)
	}
	if inst.RecurrenceRule != nil || inst.IsRecurring {
		t.Error("instances must not carry the rule")
	}
}

func TestExpandTruncatesAtCap(t *testing.T) {
	rule := model.RecurrenceRule{Frequency: model.Daily, Interval: 1, Unlimited: true}
	x := Expander{MaxInstances: 10}
	got := x.Expand(parent("2024-01-01", rule), rule, d(2024, 1, 1), d(2024, 12, 31))
	if !got.Truncated {
		t.Error("expected truncation")
	}
	if len(got.Instances) != 10 {
		t.Errorf("got %d occurrences, want 10", len(got.Instances))
	}

	got = x.Expand(parent("2024-01-01", rule), rule, d(2024, 1, 1), d(2024, 1, 10))
	if got.Truncated {
		t.Error("exactly filling the cap is not a truncation")
	}
}

func TestExpandUnknownFrequencyScansWindow(t *testing.T) {
	rule := model.RecurrenceRule{Frequency: "fortnightly-ish", Interval: 1, DaysOfWeek: []int{6}, Unlimited: true}
	got := Expand(parent("2024-01-01", rule), rule, d(2024, 1, 1), d(2024, 1, 31))
	assertDates(t, got, "2024-01-06", "2024-01-13", "2024-01-20", "2024-01-27")
}

func TestExpandInvalidAnchor(t *testing.T) {
	rule := model.RecurrenceRule{Frequency: model.Daily, Interval: 1, Unlimited: true}
	got := Expand(parent("not-a-date", rule), rule, time.Time{}, time.Time{})
	if len(got.Instances) != 0 {
		t.Errorf("got %d occurrences, want 0", len(got.Instances))
	}
}

// --- Validate tests ---

func TestValidateAcceptsGoodRules(t *testing.T) {
	rules := []model.RecurrenceRule{
		{Frequency: model.Daily, Interval: 1, Unlimited: true},
		{Frequency: model.Weekly, Interval: 2, DaysOfWeek: []int{0, 6}, EndDate: "2025-01-01"},
		{Frequency: model.Monthly, Interval: 1, DayOfMonth: 31, MaxOccurrences: 12},
		{Frequency: model.Yearly, Interval: 1, MonthOfYear: 12, DayOfMonth: 25, Unlimited: true},
	}
	for _, r := range rules {
		if err := Validate(r); err != nil {
			t.Errorf("Validate(%+v) = %v", r, err)
		}
	}
}

func TestValidateEnumeratesAllProblems(t *testing.T) {
	err := Validate(model.RecurrenceRule{Interval: 0, DayOfMonth: 40, MonthOfYear: 13, Unlimited: true, MaxOccurrences: 3})
	if err == nil {
		t.Fatal("expected error")
	}
	ve, ok := err.(*model.ValidationError)
	if !ok {
		t.Fatalf("error type = %T, want *model.ValidationError", err)
	}
	if len(ve.Problems) != 5 {
		t.Errorf("got %d problems, want 5: %v", len(ve.Problems), ve.Problems)
	}
}

func TestValidateTerminalConditions(t *testing.T) {
	tests := []struct {
		name string
		rule model.RecurrenceRule
		ok   bool
	}{
		{"none", model.RecurrenceRule{Frequency: model.Daily, Interval: 1}, false},
		{"unlimited", model.RecurrenceRule{Frequency: model.Daily, Interval: 1, Unlimited: true}, true},
		{"end date", model.RecurrenceRule{Frequency: model.Daily, Interval: 1, EndDate: "2024-05-01"}, true},
		{"max", model.RecurrenceRule{Frequency: model.Daily, Interval: 1, MaxOccurrences: 2}, true},
		{"end and max", model.RecurrenceRule{Frequency: model.Daily, Interval: 1, EndDate: "2024-05-01", MaxOccurrences: 2}, false},
		{"bad end date", model.RecurrenceRule{Frequency: model.Daily, Interval: 1, EndDate: "May 1"}, false},
		{"negative max", model.RecurrenceRule{Frequency: model.Daily, Interval: 1, MaxOccurrences: -1}, false},
	}
	for _, tt := range tests {
		err := Validate(tt.rule)
		if (err == nil) != tt.ok {
			t.Errorf("%s: Validate() = %v, want ok=%v", tt.name, err, tt.ok)
		}
	}
}

// --- RRULE tests ---

func TestToRRule(t *testing.T) {
	tests := []struct {
		rule model.RecurrenceRule
		want []string
	}{
		{model.RecurrenceRule{Frequency: model.Daily, Interval: 3, MaxOccurrences: 4}, []string{"FREQ=DAILY", "INTERVAL=3", "COUNT=4"}},
		{model.RecurrenceRule{Frequency: model.Biweekly, Interval: 1, DaysOfWeek: []int{1, 3}, Unlimited: true}, []string{"FREQ=WEEKLY", "INTERVAL=2", "BYDAY=MO,WE"}},
		{model.RecurrenceRule{Frequency: model.Yearly, Interval: 1, MonthOfYear: 6, DayOfMonth: 15, Unlimited: true}, []string{"FREQ=YEARLY", "BYMONTH=6", "BYMONTHDAY=15"}},
		{model.RecurrenceRule{Frequency: model.Monthly, Interval: 1, EndDate: "2024-06-30"}, []string{"FREQ=MONTHLY", "UNTIL=20240630T235959Z"}},
	}
	for _, tt := range tests {
		got, err := ToRRule(tt.rule, "2024-01-01")
		if err != nil {
			t.Errorf("ToRRule(%+v) error: %v", tt.rule, err)
			continue
		}
		for _, part := range tt.want {
			if !strings.Contains(got, part) {
				t.Errorf("ToRRule(%+v) = %q, missing %q", tt.rule, got, part)
			}
		}
	}
}

func TestFromRRule(t *testing.T) {
	r, err := FromRRule("RRULE:FREQ=WEEKLY;INTERVAL=2;BYDAY=SU,FR;COUNT=6")
	if err != nil {
		t.Fatalf("FromRRule error: %v", err)
	}
	if r.Frequency != model.Weekly || r.Interval != 2 || r.MaxOccurrences != 6 {
		t.Errorf("got %+v", r)
	}
	if len(r.DaysOfWeek) != 2 || r.DaysOfWeek[0] != 0 || r.DaysOfWeek[1] != 5 {
		t.Errorf("days = %v, want [0 5]", r.DaysOfWeek)
	}

	r, err = FromRRule("FREQ=MONTHLY")
	if err != nil {
		t.Fatalf("FromRRule error: %v", err)
	}
	if !r.Unlimited {
		t.Error("rule without COUNT or UNTIL should be unlimited")
	}

	if _, err := FromRRule("FREQ=HOURLY"); err == nil {
		t.Error("expected error for hourly")
	}
	if _, err := FromRRule(""); err == nil {
		t.Error("expected error for empty rule")
	}
}

func TestDescribe(t *testing.T) {
	tests := []struct {
		rule model.RecurrenceRule
		want string
	}{
		{model.RecurrenceRule{Frequency: model.Daily, Interval: 1}, "Repeats daily"},
		{model.RecurrenceRule{Frequency: model.Weekly, Interval: 1}, "Repeats weekly"},
		{model.RecurrenceRule{Frequency: model.Biweekly, Interval: 1}, "Repeats every 2 weeks"},
		{model.RecurrenceRule{Frequency: model.Weekly, Interval: 1, DaysOfWeek: []int{1, 3, 5}}, "Repeats weekly on Mon, Wed, Fri"},
		{model.RecurrenceRule{Frequency: model.Monthly, Interval: 3}, "Repeats every 3 months"},
		{model.RecurrenceRule{Frequency: model.Yearly, Interval: 1, MaxOccurrences: 5}, "Repeats yearly, 5 times"},
	}
	for _, tt := range tests {
		if got := Describe(tt.rule); got != tt.want {
			t.Errorf("Describe(%+v) = %q, want %q", tt.rule, got, tt.want)
		}
	}
}
