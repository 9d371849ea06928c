package recurrence

import (
	"sort"
	"time"

	"github.com/dukerupert/famcal/internal/model"
)

const (
	// DefaultMaxInstances caps the occurrences returned by a single expansion.
	DefaultMaxInstances = 2000
	// DefaultWindowMonths is the window length used when no end is given.
	DefaultWindowMonths = 3

	// maxSteps bounds the candidate walk independently of the output cap.
	maxSteps = 100000
)

// Expansion is the result of expanding one recurring event.
type Expansion struct {
	Instances []model.Event
	// Truncated is set when a safety cap stopped the walk early.
	Truncated bool
}

// Expander holds the limits used when expanding recurring events. The zero
// value uses the package defaults.
type Expander struct {
	MaxInstances int
	WindowMonths int
}

// Expand materializes the occurrences of event inside [rangeStart, rangeEnd]
// using the default limits. Zero bounds default to the anchor date and the
// anchor date plus three months.
func Expand(event model.Event, rule model.RecurrenceRule, rangeStart, rangeEnd time.Time) Expansion {
	return Expander{}.Expand(event, rule, rangeStart, rangeEnd)
}

// Expand walks the occurrence timeline from the anchor. Every candidate on or
// after the anchor counts toward max_occurrences, including candidates
// outside the window and dates listed as exceptions, so the n-th occurrence is
// the same whichever window is queried.
func (x Expander) Expand(event model.Event, rule model.RecurrenceRule, rangeStart, rangeEnd time.Time) Expansion {
	var res Expansion

	anchor, err := model.ParseDate(event.Date)
	if err != nil {
		return res
	}

	maxInstances := x.MaxInstances
	if maxInstances <= 0 {
		maxInstances = DefaultMaxInstances
	}
	months := x.WindowMonths
	if months <= 0 {
		months = DefaultWindowMonths
	}

	start := anchor
	if !rangeStart.IsZero() {
		start = model.TruncateDate(rangeStart)
	}
	end := start.AddDate(0, months, 0)
	if !rangeEnd.IsZero() {
		end = model.TruncateDate(rangeEnd)
	}
	if end.Before(start) {
		return res
	}

	var until time.Time
	if rule.EndDate != "" {
		if t, err := model.ParseDate(rule.EndDate); err == nil {
			until = t
		}
	}
	limit := rule.MaxOccurrences

	gen := newGenerator(rule, anchor)
	if limit <= 0 && start.After(anchor) {
		gen.seek(start)
	}

	count := 0
	for steps := 0; ; steps++ {
		if steps >= maxSteps {
			res.Truncated = true
			break
		}

		d := gen.next()
		if d.After(end) {
			break
		}
		if !until.IsZero() && d.After(until) {
			break
		}
		if !gen.accept(d) {
			continue
		}
		if limit > 0 && count >= limit {
			break
		}
		count++

		if d.Before(start) {
			continue
		}
		date := model.FormatDate(d)
		if event.HasException(date) {
			continue
		}
		if len(res.Instances) >= maxInstances {
			res.Truncated = true
			break
		}
		res.Instances = append(res.Instances, instance(event, date))
	}

	return res
}

// instance builds the derived occurrence of parent on date.
func instance(parent model.Event, date string) model.Event {
	inst := parent.Clone()
	if o, ok := parent.RecurrenceOverrides[date]; ok {
		inst = o.Apply(inst)
	}
	inst.ID = model.InstanceID(parent.ID, date)
	inst.Date = date
	inst.RecurringEventID = parent.ID
	inst.IsRecurringInstance = true
	inst.IsRecurring = false
	inst.RecurrenceRule = nil
	inst.RecurrenceExceptions = nil
	inst.RecurrenceOverrides = nil
	return inst
}

// generator yields candidate dates in ascending order, starting at or before
// the anchor.
type generator interface {
	next() time.Time
	// seek moves to an interval-aligned position at or before t.
	seek(t time.Time)
	accept(d time.Time) bool
}

func newGenerator(rule model.RecurrenceRule, anchor time.Time) generator {
	interval := rule.Interval
	if interval < 1 {
		interval = 1
	}

	switch rule.Frequency {
	case model.Daily:
		return &dailyGen{anchor: anchor, interval: interval}
	case model.Weekly:
		return newWeeklyGen(rule, anchor, interval)
	case model.Biweekly:
		return newWeeklyGen(rule, anchor, 2*interval)
	case model.Monthly:
		day := rule.DayOfMonth
		if day == 0 {
			day = anchor.Day()
		}
		return &monthlyGen{anchor: anchor, interval: interval, day: day}
	case model.Yearly:
		day := rule.DayOfMonth
		if day == 0 {
			day = anchor.Day()
		}
		month := time.Month(rule.MonthOfYear)
		if month == 0 {
			month = anchor.Month()
		}
		return &yearlyGen{anchor: anchor, interval: interval, month: month, day: day}
	}
	return &scanGen{rule: rule, anchor: anchor, cur: anchor, interval: interval}
}

type dailyGen struct {
	anchor   time.Time
	interval int
	k        int
}

func (g *dailyGen) next() time.Time {
	d := g.anchor.AddDate(0, 0, g.k*g.interval)
	g.k++
	return d
}

func (g *dailyGen) seek(t time.Time) {
	days := daysBetween(g.anchor, t)
	g.k = (days + g.interval - 1) / g.interval
}

func (g *dailyGen) accept(time.Time) bool { return true }

type weeklyGen struct {
	anchor    time.Time
	weekStart time.Time
	days      []int
	weeks     int // period length in weeks
	w, i      int
}

func newWeeklyGen(rule model.RecurrenceRule, anchor time.Time, weeks int) *weeklyGen {
	seen := make(map[int]bool)
	var days []int
	for _, d := range rule.DaysOfWeek {
		if d < 0 || d > 6 || seen[d] {
			continue
		}
		seen[d] = true
		days = append(days, d)
	}
	if len(days) == 0 {
		days = []int{int(anchor.Weekday())}
	}
	sort.Ints(days)

	return &weeklyGen{
		anchor:    anchor,
		weekStart: sundayOf(anchor),
		days:      days,
		weeks:     weeks,
	}
}

func (g *weeklyGen) next() time.Time {
	for {
		if g.i >= len(g.days) {
			g.w++
			g.i = 0
		}
		d := g.weekStart.AddDate(0, 0, g.w*g.weeks*7+g.days[g.i])
		g.i++
		if !d.Before(g.anchor) {
			return d
		}
	}
}

func (g *weeklyGen) seek(t time.Time) {
	weeks := daysBetween(g.weekStart, sundayOf(t)) / 7
	g.w = weeks / g.weeks
	g.i = 0
}

func (g *weeklyGen) accept(time.Time) bool { return true }

type monthlyGen struct {
	anchor   time.Time
	interval int
	day      int
	k        int
}

func (g *monthlyGen) next() time.Time {
	for {
		d := clampedDate(g.anchor.Year(), g.anchor.Month()+time.Month(g.k*g.interval), g.day)
		g.k++
		if !d.Before(g.anchor) {
			return d
		}
	}
}

func (g *monthlyGen) seek(t time.Time) {
	months := (t.Year()-g.anchor.Year())*12 + int(t.Month()-g.anchor.Month())
	if months > 0 {
		g.k = months / g.interval
	}
}

func (g *monthlyGen) accept(time.Time) bool { return true }

type yearlyGen struct {
	anchor   time.Time
	interval int
	month    time.Month
	day      int
	k        int
}

func (g *yearlyGen) next() time.Time {
	for {
		d := clampedDate(g.anchor.Year()+g.k*g.interval, g.month, g.day)
		g.k++
		if !d.Before(g.anchor) {
			return d
		}
	}
}

func (g *yearlyGen) seek(t time.Time) {
	years := t.Year() - g.anchor.Year()
	if years > 0 {
		g.k = years / g.interval
	}
}

func (g *yearlyGen) accept(time.Time) bool { return true }

// scanGen walks day by day and tests each date against the rule's
// constraints. Used for frequencies the engine does not know.
type scanGen struct {
	rule     model.RecurrenceRule
	anchor   time.Time
	cur      time.Time
	interval int
}

func (g *scanGen) next() time.Time {
	d := g.cur
	g.cur = g.cur.AddDate(0, 0, 1)
	return d
}

func (g *scanGen) seek(t time.Time) {
	if t.After(g.anchor) {
		g.cur = t
	}
}

func (g *scanGen) accept(d time.Time) bool {
	constrained := false
	if len(g.rule.DaysOfWeek) > 0 {
		constrained = true
		if !containsInt(g.rule.DaysOfWeek, int(d.Weekday())) {
			return false
		}
	}
	if g.rule.DayOfMonth > 0 {
		constrained = true
		if d.Day() != min(g.rule.DayOfMonth, daysInMonth(d.Year(), d.Month())) {
			return false
		}
	}
	if g.rule.MonthOfYear > 0 {
		constrained = true
		if int(d.Month()) != g.rule.MonthOfYear {
			return false
		}
	}
	if constrained {
		return true
	}
	return daysBetween(g.anchor, d)%g.interval == 0
}

// clampedDate returns year-month-day, moving day back to the last day of the
// month when the month is shorter. month may overflow 12.
func clampedDate(year int, month time.Month, day int) time.Time {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	last := daysInMonth(first.Year(), first.Month())
	if day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day, 0, 0, 0, 0, time.UTC)
}

func sundayOf(t time.Time) time.Time {
	return t.AddDate(0, 0, -int(t.Weekday()))
}

func daysBetween(a, b time.Time) int {
	return int(b.Sub(a).Hours() / 24)
}

func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func containsInt(xs []int, v int) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}
