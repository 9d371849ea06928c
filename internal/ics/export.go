// Package ics renders a family calendar as an iCalendar feed.
package ics

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/dukerupert/famcal/internal/model"
	"github.com/dukerupert/famcal/internal/recurrence"
)

const (
	productID       = "-//famcal//famcal//EN"
	defaultDuration = time.Hour
	dateValue       = "20060102"
	dateTimeValue   = "20060102T150405Z"
)

// Exporter writes VCALENDAR documents. Event times are wall-clock times in
// Location, UTC when nil.
type Exporter struct {
	Location *time.Location
	Now      func() time.Time
}

// Export writes events as a calendar named name. Recurring parents become a
// single VEVENT with RRULE and EXDATE, plus one RECURRENCE-ID VEVENT per
// overridden date. Tag ids on events are rendered as CATEGORIES using tags.
func (x Exporter) Export(w io.Writer, name string, events []model.Event, tags []model.Tag) error {
	loc := x.Location
	if loc == nil {
		loc = time.UTC
	}
	now := time.Now
	if x.Now != nil {
		now = x.Now
	}
	tagNames := make(map[string]string, len(tags))
	for _, t := range tags {
		tagNames[t.ID] = t.Name
	}

	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)
	cal.SetName(name)
	cal.SetXWRCalName(name)

	stamp := now().UTC()
	for _, ev := range events {
		if ev.IsRecurringInstance {
			continue
		}
		ve := cal.AddEvent(ev.ID)
		if err := fill(ve, ev, loc, stamp, tagNames); err != nil {
			return fmt.Errorf("export event %s: %w", ev.ID, err)
		}
		if !ev.IsParent() {
			continue
		}

		rule, err := recurrence.ToRRule(*ev.RecurrenceRule, ev.Date)
		if err != nil {
			return fmt.Errorf("export event %s: %w", ev.ID, err)
		}
		ve.AddRrule(rule)
		for _, d := range ev.RecurrenceExceptions {
			v, params := occurrenceValue(ev, d, loc)
			ve.AddExdate(v, params...)
		}

		dates := make([]string, 0, len(ev.RecurrenceOverrides))
		for d := range ev.RecurrenceOverrides {
			if !ev.HasException(d) {
				dates = append(dates, d)
			}
		}
		sort.Strings(dates)
		for _, d := range dates {
			inst := ev.RecurrenceOverrides[d].Apply(ev.Clone())
			inst.Date = d
			ov := cal.AddEvent(ev.ID)
			if err := fill(ov, inst, loc, stamp, tagNames); err != nil {
				return fmt.Errorf("export override %s of %s: %w", d, ev.ID, err)
			}
			v, params := occurrenceValue(ev, d, loc)
			ov.SetProperty(ical.ComponentPropertyRecurrenceId, v, params...)
		}
	}

	if _, err := io.WriteString(w, cal.Serialize()); err != nil {
		return fmt.Errorf("write calendar: %w", err)
	}
	return nil
}

func fill(ve *ical.VEvent, ev model.Event, loc *time.Location, stamp time.Time, tagNames map[string]string) error {
	ve.SetDtStampTime(stamp)
	if !ev.UpdatedAt.IsZero() {
		ve.SetModifiedAt(ev.UpdatedAt)
	}
	ve.SetSummary(ev.Title)
	if ev.Description != "" {
		ve.SetDescription(ev.Description)
	}

	day, err := model.ParseDate(ev.Date)
	if err != nil {
		return err
	}
	if allDay(ev) {
		ve.SetAllDayStartAt(day)
		ve.SetAllDayEndAt(day.AddDate(0, 0, 1))
	} else {
		start, err := startAt(ev, loc)
		if err != nil {
			return err
		}
		ve.SetStartAt(start)
		ve.SetEndAt(start.Add(duration(ev)))
	}

	var cats []string
	for _, id := range ev.Tags {
		if n, ok := tagNames[id]; ok {
			cats = append(cats, n)
		}
	}
	if len(cats) > 0 {
		ve.SetProperty(ical.ComponentPropertyCategories, strings.Join(cats, ","))
	}
	return nil
}

func allDay(ev model.Event) bool {
	return ev.IsAllDay || ev.Time == ""
}

func startAt(ev model.Event, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(model.DateLayout+" 15:04", ev.Date+" "+ev.Time, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse start: %w", err)
	}
	return t, nil
}

func duration(ev model.Event) time.Duration {
	if ev.DurationMinutes != nil && *ev.DurationMinutes > 0 {
		return time.Duration(*ev.DurationMinutes) * time.Minute
	}
	return defaultDuration
}

// occurrenceValue formats date as the parent's start on that day, the form
// EXDATE and RECURRENCE-ID must use.
func occurrenceValue(parent model.Event, date string, loc *time.Location) (string, []ical.PropertyParameter) {
	dateOnly := []ical.PropertyParameter{ical.WithValue(string(ical.ValueDataTypeDate))}
	day, err := model.ParseDate(date)
	if err != nil {
		return strings.ReplaceAll(date, "-", ""), dateOnly
	}
	if allDay(parent) {
		return day.Format(dateValue), dateOnly
	}
	inst := parent
	inst.Date = date
	start, err := startAt(inst, loc)
	if err != nil {
		return day.Format(dateValue), dateOnly
	}
	return start.UTC().Format(dateTimeValue), nil
}
