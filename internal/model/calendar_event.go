package model

import "time"

type Event struct {
	ID                   string                   `json:"id"`
	Title                string                   `json:"title"`
	Description          string                   `json:"description,omitempty"`
	Date                 string                   `json:"date"`
	Time                 string                   `json:"time,omitempty"`
	DurationMinutes      *int                     `json:"duration_minutes,omitempty"`
	IsAllDay             bool                     `json:"is_all_day,omitempty"`
	OwnerCollectionID    string                   `json:"owner_collection_id"`
	CreatedBy            string                   `json:"created_by"`
	Tags                 []string                 `json:"tags,omitempty"`
	IsRecurring          bool                     `json:"is_recurring,omitempty"`
	RecurrenceRule       *RecurrenceRule          `json:"recurrence_rule,omitempty"`
	RecurrenceExceptions []string                 `json:"recurrence_exceptions,omitempty"`
	RecurrenceOverrides  map[string]EventOverride `json:"recurrence_overrides,omitempty"`
	IsPending            bool                     `json:"is_pending,omitempty"`
	RecurringEventID     string                   `json:"recurring_event_id,omitempty"`
	IsRecurringInstance  bool                     `json:"is_recurring_instance,omitempty"`
	UpdatedAt            time.Time                `json:"updated_at"`
}

// EventOverride holds the fields changed on a single occurrence of a
// recurring event. Nil fields fall back to the parent.
type EventOverride struct {
	Title           *string `json:"title,omitempty"`
	Description     *string `json:"description,omitempty"`
	Time            *string `json:"time,omitempty"`
	DurationMinutes *int    `json:"duration_minutes,omitempty"`
	IsAllDay        *bool   `json:"is_all_day,omitempty"`
}

func (e Event) RecordID() string { return e.ID }

func (e Event) Indexes() map[string]string {
	return map[string]string{IndexOwner: e.OwnerCollectionID}
}

// IsParent reports whether the event is a recurring parent carrying a rule.
func (e Event) IsParent() bool {
	return e.IsRecurring && e.RecurrenceRule != nil
}

// HasException reports whether date is in the exception set.
func (e Event) HasException(date string) bool {
	for _, d := range e.RecurrenceExceptions {
		if d == date {
			return true
		}
	}
	return false
}

// Apply shallow-merges the override onto a copy of e.
func (o EventOverride) Apply(e Event) Event {
	if o.Title != nil {
		e.Title = *o.Title
	}
	if o.Description != nil {
		e.Description = *o.Description
	}
	if o.Time != nil {
		e.Time = *o.Time
	}
	if o.DurationMinutes != nil {
		d := *o.DurationMinutes
		e.DurationMinutes = &d
	}
	if o.IsAllDay != nil {
		e.IsAllDay = *o.IsAllDay
	}
	return e
}

// Clone returns a deep copy so callers can mutate slices and maps freely.
func (e Event) Clone() Event {
	c := e
	if e.DurationMinutes != nil {
		d := *e.DurationMinutes
		c.DurationMinutes = &d
	}
	if e.Tags != nil {
		c.Tags = append([]string(nil), e.Tags...)
	}
	if e.RecurrenceRule != nil {
		r := e.RecurrenceRule.Clone()
		c.RecurrenceRule = &r
	}
	if e.RecurrenceExceptions != nil {
		c.RecurrenceExceptions = append([]string(nil), e.RecurrenceExceptions...)
	}
	if e.RecurrenceOverrides != nil {
		c.RecurrenceOverrides = make(map[string]EventOverride, len(e.RecurrenceOverrides))
		for k, v := range e.RecurrenceOverrides {
			c.RecurrenceOverrides[k] = v
		}
	}
	return c
}
