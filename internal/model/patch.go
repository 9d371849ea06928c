package model

import (
	"bytes"
	"encoding/json"
	"time"
)

type fieldOp uint8

const (
	opKeep fieldOp = iota
	opSet
	opClear
)

// Field is one entry of a tagged update: untouched, set to a value, or
// explicitly cleared.
type Field[T any] struct {
	op  fieldOp
	val T
}

func Set[T any](v T) Field[T] { return Field[T]{op: opSet, val: v} }

func Clear[T any]() Field[T] { return Field[T]{op: opClear} }

func (f Field[T]) IsSet() bool     { return f.op == opSet }
func (f Field[T]) IsCleared() bool { return f.op == opClear }
func (f Field[T]) Touched() bool   { return f.op != opKeep }
func (f Field[T]) Value() T        { return f.val }

// UnmarshalJSON maps null to Clear and any other value to Set. Absent keys
// never reach this method and stay untouched.
func (f *Field[T]) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*f = Clear[T]()
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = Set(v)
	return nil
}

// EventPatch is a partial update of an event.
type EventPatch struct {
	Title                Field[string]                   `json:"title"`
	Description          Field[string]                   `json:"description"`
	Date                 Field[string]                   `json:"date"`
	Time                 Field[string]                   `json:"time"`
	DurationMinutes      Field[int]                      `json:"duration_minutes"`
	IsAllDay             Field[bool]                     `json:"is_all_day"`
	Tags                 Field[[]string]                 `json:"tags"`
	IsRecurring          Field[bool]                     `json:"is_recurring"`
	RecurrenceRule       Field[RecurrenceRule]           `json:"recurrence_rule"`
	RecurrenceExceptions Field[[]string]                 `json:"recurrence_exceptions"`
	RecurrenceOverrides  Field[map[string]EventOverride] `json:"recurrence_overrides"`
}

// Apply returns a copy of e with the patch merged in. Turning recurrence off
// removes the rule, exceptions and overrides from the result.
func (p EventPatch) Apply(e Event, now time.Time) Event {
	out := e.Clone()
	applyField(p.Title, &out.Title)
	applyField(p.Description, &out.Description)
	applyField(p.Date, &out.Date)
	applyField(p.Time, &out.Time)
	applyField(p.IsAllDay, &out.IsAllDay)
	applyField(p.Tags, &out.Tags)
	applyField(p.IsRecurring, &out.IsRecurring)
	applyField(p.RecurrenceExceptions, &out.RecurrenceExceptions)
	applyField(p.RecurrenceOverrides, &out.RecurrenceOverrides)

	switch {
	case p.DurationMinutes.IsSet():
		d := p.DurationMinutes.Value()
		out.DurationMinutes = &d
	case p.DurationMinutes.IsCleared():
		out.DurationMinutes = nil
	}
	switch {
	case p.RecurrenceRule.IsSet():
		r := p.RecurrenceRule.Value().Clone()
		out.RecurrenceRule = &r
	case p.RecurrenceRule.IsCleared():
		out.RecurrenceRule = nil
	}

	if !out.IsRecurring {
		out.RecurrenceRule = nil
		out.RecurrenceExceptions = nil
		out.RecurrenceOverrides = nil
	}
	out.UpdatedAt = now
	return out
}

func applyField[T any](f Field[T], dst *T) {
	switch f.op {
	case opSet:
		*dst = f.val
	case opClear:
		var zero T
		*dst = zero
	}
}

// TagPatch is a partial update of a tag.
type TagPatch struct {
	Name  Field[string] `json:"name"`
	Color Field[string] `json:"color"`
}

func (p TagPatch) Apply(t Tag, now time.Time) Tag {
	applyField(p.Name, &t.Name)
	applyField(p.Color, &t.Color)
	t.UpdatedAt = now
	return t
}
