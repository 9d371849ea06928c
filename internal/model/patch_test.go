package model

import (
	"encoding/json"
	"testing"
	"time"
)

func TestEventPatchUnmarshal(t *testing.T) {
	var p EventPatch
	raw := `{"title":"Dentist","description":null,"is_recurring":false}`
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !p.Title.IsSet() || p.Title.Value() != "Dentist" {
		t.Errorf("title = %+v, want set to Dentist", p.Title)
	}
	if !p.Description.IsCleared() {
		t.Error("description should be cleared by null")
	}
	if p.Date.Touched() {
		t.Error("absent date should be untouched")
	}
	if !p.IsRecurring.IsSet() || p.IsRecurring.Value() {
		t.Error("is_recurring should be set to false")
	}
}

func TestEventPatchTurnOffRecurrenceRemovesRule(t *testing.T) {
	e := Event{
		ID:                   "e1",
		Title:                "Swim",
		Date:                 "2024-01-01",
		IsRecurring:          true,
		RecurrenceRule:       &RecurrenceRule{Frequency: Weekly, Interval: 1, Unlimited: true},
		RecurrenceExceptions: []string{"2024-01-08"},
		RecurrenceOverrides:  map[string]EventOverride{"2024-01-15": {}},
	}
	p := EventPatch{IsRecurring: Set(false)}

	got := p.Apply(e, time.Now())
	if got.IsRecurring {
		t.Error("is_recurring should be false")
	}
	if got.RecurrenceRule != nil {
		t.Error("rule should be removed")
	}
	if got.RecurrenceExceptions != nil || got.RecurrenceOverrides != nil {
		t.Error("exceptions and overrides should be removed")
	}
	if e.RecurrenceRule == nil {
		t.Error("original event must not be mutated")
	}
}

func TestEventPatchKeepsUntouchedFields(t *testing.T) {
	d := 45
	e := Event{ID: "e1", Title: "Swim", Time: "09:00", DurationMinutes: &d}
	got := EventPatch{Title: Set("Swim practice")}.Apply(e, time.Now())
	if got.Title != "Swim practice" {
		t.Errorf("title = %q", got.Title)
	}
	if got.Time != "09:00" || got.DurationMinutes == nil || *got.DurationMinutes != 45 {
		t.Errorf("untouched fields changed: %+v", got)
	}

	got = EventPatch{DurationMinutes: Clear[int]()}.Apply(e, time.Now())
	if got.DurationMinutes != nil {
		t.Error("duration should be cleared")
	}
}

func TestOverrideApply(t *testing.T) {
	title := "Late swim"
	e := Event{Title: "Swim", Time: "09:00", Description: "pool"}
	got := EventOverride{Title: &title}.Apply(e)
	if got.Title != "Late swim" {
		t.Errorf("title = %q", got.Title)
	}
	if got.Time != "09:00" || got.Description != "pool" {
		t.Errorf("non-overridden fields changed: %+v", got)
	}
}
