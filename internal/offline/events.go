package offline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dukerupert/famcal/internal/model"
	"github.com/dukerupert/famcal/internal/recurrence"
	"github.com/dukerupert/famcal/internal/remote"
	"github.com/dukerupert/famcal/internal/store"
)

// GetEvents returns the events of a collection between start and end,
// inclusive, with recurring events expanded into occurrences. Zero bounds
// are open. Remote failures degrade to the local copy.
func (a *Adapter) GetEvents(ctx context.Context, collectionID string, start, end time.Time) ([]model.Event, error) {
	var gte, lte string
	if !start.IsZero() {
		gte = model.FormatDate(start)
	}
	if !end.IsZero() {
		lte = model.FormatDate(end)
	}

	plain, parents, err := a.storedEvents(ctx, collectionID, gte, lte)
	if err != nil {
		return nil, err
	}

	if end.IsZero() && !start.IsZero() {
		end = start.AddDate(0, a.windowMonths(), 0)
	}

	out := plain
	seen := make(map[string]bool, len(parents))
	for _, p := range parents {
		if seen[p.ID] {
			continue
		}
		seen[p.ID] = true
		out = append(out, a.expand(p, start, end)...)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		return out[i].Time < out[j].Time
	})
	return out, nil
}

// ListEvents returns the stored events of a collection without expanding
// recurring ones. Parents carry their rule, exceptions and overrides.
func (a *Adapter) ListEvents(ctx context.Context, collectionID string) ([]model.Event, error) {
	plain, parents, err := a.storedEvents(ctx, collectionID, "", "")
	if err != nil {
		return nil, err
	}
	out := append(plain, parents...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (a *Adapter) storedEvents(ctx context.Context, collectionID, gte, lte string) (plain, parents []model.Event, err error) {
	if route(collectionID, a.online(ctx)) == remoteFirst {
		plain, parents, err = a.remoteEvents(ctx, collectionID, gte, lte)
		if err == nil {
			return plain, parents, nil
		}
		a.logger.Warn("remote read failed, using local store",
			"op", "list", "record_type", model.RecordEvents, "id", collectionID, "error", err)
	}
	return a.localEvents(ctx, collectionID, gte, lte)
}

func (a *Adapter) remoteEvents(ctx context.Context, collectionID, gte, lte string) (plain, parents []model.Event, err error) {
	err = guard(func() error {
		raws, err := a.remote.List(ctx, model.RecordEvents, remote.Query{
			OwnerCollectionID: collectionID,
			DateGTE:           gte,
			DateLTE:           lte,
			IsRecurring:       remote.Bool(false),
		})
		if err != nil {
			return err
		}
		if plain, err = decodeAll[model.Event](raws); err != nil {
			return err
		}
		raws, err = a.remote.List(ctx, model.RecordEvents, remote.Query{
			OwnerCollectionID: collectionID,
			IsRecurring:       remote.Bool(true),
		})
		if err != nil {
			return err
		}
		parents, err = decodeAll[model.Event](raws)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	if plain, err = withoutDeleted(ctx, a, model.RecordEvents, plain); err != nil {
		return nil, nil, err
	}
	if parents, err = withoutDeleted(ctx, a, model.RecordEvents, parents); err != nil {
		return nil, nil, err
	}
	for _, ev := range append(append([]model.Event(nil), plain...), parents...) {
		if err := a.cacheFill(ctx, model.RecordEvents, ev); err != nil {
			return nil, nil, err
		}
	}

	// Unsynced local changes win over what the remote store returned.
	local, err := store.ListByIndexAs[model.Event](ctx, a.local, model.RecordEvents, model.IndexOwner, collectionID)
	if err != nil {
		return nil, nil, err
	}
	var pending []model.Event
	for _, ev := range local {
		if ev.IsPending {
			pending = append(pending, ev)
		}
	}
	plain, parents = mergePending(plain, parents, pending, gte, lte)
	return plain, parents, nil
}

// mergePending swaps remote events for their pending local versions. A
// pending event is placed by its own shape, so recurrence toggled offline
// moves it between plain and parents.
func mergePending(plain, parents, pending []model.Event, gte, lte string) ([]model.Event, []model.Event) {
	if len(pending) == 0 {
		return plain, parents
	}
	ids := make(map[string]bool, len(pending))
	for _, p := range pending {
		ids[p.ID] = true
	}
	drop := func(events []model.Event) []model.Event {
		out := make([]model.Event, 0, len(events))
		for _, ev := range events {
			if !ids[ev.ID] {
				out = append(out, ev)
			}
		}
		return out
	}
	plain, parents = drop(plain), drop(parents)

	for _, p := range pending {
		switch {
		case p.IsParent():
			parents = append(parents, p)
		case inRange(p.Date, gte, lte):
			plain = append(plain, p)
		}
	}
	return plain, parents
}

func (a *Adapter) localEvents(ctx context.Context, collectionID, gte, lte string) (plain, parents []model.Event, err error) {
	all, err := store.ListByIndexAs[model.Event](ctx, a.local, model.RecordEvents, model.IndexOwner, collectionID)
	if err != nil {
		return nil, nil, err
	}
	for _, ev := range all {
		switch {
		case ev.IsParent():
			parents = append(parents, ev)
		case inRange(ev.Date, gte, lte):
			plain = append(plain, ev)
		}
	}
	return plain, parents, nil
}

func inRange(date, gte, lte string) bool {
	if gte != "" && date < gte {
		return false
	}
	if lte != "" && date > lte {
		return false
	}
	return true
}

func (a *Adapter) expand(parent model.Event, start, end time.Time) []model.Event {
	exp := a.expander.Expand(parent, *parent.RecurrenceRule, start, end)
	if exp.Truncated {
		a.truncations.Add(1)
		a.logger.Warn("recurrence expansion truncated",
			"event_id", parent.ID,
			"cap", a.maxInstances(),
			"window_start", model.FormatDate(start),
			"window_end", model.FormatDate(end),
		)
	}
	return exp.Instances
}

func (a *Adapter) windowMonths() int {
	if a.expander.WindowMonths > 0 {
		return a.expander.WindowMonths
	}
	return recurrence.DefaultWindowMonths
}

func (a *Adapter) maxInstances() int {
	if a.expander.MaxInstances > 0 {
		return a.expander.MaxInstances
	}
	return recurrence.DefaultMaxInstances
}

// GetEvent returns one event. A synthetic occurrence id resolves to the
// occurrence derived from its parent.
func (a *Adapter) GetEvent(ctx context.Context, id string) (model.Event, error) {
	if parentID, date, ok := model.SplitInstanceID(id); ok {
		parent, err := a.findEvent(ctx, parentID)
		if err != nil {
			return model.Event{}, err
		}
		if !parent.IsParent() {
			return model.Event{}, fmt.Errorf("event %s: %w", id, model.ErrNotFound)
		}
		day, _ := model.ParseDate(date)
		exp := a.expander.Expand(parent, *parent.RecurrenceRule, day, day)
		if len(exp.Instances) == 0 {
			return model.Event{}, fmt.Errorf("event %s: %w", id, model.ErrNotFound)
		}
		return exp.Instances[0], nil
	}
	return a.findEvent(ctx, id)
}

// findEvent loads a stored event, preferring the remote copy when online.
func (a *Adapter) findEvent(ctx context.Context, id string) (model.Event, error) {
	if !model.IsLocalID(id) && a.online(ctx) {
		var ev model.Event
		err := guard(func() error {
			raw, err := a.remote.Get(ctx, model.RecordEvents, id)
			if err != nil {
				return err
			}
			ev, err = decodeInto[model.Event](raw)
			return err
		})
		switch {
		case err == nil:
			deleted, err := a.deleteQueued(ctx, model.RecordEvents, id)
			if err != nil {
				return model.Event{}, err
			}
			if deleted {
				return model.Event{}, fmt.Errorf("event %s: %w", id, model.ErrNotFound)
			}
			if err := a.cacheFill(ctx, model.RecordEvents, ev); err != nil {
				return model.Event{}, err
			}
		case !isNotFound(err):
			a.logger.Warn("remote read failed, using local store",
				"op", "get", "record_type", model.RecordEvents, "id", id, "error", err)
		}
	}

	ev, err := store.GetAs[model.Event](ctx, a.local, model.RecordEvents, id)
	if err != nil {
		return model.Event{}, err
	}
	if ev == nil {
		return model.Event{}, fmt.Errorf("event %s: %w", id, model.ErrNotFound)
	}
	return *ev, nil
}

// CreateEvent stores a new event in collectionID on behalf of userID.
func (a *Adapter) CreateEvent(ctx context.Context, collectionID string, in model.Event, userID string) (model.Event, error) {
	ev := in.Clone()
	ev.OwnerCollectionID = collectionID
	ev.CreatedBy = userID
	ev.RecurringEventID = ""
	ev.IsRecurringInstance = false
	ev.IsPending = false
	ev.UpdatedAt = a.now()
	if !ev.IsRecurring {
		ev.RecurrenceRule = nil
		ev.RecurrenceExceptions = nil
		ev.RecurrenceOverrides = nil
	}
	if err := validateEvent(ev); err != nil {
		return model.Event{}, err
	}

	var out model.Event
	var err error
	switch s := route(collectionID, a.online(ctx)); s {
	case remoteFirst:
		out, err = withFallback(ctx, a, "create", model.RecordEvents, "",
			func(ctx context.Context) (model.Event, error) {
				ev := ev
				ev.ID = model.NewRemoteID()
				return a.writeEventRemote(ctx, ev, true)
			},
			func(ctx context.Context) (model.Event, error) {
				return a.createEventLocal(ctx, ev, true)
			})
	default:
		out, err = a.createEventLocal(ctx, ev, s == localQueued)
	}
	if err != nil {
		return model.Event{}, err
	}
	a.notify(model.RecordEvents, "create", out.ID)
	return out, nil
}

// CreateRecurringEvent is CreateEvent for a recurring parent.
func (a *Adapter) CreateRecurringEvent(ctx context.Context, collectionID string, in model.Event, rule model.RecurrenceRule, userID string) (model.Event, error) {
	ev := in.Clone()
	r := rule.Clone()
	ev.IsRecurring = true
	ev.RecurrenceRule = &r
	return a.CreateEvent(ctx, collectionID, ev, userID)
}

func (a *Adapter) createEventLocal(ctx context.Context, ev model.Event, queued bool) (model.Event, error) {
	ev.ID = model.NewLocalID()
	ev.IsPending = queued
	if err := a.local.Put(ctx, model.RecordEvents, ev); err != nil {
		return model.Event{}, fmt.Errorf("create local event: %w", err)
	}
	if queued {
		if err := a.enqueue(ctx, model.RecordEvents, ev, model.ActionInsert, ev.OwnerCollectionID); err != nil {
			return model.Event{}, err
		}
	}
	return ev, nil
}

// writeEventRemote inserts or replaces ev remotely and mirrors the result.
func (a *Adapter) writeEventRemote(ctx context.Context, ev model.Event, insert bool) (model.Event, error) {
	ev.IsPending = false
	var raw []byte
	var err error
	if insert {
		raw, err = a.remote.Insert(ctx, model.RecordEvents, ev)
	} else {
		raw, err = a.remote.Replace(ctx, model.RecordEvents, ev.ID, ev)
	}
	if err != nil {
		return model.Event{}, err
	}
	out, err := decodeInto[model.Event](raw)
	if err != nil {
		return model.Event{}, err
	}
	out.IsPending = false
	if err := a.local.Put(ctx, model.RecordEvents, out); err != nil {
		return model.Event{}, fmt.Errorf("cache event: %w", err)
	}
	return out, nil
}

// UpdateEvent applies patch to an event. For a synthetic occurrence id the
// per-occurrence fields of the patch become an override on the parent for
// that date.
func (a *Adapter) UpdateEvent(ctx context.Context, id string, patch model.EventPatch) (model.Event, error) {
	if parentID, date, ok := model.SplitInstanceID(id); ok {
		return a.updateOccurrence(ctx, parentID, date, patch)
	}

	current, err := a.findEvent(ctx, id)
	if err != nil {
		return model.Event{}, err
	}
	merged := patch.Apply(current, a.now())
	if err := validateEvent(merged); err != nil {
		return model.Event{}, err
	}
	out, err := a.saveEvent(ctx, merged)
	if err != nil {
		return model.Event{}, err
	}
	a.notify(model.RecordEvents, "update", out.ID)
	return out, nil
}

func (a *Adapter) updateOccurrence(ctx context.Context, parentID, date string, patch model.EventPatch) (model.Event, error) {
	parent, err := a.findEvent(ctx, parentID)
	if err != nil {
		return model.Event{}, err
	}
	if !parent.IsParent() {
		return model.Event{}, fmt.Errorf("event %s: %w", model.InstanceID(parentID, date), model.ErrNotFound)
	}

	ve := &model.ValidationError{}
	for name, touched := range map[string]bool{
		"date":                  patch.Date.Touched(),
		"tags":                  patch.Tags.Touched(),
		"is_recurring":          patch.IsRecurring.Touched(),
		"recurrence_rule":       patch.RecurrenceRule.Touched(),
		"recurrence_exceptions": patch.RecurrenceExceptions.Touched(),
		"recurrence_overrides":  patch.RecurrenceOverrides.Touched(),
	} {
		if touched {
			ve.Add(name + " cannot be changed on a single occurrence")
		}
	}
	if err := ve.Err(); err != nil {
		sort.Strings(ve.Problems)
		return model.Event{}, err
	}

	if !a.isOccurrence(parent, date) {
		return model.Event{}, fmt.Errorf("event %s: %w", model.InstanceID(parentID, date), model.ErrNotFound)
	}

	merged := parent.Clone()
	if merged.RecurrenceOverrides == nil {
		merged.RecurrenceOverrides = make(map[string]model.EventOverride)
	}
	merged.RecurrenceOverrides[date] = mergeOverride(merged.RecurrenceOverrides[date], patch)
	merged.UpdatedAt = a.now()

	saved, err := a.saveEvent(ctx, merged)
	if err != nil {
		return model.Event{}, err
	}
	a.notify(model.RecordEvents, "update", saved.ID)

	day, _ := model.ParseDate(date)
	exp := a.expander.Expand(saved, *saved.RecurrenceRule, day, day)
	if len(exp.Instances) == 0 {
		return model.Event{}, fmt.Errorf("event %s: %w", model.InstanceID(parentID, date), model.ErrNotFound)
	}
	return exp.Instances[0], nil
}

// isOccurrence reports whether parent's rule produces an instance on date.
func (a *Adapter) isOccurrence(parent model.Event, date string) bool {
	day, err := model.ParseDate(date)
	if err != nil {
		return false
	}
	return len(a.expander.Expand(parent, *parent.RecurrenceRule, day, day).Instances) > 0
}

func mergeOverride(o model.EventOverride, p model.EventPatch) model.EventOverride {
	if p.Title.Touched() {
		v := p.Title.Value()
		o.Title = &v
	}
	if p.Description.Touched() {
		v := p.Description.Value()
		o.Description = &v
	}
	if p.Time.Touched() {
		v := p.Time.Value()
		o.Time = &v
	}
	switch {
	case p.DurationMinutes.IsSet():
		v := p.DurationMinutes.Value()
		o.DurationMinutes = &v
	case p.DurationMinutes.IsCleared():
		o.DurationMinutes = nil
	}
	if p.IsAllDay.Touched() {
		v := p.IsAllDay.Value()
		o.IsAllDay = &v
	}
	return o
}

// saveEvent writes an already merged event through the routing table.
func (a *Adapter) saveEvent(ctx context.Context, ev model.Event) (model.Event, error) {
	switch s := routeRecord(ev.OwnerCollectionID, ev.ID, a.online(ctx)); s {
	case remoteFirst:
		return withFallback(ctx, a, "update", model.RecordEvents, ev.ID,
			func(ctx context.Context) (model.Event, error) {
				return a.writeEventRemote(ctx, ev, false)
			},
			func(ctx context.Context) (model.Event, error) {
				return a.updateEventLocal(ctx, ev, true)
			})
	default:
		return a.updateEventLocal(ctx, ev, s == localQueued)
	}
}

func (a *Adapter) updateEventLocal(ctx context.Context, ev model.Event, queued bool) (model.Event, error) {
	if queued {
		ev.IsPending = true
	}
	if err := a.local.Put(ctx, model.RecordEvents, ev); err != nil {
		return model.Event{}, fmt.Errorf("update local event: %w", err)
	}
	if queued {
		if err := a.enqueue(ctx, model.RecordEvents, ev, model.ActionUpdate, ev.OwnerCollectionID); err != nil {
			return model.Event{}, err
		}
	}
	return ev, nil
}

// DeleteEvent removes an event. Deleting a synthetic occurrence id adds
// that date to the parent's exceptions and leaves the parent in place.
func (a *Adapter) DeleteEvent(ctx context.Context, id, collectionID string) error {
	if parentID, date, ok := model.SplitInstanceID(id); ok {
		return a.deleteOccurrence(ctx, parentID, date)
	}

	current, err := store.GetAs[model.Event](ctx, a.local, model.RecordEvents, id)
	if err != nil {
		return err
	}
	if current != nil && collectionID == "" {
		collectionID = current.OwnerCollectionID
	}

	switch s := routeRecord(collectionID, id, a.online(ctx)); s {
	case remoteFirst:
		_, err = withFallback(ctx, a, "delete", model.RecordEvents, id,
			func(ctx context.Context) (struct{}, error) {
				return struct{}{}, a.deleteEventRemote(ctx, id)
			},
			func(ctx context.Context) (struct{}, error) {
				return struct{}{}, a.deleteEventLocal(ctx, id, collectionID, true)
			})
	default:
		err = a.deleteEventLocal(ctx, id, collectionID, s == localQueued)
	}
	if err != nil {
		return err
	}
	a.notify(model.RecordEvents, "delete", id)
	return nil
}

func (a *Adapter) deleteOccurrence(ctx context.Context, parentID, date string) error {
	parent, err := a.findEvent(ctx, parentID)
	if err != nil {
		return err
	}
	if !parent.IsParent() {
		return fmt.Errorf("event %s: %w", model.InstanceID(parentID, date), model.ErrNotFound)
	}
	if parent.HasException(date) {
		return nil
	}
	if !a.isOccurrence(parent, date) {
		return fmt.Errorf("event %s: %w", model.InstanceID(parentID, date), model.ErrNotFound)
	}

	merged := parent.Clone()
	merged.RecurrenceExceptions = append(merged.RecurrenceExceptions, date)
	sort.Strings(merged.RecurrenceExceptions)
	delete(merged.RecurrenceOverrides, date)
	merged.UpdatedAt = a.now()

	if _, err := a.saveEvent(ctx, merged); err != nil {
		return err
	}
	a.notify(model.RecordEvents, "update", parentID)
	return nil
}

func (a *Adapter) deleteEventRemote(ctx context.Context, id string) error {
	if err := a.remote.Delete(ctx, model.RecordEvents, id); err != nil && !isNotFound(err) {
		return err
	}
	raws, err := a.remote.List(ctx, model.RecordEventTags, remote.Query{EventID: id})
	if err != nil {
		a.logger.Warn("list tag assignments", "event_id", id, "error", err)
		return a.deleteEventCascade(ctx, id)
	}
	links, err := decodeAll[model.TagAssignment](raws)
	if err != nil {
		a.logger.Warn("decode tag assignments", "event_id", id, "error", err)
	}
	for _, l := range links {
		if err := a.remote.Delete(ctx, model.RecordEventTags, l.ID); err != nil && !isNotFound(err) {
			a.logger.Warn("delete tag assignment", "id", l.ID, "error", err)
		}
	}
	return a.deleteEventCascade(ctx, id)
}

func (a *Adapter) deleteEventLocal(ctx context.Context, id, collectionID string, queued bool) error {
	if queued && model.IsLocalID(id) {
		// Never reached the remote store: cancel its queued mutations instead.
		if err := a.queue.DeleteByRecord(ctx, model.RecordEvents, id); err != nil {
			return err
		}
		queued = false
	}
	if err := a.deleteEventCascade(ctx, id); err != nil {
		return err
	}
	if queued {
		return a.enqueue(ctx, model.RecordEvents, model.Event{ID: id, OwnerCollectionID: collectionID}, model.ActionDelete, collectionID)
	}
	return nil
}

// deleteEventCascade removes an event and its tag assignments locally.
func (a *Adapter) deleteEventCascade(ctx context.Context, id string) error {
	links, err := store.ListByIndexAs[model.TagAssignment](ctx, a.local, model.RecordEventTags, model.IndexEvent, id)
	if err != nil {
		return err
	}
	for _, l := range links {
		if err := a.local.Delete(ctx, model.RecordEventTags, l.ID); err != nil {
			return err
		}
	}
	if err := a.local.Delete(ctx, model.RecordEvents, id); err != nil {
		return fmt.Errorf("delete local event: %w", err)
	}
	return nil
}

func validateEvent(ev model.Event) error {
	ve := &model.ValidationError{}
	if ev.OwnerCollectionID == "" {
		ve.Add("owner_collection_id is required")
	}
	if ev.Title == "" {
		ve.Add("title is required")
	}
	if _, err := model.ParseDate(ev.Date); err != nil {
		ve.Add(fmt.Sprintf("date must be YYYY-MM-DD, got %q", ev.Date))
	}
	if ev.Time != "" {
		if _, err := time.Parse("15:04", ev.Time); err != nil {
			ve.Add(fmt.Sprintf("time must be HH:MM, got %q", ev.Time))
		}
	}
	if ev.DurationMinutes != nil && *ev.DurationMinutes < 0 {
		ve.Add("duration_minutes must not be negative")
	}
	if ev.IsRecurring {
		if ev.RecurrenceRule == nil {
			ve.Add("recurrence_rule is required for recurring events")
		} else if err := recurrence.Validate(*ev.RecurrenceRule); err != nil {
			var rv *model.ValidationError
			if errors.As(err, &rv) {
				ve.Problems = append(ve.Problems, rv.Problems...)
			}
		}
	}
	for _, d := range ev.RecurrenceExceptions {
		if _, err := model.ParseDate(d); err != nil {
			ve.Add(fmt.Sprintf("recurrence exception must be YYYY-MM-DD, got %q", d))
		}
	}
	return ve.Err()
}
