package offline

import (
	"context"
	"fmt"
	"sort"

	"github.com/dukerupert/famcal/internal/model"
	"github.com/dukerupert/famcal/internal/remote"
	"github.com/dukerupert/famcal/internal/store"
)

func (a *Adapter) GetTags(ctx context.Context, collectionID string) ([]model.Tag, error) {
	if route(collectionID, a.online(ctx)) == remoteFirst {
		tags, err := a.remoteTags(ctx, collectionID)
		if err == nil {
			return tags, nil
		}
		a.logger.Warn("remote read failed, using local store",
			"op", "list", "record_type", model.RecordTags, "id", collectionID, "error", err)
	}
	return store.ListByIndexAs[model.Tag](ctx, a.local, model.RecordTags, model.IndexOwner, collectionID)
}

func (a *Adapter) remoteTags(ctx context.Context, collectionID string) ([]model.Tag, error) {
	var tags []model.Tag
	err := guard(func() error {
		raws, err := a.remote.List(ctx, model.RecordTags, remote.Query{OwnerCollectionID: collectionID})
		if err != nil {
			return err
		}
		tags, err = decodeAll[model.Tag](raws)
		return err
	})
	if err != nil {
		return nil, err
	}
	if tags, err = withoutDeleted(ctx, a, model.RecordTags, tags); err != nil {
		return nil, err
	}

	for _, t := range tags {
		if err := a.cacheFill(ctx, model.RecordTags, t); err != nil {
			return nil, err
		}
	}

	local, err := store.ListByIndexAs[model.Tag](ctx, a.local, model.RecordTags, model.IndexOwner, collectionID)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]int, len(tags))
	for i, t := range tags {
		byID[t.ID] = i
	}
	for _, t := range local {
		if !t.IsPending {
			continue
		}
		if i, ok := byID[t.ID]; ok {
			tags[i] = t
		} else {
			tags = append(tags, t)
		}
	}
	sort.SliceStable(tags, func(i, j int) bool { return tags[i].Name < tags[j].Name })
	return tags, nil
}

func (a *Adapter) GetTag(ctx context.Context, id string) (model.Tag, error) {
	if !model.IsLocalID(id) && a.online(ctx) {
		var t model.Tag
		err := guard(func() error {
			raw, err := a.remote.Get(ctx, model.RecordTags, id)
			if err != nil {
				return err
			}
			t, err = decodeInto[model.Tag](raw)
			return err
		})
		switch {
		case err == nil:
			deleted, err := a.deleteQueued(ctx, model.RecordTags, id)
			if err != nil {
				return model.Tag{}, err
			}
			if deleted {
				return model.Tag{}, fmt.Errorf("tag %s: %w", id, model.ErrNotFound)
			}
			if err := a.cacheFill(ctx, model.RecordTags, t); err != nil {
				return model.Tag{}, err
			}
		case !isNotFound(err):
			a.logger.Warn("remote read failed, using local store",
				"op", "get", "record_type", model.RecordTags, "id", id, "error", err)
		}
	}

	t, err := store.GetAs[model.Tag](ctx, a.local, model.RecordTags, id)
	if err != nil {
		return model.Tag{}, err
	}
	if t == nil {
		return model.Tag{}, fmt.Errorf("tag %s: %w", id, model.ErrNotFound)
	}
	return *t, nil
}

func (a *Adapter) CreateTag(ctx context.Context, collectionID string, in model.Tag) (model.Tag, error) {
	t := in
	t.OwnerCollectionID = collectionID
	t.IsPending = false
	t.UpdatedAt = a.now()
	if err := validateTag(t); err != nil {
		return model.Tag{}, err
	}

	var out model.Tag
	var err error
	switch s := route(collectionID, a.online(ctx)); s {
	case remoteFirst:
		out, err = withFallback(ctx, a, "create", model.RecordTags, "",
			func(ctx context.Context) (model.Tag, error) {
				t := t
				t.ID = model.NewRemoteID()
				return a.writeTagRemote(ctx, t, true)
			},
			func(ctx context.Context) (model.Tag, error) {
				return a.createTagLocal(ctx, t, true)
			})
	default:
		out, err = a.createTagLocal(ctx, t, s == localQueued)
	}
	if err != nil {
		return model.Tag{}, err
	}
	a.notify(model.RecordTags, "create", out.ID)
	return out, nil
}

func (a *Adapter) createTagLocal(ctx context.Context, t model.Tag, queued bool) (model.Tag, error) {
	t.ID = model.NewLocalID()
	t.IsPending = queued
	if err := a.local.Put(ctx, model.RecordTags, t); err != nil {
		return model.Tag{}, fmt.Errorf("create local tag: %w", err)
	}
	if queued {
		if err := a.enqueue(ctx, model.RecordTags, t, model.ActionInsert, t.OwnerCollectionID); err != nil {
			return model.Tag{}, err
		}
	}
	return t, nil
}

func (a *Adapter) writeTagRemote(ctx context.Context, t model.Tag, insert bool) (model.Tag, error) {
	t.IsPending = false
	var raw []byte
	var err error
	if insert {
		raw, err = a.remote.Insert(ctx, model.RecordTags, t)
	} else {
		raw, err = a.remote.Replace(ctx, model.RecordTags, t.ID, t)
	}
	if err != nil {
		return model.Tag{}, err
	}
	out, err := decodeInto[model.Tag](raw)
	if err != nil {
		return model.Tag{}, err
	}
	out.IsPending = false
	if err := a.local.Put(ctx, model.RecordTags, out); err != nil {
		return model.Tag{}, fmt.Errorf("cache tag: %w", err)
	}
	return out, nil
}

func (a *Adapter) UpdateTag(ctx context.Context, id string, patch model.TagPatch) (model.Tag, error) {
	current, err := a.GetTag(ctx, id)
	if err != nil {
		return model.Tag{}, err
	}
	merged := patch.Apply(current, a.now())
	if err := validateTag(merged); err != nil {
		return model.Tag{}, err
	}

	var out model.Tag
	switch s := routeRecord(merged.OwnerCollectionID, id, a.online(ctx)); s {
	case remoteFirst:
		out, err = withFallback(ctx, a, "update", model.RecordTags, id,
			func(ctx context.Context) (model.Tag, error) {
				return a.writeTagRemote(ctx, merged, false)
			},
			func(ctx context.Context) (model.Tag, error) {
				return a.updateTagLocal(ctx, merged, true)
			})
	default:
		out, err = a.updateTagLocal(ctx, merged, s == localQueued)
	}
	if err != nil {
		return model.Tag{}, err
	}
	a.notify(model.RecordTags, "update", out.ID)
	return out, nil
}

func (a *Adapter) updateTagLocal(ctx context.Context, t model.Tag, queued bool) (model.Tag, error) {
	if queued {
		t.IsPending = true
	}
	if err := a.local.Put(ctx, model.RecordTags, t); err != nil {
		return model.Tag{}, fmt.Errorf("update local tag: %w", err)
	}
	if queued {
		if err := a.enqueue(ctx, model.RecordTags, t, model.ActionUpdate, t.OwnerCollectionID); err != nil {
			return model.Tag{}, err
		}
	}
	return t, nil
}

// DeleteTag removes a tag and its assignments.
func (a *Adapter) DeleteTag(ctx context.Context, id, collectionID string) error {
	current, err := store.GetAs[model.Tag](ctx, a.local, model.RecordTags, id)
	if err != nil {
		return err
	}
	if current != nil && collectionID == "" {
		collectionID = current.OwnerCollectionID
	}

	switch s := routeRecord(collectionID, id, a.online(ctx)); s {
	case remoteFirst:
		_, err = withFallback(ctx, a, "delete", model.RecordTags, id,
			func(ctx context.Context) (struct{}, error) {
				if err := a.remote.Delete(ctx, model.RecordTags, id); err != nil && !isNotFound(err) {
					return struct{}{}, err
				}
				return struct{}{}, a.deleteTagCascade(ctx, id)
			},
			func(ctx context.Context) (struct{}, error) {
				return struct{}{}, a.deleteTagLocal(ctx, id, collectionID, true)
			})
	default:
		err = a.deleteTagLocal(ctx, id, collectionID, s == localQueued)
	}
	if err != nil {
		return err
	}
	a.notify(model.RecordTags, "delete", id)
	return nil
}

func (a *Adapter) deleteTagLocal(ctx context.Context, id, collectionID string, queued bool) error {
	if queued && model.IsLocalID(id) {
		if err := a.queue.DeleteByRecord(ctx, model.RecordTags, id); err != nil {
			return err
		}
		queued = false
	}
	if err := a.deleteTagCascade(ctx, id); err != nil {
		return err
	}
	if queued {
		return a.enqueue(ctx, model.RecordTags, model.Tag{ID: id, OwnerCollectionID: collectionID}, model.ActionDelete, collectionID)
	}
	return nil
}

func (a *Adapter) deleteTagCascade(ctx context.Context, id string) error {
	links, err := store.ListByIndexAs[model.TagAssignment](ctx, a.local, model.RecordEventTags, model.IndexTag, id)
	if err != nil {
		return err
	}
	for _, l := range links {
		if err := a.local.Delete(ctx, model.RecordEventTags, l.ID); err != nil {
			return err
		}
	}
	if err := a.local.Delete(ctx, model.RecordTags, id); err != nil {
		return fmt.Errorf("delete local tag: %w", err)
	}
	return nil
}

// SetEventTags replaces the tags of an event, keeping the event's tag list
// and its tag assignment records in step.
func (a *Adapter) SetEventTags(ctx context.Context, eventID string, tagIDs []string) (model.Event, error) {
	if parentID, _, ok := model.SplitInstanceID(eventID); ok {
		eventID = parentID
	}
	tagIDs = dedupe(tagIDs)

	ev, err := a.UpdateEvent(ctx, eventID, model.EventPatch{Tags: model.Set(tagIDs)})
	if err != nil {
		return model.Event{}, err
	}

	switch s := routeRecord(ev.OwnerCollectionID, ev.ID, a.online(ctx)); s {
	case remoteFirst:
		_, err = withFallback(ctx, a, "set_tags", model.RecordEventTags, ev.ID,
			func(ctx context.Context) (struct{}, error) {
				return struct{}{}, a.setAssignmentsRemote(ctx, ev, tagIDs)
			},
			func(ctx context.Context) (struct{}, error) {
				return struct{}{}, a.setAssignmentsLocal(ctx, ev, tagIDs, true)
			})
	default:
		err = a.setAssignmentsLocal(ctx, ev, tagIDs, s == localQueued)
	}
	if err != nil {
		return model.Event{}, err
	}
	return ev, nil
}

func (a *Adapter) setAssignmentsRemote(ctx context.Context, ev model.Event, tagIDs []string) error {
	raws, err := a.remote.List(ctx, model.RecordEventTags, remote.Query{EventID: ev.ID})
	if err != nil {
		return err
	}
	current, err := decodeAll[model.TagAssignment](raws)
	if err != nil {
		return err
	}
	stale, missing := diffAssignments(current, tagIDs)

	for _, l := range stale {
		if err := a.remote.Delete(ctx, model.RecordEventTags, l.ID); err != nil && !isNotFound(err) {
			return err
		}
		if err := a.local.Delete(ctx, model.RecordEventTags, l.ID); err != nil {
			return err
		}
	}
	if len(missing) == 0 {
		return nil
	}

	recs := make([]any, 0, len(missing))
	for _, tagID := range missing {
		recs = append(recs, model.TagAssignment{
			ID:                model.NewRemoteID(),
			EventID:           ev.ID,
			TagID:             tagID,
			OwnerCollectionID: ev.OwnerCollectionID,
		})
	}
	created, err := a.remote.InsertBatch(ctx, model.RecordEventTags, recs)
	if err != nil {
		return err
	}
	links, err := decodeAll[model.TagAssignment](created)
	if err != nil {
		return err
	}
	for _, l := range links {
		if err := a.local.Put(ctx, model.RecordEventTags, l); err != nil {
			return err
		}
	}
	return nil
}

func (a *Adapter) setAssignmentsLocal(ctx context.Context, ev model.Event, tagIDs []string, queued bool) error {
	current, err := store.ListByIndexAs[model.TagAssignment](ctx, a.local, model.RecordEventTags, model.IndexEvent, ev.ID)
	if err != nil {
		return err
	}
	stale, missing := diffAssignments(current, tagIDs)

	for _, l := range stale {
		if err := a.local.Delete(ctx, model.RecordEventTags, l.ID); err != nil {
			return err
		}
		if !queued {
			continue
		}
		if model.IsLocalID(l.ID) {
			err = a.queue.DeleteByRecord(ctx, model.RecordEventTags, l.ID)
		} else {
			err = a.enqueue(ctx, model.RecordEventTags, l, model.ActionDelete, ev.OwnerCollectionID)
		}
		if err != nil {
			return err
		}
	}
	for _, tagID := range missing {
		l := model.TagAssignment{
			ID:                model.NewLocalID(),
			EventID:           ev.ID,
			TagID:             tagID,
			OwnerCollectionID: ev.OwnerCollectionID,
		}
		if err := a.local.Put(ctx, model.RecordEventTags, l); err != nil {
			return err
		}
		if queued {
			if err := a.enqueue(ctx, model.RecordEventTags, l, model.ActionInsert, ev.OwnerCollectionID); err != nil {
				return err
			}
		}
	}
	return nil
}

// diffAssignments splits current links into those to drop and the tag ids
// still lacking a link.
func diffAssignments(current []model.TagAssignment, tagIDs []string) (stale []model.TagAssignment, missing []string) {
	want := make(map[string]bool, len(tagIDs))
	for _, id := range tagIDs {
		want[id] = true
	}
	have := make(map[string]bool, len(current))
	for _, l := range current {
		if !want[l.TagID] || have[l.TagID] {
			stale = append(stale, l)
			continue
		}
		have[l.TagID] = true
	}
	for _, id := range tagIDs {
		if !have[id] {
			missing = append(missing, id)
		}
	}
	return stale, missing
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func validateTag(t model.Tag) error {
	ve := &model.ValidationError{}
	if t.OwnerCollectionID == "" {
		ve.Add("owner_collection_id is required")
	}
	if t.Name == "" {
		ve.Add("name is required")
	}
	return ve.Err()
}
