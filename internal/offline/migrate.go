package offline

import (
	"context"
	"fmt"

	"github.com/dukerupert/famcal/internal/model"
	"github.com/dukerupert/famcal/internal/store"
)

// ProgressFunc receives migration progress after every created record.
type ProgressFunc func(step string, current, total int)

// Migration progress steps.
const (
	StepCollection     = "collection"
	StepTags           = "tags"
	StepEvents         = "events"
	StepTagAssignments = "tag_assignments"
)

type ledgerEntry struct {
	rt model.RecordType
	id string
}

// migration is the bookkeeping of one MigrateCollection call.
type migration struct {
	a        *Adapter
	progress ProgressFunc
	total    int
	current  int

	familyID string
	memberID string
	ledger   []ledgerEntry
	remap    map[string]string

	family model.Family
	member model.FamilyMember
	tags   []model.Tag
	events []model.Event
	links  []model.TagAssignment
}

// MigrateCollection copies a collection that only exists on this device,
// with all its tags, events and tag assignments, to the remote store and
// returns the new collection id. Either everything is created remotely or,
// after a failure, everything created so far is deleted again. Local data is
// only replaced once the whole collection exists remotely, so a failed
// migration can be retried.
//
// Callers must not migrate the same collection concurrently.
func (a *Adapter) MigrateCollection(ctx context.Context, collectionID, userID string, progress ProgressFunc) (string, error) {
	if !model.IsLocalID(collectionID) {
		return "", &model.ValidationError{Problems: []string{"collection " + collectionID + " already exists remotely"}}
	}
	if !a.online(ctx) {
		return "", fmt.Errorf("migrate collection: %w", model.ErrRemoteUnavailable)
	}
	if err := a.session.EnsureWriteSession(ctx); err != nil {
		return "", fmt.Errorf("migrate collection: %w", err)
	}

	family, err := store.GetAs[model.Family](ctx, a.local, model.RecordFamilies, collectionID)
	if err != nil {
		return "", err
	}
	if family == nil {
		return "", fmt.Errorf("family %s: %w", collectionID, model.ErrNotFound)
	}
	tags, err := store.ListByIndexAs[model.Tag](ctx, a.local, model.RecordTags, model.IndexOwner, collectionID)
	if err != nil {
		return "", err
	}
	events, err := store.ListByIndexAs[model.Event](ctx, a.local, model.RecordEvents, model.IndexOwner, collectionID)
	if err != nil {
		return "", err
	}
	links, err := store.ListByIndexAs[model.TagAssignment](ctx, a.local, model.RecordEventTags, model.IndexOwner, collectionID)
	if err != nil {
		return "", err
	}

	if userID == "" {
		userID = family.CreatedBy
	}
	m := &migration{
		a:        a,
		progress: progress,
		total:    1 + len(events) + len(tags) + len(links),
		remap:    make(map[string]string),
	}

	a.logger.Info("migrating collection", "id", collectionID, "records", m.total)

	if err := guard(func() error { return m.run(ctx, *family, userID, tags, events, links) }); err != nil {
		m.rollback(ctx)
		return "", fmt.Errorf("migrate collection %s: %w", collectionID, err)
	}

	m.replaceLocal(ctx, collectionID, *family, tags, events, links)
	a.notify(model.RecordFamilies, "migrate", m.familyID)
	a.logger.Info("collection migrated", "old_id", collectionID, "new_id", m.familyID)
	return m.familyID, nil
}

func (m *migration) run(ctx context.Context, family model.Family, userID string,
	tags []model.Tag, events []model.Event, links []model.TagAssignment) error {

	a := m.a

	m.family = family
	m.family.ID = model.NewRemoteID()
	if _, err := a.remote.Insert(ctx, model.RecordFamilies, m.family); err != nil {
		return fmt.Errorf("create family: %w", err)
	}
	m.familyID = m.family.ID

	m.member = ownerMembership(m.familyID, userID, a.now())
	if _, err := a.remote.Insert(ctx, model.RecordFamilyMembers, m.member); err != nil {
		return fmt.Errorf("create family member: %w", err)
	}
	m.memberID = m.member.ID
	m.step(StepCollection)

	for _, t := range tags {
		t.ID, t.OwnerCollectionID, t.IsPending = m.mint(t.ID), m.familyID, false
		if err := m.insert(ctx, model.RecordTags, t); err != nil {
			return err
		}
		m.tags = append(m.tags, t)
		m.step(StepTags)
	}

	for _, ev := range events {
		ev = ev.Clone()
		ev.ID, ev.OwnerCollectionID, ev.IsPending = m.mint(ev.ID), m.familyID, false
		for i, tagID := range ev.Tags {
			ev.Tags[i] = m.resolve(tagID)
		}
		if err := m.insert(ctx, model.RecordEvents, ev); err != nil {
			return err
		}
		m.events = append(m.events, ev)
		m.step(StepEvents)
	}

	for _, l := range links {
		l.ID, l.OwnerCollectionID = m.mint(l.ID), m.familyID
		l.EventID, l.TagID = m.resolve(l.EventID), m.resolve(l.TagID)
		if err := m.insert(ctx, model.RecordEventTags, l); err != nil {
			return err
		}
		m.links = append(m.links, l)
		m.step(StepTagAssignments)
	}
	return nil
}

// mint assigns a fresh remote id to a local record and remembers the
// mapping.
func (m *migration) mint(oldID string) string {
	id := model.NewRemoteID()
	m.remap[oldID] = id
	return id
}

func (m *migration) resolve(id string) string {
	if newID, ok := m.remap[id]; ok {
		return newID
	}
	return id
}

func (m *migration) insert(ctx context.Context, rt model.RecordType, rec model.Record) error {
	if _, err := m.a.remote.Insert(ctx, rt, rec); err != nil {
		return fmt.Errorf("create %s %s: %w", rt, rec.RecordID(), err)
	}
	m.ledger = append(m.ledger, ledgerEntry{rt: rt, id: rec.RecordID()})
	return nil
}

func (m *migration) step(label string) {
	m.current++
	if m.progress != nil {
		m.progress(label, m.current, m.total)
	}
}

// rollback deletes every remote record the migration created, newest first.
// Failures are logged per record and do not stop the walk.
func (m *migration) rollback(ctx context.Context) {
	a := m.a
	undo := func(rt model.RecordType, id string) {
		err := guard(func() error { return a.remote.Delete(ctx, rt, id) })
		if err != nil && !isNotFound(err) {
			a.logger.Error("rollback failed", "record_type", rt, "id", id, "error", err)
		}
	}

	for i := len(m.ledger) - 1; i >= 0; i-- {
		undo(m.ledger[i].rt, m.ledger[i].id)
	}
	if m.memberID != "" {
		undo(model.RecordFamilyMembers, m.memberID)
	}
	if m.familyID != "" {
		undo(model.RecordFamilies, m.familyID)
	}
	a.logger.Warn("migration rolled back", "records", len(m.ledger))
}

// replaceLocal swaps the local copy of the collection for the migrated
// records. The remote store is authoritative by now, so failures are only
// logged.
func (m *migration) replaceLocal(ctx context.Context, oldID string, family model.Family,
	tags []model.Tag, events []model.Event, links []model.TagAssignment) {

	a := m.a
	logErr := func(op string, rt model.RecordType, id string, err error) {
		if err != nil {
			a.logger.Error("replace local copy after migration", "op", op, "record_type", rt, "id", id, "error", err)
		}
	}

	for _, l := range links {
		logErr("delete", model.RecordEventTags, l.ID, a.local.Delete(ctx, model.RecordEventTags, l.ID))
	}
	for _, ev := range events {
		logErr("delete", model.RecordEvents, ev.ID, a.local.Delete(ctx, model.RecordEvents, ev.ID))
	}
	for _, t := range tags {
		logErr("delete", model.RecordTags, t.ID, a.local.Delete(ctx, model.RecordTags, t.ID))
	}
	members, err := store.ListByIndexAs[model.FamilyMember](ctx, a.local, model.RecordFamilyMembers, model.IndexFamily, oldID)
	logErr("list", model.RecordFamilyMembers, oldID, err)
	for _, mem := range members {
		logErr("delete", model.RecordFamilyMembers, mem.ID, a.local.Delete(ctx, model.RecordFamilyMembers, mem.ID))
	}
	logErr("delete", model.RecordFamilies, family.ID, a.local.Delete(ctx, model.RecordFamilies, family.ID))

	_, err = a.queue.DeleteByCollection(ctx, oldID)
	logErr("drop queue", model.RecordFamilies, oldID, err)

	logErr("put", model.RecordFamilies, m.family.ID, a.local.Put(ctx, model.RecordFamilies, m.family))
	logErr("put", model.RecordFamilyMembers, m.member.ID, a.local.Put(ctx, model.RecordFamilyMembers, m.member))
	for _, t := range m.tags {
		logErr("put", model.RecordTags, t.ID, a.local.Put(ctx, model.RecordTags, t))
	}
	for _, ev := range m.events {
		logErr("put", model.RecordEvents, ev.ID, a.local.Put(ctx, model.RecordEvents, ev))
	}
	for _, l := range m.links {
		logErr("put", model.RecordEventTags, l.ID, a.local.Put(ctx, model.RecordEventTags, l))
	}
}
