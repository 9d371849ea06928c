package offline

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/dukerupert/famcal/internal/model"
	"github.com/dukerupert/famcal/internal/store"
)

// SyncReport summarizes one queue replay.
type SyncReport struct {
	Replayed int       `json:"replayed"`
	Failed   int       `json:"failed"`
	Skipped  int       `json:"skipped"`
	At       time.Time `json:"at"`
}

type recordKey struct {
	rt model.RecordType
	id string
}

// SyncNow replays the queue in insertion order. Items of collections that
// only exist locally are left for MigrateCollection. A failed item stays
// queued for the next run. Only one replay runs at a time.
func (a *Adapter) SyncNow(ctx context.Context) (SyncReport, error) {
	a.replayMu.Lock()
	defer a.replayMu.Unlock()

	report := SyncReport{At: a.now()}
	defer func() {
		a.syncMu.Lock()
		a.lastSync = report
		a.syncMu.Unlock()
	}()

	if !a.online(ctx) {
		return report, nil
	}
	if err := a.session.EnsureWriteSession(ctx); err != nil {
		a.logger.Info("skipping sync", "reason", err)
		return report, nil
	}

	items, err := a.queue.List(ctx)
	if err != nil {
		return report, err
	}

	outstanding := make(map[recordKey]int, len(items))
	for _, it := range items {
		outstanding[recordKey{it.RecordType, it.RecordID}]++
	}
	remap := make(map[recordKey]string)

	for _, it := range items {
		if model.IsLocalID(it.OwnerCollectionID) {
			report.Skipped++
			continue
		}

		k := recordKey{it.RecordType, it.RecordID}
		id := it.RecordID
		if newID, ok := remap[k]; ok {
			id = newID
		}

		var newID string
		err := guard(func() error {
			var rerr error
			newID, rerr = a.replay(ctx, it, id, outstanding[k] > 1)
			return rerr
		})
		if err != nil {
			report.Failed++
			a.logger.Warn("replay failed",
				"queue_id", it.ID, "action", it.Action, "record_type", it.RecordType, "id", id, "error", err)
			continue
		}

		if err := a.queue.Delete(ctx, it.ID); err != nil {
			return report, err
		}
		outstanding[k]--
		if newID != id {
			remap[k] = newID
		}
		report.Replayed++
	}

	if report.Replayed > 0 || report.Failed > 0 {
		a.logger.Info("sync finished", "replayed", report.Replayed, "failed", report.Failed, "skipped", report.Skipped)
	}
	return report, nil
}

// deleteLocal drops a record that a replayed delete removed remotely, in case
// a read cached it again while the delete was queued.
func (a *Adapter) deleteLocal(ctx context.Context, rt model.RecordType, id string) error {
	switch rt {
	case model.RecordEvents:
		return a.deleteEventCascade(ctx, id)
	case model.RecordTags:
		return a.deleteTagCascade(ctx, id)
	}
	if err := a.local.Delete(ctx, rt, id); err != nil {
		return fmt.Errorf("delete local %s: %w", rt, err)
	}
	return nil
}

// replay sends one queued mutation and returns the record's id afterwards.
// Inserts and updates send the current local form of the record, so later
// local edits are not lost.
func (a *Adapter) replay(ctx context.Context, it model.SyncQueueItem, id string, morePending bool) (string, error) {
	switch it.Action {
	case model.ActionDelete:
		if err := a.remote.Delete(ctx, it.RecordType, id); err != nil && !isNotFound(err) {
			return "", err
		}
		if err := a.deleteLocal(ctx, it.RecordType, id); err != nil {
			return "", err
		}
		return id, nil

	case model.ActionInsert:
		current, err := a.local.Get(ctx, it.RecordType, id)
		if err != nil {
			return "", err
		}
		body := current
		if body == nil {
			body = it.Payload
		}
		newID := model.StripLocalPrefix(id)
		doc, err := outgoing(body, newID)
		if err != nil {
			return "", err
		}
		created, err := a.remote.Insert(ctx, it.RecordType, doc)
		if err != nil {
			return "", err
		}
		if current == nil {
			return newID, nil
		}

		rec, err := decodeRecord(it.RecordType, created)
		if err != nil {
			return "", err
		}
		if newID != id {
			if err := a.local.Delete(ctx, it.RecordType, id); err != nil {
				return "", err
			}
		}
		if err := a.local.Put(ctx, it.RecordType, withPending(rec, morePending)); err != nil {
			return "", err
		}
		if newID != id {
			if err := a.queue.RekeyRecord(ctx, it.RecordType, id, newID); err != nil {
				return "", err
			}
			if err := a.rekeyReferences(ctx, it.RecordType, it.OwnerCollectionID, id, newID); err != nil {
				return "", err
			}
		}
		return newID, nil

	case model.ActionUpdate:
		current, err := a.local.Get(ctx, it.RecordType, id)
		if err != nil {
			return "", err
		}
		if current == nil {
			// Deleted locally since; the queued delete follows.
			return id, nil
		}
		doc, err := outgoing(current, id)
		if err != nil {
			return "", err
		}
		updated, err := a.remote.Replace(ctx, it.RecordType, id, doc)
		if err != nil {
			return "", err
		}
		if morePending {
			return id, nil
		}
		rec, err := decodeRecord(it.RecordType, updated)
		if err != nil {
			return "", err
		}
		return id, a.local.Put(ctx, it.RecordType, withPending(rec, false))
	}
	return "", fmt.Errorf("unknown sync action %q", it.Action)
}

// rekeyReferences points local records that refer to oldID at newID.
func (a *Adapter) rekeyReferences(ctx context.Context, rt model.RecordType, owner, oldID, newID string) error {
	switch rt {
	case model.RecordEvents:
		links, err := store.ListByIndexAs[model.TagAssignment](ctx, a.local, model.RecordEventTags, model.IndexEvent, oldID)
		if err != nil {
			return err
		}
		for _, l := range links {
			l.EventID = newID
			if err := a.local.Put(ctx, model.RecordEventTags, l); err != nil {
				return err
			}
		}

	case model.RecordTags:
		links, err := store.ListByIndexAs[model.TagAssignment](ctx, a.local, model.RecordEventTags, model.IndexTag, oldID)
		if err != nil {
			return err
		}
		for _, l := range links {
			l.TagID = newID
			if err := a.local.Put(ctx, model.RecordEventTags, l); err != nil {
				return err
			}
		}
		events, err := store.ListByIndexAs[model.Event](ctx, a.local, model.RecordEvents, model.IndexOwner, owner)
		if err != nil {
			return err
		}
		for _, ev := range events {
			i := slices.Index(ev.Tags, oldID)
			if i < 0 {
				continue
			}
			ev.Tags[i] = newID
			if err := a.local.Put(ctx, model.RecordEvents, ev); err != nil {
				return err
			}
		}
	}
	return nil
}

// outgoing prepares a stored record for the remote store: it carries id and
// no local bookkeeping.
func outgoing(raw json.RawMessage, id string) (map[string]any, error) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode queued record: %w", err)
	}
	if doc == nil {
		return nil, fmt.Errorf("queued record is empty")
	}
	doc["id"] = id
	delete(doc, "is_pending")
	return doc, nil
}

func decodeRecord(rt model.RecordType, raw json.RawMessage) (model.Record, error) {
	switch rt {
	case model.RecordEvents:
		return decodeInto[model.Event](raw)
	case model.RecordTags:
		return decodeInto[model.Tag](raw)
	case model.RecordEventTags:
		return decodeInto[model.TagAssignment](raw)
	case model.RecordFamilies:
		return decodeInto[model.Family](raw)
	case model.RecordFamilyMembers:
		return decodeInto[model.FamilyMember](raw)
	}
	return nil, fmt.Errorf("unknown record type %q", rt)
}

func withPending(rec model.Record, pending bool) model.Record {
	switch r := rec.(type) {
	case model.Event:
		r.IsPending = pending
		return r
	case model.Tag:
		r.IsPending = pending
		return r
	}
	return rec
}
