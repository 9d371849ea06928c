// Package offline keeps a local copy of calendar data usable while the
// remote store is unreachable and reconciles the two once it comes back.
package offline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dukerupert/famcal/internal/model"
	"github.com/dukerupert/famcal/internal/recurrence"
	"github.com/dukerupert/famcal/internal/remote"
	"github.com/dukerupert/famcal/internal/store"
)

// LocalStore is the on-device record store.
type LocalStore interface {
	store.Reader
	Put(ctx context.Context, collection model.RecordType, rec model.Record) error
	Delete(ctx context.Context, collection model.RecordType, id string) error
}

// Queue is the durable log of mutations awaiting replay.
type Queue interface {
	Enqueue(ctx context.Context, item model.SyncQueueItem) error
	List(ctx context.Context) ([]model.SyncQueueItem, error)
	Count(ctx context.Context) (int, error)
	Delete(ctx context.Context, id string) error
	DeleteByCollection(ctx context.Context, collectionID string) (int64, error)
	DeleteByRecord(ctx context.Context, recordType model.RecordType, recordID string) error
	RekeyRecord(ctx context.Context, recordType model.RecordType, oldID, newID string) error
	DeletedIDs(ctx context.Context, recordType model.RecordType) (map[string]bool, error)
}

// RemoteStore is the authoritative store. remote.Client and
// remote.MemoryStore implement it.
type RemoteStore interface {
	Insert(ctx context.Context, table model.RecordType, rec any) (json.RawMessage, error)
	InsertBatch(ctx context.Context, table model.RecordType, recs []any) ([]json.RawMessage, error)
	Replace(ctx context.Context, table model.RecordType, id string, rec any) (json.RawMessage, error)
	Delete(ctx context.Context, table model.RecordType, id string) error
	Get(ctx context.Context, table model.RecordType, id string) (json.RawMessage, error)
	List(ctx context.Context, table model.RecordType, q remote.Query) ([]json.RawMessage, error)
}

// Connectivity reports whether the device can reach the remote store. It is
// asked again on every call.
type Connectivity interface {
	Online(ctx context.Context) bool
}

// SessionChecker fails when remote writes are not currently authorized.
type SessionChecker interface {
	EnsureWriteSession(ctx context.Context) error
}

// Notifier is told about every completed mutation.
type Notifier interface {
	Notify(entity, action, id string)
}

type Config struct {
	Local    LocalStore
	Queue    Queue
	Remote   RemoteStore
	Conn     Connectivity
	Session  SessionChecker
	Expander recurrence.Expander
	Notifier Notifier
	Logger   *slog.Logger
	Now      func() time.Time
}

// Adapter is the single read/write entry point for events, tags and
// families. Every call decides afresh between the local and remote paths.
type Adapter struct {
	local    LocalStore
	queue    Queue
	remote   RemoteStore
	conn     Connectivity
	session  SessionChecker
	expander recurrence.Expander
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time

	truncations atomic.Int64
	fallbacks   atomic.Int64

	replayMu sync.Mutex
	syncMu   sync.Mutex
	lastSync SyncReport
}

func New(cfg Config) *Adapter {
	a := &Adapter{
		local:    cfg.Local,
		queue:    cfg.Queue,
		remote:   cfg.Remote,
		conn:     cfg.Conn,
		session:  cfg.Session,
		expander: cfg.Expander,
		notifier: cfg.Notifier,
		logger:   cfg.Logger,
		now:      cfg.Now,
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	a.logger = a.logger.With("component", "offline")
	if a.now == nil {
		a.now = time.Now
	}
	if a.session == nil {
		a.session = readySession{}
	}
	return a
}

type readySession struct{}

func (readySession) EnsureWriteSession(context.Context) error { return nil }

// Diagnostics are counters for conditions that are logged rather than
// returned to callers.
type Diagnostics struct {
	Truncations int64      `json:"truncations"`
	Fallbacks   int64      `json:"fallbacks"`
	LastSync    SyncReport `json:"last_sync"`
}

func (a *Adapter) Diagnostics() Diagnostics {
	a.syncMu.Lock()
	last := a.lastSync
	a.syncMu.Unlock()
	return Diagnostics{
		Truncations: a.truncations.Load(),
		Fallbacks:   a.fallbacks.Load(),
		LastSync:    last,
	}
}

// PendingCount returns the number of queued mutations.
func (a *Adapter) PendingCount(ctx context.Context) (int, error) {
	return a.queue.Count(ctx)
}

func (a *Adapter) online(ctx context.Context) bool {
	return a.conn != nil && a.conn.Online(ctx)
}

// withFallback runs remoteOp after checking the write session. Any failure,
// including a panic, is logged and answered by localOp instead.
func withFallback[T any](ctx context.Context, a *Adapter, op string, rt model.RecordType, id string,
	remoteOp func(ctx context.Context) (T, error), localOp func(ctx context.Context) (T, error)) (T, error) {

	err := a.session.EnsureWriteSession(ctx)
	if err == nil {
		var out T
		err = guard(func() error {
			var rerr error
			out, rerr = remoteOp(ctx)
			return rerr
		})
		if err == nil {
			return out, nil
		}
	}

	a.fallbacks.Add(1)
	a.logger.Warn("remote write failed, using local store",
		"op", op, "record_type", rt, "id", id, "error", err)
	return localOp(ctx)
}

// guard turns a panic inside fn into ErrRemoteUnavailable.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", model.ErrRemoteUnavailable, r)
		}
	}()
	return fn()
}

// enqueue records a local mutation for later replay.
func (a *Adapter) enqueue(ctx context.Context, rt model.RecordType, rec model.Record, action model.SyncAction, owner string) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal queue payload: %w", err)
	}
	return a.queue.Enqueue(ctx, model.SyncQueueItem{
		ID:                model.NewRemoteID(),
		RecordType:        rt,
		RecordID:          rec.RecordID(),
		Action:            action,
		Payload:           payload,
		OwnerCollectionID: owner,
		CreatedAt:         a.now(),
	})
}

// cacheFill mirrors a remote record into the local store unless the local
// copy still has unsynced changes.
func (a *Adapter) cacheFill(ctx context.Context, rt model.RecordType, rec model.Record) error {
	pending, err := a.isPendingLocally(ctx, rt, rec.RecordID())
	if err != nil {
		return err
	}
	if pending {
		return nil
	}
	return a.local.Put(ctx, rt, rec)
}

// withoutDeleted drops records that have a delete waiting in the queue, so a
// remote read cannot bring them back.
func withoutDeleted[T model.Record](ctx context.Context, a *Adapter, rt model.RecordType, recs []T) ([]T, error) {
	deleted, err := a.queue.DeletedIDs(ctx, rt)
	if err != nil || len(deleted) == 0 {
		return recs, err
	}
	out := recs[:0:0]
	for _, r := range recs {
		if !deleted[r.RecordID()] {
			out = append(out, r)
		}
	}
	return out, nil
}

// deleteQueued reports whether id has a delete waiting in the queue.
func (a *Adapter) deleteQueued(ctx context.Context, rt model.RecordType, id string) (bool, error) {
	deleted, err := a.queue.DeletedIDs(ctx, rt)
	return deleted[id], err
}

func (a *Adapter) isPendingLocally(ctx context.Context, rt model.RecordType, id string) (bool, error) {
	raw, err := a.local.Get(ctx, rt, id)
	if err != nil || raw == nil {
		return false, err
	}
	var flag struct {
		IsPending bool `json:"is_pending"`
	}
	if err := json.Unmarshal(raw, &flag); err != nil {
		return false, fmt.Errorf("decode %s record: %w", rt, err)
	}
	return flag.IsPending, nil
}

func (a *Adapter) notify(entity model.RecordType, action, id string) {
	if a.notifier != nil {
		a.notifier.Notify(string(entity), action, id)
	}
}

func decodeInto[T any](raw json.RawMessage) (T, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("decode remote record: %w", err)
	}
	return v, nil
}

func decodeAll[T any](raws []json.RawMessage) ([]T, error) {
	out := make([]T, 0, len(raws))
	for _, raw := range raws {
		v, err := decodeInto[T](raw)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, model.ErrNotFound)
}
