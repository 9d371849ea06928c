package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/famcal/internal/model"
)

// QueueStore persists mutations awaiting replay against the remote store.
type QueueStore struct {
	db *sql.DB
}

func NewQueueStore(db *sql.DB) *QueueStore {
	return &QueueStore{db: db}
}

const queueCols = `id, record_type, record_id, action, payload, owner_collection_id, created_at`

func (s *QueueStore) Enqueue(ctx context.Context, item model.SyncQueueItem) error {
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now()
	}
	payload := string(item.Payload)
	if payload == "" {
		payload = "null"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_queue (`+queueCols+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		item.ID, string(item.RecordType), item.RecordID, string(item.Action), payload,
		item.OwnerCollectionID, item.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("enqueue %s %s: %w", item.Action, item.RecordType, err)
	}
	return nil
}

// List returns queued items in insertion order.
func (s *QueueStore) List(ctx context.Context) ([]model.SyncQueueItem, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+queueCols+` FROM sync_queue ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("list sync queue: %w", err)
	}
	defer rows.Close()

	var items []model.SyncQueueItem
	for rows.Next() {
		var it model.SyncQueueItem
		var recordType, action, payload string
		if err := rows.Scan(&it.ID, &recordType, &it.RecordID, &action, &payload, &it.OwnerCollectionID, &it.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan sync queue item: %w", err)
		}
		it.RecordType = model.RecordType(recordType)
		it.Action = model.SyncAction(action)
		it.Payload = []byte(payload)
		items = append(items, it)
	}
	return items, rows.Err()
}

func (s *QueueStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_queue`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count sync queue: %w", err)
	}
	return n, nil
}

func (s *QueueStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete sync queue item: %w", err)
	}
	return nil
}

// DeleteByCollection drops every queued item owned by collectionID.
func (s *QueueStore) DeleteByCollection(ctx context.Context, collectionID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE owner_collection_id = ?`, collectionID)
	if err != nil {
		return 0, fmt.Errorf("delete sync queue for collection: %w", err)
	}
	return res.RowsAffected()
}

// RekeyRecord points queued items for a record at its new id.
func (s *QueueStore) RekeyRecord(ctx context.Context, recordType model.RecordType, oldID, newID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sync_queue SET record_id = ? WHERE record_type = ? AND record_id = ?`,
		newID, string(recordType), oldID,
	)
	if err != nil {
		return fmt.Errorf("rekey sync queue items: %w", err)
	}
	return nil
}

// DeleteByRecord drops every queued item for one record.
func (s *QueueStore) DeleteByRecord(ctx context.Context, recordType model.RecordType, recordID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM sync_queue WHERE record_type = ? AND record_id = ?`,
		string(recordType), recordID,
	)
	if err != nil {
		return fmt.Errorf("delete sync queue items for record: %w", err)
	}
	return nil
}

// DeletedIDs returns the ids of records of one type with a queued delete.
func (s *QueueStore) DeletedIDs(ctx context.Context, recordType model.RecordType) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT record_id FROM sync_queue WHERE record_type = ? AND action = ?`,
		string(recordType), string(model.ActionDelete),
	)
	if err != nil {
		return nil, fmt.Errorf("list queued deletes: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan queued delete: %w", err)
		}
		ids[id] = true
	}
	return ids, rows.Err()
}
