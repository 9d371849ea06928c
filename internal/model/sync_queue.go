package model

import (
	"encoding/json"
	"time"
)

type SyncAction string

const (
	ActionInsert SyncAction = "insert"
	ActionUpdate SyncAction = "update"
	ActionDelete SyncAction = "delete"
)

// SyncQueueItem is a mutation applied locally that still has to be replayed
// against the remote store.
type SyncQueueItem struct {
	ID                string          `json:"id"`
	RecordType        RecordType      `json:"record_type"`
	RecordID          string          `json:"record_id"`
	Action            SyncAction      `json:"action"`
	Payload           json.RawMessage `json:"payload"`
	OwnerCollectionID string          `json:"owner_collection_id"`
	CreatedAt         time.Time       `json:"created_at"`
}
