package model

import "time"

type Tag struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	Color             string    `json:"color"`
	OwnerCollectionID string    `json:"owner_collection_id"`
	IsPending         bool      `json:"is_pending,omitempty"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func (t Tag) RecordID() string { return t.ID }

func (t Tag) Indexes() map[string]string {
	return map[string]string{IndexOwner: t.OwnerCollectionID}
}

// TagAssignment links an event to a tag.
type TagAssignment struct {
	ID                string `json:"id"`
	EventID           string `json:"event_id"`
	TagID             string `json:"tag_id"`
	OwnerCollectionID string `json:"owner_collection_id"`
}

func (a TagAssignment) RecordID() string { return a.ID }

func (a TagAssignment) Indexes() map[string]string {
	return map[string]string{
		IndexOwner: a.OwnerCollectionID,
		IndexEvent: a.EventID,
		IndexTag:   a.TagID,
	}
}
