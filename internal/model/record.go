package model

// RecordType names a collection in both the local and the remote store.
type RecordType string

const (
	RecordFamilies      RecordType = "families"
	RecordFamilyMembers RecordType = "family_members"
	RecordEvents        RecordType = "events"
	RecordTags          RecordType = "tags"
	RecordEventTags     RecordType = "event_tags"
)

// Secondary index names maintained by the local store.
const (
	IndexOwner  = "owner_collection_id"
	IndexEvent  = "event_id"
	IndexTag    = "tag_id"
	IndexFamily = "family_id"
)

// Record is anything the local store can persist.
type Record interface {
	RecordID() string
	Indexes() map[string]string
}
