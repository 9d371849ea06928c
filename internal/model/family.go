package model

import "time"

// Family is the collection that owns events and tags.
type Family struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

func (f Family) RecordID() string { return f.ID }

func (f Family) Indexes() map[string]string { return nil }

type FamilyMember struct {
	ID        string    `json:"id"`
	FamilyID  string    `json:"family_id"`
	UserID    string    `json:"user_id"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

const RoleOwner = "owner"

func (m FamilyMember) RecordID() string { return m.ID }

func (m FamilyMember) Indexes() map[string]string {
	return map[string]string{IndexFamily: m.FamilyID}
}
