package model

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// LocalPrefix marks ids minted on the device while it could not reach the
// remote store.
const LocalPrefix = "local_"

var isoDateSuffix = regexp.MustCompile(`-(\d{4}-\d{2}-\d{2})$`)

func NewLocalID() string {
	return LocalPrefix + uuid.NewString()
}

func NewRemoteID() string {
	return uuid.NewString()
}

func IsLocalID(id string) bool {
	return strings.HasPrefix(id, LocalPrefix)
}

// StripLocalPrefix returns the id a locally minted record should carry once
// it exists remotely.
func StripLocalPrefix(id string) string {
	return strings.TrimPrefix(id, LocalPrefix)
}

// InstanceID builds the synthetic id of one occurrence of a recurring event.
func InstanceID(parentID, date string) string {
	return parentID + "-" + date
}

// SplitInstanceID detects a synthetic occurrence id. ok is false for plain ids.
func SplitInstanceID(id string) (parentID, date string, ok bool) {
	m := isoDateSuffix.FindStringSubmatch(id)
	if m == nil {
		return "", "", false
	}
	parentID = id[:len(id)-len(m[0])]
	if parentID == "" {
		return "", "", false
	}
	if _, err := ParseDate(m[1]); err != nil {
		return "", "", false
	}
	return parentID, m[1], true
}
