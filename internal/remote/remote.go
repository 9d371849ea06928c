// Package remote talks to the authoritative record store.
package remote

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/dukerupert/famcal/internal/model"
)

// ErrNotFound is returned when the remote store has no such record.
var ErrNotFound = fmt.Errorf("remote: %w", model.ErrNotFound)

// StatusError is a non-2xx response other than 404.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("remote: status %d", e.Code)
	}
	return fmt.Sprintf("remote: status %d: %s", e.Code, e.Body)
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}

// Query filters a table listing. Empty fields are not applied.
type Query struct {
	OwnerCollectionID string
	EventID           string
	DateGTE           string
	DateLTE           string
	IsRecurring       *bool
}

func (q Query) values() url.Values {
	v := url.Values{}
	if q.OwnerCollectionID != "" {
		v.Set("owner_collection_id", q.OwnerCollectionID)
	}
	if q.EventID != "" {
		v.Set("event_id", q.EventID)
	}
	if q.DateGTE != "" {
		v.Set("date_gte", q.DateGTE)
	}
	if q.DateLTE != "" {
		v.Set("date_lte", q.DateLTE)
	}
	if q.IsRecurring != nil {
		if *q.IsRecurring {
			v.Set("is_recurring", "true")
		} else {
			v.Set("is_recurring", "false")
		}
	}
	return v
}

// match applies the query to a decoded record.
func (q Query) match(doc map[string]any) bool {
	if q.OwnerCollectionID != "" && stringField(doc, "owner_collection_id") != q.OwnerCollectionID {
		return false
	}
	if q.EventID != "" && stringField(doc, "event_id") != q.EventID {
		return false
	}
	date := stringField(doc, "date")
	if q.DateGTE != "" && date < q.DateGTE {
		return false
	}
	if q.DateLTE != "" && date > q.DateLTE {
		return false
	}
	if q.IsRecurring != nil {
		rec, _ := doc["is_recurring"].(bool)
		if rec != *q.IsRecurring {
			return false
		}
	}
	return true
}

func stringField(doc map[string]any, key string) string {
	s, _ := doc[key].(string)
	return s
}

// Bool returns a pointer to b, for Query.IsRecurring.
func Bool(b bool) *bool { return &b }
