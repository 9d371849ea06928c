package offline

import "github.com/dukerupert/famcal/internal/model"

// strategy is how a call reaches its data.
type strategy int

const (
	// localOnly writes the local store and never queues. Used for
	// collections that only exist on this device.
	localOnly strategy = iota
	// localQueued writes the local store and queues the mutation for replay.
	localQueued
	// remoteFirst writes the remote store, falling back to localQueued.
	remoteFirst
)

func (s strategy) String() string {
	switch s {
	case localOnly:
		return "local-only"
	case localQueued:
		return "local-queued"
	default:
		return "remote-first"
	}
}

// routes is indexed by [locally originated][online].
var routes = [2][2]strategy{
	{localQueued, remoteFirst},
	{localOnly, localOnly},
}

func route(collectionID string, online bool) strategy {
	return routes[b2i(model.IsLocalID(collectionID))][b2i(online)]
}

// routeRecord is route for a mutation of an existing record. A record that
// has never reached the remote store cannot be written there yet.
func routeRecord(collectionID, recordID string, online bool) strategy {
	s := route(collectionID, online)
	if s == remoteFirst && model.IsLocalID(recordID) {
		return localQueued
	}
	return s
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}
