package state

import (
	"time"

	"github.com/intentkit/intentkit/api"
	"github.com/intentkit/intentkit/watch"
	"github.com/pkg/errors"
)

var (
	// ErrNotExist is returned when a record is not found.
	ErrNotExist = errors.New("object does not exist")

	// ErrInvalidFindBy is returned if an unrecognized type is passed to Find.
	ErrInvalidFindBy = errors.New("invalid find argument type")

	// ErrDelegateSet is returned when setting a store delegate while another
	// one is registered.
	ErrDelegateSet = errors.New("store delegate already set")

	// ErrStaleWrite is returned by Write when the record lost the version
	// check against the current record of its intent.
	ErrStaleWrite = errors.New("stale intent record")
)

// StoreDelegate receives callbacks from an IntentStore.
type StoreDelegate interface {
	// Process is called with every request accepted into the pending
	// map. It must not block.
	Process(data *api.IntentData)
	// Notify is called after a write moved an intent into a state that
	// maps to an event.
	Notify(event api.IntentEvent)
}

// IntentStore keeps the current record of every intent and the requests that
// are waiting to be processed.
//
// Writes are version gated with api.IsUpdateAcceptable: a record is only
// replaced by a newer version, or by an allowed transition at the same
// version. Write reports a rejected record with ErrStaleWrite; BatchWrite
// drops rejected records silently.
type IntentStore interface {
	// Write stores data as the current record of its intent.
	Write(data *api.IntentData) error
	// BatchWrite writes the records in order.
	BatchWrite(data []*api.IntentData) error
	// AddPending queues a request. A zero version is replaced with a
	// fresh one. The request is kept unless a newer request for the
	// same intent is already pending.
	AddPending(data *api.IntentData) error
	// RemovePending drops the pending request of key if it has the given
	// version.
	RemovePending(key api.Key, version api.Version) error

	GetIntentData(key api.Key) *api.IntentData
	GetPendingData(key api.Key) *api.IntentData
	GetIntentDataAll() []*api.IntentData
	GetPendingDataAll() []*api.IntentData
	GetIntents() []*api.Intent
	GetIntentState(key api.Key) (api.IntentState, bool)
	GetInstallableIntents(key api.Key) []*api.Intent
	IntentCount() int
	// GetIntentDataOlderThan returns the current records whose version was
	// issued more than age ago.
	GetIntentDataOlderThan(age time.Duration) []*api.IntentData
	// GetPendingDataOlderThan returns the pending requests whose version
	// was issued more than age ago.
	GetPendingDataOlderThan(age time.Duration) []*api.IntentData

	SetDelegate(d StoreDelegate) error
	UnsetDelegate(d StoreDelegate)

	// WatchQueue returns the queue store change events are published on.
	WatchQueue() *watch.Queue
}
