package store

import (
	memdb "github.com/hashicorp/go-memdb"
	"github.com/intentkit/intentkit/api"
	"github.com/intentkit/intentkit/manager/state"
)

// Object is a generic object that can be handled by the store.
type Object interface {
	ID() string                         // Get ID
	Version() api.Version               // Retrieve version information
	Copy() Object                       // Return a deep copy of this object
	EventCreate() state.Event           // Return a creation event, or nil
	EventUpdate(old Object) state.Event // Return an update event, or nil
	EventDelete() state.Event           // Return a deletion event, or nil
}

// ObjectStoreConfig provides the necessary methods to store a particular object
// type inside MemoryStore.
type ObjectStoreConfig struct {
	Name  string
	Table *memdb.TableSchema
}
