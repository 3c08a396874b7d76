package store

import (
	memdb "github.com/hashicorp/go-memdb"
	"github.com/intentkit/intentkit/api"
	"github.com/intentkit/intentkit/manager/state"
)

const (
	tableIntent  = "intent"
	tablePending = "pending"
)

func init() {
	register(ObjectStoreConfig{
		Name: tableIntent,
		Table: &memdb.TableSchema{
			Name: tableIntent,
			Indexes: map[string]*memdb.IndexSchema{
				indexID: {
					Name:    indexID,
					Unique:  true,
					Indexer: recordIndexerByKey{},
				},
				indexState: {
					Name:    indexState,
					Indexer: recordIndexerByState{},
				},
				indexApp: {
					Name:    indexApp,
					Indexer: recordIndexerByApp{},
				},
			},
		},
	})
	register(ObjectStoreConfig{
		Name: tablePending,
		Table: &memdb.TableSchema{
			Name: tablePending,
			Indexes: map[string]*memdb.IndexSchema{
				indexID: {
					Name:    indexID,
					Unique:  true,
					Indexer: recordIndexerByKey{},
				},
				indexState: {
					Name:    indexState,
					Indexer: recordIndexerByState{},
				},
				indexApp: {
					Name:    indexApp,
					Indexer: recordIndexerByApp{},
				},
			},
		},
	})
}

type intentEntry struct {
	*api.IntentData
}

func (e intentEntry) ID() string {
	return e.Key().String()
}

func (e intentEntry) Version() api.Version {
	return e.IntentData.Version
}

func (e intentEntry) Copy() Object {
	return intentEntry{e.IntentData.Copy()}
}

func (e intentEntry) EventCreate() state.Event {
	return state.EventCreateIntent{Intent: e.IntentData}
}

func (e intentEntry) EventUpdate(old Object) state.Event {
	return state.EventUpdateIntent{Intent: e.IntentData, Old: old.(intentEntry).IntentData}
}

func (e intentEntry) EventDelete() state.Event {
	return state.EventDeleteIntent{Intent: e.IntentData}
}

// pendingEntry is a queued request. Pending requests share the record type
// with current records but live in their own table.
type pendingEntry struct {
	*api.IntentData
}

func (e pendingEntry) ID() string {
	return e.Key().String()
}

func (e pendingEntry) Version() api.Version {
	return e.IntentData.Version
}

func (e pendingEntry) Copy() Object {
	return pendingEntry{e.IntentData.Copy()}
}

func (e pendingEntry) EventCreate() state.Event {
	return state.EventPendingIntent{Intent: e.IntentData}
}

func (e pendingEntry) EventUpdate(old Object) state.Event {
	return state.EventPendingIntent{Intent: e.IntentData}
}

func (e pendingEntry) EventDelete() state.Event {
	return nil
}

// CreateIntent adds the first current record of an intent.
func CreateIntent(tx Tx, d *api.IntentData) error {
	return tx.create(tableIntent, intentEntry{d})
}

// UpdateIntent replaces the current record of an intent.
// Returns ErrNotExist if the intent doesn't exist.
func UpdateIntent(tx Tx, d *api.IntentData) error {
	return tx.update(tableIntent, intentEntry{d})
}

// DeleteIntent removes the current record of an intent.
// Returns ErrNotExist if the intent doesn't exist.
func DeleteIntent(tx Tx, key api.Key) error {
	return tx.delete(tableIntent, key.String())
}

// GetIntent looks up the current record of an intent.
// Returns nil if the intent doesn't exist.
func GetIntent(tx ReadTx, key api.Key) *api.IntentData {
	o := tx.get(tableIntent, key.String())
	if o == nil {
		return nil
	}
	return o.(intentEntry).IntentData
}

// FindIntents selects a set of current records and returns them.
func FindIntents(tx ReadTx, by By) ([]*api.IntentData, error) {
	switch by.(type) {
	case byAll, byState, byApp:
	default:
		return nil, state.ErrInvalidFindBy
	}

	list := []*api.IntentData{}
	err := tx.find(tableIntent, by, func(o Object) {
		list = append(list, o.(intentEntry).IntentData)
	})
	return list, err
}

// PutPending inserts or replaces the pending request of an intent.
func PutPending(tx Tx, d *api.IntentData) error {
	if tx.lookup(tablePending, indexID, d.Key().String()) == nil {
		return tx.create(tablePending, pendingEntry{d})
	}
	return tx.update(tablePending, pendingEntry{d})
}

// DeletePending removes the pending request of an intent.
// Returns ErrNotExist if no request is pending.
func DeletePending(tx Tx, key api.Key) error {
	return tx.delete(tablePending, key.String())
}

// GetPending looks up the pending request of an intent.
// Returns nil if no request is pending.
func GetPending(tx ReadTx, key api.Key) *api.IntentData {
	o := tx.get(tablePending, key.String())
	if o == nil {
		return nil
	}
	return o.(pendingEntry).IntentData
}

// FindPending selects a set of pending requests and returns them.
func FindPending(tx ReadTx, by By) ([]*api.IntentData, error) {
	switch by.(type) {
	case byAll, byState, byApp:
	default:
		return nil, state.ErrInvalidFindBy
	}

	list := []*api.IntentData{}
	err := tx.find(tablePending, by, func(o Object) {
		list = append(list, o.(pendingEntry).IntentData)
	})
	return list, err
}

func recordOf(obj interface{}) *api.IntentData {
	switch v := obj.(type) {
	case intentEntry:
		return v.IntentData
	case pendingEntry:
		return v.IntentData
	}
	panic("unexpected type passed to FromObject")
}

type recordIndexerByKey struct{}

func (ri recordIndexerByKey) FromArgs(args ...interface{}) ([]byte, error) {
	return fromArgs(args...)
}

func (ri recordIndexerByKey) FromObject(obj interface{}) (bool, []byte, error) {
	d := recordOf(obj)

	// Add the null character as a terminator
	val := d.Key().String() + "\x00"
	return true, []byte(val), nil
}

type recordIndexerByState struct{}

func (ri recordIndexerByState) FromArgs(args ...interface{}) ([]byte, error) {
	return fromArgs(args...)
}

func (ri recordIndexerByState) FromObject(obj interface{}) (bool, []byte, error) {
	d := recordOf(obj)

	// Add the null character as a terminator
	return true, []byte(d.State.String() + "\x00"), nil
}

type recordIndexerByApp struct{}

func (ri recordIndexerByApp) FromArgs(args ...interface{}) ([]byte, error) {
	return fromArgs(args...)
}

func (ri recordIndexerByApp) FromObject(obj interface{}) (bool, []byte, error) {
	d := recordOf(obj)

	// Add the null character as a terminator
	return true, []byte(d.Key().AppID + "\x00"), nil
}
