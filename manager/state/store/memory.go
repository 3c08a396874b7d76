package store

import (
	"fmt"
	"sync"

	metrics "github.com/docker/go-metrics"
	memdb "github.com/hashicorp/go-memdb"
	"github.com/intentkit/intentkit/api"
	"github.com/intentkit/intentkit/manager/state"
	"github.com/intentkit/intentkit/watch"
)

const (
	indexID    = "id"
	indexState = "state"
	indexApp   = "app"
)

var (
	objectStorers []ObjectStoreConfig
	schema        = &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{},
	}

	// Timers to track how long various store operations take
	updateLatencyTimer  metrics.Timer
	viewLatencyTimer    metrics.Timer
	writeLatencyTimer   metrics.Timer
	pendingLatencyTimer metrics.Timer
)

func init() {
	ns := metrics.NewNamespace("intentkit", "store", nil)
	updateLatencyTimer = ns.NewTimer("update_tx_latency", "Store update transaction latency.")
	viewLatencyTimer = ns.NewTimer("view_tx_latency", "Store view transaction latency.")
	writeLatencyTimer = ns.NewTimer("batch_write_latency", "Latency of writing a batch of intent records.")
	pendingLatencyTimer = ns.NewTimer("add_pending_latency", "Latency of queueing an intent request.")
	metrics.Register(ns)
}

func register(os ObjectStoreConfig) {
	objectStorers = append(objectStorers, os)
	schema.Tables[os.Name] = os.Table
}

// MemoryStore is a concurrency-safe, in-memory implementation of the
// IntentStore interface.
type MemoryStore struct {
	// updateLock must be held during an update transaction.
	updateLock sync.Mutex

	memDB *memdb.MemDB
	queue *watch.Queue
	clock *api.Clock

	delegateLock sync.RWMutex
	delegate     state.StoreDelegate
}

// NewMemoryStore returns an in-memory store. Versions of queued requests are
// issued by clock.
func NewMemoryStore(clock *api.Clock) *MemoryStore {
	memDB, err := memdb.NewMemDB(schema)
	if err != nil {
		// This shouldn't fail
		panic(err)
	}

	if clock == nil {
		clock = api.NewClock(nil)
	}

	return &MemoryStore{
		memDB: memDB,
		queue: watch.NewQueue(),
		clock: clock,
	}
}

// Close closes the memory store and frees its associated resources.
func (s *MemoryStore) Close() error {
	return s.queue.Close()
}

// Clock returns the clock the store issues versions from.
func (s *MemoryStore) Clock() *api.Clock {
	return s.clock
}

func fromArgs(args ...interface{}) ([]byte, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("must provide only a single argument")
	}
	arg, ok := args[0].(string)
	if !ok {
		return nil, fmt.Errorf("argument must be a string: %#v", args[0])
	}
	// Add the null character as a terminator
	arg += "\x00"
	return []byte(arg), nil
}

// ReadTx is a read transaction. Note that transaction does not imply
// any internal batching. It only means that the transaction presents a
// consistent view of the data that cannot be affected by other
// transactions.
type ReadTx interface {
	lookup(table, index, id string) Object
	get(table, id string) Object
	find(table string, by By, cb func(Object)) error
}

type readTx struct {
	memDBTx *memdb.Txn
}

// View executes a read transaction.
func (s *MemoryStore) View(cb func(ReadTx)) {
	defer metrics.StartTimer(viewLatencyTimer)()
	memDBTx := s.memDB.Txn(false)

	readTx := readTx{
		memDBTx: memDBTx,
	}
	cb(readTx)
	memDBTx.Commit()
}

// Tx is a read/write transaction. Note that transaction does not imply
// any internal batching. The purpose of this transaction is to give the
// user a guarantee that its changes won't be visible to other transactions
// until the transaction is over.
type Tx interface {
	ReadTx
	create(table string, o Object) error
	update(table string, o Object) error
	delete(table, id string) error
}

type tx struct {
	readTx
	changelist []state.Event
}

func (s *MemoryStore) update(cb func(Tx) error) error {
	defer metrics.StartTimer(updateLatencyTimer)()
	s.updateLock.Lock()
	defer s.updateLock.Unlock()

	memDBTx := s.memDB.Txn(true)

	tx := tx{readTx: readTx{memDBTx: memDBTx}}

	if err := cb(&tx); err != nil {
		memDBTx.Abort()
		return err
	}

	memDBTx.Commit()

	for _, c := range tx.changelist {
		s.queue.Publish(c)
	}
	if len(tx.changelist) != 0 {
		s.queue.Publish(state.EventCommit{})
	}
	return nil
}

func (tx *tx) appendEvent(ev state.Event) {
	if ev != nil {
		tx.changelist = append(tx.changelist, ev)
	}
}

// lookup is an internal typed wrapper around memdb.
func (tx readTx) lookup(table, index, id string) Object {
	j, err := tx.memDBTx.First(table, index, id)
	if err != nil {
		return nil
	}
	if j != nil {
		return j.(Object)
	}
	return nil
}

// create adds a new object to the store.
func (tx *tx) create(table string, o Object) error {
	copy := o.Copy()
	err := tx.memDBTx.Insert(table, copy)
	if err == nil {
		tx.appendEvent(copy.EventCreate())
	}
	return err
}

// update replaces an existing object in the store.
// Returns ErrNotExist if the object doesn't exist.
func (tx *tx) update(table string, o Object) error {
	old := tx.lookup(table, indexID, o.ID())
	if old == nil {
		return state.ErrNotExist
	}

	copy := o.Copy()
	err := tx.memDBTx.Insert(table, copy)
	if err == nil {
		tx.appendEvent(copy.EventUpdate(old))
	}
	return err
}

// delete removes an object from the store.
// Returns ErrNotExist if the object doesn't exist.
func (tx *tx) delete(table, id string) error {
	n := tx.lookup(table, indexID, id)
	if n == nil {
		return state.ErrNotExist
	}

	err := tx.memDBTx.Delete(table, n)
	if err == nil {
		tx.appendEvent(n.EventDelete())
	}
	return err
}

// get looks up an object by ID.
// Returns nil if the object doesn't exist.
func (tx readTx) get(table, id string) Object {
	o := tx.lookup(table, indexID, id)
	if o == nil {
		return nil
	}
	return o.Copy()
}

// find selects a set of objects calls a callback for each matching object.
func (tx readTx) find(table string, by By, cb func(Object)) error {
	fromResultIterator := func(it memdb.ResultIterator) {
		for {
			obj := it.Next()
			if obj == nil {
				break
			}
			cb(obj.(Object).Copy())
		}
	}

	var (
		it  memdb.ResultIterator
		err error
	)
	switch v := by.(type) {
	case byAll:
		it, err = tx.memDBTx.Get(table, indexID)
	case byState:
		it, err = tx.memDBTx.Get(table, indexState, api.IntentState(v).String())
	case byApp:
		it, err = tx.memDBTx.Get(table, indexApp, string(v))
	default:
		return state.ErrInvalidFindBy
	}
	if err != nil {
		return err
	}
	fromResultIterator(it)
	return nil
}

// WatchQueue returns the publish/subscribe queue.
func (s *MemoryStore) WatchQueue() *watch.Queue {
	return s.queue
}
