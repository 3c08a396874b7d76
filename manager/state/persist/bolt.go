// Package persist keeps a copy of the current intent records in a bolt
// database so they survive restarts.
package persist

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/docker/go-events"
	"github.com/intentkit/intentkit/api"
	"github.com/intentkit/intentkit/log"
	"github.com/intentkit/intentkit/manager/state"
	"github.com/intentkit/intentkit/watch"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

// Layout:
//
//  bucket(v1) -> bucket(intents) ->
//			<app>/<name> (intent record json)
var (
	bucketKeyStorageVersion = []byte("v1")
	bucketKeyIntents        = []byte("intents")
)

// maxBatch bounds the number of store events written in one bolt
// transaction.
const maxBatch = 256

type bucketKeyPath [][]byte

func (bk bucketKeyPath) String() string {
	return string(bytes.Join([][]byte(bk), []byte("/")))
}

// Source is the store being persisted.
type Source interface {
	WatchQueue() *watch.Queue
	GetIntentDataAll() []*api.IntentData
}

// DB holds the persisted records.
type DB struct {
	db *bolt.DB
}

// Open opens or creates the database at path.
func Open(path string) (*DB, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "open intent database %s", path)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := createBucketIfNotExists(tx, bucketKeyStorageVersion, bucketKeyIntents)
		return err
	}); err != nil {
		db.Close()
		return nil, err
	}
	return &DB{db: db}, nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Load returns every persisted record.
func (d *DB) Load() ([]*api.IntentData, error) {
	var records []*api.IntentData
	err := d.db.View(func(tx *bolt.Tx) error {
		bkt := getIntentsBucket(tx)
		if bkt == nil {
			return nil
		}
		return bkt.ForEach(func(k, v []byte) error {
			var data api.IntentData
			if err := json.Unmarshal(v, &data); err != nil {
				return errors.Wrapf(err, "decode intent %s", k)
			}
			records = append(records, &data)
			return nil
		})
	})
	return records, err
}

func putIntent(tx *bolt.Tx, data *api.IntentData) error {
	p, err := json.Marshal(data)
	if err != nil {
		return errors.Wrapf(err, "encode intent %s", data.Key())
	}
	return getIntentsBucket(tx).Put([]byte(data.Key().String()), p)
}

func deleteIntent(tx *bolt.Tx, key api.Key) error {
	return getIntentsBucket(tx).Delete([]byte(key.String()))
}

// Sync makes the database hold exactly records.
func (d *DB) Sync(records []*api.IntentData) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		keep := make(map[string]struct{}, len(records))
		for _, data := range records {
			keep[data.Key().String()] = struct{}{}
			if err := putIntent(tx, data); err != nil {
				return err
			}
		}
		var stale [][]byte
		if err := getIntentsBucket(tx).ForEach(func(k, v []byte) error {
			if _, ok := keep[string(k)]; !ok {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		}); err != nil {
			return err
		}
		for _, k := range stale {
			if err := getIntentsBucket(tx).Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// apply writes a batch of store events.
func (d *DB) apply(batch []events.Event) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		for _, ev := range batch {
			var err error
			switch v := ev.(type) {
			case state.EventCreateIntent:
				err = putIntent(tx, v.Intent)
			case state.EventUpdateIntent:
				err = putIntent(tx, v.Intent)
			case state.EventDeleteIntent:
				err = deleteIntent(tx, v.Intent.Key())
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// Snapshotter writes every change of the current records to a DB.
type Snapshotter struct {
	db     *DB
	source Source

	stopChan chan struct{}
	doneChan chan struct{}
	stopOnce sync.Once
}

// NewSnapshotter returns a snapshotter copying source into db.
func NewSnapshotter(db *DB, source Source) *Snapshotter {
	return &Snapshotter{
		db:       db,
		source:   source,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Run syncs the database with the store, then follows the store until Stop
// is called or ctx is cancelled.
func (s *Snapshotter) Run(ctx context.Context) error {
	defer close(s.doneChan)
	ctx = log.WithModule(ctx, "persist")

	eventq, cancel := state.Watch(s.source.WatchQueue(),
		state.EventCreateIntent{},
		state.EventUpdateIntent{},
		state.EventDeleteIntent{},
	)
	defer cancel()

	if err := s.db.Sync(s.source.GetIntentDataAll()); err != nil {
		return errors.Wrap(err, "initial intent snapshot")
	}

	for {
		select {
		case ev := <-eventq:
			batch := []events.Event{ev}
		drain:
			for len(batch) < maxBatch {
				select {
				case ev := <-eventq:
					batch = append(batch, ev)
				default:
					break drain
				}
			}
			if err := s.db.apply(batch); err != nil {
				log.G(ctx).WithError(err).Error("failed to persist intent records")
			}
		case <-s.stopChan:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Stop stops the snapshotter and waits for Run to return.
func (s *Snapshotter) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
	<-s.doneChan
}

func getIntentsBucket(tx *bolt.Tx) *bolt.Bucket {
	return getBucket(tx, bucketKeyStorageVersion, bucketKeyIntents)
}

func createBucketIfNotExists(tx *bolt.Tx, keys ...[]byte) (*bolt.Bucket, error) {
	bkt, err := tx.CreateBucketIfNotExists(keys[0])
	if err != nil {
		return nil, errors.Wrapf(err, "create bucket %s", bucketKeyPath(keys[:1]))
	}
	for i, key := range keys[1:] {
		bkt, err = bkt.CreateBucketIfNotExists(key)
		if err != nil {
			return nil, errors.Wrapf(err, "create bucket %s", bucketKeyPath(keys[:i+2]))
		}
	}
	return bkt, nil
}

func getBucket(tx *bolt.Tx, keys ...[]byte) *bolt.Bucket {
	bkt := tx.Bucket(keys[0])
	for _, key := range keys[1:] {
		if bkt == nil {
			break
		}
		bkt = bkt.Bucket(key)
	}
	return bkt
}
