package store

import (
	"time"

	metrics "github.com/docker/go-metrics"
	"github.com/intentkit/intentkit/api"
	"github.com/intentkit/intentkit/log"
	"github.com/intentkit/intentkit/manager/state"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var _ state.IntentStore = &MemoryStore{}

// SetDelegate registers the delegate that receives Process and Notify
// callbacks.
func (s *MemoryStore) SetDelegate(d state.StoreDelegate) error {
	s.delegateLock.Lock()
	defer s.delegateLock.Unlock()
	if s.delegate != nil && s.delegate != d {
		return state.ErrDelegateSet
	}
	s.delegate = d
	return nil
}

// UnsetDelegate removes d if it is the registered delegate.
func (s *MemoryStore) UnsetDelegate(d state.StoreDelegate) {
	s.delegateLock.Lock()
	defer s.delegateLock.Unlock()
	if s.delegate == d {
		s.delegate = nil
	}
}

func (s *MemoryStore) getDelegate() state.StoreDelegate {
	s.delegateLock.RLock()
	defer s.delegateLock.RUnlock()
	return s.delegate
}

// Write stores data as the current record of its intent if the update is
// acceptable. It returns state.ErrStaleWrite when the store kept the current
// record.
func (s *MemoryStore) Write(data *api.IntentData) error {
	accepted, err := s.write([]*api.IntentData{data})
	if err != nil {
		return err
	}
	if accepted == 0 {
		return state.ErrStaleWrite
	}
	return nil
}

// BatchWrite writes the records in order in a single transaction. Records
// that lose the version check are dropped. The delegate is notified after the
// transaction committed, outside of the update lock.
func (s *MemoryStore) BatchWrite(batch []*api.IntentData) error {
	_, err := s.write(batch)
	return err
}

func (s *MemoryStore) write(batch []*api.IntentData) (int, error) {
	defer metrics.StartTimer(writeLatencyTimer)()

	var (
		notify   []api.IntentEvent
		accepted int
	)
	err := s.update(func(tx Tx) error {
		for _, data := range batch {
			if data == nil || data.Intent == nil {
				return errors.New("cannot write a record without an intent")
			}
			ok, err := writeRecord(tx, data)
			if err != nil {
				return errors.Wrapf(err, "writing intent %s", data.Key())
			}
			if !ok {
				log.L.WithFields(logrus.Fields{
					"intent.key":     data.Key().String(),
					"intent.state":   data.State.String(),
					"intent.version": data.Version.String(),
				}).Debug("dropped stale intent write")
				continue
			}
			accepted++
			if ev, ok := api.EventFor(data); ok {
				ev.Subject = data.Copy()
				notify = append(notify, ev)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if d := s.getDelegate(); d != nil {
		for _, ev := range notify {
			d.Notify(ev)
		}
	}
	return accepted, nil
}

func writeRecord(tx Tx, data *api.IntentData) (bool, error) {
	key := data.Key()
	current := GetIntent(tx, key)
	if !api.IsUpdateAcceptable(current, data) {
		return false, nil
	}

	record := data.Copy()
	// origins only matter while an operation is in flight
	record.Origin = nil

	switch {
	case data.State == api.IntentStatePurgeReq:
		if current != nil {
			if err := DeleteIntent(tx, key); err != nil {
				return false, err
			}
		}
	case current == nil:
		if err := CreateIntent(tx, record); err != nil {
			return false, err
		}
	default:
		if err := UpdateIntent(tx, record); err != nil {
			return false, err
		}
	}

	// a request is done once a record of the same or a newer version is
	// written
	if pending := GetPending(tx, key); pending != nil && !pending.Version.IsNewerThan(data.Version) {
		if err := DeletePending(tx, key); err != nil {
			return false, err
		}
	}
	return true, nil
}

// AddPending queues a request. The delegate's Process callback is invoked
// when the request is accepted, followed by a Notify for install and
// withdraw requests carrying a new version.
func (s *MemoryStore) AddPending(data *api.IntentData) error {
	defer metrics.StartTimer(pendingLatencyTimer)()

	if data == nil || data.Intent == nil {
		return errors.New("cannot queue a request without an intent")
	}

	data = data.Copy()
	data.Origin = nil
	if data.Version.IsZero() {
		data.Version = s.clock.Next()
	} else {
		s.clock.Observe(data.Version)
	}

	var accepted, fresh bool
	err := s.update(func(tx Tx) error {
		existing := GetPending(tx, data.Key())
		if existing != nil && existing.Version.IsNewerThan(data.Version) {
			return nil
		}
		accepted = true
		fresh = existing == nil || existing.Version.IsOlderThan(data.Version)
		return PutPending(tx, data)
	})
	if err != nil {
		return errors.Wrapf(err, "queueing request for intent %s", data.Key())
	}
	if !accepted {
		log.L.WithField("intent.key", data.Key().String()).Debug("newer request already pending")
		return nil
	}

	if d := s.getDelegate(); d != nil {
		d.Process(data.Copy())
		if fresh && data.State != api.IntentStatePurgeReq {
			if ev, ok := api.EventFor(data); ok {
				ev.Subject = data.Copy()
				d.Notify(ev)
			}
		}
	}
	return nil
}

// RemovePending drops the pending request of key if it has the given
// version.
func (s *MemoryStore) RemovePending(key api.Key, version api.Version) error {
	return s.update(func(tx Tx) error {
		pending := GetPending(tx, key)
		if pending == nil || pending.Version != version {
			return nil
		}
		return DeletePending(tx, key)
	})
}

// GetIntentData returns the current record of key, or nil.
func (s *MemoryStore) GetIntentData(key api.Key) *api.IntentData {
	var d *api.IntentData
	s.View(func(tx ReadTx) {
		d = GetIntent(tx, key)
	})
	return d
}

// GetPendingData returns the pending request of key, or nil.
func (s *MemoryStore) GetPendingData(key api.Key) *api.IntentData {
	var d *api.IntentData
	s.View(func(tx ReadTx) {
		d = GetPending(tx, key)
	})
	return d
}

// GetIntentDataAll returns every current record.
func (s *MemoryStore) GetIntentDataAll() []*api.IntentData {
	var list []*api.IntentData
	s.View(func(tx ReadTx) {
		var err error
		list, err = FindIntents(tx, All)
		if err != nil {
			log.L.WithError(err).Error("failed to list intents")
		}
	})
	return list
}

// GetPendingDataAll returns every pending request.
func (s *MemoryStore) GetPendingDataAll() []*api.IntentData {
	var list []*api.IntentData
	s.View(func(tx ReadTx) {
		var err error
		list, err = FindPending(tx, All)
		if err != nil {
			log.L.WithError(err).Error("failed to list pending intents")
		}
	})
	return list
}

// GetIntents returns the intents of every current record.
func (s *MemoryStore) GetIntents() []*api.Intent {
	records := s.GetIntentDataAll()
	intents := make([]*api.Intent, 0, len(records))
	for _, d := range records {
		intents = append(intents, d.Intent)
	}
	return intents
}

// GetIntentState returns the current state of key.
func (s *MemoryStore) GetIntentState(key api.Key) (api.IntentState, bool) {
	d := s.GetIntentData(key)
	if d == nil {
		return 0, false
	}
	return d.State, true
}

// GetInstallableIntents returns the installables of the current record of
// key.
func (s *MemoryStore) GetInstallableIntents(key api.Key) []*api.Intent {
	d := s.GetIntentData(key)
	if d == nil {
		return nil
	}
	return d.Installables
}

// IntentCount returns the number of current records.
func (s *MemoryStore) IntentCount() int {
	var n int
	s.View(func(tx ReadTx) {
		it, err := tx.(readTx).memDBTx.Get(tableIntent, indexID)
		if err != nil {
			return
		}
		for obj := it.Next(); obj != nil; obj = it.Next() {
			n++
		}
	})
	return n
}

// GetIntentDataOlderThan returns the current records whose version was
// issued at least age ago.
func (s *MemoryStore) GetIntentDataOlderThan(age time.Duration) []*api.IntentData {
	return s.olderThan(s.GetIntentDataAll(), age)
}

// GetPendingDataOlderThan returns the pending requests whose version was
// issued at least age ago.
func (s *MemoryStore) GetPendingDataOlderThan(age time.Duration) []*api.IntentData {
	return s.olderThan(s.GetPendingDataAll(), age)
}

func (s *MemoryStore) olderThan(records []*api.IntentData, age time.Duration) []*api.IntentData {
	var out []*api.IntentData
	for _, d := range records {
		if s.clock.Since(d.Version.Timestamp) >= age {
			out = append(out, d)
		}
	}
	return out
}

// Restore loads records into the current table without version checks or
// delegate callbacks, and advances the clock past every restored version.
// It is meant to be called before the store is handed to a manager.
func (s *MemoryStore) Restore(records []*api.IntentData) error {
	return s.update(func(tx Tx) error {
		for _, d := range records {
			if d == nil || d.Intent == nil {
				continue
			}
			s.clock.Observe(d.Version)
			if GetIntent(tx, d.Key()) == nil {
				if err := CreateIntent(tx, d); err != nil {
					return err
				}
				continue
			}
			if err := UpdateIntent(tx, d); err != nil {
				return err
			}
		}
		return nil
	})
}
