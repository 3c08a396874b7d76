package intent

import (
	"sync"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/intentkit/intentkit/api"
)

// accumulator collects requests into batches. Only the newest request per
// key is kept. A batch is flushed when maxBatch keys are queued or maxIdle
// after its first request arrived, whichever comes first. Batches are
// processed one at a time on the accumulator goroutine.
type accumulator struct {
	maxBatch int
	maxIdle  time.Duration
	clock    clock.Clock
	process  func(batch []*api.IntentData)

	mu    sync.Mutex
	items map[api.Key]*api.IntentData
	order []api.Key

	notify   chan struct{}
	stopChan chan struct{}
	doneChan chan struct{}
	stopOnce sync.Once

	// tickSignal, if non-nil, receives a value after every flush. Used by
	// tests only.
	tickSignal chan struct{}
}

func newAccumulator(cfg *Config, process func(batch []*api.IntentData)) *accumulator {
	return &accumulator{
		maxBatch: cfg.MaxBatch,
		maxIdle:  cfg.MaxIdle,
		clock:    cfg.Clock,
		process:  process,
		items:    make(map[api.Key]*api.IntentData),
		notify:   make(chan struct{}, 1),
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// add queues data. It never blocks.
func (a *accumulator) add(data *api.IntentData) {
	key := data.Key()

	a.mu.Lock()
	existing, ok := a.items[key]
	if !ok {
		a.order = append(a.order, key)
	}
	if !ok || !existing.Version.IsNewerThan(data.Version) {
		a.items[key] = data
	}
	a.mu.Unlock()

	select {
	case a.notify <- struct{}{}:
	default:
	}
}

func (a *accumulator) size() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.items)
}

func (a *accumulator) drain() []*api.IntentData {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.order) == 0 {
		return nil
	}
	batch := make([]*api.IntentData, 0, len(a.order))
	for _, key := range a.order {
		batch = append(batch, a.items[key])
	}
	a.items = make(map[api.Key]*api.IntentData)
	a.order = nil
	return batch
}

func (a *accumulator) run() {
	defer close(a.doneChan)

	var (
		timer  clock.Timer
		timerC <-chan time.Time
	)
	stopTimer := func() {
		if timer != nil {
			timer.Stop()
			timer = nil
			timerC = nil
		}
	}

	for {
		select {
		case <-a.notify:
			n := a.size()
			if n == 0 {
				continue
			}
			if n >= a.maxBatch {
				stopTimer()
				a.flush()
				continue
			}
			if timer == nil {
				timer = a.clock.NewTimer(a.maxIdle)
				timerC = timer.C()
			}
		case <-timerC:
			timer = nil
			timerC = nil
			a.flush()
		case <-a.stopChan:
			stopTimer()
			a.flush()
			return
		}
	}
}

func (a *accumulator) flush() {
	if batch := a.drain(); len(batch) > 0 {
		a.process(batch)
	}

	if a.tickSignal != nil {
		select {
		case a.tickSignal <- struct{}{}:
		default:
		}
	}
}

// stop flushes what is queued and waits for the accumulator goroutine to
// exit.
func (a *accumulator) stop() {
	a.stopOnce.Do(func() {
		close(a.stopChan)
	})
	<-a.doneChan
}
