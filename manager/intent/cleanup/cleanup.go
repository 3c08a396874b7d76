// Package cleanup retries intents that got stuck or failed to install.
//
// A periodic poll re-queues requests and in-flight operations that did not
// make progress within one period, and resubmits CORRUPT intents that are
// below the retry threshold. CORRUPT events are additionally retried as soon
// as they are received.
package cleanup

import (
	"context"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/intentkit/intentkit/api"
	"github.com/intentkit/intentkit/log"
	"github.com/intentkit/intentkit/manager/event"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// IntentService is the part of the intent manager used to resubmit intents.
type IntentService interface {
	Submit(intent *api.Intent) error
	Withdraw(intent *api.Intent) error
	Purge(intent *api.Intent) error
	AddPending(data *api.IntentData) error
	AddListener(l event.Listener) (cancel func())
}

// Store is the part of the intent store scanned by the poll.
type Store interface {
	GetIntentDataOlderThan(age time.Duration) []*api.IntentData
	GetPendingDataOlderThan(age time.Duration) []*api.IntentData
}

// Cleanup resubmits stuck and corrupt intents.
type Cleanup struct {
	service IntentService
	store   Store
	clock   clock.Clock

	mu      sync.Mutex
	config  Config
	limiter *rate.Limiter

	// runMu serializes Activate, Deactivate and Modify. It is never taken
	// by the poll loop.
	runMu          sync.Mutex
	ctx            context.Context
	active         bool
	cancelListener func()
	stopChan       chan struct{}
	doneChan       chan struct{}

	// tickSignal is a channel that, if non-nil and available, will be
	// written to after every poll. It exists solely for testing.
	tickSignal chan struct{}
}

// New creates a Cleanup. clk may be nil to use the real clock.
func New(service IntentService, store Store, clk clock.Clock, cfg *Config) *Cleanup {
	if clk == nil {
		clk = clock.NewClock()
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	config := cfg.withDefaults()
	return &Cleanup{
		service: service,
		store:   store,
		clock:   clk,
		config:  config,
		limiter: rate.NewLimiter(rate.Limit(config.ResubmitRate), config.ResubmitBurst),
	}
}

// Activate starts the poll loop and the event listener. It does nothing
// when the cleanup is disabled or already active.
func (c *Cleanup) Activate(ctx context.Context) {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	c.ctx = log.WithModule(ctx, "cleanup")
	c.activate()
}

func (c *Cleanup) activate() {
	if c.active {
		return
	}
	logger := log.G(c.ctx)
	config := c.currentConfig()
	if !config.Enabled {
		logger.Info("intent cleanup is disabled")
		return
	}

	c.active = true
	c.stopChan = make(chan struct{})
	c.doneChan = make(chan struct{})
	c.cancelListener = c.service.AddListener(c)
	go c.run(c.ctx, config.Period, c.stopChan, c.doneChan)

	logger.WithFields(logrus.Fields{
		"period":          config.Period.String(),
		"retry.threshold": config.RetryThreshold,
	}).Info("intent cleanup activated")
}

// Deactivate stops the poll loop and the event listener, and waits for a
// poll in progress to finish.
func (c *Cleanup) Deactivate() {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	c.deactivate()
}

func (c *Cleanup) deactivate() {
	if !c.active {
		return
	}
	c.active = false
	c.cancelListener()
	close(c.stopChan)
	<-c.doneChan
	log.G(c.ctx).Info("intent cleanup deactivated")
}

// Modify applies a new configuration. An active poll loop is restarted when
// the period changed, and stopped when the cleanup got disabled.
func (c *Cleanup) Modify(cfg *Config) {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	config := cfg.withDefaults()
	c.mu.Lock()
	old := c.config
	c.config = config
	c.mu.Unlock()

	c.limiter.SetLimitAt(c.clock.Now(), rate.Limit(config.ResubmitRate))
	c.limiter.SetBurstAt(c.clock.Now(), config.ResubmitBurst)

	if !c.active {
		return
	}
	if !config.Enabled || config.Period != old.Period {
		c.deactivate()
		c.activate()
	}
}

func (c *Cleanup) currentConfig() Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.config
}

func (c *Cleanup) run(ctx context.Context, period time.Duration, stop, done chan struct{}) {
	defer close(done)

	ticker := c.clock.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C():
			c.Clean()
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Clean runs one poll: stale requests and in-flight operations are queued
// again, and CORRUPT intents below the retry threshold are resubmitted.
// FAILED intents are never retried here. Records that changed within the
// last period are skipped.
func (c *Cleanup) Clean() {
	defer c.tick()
	cfg := c.currentConfig()

	for _, data := range c.store.GetPendingDataOlderThan(cfg.Period) {
		c.addPending(data)
	}

	for _, data := range c.store.GetIntentDataOlderThan(cfg.Period) {
		switch data.State {
		case api.IntentStateCorrupt:
			if data.ErrorCount < cfg.RetryThreshold {
				c.resubmit(data)
			}
		case api.IntentStateInstalling, api.IntentStateWithdrawing,
			api.IntentStateInstallReq, api.IntentStateWithdrawReq, api.IntentStatePurgeReq:
			c.addPending(data)
		}
	}
}

// Event resubmits CORRUPT intents below the retry threshold as soon as they
// are reported.
func (c *Cleanup) Event(ev api.IntentEvent) {
	if ev.Type != api.IntentEventCorrupt || ev.Subject == nil {
		return
	}
	if ev.Subject.ErrorCount >= c.currentConfig().RetryThreshold {
		return
	}
	c.resubmit(ev.Subject)
}

func (c *Cleanup) allow(data *api.IntentData) bool {
	if c.limiter.AllowN(c.clock.Now(), 1) {
		return true
	}
	log.L.WithField("intent.key", data.Key().String()).Debug("intent resubmission rate limited")
	return false
}

func (c *Cleanup) addPending(data *api.IntentData) {
	if !c.allow(data) {
		return
	}
	logger := log.L.WithFields(fields(data))
	logger.Debug("re-queueing stuck intent")
	if err := c.service.AddPending(data); err != nil {
		logger.WithError(err).Error("failed to re-queue intent")
	}
}

func (c *Cleanup) resubmit(data *api.IntentData) {
	if !c.allow(data) {
		return
	}
	logger := log.L.WithFields(fields(data))
	logger.WithField("intent.errors", data.ErrorCount).Info("resubmitting corrupt intent")

	var err error
	switch data.Request {
	case api.IntentStateWithdrawReq:
		err = c.service.Withdraw(data.Intent)
	case api.IntentStatePurgeReq:
		err = c.service.Purge(data.Intent)
	default:
		err = c.service.Submit(data.Intent)
	}
	if err != nil {
		logger.WithError(err).Error("failed to resubmit intent")
	}
}

func (c *Cleanup) tick() {
	// this signals that a poll has occurred. it exists solely for testing.
	if c.tickSignal != nil {
		select {
		case c.tickSignal <- struct{}{}:
		default:
		}
	}
}

func fields(data *api.IntentData) logrus.Fields {
	return logrus.Fields{
		"intent.key":     data.Key().String(),
		"intent.state":   data.State.String(),
		"intent.version": data.Version.String(),
	}
}
