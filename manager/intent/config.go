package intent

import (
	"time"

	"code.cloudfoundry.org/clock"
)

const (
	// DefaultMaxBatch is the default number of requests that triggers an
	// immediate batch.
	DefaultMaxBatch = 500
	// DefaultMaxIdle is the default time a request waits for more requests
	// to join its batch.
	DefaultMaxIdle = 10 * time.Millisecond
	// DefaultWorkers is the default number of intents compiled in parallel.
	DefaultWorkers = 8
	// DefaultOperationTimeout is the default time an installation holds
	// back newer requests for its intent.
	DefaultOperationTimeout = time.Minute
)

// Config is the configuration of a Manager.
type Config struct {
	// MaxBatch is the number of queued requests that flushes a batch
	// without waiting for MaxIdle.
	MaxBatch int `yaml:"max-batch"`
	// MaxIdle is the longest a queued request waits before its batch is
	// processed.
	MaxIdle time.Duration `yaml:"max-idle"`
	// Workers bounds the number of intents of a batch compiled
	// concurrently.
	Workers int `yaml:"workers"`
	// OperationTimeout bounds how long an installation that never
	// completes keeps newer requests for the same intent waiting.
	OperationTimeout time.Duration `yaml:"operation-timeout"`
	// SynchronousEvents delivers events to listeners before the store
	// write that caused them returns.
	SynchronousEvents bool `yaml:"synchronous-events"`

	// Clock is used for batching timers. Defaults to the real clock.
	Clock clock.Clock `yaml:"-"`
}

// DefaultConfig returns default config for a Manager.
func DefaultConfig() *Config {
	return &Config{
		MaxBatch: DefaultMaxBatch,
		MaxIdle:  DefaultMaxIdle,
		Workers:  DefaultWorkers,

		OperationTimeout: DefaultOperationTimeout,
	}
}

func (c *Config) withDefaults() *Config {
	out := *c
	if out.MaxBatch <= 0 {
		out.MaxBatch = DefaultMaxBatch
	}
	if out.MaxIdle <= 0 {
		out.MaxIdle = DefaultMaxIdle
	}
	if out.Workers <= 0 {
		out.Workers = DefaultWorkers
	}
	if out.OperationTimeout <= 0 {
		out.OperationTimeout = DefaultOperationTimeout
	}
	if out.Clock == nil {
		out.Clock = clock.NewClock()
	}
	return &out
}
