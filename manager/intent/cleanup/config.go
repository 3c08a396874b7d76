package cleanup

import "time"

const (
	// DefaultPeriod is the default poll interval, which is also the age a
	// record must reach before it is considered stuck.
	DefaultPeriod = 5 * time.Second
	// DefaultRetryThreshold is the default number of installation failures
	// after which an intent is no longer retried.
	DefaultRetryThreshold = 5
	// DefaultResubmitRate is the default number of resubmissions allowed
	// per second.
	DefaultResubmitRate = 100
	// DefaultResubmitBurst is the default number of resubmissions allowed
	// at once.
	DefaultResubmitBurst = 500
)

// Config is the configuration of a Cleanup.
type Config struct {
	Enabled bool `yaml:"enabled"`
	// Period is the poll interval. Records younger than Period are left
	// alone.
	Period time.Duration `yaml:"period"`
	// RetryThreshold is the error count at which CORRUPT intents stop being
	// retried.
	RetryThreshold int `yaml:"retry-threshold"`
	// ResubmitRate limits resubmissions per second across polls and
	// events.
	ResubmitRate float64 `yaml:"resubmit-rate"`
	// ResubmitBurst is the number of resubmissions allowed at once.
	ResubmitBurst int `yaml:"resubmit-burst"`
}

// DefaultConfig returns default config for a Cleanup.
func DefaultConfig() *Config {
	return &Config{
		Enabled:        true,
		Period:         DefaultPeriod,
		RetryThreshold: DefaultRetryThreshold,
		ResubmitRate:   DefaultResubmitRate,
		ResubmitBurst:  DefaultResubmitBurst,
	}
}

func (c Config) withDefaults() Config {
	if c.Period <= 0 {
		c.Period = DefaultPeriod
	}
	if c.RetryThreshold < 0 {
		c.RetryThreshold = 0
	}
	if c.ResubmitRate <= 0 {
		c.ResubmitRate = DefaultResubmitRate
	}
	if c.ResubmitBurst <= 0 {
		c.ResubmitBurst = DefaultResubmitBurst
	}
	return c
}
