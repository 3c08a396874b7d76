package drivers

import (
	"context"
	"io"

	"github.com/intentkit/intentkit/manager/drivers/flowrule"
	"github.com/intentkit/intentkit/manager/drivers/memory"
	"github.com/intentkit/intentkit/manager/drivers/redis"
	"github.com/pkg/errors"
)

// Names of the flow rule drivers.
const (
	MemoryDriver = "memory"
	RedisDriver  = "redis"
)

// ErrUnknownDriver is returned for driver names no driver is registered for.
var ErrUnknownDriver = errors.New("unknown flow rule driver")

// Config selects and configures a flow rule driver.
type Config struct {
	Name  string        `yaml:"name"`
	Redis redis.Options `yaml:"redis"`
}

// FlowRuleDriver is a connected flow rule driver.
type FlowRuleDriver interface {
	flowrule.Service
	flowrule.Reader
}

// DriverProvider provides flow rule drivers
type DriverProvider struct {
	config Config
}

// New returns a new driver provider
func New(config Config) *DriverProvider {
	return &DriverProvider{config: config}
}

// NewFlowRuleDriver connects the configured driver. The returned closer
// releases it.
func (p *DriverProvider) NewFlowRuleDriver(ctx context.Context) (FlowRuleDriver, io.Closer, error) {
	switch p.config.Name {
	case "", MemoryDriver:
		return memory.New(), nopCloser{}, nil
	case RedisDriver:
		s, err := redis.New(ctx, p.config.Redis)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	}
	return nil, nil, errors.Wrapf(ErrUnknownDriver, "%q", p.config.Name)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
