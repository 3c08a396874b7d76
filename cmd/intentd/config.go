package main

import (
	"io/ioutil"

	"github.com/intentkit/intentkit/api"
	"github.com/intentkit/intentkit/manager/drivers"
	"github.com/intentkit/intentkit/manager/intent"
	"github.com/intentkit/intentkit/manager/intent/cleanup"
	"github.com/intentkit/intentkit/manager/topology"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config is the layout of the configuration file.
type Config struct {
	Manager  intent.Config  `yaml:"manager"`
	Cleanup  cleanup.Config `yaml:"cleanup"`
	Driver   drivers.Config `yaml:"driver"`
	Topology TopologyConfig `yaml:"topology"`
	Intents  []IntentConfig `yaml:"intents"`
}

// TopologyConfig describes the network the manager starts with.
type TopologyConfig struct {
	Devices []string     `yaml:"devices"`
	Links   []LinkConfig `yaml:"links"`
}

// LinkConfig is a link between two connect points, written as
// "<device>/<port>".
type LinkConfig struct {
	Src           string `yaml:"src"`
	Dst           string `yaml:"dst"`
	Bidirectional bool   `yaml:"bidirectional"`
}

// IntentConfig is a point-to-point intent submitted at startup.
type IntentConfig struct {
	App      string            `yaml:"app"`
	Name     string            `yaml:"name"`
	Priority int               `yaml:"priority"`
	Ingress  string            `yaml:"ingress"`
	Egress   string            `yaml:"egress"`
	Criteria map[string]string `yaml:"criteria"`
}

func defaultConfig() *Config {
	return &Config{
		Manager: *intent.DefaultConfig(),
		Cleanup: *cleanup.DefaultConfig(),
		Driver:  drivers.Config{Name: drivers.MemoryDriver},
	}
}

// loadConfig reads the file at path over the defaults. An empty path
// returns the defaults.
func loadConfig(path string) (*Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	raw, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}
	return cfg, nil
}

// apply adds the configured devices and links to topo.
func (c TopologyConfig) apply(topo *topology.Topology) error {
	for _, d := range c.Devices {
		topo.AddDevice(api.DeviceID(d))
	}
	for _, l := range c.Links {
		link, err := l.link()
		if err != nil {
			return err
		}
		if err := topo.AddLink(link); err != nil {
			return err
		}
		if l.Bidirectional {
			if err := topo.AddLink(link.Reverse()); err != nil {
				return err
			}
		}
	}
	return nil
}

func (l LinkConfig) link() (api.Link, error) {
	src, err := api.ParseConnectPoint(l.Src)
	if err != nil {
		return api.Link{}, err
	}
	dst, err := api.ParseConnectPoint(l.Dst)
	if err != nil {
		return api.Link{}, err
	}
	return api.Link{Src: src, Dst: dst}, nil
}

// Submitter accepts intents.
type Submitter interface {
	Submit(intent *api.Intent) error
}

// submit submits the configured intents.
func (c *Config) submit(s Submitter) error {
	for _, ic := range c.Intents {
		in, err := ic.intent()
		if err != nil {
			return err
		}
		if err := s.Submit(in); err != nil {
			return err
		}
	}
	return nil
}

func (c IntentConfig) intent() (*api.Intent, error) {
	ingress, err := api.ParseConnectPoint(c.Ingress)
	if err != nil {
		return nil, errors.Wrapf(err, "intent %s", c.Name)
	}
	egress, err := api.ParseConnectPoint(c.Egress)
	if err != nil {
		return nil, errors.Wrapf(err, "intent %s", c.Name)
	}
	app := c.App
	if app == "" {
		app = "intentd"
	}
	return api.NewIntent(api.NewKey(app, c.Name), c.Priority, &api.PointToPointSpec{
		Ingress:  ingress,
		Egress:   egress,
		Selector: api.TrafficSelector{Criteria: c.Criteria},
	}), nil
}
