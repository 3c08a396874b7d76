// Package redis stores flow rules in a Redis database, one hash per rule at
// "<table>|<device>|<rule id>". Device agents program their forwarding
// tables from these entries.
package redis

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"

	"github.com/go-redis/redis/v8"
	"github.com/intentkit/intentkit/api"
	"github.com/intentkit/intentkit/log"
	"github.com/intentkit/intentkit/manager/drivers/flowrule"
	"github.com/pkg/errors"
)

// DefaultTable is the key prefix used when Options.Table is empty.
const DefaultTable = "FLOW_TABLE"

// Options configure the connection.
type Options struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Table    string `yaml:"table"`
}

// Service is a flow rule service backed by Redis.
type Service struct {
	client *redis.Client
	table  string
	wg     sync.WaitGroup
}

// New connects to Redis and checks that the server answers.
func New(ctx context.Context, opts Options) (*Service, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrapf(err, "redis connect %s", opts.Addr)
	}
	table := opts.Table
	if table == "" {
		table = DefaultTable
	}
	return &Service{client: client, table: table}, nil
}

func (s *Service) key(device api.DeviceID, id string) string {
	return s.table + "|" + string(device) + "|" + id
}

// Apply implements flowrule.Service. The batch runs in a MULTI/EXEC
// transaction.
func (s *Service) Apply(ctx context.Context, batch flowrule.Batch, done func(error)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := s.apply(ctx, batch)
		if err != nil {
			log.G(ctx).WithError(err).WithField("devices", batch.Devices()).Warn("failed to write flow rules")
		}
		done(err)
	}()
}

func (s *Service) apply(ctx context.Context, batch flowrule.Batch) error {
	if batch.Empty() {
		return nil
	}
	values := make([][]interface{}, len(batch.Additions))
	for i, r := range batch.Additions {
		fields, err := encode(r)
		if err != nil {
			return err
		}
		values[i] = fields
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, r := range batch.Removals {
			pipe.Del(ctx, s.key(r.Device, r.ID))
		}
		for i, r := range batch.Additions {
			pipe.HSet(ctx, s.key(r.Device, r.ID), values[i]...)
		}
		return nil
	})
	if err != nil && err != redis.Nil {
		return errors.Wrap(err, "flow rule transaction")
	}
	return nil
}

// encode lays the rule out as hash fields. The readable fields are for
// device agents; "rule" holds the complete rule.
func encode(r api.FlowRule) ([]interface{}, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, errors.Wrapf(err, "encode flow rule %s", r.ID)
	}
	return []interface{}{
		"app", r.AppID,
		"owner", r.Owner.String(),
		"priority", strconv.Itoa(r.Priority),
		"selector", r.Selector.String(),
		"treatment", r.Treatment.String(),
		"rule", string(raw),
	}, nil
}

// Rules implements flowrule.Reader.
func (s *Service) Rules(ctx context.Context, device api.DeviceID) ([]api.FlowRule, error) {
	prefix := s.key(device, "")
	var (
		rules  []api.FlowRule
		cursor uint64
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, prefix+"*", 100).Result()
		if err != nil {
			return nil, errors.Wrapf(err, "scan %s", prefix)
		}
		for _, key := range keys {
			if !strings.HasPrefix(key, prefix) {
				continue
			}
			raw, err := s.client.HGet(ctx, key, "rule").Result()
			if err == redis.Nil {
				continue
			} else if err != nil {
				return nil, errors.Wrapf(err, "read %s", key)
			}
			var r api.FlowRule
			if err := json.Unmarshal([]byte(raw), &r); err != nil {
				return nil, errors.Wrapf(err, "decode %s", key)
			}
			rules = append(rules, r)
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	flowrule.SortRules(rules)
	return rules, nil
}

// Close waits for outstanding batches and closes the connection.
func (s *Service) Close() error {
	s.wg.Wait()
	return s.client.Close()
}
