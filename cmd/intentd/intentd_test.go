package main

import (
	"bytes"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/intentkit/intentkit/api"
	"github.com/intentkit/intentkit/manager/topology"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
manager:
  max-idle: 1ms
cleanup:
  period: 1m
topology:
  devices: [s1, s2, s3]
  links:
    - {src: s1/2, dst: s2/1, bidirectional: true}
    - {src: s2/2, dst: s3/1}
intents:
  - name: h1-h3
    app: demo
    priority: 100
    ingress: s1/1
    egress: s3/3
    criteria: {eth_type: "0x0800"}
`

func loadTestConfig(t *testing.T) *Config {
	dir, err := ioutil.TempDir("", "intentd")
	require.NoError(t, err)
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "intentd.yaml")
	require.NoError(t, ioutil.WriteFile(path, []byte(testConfig), 0600))
	cfg, err := loadConfig(path)
	require.NoError(t, err)
	return cfg
}

func TestLoadConfig(t *testing.T) {
	cfg := loadTestConfig(t)
	assert.Equal(t, time.Millisecond, cfg.Manager.MaxIdle)
	assert.Equal(t, 500, cfg.Manager.MaxBatch, "unset values keep their defaults")
	assert.Equal(t, time.Minute, cfg.Cleanup.Period)
	assert.True(t, cfg.Cleanup.Enabled)
	require.Len(t, cfg.Intents, 1)

	in, err := cfg.Intents[0].intent()
	require.NoError(t, err)
	assert.Equal(t, api.NewKey("demo", "h1-h3"), in.Key)
	spec := in.Spec.(*api.PointToPointSpec)
	assert.Equal(t, api.ConnectPoint{Device: "s3", Port: 3}, spec.Egress)
	assert.Equal(t, "0x0800", spec.Selector.Criteria["eth_type"])

	defaults, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "memory", defaults.Driver.Name)
}

func TestApplyTopology(t *testing.T) {
	cfg := loadTestConfig(t)
	topo := topology.New(nil)
	require.NoError(t, cfg.Topology.apply(topo))
	assert.Len(t, topo.Links(), 3)
	assert.Len(t, topo.Paths("s1", "s3"), 1)
	assert.Empty(t, topo.Paths("s3", "s1"))

	cfg.Topology.Links = append(cfg.Topology.Links, LinkConfig{Src: "s1", Dst: "s2/1"})
	assert.Error(t, cfg.Topology.apply(topology.New(nil)))
}

type submitted []*api.Intent

func (s *submitted) Submit(in *api.Intent) error {
	*s = append(*s, in)
	return nil
}

func TestSubmitConfiguredIntents(t *testing.T) {
	cfg := loadTestConfig(t)
	var s submitted
	require.NoError(t, cfg.submit(&s))
	require.Len(t, s, 1)
	assert.Equal(t, 100, s[0].Priority)
}

func TestPrintIntents(t *testing.T) {
	installed := api.Submit(api.NewIntent(api.NewKey("demo", "b"), 1, &api.PointToPointSpec{}))
	installed.State = api.IntentStateInstalled
	failed := api.Submit(api.NewIntent(api.NewKey("demo", "a"), 1, &api.PointToPointSpec{}))
	failed.State = api.IntentStateFailed
	failed.ErrorCount = 2
	records := []*api.IntentData{installed, failed}

	var out bytes.Buffer
	printIntents(&out, records, nil)
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[1], "demo/a")
	assert.Contains(t, lines[1], "FAILED")
	assert.Contains(t, lines[2], "demo/b")

	out.Reset()
	filter := api.IntentStateInstalled
	printIntents(&out, records, &filter)
	lines = strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], "INSTALLED")
}

func TestPrintAttention(t *testing.T) {
	now := time.Now()
	stuck := api.Submit(api.NewIntent(api.NewKey("demo", "stuck"), 1, &api.PointToPointSpec{}))
	stuck.State = api.IntentStateInstalling
	stuck.Version = api.Version{Index: 1, Timestamp: now.Add(-5 * time.Minute)}
	busy := api.Submit(api.NewIntent(api.NewKey("demo", "busy"), 1, &api.PointToPointSpec{}))
	busy.State = api.IntentStateWithdrawing
	busy.Version = api.Version{Index: 2, Timestamp: now.Add(-time.Second)}
	corrupt := api.Submit(api.NewIntent(api.NewKey("demo", "corrupt"), 1, &api.PointToPointSpec{}))
	corrupt.State = api.IntentStateCorrupt
	corrupt.ErrorCount = 3

	var out bytes.Buffer
	printAttention(&out, []*api.IntentData{stuck, busy, corrupt}, time.Minute, now)
	assert.Contains(t, out.String(), "demo/stuck: stuck in INSTALLING")
	assert.Contains(t, out.String(), "demo/corrupt: installation failed 3 time(s)")
	assert.NotContains(t, out.String(), "demo/busy")

	out.Reset()
	printAttention(&out, []*api.IntentData{busy}, time.Minute, now)
	assert.Contains(t, out.String(), "steady state")
}

func TestGlobalFlags(t *testing.T) {
	flags := pflag.NewFlagSet("intentd", pflag.ContinueOnError)
	addGlobalFlags(flags)
	require.NoError(t, flags.Parse([]string{"-l", "debug", "--state-dir", "/tmp/intents"}))

	level, err := flags.GetString("log-level")
	require.NoError(t, err)
	assert.Equal(t, "debug", level)
	format, err := flags.GetString("log-format")
	require.NoError(t, err)
	assert.Equal(t, "text", format)
	dir, err := flags.GetString("state-dir")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/intents", dir)
}
