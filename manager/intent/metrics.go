package intent

import (
	metrics "github.com/docker/go-metrics"
)

var (
	requestsCounter     metrics.LabeledCounter
	eventsCounter       metrics.LabeledCounter
	compileLatencyTimer metrics.Timer
	installLatencyTimer metrics.Timer
	batchLatencyTimer   metrics.Timer
)

func init() {
	ns := metrics.NewNamespace("intentkit", "intent", nil)
	requestsCounter = ns.NewLabeledCounter("requests", "Intent requests accepted by the manager.", "request")
	eventsCounter = ns.NewLabeledCounter("events", "Intent events delivered to listeners.", "type")
	compileLatencyTimer = ns.NewTimer("compile_latency", "Latency of compiling an intent into installables.")
	installLatencyTimer = ns.NewTimer("install_latency", "Latency from handing an intent to its installers until all of them reported.")
	batchLatencyTimer = ns.NewTimer("batch_latency", "Latency of processing one batch of intent requests.")
	metrics.Register(ns)
}
