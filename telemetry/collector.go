// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package telemetry exports store and queue events as Prometheus metrics.
package telemetry

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ASIK-R/my-budget-buddy-sub000/offqueue"
	"github.com/ASIK-R/my-budget-buddy-sub000/offstore"
)

// Collector implements offstore.Observer and offqueue.Observer.
type Collector struct {
	storeOps      *prometheus.CounterVec
	storeFallback *prometheus.CounterVec
	storeLatency  *prometheus.HistogramVec
	queueOps      *prometheus.CounterVec
}

var (
	_ offstore.Observer = (*Collector)(nil)
	_ offqueue.Observer = (*Collector)(nil)
)

// NewCollector creates the metrics and registers them with reg.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		storeOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "offsync",
			Name:      "store_ops_total",
			Help:      "Local store backend calls by operation, collection and result.",
		}, []string{"op", "collection", "result"}),
		storeFallback: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "offsync",
			Name:      "store_fallback_total",
			Help:      "Local store calls served by the in-memory fallback.",
		}, []string{"collection"}),
		storeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "offsync",
			Name:      "store_op_seconds",
			Help:      "Latency of local store backend calls.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"op"}),
		queueOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "offsync",
			Name:      "queue_ops_total",
			Help:      "Queued operation executions by type and outcome.",
		}, []string{"type", "outcome"}),
	}
	for _, m := range []prometheus.Collector{c.storeOps, c.storeFallback, c.storeLatency, c.queueOps} {
		if err := reg.Register(m); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Collector) ObserveStore(_ context.Context, ev offstore.StoreEvent) {
	result := "ok"
	if ev.Err != nil {
		result = "error"
	}
	collection := ev.Collection
	if collection == "" {
		collection = "-"
	}
	c.storeOps.WithLabelValues(ev.Op, collection, result).Inc()
	c.storeLatency.WithLabelValues(ev.Op).Observe(ev.Duration.Seconds())
	if ev.Fallback {
		c.storeFallback.WithLabelValues(collection).Inc()
	}
}

func (c *Collector) ObserveOperation(_ context.Context, ev offqueue.OperationEvent) {
	outcome := ev.Outcome.String()
	if ev.Permanent && ev.Outcome == offqueue.OutcomeRetryable {
		outcome = "exhausted"
	}
	c.queueOps.WithLabelValues(string(ev.Op.Type), outcome).Inc()
}
