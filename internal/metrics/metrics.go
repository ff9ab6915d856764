// Copyright 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics holds the prometheus instruments of the gateway.
package metrics

import (
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "riotee"

// Malformed frame reasons
const (
	ReasonMissingSentinel = "missing_sentinel"
	ReasonTooLong         = "too_long"
	ReasonInvalidField    = "invalid_field"
)

var (
	registerOnce sync.Once

	ingestFrames = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "frames_total",
			Help:      "Frames parsed into packets.",
		},
	)
	ingestMalformed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "malformed_total",
			Help:      "Frames dropped because they could not be parsed.",
		},
		[]string{"reason"},
	)
	packetsSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_sent_total",
			Help:      "Packets written to the dongle.",
		},
	)
	storeBackpressure = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "backpressure_total",
			Help:      "Packets that found their device queue full.",
		},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// RegisterMetrics registers the instruments with the default registry. It is
// safe to call more than once.
func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(ingestFrames, ingestMalformed, packetsSent, storeBackpressure,
			httpRequests, httpDuration)
	})
}

func RecordFrame() {
	RegisterMetrics()
	ingestFrames.Inc()
}

func RecordMalformed(reason string) {
	RegisterMetrics()
	ingestMalformed.WithLabelValues(reason).Inc()
}

func RecordSent() {
	RegisterMetrics()
	packetsSent.Inc()
}

func RecordBackpressure() {
	RegisterMetrics()
	storeBackpressure.Inc()
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

// DepthFunc reports the number of queued packets per device, keyed by the
// device id text.
type DepthFunc func() map[string]int

// QueueDepthCollector exports riotee_store_queue_depth at scrape time.
type QueueDepthCollector struct {
	depths DepthFunc
	desc   *prometheus.Desc
}

// NewQueueDepthCollector creates a collector reading depths on every scrape.
func NewQueueDepthCollector(depths DepthFunc) *QueueDepthCollector {
	return &QueueDepthCollector{
		depths: depths,
		desc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "store", "queue_depth"),
			"Packets waiting in a device queue.",
			[]string{"device"}, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *QueueDepthCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

// Collect implements prometheus.Collector.
func (c *QueueDepthCollector) Collect(ch chan<- prometheus.Metric) {
	depths := c.depths()
	devices := make([]string, 0, len(depths))
	for dev := range depths {
		devices = append(devices, dev)
	}
	sort.Strings(devices)
	for _, dev := range devices {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(depths[dev]), dev)
	}
}
