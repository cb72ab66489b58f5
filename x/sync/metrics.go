// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package sync

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ava-labs/replicastate/utils/metric"
	"github.com/ava-labs/replicastate/utils/wrappers"
)

const (
	stepLabel   = "step"
	sourceLabel = "source"
	kindLabel   = "kind"

	stepFetch          = "fetch"
	stepCopyFiles      = "copy_files"
	stepCopyChunks     = "copy_chunks"
	stepPreallocate    = "preallocate"
	stepMakeCheckpoint = "state_sync_make_checkpoint"

	sourceCopy    = "copy"
	sourceCache   = "cache"
	sourceNetwork = "network"
)

// Metrics are shared by every sync of a replica and by its network client.
type Metrics struct {
	stepDuration     *prometheus.HistogramVec
	remainingChunks  prometheus.Gauge
	corruptedChunks  prometheus.Counter
	chunks           *prometheus.CounterVec
	requests         *prometheus.CounterVec
	failedRequests   *prometheus.CounterVec
	responseBytes    prometheus.Histogram
	trackedPeers     prometheus.Gauge
	responsivePeers  prometheus.Gauge
	averageBandwidth prometheus.Gauge
}

func NewMetrics(namespace string, reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "step_duration_seconds",
				Help:      "Duration of the steps of a state sync",
				Buckets:   metric.SecondsBuckets,
			},
			[]string{stepLabel},
		),
		remainingChunks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "remaining_chunks",
			Help:      "Number of chunks the active state sync still needs",
		}),
		corruptedChunks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "corrupted_chunks",
			Help:      "Number of chunks that failed verification",
		}),
		chunks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "chunks",
				Help:      "Number of chunks written into a synced state by source",
			},
			[]string{sourceLabel},
		),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests",
				Help:      "Number of requests sent to peers by kind",
			},
			[]string{kindLabel},
		),
		failedRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "failed_requests",
				Help:      "Number of requests to peers that failed by kind",
			},
			[]string{kindLabel},
		),
		responseBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "response_bytes",
			Help:      "Size of the decompressed responses received from peers",
			Buckets:   metric.BytesBuckets,
		}),
		trackedPeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tracked_peers",
			Help:      "Number of peers requests were sent to",
		}),
		responsivePeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "responsive_peers",
			Help:      "Number of peers that answered their last request",
		}),
		averageBandwidth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "average_bandwidth",
			Help:      "Moving average of the bandwidth of responsive peers in bytes per second",
		}),
	}

	errs := wrappers.Errs{}
	errs.Add(
		reg.Register(m.stepDuration),
		reg.Register(m.remainingChunks),
		reg.Register(m.corruptedChunks),
		reg.Register(m.chunks),
		reg.Register(m.requests),
		reg.Register(m.failedRequests),
		reg.Register(m.responseBytes),
		reg.Register(m.trackedPeers),
		reg.Register(m.responsivePeers),
		reg.Register(m.averageBandwidth),
	)
	return m, errs.Err
}

func (m *Metrics) observeStep(step string, start time.Time) {
	m.stepDuration.WithLabelValues(step).Observe(time.Since(start).Seconds())
}
