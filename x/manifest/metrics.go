// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package manifest

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ava-labs/replicastate/utils/metric"
	"github.com/ava-labs/replicastate/utils/wrappers"
)

const (
	chunkTypeLabel = "type"

	hashedType            = "hashed"
	hashedAndComparedType = "hashed_and_compared"
	reusedType            = "reused"
)

type metrics struct {
	chunkBytes       *prometheus.CounterVec
	reusedHashErrors prometheus.Counter
	computeDuration  prometheus.Histogram
}

func newMetrics(namespace string, reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		chunkBytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "manifest_chunk_bytes",
				Help:      "Size of chunks in manifest by hash type ('reused', 'hashed', 'hashed_and_compared') of chunks",
			},
			[]string{chunkTypeLabel},
		),
		reusedHashErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "manifest_reused_chunk_hash_error_count",
			Help:      "Number of reused chunk hashes that didn't match a fresh hash of the chunk",
		}),
		computeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "manifest_compute_duration_seconds",
			Help:      "Time spent computing manifests",
			Buckets:   metric.SecondsBuckets,
		}),
	}

	errs := wrappers.Errs{}
	errs.Add(
		reg.Register(m.chunkBytes),
		reg.Register(m.reusedHashErrors),
		reg.Register(m.computeDuration),
	)
	return m, errs.Err
}
