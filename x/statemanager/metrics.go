// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package statemanager

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ava-labs/replicastate/utils/metric"
	"github.com/ava-labs/replicastate/utils/wrappers"
)

const (
	opLabel     = "op"
	sourceLabel = "source"

	persistMetadataError = "persist_metadata"
	computeManifestError = "compute_manifest"
	loadCheckpointError  = "load_checkpoint"
	removeArchivedError  = "remove_archived"
	releaseError         = "release"
	resetTipError        = "reset_tip"
)

type metrics struct {
	apiCallDuration             *prometheus.HistogramVec
	checkpointDuration          prometheus.Histogram
	errors                      *prometheus.CounterVec
	latestStateHeight           prometheus.Gauge
	latestCertifiedHeight       prometheus.Gauge
	latestManifestHeight        prometheus.Gauge
	minResidentHeight           prometheus.Gauge
	maxResidentHeight           prometheus.Gauge
	residentStates              prometheus.Gauge
	checkpointsOnDisk           prometheus.Gauge
	manifestQueueLength         prometheus.Gauge
	tipQueueLength              prometheus.Gauge
	lastDivergedStateTimestamp  prometheus.Gauge
	deallocationsOnCallerThread prometheus.Counter
}

func newMetrics(namespace string, reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		apiCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "api_call_duration_seconds",
				Help:      "Duration of state manager calls",
				Buckets:   metric.SecondsBuckets,
			},
			[]string{opLabel},
		),
		checkpointDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "checkpoint_duration_seconds",
			Help:      "Time spent writing checkpoints",
			Buckets:   metric.SecondsBuckets,
		}),
		errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors",
				Help:      "Number of recoverable errors by source",
			},
			[]string{sourceLabel},
		),
		latestStateHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "latest_state_height",
			Help:      "Height of the latest committed state",
		}),
		latestCertifiedHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "latest_certified_height",
			Help:      "Height of the latest certified state",
		}),
		latestManifestHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "latest_manifest_height",
			Help:      "Height of the latest checkpoint with a computed manifest",
		}),
		minResidentHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "min_resident_height",
			Help:      "Lowest height kept in memory after the last pruning",
		}),
		maxResidentHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "max_resident_height",
			Help:      "Highest height kept in memory after the last pruning",
		}),
		residentStates: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "resident_state_count",
			Help:      "Number of states kept in memory",
		}),
		checkpointsOnDisk: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "checkpoints_on_disk_count",
			Help:      "Number of checkpoints on disk",
		}),
		manifestQueueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "manifest_queue_length",
			Help:      "Number of requests waiting for the manifest worker",
		}),
		tipQueueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tip_queue_length",
			Help:      "Number of requests waiting for the tip worker",
		}),
		lastDivergedStateTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_diverged_state_timestamp",
			Help:      "Unix time at which the last diverged state marker was created",
		}),
		deallocationsOnCallerThread: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deallocations_on_caller_thread",
			Help:      "Number of objects released by the caller because the deallocator was backlogged",
		}),
	}

	errs := wrappers.Errs{}
	errs.Add(
		reg.Register(m.apiCallDuration),
		reg.Register(m.checkpointDuration),
		reg.Register(m.errors),
		reg.Register(m.latestStateHeight),
		reg.Register(m.latestCertifiedHeight),
		reg.Register(m.latestManifestHeight),
		reg.Register(m.minResidentHeight),
		reg.Register(m.maxResidentHeight),
		reg.Register(m.residentStates),
		reg.Register(m.checkpointsOnDisk),
		reg.Register(m.manifestQueueLength),
		reg.Register(m.tipQueueLength),
		reg.Register(m.lastDivergedStateTimestamp),
		reg.Register(m.deallocationsOnCallerThread),
	)
	return m, errs.Err
}
