// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package sync

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	dto "github.com/prometheus/client_model/go"
)

func TestMetricsRegisterTwice(t *testing.T) {
	require := require.New(t)

	reg := prometheus.NewRegistry()
	_, err := NewMetrics("", reg)
	require.NoError(err)

	_, err = NewMetrics("", reg)
	require.Error(err)
}

func TestObserveStep(t *testing.T) {
	require := require.New(t)

	reg := prometheus.NewRegistry()
	m, err := NewMetrics("state_sync", reg)
	require.NoError(err)

	m.observeStep(stepFetch, time.Now())
	m.observeStep(stepFetch, time.Now())
	m.observeStep(stepCopyChunks, time.Now())

	families, err := reg.Gather()
	require.NoError(err)

	var family *dto.MetricFamily
	for _, f := range families {
		if f.GetName() == "state_sync_step_duration_seconds" {
			family = f
		}
	}
	require.NotNil(family)
	require.Equal(dto.MetricType_HISTOGRAM, family.GetType())

	counts := make(map[string]uint64)
	for _, metric := range family.GetMetric() {
		for _, label := range metric.GetLabel() {
			if label.GetName() == stepLabel {
				counts[label.GetValue()] = metric.GetHistogram().GetSampleCount()
			}
		}
	}
	require.Equal(map[string]uint64{
		stepFetch:      2,
		stepCopyChunks: 1,
	}, counts)
}
