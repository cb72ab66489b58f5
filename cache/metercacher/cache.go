// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package metercacher

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ava-labs/replicastate/cache"
	"github.com/ava-labs/replicastate/utils/timer/mockable"
)

var _ cache.Cacher[struct{}, struct{}] = (*Cache[struct{}, struct{}])(nil)

type Cache[K comparable, V any] struct {
	cache.Cacher[K, V]

	clock   mockable.Clock
	metrics *metrics
}

func New[K comparable, V any](
	namespace string,
	registerer prometheus.Registerer,
	cache cache.Cacher[K, V],
) (*Cache[K, V], error) {
	metrics, err := newMetrics(namespace, registerer)
	return &Cache[K, V]{
		Cacher:  cache,
		metrics: metrics,
	}, err
}

func (c *Cache[K, V]) Put(key K, value V) {
	start := c.clock.Time()
	c.Cacher.Put(key, value)
	putDuration := c.clock.Time().Sub(start)

	c.metrics.putCount.Inc()
	c.metrics.putTime.Add(float64(putDuration))
	c.metrics.len.Set(float64(c.Cacher.Len()))
	c.metrics.portionFilled.Set(c.Cacher.PortionFilled())
}

func (c *Cache[K, V]) Get(key K) (V, bool) {
	start := c.clock.Time()
	value, has := c.Cacher.Get(key)
	getDuration := c.clock.Time().Sub(start)

	labels := missLabels
	if has {
		labels = hitLabels
	}
	c.metrics.getCount.With(labels).Inc()
	c.metrics.getTime.With(labels).Add(float64(getDuration))
	return value, has
}

func (c *Cache[K, _]) Evict(key K) {
	c.Cacher.Evict(key)

	c.metrics.len.Set(float64(c.Cacher.Len()))
	c.metrics.portionFilled.Set(c.Cacher.PortionFilled())
}

func (c *Cache[_, _]) Flush() {
	c.Cacher.Flush()

	c.metrics.len.Set(float64(c.Cacher.Len()))
	c.metrics.portionFilled.Set(c.Cacher.PortionFilled())
}
