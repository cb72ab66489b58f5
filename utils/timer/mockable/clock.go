// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package mockable

import (
	"sync"
	"time"
)

// Clock reads wall time unless a fake time has been Set. The zero value is
// ready to use and safe for concurrent use.
type Clock struct {
	lock  sync.RWMutex
	faked bool
	now   time.Time
}

// Set pins the clock to [t] until Sync is called.
func (c *Clock) Set(t time.Time) {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.faked = true
	c.now = t
}

// Advance moves a faked clock forward by [d]. A real clock starts faking
// from the current wall time.
func (c *Clock) Advance(d time.Duration) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if !c.faked {
		c.faked = true
		c.now = time.Now()
	}
	c.now = c.now.Add(d)
}

// Sync returns the clock to wall time.
func (c *Clock) Sync() {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.faked = false
}

func (c *Clock) Time() time.Time {
	c.lock.RLock()
	defer c.lock.RUnlock()

	if c.faked {
		return c.now
	}
	return time.Now()
}

// Since returns the time elapsed on this clock since [t]. A [t] in the future
// yields zero.
func (c *Clock) Since(t time.Time) time.Duration {
	d := c.Time().Sub(t)
	if d < 0 {
		return 0
	}
	return d
}
