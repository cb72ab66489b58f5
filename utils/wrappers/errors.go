// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package wrappers

import "io"

// Errs keeps the first non-nil error it is given.
type Errs struct{ Err error }

func (errs *Errs) Errored() bool {
	return errs.Err != nil
}

func (errs *Errs) Add(errors ...error) {
	if errs.Err == nil {
		for _, err := range errors {
			if err != nil {
				errs.Err = err
				break
			}
		}
	}
}

// Closer closes every registered closer, in order, and reports the first
// failure.
type Closer struct {
	closers []io.Closer
}

func (c *Closer) Add(closer io.Closer) {
	c.closers = append(c.closers, closer)
}

func (c *Closer) Close() error {
	errs := Errs{}
	for _, closer := range c.closers {
		errs.Add(closer.Close())
	}
	c.closers = nil
	return errs.Err
}
