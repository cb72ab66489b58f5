// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package perms

const (
	ReadOnly         = 0o400
	ReadWrite        = 0o640
	ReadWriteExecute = 0o750

	// ReadExecute is applied to promoted checkpoint directories so that an
	// immutable checkpoint can still be listed.
	ReadExecute = 0o550
)
