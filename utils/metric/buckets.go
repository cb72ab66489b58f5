// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package metric

var (
	// Useful latency buckets

	SecondsBuckets = []float64{
		.001,
		.01,
		.05,
		.1,
		.25,
		.5,
		1,
		2.5,
		5,
		10,
		30,
		60,
		// anything larger than a minute will be bucketed together
	}

	// Useful bytes buckets

	BytesBuckets = []float64{
		1 << 8,
		1 << 10, // 1 KiB
		1 << 12,
		1 << 14,
		1 << 16,
		1 << 18,
		1 << 20, // 1 MiB
		1 << 22,
		// anything larger than 4 MiB will be bucketed together
	}
)
