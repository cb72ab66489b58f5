// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package metric

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppendNamespace(t *testing.T) {
	tests := []struct {
		prefix   string
		suffix   string
		expected string
	}{
		{prefix: "state_manager", suffix: "manifest", expected: "state_manager_manifest"},
		{prefix: "", suffix: "manifest", expected: "manifest"},
		{prefix: "state_manager", suffix: "", expected: "state_manager"},
		{prefix: "", suffix: "", expected: ""},
	}
	for _, test := range tests {
		t.Run(test.expected, func(t *testing.T) {
			require.Equal(t, test.expected, AppendNamespace(test.prefix, test.suffix))
		})
	}
}
