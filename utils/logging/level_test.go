// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package logging

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLevelRoundTrip(t *testing.T) {
	levels := []Level{Off, Fatal, Error, Warn, Info, Trace, Debug, Verbo}
	for _, l := range levels {
		t.Run(l.String(), func(t *testing.T) {
			require := require.New(t)

			parsed, err := ToLevel(l.LowerString())
			require.NoError(err)
			require.Equal(l, parsed)

			b, err := json.Marshal(l)
			require.NoError(err)

			var decoded Level
			require.NoError(json.Unmarshal(b, &decoded))
			require.Equal(l, decoded)
		})
	}
}

func TestToLevelUnknown(t *testing.T) {
	_, err := ToLevel("loud")
	require.ErrorIs(t, err, ErrUnknownLevel)
}
