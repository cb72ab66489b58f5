// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package filesystem

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ava-labs/replicastate/utils/perms"
)

func TestWriteFileAtomic(t *testing.T) {
	require := require.New(t)

	path := filepath.Join(t.TempDir(), "metadata")
	require.NoError(WriteFileAtomic(path, []byte("first"), perms.ReadWrite))
	require.NoError(WriteFileAtomic(path, []byte("second"), perms.ReadWrite))

	got, err := os.ReadFile(path)
	require.NoError(err)
	require.Equal([]byte("second"), got)

	_, err = os.Stat(path + tmpSuffix)
	require.ErrorIs(err, os.ErrNotExist)
}

func TestCopyTree(t *testing.T) {
	for _, link := range []bool{false, true} {
		require := require.New(t)

		src := filepath.Join(t.TempDir(), "src")
		require.NoError(os.MkdirAll(filepath.Join(src, "a", "b"), perms.ReadWriteExecute))
		require.NoError(os.WriteFile(filepath.Join(src, "a", "b", "f"), []byte("data"), perms.ReadWrite))
		require.NoError(os.WriteFile(filepath.Join(src, "top"), []byte("top"), perms.ReadOnly))

		dst := filepath.Join(t.TempDir(), "dst")
		require.NoError(CopyTree(src, dst, perms.ReadWriteExecute, link))

		got, err := os.ReadFile(filepath.Join(dst, "a", "b", "f"))
		require.NoError(err)
		require.Equal([]byte("data"), got)

		got, err = os.ReadFile(filepath.Join(dst, "top"))
		require.NoError(err)
		require.Equal([]byte("top"), got)
	}
}
