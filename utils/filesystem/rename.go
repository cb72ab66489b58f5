// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package filesystem

import (
	"errors"
	"os"
	"path/filepath"
)

// RenameIfExists renames the file or directory [src] to [dst] if it exists
// and syncs the parent directory of [dst] so that the rename survives a
// crash. Returns true if [src] was renamed.
func RenameIfExists(src, dst string) (bool, error) {
	err := os.Rename(src, dst)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	case err != nil:
		return false, err
	default:
		return true, SyncDir(filepath.Dir(dst))
	}
}
