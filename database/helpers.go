// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package database

// Count returns the number of keys in [db].
func Count(db Iteratee) (int, error) {
	it := db.NewIterator()
	defer it.Release()

	count := 0
	for it.Next() {
		count++
	}
	return count, it.Error()
}

// Size returns the number of key and value bytes stored in [db].
func Size(db Iteratee) (int, error) {
	it := db.NewIterator()
	defer it.Release()

	size := 0
	for it.Next() {
		size += len(it.Key()) + len(it.Value())
	}
	return size, it.Error()
}

// Clear removes every key of [db], writing a batch each time it reaches
// [writeSize] bytes.
func Clear(db Database, writeSize int) error {
	return ClearPrefix(db, nil, writeSize)
}

// ClearPrefix removes every key of [db] starting with [prefix], writing a
// batch each time it reaches [writeSize] bytes.
func ClearPrefix(db Database, prefix []byte, writeSize int) error {
	b := db.NewBatch()
	it := db.NewIteratorWithPrefix(prefix)
	// the iterator is replaced after every write
	defer func() {
		it.Release()
	}()

	for it.Next() {
		if err := b.Delete(it.Key()); err != nil {
			return err
		}
		if b.Size() < writeSize {
			continue
		}

		if err := b.Write(); err != nil {
			return err
		}
		b.Reset()

		if err := it.Error(); err != nil {
			return err
		}
		it.Release()
		it = db.NewIteratorWithPrefix(prefix)
	}

	if err := b.Write(); err != nil {
		return err
	}
	return it.Error()
}
