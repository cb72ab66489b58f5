// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package database

import "golang.org/x/exp/slices"

// Reset shrinks the op slice by capacityReductionFactor once its capacity
// exceeds maxExcessCapacityFactor times its length.
const (
	maxExcessCapacityFactor = 4
	capacityReductionFactor = 2
)

type BatchOp struct {
	Key    []byte
	Value  []byte
	Delete bool
}

// BatchOps records the operations of a batch for backends that apply them
// on Write.
type BatchOps struct {
	Ops  []BatchOp
	size int
}

func (b *BatchOps) Put(key, value []byte) error {
	b.Ops = append(b.Ops, BatchOp{
		Key:   slices.Clone(key),
		Value: slices.Clone(value),
	})
	b.size += len(key) + len(value)
	return nil
}

func (b *BatchOps) Delete(key []byte) error {
	b.Ops = append(b.Ops, BatchOp{
		Key:    slices.Clone(key),
		Delete: true,
	})
	b.size += len(key)
	return nil
}

func (b *BatchOps) Size() int {
	return b.size
}

func (b *BatchOps) Reset() {
	if cap(b.Ops) > len(b.Ops)*maxExcessCapacityFactor {
		b.Ops = make([]BatchOp, 0, cap(b.Ops)/capacityReductionFactor)
	} else {
		for i := range b.Ops {
			b.Ops[i] = BatchOp{}
		}
		b.Ops = b.Ops[:0]
	}
	b.size = 0
}

func (b *BatchOps) Replay(w KeyValueWriterDeleter) error {
	for _, op := range b.Ops {
		if op.Delete {
			if err := w.Delete(op.Key); err != nil {
				return err
			}
		} else if err := w.Put(op.Key, op.Value); err != nil {
			return err
		}
	}
	return nil
}
