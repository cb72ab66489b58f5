// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package hashtree

import (
	"fmt"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultParallelThreshold = 100
	DefaultWorkers           = 16
)

type Config struct {
	// Forks with more children than this are hashed by several goroutines.
	ParallelThreshold int
	// Number of goroutines hashing a large fork. Values below 2 disable
	// parallel hashing.
	Workers int
	// If set, cached blob digests are recomputed and a mismatch panics.
	CheckCachedDigests bool
}

func DefaultConfig() Config {
	return Config{
		ParallelThreshold: DefaultParallelThreshold,
		Workers:           DefaultWorkers,
	}
}

// Build hashes [t] with the default config.
func Build(t LazyTree) *HashTree {
	return BuildWithConfig(t, DefaultConfig())
}

// BuildWithConfig materializes [t] and builds its hash tree.
func BuildWithConfig(t LazyTree, config Config) *HashTree {
	b := builder{
		config:     config,
		concurrent: config.Workers > 1,
	}
	ht := newHashTree(0)
	ht.root = b.build(t, ht, NodeID{})
	ht.checkInvariants()
	return ht
}

type builder struct {
	config Config
	// Only the first large fork on a path is hashed concurrently. Goroutines
	// never spawn more goroutines.
	concurrent bool
}

// subtreeRoot is the result of hashing one child inside a worker.
type subtreeRoot struct {
	root     NodeID
	children nodeRange
}

func (b *builder) build(t LazyTree, ht *HashTree, parent NodeID) NodeID {
	switch t.kind {
	case blobTree:
		if t.digest == nil {
			return ht.newLeaf(leafHash(t.data))
		}
		if b.config.CheckCachedDigests {
			if actual := leafHash(t.data); actual != *t.digest {
				panic(fmt.Sprintf("cached leaf digest %s doesn't match contents digest %s", *t.digest, actual))
			}
		}
		return ht.newLeaf(*t.digest)
	case lazyBlobTree:
		return ht.newLeaf(leafHash(t.fn()))
	}

	numChildren := t.fork.Len()
	r := ht.preallocateNodes(numChildren, parent)
	nodes := make([]NodeID, 0, numChildren)

	if numChildren > b.config.ParallelThreshold && b.concurrent {
		children := t.fork.Children()
		roots := b.buildConcurrently(children, ht)
		local := r.bucket - ht.bucketOffset
		for offset, child := range children {
			i := r.start + offset
			root := roots[offset]
			ht.nodeChildrenLabels[local][i] = root.children
			ht.nodeDigests[local][i] = labeledHash(child.Label, ht.digest(root.root))
			ht.nodeChildren[local][i] = root.root
			ht.nodeLabels[local][i] = child.Label
			nodes = append(nodes, newNodeID(nodeKindBits, r.bucket, i))
		}
	} else {
		for offset, child := range t.fork.Children() {
			i := r.start + offset
			id := newNodeID(nodeKindBits, r.bucket, i)
			childID := b.build(child.Tree, ht, id)
			ht.nodeDigests[0][i] = labeledHash(child.Label, ht.digest(childID))
			ht.nodeChildren[0][i] = childID
			ht.nodeLabels[0][i] = child.Label
			nodes = append(nodes, id)
		}
	}

	switch len(nodes) {
	case 0:
		return NodeID{}
	case 1:
		return nodes[0]
	}

	// Pair vertices from left to right until a single one is left. An odd
	// vertex out is carried to the next level unchanged.
	next := make([]NodeID, 0, (len(nodes)+1)/2)
	for {
		for i := 0; i+1 < len(nodes); i += 2 {
			d := forkHash(ht.digest(nodes[i]), ht.digest(nodes[i+1]))
			next = append(next, ht.newFork(d, nodes[i], nodes[i+1]))
		}
		if len(nodes)%2 == 1 {
			next = append(next, nodes[len(nodes)-1])
		}
		if len(next) == 1 {
			return next[0]
		}
		nodes, next = next, nodes[:0]
	}
}

// buildConcurrently hashes [children] in [b.config.Workers] groups. Each
// group is hashed into its own tree whose bucket is spliced into [ht]. The
// returned roots are in the same order as [children].
func (b *builder) buildConcurrently(children []LazyChild, ht *HashTree) []subtreeRoot {
	var (
		workers      = b.config.Workers
		bucketOffset = len(ht.nodeChildren)
		perWorker    = (len(children) + workers - 1) / workers
		subtrees     = make([]*HashTree, 0, workers)
		roots        = make([][]subtreeRoot, 0, workers)
		eg           errgroup.Group
	)
	if perWorker < 1 {
		perWorker = 1
	}

	sequential := &builder{config: b.config}
	for start := 0; start < len(children); start += perWorker {
		end := start + perWorker
		if end > len(children) {
			end = len(children)
		}

		var (
			group   = children[start:end]
			sub     = newHashTree(bucketOffset + len(subtrees))
			results = make([]subtreeRoot, len(group))
		)
		subtrees = append(subtrees, sub)
		roots = append(roots, results)

		eg.Go(func() error {
			for i, child := range group {
				// The parent lives outside of [sub], the link is fixed up
				// by the caller once [sub] has been spliced.
				sub.rootLabels = nodeRange{bucket: sub.bucketOffset}
				root := sequential.build(child.Tree, sub, NodeID{})
				results[i] = subtreeRoot{
					root:     root,
					children: sub.rootLabels,
				}
			}
			return nil
		})
	}
	_ = eg.Wait()

	flat := make([]subtreeRoot, 0, len(children))
	for i, sub := range subtrees {
		ht.splice(sub)
		flat = append(flat, roots[i]...)
	}
	return flat
}
