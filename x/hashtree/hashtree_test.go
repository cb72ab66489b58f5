// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package hashtree

import (
	"encoding/hex"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

// naiveHash hashes [t] recursively without the arena.
func naiveHash(t LazyTree) Digest {
	if !t.IsFork() {
		return leafHash(t.Bytes())
	}
	var level []Digest
	for _, c := range t.Fork().Children() {
		level = append(level, labeledHash(c.Label, naiveHash(c.Tree)))
	}
	if len(level) == 0 {
		return EmptyHash
	}
	for len(level) > 1 {
		var next []Digest
		for i := 0; i+1 < len(level); i += 2 {
			next = append(next, forkHash(level[i], level[i+1]))
		}
		if len(level)%2 == 1 {
			next = append(next, level[len(level)-1])
		}
		level = next
	}
	return level[0]
}

func flatFork(n int) LazyTree {
	children := make(map[string]LazyTree, n)
	for i := 0; i < n; i++ {
		children[fmt.Sprintf("%04d", i)] = Blob([]byte(fmt.Sprintf("value %d", i)))
	}
	return LazyFork(NewMapFork(children))
}

// wideTree has [n] children, each a small fork holding a blob and a nested
// fork, so that parallel hashing exercises labeled ranges across buckets.
func wideTree(n int) LazyTree {
	children := make(map[string]LazyTree, n)
	for i := 0; i < n; i++ {
		i := i
		children[fmt.Sprintf("c%05d", i)] = LazyFork(NewMapFork(map[string]LazyTree{
			"blob": Blob([]byte{byte(i), byte(i >> 8)}),
			"lazy": LazyBlob(func() []byte { return []byte(fmt.Sprintf("lazy %d", i)) }),
			"sub": LazyFork(NewMapFork(map[string]LazyTree{
				"x": Blob([]byte("x")),
				"y": Blob(nil),
			})),
		}))
	}
	return LazyFork(NewMapFork(children))
}

// witnessOf reveals [paths] of [tree] in [ht].
func witnessOf(tree LazyTree, ht *HashTree, paths ...[]Label) *MixedHashTree {
	materialized, _ := MaterializePartial(tree, Paths(paths...))
	return ht.Witness(materialized)
}

func countForks(w *MixedHashTree) int {
	if w.Kind != ForkKind {
		return 0
	}
	l, r := countForks(w.Left), countForks(w.Right)
	if l > r {
		return l + 1
	}
	return r + 1
}

func TestEmptyHash(t *testing.T) {
	require := require.New(t)

	expected, err := hex.DecodeString("4e3ed35c4e2d1ee89996483fb6260a64cffb6c47dbab216e7930e82f8190d120")
	require.NoError(err)
	require.Equal(expected, EmptyHash[:])

	ht := Build(LazyFork(NewMapFork(nil)))
	require.Equal(EmptyHash, ht.RootHash())
	require.Equal(EmptyNode, ht.Root().Kind())
}

func TestBuildMatchesNaiveHash(t *testing.T) {
	tests := []struct {
		name string
		tree LazyTree
	}{
		{
			name: "single blob",
			tree: Blob([]byte("hello")),
		},
		{
			name: "single child",
			tree: flatFork(1),
		},
		{
			name: "seven children",
			tree: flatFork(7),
		},
		{
			name: "power of two",
			tree: flatFork(16),
		},
		{
			name: "nested",
			tree: wideTree(5),
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			require.Equal(t, naiveHash(test.tree), Build(test.tree).RootHash())
		})
	}
}

func TestSevenChildrenShape(t *testing.T) {
	require := require.New(t)

	tree := flatFork(7)
	ht := Build(tree)
	require.Equal(ForkNode, ht.Root().Kind())

	// 7 = 4 + 2 + 1: four leaves at depth 3, two at depth 3 and one at depth 2.
	expectedDepth := []int{3, 3, 3, 3, 3, 3, 2}
	for i, depth := range expectedDepth {
		label := Label(fmt.Sprintf("%04d", i))
		w := witnessOf(tree, ht, []Label{label})
		require.Equal(depth, countForks(w), "child %d", i)
		require.Equal(ht.RootHash(), w.Digest())

		status, leaf := w.Lookup(label)
		require.Equal(Found, status)
		require.Equal(LeafKind, leaf.Kind)
		require.Equal([]byte(fmt.Sprintf("value %d", i)), leaf.Data)
	}
}

func TestParallelBuildMatchesSequential(t *testing.T) {
	require := require.New(t)

	tree := wideTree(1013)
	sequential := BuildWithConfig(tree, Config{
		ParallelThreshold: DefaultParallelThreshold,
		Workers:           1,
	})
	parallel := BuildWithConfig(tree, DefaultConfig())

	require.Equal(sequential.RootHash(), parallel.RootHash())
	require.Equal(naiveHash(tree), parallel.RootHash())
	require.Equal(1, sequential.Buckets())
	require.Equal(1+DefaultWorkers, parallel.Buckets())

	paths := [][]Label{
		{Label("c00000"), Label("blob")},
		{Label("c00500"), Label("sub"), Label("x")},
		{Label("c01012"), Label("lazy")},
	}
	for _, ht := range []*HashTree{sequential, parallel} {
		w := witnessOf(tree, ht, paths...)
		require.Equal(ht.RootHash(), w.Digest())

		status, leaf := w.Lookup(paths[1]...)
		require.Equal(Found, status)
		require.Equal([]byte("x"), leaf.Data)

		status, leaf = w.Lookup(paths[2]...)
		require.Equal(Found, status)
		require.Equal([]byte("lazy 1012"), leaf.Data)

		status, _ = w.Lookup(Label("c00001"), Label("blob"))
		require.Equal(Unknown, status)
	}
	require.Equal(witnessOf(tree, sequential, paths...), witnessOf(tree, parallel, paths...))
}

func TestAbsenceProofs(t *testing.T) {
	tests := []struct {
		name  string
		label string
	}{
		{
			name:  "before first label",
			label: "0",
		},
		{
			name:  "after last label",
			label: "9999",
		},
		{
			name:  "between two labels",
			label: "0003a",
		},
	}
	tree := flatFork(10)
	ht := Build(tree)
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			require := require.New(t)

			w := witnessOf(tree, ht, []Label{Label(test.label)})
			require.Equal(ht.RootHash(), w.Digest())

			status, _ := w.Lookup(Label(test.label))
			require.Equal(Absent, status)

			// Neighbours are revealed but not their values.
			status, _ = w.Lookup(Label("0005"))
			require.Equal(Unknown, status)
		})
	}
}

func TestWitnessOfEmptyFork(t *testing.T) {
	require := require.New(t)

	tree := LazyFork(NewMapFork(map[string]LazyTree{
		"empty": LazyFork(NewMapFork(nil)),
	}))
	ht := Build(tree)
	w := witnessOf(tree, ht, []Label{Label("empty"), Label("missing")})
	require.Equal(ht.RootHash(), w.Digest())

	status, _ := w.Lookup(Label("empty"), Label("missing"))
	require.Equal(Absent, status)
}

func TestWitnessShapeMismatchPanics(t *testing.T) {
	ht := Build(flatFork(3))
	require.Panics(t, func() {
		ht.Witness(Paths([]Label{Label("0001"), Label("nested")}))
	})
}

func TestCachedDigestMismatchPanics(t *testing.T) {
	require := require.New(t)

	good := BlobWithDigest([]byte("data"), leafHash([]byte("data")))
	bad := BlobWithDigest([]byte("data"), leafHash([]byte("other")))

	config := DefaultConfig()
	config.CheckCachedDigests = true
	require.NotPanics(func() {
		BuildWithConfig(good, config)
	})
	require.Panics(func() {
		BuildWithConfig(bad, config)
	})

	// Without checks the cached digest is trusted.
	require.Equal(leafHash([]byte("other")), Build(bad).RootHash())
}

func TestMaterializePartial(t *testing.T) {
	require := require.New(t)

	tree := wideTree(3)
	selection := Paths(
		[]Label{Label("c00001"), Label("sub")},
		[]Label{Label("c00002"), Label("blob")},
		[]Label{Label("missing")},
	)
	materialized, complete := MaterializePartial(tree, selection)
	require.False(complete)

	sub, ok := materialized.Child(Label("c00001"))
	require.True(ok)
	sub, ok = sub.Child(Label("sub"))
	require.True(ok)
	require.False(sub.IsLeaf())
	require.Len(sub.Children, 2)

	missing, ok := materialized.Child(Label("missing"))
	require.True(ok)
	require.False(missing.IsLeaf())
	require.Empty(missing.Children)

	ht := Build(tree)
	w := ht.Witness(materialized)
	require.Equal(ht.RootHash(), w.Digest())

	status, leaf := w.Lookup(Label("c00002"), Label("blob"))
	require.Equal(Found, status)
	require.Equal([]byte{2, 0}, leaf.Data)

	status, _ = w.Lookup(Label("missing"))
	require.Equal(Absent, status)
}

func TestMergeInconsistentWitnesses(t *testing.T) {
	require := require.New(t)

	_, err := merge(LeafWitness([]byte("a")), LeafWitness([]byte("b")))
	require.ErrorIs(err, errInconsistentWitness)

	_, err = merge(LabeledWitness(Label("a"), EmptyWitness()), LabeledWitness(Label("b"), EmptyWitness()))
	require.ErrorIs(err, errInconsistentWitness)

	_, err = merge(EmptyWitness(), LeafWitness(nil))
	require.ErrorIs(err, errInconsistentWitness)

	merged, err := merge(PrunedWitness(EmptyHash), EmptyWitness())
	require.NoError(err)
	require.Equal(EmptyKind, merged.Kind)
}

func TestPaths(t *testing.T) {
	require := require.New(t)

	selection := Paths(
		[]Label{Label("b"), Label("x")},
		[]Label{Label("a")},
		[]Label{Label("b")},
	)
	require.Len(selection.Children, 2)
	require.Equal(Label("a"), selection.Children[0].Label)
	require.True(selection.Children[0].Tree.IsLeaf())
	require.True(selection.Children[1].Tree.IsLeaf())
}
