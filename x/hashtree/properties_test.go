// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package hashtree

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

func blobFork(values map[string][]byte) LazyTree {
	children := make(map[string]LazyTree, len(values))
	for label, value := range values {
		children[label] = Blob(value)
	}
	return LazyFork(NewMapFork(children))
}

func genValues() gopter.Gen {
	return gen.MapOf(gen.Identifier(), gen.SliceOf(gen.UInt8()))
}

func TestHashTreeProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("root hash doesn't depend on the number of workers", prop.ForAll(
		func(values map[string][]byte) string {
			tree := blobFork(values)
			sequential := BuildWithConfig(tree, Config{Workers: 1})
			parallel := BuildWithConfig(tree, Config{
				ParallelThreshold: 1,
				Workers:           4,
			})
			if sequential.RootHash() != parallel.RootHash() {
				return fmt.Sprintf("sequential root %s != parallel root %s", sequential.RootHash(), parallel.RootHash())
			}
			if expected := naiveHash(tree); sequential.RootHash() != expected {
				return fmt.Sprintf("root %s != recursive hash %s", sequential.RootHash(), expected)
			}
			return ""
		},
		genValues(),
	))

	properties.Property("witness of every label proves its value", prop.ForAll(
		func(values map[string][]byte) string {
			tree := blobFork(values)
			ht := Build(tree)
			for label, value := range values {
				w := witnessOf(tree, ht, []Label{Label(label)})
				if w.Digest() != ht.RootHash() {
					return fmt.Sprintf("witness of %q has digest %s, expected %s", label, w.Digest(), ht.RootHash())
				}
				status, leaf := w.Lookup(Label(label))
				if status != Found {
					return fmt.Sprintf("lookup of %q returned %s", label, status)
				}
				if !bytes.Equal(leaf.Data, value) {
					return fmt.Sprintf("lookup of %q returned %x, expected %x", label, leaf.Data, value)
				}
			}
			return ""
		},
		genValues(),
	))

	properties.Property("witness of the whole tree keeps the root hash", prop.ForAll(
		func(values map[string][]byte) string {
			tree := blobFork(values)
			ht := Build(tree)

			labels := maps.Keys(values)
			slices.Sort(labels)
			paths := make([][]Label, len(labels))
			for i, label := range labels {
				paths[i] = []Label{Label(label)}
			}
			if w := witnessOf(tree, ht, paths...); w.Digest() != ht.RootHash() {
				return fmt.Sprintf("full witness has digest %s, expected %s", w.Digest(), ht.RootHash())
			}
			return ""
		},
		genValues(),
	))

	properties.TestingRun(t)
}
