package btree

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tgc/tpie/blocks"
)

func buildSeq(t *testing.T, tree *Tree[uint64, uint64], n int) {
	t.Helper()
	b, err := NewBuilder(tree)
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		require.NoError(t, b.Push(uint64(i)))
	}
	require.NoError(t, b.End())
}

func TestBuilderHappyPath(t *testing.T) {
	tree := newTestTree(t)
	buildSeq(t, tree, 1000)

	checkInvariants(t, tree)
	require.Equal(t, seq(1000), dumpAll(t, tree))
}

func TestBuilderSizes(t *testing.T) {
	// Sizes around every boundary of the coalescing rules: single leaf,
	// exact leaf multiples, the nodeMin+nodeMax threshold and the
	// straddle of the final sibling pair, plus multi-level results.
	for _, n := range []int{1, 2, 3, 4, 5, 7, 8, 9, 16, 17, 20, 23, 24, 25, 100, 341, 1365} {
		tree := newTestTree(t)
		buildSeq(t, tree, n)

		checkInvariants(t, tree)
		require.Equal(t, seq(n), dumpAll(t, tree), "n=%d", n)

		// A built tree answers point queries through the driver.
		c, err := tree.Count(uint64(n / 2))
		require.NoError(t, err)
		require.Equal(t, 1, c, "n=%d", n)
		require.NoError(t, tree.Close())
	}
}

func TestBuilderEmpty(t *testing.T) {
	tree := newTestTree(t)
	b, err := NewBuilder(tree)
	require.NoError(t, err)
	require.NoError(t, b.End())

	require.True(t, tree.Root().Zero())
	require.Empty(t, dumpAll(t, tree))
	checkInvariants(t, tree)
}

func TestBuilderSealed(t *testing.T) {
	tree := newTestTree(t)
	b, err := NewBuilder(tree)
	require.NoError(t, err)
	require.NoError(t, b.Push(1))
	require.NoError(t, b.End())

	require.ErrorIs(t, b.Push(2), ErrBuilderSealed)
	require.ErrorIs(t, b.End(), ErrBuilderSealed)
}

func TestBuilderRejectsNonEmptyTree(t *testing.T) {
	tree := newTestTree(t)
	require.NoError(t, tree.Insert(1))

	_, err := NewBuilder(tree)
	require.ErrorIs(t, err, ErrInvariant)
}

func TestBuilderNoAbandonedBlocks(t *testing.T) {
	tree := newTestTree(t)
	buildSeq(t, tree, 500)

	// Every allocated block is reachable; the builder leaves no
	// abandoned fragments behind.
	checkInvariants(t, tree)

	// The built tree accepts further mutation through the driver.
	require.NoError(t, tree.Insert(1000))
	require.NoError(t, tree.Erase(250))
	checkInvariants(t, tree)

	want := append(seq(250), seq(500)[251:]...)
	want = append(want, 1000)
	require.Equal(t, want, dumpAll(t, tree))
}

func TestBuilderThenEraseAll(t *testing.T) {
	tree := newTestTree(t)
	buildSeq(t, tree, 100)

	for i := uint64(0); i < 100; i++ {
		require.NoError(t, tree.Erase(i))
	}
	require.Empty(t, dumpAll(t, tree))
	checkInvariants(t, tree)

	// All blocks except the root leaf and the bitmap are free again.
	used := 0
	for h := blocks.Handle(1); h < blocks.Handle(testBlockSize*8); h++ {
		if tree.blocks.Allocated(h) {
			used++
		}
	}
	require.Equal(t, 1, used)
}
