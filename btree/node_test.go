package btree

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tgc/tpie/blocks"
)

func newTestNode(t *testing.T, tr *Traits[uint64, uint64]) (node[uint64, uint64], *blocks.Buffer) {
	t.Helper()
	var buf blocks.Buffer
	buf.Resize(512)
	n := newNode(&buf, tr, testParams)
	n.clear()
	return n, &buf
}

func nodeChildren(n node[uint64, uint64]) []blocks.Handle {
	out := make([]blocks.Handle, n.degree())
	for i := range out {
		out[i] = n.child(uint64(i))
	}
	return out
}

func nodeKeys(n node[uint64, uint64]) []uint64 {
	out := make([]uint64, n.keys())
	for i := range out {
		out[i] = n.key(uint64(i))
	}
	return out
}

func TestNodeNewRoot(t *testing.T) {
	tr := Uint64Traits()
	n, _ := newTestNode(t, &tr)
	n.newRoot(42, 7, 8)

	require.EqualValues(t, 2, n.degree())
	require.Equal(t, []uint64{42}, nodeKeys(n))
	require.Equal(t, []blocks.Handle{7, 8}, nodeChildren(n))
}

func TestNodePushChild(t *testing.T) {
	tr := Uint64Traits()
	n, _ := newTestNode(t, &tr)

	require.NoError(t, n.pushFirstChild(10))
	require.ErrorIs(t, n.pushFirstChild(11), ErrInvariant)
	require.NoError(t, n.pushChild(100, 11))
	require.NoError(t, n.pushChild(200, 12))
	require.NoError(t, n.pushChild(300, 13))
	require.True(t, n.full())
	require.ErrorIs(t, n.pushChild(400, 14), ErrInvariant)

	require.Equal(t, []uint64{100, 200, 300}, nodeKeys(n))
	require.Equal(t, []blocks.Handle{10, 11, 12, 13}, nodeChildren(n))
}

func TestNodeInsertShiftsTail(t *testing.T) {
	tr := Uint64Traits()
	n, _ := newTestNode(t, &tr)
	require.NoError(t, n.pushFirstChild(1))
	require.NoError(t, n.pushChild(10, 2))
	require.NoError(t, n.pushChild(20, 3))

	// Child 2 splits into 8 and 9 around key 15.
	require.NoError(t, n.insert(1, 15, 8, 9))
	require.Equal(t, []uint64{10, 15, 20}, nodeKeys(n))
	require.Equal(t, []blocks.Handle{1, 8, 9, 3}, nodeChildren(n))

	require.ErrorIs(t, n.insert(0, 5, 6, 7), ErrInvariant)
}

func TestNodeInsertAtRightEdge(t *testing.T) {
	tr := Uint64Traits()
	n, _ := newTestNode(t, &tr)
	require.NoError(t, n.pushFirstChild(1))
	require.NoError(t, n.pushChild(10, 2))

	require.NoError(t, n.insert(1, 20, 8, 9))
	require.Equal(t, []uint64{10, 20}, nodeKeys(n))
	require.Equal(t, []blocks.Handle{1, 8, 9}, nodeChildren(n))
}

func TestNodeSplitInsert(t *testing.T) {
	tr := Uint64Traits()
	n, _ := newTestNode(t, &tr)
	require.NoError(t, n.pushFirstChild(1))
	require.NoError(t, n.pushChild(10, 2))
	require.NoError(t, n.pushChild(20, 3))
	require.NoError(t, n.pushChild(30, 4))

	left, leftBuf := newTestNode(t, &tr)
	right, rightBuf := newTestNode(t, &tr)

	// Child 3 splits into 8 and 9 around key 25.
	mid, err := n.splitInsert(2, 25, 8, 9, leftBuf, rightBuf)
	require.NoError(t, err)
	require.EqualValues(t, 25, mid)
	require.True(t, n.empty())

	require.Equal(t, []uint64{10, 20}, nodeKeys(left))
	require.Equal(t, []blocks.Handle{1, 2, 8}, nodeChildren(left))
	require.Equal(t, []uint64{30}, nodeKeys(right))
	require.Equal(t, []blocks.Handle{9, 4}, nodeChildren(right))
}

func TestNodeSplitInsertAtLeftEdge(t *testing.T) {
	tr := Uint64Traits()
	n, _ := newTestNode(t, &tr)
	require.NoError(t, n.pushFirstChild(1))
	require.NoError(t, n.pushChild(10, 2))
	require.NoError(t, n.pushChild(20, 3))
	require.NoError(t, n.pushChild(30, 4))

	left, leftBuf := newTestNode(t, &tr)
	right, rightBuf := newTestNode(t, &tr)

	mid, err := n.splitInsert(0, 5, 8, 9, leftBuf, rightBuf)
	require.NoError(t, err)
	require.EqualValues(t, 20, mid)

	require.Equal(t, []uint64{5, 10}, nodeKeys(left))
	require.Equal(t, []blocks.Handle{8, 9, 2}, nodeChildren(left))
	require.Equal(t, []uint64{30}, nodeKeys(right))
	require.Equal(t, []blocks.Handle{3, 4}, nodeChildren(right))
}

func TestNodeFuseMerge(t *testing.T) {
	tr := Uint64Traits()
	parent, _ := newTestNode(t, &tr)
	require.NoError(t, parent.pushFirstChild(100))
	require.NoError(t, parent.pushChild(50, 101))
	require.NoError(t, parent.pushChild(90, 102))

	left, leftBuf := newTestNode(t, &tr)
	require.NoError(t, left.pushFirstChild(1))
	require.NoError(t, left.pushChild(30, 2))

	right, rightBuf := newTestNode(t, &tr)
	require.NoError(t, right.pushFirstChild(3))
	require.NoError(t, right.pushChild(70, 4))

	res := parent.fuse(1, leftBuf, rightBuf)
	require.Equal(t, fuseMerge, res)

	require.Equal(t, []uint64{30, 50, 70}, nodeKeys(left))
	require.Equal(t, []blocks.Handle{1, 2, 3, 4}, nodeChildren(left))

	require.Equal(t, []uint64{90}, nodeKeys(parent))
	require.Equal(t, []blocks.Handle{100, 102}, nodeChildren(parent))
}

func TestNodeFuseShare(t *testing.T) {
	tr := Uint64Traits()
	parent, _ := newTestNode(t, &tr)
	require.NoError(t, parent.pushFirstChild(100))
	require.NoError(t, parent.pushChild(50, 101))

	left, leftBuf := newTestNode(t, &tr)
	require.NoError(t, left.pushFirstChild(1))

	right, rightBuf := newTestNode(t, &tr)
	require.NoError(t, right.pushFirstChild(2))
	require.NoError(t, right.pushChild(60, 3))
	require.NoError(t, right.pushChild(70, 4))
	require.NoError(t, right.pushChild(80, 5))

	res := parent.fuse(1, leftBuf, rightBuf)
	require.Equal(t, fuseShare, res)

	require.Equal(t, []uint64{50}, nodeKeys(left))
	require.Equal(t, []blocks.Handle{1, 2}, nodeChildren(left))

	require.Equal(t, []uint64{70, 80}, nodeKeys(right))
	require.Equal(t, []blocks.Handle{3, 4, 5}, nodeChildren(right))

	require.Equal(t, []uint64{60}, nodeKeys(parent))
}

func TestNodeFuseLeaves(t *testing.T) {
	tr := Uint64Traits()
	parent, _ := newTestNode(t, &tr)
	require.NoError(t, parent.pushFirstChild(100))
	require.NoError(t, parent.pushChild(50, 101))
	require.NoError(t, parent.pushChild(90, 102))

	left, leftBuf := newTestLeaf(t, &tr)
	require.NoError(t, left.insert(10))
	right, rightBuf := newTestLeaf(t, &tr)
	require.NoError(t, right.insert(50))
	require.NoError(t, right.insert(60))

	res := parent.fuseLeaves(1, leftBuf, rightBuf)
	require.Equal(t, fuseMerge, res)
	require.Equal(t, []uint64{10, 50, 60}, leafContents(left))
	require.Equal(t, []uint64{90}, nodeKeys(parent))
	require.Equal(t, []blocks.Handle{100, 102}, nodeChildren(parent))
}

func TestNodeFuseLeavesShare(t *testing.T) {
	tr := Uint64Traits()
	parent, _ := newTestNode(t, &tr)
	require.NoError(t, parent.pushFirstChild(100))
	require.NoError(t, parent.pushChild(50, 101))

	left, leftBuf := newTestLeaf(t, &tr)
	require.NoError(t, left.insert(10))
	right, rightBuf := newTestLeaf(t, &tr)
	for _, v := range []uint64{50, 60, 70, 80} {
		require.NoError(t, right.insert(v))
	}

	res := parent.fuseLeaves(1, leftBuf, rightBuf)
	require.Equal(t, fuseShare, res)
	require.Equal(t, []uint64{10, 50}, leafContents(left))
	require.Equal(t, []uint64{60, 70, 80}, leafContents(right))
	require.Equal(t, []uint64{60}, nodeKeys(parent))
}
