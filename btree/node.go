package btree

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/tgc/tpie/blocks"
)

// node is a non-owning view of a block buffer holding an internal tree
// node: a degree header, nodeMax child-handle slots and nodeMax-1 key
// slots. The first degree children and degree-1 keys are live; every key
// in the subtree behind child i is at least key i-1 and less than key i.
type node[K, V any] struct {
	buf    *blocks.Buffer
	tr     *Traits[K, V]
	params Parameters
}

func newNode[K, V any](buf *blocks.Buffer, tr *Traits[K, V], params Parameters) node[K, V] {
	return node[K, V]{buf: buf, tr: tr, params: params}
}

func (n node[K, V]) degree() uint64 {
	return binary.LittleEndian.Uint64(n.buf.Bytes())
}

func (n node[K, V]) setDegree(d uint64) {
	binary.LittleEndian.PutUint64(n.buf.Bytes(), d)
}

func (n node[K, V]) clear() { n.setDegree(0) }

// keys returns the number of live separator keys, degree-1.
func (n node[K, V]) keys() uint64 { return n.degree() - 1 }

func (n node[K, V]) full() bool      { return n.degree() == n.params.NodeMax }
func (n node[K, V]) underfull() bool { return n.degree() < n.params.NodeMin }
func (n node[K, V]) empty() bool     { return n.degree() == 0 }

func (n node[K, V]) child(i uint64) blocks.Handle {
	off := headerSize + int(i)*8
	return blocks.Handle(binary.LittleEndian.Uint64(n.buf.Bytes()[off:]))
}

func (n node[K, V]) setChild(i uint64, h blocks.Handle) {
	off := headerSize + int(i)*8
	binary.LittleEndian.PutUint64(n.buf.Bytes()[off:], uint64(h))
}

func (n node[K, V]) key(i uint64) K {
	off := headerSize + int(n.params.NodeMax)*8 + int(i)*n.tr.KeySize
	return n.tr.GetKey(n.buf.Bytes()[off:])
}

func (n node[K, V]) setKey(i uint64, k K) {
	off := headerSize + int(n.params.NodeMax)*8 + int(i)*n.tr.KeySize
	n.tr.PutKey(n.buf.Bytes()[off:], k)
}

// newRoot initialises a freshly allocated node as the root above two
// children separated by k.
func (n node[K, V]) newRoot(k K, left, right blocks.Handle) {
	n.setDegree(2)
	n.setKey(0, k)
	n.setChild(0, left)
	n.setChild(1, right)
}

// pushFirstChild seeds an empty node with its leftmost child.
// Builder use. Pre-condition: empty().
func (n node[K, V]) pushFirstChild(h blocks.Handle) error {
	if !n.empty() {
		return errors.Wrap(ErrInvariant, "pushFirstChild on non-empty node")
	}
	n.setChild(0, h)
	n.setDegree(1)
	return nil
}

// pushChild appends a separator key and child at the right edge.
// Builder use. Pre-condition: !full().
func (n node[K, V]) pushChild(k K, h blocks.Handle) error {
	if n.full() {
		return errors.Wrap(ErrInvariant, "pushChild on full node")
	}
	d := n.degree() + 1
	n.setDegree(d)
	n.setKey(d-2, k)
	n.setChild(d-1, h)
	return nil
}

// insert replaces child i by the pair (left, right) separated by k,
// shifting the tail right by one. Pre-condition: !full().
func (n node[K, V]) insert(i uint64, k K, left, right blocks.Handle) error {
	if n.full() {
		return errors.Wrap(ErrInvariant, "insert on full node")
	}
	n.setChild(i, left)
	c := right
	for i < n.keys() {
		c = n.swapChild(i+1, c)
		k = n.swapKey(i, k)
		i++
	}
	n.setChild(i+1, c)
	n.setKey(i, k)
	n.setDegree(n.degree() + 1)
	return nil
}

func (n node[K, V]) swapChild(i uint64, h blocks.Handle) blocks.Handle {
	old := n.child(i)
	n.setChild(i, h)
	return old
}

func (n node[K, V]) swapKey(i uint64, k K) K {
	old := n.key(i)
	n.setKey(i, k)
	return old
}

// splitInsert performs the virtual insertion of (k, left, right) at
// index i into this full node and distributes the resulting nodeMax+1
// children over leftBuf and rightBuf. The centre key is lifted out and
// returned; this node is left cleared. Pre-condition: full().
func (n node[K, V]) splitInsert(i uint64, k K, left, right blocks.Handle,
	leftBuf, rightBuf *blocks.Buffer) (K, error) {

	var zero K
	if !n.full() {
		return zero, errors.Wrap(ErrInvariant, "split of non-full node")
	}

	children := make([]blocks.Handle, n.degree()+1)
	keys := make([]K, n.keys()+1)
	for j := uint64(0); j < n.keys(); j++ {
		dest := j
		if i <= j {
			dest++
		}
		children[dest] = n.child(j)
		keys[dest] = n.key(j)
	}
	children[n.degree()] = n.child(n.degree() - 1)
	keys[i] = k
	children[i] = left
	children[i+1] = right

	leftNode := newNode(leftBuf, n.tr, n.params)
	rightNode := newNode(rightBuf, n.tr, n.params)

	in := 0
	out := uint64(0)
	for ; in*2 < len(keys); out++ {
		leftNode.setChild(out, children[in])
		leftNode.setKey(out, keys[in])
		in++
	}
	leftNode.setChild(out, children[in])
	leftNode.setDegree(out + 1)

	midKey := keys[in]
	in++

	out = 0
	for ; in < len(keys); out++ {
		rightNode.setChild(out, children[in])
		rightNode.setKey(out, keys[in])
		in++
	}
	rightNode.setChild(out, children[in])
	rightNode.setDegree(out + 1)

	n.clear()
	return midKey, nil
}

// fuseLeaves fuses the leaves at child rightIndex-1 and rightIndex. On a
// merge the separator key and the right child are removed from this
// node; on a share the separator is replaced by the new mid key.
func (n node[K, V]) fuseLeaves(rightIndex uint64, leftBuf, rightBuf *blocks.Buffer) fuseResult {
	left := newLeaf(leftBuf, n.tr, n.params)
	right := newLeaf(rightBuf, n.tr, n.params)

	res, midKey := left.fuseWith(right)
	switch res {
	case fuseMerge:
		n.removeSeparator(rightIndex)
	case fuseShare:
		n.setKey(rightIndex-1, midKey)
	}
	return res
}

// fuse fuses the internal nodes at child rightIndex-1 and rightIndex,
// pulling the separator key down. If everything fits in one block the
// right node is drained into the left and the separator removed from
// this node; otherwise both are rebalanced and the median key replaces
// the separator.
func (n node[K, V]) fuse(rightIndex uint64, leftBuf, rightBuf *blocks.Buffer) fuseResult {
	left := newNode(leftBuf, n.tr, n.params)
	right := newNode(rightBuf, n.tr, n.params)

	keys := make([]K, 0, left.keys()+1+right.keys())
	children := make([]blocks.Handle, 0, left.degree()+right.degree())
	for i := uint64(0); i < left.keys(); i++ {
		keys = append(keys, left.key(i))
		children = append(children, left.child(i))
	}
	keys = append(keys, n.key(rightIndex-1))
	children = append(children, left.child(left.keys()))
	for i := uint64(0); i < right.keys(); i++ {
		keys = append(keys, right.key(i))
		children = append(children, right.child(i))
	}
	children = append(children, right.child(right.keys()))

	if uint64(len(children)) <= n.params.NodeMax {
		for i, k := range keys {
			left.setKey(uint64(i), k)
		}
		for i, c := range children {
			left.setChild(uint64(i), c)
		}
		left.setDegree(uint64(len(children)))

		n.removeSeparator(rightIndex)
		return fuseMerge
	}

	half := len(children) / 2
	for i := 0; i < half; i++ {
		left.setChild(uint64(i), children[i])
		if i < half-1 {
			left.setKey(uint64(i), keys[i])
		}
	}
	left.setDegree(uint64(half))

	n.setKey(rightIndex-1, keys[half-1])

	for i := half; i < len(children); i++ {
		right.setChild(uint64(i-half), children[i])
		if i < len(children)-1 {
			right.setKey(uint64(i-half), keys[i])
		}
	}
	right.setDegree(uint64(len(children) - half))
	return fuseShare
}

// removeSeparator drops separator key rightIndex-1 and child rightIndex,
// shifting the tails left by one.
func (n node[K, V]) removeSeparator(rightIndex uint64) {
	for i := rightIndex; i < n.keys(); i++ {
		n.setKey(i-1, n.key(i))
	}
	for i := rightIndex + 1; i < n.degree(); i++ {
		n.setChild(i-1, n.child(i))
	}
	n.setDegree(n.degree() - 1)
}
