package btree

import (
	"github.com/phf/go-queue/queue"
	"github.com/pkg/errors"

	"github.com/tgc/tpie/blocks"
)

// handleKey is one completed subtree in a builder layer: the handle of
// its top block and the first (minimum) key below it.
type handleKey[K any] struct {
	handle blocks.Handle
	key    K
}

// Builder assembles a B+ tree bottom-up from a sorted sequence of
// values, writing each block once. The one exception is End: when the
// trailing leaf is below leafMin, the last full leaf is written a second
// time after sharing values with it.
//
// Completed leaves collect in a deque per tree level; once a level holds
// more than nodeMin+nodeMax fragments, nodeMax of them are coalesced
// into a parent block one level up. Coalescing any earlier could leave
// the final right spine with fewer than nodeMin children.
//
// Push values in non-decreasing key order, then call End exactly once;
// End installs the finished root into the tree.
type Builder[K, V any] struct {
	state builderState
	tree  *Tree[K, V]

	// Next leaf to flush, and the key of its first value.
	leafBuf blocks.Buffer
	leafKey K

	// Scratch buffer for parent blocks.
	blockBuf blocks.Buffer

	// layers[0] holds completed leaves, layers[i+1] completed blocks
	// covering layers[i].
	layers []*queue.Queue
}

// NewBuilder returns a builder targeting t, which must be empty.
func NewBuilder[K, V any](t *Tree[K, V]) (*Builder[K, V], error) {
	if !t.isOpen {
		return nil, ErrNotOpen
	}
	if !t.root.Zero() {
		return nil, errors.Wrap(ErrInvariant, "build into non-empty tree")
	}
	b := &Builder[K, V]{
		tree:   t,
		layers: []*queue.Queue{queue.New()},
	}
	if err := t.blocks.AllocateBuffer(&b.leafBuf); err != nil {
		return nil, err
	}
	newLeaf(&b.leafBuf, &t.tr, t.params).clear()
	return b, nil
}

// Push appends v, whose key must not be less than any key pushed before.
func (b *Builder[K, V]) Push(v V) error {
	if b.state == builderBuilt {
		return errors.Wrap(ErrBuilderSealed, "push after end")
	}
	b.state = builderBuilding

	lf := newLeaf(&b.leafBuf, &b.tree.tr, b.tree.params)
	if lf.full() {
		if err := b.pushLeaf(); err != nil {
			return err
		}
		if err := b.newLeaf(); err != nil {
			return err
		}
		lf = newLeaf(&b.leafBuf, &b.tree.tr, b.tree.params)
	}
	if lf.empty() {
		b.leafKey = b.tree.tr.KeyOf(v)
	}
	return lf.insert(v)
}

// End flushes the trailing fragments, finishes every layer and installs
// the root into the tree.
func (b *Builder[K, V]) End() error {
	switch b.state {
	case builderBuilt:
		return errors.Wrap(ErrBuilderSealed, "end after end")
	case builderEmpty:
		// Nothing was pushed; release the pre-allocated leaf and leave
		// the tree empty.
		b.state = builderBuilt
		return b.tree.blocks.FreeBuffer(&b.leafBuf)
	}

	if !newLeaf(&b.leafBuf, &b.tree.tr, b.tree.params).empty() {
		if err := b.pushTrailingLeaf(); err != nil {
			return err
		}
	}

	for i := 0; i < len(b.layers); i++ {
		if i == len(b.layers)-1 && b.layers[i].Len() == 1 {
			break
		}
		if err := b.finishLayer(i); err != nil {
			return err
		}
	}

	top := b.layers[len(b.layers)-1]
	root := top.Front().(handleKey[K])
	b.tree.SetRoot(root.handle, uint64(len(b.layers)-1))
	b.state = builderBuilt
	return nil
}

// pushTrailingLeaf files the final partial leaf. A trailing leaf below
// leafMin would violate the leaf degree bound, so it first shares values
// with the previously completed leaf, which is always full.
func (b *Builder[K, V]) pushTrailingLeaf() error {
	lf := newLeaf(&b.leafBuf, &b.tree.tr, b.tree.params)
	if lf.underfull() && b.layers[0].Len() > 0 {
		prev := b.layers[0].PopBack().(handleKey[K])
		var prevBuf blocks.Buffer
		if err := b.tree.blocks.Read(prev.handle, &prevBuf); err != nil {
			return err
		}
		prevLeaf := newLeaf(&prevBuf, &b.tree.tr, b.tree.params)

		res, mid := prevLeaf.fuseWith(lf)
		if err := b.tree.blocks.Write(&prevBuf); err != nil {
			return err
		}
		b.layers[0].PushBack(prev)
		if res == fuseMerge {
			return b.tree.blocks.FreeBuffer(&b.leafBuf)
		}
		b.leafKey = mid
	}
	return b.pushLeaf()
}

// pushLeaf files the current leaf into layer 0 and coalesces.
func (b *Builder[K, V]) pushLeaf() error {
	b.layers[0].PushBack(handleKey[K]{handle: b.leafBuf.Handle(), key: b.leafKey})
	if err := b.tree.blocks.Write(&b.leafBuf); err != nil {
		return err
	}
	return b.reduceLayer(0)
}

// newLeaf allocates and clears a fresh leaf buffer.
func (b *Builder[K, V]) newLeaf() error {
	if err := b.tree.blocks.AllocateBuffer(&b.leafBuf); err != nil {
		return err
	}
	newLeaf(&b.leafBuf, &b.tree.tr, b.tree.params).clear()
	return nil
}

// reduceLayer drains full parents out of a layer while it holds more
// than nodeMin+nodeMax fragments, then recurses one level up.
func (b *Builder[K, V]) reduceLayer(level int) error {
	min := b.tree.params.NodeMin
	max := b.tree.params.NodeMax
	if uint64(b.layers[level].Len()) <= min+max {
		return nil
	}
	for uint64(b.layers[level].Len()) > min+max {
		if err := b.pushBlock(max, level+1); err != nil {
			return err
		}
	}
	return b.reduceLayer(level + 1)
}

// finishLayer drains a layer completely. If more than nodeMax fragments
// remain after the full parents, one parent of size len-nodeMin is cut
// first so the final pair straddles the boundary with at least nodeMin
// children each.
func (b *Builder[K, V]) finishLayer(level int) error {
	min := b.tree.params.NodeMin
	max := b.tree.params.NodeMax
	for uint64(b.layers[level].Len()) > min+max {
		if err := b.pushBlock(max, level+1); err != nil {
			return err
		}
	}
	if uint64(b.layers[level].Len()) > max {
		if err := b.pushBlock(uint64(b.layers[level].Len())-min, level+1); err != nil {
			return err
		}
	}
	if b.layers[level].Len() > 0 {
		if err := b.pushBlock(uint64(b.layers[level].Len()), level+1); err != nil {
			return err
		}
	}
	return nil
}

// pushBlock coalesces the next children fragments of level-1 into one
// new block on the given level.
func (b *Builder[K, V]) pushBlock(children uint64, level int) error {
	if level == 0 || level > len(b.layers) {
		return errors.Wrapf(ErrInvariant, "pushBlock at level %d", level)
	}
	if level == len(b.layers) {
		b.layers = append(b.layers, queue.New())
	}

	if err := b.tree.blocks.AllocateBuffer(&b.blockBuf); err != nil {
		return err
	}
	blk := newNode(&b.blockBuf, &b.tree.tr, b.tree.params)
	blk.clear()

	src := b.layers[level-1]
	first, ok := src.Front().(handleKey[K])
	if !ok {
		return errors.Wrap(ErrInvariant, "pushBlock on empty source layer")
	}
	b.layers[level].PushBack(handleKey[K]{handle: b.blockBuf.Handle(), key: first.key})

	for i := uint64(0); i < children; i++ {
		front, ok := src.PopFront().(handleKey[K])
		if !ok {
			return errors.Wrap(ErrInvariant, "pushBlock on empty source layer")
		}
		var err error
		if i == 0 {
			err = blk.pushFirstChild(front.handle)
		} else {
			err = blk.pushChild(front.key, front.handle)
		}
		if err != nil {
			return err
		}
	}
	return b.tree.blocks.Write(&b.blockBuf)
}
