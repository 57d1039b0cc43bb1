package btree

import (
	"os"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/tgc/tpie/blocks"
)

// config collects tree options shared by Open and OpenTemp.
type config struct {
	blockSize int
	log       *zap.Logger
}

// Option configures a tree before its collection is opened.
type Option func(*config)

// WithBlockSize sets the block size of the backing collection.
func WithBlockSize(n int) Option {
	return func(c *config) { c.blockSize = n }
}

// WithLogger sets the debug logger for the tree and its collection.
func WithLogger(l *zap.Logger) Option {
	return func(c *config) { c.log = l }
}

// Tree is an external-memory B+ tree of values keyed through its Traits,
// stored in a block collection.
//
// The root handle and height live in memory only; the collection file is
// not self-describing. A caller needing durability records Root and
// Height on close and restores them with SetRoot after reopening.
//
// A tree is single-owner: operations must not be interleaved.
type Tree[K, V any] struct {
	tr     Traits[K, V]
	blocks *blocks.Collection
	params Parameters

	root   blocks.Handle
	height uint64

	log      *zap.Logger
	tempPath string
	isOpen   bool
}

// Open opens a tree over the collection file at path, creating the file
// if absent. A fresh tree is empty; see SetRoot for reattaching to
// previously written blocks.
func Open[K, V any](path string, tr Traits[K, V], opts ...Option) (*Tree[K, V], error) {
	cfg := config{blockSize: blocks.DefaultBlockSize, log: zap.NewNop()}
	for _, o := range opts {
		o(&cfg)
	}
	col, err := blocks.Open(path, true,
		blocks.WithBlockSize(cfg.blockSize), blocks.WithLogger(cfg.log))
	if err != nil {
		return nil, err
	}
	t := &Tree[K, V]{
		tr:     tr,
		blocks: col,
		params: defaultParameters(cfg.blockSize, tr.KeySize, tr.ValueSize),
		log:    cfg.log,
		isOpen: true,
	}
	if err := t.params.validate(); err != nil {
		col.Close()
		return nil, errors.Wrapf(err, "block size %d too small", cfg.blockSize)
	}
	return t, nil
}

// OpenTemp opens a tree over an anonymous temporary file that is removed
// again on Close.
func OpenTemp[K, V any](tr Traits[K, V], opts ...Option) (*Tree[K, V], error) {
	f, err := os.CreateTemp("", "tpie-btree-*")
	if err != nil {
		return nil, errors.Wrap(err, "btree: temp file")
	}
	path := f.Name()
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, errors.Wrap(err, "btree: temp file")
	}
	t, err := Open[K, V](path, tr, opts...)
	if err != nil {
		os.Remove(path)
		return nil, err
	}
	t.tempPath = path
	return t, nil
}

// Close writes the allocation bitmap back and closes the collection.
// Anonymous backing files are removed. Close is idempotent.
func (t *Tree[K, V]) Close() error {
	if !t.isOpen {
		return nil
	}
	t.isOpen = false
	err := t.blocks.Close()
	if t.tempPath != "" {
		if rmErr := os.Remove(t.tempPath); err == nil && rmErr != nil {
			err = errors.Wrap(rmErr, "btree: remove temp file")
		}
	}
	return err
}

// Parameters returns the tree's degree bounds.
func (t *Tree[K, V]) Parameters() Parameters { return t.params }

// SetParameters replaces the degree bounds. The tree must be empty: live
// blocks are laid out for the parameters they were written under. On
// failure the previous parameters remain in effect.
func (t *Tree[K, V]) SetParameters(p Parameters) error {
	if !t.isOpen {
		return ErrNotOpen
	}
	if !t.root.Zero() {
		return errors.Wrap(ErrBadParameters, "tree is not empty")
	}
	if err := p.validate(); err != nil {
		return err
	}
	bs := t.blocks.BlockSize()
	if p.NodeMax > nodeFanout(bs, t.tr.KeySize) || p.LeafMax > leafFanout(bs, t.tr.ValueSize) {
		return errors.Wrapf(ErrBadParameters, "fanout exceeds block size %d", bs)
	}
	t.params = p
	return nil
}

// Root returns the handle of the root block, 0 for an empty tree.
func (t *Tree[K, V]) Root() blocks.Handle { return t.root }

// Height returns the number of internal levels above the leaves. 0 means
// the root block is a leaf.
func (t *Tree[K, V]) Height() uint64 { return t.height }

// SetRoot attaches the tree to an existing root block at the given
// height, as recorded by a previous session or written by a builder.
func (t *Tree[K, V]) SetRoot(root blocks.Handle, height uint64) {
	t.root = root
	t.height = height
}

// childIndex returns the index of the child to follow for key k: the
// first separator greater than k, or the rightmost child.
func (t *Tree[K, V]) childIndex(n node[K, V], k K) uint64 {
	i := uint64(0)
	for ; i < n.keys(); i++ {
		if t.tr.Less(k, n.key(i)) {
			break
		}
	}
	return i
}

// descend walks from the root to the leaf responsible for k, leaving the
// leaf block in buf and the internal ancestors on p.
func (t *Tree[K, V]) descend(k K, buf *blocks.Buffer, p *path) error {
	if err := t.blocks.Read(t.root, buf); err != nil {
		return err
	}
	for level := uint64(0); level < t.height; level++ {
		n := newNode(buf, &t.tr, t.params)
		i := t.childIndex(n, k)
		child := n.child(i)
		if child.Zero() {
			return errors.Wrap(ErrInvariant, "zero child handle in internal node")
		}
		if p != nil {
			p.follow(buf.Handle(), i)
		}
		if err := t.blocks.Read(child, buf); err != nil {
			return err
		}
	}
	return nil
}

// materializeRoot allocates the initial root leaf for an empty tree.
func (t *Tree[K, V]) materializeRoot() error {
	var buf blocks.Buffer
	if err := t.blocks.AllocateBuffer(&buf); err != nil {
		return err
	}
	newLeaf(&buf, &t.tr, t.params).clear()
	if err := t.blocks.Write(&buf); err != nil {
		return err
	}
	t.root = buf.Handle()
	t.height = 0
	t.log.Debug("materialized root leaf", zap.Uint64("block", uint64(t.root)))
	return nil
}

// Insert adds v to the tree, splitting blocks on the way up as needed.
func (t *Tree[K, V]) Insert(v V) error {
	if !t.isOpen {
		return ErrNotOpen
	}
	if t.root.Zero() {
		if err := t.materializeRoot(); err != nil {
			return err
		}
	}

	k := t.tr.KeyOf(v)
	var buf blocks.Buffer
	var p path
	if err := t.descend(k, &buf, &p); err != nil {
		return err
	}

	lf := newLeaf(&buf, &t.tr, t.params)
	if !lf.full() {
		if err := lf.insert(v); err != nil {
			return err
		}
		return t.blocks.Write(&buf)
	}

	// Split the leaf; the new right sibling is written before any parent
	// is touched.
	var rightBuf blocks.Buffer
	if err := t.blocks.AllocateBuffer(&rightBuf); err != nil {
		return err
	}
	midKey, err := lf.splitInsert(v, &rightBuf)
	if err != nil {
		return err
	}
	if err := t.blocks.Write(&buf); err != nil {
		return err
	}
	if err := t.blocks.Write(&rightBuf); err != nil {
		return err
	}

	left, right := buf.Handle(), rightBuf.Handle()
	for !p.empty() {
		parent := p.currentBlock()
		idx := p.currentIndex()
		p.parent()

		if err := t.blocks.Read(parent, &buf); err != nil {
			return err
		}
		n := newNode(&buf, &t.tr, t.params)
		if !n.full() {
			if err := n.insert(idx, midKey, left, right); err != nil {
				return err
			}
			return t.blocks.Write(&buf)
		}

		var leftBuf blocks.Buffer
		if err := t.blocks.AllocateBuffer(&leftBuf); err != nil {
			return err
		}
		if err := t.blocks.AllocateBuffer(&rightBuf); err != nil {
			return err
		}
		midKey, err = n.splitInsert(idx, midKey, left, right, &leftBuf, &rightBuf)
		if err != nil {
			return err
		}
		if err := t.blocks.Write(&leftBuf); err != nil {
			return err
		}
		if err := t.blocks.Write(&rightBuf); err != nil {
			return err
		}
		if err := t.blocks.Free(parent); err != nil {
			return err
		}
		left, right = leftBuf.Handle(), rightBuf.Handle()
	}

	// The root itself split: promote a new root above the two halves.
	var rootBuf blocks.Buffer
	if err := t.blocks.AllocateBuffer(&rootBuf); err != nil {
		return err
	}
	newNode(&rootBuf, &t.tr, t.params).newRoot(midKey, left, right)
	if err := t.blocks.Write(&rootBuf); err != nil {
		return err
	}
	t.root = rootBuf.Handle()
	t.height++
	t.log.Debug("root split",
		zap.Uint64("root", uint64(t.root)), zap.Uint64("height", t.height))
	return nil
}

// Erase removes the value with the given key, fusing underfull blocks
// back up the path. It returns ErrKeyNotFound if the key is absent.
func (t *Tree[K, V]) Erase(k K) error {
	if !t.isOpen {
		return ErrNotOpen
	}
	if t.root.Zero() {
		return ErrKeyNotFound
	}

	var buf blocks.Buffer
	var p path
	if err := t.descend(k, &buf, &p); err != nil {
		return err
	}
	lf := newLeaf(&buf, &t.tr, t.params)
	if err := lf.erase(k); err != nil {
		return err
	}
	if err := t.blocks.Write(&buf); err != nil {
		return err
	}
	if !lf.underfull() || p.empty() {
		// A root leaf may hold any number of values, including none.
		return nil
	}

	childIsLeaf := true
	for {
		parent := p.currentBlock()
		idx := p.currentIndex()
		rightIndex := idx
		if rightIndex < 1 {
			rightIndex = 1
		}

		var parentBuf, leftBuf, rightBuf blocks.Buffer
		if err := t.blocks.Read(parent, &parentBuf); err != nil {
			return err
		}
		n := newNode(&parentBuf, &t.tr, t.params)
		if err := t.blocks.Read(n.child(rightIndex-1), &leftBuf); err != nil {
			return err
		}
		if err := t.blocks.Read(n.child(rightIndex), &rightBuf); err != nil {
			return err
		}

		var res fuseResult
		if childIsLeaf {
			res = n.fuseLeaves(rightIndex, &leftBuf, &rightBuf)
		} else {
			res = n.fuse(rightIndex, &leftBuf, &rightBuf)
		}

		if res == fuseShare {
			if err := t.blocks.Write(&leftBuf); err != nil {
				return err
			}
			if err := t.blocks.Write(&rightBuf); err != nil {
				return err
			}
			return t.blocks.Write(&parentBuf)
		}

		// Merge: the survivor and the parent are written before the
		// discarded child is released.
		if err := t.blocks.Write(&leftBuf); err != nil {
			return err
		}
		if err := t.blocks.Write(&parentBuf); err != nil {
			return err
		}
		if err := t.blocks.Free(rightBuf.Handle()); err != nil {
			return err
		}

		p.parent()
		childIsLeaf = false
		if p.empty() {
			// The parent is the root. A root node that is down to a
			// single child is replaced by that child.
			if n.degree() == 1 {
				t.root = n.child(0)
				t.height--
				if err := t.blocks.Free(parent); err != nil {
					return err
				}
				t.log.Debug("root demoted",
					zap.Uint64("root", uint64(t.root)), zap.Uint64("height", t.height))
			}
			return nil
		}
		if !n.underfull() {
			return nil
		}
	}
}

// Count returns the number of stored values with the given key, 0 or 1.
func (t *Tree[K, V]) Count(k K) (int, error) {
	if !t.isOpen {
		return 0, ErrNotOpen
	}
	if t.root.Zero() {
		return 0, nil
	}
	var buf blocks.Buffer
	if err := t.descend(k, &buf, nil); err != nil {
		return 0, err
	}
	return newLeaf(&buf, &t.tr, t.params).count(k), nil
}

// TryFind looks up the value with the given key; the second result
// reports whether it was found.
func (t *Tree[K, V]) TryFind(k K) (V, bool, error) {
	var zero V
	if !t.isOpen {
		return zero, false, ErrNotOpen
	}
	if t.root.Zero() {
		return zero, false, nil
	}
	var buf blocks.Buffer
	if err := t.descend(k, &buf, nil); err != nil {
		return zero, false, err
	}
	lf := newLeaf(&buf, &t.tr, t.params)
	i := lf.indexOf(k)
	if i == lf.degree() {
		return zero, false, nil
	}
	return lf.value(i), true, nil
}

// Find looks up the value with the given key and returns
// ErrValueNotFound if it is absent.
func (t *Tree[K, V]) Find(k K) (V, error) {
	v, ok, err := t.TryFind(k)
	if err != nil {
		return v, err
	}
	if !ok {
		return v, ErrValueNotFound
	}
	return v, nil
}

// InOrderDump emits every stored value in non-decreasing key order.
func (t *Tree[K, V]) InOrderDump(emit func(V)) error {
	if !t.isOpen {
		return ErrNotOpen
	}
	if t.root.Zero() {
		return nil
	}
	return t.dump(t.root, 0, emit)
}

func (t *Tree[K, V]) dump(h blocks.Handle, depth uint64, emit func(V)) error {
	var buf blocks.Buffer
	if err := t.blocks.Read(h, &buf); err != nil {
		return err
	}
	if depth == t.height {
		lf := newLeaf(&buf, &t.tr, t.params)
		vals := lf.values()
		lf.sortByKey(vals)
		for _, v := range vals {
			emit(v)
		}
		return nil
	}
	n := newNode(&buf, &t.tr, t.params)
	for i := uint64(0); i < n.degree(); i++ {
		if err := t.dump(n.child(i), depth+1, emit); err != nil {
			return err
		}
	}
	return nil
}
