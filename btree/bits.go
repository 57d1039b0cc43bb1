package btree

import (
	"github.com/pkg/errors"

	"github.com/tgc/tpie/blocks"
)

var (
	// ErrKeyNotFound is returned by Erase when the key is absent.
	ErrKeyNotFound = errors.New("btree: key not found")

	// ErrValueNotFound is returned by Find when the key is absent.
	// TryFind reports a miss instead.
	ErrValueNotFound = errors.New("btree: value not found")

	// ErrNotOpen is returned by operations on a closed tree.
	ErrNotOpen = errors.New("btree: tree not open")

	// ErrInvariant marks a detected precondition breach in a block view.
	// These are programming faults, not data errors.
	ErrInvariant = errors.New("btree: invariant violation")

	// ErrBuilderSealed is returned by Push and End after End.
	ErrBuilderSealed = errors.New("btree: builder sealed")

	// ErrBadParameters is returned by SetParameters for values violating
	// the parameter constraints.
	ErrBadParameters = errors.New("btree: bad parameters")
)

// headerSize is the byte size of the degree header every tree block
// starts with.
const headerSize = 8

// Parameters are the branching and leaf bounds of a tree: a non-root
// node has between NodeMin and NodeMax children, a non-root leaf between
// LeafMin and LeafMax values.
type Parameters struct {
	NodeMin uint64
	NodeMax uint64
	LeafMin uint64
	LeafMax uint64
}

// validate checks the degree constraints required for split and fuse to
// preserve the tree invariants.
func (p Parameters) validate() error {
	if p.NodeMin < 2 || p.NodeMax < 2*p.NodeMin-1 {
		return errors.Wrapf(ErrBadParameters,
			"nodeMin=%d nodeMax=%d", p.NodeMin, p.NodeMax)
	}
	if p.LeafMin < 2 || p.LeafMax < 2*p.LeafMin-1 {
		return errors.Wrapf(ErrBadParameters,
			"leafMin=%d leafMax=%d", p.LeafMin, p.LeafMax)
	}
	return nil
}

// leafFanout returns the number of value slots a block can hold.
func leafFanout(blockSize, valueSize int) uint64 {
	return uint64((blockSize - headerSize) / valueSize)
}

// nodeFanout returns the number of child slots a block can hold, leaving
// room for one more child pointer than keys.
func nodeFanout(blockSize, keySize int) uint64 {
	return uint64((blockSize - headerSize - 8) / (8 + keySize))
}

// defaultParameters derives maximal fanouts from the block size and
// minimums of roughly a quarter of that.
func defaultParameters(blockSize, keySize, valueSize int) Parameters {
	nodeMax := nodeFanout(blockSize, keySize)
	leafMax := leafFanout(blockSize, valueSize)
	return Parameters{
		NodeMin: (nodeMax + 3 + 3) / 4,
		NodeMax: nodeMax,
		LeafMin: (leafMax + 3 + 3) / 4,
		LeafMax: leafMax,
	}
}

// fuseResult is the outcome of fusing two adjacent siblings.
type fuseResult int

const (
	// fuseShare: both siblings are still in use, rebalanced around a new
	// separator key.
	fuseShare fuseResult = iota

	// fuseMerge: all of the right sibling was moved into the left.
	fuseMerge
)

// path records a descent from the root as a stack of
// (block, child index) pairs: each entry names an internal node and the
// index of the child that was followed out of it. The block one level
// below the top entry is not on the path; the driver holds it in a
// buffer.
type path struct {
	entries []pathEntry
}

type pathEntry struct {
	block blocks.Handle
	index uint64
}

// follow pushes a descent step: index is the child followed out of b.
// If the path is empty, b is the root; otherwise b is the child that the
// previous top's index names.
func (p *path) follow(b blocks.Handle, index uint64) {
	p.entries = append(p.entries, pathEntry{b, index})
}

// parent pops the most recent step.
func (p *path) parent() {
	p.entries = p.entries[:len(p.entries)-1]
}

func (p *path) currentBlock() blocks.Handle {
	return p.entries[len(p.entries)-1].block
}

func (p *path) currentIndex() uint64 {
	return p.entries[len(p.entries)-1].index
}

func (p *path) empty() bool { return len(p.entries) == 0 }

// builderState tracks the builder lifecycle.
type builderState int

const (
	// builderEmpty: no values pushed yet.
	builderEmpty builderState = iota
	// builderBuilding: values pushed, End not called.
	builderBuilding
	// builderBuilt: End has been called.
	builderBuilt
)
