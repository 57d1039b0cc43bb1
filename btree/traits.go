// Package btree implements an external-memory B+ tree over a block
// collection.
//
// Block layout (imposed here, not by the blocks package):
//
//	[0-7]   uint64  degree — child count for a node, value count for a leaf
//	leaf:   leafMax value slots, the first degree live, unordered
//	node:   nodeMax child-handle slots (uint64 each),
//	        then nodeMax-1 key slots, the first degree / degree-1 live
//
// Whether a block is a leaf or a node is not stored; it follows from the
// block's depth relative to the tree height.
package btree

import (
	"encoding/binary"

	"golang.org/x/exp/constraints"
)

// Traits carries the key/value capability of a tree: the comparator, the
// key projection and the fixed-size little-endian codecs used for block
// layout.
//
// Less must be a strict weak order: a and b are equal iff neither
// Less(a, b) nor Less(b, a). KeyOf must be pure, and two values must
// compare equal iff their keys do.
type Traits[K, V any] struct {
	Less  func(a, b K) bool
	KeyOf func(V) K

	KeySize   int
	ValueSize int

	PutKey func(dst []byte, k K)
	GetKey func(src []byte) K

	PutValue func(dst []byte, v V)
	GetValue func(src []byte) V
}

// equal reports key equality under the comparator, by antisymmetry.
func (tr *Traits[K, V]) equal(a, b K) bool {
	return !tr.Less(a, b) && !tr.Less(b, a)
}

// OrderedLess is the natural comparator for ordered key types.
func OrderedLess[T constraints.Ordered](a, b T) bool { return a < b }

// Uint64Traits returns traits for a tree of uint64 values that are their
// own keys.
func Uint64Traits() Traits[uint64, uint64] {
	return Traits[uint64, uint64]{
		Less:      OrderedLess[uint64],
		KeyOf:     func(v uint64) uint64 { return v },
		KeySize:   8,
		ValueSize: 8,
		PutKey:    binary.LittleEndian.PutUint64,
		GetKey:    binary.LittleEndian.Uint64,
		PutValue:  binary.LittleEndian.PutUint64,
		GetValue:  binary.LittleEndian.Uint64,
	}
}
