package btree

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"golang.org/x/exp/slices"

	"github.com/tgc/tpie/blocks"
)

// leaf is a non-owning view of a block buffer holding an unordered array
// of values behind a degree header. Mutating the view dirties the
// underlying buffer; the caller is responsible for writing it back.
type leaf[K, V any] struct {
	buf    *blocks.Buffer
	tr     *Traits[K, V]
	params Parameters
}

func newLeaf[K, V any](buf *blocks.Buffer, tr *Traits[K, V], params Parameters) leaf[K, V] {
	return leaf[K, V]{buf: buf, tr: tr, params: params}
}

func (l leaf[K, V]) degree() uint64 {
	return binary.LittleEndian.Uint64(l.buf.Bytes())
}

func (l leaf[K, V]) setDegree(d uint64) {
	binary.LittleEndian.PutUint64(l.buf.Bytes(), d)
}

func (l leaf[K, V]) clear() { l.setDegree(0) }

func (l leaf[K, V]) value(i uint64) V {
	off := headerSize + int(i)*l.tr.ValueSize
	return l.tr.GetValue(l.buf.Bytes()[off:])
}

func (l leaf[K, V]) setValue(i uint64, v V) {
	off := headerSize + int(i)*l.tr.ValueSize
	l.tr.PutValue(l.buf.Bytes()[off:], v)
}

func (l leaf[K, V]) full() bool      { return l.degree() == l.params.LeafMax }
func (l leaf[K, V]) underfull() bool { return l.degree() < l.params.LeafMin }
func (l leaf[K, V]) empty() bool     { return l.degree() == 0 }

// values decodes the live value slots.
func (l leaf[K, V]) values() []V {
	d := l.degree()
	out := make([]V, d)
	for i := uint64(0); i < d; i++ {
		out[i] = l.value(i)
	}
	return out
}

// setValues overwrites the leaf contents.
func (l leaf[K, V]) setValues(vals []V) {
	for i, v := range vals {
		l.setValue(uint64(i), v)
	}
	l.setDegree(uint64(len(vals)))
}

// indexOf returns the slot of the first value whose key equals key, or
// degree() on a miss.
func (l leaf[K, V]) indexOf(key K) uint64 {
	d := l.degree()
	for i := uint64(0); i < d; i++ {
		if l.tr.equal(l.tr.KeyOf(l.value(i)), key) {
			return i
		}
	}
	return d
}

// count returns 0 or 1.
func (l leaf[K, V]) count(key K) int {
	if l.indexOf(key) == l.degree() {
		return 0
	}
	return 1
}

// insert appends v. Pre-condition: !full().
func (l leaf[K, V]) insert(v V) error {
	if l.full() {
		return errors.Wrap(ErrInvariant, "insert in full leaf")
	}
	d := l.degree()
	l.setValue(d, v)
	l.setDegree(d + 1)
	return nil
}

// erase removes the value with the given key by overwriting its slot
// with the last slot.
func (l leaf[K, V]) erase(key K) error {
	i := l.indexOf(key)
	d := l.degree()
	if i == d {
		return ErrKeyNotFound
	}
	l.setValue(i, l.value(d-1))
	l.setDegree(d - 1)
	return nil
}

// splitInsert distributes the leafMax values plus v over this leaf and
// rightBuf so that both end up with at least leafMin values, and returns
// the minimum key in the right leaf. Pre-condition: full().
func (l leaf[K, V]) splitInsert(v V, rightBuf *blocks.Buffer) (K, error) {
	var zero K
	if !l.full() {
		return zero, errors.Wrap(ErrInvariant, "split of non-full leaf")
	}
	right := newLeaf(rightBuf, l.tr, l.params)

	// Partition the current values against the inserted key.
	vk := l.tr.KeyOf(v)
	var lowers, uppers []V
	for _, w := range l.values() {
		if l.tr.Less(l.tr.KeyOf(w), vk) {
			lowers = append(lowers, w)
		} else {
			uppers = append(uppers, w)
		}
	}

	splitPoint := int(l.params.LeafMax / 2)
	var leftVals, rightVals []V
	switch ins := len(lowers); {
	case ins < splitPoint:
		// v goes left; the smallest uppers pad the left side.
		l.sortByKey(uppers)
		leftVals = append(append(lowers, uppers[:splitPoint-ins]...), v)
		rightVals = uppers[splitPoint-ins:]
	case ins > splitPoint:
		// v goes right; the largest lowers move right.
		l.sortByKey(lowers)
		leftVals = lowers[:splitPoint]
		rightVals = append(append(lowers[splitPoint:len(lowers):len(lowers)], uppers...), v)
	default:
		// Clean split around v.
		leftVals = append(lowers, v)
		rightVals = uppers
	}

	l.setValues(leftVals)
	right.setValues(rightVals)

	// The separator is the minimum key of the right leaf; the right
	// values are not necessarily sorted.
	minKey := l.tr.KeyOf(rightVals[0])
	for _, w := range rightVals[1:] {
		if k := l.tr.KeyOf(w); l.tr.Less(k, minKey) {
			minKey = k
		}
	}
	return minKey, nil
}

// fuseWith combines this leaf with its right sibling. If everything fits
// in one block the right leaf is drained into this one and fuseMerge is
// returned; otherwise the values are rebalanced around the median and
// fuseShare is returned along with the new minimum key of right.
func (l leaf[K, V]) fuseWith(right leaf[K, V]) (fuseResult, K) {
	var zero K
	if l.degree()+right.degree() <= l.params.LeafMax {
		d := l.degree()
		for i, v := range right.values() {
			l.setValue(d+uint64(i), v)
		}
		l.setDegree(d + right.degree())
		return fuseMerge, zero
	}

	all := append(l.values(), right.values()...)
	l.sortByKey(all)
	mid := len(all) / 2
	l.setValues(all[:mid])
	right.setValues(all[mid:])
	return fuseShare, l.tr.KeyOf(all[mid])
}

func (l leaf[K, V]) sortByKey(vals []V) {
	slices.SortFunc(vals, func(a, b V) int {
		ka, kb := l.tr.KeyOf(a), l.tr.KeyOf(b)
		switch {
		case l.tr.Less(ka, kb):
			return -1
		case l.tr.Less(kb, ka):
			return 1
		default:
			return 0
		}
	})
}
