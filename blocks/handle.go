// Package blocks manages a file of fixed-size blocks with an allocation
// bitmap persisted inside the file itself.
//
// File layout:
//
//	block 0   allocation bitmap — bit i (byte i>>3, LSB first) is 1 iff
//	          block i is allocated; bit 0 is always 1
//	block i   caller data, block size bytes (default 16 KiB)
//
// The collection hands out block handles and reads/writes whole blocks.
// It imposes no interpretation on block contents beyond block 0.
package blocks

// Handle identifies one block in a collection.
//
// Allocation is administered by the collection, so integer arithmetic on
// handles is meaningless. Handle 0 is reserved for the allocation bitmap
// and never returned to callers; it serves as the nil sentinel.
type Handle uint64

// Zero reports whether h is the reserved sentinel handle.
func (h Handle) Zero() bool { return h == 0 }

// Buffer holds the bytes of a single block together with its handle.
//
// A buffer is exclusively owned by one operation between acquisition and
// the write or free that releases it.
type Buffer struct {
	data   []byte
	handle Handle
}

// Resize sets the buffer to n bytes, all of them zeroed; previous
// contents are not kept. Resize(0) releases the backing array.
func (b *Buffer) Resize(n int) {
	if n == 0 {
		b.data = nil
		return
	}
	if cap(b.data) >= n {
		clear(b.data[:n])
		b.data = b.data[:n]
		return
	}
	b.data = make([]byte, n)
}

// Len returns the byte size of the buffer.
func (b *Buffer) Len() int { return len(b.data) }

// Bytes returns the raw block bytes.
func (b *Buffer) Bytes() []byte { return b.data }

// Handle returns the block handle associated with this buffer.
func (b *Buffer) Handle() Handle { return b.handle }

// SetHandle associates the buffer with a block handle.
func (b *Buffer) SetHandle(h Handle) { b.handle = h }
