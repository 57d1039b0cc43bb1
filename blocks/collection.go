package blocks

import (
	"os"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// DefaultBlockSize is the block size used unless WithBlockSize is given.
const DefaultBlockSize = 16 * 1024

var (
	// ErrNotOpen is returned by operations on a closed collection.
	ErrNotOpen = errors.New("blocks: collection not open")

	// ErrReadOnly is returned when a mutating operation is attempted on a
	// collection opened read-only.
	ErrReadOnly = errors.New("blocks: collection opened read-only")

	// ErrOutOfBlocks is returned by Allocate when every bit of the
	// allocation bitmap is set.
	ErrOutOfBlocks = errors.New("blocks: out of blocks")

	// ErrOutOfRange is returned for handles outside the bitmap, and for
	// attempts to free the reserved bitmap block.
	ErrOutOfRange = errors.New("blocks: block handle out of range")
)

// Collection is a file of fixed-size blocks with a free-space bitmap in
// block 0. A collection is owned by a single tree; concurrent use of one
// collection is not supported.
type Collection struct {
	file      *os.File
	blockSize int
	writable  bool
	isOpen    bool
	bm        *bitmap
	log       *zap.Logger
}

// Option configures a Collection before it is opened.
type Option func(*Collection)

// WithBlockSize sets the block size in bytes. The size must be a
// positive multiple of 8. All opens of one file must use the same size.
func WithBlockSize(n int) Option {
	return func(c *Collection) { c.blockSize = n }
}

// WithLogger sets the debug logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(c *Collection) { c.log = l }
}

// Open opens the collection file at path, creating it if absent and
// writable is true. A fresh file gets an initial bitmap with only the
// bitmap block itself allocated; an existing file has its bitmap read
// from block 0.
func Open(path string, writable bool, opts ...Option) (*Collection, error) {
	c := &Collection{
		blockSize: DefaultBlockSize,
		writable:  writable,
		log:       zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.blockSize <= 0 || c.blockSize%8 != 0 {
		return nil, errors.Errorf("blocks: bad block size %d", c.blockSize)
	}

	flag := os.O_RDONLY
	if writable {
		flag = os.O_RDWR | os.O_CREATE
	}
	f, err := os.OpenFile(path, flag, 0644)
	if err != nil {
		return nil, errors.Wrap(err, "blocks: open")
	}
	c.file = f
	c.isOpen = true

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "blocks: stat")
	}
	if info.Size() == 0 {
		c.bm = newBitmap(c.blockSize)
		if writable {
			if err := c.writeBitmap(); err != nil {
				f.Close()
				return nil, err
			}
		}
	} else {
		var buf Buffer
		if err := c.Read(0, &buf); err != nil {
			f.Close()
			return nil, err
		}
		c.bm = loadBitmap(buf.Bytes())
	}

	c.log.Debug("collection opened",
		zap.String("path", path),
		zap.Bool("writable", writable),
		zap.Int("blockSize", c.blockSize))
	return c, nil
}

// Close writes the bitmap back to block 0 if the collection is writable
// and closes the file. Close is idempotent.
func (c *Collection) Close() error {
	if !c.isOpen {
		return nil
	}
	if c.writable {
		if err := c.writeBitmap(); err != nil {
			return err
		}
	}
	c.isOpen = false
	c.bm = nil
	if err := c.file.Close(); err != nil {
		return errors.Wrap(err, "blocks: close")
	}
	c.log.Debug("collection closed")
	return nil
}

// BlockSize returns the size in bytes of each block.
func (c *Collection) BlockSize() int { return c.blockSize }

// Allocate reserves a free block and returns its handle. It never
// returns handle 0, which is held by the allocation bitmap.
func (c *Collection) Allocate() (Handle, error) {
	if !c.isOpen {
		return 0, ErrNotOpen
	}
	if !c.writable {
		return 0, ErrReadOnly
	}
	id, ok := c.bm.alloc()
	if !ok {
		return 0, ErrOutOfBlocks
	}
	allocCounter.Inc()
	c.log.Debug("allocated block", zap.Uint64("block", id))
	return Handle(id), nil
}

// AllocateBuffer reserves a free block, resizes buf to one block of
// zeroes and stamps the new handle on it.
func (c *Collection) AllocateBuffer(buf *Buffer) error {
	h, err := c.Allocate()
	if err != nil {
		return err
	}
	buf.SetHandle(h)
	buf.Resize(0)
	buf.Resize(c.blockSize)
	return nil
}

// Free releases the block behind h for reuse. Freeing an already-free
// block is a no-op.
func (c *Collection) Free(h Handle) error {
	if !c.isOpen {
		return ErrNotOpen
	}
	if !c.writable {
		return ErrReadOnly
	}
	if h == 0 || uint64(h) >= c.bm.blocks() {
		return errors.Wrapf(ErrOutOfRange, "free %d", h)
	}
	c.bm.free(uint64(h))
	freeCounter.Inc()
	c.log.Debug("freed block", zap.Uint64("block", uint64(h)))
	return nil
}

// FreeBuffer releases the block behind the buffer's handle and drops the
// buffer's backing array.
func (c *Collection) FreeBuffer(buf *Buffer) error {
	if err := c.Free(buf.Handle()); err != nil {
		return err
	}
	buf.Resize(0)
	return nil
}

// Allocated reports whether the block behind h is currently allocated.
func (c *Collection) Allocated(h Handle) bool {
	if !c.isOpen || uint64(h) >= c.bm.blocks() {
		return false
	}
	return c.bm.allocated(uint64(h))
}

// Read fills buf with the contents of block h and stamps the handle.
func (c *Collection) Read(h Handle, buf *Buffer) error {
	if !c.isOpen {
		return ErrNotOpen
	}
	buf.SetHandle(h)
	buf.Resize(c.blockSize)
	if _, err := c.file.ReadAt(buf.Bytes(), c.offset(h)); err != nil {
		return errors.Wrapf(err, "blocks: read block %d", h)
	}
	readCounter.Inc()
	return nil
}

// Write stores the buffer's bytes at the buffer's handle.
func (c *Collection) Write(buf *Buffer) error {
	if !c.isOpen {
		return ErrNotOpen
	}
	if !c.writable {
		return ErrReadOnly
	}
	if buf.Len() != c.blockSize {
		return errors.Errorf("blocks: write of %d bytes to block %d, want %d",
			buf.Len(), buf.Handle(), c.blockSize)
	}
	if _, err := c.file.WriteAt(buf.Bytes(), c.offset(buf.Handle())); err != nil {
		return errors.Wrapf(err, "blocks: write block %d", buf.Handle())
	}
	writeCounter.Inc()
	return nil
}

func (c *Collection) offset(h Handle) int64 {
	return int64(h) * int64(c.blockSize)
}

// writeBitmap stores the in-memory bitmap into block 0.
func (c *Collection) writeBitmap() error {
	var buf Buffer
	buf.SetHandle(0)
	buf.Resize(c.blockSize)
	c.bm.store(buf.Bytes())
	return c.Write(&buf)
}
