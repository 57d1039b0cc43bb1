package blocks

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestCollection(t *testing.T, blockSize int) (*Collection, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "blocks.db")
	c, err := Open(path, true, WithBlockSize(blockSize))
	require.NoError(t, err)
	return c, path
}

func TestAllocateNeverReturnsZero(t *testing.T) {
	c, _ := openTestCollection(t, 512)
	defer c.Close()

	for i := 1; i <= 16; i++ {
		h, err := c.Allocate()
		require.NoError(t, err)
		require.EqualValues(t, i, h)
	}
}

func TestFreeAndReuseLowestHandle(t *testing.T) {
	c, _ := openTestCollection(t, 512)
	defer c.Close()

	var hs []Handle
	for i := 0; i < 5; i++ {
		h, err := c.Allocate()
		require.NoError(t, err)
		hs = append(hs, h)
	}
	require.NoError(t, c.Free(hs[1]))
	require.NoError(t, c.Free(hs[3]))

	h, err := c.Allocate()
	require.NoError(t, err)
	require.Equal(t, hs[1], h)
	h, err = c.Allocate()
	require.NoError(t, err)
	require.Equal(t, hs[3], h)
}

func TestReadWriteRoundTrip(t *testing.T) {
	c, _ := openTestCollection(t, 256)
	defer c.Close()

	var buf Buffer
	require.NoError(t, c.AllocateBuffer(&buf))
	require.Equal(t, 256, buf.Len())
	for i := range buf.Bytes() {
		buf.Bytes()[i] = byte(i)
	}
	require.NoError(t, c.Write(&buf))

	var got Buffer
	require.NoError(t, c.Read(buf.Handle(), &got))
	require.Equal(t, buf.Handle(), got.Handle())
	require.Equal(t, buf.Bytes(), got.Bytes())
}

func TestBitmapSurvivesReopen(t *testing.T) {
	c, path := openTestCollection(t, 512)

	h1, err := c.Allocate()
	require.NoError(t, err)
	h2, err := c.Allocate()
	require.NoError(t, err)
	h3, err := c.Allocate()
	require.NoError(t, err)
	require.NoError(t, c.Free(h2))
	require.NoError(t, c.Close())

	c, err = Open(path, true, WithBlockSize(512))
	require.NoError(t, err)
	defer c.Close()

	require.True(t, c.Allocated(0))
	require.True(t, c.Allocated(h1))
	require.False(t, c.Allocated(h2))
	require.True(t, c.Allocated(h3))

	h, err := c.Allocate()
	require.NoError(t, err)
	require.Equal(t, h2, h)
}

func TestReadOnlyRejectsMutation(t *testing.T) {
	c, path := openTestCollection(t, 512)
	h, err := c.Allocate()
	require.NoError(t, err)
	require.NoError(t, c.Close())

	ro, err := Open(path, false, WithBlockSize(512))
	require.NoError(t, err)
	defer ro.Close()

	_, err = ro.Allocate()
	require.ErrorIs(t, err, ErrReadOnly)
	require.ErrorIs(t, ro.Free(h), ErrReadOnly)

	var buf Buffer
	require.NoError(t, ro.Read(0, &buf))
	require.ErrorIs(t, ro.Write(&buf), ErrReadOnly)
}

func TestOutOfBlocks(t *testing.T) {
	c, _ := openTestCollection(t, 8) // 64 handles, 0 reserved
	defer c.Close()

	for i := 0; i < 63; i++ {
		_, err := c.Allocate()
		require.NoError(t, err)
	}
	_, err := c.Allocate()
	require.ErrorIs(t, err, ErrOutOfBlocks)
}

func TestFreeRejectsReservedAndOutOfRange(t *testing.T) {
	c, _ := openTestCollection(t, 8)
	defer c.Close()

	require.ErrorIs(t, c.Free(0), ErrOutOfRange)
	require.ErrorIs(t, c.Free(64), ErrOutOfRange)
}

func TestOperationsAfterClose(t *testing.T) {
	c, _ := openTestCollection(t, 512)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close()) // idempotent

	_, err := c.Allocate()
	require.ErrorIs(t, err, ErrNotOpen)

	var buf Buffer
	require.ErrorIs(t, c.Read(1, &buf), ErrNotOpen)
	require.ErrorIs(t, c.Free(1), ErrNotOpen)
}

func TestBadBlockSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blocks.db")
	_, err := Open(path, true, WithBlockSize(100))
	require.Error(t, err)
	_, err = Open(path, true, WithBlockSize(0))
	require.Error(t, err)
}
