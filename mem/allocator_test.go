package mem_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alloctrack/alloctrack"
	"github.com/alloctrack/alloctrack/mem"
)

func TestHeapAllocatorRejectsBadOptions(t *testing.T) {
	_, err := mem.NewHeapAllocator(mem.HeapAllocatorOptions{Alignment: 3})
	require.ErrorIs(t, err, alloctrack.PowerOfTwoError)

	_, err = mem.NewHeapAllocator(mem.HeapAllocatorOptions{SizeLimit: -5})
	require.ErrorIs(t, err, alloctrack.NegativeSizeError)
}

func TestAllocateHandsOutDistinctAlignedAddresses(t *testing.T) {
	heap, err := mem.NewHeapAllocator(mem.HeapAllocatorOptions{Alignment: 32})
	require.NoError(t, err)

	seen := make(map[uintptr]bool)
	for i := 0; i < 100; i++ {
		ptr := heap.Allocate(i)
		require.NotEqual(t, mem.NullPtr, ptr)
		require.False(t, seen[ptr])
		require.Zero(t, ptr%32)
		seen[ptr] = true
	}

	require.Equal(t, 100, heap.LiveBlocks())
}

func TestZeroSizeAllocationsAreDistinct(t *testing.T) {
	heap, err := mem.NewHeapAllocator(mem.HeapAllocatorOptions{})
	require.NoError(t, err)

	a := heap.Allocate(0)
	b := heap.Allocate(0)
	require.NotEqual(t, mem.NullPtr, a)
	require.NotEqual(t, a, b)
	require.Equal(t, 0, heap.LiveBytes())
}

func TestNegativeSizeIsRefused(t *testing.T) {
	heap, err := mem.NewHeapAllocator(mem.HeapAllocatorOptions{})
	require.NoError(t, err)

	require.Equal(t, mem.NullPtr, heap.Allocate(-1))
	require.Equal(t, mem.NullPtr, heap.AllocateZeroed(-1, 8))

	ptr := heap.Allocate(8)
	require.Equal(t, mem.NullPtr, heap.Reallocate(ptr, -1))
}

func TestBytesAliasesBlockStorage(t *testing.T) {
	heap, err := mem.NewHeapAllocator(mem.HeapAllocatorOptions{})
	require.NoError(t, err)

	ptr := heap.Allocate(4)
	data, err := heap.Bytes(ptr)
	require.NoError(t, err)

	copy(data, []byte{1, 2, 3, 4})

	again, err := heap.Bytes(ptr)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3, 4}, again)

	_, err = heap.Bytes(uintptr(0xBEEF))
	require.Error(t, err)
}

func TestReallocatePreservesContents(t *testing.T) {
	heap, err := mem.NewHeapAllocator(mem.HeapAllocatorOptions{})
	require.NoError(t, err)

	ptr := heap.Allocate(4)
	data, err := heap.Bytes(ptr)
	require.NoError(t, err)
	copy(data, []byte{9, 8, 7, 6})

	newPtr := heap.Reallocate(ptr, 8)
	require.NotEqual(t, mem.NullPtr, newPtr)
	require.NotEqual(t, ptr, newPtr)
	require.Equal(t, 1, heap.LiveBlocks())

	moved, err := heap.Bytes(newPtr)
	require.NoError(t, err)
	require.Equal(t, []byte{9, 8, 7, 6, 0, 0, 0, 0}, moved)

	// The old address is gone
	_, err = heap.Bytes(ptr)
	require.Error(t, err)
}

func TestReallocateNullBehavesAsAllocate(t *testing.T) {
	heap, err := mem.NewHeapAllocator(mem.HeapAllocatorOptions{})
	require.NoError(t, err)

	ptr := heap.Reallocate(mem.NullPtr, 16)
	require.NotEqual(t, mem.NullPtr, ptr)
	require.Equal(t, 16, heap.LiveBytes())
}

func TestReallocateToZeroReleases(t *testing.T) {
	heap, err := mem.NewHeapAllocator(mem.HeapAllocatorOptions{})
	require.NoError(t, err)

	ptr := heap.Allocate(16)
	require.Equal(t, mem.NullPtr, heap.Reallocate(ptr, 0))
	require.Equal(t, 0, heap.LiveBlocks())
	require.Equal(t, 0, heap.LiveBytes())
}

func TestAllocateZeroedReturnsZeroedProduct(t *testing.T) {
	heap, err := mem.NewHeapAllocator(mem.HeapAllocatorOptions{})
	require.NoError(t, err)

	ptr := heap.AllocateZeroed(4, 8)
	require.NotEqual(t, mem.NullPtr, ptr)

	data, err := heap.Bytes(ptr)
	require.NoError(t, err)
	require.Len(t, data, 32)
	for _, b := range data {
		require.Zero(t, b)
	}
}

func TestSizeLimitRefusesGrowth(t *testing.T) {
	heap, err := mem.NewHeapAllocator(mem.HeapAllocatorOptions{SizeLimit: 100})
	require.NoError(t, err)

	ptr := heap.Allocate(80)
	require.NotEqual(t, mem.NullPtr, ptr)
	require.Equal(t, mem.NullPtr, heap.Allocate(40))

	// Growing past the limit fails and leaves the original block alone
	require.Equal(t, mem.NullPtr, heap.Reallocate(ptr, 200))
	require.Equal(t, 80, heap.LiveBytes())

	data, err := heap.Bytes(ptr)
	require.NoError(t, err)
	require.Len(t, data, 80)

	// Shrinking within the limit still works
	newPtr := heap.Reallocate(ptr, 50)
	require.NotEqual(t, mem.NullPtr, newPtr)
	require.Equal(t, 50, heap.LiveBytes())
}

func TestReleaseIsIdempotentForUnknownPointers(t *testing.T) {
	heap, err := mem.NewHeapAllocator(mem.HeapAllocatorOptions{})
	require.NoError(t, err)

	heap.Release(mem.NullPtr)
	heap.Release(uintptr(0x1234))

	ptr := heap.Allocate(8)
	heap.Release(ptr)
	heap.Release(ptr)
	require.Equal(t, 0, heap.LiveBlocks())
}
