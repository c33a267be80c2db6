package mem

import (
	cerrors "github.com/cockroachdb/errors"

	"github.com/alloctrack/alloctrack"
)

// NullPtr is the pointer value that indicates no memory: the zero handle.
const NullPtr uintptr = 0

// Allocator is the seam between tracking and the real memory system being
// observed. Implementations perform genuine allocation work and hand back
// opaque pointer values; a return of NullPtr indicates the request was
// refused. Tracking layers built on top of an Allocator must pass every
// returned value through to their caller unmodified.
type Allocator interface {
	// Allocate obtains a block of at least size bytes and returns its pointer
	// value, or NullPtr on failure.
	Allocate(size int) uintptr
	// AllocateZeroed obtains a zero-initialized block of count*size bytes and
	// returns its pointer value, or NullPtr on failure.
	AllocateZeroed(count, size int) uintptr
	// Reallocate resizes the block at ptr to size bytes, possibly moving it,
	// and returns the block's new pointer value. A NullPtr input behaves as
	// Allocate. A NullPtr result means the resize failed and the original
	// block, if any, is untouched, except that implementations are permitted
	// to treat a resize to zero as a release.
	Reallocate(ptr uintptr, size int) uintptr
	// Release returns the block at ptr to the allocator. Releasing NullPtr is
	// a no-op.
	Release(ptr uintptr)
}

const defaultHeapAlignment uint = 16

// HeapAllocatorOptions contains optional settings when creating a HeapAllocator
type HeapAllocatorOptions struct {
	// Alignment is the boundary, in bytes, that every returned pointer value
	// will fall on. It must be a power of two. When 0, a 16-byte default is
	// used.
	Alignment uint

	// SizeLimit, when positive, is the total number of live bytes beyond which
	// Allocate, AllocateZeroed, and growing Reallocate calls will fail with
	// NullPtr rather than grow the heap.
	SizeLimit int
}

// HeapAllocator is an Allocator backed by ordinary Go slices. Pointer values
// are synthetic addresses within a single monotonically growing address space,
// so an address is never handed out twice while its block is live, and block
// storage stays reachable until released. It exists so hosts without a foreign
// heap can still run tracked workloads, and so tests can exercise tracking
// against deterministic addresses.
type HeapAllocator struct {
	blocks    map[uintptr][]byte
	next      uintptr
	alignment uint
	sizeLimit int
	liveBytes int
}

// NewHeapAllocator creates a new HeapAllocator. It is valid to leave every
// options field blank.
func NewHeapAllocator(options HeapAllocatorOptions) (*HeapAllocator, error) {
	alignment := options.Alignment
	if alignment == 0 {
		alignment = defaultHeapAlignment
	}
	if err := alloctrack.CheckPow2(alignment, "options.Alignment"); err != nil {
		return nil, err
	}
	if err := alloctrack.CheckNonNegative(options.SizeLimit, "options.SizeLimit"); err != nil {
		return nil, err
	}

	return &HeapAllocator{
		blocks:    make(map[uintptr][]byte),
		next:      uintptr(alignment),
		alignment: alignment,
		sizeLimit: options.SizeLimit,
	}, nil
}

func (h *HeapAllocator) Allocate(size int) uintptr {
	if size < 0 {
		return NullPtr
	}
	if h.sizeLimit > 0 && h.liveBytes+size > h.sizeLimit {
		return NullPtr
	}

	addr := h.next
	h.next += uintptr(alloctrack.AlignUp(size+1, h.alignment))
	h.blocks[addr] = make([]byte, size)
	h.liveBytes += size

	return addr
}

func (h *HeapAllocator) AllocateZeroed(count, size int) uintptr {
	if count < 0 || size < 0 {
		return NullPtr
	}

	// Go heap memory is always zeroed, so this is Allocate with a
	// calloc-shaped signature
	return h.Allocate(count * size)
}

func (h *HeapAllocator) Reallocate(ptr uintptr, size int) uintptr {
	if ptr == NullPtr {
		return h.Allocate(size)
	}

	old, ok := h.blocks[ptr]
	if !ok || size < 0 {
		return NullPtr
	}

	if size == 0 {
		// Resize-to-zero releases the block, the same platform-defined
		// behavior glibc exhibited before C23
		h.Release(ptr)
		return NullPtr
	}

	if h.sizeLimit > 0 && h.liveBytes-len(old)+size > h.sizeLimit {
		return NullPtr
	}

	h.Release(ptr)
	addr := h.Allocate(size)
	copy(h.blocks[addr], old)

	return addr
}

func (h *HeapAllocator) Release(ptr uintptr) {
	if ptr == NullPtr {
		return
	}

	block, ok := h.blocks[ptr]
	if !ok {
		return
	}

	h.liveBytes -= len(block)
	delete(h.blocks, ptr)
}

// Bytes returns the backing storage for a live block, or an error if ptr does
// not name one. The slice aliases the block, so writes through it are writes
// to the block.
func (h *HeapAllocator) Bytes(ptr uintptr) ([]byte, error) {
	block, ok := h.blocks[ptr]
	if !ok {
		return nil, cerrors.Newf("pointer %#x does not name a live block", ptr)
	}

	return block, nil
}

// LiveBytes returns the total size in bytes of every live block.
func (h *HeapAllocator) LiveBytes() int { return h.liveBytes }

// LiveBlocks returns the number of live blocks.
func (h *HeapAllocator) LiveBlocks() int { return len(h.blocks) }
