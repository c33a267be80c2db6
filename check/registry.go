package check

import (
	cerrors "github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
)

// registry owns every Block the tracker has created and the mapping from
// currently-live pointer values to the Blocks that own them. A pointer value
// maps to at most one Block at any instant; a Block's identity survives the
// mapping being rekeyed when a reallocation moves it.
type registry struct {
	// byPointer holds only live, non-null pointer values. Keys are inserted on
	// successful allocation, moved on relocating reallocation, and removed on
	// release, so a recycled address never collides with a dead Block.
	byPointer *swiss.Map[uintptr, *Block]

	// blocks holds every Block ever created, in identifier order. blocks[0] is
	// the null Block. Leak analysis needs terminal and non-terminal Blocks
	// alike, so nothing is ever removed before teardown.
	blocks []*Block

	nextID BlockID
}

func newRegistry(expectedBlockCount int) *registry {
	r := &registry{
		byPointer: swiss.NewMap[uintptr, *Block](uint32(expectedBlockCount)),
	}

	// The null Block exists from the first moment so null-input operations
	// always have somewhere to land
	r.blocks = append(r.blocks, &Block{id: NullBlockID})
	r.nextID = NullBlockID + 1

	return r
}

func (r *registry) nullBlock() *Block {
	return r.blocks[0]
}

func (r *registry) createBlock(synthesized bool) *Block {
	block := &Block{
		id:          r.nextID,
		synthesized: synthesized,
	}
	r.nextID++
	r.blocks = append(r.blocks, block)

	return block
}

func (r *registry) blockFor(ptr uintptr) (*Block, bool) {
	return r.byPointer.Get(ptr)
}

func (r *registry) insert(ptr uintptr, block *Block) error {
	if existing, ok := r.byPointer.Get(ptr); ok {
		return cerrors.Newf("pointer %#x is already owned by block %d and cannot be assigned to block %d", ptr, existing.id, block.id)
	}

	r.byPointer.Put(ptr, block)
	return nil
}

// rekey moves a Block's entry from oldPtr to newPtr in one logical step. The
// Block's identity and Event history ride along untouched.
func (r *registry) rekey(oldPtr, newPtr uintptr) error {
	block, ok := r.byPointer.Get(oldPtr)
	if !ok {
		return cerrors.Newf("pointer %#x is not owned by any block and cannot be rekeyed", oldPtr)
	}
	if existing, ok := r.byPointer.Get(newPtr); ok {
		return cerrors.Newf("pointer %#x is already owned by block %d and cannot be rekeyed from block %d", newPtr, existing.id, block.id)
	}

	r.byPointer.Delete(oldPtr)
	r.byPointer.Put(newPtr, block)

	return nil
}

func (r *registry) remove(ptr uintptr) {
	r.byPointer.Delete(ptr)
}

func (r *registry) liveCount() int {
	return r.byPointer.Count()
}
