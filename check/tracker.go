// Package check reconstructs a host program's memory usage from its
// allocation-primitive calls. A Tracker wraps a mem.Allocator, performs every
// real operation through it, and records what happened: which blocks were
// never released, which requests were zero-sized, which requests the
// underlying allocator refused, and which release or reallocate calls ran on a
// null pointer. Analysis is retrospective; nothing is judged until a report is
// generated.
//
// The Tracker is single-threaded. Tracked calls and report generation share
// mutable state with no internal locking, so a concurrent host must serialize
// every call into this package behind one exclusive lock. Finer-grained
// locking is unsafe because a relocating reallocation rewrites the pointer
// table as a whole.
package check

import (
	"os"

	cerrors "github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"

	"github.com/alloctrack/alloctrack/mem"
)

// FatalExitStatus is the process exit status used when the Tracker's own
// bookkeeping becomes inconsistent and tracking cannot safely continue. It is
// deliberately distinct from ordinary program exit codes so scripts driving an
// instrumented host can tell the two apart.
const FatalExitStatus = 72

type trackerState byte

const (
	stateUninitialized trackerState = iota
	stateActive
	stateTornDown
)

var trackerStateMapping = make(map[trackerState]string)

func (s trackerState) String() string {
	return trackerStateMapping[s]
}

func init() {
	trackerStateMapping[stateUninitialized] = "stateUninitialized"
	trackerStateMapping[stateActive] = "stateActive"
	trackerStateMapping[stateTornDown] = "stateTornDown"
}

func exitProcess(code int) {
	os.Exit(code)
}

// Tracker is the tracking engine. It owns the Block store, the pointer
// registry, and the global operation log, and exposes the four tracked
// operations plus report generation and teardown.
//
// Tracked operations cost amortized O(1) each. Report generation runs each
// detector once over the frozen state at O(n) in the number of tracked Blocks.
// Tracker-owned memory grows monotonically until Teardown, since retrospective
// analysis needs released Blocks as much as live ones.
type Tracker struct {
	logger             *slog.Logger
	allocator          mem.Allocator
	flags              CreateFlags
	expectedBlockCount int

	state trackerState
	tick  int
	reg   *registry
	log   globalLog

	exit func(code int)
}

// ensureActive lazily brings the Tracker into the active state. A torn-down
// Tracker re-enters active transparently rather than failing the operation.
func (t *Tracker) ensureActive() {
	if t.state == stateActive {
		return
	}

	t.logger.Debug("Tracker activating", slog.String("PriorState", t.state.String()))

	t.reg = newRegistry(t.expectedBlockCount)
	t.log = globalLog{}
	t.tick = 0
	t.state = stateActive
}

func (t *Tracker) newEvent(block BlockID, op Operation, size int, prior, result uintptr, loc Location) Event {
	t.tick++
	return Event{
		Tick:      t.tick,
		Block:     block,
		Operation: op,
		Size:      size,
		PriorPtr:  prior,
		ResultPtr: result,
		Location:  loc,
	}
}

// Allocate performs a real allocation of size bytes and records it. The
// allocator's result is returned unmodified, including a null result on
// refusal.
func (t *Tracker) Allocate(size int, loc Location) uintptr {
	t.logger.Debug("Tracker::Allocate", slog.Int("Size", size), slog.String("Location", loc.String()))
	t.ensureActive()

	ptr := t.allocator.Allocate(size)
	t.recordAllocFamily(OperationAllocate, size, ptr, loc)

	return ptr
}

// AllocateZeroed performs a real zero-initialized allocation of count*size
// bytes and records it. The recorded requested size is the product count*size;
// the Tracker does not guard the multiplication against overflow.
func (t *Tracker) AllocateZeroed(count, size int, loc Location) uintptr {
	t.logger.Debug("Tracker::AllocateZeroed", slog.Int("Count", count), slog.Int("Size", size), slog.String("Location", loc.String()))
	t.ensureActive()

	ptr := t.allocator.AllocateZeroed(count, size)
	t.recordAllocFamily(OperationAllocateZeroed, count*size, ptr, loc)

	return ptr
}

func (t *Tracker) recordAllocFamily(op Operation, size int, ptr uintptr, loc Location) {
	block := t.reg.nullBlock()
	if ptr != mem.NullPtr {
		block = t.reg.createBlock(false)
	}

	event := t.newEvent(block.ID(), op, size, mem.NullPtr, ptr, loc)
	block.appendEvent(event)

	if ptr != mem.NullPtr {
		if err := t.reg.insert(ptr, block); err != nil {
			t.fatal(err)
		}
	}

	t.log.record(event)
}

// Reallocate performs a real reallocation of the block at ptr to size bytes
// and records it against the Block that owns ptr, rekeying the Block's
// registry entry if the block moved. The allocator's result is returned
// unmodified.
//
// A null ptr has no prior identity to attach to, so the Event lands on the
// null Block even when the reallocation succeeds; in the aggregate view such a
// call is indistinguishable from a tracked allocation, though it is counted
// under reallocate calls.
func (t *Tracker) Reallocate(ptr uintptr, size int, loc Location) uintptr {
	t.logger.Debug("Tracker::Reallocate", slog.Uint64("Ptr", uint64(ptr)), slog.Int("Size", size), slog.String("Location", loc.String()))
	t.ensureActive()

	newPtr := t.allocator.Reallocate(ptr, size)

	if ptr == mem.NullPtr {
		event := t.newEvent(NullBlockID, OperationReallocate, size, ptr, newPtr, loc)
		t.reg.nullBlock().appendEvent(event)
		t.log.record(event)

		return newPtr
	}

	block, ok := t.reg.blockFor(ptr)
	if !ok {
		// A pointer this tracker never saw allocated: host misuse or a block
		// from outside the tracked surface. Synthesize an identity for it so
		// its history from here on is kept, and keep going.
		block = t.reg.createBlock(true)
		if err := t.reg.insert(ptr, block); err != nil {
			t.fatal(err)
		}
		t.logger.Warn("Tracker::Reallocate observed an untracked pointer",
			slog.Uint64("Ptr", uint64(ptr)),
			slog.Int("Block", int(block.ID())),
			slog.String("Location", loc.String()))
	}

	event := t.newEvent(block.ID(), OperationReallocate, size, ptr, newPtr, loc)
	block.appendEvent(event)
	t.log.record(event)

	if newPtr != mem.NullPtr && newPtr != ptr {
		if err := t.reg.rekey(ptr, newPtr); err != nil {
			t.fatal(err)
		}
	}
	// On a null result the registry key and the terminal flag are left alone.
	// For a nonzero size the original block is still live; for a resize to
	// zero, whether the memory was released is platform-defined, and the
	// tracker does not guess. The ambiguity surfaces as a zero-size
	// reallocate finding instead.

	return newPtr
}

// Release performs a real release of the block at ptr and records it, marking
// the owning Block terminal and retiring ptr from the registry so the
// allocator may hand the address out again.
func (t *Tracker) Release(ptr uintptr, loc Location) {
	t.logger.Debug("Tracker::Release", slog.Uint64("Ptr", uint64(ptr)), slog.String("Location", loc.String()))
	t.ensureActive()

	t.allocator.Release(ptr)

	if ptr == mem.NullPtr {
		event := t.newEvent(NullBlockID, OperationRelease, 0, ptr, mem.NullPtr, loc)
		t.reg.nullBlock().appendEvent(event)
		t.log.record(event)

		return
	}

	block, ok := t.reg.blockFor(ptr)
	if !ok {
		// Covers releases of untracked pointers and double releases, since a
		// released pointer has already been retired from the registry. Either
		// way the history is kept on a synthesized Block rather than crashing
		// the host over a bookkeeping gap.
		block = t.reg.createBlock(true)
		t.logger.Warn("Tracker::Release observed an untracked pointer",
			slog.Uint64("Ptr", uint64(ptr)),
			slog.Int("Block", int(block.ID())),
			slog.String("Location", loc.String()))
	}

	event := t.newEvent(block.ID(), OperationRelease, 0, ptr, mem.NullPtr, loc)
	block.appendEvent(event)
	block.markTerminal(t.flags&TrackerCreateSkipCompaction == 0)
	t.reg.remove(ptr)
	t.log.record(event)
}

// Blocks returns every Block the Tracker has created since activation, in
// identifier order, beginning with the null Block. It exists for manual audit
// of full per-block histories, independent of any finding category. The
// returned Blocks are owned by the Tracker and must not be modified.
func (t *Tracker) Blocks() []*Block {
	t.logger.Debug("Tracker::Blocks")
	t.ensureActive()

	blocks := make([]*Block, len(t.reg.blocks))
	copy(blocks, t.reg.blocks)

	return blocks
}

// Teardown releases all Tracker-owned storage and returns the Tracker to its
// pre-initialization state. A subsequent tracked operation transparently
// re-activates the Tracker with fresh state.
func (t *Tracker) Teardown() {
	t.logger.Debug("Tracker::Teardown", slog.String("PriorState", t.state.String()))

	t.reg = nil
	t.log = globalLog{}
	t.tick = 0
	t.state = stateTornDown
}

// Validate checks the Tracker's bookkeeping invariants and returns an error
// describing the first violation found. It is run automatically at report
// time under the debug_alloc_track build tag.
func (t *Tracker) Validate() error {
	if t.state != stateActive {
		return nil
	}

	if len(t.reg.blocks) == 0 || !t.reg.blocks[0].IsNullBlock() {
		return cerrors.New("the null block is missing from the block store")
	}

	for i, block := range t.reg.blocks {
		if BlockID(i) != block.ID() {
			return cerrors.Newf("block %d is stored at index %d", block.ID(), i)
		}
		if block.IsNullBlock() && block.Terminal() {
			return cerrors.New("the null block has been marked terminal")
		}

		lastTick := 0
		for _, event := range block.Events() {
			if event.Block != block.ID() {
				return cerrors.Newf("block %d holds an event attributed to block %d", block.ID(), event.Block)
			}
			if event.Tick <= lastTick {
				return cerrors.Newf("block %d events are not in tick order: tick %d follows tick %d", block.ID(), event.Tick, lastTick)
			}
			lastTick = event.Tick
		}

		if block.Terminal() {
			last := block.LastEvent()
			if last == nil || last.Operation != OperationRelease {
				return cerrors.Newf("block %d is terminal but its history does not end with a release", block.ID())
			}
		}
	}

	if t.reg.liveCount() > len(t.reg.blocks) {
		return cerrors.Newf("%d live pointers are registered across %d blocks", t.reg.liveCount(), len(t.reg.blocks))
	}

	return nil
}

// fatal reports an internal bookkeeping inconsistency and terminates the
// process with FatalExitStatus. Misleading analysis is worse than no analysis,
// so the Tracker never hands partially-updated state back to a caller.
func (t *Tracker) fatal(err error) {
	t.logger.Error("tracker bookkeeping failed and tracking cannot safely continue", slog.Any("error", err))
	t.exit(FatalExitStatus)

	// Reached only when a test stubs out the exit func
	panic(err)
}
