package check

import (
	"golang.org/x/exp/slices"

	"github.com/alloctrack/alloctrack/mem"
)

// Detectors are read-only passes over the frozen registry state. Each one is a
// pure function: none mutates anything it scans, none depends on another
// having run, and re-running one against the same state produces the same
// findings. All of them tolerate a registry holding nothing but the null
// Block.

// LeakFinding describes one Block whose memory was never released.
type LeakFinding struct {
	// Block identifies the leaked Block
	Block BlockID
	// Synthesized is true when the Block's history began mid-lifetime with an
	// untracked pointer, in which case the leak may predate tracking
	Synthesized bool
	// LeakedBytes is the requested size of the Block's most recent Event,
	// which captures the final requested size even across reallocation chains.
	// A zero-sized live Block leaks, but contributes 0 bytes.
	LeakedBytes int
	// Events is the Block's full Event history in tick order
	Events []Event
}

// ZeroSizeFindings lists Events whose requested size was exactly zero,
// partitioned by operation family. Zero-size requests are legal but their
// results are implementation-defined, so they are worth a second look.
type ZeroSizeFindings struct {
	Allocates   []Event
	Reallocates []Event
}

// FailedFindings lists Events the underlying allocator refused outright: a
// null result against a nonzero requested size. Zero-size refusals are
// excluded, since a null result for a zero-size request is an ambiguity
// rather than a failure. A failed reallocation leaves its original Block
// live, so these often pair with a leak finding for the same Block.
type FailedFindings struct {
	Allocates   []Event
	Reallocates []Event
}

// NullOperationFindings lists Events whose input pointer was null. Both are
// valid by allocation semantics but frequently indicate caller logic errors,
// so they are reported as warnings, counted apart from failures and leaks.
type NullOperationFindings struct {
	Reallocates []Event
	Releases    []Event
}

// detectLeaks finds every Block still holding memory whose most recent Event
// is not a Release. Findings are ordered by Block identifier, which is
// creation order. The null Block is never a leak candidate.
func detectLeaks(r *registry) []LeakFinding {
	var findings []LeakFinding

	for _, block := range r.blocks {
		if block.IsNullBlock() || block.Terminal() {
			continue
		}

		last := block.LastEvent()
		if last == nil || last.Operation == OperationRelease {
			continue
		}

		findings = append(findings, LeakFinding{
			Block:       block.ID(),
			Synthesized: block.Synthesized(),
			LeakedBytes: last.Size,
			Events:      slices.Clone(block.Events()),
		})
	}

	return findings
}

// detectZeroSize scans every Block's history, the null Block included, for
// allocation-family and reallocate Events requesting exactly zero bytes.
func detectZeroSize(r *registry) ZeroSizeFindings {
	var findings ZeroSizeFindings

	for _, block := range r.blocks {
		for _, event := range block.Events() {
			if event.Size != 0 {
				continue
			}

			if event.Operation.IsAllocFamily() {
				findings.Allocates = append(findings.Allocates, event)
			} else if event.Operation == OperationReallocate {
				findings.Reallocates = append(findings.Reallocates, event)
			}
		}
	}

	sortEventsByTick(findings.Allocates)
	sortEventsByTick(findings.Reallocates)

	return findings
}

// detectFailedOperations scans every Block's history for genuine allocator
// refusals: nonzero requested size, null result. Failed allocations only ever
// exist on the null Block; failed reallocations live on whichever Block owned
// the input pointer.
func detectFailedOperations(r *registry) FailedFindings {
	var findings FailedFindings

	for _, block := range r.blocks {
		for _, event := range block.Events() {
			if event.Size == 0 || event.ResultPtr != mem.NullPtr {
				continue
			}

			if event.Operation.IsAllocFamily() {
				findings.Allocates = append(findings.Allocates, event)
			} else if event.Operation == OperationReallocate {
				findings.Reallocates = append(findings.Reallocates, event)
			}
		}
	}

	sortEventsByTick(findings.Allocates)
	sortEventsByTick(findings.Reallocates)

	return findings
}

// detectNullOperations scans the null Block for Reallocate and Release Events
// whose input pointer was null.
func detectNullOperations(nullBlock *Block) NullOperationFindings {
	var findings NullOperationFindings

	for _, event := range nullBlock.Events() {
		if event.PriorPtr != mem.NullPtr {
			continue
		}

		switch event.Operation {
		case OperationReallocate:
			findings.Reallocates = append(findings.Reallocates, event)
		case OperationRelease:
			findings.Releases = append(findings.Releases, event)
		}
	}

	return findings
}

func sortEventsByTick(events []Event) {
	slices.SortFunc(events, func(a, b Event) bool {
		return a.Tick < b.Tick
	})
}
