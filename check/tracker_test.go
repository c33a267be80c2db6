package check

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"github.com/alloctrack/alloctrack/mem"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard))
}

func readyTracker(t *testing.T, options CreateOptions) (*mem.HeapAllocator, *Tracker) {
	heap, err := mem.NewHeapAllocator(mem.HeapAllocatorOptions{})
	require.NoError(t, err)

	tracker, err := New(testLogger(), heap, options)
	require.NoError(t, err)

	return heap, tracker
}

func here(line int) Location {
	return Location{File: "host.c", Line: line}
}

func TestNewRejectsBadArguments(t *testing.T) {
	heap, err := mem.NewHeapAllocator(mem.HeapAllocatorOptions{})
	require.NoError(t, err)

	_, err = New(nil, heap, CreateOptions{})
	require.Error(t, err)

	_, err = New(testLogger(), nil, CreateOptions{})
	require.Error(t, err)

	_, err = New(testLogger(), heap, CreateOptions{ExpectedBlockCount: -1})
	require.Error(t, err)
}

func TestAllocateReturnsAllocatorResultUnmodified(t *testing.T) {
	heap, tracker := readyTracker(t, CreateOptions{})

	ptr := tracker.Allocate(64, here(10))
	require.NotEqual(t, mem.NullPtr, ptr)

	data, err := heap.Bytes(ptr)
	require.NoError(t, err)
	require.Len(t, data, 64)
}

func TestAllocateAndReleaseLeavesNoFindings(t *testing.T) {
	_, tracker := readyTracker(t, CreateOptions{})

	ptr := tracker.Allocate(40, Location{File: "b.c", Line: 5})
	tracker.Release(ptr, Location{File: "b.c", Line: 6})

	report := tracker.GenerateReport()
	require.Equal(t, 1, report.AllocateCalls)
	require.Equal(t, 1, report.ReleaseCalls)
	require.Equal(t, 0, report.LeakedBlocks)
	require.Equal(t, 0, report.LeakedBytes)
	require.Empty(t, report.Leaks)
	require.Empty(t, report.ZeroSize.Allocates)
	require.Empty(t, report.ZeroSize.Reallocates)
	require.Empty(t, report.Failed.Allocates)
	require.Empty(t, report.Failed.Reallocates)
	require.Empty(t, report.NullOperations.Reallocates)
	require.Empty(t, report.NullOperations.Releases)
}

func TestAllocateFamilyCountIncludesFailures(t *testing.T) {
	heap, err := mem.NewHeapAllocator(mem.HeapAllocatorOptions{SizeLimit: 100})
	require.NoError(t, err)
	tracker, err := New(testLogger(), heap, CreateOptions{})
	require.NoError(t, err)

	tracker.Allocate(64, here(1))
	tracker.AllocateZeroed(4, 8, here(2))
	tracker.Allocate(1024, here(3)) // refused by the size limit
	tracker.Allocate(0, here(4))

	report := tracker.GenerateReport()
	require.Equal(t, 4, report.AllocateCalls)
}

func TestReallocationPreservesBlockIdentity(t *testing.T) {
	_, tracker := readyTracker(t, CreateOptions{})

	ptr := tracker.Allocate(16, here(1))
	ptr2 := tracker.Reallocate(ptr, 32, here(2))
	require.NotEqual(t, mem.NullPtr, ptr2)
	ptr3 := tracker.Reallocate(ptr2, 64, here(3))
	require.NotEqual(t, mem.NullPtr, ptr3)

	report := tracker.GenerateReport()
	require.Len(t, report.Leaks, 1)

	leak := report.Leaks[0]
	require.Equal(t, 64, leak.LeakedBytes)
	require.Len(t, leak.Events, 3)
	require.Equal(t, OperationAllocate, leak.Events[0].Operation)
	require.Equal(t, OperationReallocate, leak.Events[1].Operation)
	require.Equal(t, OperationReallocate, leak.Events[2].Operation)

	// One identity across the whole chain
	for _, event := range leak.Events {
		require.Equal(t, leak.Block, event.Block)
	}
}

func TestReallocationRekeysPointer(t *testing.T) {
	_, tracker := readyTracker(t, CreateOptions{})

	ptr := tracker.Allocate(16, here(1))
	ptr2 := tracker.Reallocate(ptr, 32, here(2))
	require.NotEqual(t, ptr, ptr2)

	// The new pointer resolves to the same block, so releasing it closes the
	// chain with no findings
	tracker.Release(ptr2, here(3))

	report := tracker.GenerateReport()
	require.Equal(t, 0, report.LeakedBlocks)
	require.Equal(t, 1, report.AllocateCalls)
	require.Equal(t, 1, report.ReallocateCalls)
	require.Equal(t, 1, report.ReleaseCalls)
}

func TestReleaseOfStalePointerDoesNotDisturbTracking(t *testing.T) {
	_, tracker := readyTracker(t, CreateOptions{})

	ptr := tracker.Allocate(16, here(1))
	tracker.Release(ptr, here(2))
	// Double release: the pointer was retired on the first release, so this
	// lands on a synthesized block
	tracker.Release(ptr, here(3))

	report := tracker.GenerateReport()
	require.Equal(t, 0, report.LeakedBlocks)
	require.Equal(t, 2, report.ReleaseCalls)
	require.Equal(t, 0, report.NullReleases)
}

func TestUntrackedReallocateSynthesizesBlock(t *testing.T) {
	_, tracker := readyTracker(t, CreateOptions{})

	// The heap has never handed out this address, so the real reallocation
	// fails, but tracking keeps a record of it regardless
	result := tracker.Reallocate(uintptr(0xDEAD), 128, here(7))
	require.Equal(t, mem.NullPtr, result)

	report := tracker.GenerateReport()
	require.Equal(t, 1, report.ReallocateCalls)
	require.Equal(t, 1, report.FailedReallocates)
	require.Len(t, report.Leaks, 1)
	require.True(t, report.Leaks[0].Synthesized)
}

func TestTrackedOperationsSurviveTeardown(t *testing.T) {
	_, tracker := readyTracker(t, CreateOptions{})
	require.Equal(t, stateUninitialized, tracker.state)

	tracker.Allocate(16, here(1))
	require.Equal(t, stateActive, tracker.state)

	tracker.Teardown()
	require.Equal(t, stateTornDown, tracker.state)
	require.Nil(t, tracker.reg)

	// Tracked operations transparently re-activate with fresh state
	ptr := tracker.Allocate(32, here(2))
	require.NotEqual(t, mem.NullPtr, ptr)
	require.Equal(t, stateActive, tracker.state)

	report := tracker.GenerateReport()
	require.Equal(t, 1, report.AllocateCalls)
	require.Len(t, report.Leaks, 1)
	require.Equal(t, 32, report.Leaks[0].LeakedBytes)
	require.Equal(t, 1, report.Leaks[0].Events[0].Tick)
}

func TestReportAfterTeardownIsEmpty(t *testing.T) {
	_, tracker := readyTracker(t, CreateOptions{})

	tracker.Allocate(16, here(1))
	tracker.Teardown()

	report := tracker.GenerateReport()
	require.Equal(t, 0, report.AllocateCalls)
	require.Empty(t, report.Leaks)
}

// duplicatingAllocator hands out the same address for every allocation, which
// is something no correct memory system does. The tracker should refuse to
// keep tracking rather than record an ambiguous identity.
type duplicatingAllocator struct{}

func (duplicatingAllocator) Allocate(size int) uintptr                { return 0x1000 }
func (duplicatingAllocator) AllocateZeroed(count, size int) uintptr   { return 0x1000 }
func (duplicatingAllocator) Reallocate(ptr uintptr, size int) uintptr { return 0x1000 }
func (duplicatingAllocator) Release(ptr uintptr)                      {}

func TestRegistryConflictIsFatal(t *testing.T) {
	tracker, err := New(testLogger(), duplicatingAllocator{}, CreateOptions{})
	require.NoError(t, err)

	exitCode := -1
	tracker.exit = func(code int) {
		exitCode = code
	}

	tracker.Allocate(8, here(1))
	require.Panics(t, func() {
		tracker.Allocate(8, here(2))
	})
	require.Equal(t, FatalExitStatus, exitCode)
}

func TestValidatePassesAfterMixedWorkload(t *testing.T) {
	_, tracker := readyTracker(t, CreateOptions{})

	ptr := tracker.Allocate(16, here(1))
	ptr = tracker.Reallocate(ptr, 64, here(2))
	tracker.Release(ptr, here(3))
	tracker.Release(mem.NullPtr, here(4))
	tracker.Allocate(0, here(5))

	require.NoError(t, tracker.Validate())
}

func TestValidateIsQuietBeforeActivation(t *testing.T) {
	_, tracker := readyTracker(t, CreateOptions{})
	require.NoError(t, tracker.Validate())
}

func TestCreateFlagsString(t *testing.T) {
	require.Equal(t, "TrackerCreateSkipCompaction", TrackerCreateSkipCompaction.String())
	require.Equal(t, "", CreateFlags(0).String())
}
