package check

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"

	"github.com/alloctrack/alloctrack"
)

// Report is the structured result of one analysis pass: aggregate counts plus
// the ordered list of contributing Events for every finding category. It is a
// snapshot, fully detached from the Tracker's own storage, so it stays valid
// across later tracked operations and across Teardown. Rendering it as text
// is a reporter's concern; WriteJSON is provided for reporters that want the
// machine-readable form.
//
// Failed allocations and reallocations are not necessarily the host's fault,
// but unchecked null results will cause trouble downstream. A release of an
// untracked pointer is often a double release; a reallocate of an untracked
// pointer often means an earlier reallocate's result was dropped.
type Report struct {
	alloctrack.AnomalyStatistics

	// Leaks lists Blocks never released, in Block identifier order
	Leaks []LeakFinding
	// ZeroSize lists zero-size requests by operation family, in tick order
	ZeroSize ZeroSizeFindings
	// Failed lists genuine allocator refusals, in tick order
	Failed FailedFindings
	// NullOperations lists null-input reallocates and releases, in tick order
	NullOperations NullOperationFindings
}

// GenerateReport runs every detector over the frozen tracking state and
// returns the structured findings. It does not change the Tracker's state and
// may be called any number of times; with no intervening tracked calls,
// successive reports are identical.
func (t *Tracker) GenerateReport() *Report {
	t.logger.Debug("Tracker::GenerateReport")
	t.ensureActive()

	alloctrack.DebugValidate(t)

	report := &Report{
		Leaks:          detectLeaks(t.reg),
		ZeroSize:       detectZeroSize(t.reg),
		Failed:         detectFailedOperations(t.reg),
		NullOperations: detectNullOperations(t.reg.nullBlock()),
	}

	report.AllocateCalls = len(t.log.allocates)
	report.ReallocateCalls = len(t.log.reallocates)
	report.ReleaseCalls = len(t.log.releases)

	for i := 0; i < len(report.Leaks); i++ {
		report.AddLeak(report.Leaks[i].LeakedBytes)
	}

	report.ZeroSizeAllocates = len(report.ZeroSize.Allocates)
	report.ZeroSizeReallocates = len(report.ZeroSize.Reallocates)
	report.FailedAllocates = len(report.Failed.Allocates)
	report.FailedReallocates = len(report.Failed.Reallocates)
	report.NullReallocates = len(report.NullOperations.Reallocates)
	report.NullReleases = len(report.NullOperations.Releases)

	return report
}

// WriteJSON streams the report through the provided writer.
func (r *Report) WriteJSON(writer *jwriter.Writer) {
	objState := writer.Object()
	defer objState.End()

	statsObj := objState.Name("Statistics").Object()
	statsObj.Name("AllocateCalls").Int(r.AllocateCalls)
	statsObj.Name("ReallocateCalls").Int(r.ReallocateCalls)
	statsObj.Name("ReleaseCalls").Int(r.ReleaseCalls)
	statsObj.Name("LeakedBlocks").Int(r.LeakedBlocks)
	statsObj.Name("LeakedBytes").Int(r.LeakedBytes)
	statsObj.Name("ZeroSizeAllocates").Int(r.ZeroSizeAllocates)
	statsObj.Name("ZeroSizeReallocates").Int(r.ZeroSizeReallocates)
	statsObj.Name("FailedAllocates").Int(r.FailedAllocates)
	statsObj.Name("FailedReallocates").Int(r.FailedReallocates)
	statsObj.Name("NullReallocates").Int(r.NullReallocates)
	statsObj.Name("NullReleases").Int(r.NullReleases)
	statsObj.End()

	leaksArray := objState.Name("LeakedBlocks").Array()
	for i := 0; i < len(r.Leaks); i++ {
		r.Leaks[i].writeJSON(leaksArray.Object())
	}
	leaksArray.End()

	writeEventArray(&objState, "ZeroSizeAllocates", r.ZeroSize.Allocates)
	writeEventArray(&objState, "ZeroSizeReallocates", r.ZeroSize.Reallocates)
	writeEventArray(&objState, "FailedAllocates", r.Failed.Allocates)
	writeEventArray(&objState, "FailedReallocates", r.Failed.Reallocates)
	writeEventArray(&objState, "NullReallocates", r.NullOperations.Reallocates)
	writeEventArray(&objState, "NullReleases", r.NullOperations.Releases)
}

func (f *LeakFinding) writeJSON(json jwriter.ObjectState) {
	defer json.End()

	json.Name("Block").Int(int(f.Block))
	json.Name("LeakedBytes").Int(f.LeakedBytes)
	if f.Synthesized {
		json.Name("Synthesized").Bool(true)
	}

	arrayState := json.Name("Events").Array()
	defer arrayState.End()

	for i := 0; i < len(f.Events); i++ {
		obj := arrayState.Object()
		f.Events[i].writeJSON(obj)
		obj.End()
	}
}

func writeEventArray(json *jwriter.ObjectState, name string, events []Event) {
	arrayState := json.Name(name).Array()
	defer arrayState.End()

	for i := 0; i < len(events); i++ {
		obj := arrayState.Object()
		events[i].writeJSON(obj)
		obj.End()
	}
}
