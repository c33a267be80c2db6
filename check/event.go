package check

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"

	"github.com/alloctrack/alloctrack"
)

// Operation identifies which tracked call produced an Event.
type Operation byte

const (
	OperationUnknown Operation = iota
	OperationAllocate
	OperationAllocateZeroed
	OperationReallocate
	OperationRelease
)

var operationMapping = make(map[Operation]string)

func (o Operation) String() string {
	return operationMapping[o]
}

func init() {
	operationMapping[OperationUnknown] = "OperationUnknown"
	operationMapping[OperationAllocate] = "OperationAllocate"
	operationMapping[OperationAllocateZeroed] = "OperationAllocateZeroed"
	operationMapping[OperationReallocate] = "OperationReallocate"
	operationMapping[OperationRelease] = "OperationRelease"
}

// IsAllocFamily reports whether the operation is Allocate or AllocateZeroed.
func (o Operation) IsAllocFamily() bool {
	return o == OperationAllocate || o == OperationAllocateZeroed
}

// Location is a source position in the host program. It is always supplied by
// the call site, usually via whatever instrumentation wraps the tracked calls.
// The tracker never computes one itself.
type Location struct {
	// File is the file name text as the call site provided it
	File string
	// Line is the 1-based line number within File
	Line int
}

func (l Location) String() string {
	return alloctrack.FormatLocation(l.File, l.Line)
}

// Event is an immutable record of one tracked operation. Every tracked call
// produces exactly one Event, attached to the Block that owns the operation's
// pointer at the time of the call.
type Event struct {
	// Tick is a global sequence number fixing the total order of Events across
	// all Blocks
	Tick int
	// Block identifies the Block this Event was attached to
	Block BlockID
	// Operation is the tracked call that produced this Event
	Operation Operation
	// Size is the requested size in bytes. For AllocateZeroed it is the
	// product of the count and size arguments; for Release it is 0.
	Size int
	// PriorPtr is the input pointer value for Reallocate and Release Events,
	// and 0 otherwise
	PriorPtr uintptr
	// ResultPtr is the resulting pointer value for Allocate, AllocateZeroed,
	// and Reallocate Events, and 0 otherwise
	ResultPtr uintptr
	// Location is the source position the call site supplied
	Location Location
}

func (e *Event) writeJSON(json jwriter.ObjectState) {
	json.Name("Tick").Int(e.Tick)
	json.Name("Block").Int(int(e.Block))
	json.Name("Operation").String(e.Operation.String())
	json.Name("Size").Int(e.Size)
	json.Name("PriorPtr").Int(int(e.PriorPtr))
	json.Name("ResultPtr").Int(int(e.ResultPtr))
	json.Name("Location").String(e.Location.String())
}
