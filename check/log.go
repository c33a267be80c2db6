package check

// globalLog keeps one append-only chronological sequence of Events per
// operation family, independent of how the Events group into Blocks.
// Aggregate call counts come from here so they stay correct even for Events
// that only exist on the null Block.
type globalLog struct {
	allocates   []Event
	reallocates []Event
	releases    []Event
}

func (l *globalLog) record(event Event) {
	switch event.Operation {
	case OperationAllocate, OperationAllocateZeroed:
		l.allocates = append(l.allocates, event)
	case OperationReallocate:
		l.reallocates = append(l.reallocates, event)
	case OperationRelease:
		l.releases = append(l.releases, event)
	}
}
