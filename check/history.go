package check

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"golang.org/x/exp/slices"
)

// History is a chronological dump of the global operation log, one sequence
// per operation family, independent of how Events group into Blocks. Like
// Report it is a detached snapshot, intended for manual audit when the
// categorized findings are not enough.
type History struct {
	Allocates   []Event
	Reallocates []Event
	Releases    []Event
}

// ListAllEntries snapshots the three global log sequences in chronological
// order.
func (t *Tracker) ListAllEntries() *History {
	t.logger.Debug("Tracker::ListAllEntries")
	t.ensureActive()

	return &History{
		Allocates:   slices.Clone(t.log.allocates),
		Reallocates: slices.Clone(t.log.reallocates),
		Releases:    slices.Clone(t.log.releases),
	}
}

// WriteJSON streams the history through the provided writer.
func (h *History) WriteJSON(writer *jwriter.Writer) {
	objState := writer.Object()
	defer objState.End()

	writeEventArray(&objState, "Allocates", h.Allocates)
	writeEventArray(&objState, "Reallocates", h.Reallocates)
	writeEventArray(&objState, "Releases", h.Releases)
}

// WriteBlocksJSON streams every Block's full Event history through the
// provided writer, in Block identifier order, the null Block included. It is
// the per-block counterpart to ListAllEntries.
func (t *Tracker) WriteBlocksJSON(writer *jwriter.Writer) {
	t.logger.Debug("Tracker::WriteBlocksJSON")
	t.ensureActive()

	arrayState := writer.Array()
	defer arrayState.End()

	for _, block := range t.reg.blocks {
		block.writeJSON(arrayState.Object())
	}
}
