package check

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"golang.org/x/exp/slices"
)

// BlockID is an opaque, monotonically assigned Block identifier. Unlike a
// pointer value, it remains stable when a reallocation moves the block to a
// new address and is never reused when an address is recycled.
type BlockID int

// NullBlockID identifies the sentinel Block that collects every operation
// whose input pointer was null and every allocation the underlying allocator
// refused.
const NullBlockID BlockID = 0

// Block aggregates the Event history of one allocation's lifetime under a
// stable identity.
type Block struct {
	id          BlockID
	events      []Event
	terminal    bool
	synthesized bool
}

// ID returns the Block's stable identifier.
func (b *Block) ID() BlockID { return b.id }

// IsNullBlock reports whether this is the sentinel Block for null-input and
// failed operations.
func (b *Block) IsNullBlock() bool { return b.id == NullBlockID }

// Terminal reports whether a Release Event has been appended to this Block.
// The null Block is never terminal.
func (b *Block) Terminal() bool { return b.terminal }

// Synthesized reports whether this Block was manufactured for a pointer the
// tracker never saw come out of an allocation. Synthesized Blocks mark a gap
// in the tracker's knowledge, usually caused by host misuse, and their
// histories begin mid-lifetime.
func (b *Block) Synthesized() bool { return b.synthesized }

// Events returns the Block's Event sequence in tick order. The returned slice
// is owned by the Block and must not be modified.
func (b *Block) Events() []Event { return b.events }

// LastEvent returns the most recent Event appended to this Block, or nil if
// the Block has no Events yet.
func (b *Block) LastEvent() *Event {
	if len(b.events) == 0 {
		return nil
	}
	return &b.events[len(b.events)-1]
}

func (b *Block) appendEvent(event Event) {
	b.events = append(b.events, event)
}

// markTerminal flags the Block as released and compacts its Event storage,
// since most Blocks are never touched again after release.
func (b *Block) markTerminal(compact bool) {
	b.terminal = true
	if compact {
		b.events = slices.Clip(b.events)
	}
}

func (b *Block) writeJSON(json jwriter.ObjectState) {
	defer json.End()

	json.Name("Block").Int(int(b.id))
	json.Name("Terminal").Bool(b.terminal)
	if b.synthesized {
		json.Name("Synthesized").Bool(true)
	}

	arrayState := json.Name("Events").Array()
	defer arrayState.End()

	for i := 0; i < len(b.events); i++ {
		obj := arrayState.Object()
		b.events[i].writeJSON(obj)
		obj.End()
	}
}
