package check

import (
	"strings"

	cerrors "github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"

	"github.com/alloctrack/alloctrack"
	"github.com/alloctrack/alloctrack/mem"
)

// CreateFlags indicate specific tracker behaviors to activate or deactivate
type CreateFlags int32

var createFlagsMapping = make(map[CreateFlags]string)

func (f CreateFlags) Register(str string) {
	createFlagsMapping[f] = str
}

func (f CreateFlags) String() string {
	var names []string
	for bit := CreateFlags(1); bit != 0 && bit <= f; bit <<= 1 {
		if f&bit != 0 {
			names = append(names, createFlagsMapping[bit])
		}
	}
	return strings.Join(names, "|")
}

const (
	// TrackerCreateSkipCompaction prevents the tracker from compacting a
	// Block's Event storage when the Block is released. Compaction trades a
	// copy at release time for a smaller retained footprint, which is usually
	// the right trade since most Blocks are never touched again after release.
	TrackerCreateSkipCompaction CreateFlags = 1 << iota
)

func init() {
	TrackerCreateSkipCompaction.Register("TrackerCreateSkipCompaction")
}

const (
	// defaultExpectedBlockCount is the value used to size the pointer table
	// when no ExpectedBlockCount is provided via CreateOptions
	defaultExpectedBlockCount = 64
)

// CreateOptions contains optional settings when creating a Tracker
type CreateOptions struct {
	// Flags indicates specific tracker behaviors to activate or deactivate
	Flags CreateFlags

	// ExpectedBlockCount is a hint for how many blocks the host program is
	// expected to have live at once. It only sizes the initial pointer table;
	// the tracker grows past it freely.
	ExpectedBlockCount int
}

// New creates a new Tracker observing the provided Allocator.
//
// The Tracker begins uninitialized and activates itself lazily on the first
// tracked operation, so creating one is cheap even if the host program never
// allocates.
//
// logger - Destination for the Tracker's diagnostics. Bookkeeping gaps caused
// by host misuse are reported here at Warn level as they happen, in addition
// to appearing in the report.
//
// allocator - The memory system to observe. Every tracked operation performs
// its real work through this interface first, and its results are passed
// through to the caller unmodified.
//
// options - Optional parameters: it is valid to leave all the fields blank
func New(logger *slog.Logger, allocator mem.Allocator, options CreateOptions) (*Tracker, error) {
	if logger == nil {
		return nil, cerrors.New("attempted to create a Tracker with a nil logger")
	}
	if allocator == nil {
		return nil, cerrors.New("attempted to create a Tracker with a nil allocator")
	}
	if err := alloctrack.CheckNonNegative(options.ExpectedBlockCount, "options.ExpectedBlockCount"); err != nil {
		return nil, err
	}

	expectedBlockCount := options.ExpectedBlockCount
	if expectedBlockCount == 0 {
		expectedBlockCount = defaultExpectedBlockCount
	}

	logger.Debug("Tracker::New", slog.String("Flags", options.Flags.String()), slog.Int("ExpectedBlockCount", expectedBlockCount))

	return &Tracker{
		logger:             logger,
		allocator:          allocator,
		flags:              options.Flags,
		expectedBlockCount: expectedBlockCount,
		state:              stateUninitialized,
		exit:               exitProcess,
	}, nil
}
