package heap

import (
	"io"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/segheap/heap/internal/utils"
	"github.com/vkngwrapper/segheap/memutils"
	"github.com/vkngwrapper/segheap/memutils/region"
	"golang.org/x/exp/slog"
)

// CreateFlags indicate specific allocator behaviors to activate or deactivate
type CreateFlags int32

const (
	// AllocatorCreateSynchronized wraps every call on the allocator in an internal lock so it can
	// be shared between goroutines. Without it, the consumer must guarantee that the allocator is
	// used from only one goroutine at a time.
	AllocatorCreateSynchronized CreateFlags = 1 << iota
)

var createFlagsMapping = map[CreateFlags]string{
	AllocatorCreateSynchronized: "AllocatorCreateSynchronized",
}

func (f CreateFlags) String() string {
	var names []string
	for flag, name := range createFlagsMapping {
		if f&flag != 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return strings.Join(names, "|")
}

const (
	// DefaultChunkSize is the minimum number of bytes the heap grows by when no free block fits
	DefaultChunkSize int = 1 << 10
	// DefaultSplitThreshold is the largest split remainder that is kept at the low end of a block.
	// Larger remainders are placed after the allocation instead.
	DefaultSplitThreshold int = 340
	// DefaultSizeClasses is the number of segregated free lists
	DefaultSizeClasses int = 20
)

// CreateOptions contains optional settings when creating an allocator. It is valid to leave
// all the fields blank.
type CreateOptions struct {
	// Flags indicates specific allocator behaviors to activate or deactivate
	Flags CreateFlags
	// ChunkSize is the minimum number of bytes the region is extended by when no free block
	// fits a request. It must be a multiple of Alignment.
	ChunkSize int
	// SplitThreshold is the largest leftover, in bytes, that is carved from the low end of a
	// free block when placing an allocation. Small leftovers stay low so that the allocations
	// handed out sit together at the high end.
	SplitThreshold int
	// SizeClasses is the number of power-of-two segregated free lists
	SizeClasses int
}

// New creates a new Allocator and seeds its region with the prologue and epilogue sentinels and
// one chunk of free space.
//
// logger - Debug logging for every public call. May be nil.
//
// provider - The region the heap is carved from. It should be empty; the allocator owns its
// break from this point on.
//
// options - Optional parameters: it is valid to leave all the fields blank
func New(logger *slog.Logger, provider region.Provider, options CreateOptions) (*Allocator, error) {
	if provider == nil {
		return nil, errors.New("a region provider is required")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if options.ChunkSize == 0 {
		options.ChunkSize = DefaultChunkSize
	}
	if options.SplitThreshold == 0 {
		options.SplitThreshold = DefaultSplitThreshold
	}
	if options.SizeClasses == 0 {
		options.SizeClasses = DefaultSizeClasses
	}

	if options.ChunkSize < MinBlockSize || options.ChunkSize%Alignment != 0 {
		return nil, errors.Newf("CreateOptions.ChunkSize must be a multiple of %d no smaller than %d, but was %d", Alignment, MinBlockSize, options.ChunkSize)
	}
	if options.SplitThreshold < MinBlockSize {
		return nil, errors.Newf("CreateOptions.SplitThreshold must be at least %d, but was %d", MinBlockSize, options.SplitThreshold)
	}
	if options.SizeClasses < 1 || options.SizeClasses > 64 {
		return nil, errors.Newf("CreateOptions.SizeClasses must be between 1 and 64, but was %d", options.SizeClasses)
	}

	a := &Allocator{
		logger:         logger,
		provider:       provider,
		createFlags:    options.Flags,
		chunkSize:      options.ChunkSize,
		splitThreshold: options.SplitThreshold,
		freeLists:      newSegregatedList(options.SizeClasses),
		mutex:          utils.OptionalRWMutex{UseMutex: options.Flags&AllocatorCreateSynchronized != 0},
	}
	a.checker = validateFunc(a.validate)

	logger.Debug("Allocator::New",
		slog.String("Flags", options.Flags.String()),
		slog.Int("ChunkSize", options.ChunkSize),
		slog.Int("SplitThreshold", options.SplitThreshold),
		slog.Int("SizeClasses", options.SizeClasses),
	)

	// Alignment padding, prologue header & footer, epilogue header
	base, err := provider.Sbrk(4 * wordSize)
	if err != nil {
		return nil, errors.Wrap(err, "failed to reserve the heap prologue")
	}
	if base%Alignment != 0 {
		return nil, errors.Newf("the region break must be %d-byte aligned, but was %d", Alignment, base)
	}

	a.mem = provider.Bytes()
	a.putWord(base, 0)
	a.putWord(base+wordSize, pack(doubleWord, true))
	a.putWord(base+2*wordSize, pack(doubleWord, true))
	a.putWord(base+3*wordSize, pack(0, true))
	a.prologue = Pointer(base + 2*wordSize)

	_, err = a.extendRegion(a.chunkSize / wordSize)
	if err != nil {
		return nil, errors.Wrap(err, "failed to seed the heap")
	}

	memutils.DebugValidate(a.checker)
	return a, nil
}
