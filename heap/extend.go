package heap

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/segheap/memutils"
	"golang.org/x/exp/slog"
)

// extendRegion grows the heap by at least words words, rounded up to an even count, and returns
// the free block covering the new space after it has been merged with a free block directly
// before it and listed. The heap therefore never ends in two adjacent free blocks.
func (a *Allocator) extendRegion(words int) (Pointer, error) {
	if words%2 != 0 {
		words++
	}
	size := words * wordSize

	if size > maxBlockSize-len(a.mem) {
		return Null, errors.Wrapf(memutils.ErrOutOfMemory, "extending the heap by %d bytes would exceed the %d byte tag limit", size, maxBlockSize)
	}

	offset, err := a.provider.Sbrk(size)
	if err != nil {
		a.logger.Warn("region provider refused to grow", slog.Int("Size", size), slog.Int("HeapSize", len(a.mem)), slog.Any("error", err))
		return Null, errors.Wrapf(err, "failed to extend the heap by %d bytes", size)
	}
	a.mem = a.provider.Bytes()

	a.logger.Debug("    Allocator::extendRegion", slog.Int("Size", size), slog.Int("HeapSize", len(a.mem)))

	// The old epilogue header becomes the new block's header
	bp := Pointer(offset)
	a.writeTags(bp, size, false)
	a.putWord(header(a.nextBlock(bp)), pack(0, true))

	bp = a.coalesce(bp)
	a.poison(bp)
	a.insertFreeBlock(bp, a.blockSize(bp))

	return bp, nil
}

// coalesce merges the unlisted free block at bp with whichever neighbors are free, removing
// those neighbors from their lists. It returns the merged block, which the caller must list.
func (a *Allocator) coalesce(bp Pointer) Pointer {
	prevAllocated := a.prevAllocated(bp)
	next := a.nextBlock(bp)
	nextAllocated := a.isAllocated(next)
	size := a.blockSize(bp)

	switch {
	case prevAllocated && nextAllocated:
		return bp

	case prevAllocated && !nextAllocated:
		nextSize := a.blockSize(next)
		a.removeFreeBlock(next, nextSize)

		size += nextSize
		a.writeTags(bp, size, false)
		return bp

	case !prevAllocated && nextAllocated:
		prev := a.prevBlock(bp)
		prevSize := a.blockSize(prev)
		a.removeFreeBlock(prev, prevSize)

		size += prevSize
		a.writeTags(prev, size, false)
		return prev

	default:
		prev := a.prevBlock(bp)
		prevSize := a.blockSize(prev)
		nextSize := a.blockSize(next)
		a.removeFreeBlock(prev, prevSize)
		a.removeFreeBlock(next, nextSize)

		size += prevSize + nextSize
		a.writeTags(prev, size, false)
		return prev
	}
}

// poison marks a free block's payload so reuse can detect writes made after it was freed
func (a *Allocator) poison(bp Pointer) {
	if memutils.DebugPoison {
		memutils.WritePoison(a.payload(bp))
	}
}

func (a *Allocator) checkPoison(bp Pointer) {
	if memutils.DebugPoison && !memutils.ValidatePoison(a.payload(bp)) {
		panic(errors.Newf("free block at offset %d was written to after it was freed", bp))
	}
}
