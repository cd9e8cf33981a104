package heap

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/segheap/memutils"
)

func (a *Allocator) allocate(size int) (Pointer, error) {
	if size < 0 {
		return Null, errors.Wrapf(memutils.ErrInvalidSize, "size is %d", size)
	}
	if size == 0 {
		return Null, nil
	}

	asize, ok := adjustSize(size)
	if !ok {
		return Null, errors.Wrapf(memutils.ErrInvalidSize, "size %d is larger than the largest block", size)
	}

	bp := a.findFit(asize)
	if bp == Null {
		var err error
		bp, err = a.extendRegion(memutils.Max(asize, a.chunkSize) / wordSize)
		if err != nil {
			return Null, err
		}
	}

	return a.place(bp, asize), nil
}

// place allocates asize bytes from the listed free block at bp and returns the allocated block.
// A leftover too small to be a block stays with the allocation. A leftover no larger than the
// split threshold is kept as a free block at the low end, with the allocation at the high end;
// anything larger goes after the allocation.
func (a *Allocator) place(bp Pointer, asize int) Pointer {
	size := a.blockSize(bp)
	remainder := size - asize

	a.removeFreeBlock(bp, size)
	a.checkPoison(bp)

	if remainder < MinBlockSize {
		a.writeTags(bp, size, true)
		return bp
	}

	if remainder <= a.splitThreshold {
		a.writeTags(bp, remainder, false)
		allocated := bp + Pointer(remainder)
		a.writeTags(allocated, asize, true)
		a.insertFreeBlock(bp, remainder)
		return allocated
	}

	a.writeTags(bp, asize, true)
	leftover := bp + Pointer(asize)
	a.writeTags(leftover, remainder, false)
	a.insertFreeBlock(leftover, remainder)
	return bp
}
