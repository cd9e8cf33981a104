package heap

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/segheap/memutils"
)

func (a *Allocator) free(bp Pointer) {
	if bp == Null {
		return
	}

	a.writeTags(bp, a.blockSize(bp), false)
	bp = a.coalesce(bp)
	a.poison(bp)
	a.insertFreeBlock(bp, a.blockSize(bp))
}

func (a *Allocator) reallocate(bp Pointer, size int) (Pointer, error) {
	if size < 0 {
		return Null, errors.Wrapf(memutils.ErrInvalidSize, "size is %d", size)
	}
	if size == 0 {
		a.free(bp)
		return Null, nil
	}
	if bp == Null {
		return a.allocate(size)
	}

	newSize, ok := adjustSize(size)
	if !ok {
		return Null, errors.Wrapf(memutils.ErrInvalidSize, "size %d is larger than the largest block", size)
	}

	oldSize := a.blockSize(bp)
	if newSize <= oldSize {
		return bp, nil
	}

	// Grow in place by absorbing a free right neighbor
	next := a.nextBlock(bp)
	if !a.isAllocated(next) {
		nextSize := a.blockSize(next)
		if oldSize+nextSize >= newSize {
			a.removeFreeBlock(next, nextSize)
			a.checkPoison(next)
			a.writeTags(bp, oldSize+nextSize, true)
			return bp, nil
		}
	}

	newBp, err := a.allocate(size)
	if err != nil {
		return Null, err
	}

	copy(a.payload(newBp), a.mem[bp:int(bp)+memutils.Min(size, oldSize-doubleWord)])
	a.free(bp)
	return newBp, nil
}
