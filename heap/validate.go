package heap

import (
	"github.com/pkg/errors"
)

func (a *Allocator) validate() error {
	mem := a.mem
	prologue := int(a.prologue)
	if len(mem) < prologue+2*wordSize {
		return errors.Errorf("heap of %d bytes is too small to hold the prologue", len(mem))
	}

	prologueTag := pack(doubleWord, true)
	if a.word(header(a.prologue)) != prologueTag || a.word(prologue) != prologueTag {
		return errors.New("the prologue block's tags have been overwritten")
	}

	var freeCount int
	prevFree := false
	bp := a.nextBlock(a.prologue)

	for {
		if header(bp)+wordSize > len(mem) {
			return errors.Errorf("block at offset %d starts past the end of the %d byte heap", bp, len(mem))
		}

		tag := a.word(header(bp))
		size := tagSize(tag)
		if size == 0 {
			break
		}

		if int(bp)%Alignment != 0 {
			return errors.Errorf("block at offset %d is not %d-byte aligned", bp, Alignment)
		}
		if size < MinBlockSize {
			return errors.Errorf("block at offset %d has size %d, smaller than the minimum block size", bp, size)
		}
		if int(bp)+size-wordSize > len(mem) {
			return errors.Errorf("block at offset %d with size %d runs past the end of the %d byte heap", bp, size, len(mem))
		}
		if footerTag := a.word(int(bp) + size - doubleWord); footerTag != tag {
			return errors.Errorf("block at offset %d has header %#x but footer %#x", bp, tag, footerTag)
		}

		free := !tagAllocated(tag)
		if free {
			if prevFree {
				return errors.Errorf("block at offset %d is free, but so is the block before it", bp)
			}
			if !a.freeLists.links.Has(bp) {
				return errors.Errorf("block at offset %d is free but is not in a free list", bp)
			}
			freeCount++
		}
		prevFree = free

		bp += Pointer(size)
	}

	if a.word(header(bp)) != pack(0, true) {
		return errors.Errorf("the epilogue header at offset %d is not marked allocated", header(bp))
	}
	if header(bp)+wordSize != len(mem) {
		return errors.Errorf("the epilogue ends at offset %d but the heap ends at offset %d", header(bp)+wordSize, len(mem))
	}

	// Check integrity of free lists
	var listCount int
	for class, head := range a.freeLists.heads {
		prev := Null
		prevSize := 0

		for block := head; block != Null; {
			link, ok := a.freeLists.links.Get(block)
			if !ok {
				return errors.Errorf("block at offset %d is in free list %d but has no links", block, class)
			}
			if link.prev != prev {
				return errors.Errorf("block at offset %d lists offset %d as its previous block, but was reached from offset %d", block, link.prev, prev)
			}
			if int(block) <= prologue || int(block) >= len(mem) {
				return errors.Errorf("free list %d holds offset %d, which is outside the heap", class, block)
			}
			if a.isAllocated(block) {
				return errors.Errorf("block at offset %d is in free list %d but is not free", block, class)
			}

			size := a.blockSize(block)
			if a.freeLists.sizeClass(size) != class {
				return errors.Errorf("block at offset %d with size %d is in free list %d, but belongs in free list %d", block, size, class, a.freeLists.sizeClass(size))
			}
			if size < prevSize {
				return errors.Errorf("free list %d is out of order: block at offset %d with size %d follows a block of size %d", class, block, size, prevSize)
			}

			listCount++
			if listCount > a.freeLists.count() {
				return errors.Errorf("free list %d contains a cycle", class)
			}

			prev = block
			prevSize = size
			block = link.next
		}
	}

	if listCount != freeCount {
		return errors.Errorf("the number of free blocks in the heap and the number of blocks in the free lists do not match! free lists: %d, heap: %d", listCount, freeCount)
	}
	if a.freeLists.count() != freeCount {
		return errors.Errorf("%d blocks have free list links, but the heap has %d free blocks", a.freeLists.count(), freeCount)
	}

	return nil
}
