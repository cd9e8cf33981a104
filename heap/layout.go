package heap

import (
	"encoding/binary"

	"github.com/vkngwrapper/segheap/memutils"
)

// Pointer is the offset of a block's payload within the heap region. Payloads never start at
// offset zero, so Null is never a valid allocation.
type Pointer int

const (
	Null Pointer = 0
)

const (
	// wordSize is the size of a boundary tag
	wordSize = 4
	// doubleWord is the combined size of a block's header and footer
	doubleWord = 8

	// Alignment is the alignment of every payload and every block size
	Alignment = doubleWord
	// MinBlockSize is the smallest block the heap will create, tags included
	MinBlockSize = 2 * doubleWord

	allocatedBit uint32 = 0x1
	sizeMask     uint32 = ^uint32(Alignment - 1)

	// maxBlockSize is the largest size a boundary tag can encode
	maxBlockSize = int(sizeMask)
)

func pack(size int, allocated bool) uint32 {
	tag := uint32(size)
	if allocated {
		tag |= allocatedBit
	}
	return tag
}

func tagSize(tag uint32) int {
	return int(tag & sizeMask)
}

func tagAllocated(tag uint32) bool {
	return tag&allocatedBit != 0
}

func (a *Allocator) word(offset int) uint32 {
	return binary.LittleEndian.Uint32(a.mem[offset:])
}

func (a *Allocator) putWord(offset int, value uint32) {
	binary.LittleEndian.PutUint32(a.mem[offset:], value)
}

func header(bp Pointer) int {
	return int(bp) - wordSize
}

func (a *Allocator) footer(bp Pointer) int {
	return int(bp) + a.blockSize(bp) - doubleWord
}

func (a *Allocator) blockSize(bp Pointer) int {
	return tagSize(a.word(header(bp)))
}

func (a *Allocator) isAllocated(bp Pointer) bool {
	return tagAllocated(a.word(header(bp)))
}

func (a *Allocator) nextBlock(bp Pointer) Pointer {
	return bp + Pointer(a.blockSize(bp))
}

// prevBlock reads the footer directly below bp's header
func (a *Allocator) prevBlock(bp Pointer) Pointer {
	return bp - Pointer(tagSize(a.word(int(bp)-doubleWord)))
}

func (a *Allocator) prevAllocated(bp Pointer) bool {
	return tagAllocated(a.word(int(bp) - doubleWord))
}

// writeTags writes matching header and footer tags for a block of the given size starting at bp
func (a *Allocator) writeTags(bp Pointer, size int, allocated bool) {
	tag := pack(size, allocated)
	a.putWord(header(bp), tag)
	a.putWord(int(bp)+size-doubleWord, tag)
}

func (a *Allocator) payload(bp Pointer) []byte {
	end := int(bp) + a.blockSize(bp) - doubleWord
	return a.mem[bp:end:end]
}

// adjustSize converts a requested payload size to a total block size
func adjustSize(size int) (int, bool) {
	if size <= doubleWord {
		return MinBlockSize, true
	}
	if size > maxBlockSize-doubleWord-Alignment {
		return 0, false
	}

	return memutils.AlignUp(size+doubleWord, Alignment), true
}
