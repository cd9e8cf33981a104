package heap

import (
	"fmt"
	"math/bits"

	"github.com/dolthub/swiss"
)

// freeLink holds a free block's neighbors within its size class list. Links live outside the
// heap region, keyed by payload offset.
type freeLink struct {
	prev Pointer
	next Pointer
}

// segregatedList is an array of size class lists. Class i holds free blocks with sizes in
// [2^i, 2^(i+1)); the last class also takes every larger block. Each list is kept sorted by
// ascending block size.
type segregatedList struct {
	heads []Pointer
	links *swiss.Map[Pointer, freeLink]
}

func newSegregatedList(classes int) segregatedList {
	return segregatedList{
		heads: make([]Pointer, classes),
		links: swiss.NewMap[Pointer, freeLink](64),
	}
}

// sizeClass maps a block size to the index of the list that holds it
func (l *segregatedList) sizeClass(size int) int {
	if size <= 1 {
		return 0
	}

	class := bits.Len(uint(size)) - 1
	if class >= len(l.heads) {
		return len(l.heads) - 1
	}
	return class
}

func (l *segregatedList) count() int {
	return l.links.Count()
}

func (l *segregatedList) next(bp Pointer) Pointer {
	link, _ := l.links.Get(bp)
	return link.next
}

func (l *segregatedList) setNext(bp Pointer, next Pointer) {
	link, _ := l.links.Get(bp)
	link.next = next
	l.links.Put(bp, link)
}

func (l *segregatedList) setPrev(bp Pointer, prev Pointer) {
	link, _ := l.links.Get(bp)
	link.prev = prev
	l.links.Put(bp, link)
}

// insertFreeBlock links bp into its class list ahead of the first block that is at least as large
func (a *Allocator) insertFreeBlock(bp Pointer, size int) {
	if a.freeLists.links.Has(bp) {
		panic(fmt.Sprintf("block at offset %d is already in a free list", bp))
	}

	class := a.freeLists.sizeClass(size)

	prev := Null
	curr := a.freeLists.heads[class]
	for curr != Null && a.blockSize(curr) < size {
		prev = curr
		curr = a.freeLists.next(curr)
	}

	a.freeLists.links.Put(bp, freeLink{prev: prev, next: curr})
	if prev != Null {
		a.freeLists.setNext(prev, bp)
	} else {
		a.freeLists.heads[class] = bp
	}

	if curr != Null {
		a.freeLists.setPrev(curr, bp)
	}
}

// removeFreeBlock unlinks bp from the class list for size
func (a *Allocator) removeFreeBlock(bp Pointer, size int) {
	link, ok := a.freeLists.links.Get(bp)
	if !ok {
		panic(fmt.Sprintf("block at offset %d is not in a free list", bp))
	}

	if link.prev != Null {
		a.freeLists.setNext(link.prev, link.next)
	} else {
		class := a.freeLists.sizeClass(size)
		if a.freeLists.heads[class] != bp {
			panic(fmt.Sprintf("block at offset %d was not at the head of free list %d", bp, class))
		}
		a.freeLists.heads[class] = link.next
	}

	if link.next != Null {
		a.freeLists.setPrev(link.next, link.prev)
	}

	a.freeLists.links.Delete(bp)
}

// findFit scans the class list for asize and every larger class, returning the first block
// that is large enough. Lists are sorted, so within a class this is the best fit.
func (a *Allocator) findFit(asize int) Pointer {
	for class := a.freeLists.sizeClass(asize); class < len(a.freeLists.heads); class++ {
		for bp := a.freeLists.heads[class]; bp != Null; bp = a.freeLists.next(bp) {
			if a.blockSize(bp) >= asize {
				return bp
			}
		}
	}

	return Null
}
