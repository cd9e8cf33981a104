// Package arrowmem lets Apache Arrow builders and buffers draw their memory from a heap.Allocator.
package arrowmem

import (
	"fmt"

	"github.com/apache/arrow/go/v17/arrow/memory"
	"github.com/vkngwrapper/segheap/heap"
)

// Allocator implements memory.Allocator on top of a heap. Arrow may touch an allocator from
// several goroutines, so the heap should usually be created with heap.AllocatorCreateSynchronized.
//
// Arrow's interface has no way to report failure, so an exhausted heap panics.
type Allocator struct {
	heap *heap.Allocator
}

var _ memory.Allocator = &Allocator{}

func New(h *heap.Allocator) *Allocator {
	return &Allocator{heap: h}
}

// Allocate returns a zeroed slice of exactly size bytes
func (a *Allocator) Allocate(size int) []byte {
	p, err := a.heap.Allocate(size)
	if err != nil {
		panic(fmt.Sprintf("arrowmem: failed to allocate %d bytes: %+v", size, err))
	}
	if p == heap.Null {
		return []byte{}
	}

	out := a.heap.Bytes(p)[:size:size]
	clear(out)
	return out
}

// Reallocate resizes b to size bytes, keeping its contents. Bytes past the old length are zeroed.
func (a *Allocator) Reallocate(size int, b []byte) []byte {
	if cap(b) == 0 {
		return a.Allocate(size)
	}

	p := a.pointer(b)
	p, err := a.heap.Reallocate(p, size)
	if err != nil {
		panic(fmt.Sprintf("arrowmem: failed to reallocate %d bytes to %d: %+v", len(b), size, err))
	}
	if p == heap.Null {
		return []byte{}
	}

	out := a.heap.Bytes(p)[:size:size]
	if size > len(b) {
		clear(out[len(b):])
	}
	return out
}

func (a *Allocator) Free(b []byte) {
	if cap(b) == 0 {
		return
	}

	a.heap.Free(a.pointer(b))
}

func (a *Allocator) pointer(b []byte) heap.Pointer {
	p, err := a.heap.PointerFromBytes(b)
	if err != nil {
		panic(fmt.Sprintf("arrowmem: %+v", err))
	}
	return p
}
