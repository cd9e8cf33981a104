package heap

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/segheap/heap/internal/utils"
	"github.com/vkngwrapper/segheap/memutils"
	"github.com/vkngwrapper/segheap/memutils/region"
	"golang.org/x/exp/slog"
)

// Allocator is a segregated-fit heap built on boundary tags. Every block carries a header and a
// footer tag encoding its size and allocation state, so neighbors are found in constant time in
// either direction and no other structure tracks block boundaries. Free blocks are additionally
// threaded through one of several size class lists.
//
// An Allocator is not safe for concurrent use unless it was created with AllocatorCreateSynchronized.
// Freeing a block twice, freeing a Pointer this Allocator did not return, or touching a payload
// after it was freed is undefined behavior.
type Allocator struct {
	mutex    utils.OptionalRWMutex
	logger   *slog.Logger
	provider region.Provider
	mem      []byte

	createFlags    CreateFlags
	chunkSize      int
	splitThreshold int

	prologue  Pointer
	freeLists segregatedList
	checker   memutils.Validatable
}

type validateFunc func() error

func (f validateFunc) Validate() error { return f() }

// Allocate returns a Pointer to a payload of at least size bytes, aligned to Alignment. A size
// of zero allocates nothing and returns Null with no error. When the region cannot grow far
// enough, the returned error wraps memutils.ErrOutOfMemory.
func (a *Allocator) Allocate(size int) (Pointer, error) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	a.logger.Debug("Allocator::Allocate", slog.Int("Size", size))

	bp, err := a.allocate(size)
	memutils.DebugValidate(a.checker)
	return bp, err
}

// Free returns the block at bp to the heap, merging it with any free neighbors. Freeing Null
// is a no-op.
func (a *Allocator) Free(bp Pointer) {
	if bp == Null {
		return
	}

	a.mutex.Lock()
	defer a.mutex.Unlock()

	a.logger.Debug("Allocator::Free", slog.Int("Offset", int(bp)))

	a.free(bp)
	memutils.DebugValidate(a.checker)
}

// Reallocate resizes the block at bp so that its payload holds at least size bytes, preserving
// the existing payload up to the smaller of the old and new sizes. The returned Pointer may
// differ from bp. Reallocating Null is equivalent to Allocate, and reallocating to size zero
// is equivalent to Free and returns Null.
//
// If a new block is needed and cannot be allocated, the error wraps memutils.ErrOutOfMemory
// and bp remains allocated and untouched.
func (a *Allocator) Reallocate(bp Pointer, size int) (Pointer, error) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	a.logger.Debug("Allocator::Reallocate", slog.Int("Offset", int(bp)), slog.Int("Size", size))

	newBp, err := a.reallocate(bp, size)
	memutils.DebugValidate(a.checker)
	return newBp, err
}

// Bytes returns the payload of the allocated block at bp. The slice's length and capacity are
// the block's full usable size, which may exceed what was requested. It remains valid until
// the block is freed or moved by Reallocate.
func (a *Allocator) Bytes(bp Pointer) []byte {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	return a.payload(bp)
}

// UsableSize returns the number of payload bytes available in the allocated block at bp
func (a *Allocator) UsableSize(bp Pointer) int {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	return a.blockSize(bp) - doubleWord
}

// HeapSize returns the number of bytes the heap has taken from its region
func (a *Allocator) HeapSize() int {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	return len(a.mem)
}

// PointerFromBytes recovers the Pointer for a payload slice previously returned by Bytes. It
// returns an error if the slice does not begin inside this heap.
func (a *Allocator) PointerFromBytes(payload []byte) (Pointer, error) {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	offset, ok := offsetOf(a.mem, payload)
	if !ok || offset <= int(a.prologue) || offset%Alignment != 0 {
		return Null, errors.New("slice does not address a payload in this heap")
	}
	return Pointer(offset), nil
}

// Validate walks every block in the heap and every free list, returning an error describing the
// first inconsistency it finds. It is expensive and intended for diagnostics.
func (a *Allocator) Validate() error {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	return a.validate()
}
