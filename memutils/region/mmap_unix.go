//go:build unix

package region

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/segheap/memutils"
	"golang.org/x/sys/unix"
)

// MmapProvider is a Provider backed by an anonymous private mapping. The whole maximum size is
// reserved up front so the mapping never moves; pages are only committed by the OS as the
// heap touches them.
type MmapProvider struct {
	mapping []byte
	brk     int
}

var _ Provider = &MmapProvider{}

// NewMmapProvider maps maxHeap bytes of anonymous memory. A maxHeap of zero selects DefaultMaxHeap.
func NewMmapProvider(maxHeap int) (*MmapProvider, error) {
	if maxHeap < 0 {
		return nil, errors.Newf("maximum heap size must not be negative, but was %d", maxHeap)
	}
	if maxHeap == 0 {
		maxHeap = DefaultMaxHeap
	}

	pageSize := unix.Getpagesize()
	if err := memutils.CheckPow2(pageSize, "page size"); err != nil {
		return nil, err
	}

	maxHeap = memutils.AlignUp(maxHeap, pageSize)
	mapping, err := unix.Mmap(-1, 0, maxHeap, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to map %d bytes for the heap region", maxHeap)
	}

	return &MmapProvider{mapping: mapping}, nil
}

func (p *MmapProvider) Sbrk(increment int) (int, error) {
	if p.mapping == nil {
		return 0, errors.New("the region has been closed")
	}
	if increment < 0 {
		return 0, errors.Newf("the region cannot shrink: sbrk increment was %d", increment)
	}

	old := p.brk
	if increment > len(p.mapping)-old {
		return 0, errors.Wrapf(memutils.ErrOutOfMemory, "sbrk of %d bytes at break %d exceeds the %d byte mapping", increment, old, len(p.mapping))
	}

	p.brk += increment
	return old, nil
}

func (p *MmapProvider) Bytes() []byte { return p.mapping[:p.brk:p.brk] }

func (p *MmapProvider) Size() int { return p.brk }

// MaxSize returns the number of bytes the region can grow to
func (p *MmapProvider) MaxSize() int { return len(p.mapping) }

// Reset rewinds the break to zero and hands the touched pages back to the OS.
// Offsets previously handed out become invalid.
func (p *MmapProvider) Reset() {
	if p.brk > 0 {
		_ = unix.Madvise(p.mapping[:memutils.AlignUp(p.brk, unix.Getpagesize())], unix.MADV_DONTNEED)
	}
	p.brk = 0
}

// Close unmaps the region. The Provider, and any heap built on it, must not be used afterward.
func (p *MmapProvider) Close() error {
	if p.mapping == nil {
		return nil
	}

	err := unix.Munmap(p.mapping)
	p.mapping = nil
	p.brk = 0
	if err != nil {
		return errors.Wrap(err, "failed to unmap the heap region")
	}
	return nil
}
