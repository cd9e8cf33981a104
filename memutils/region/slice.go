package region

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/segheap/memutils"
)

// DefaultMaxHeap is the capacity used by NewSliceProvider when none is requested. It is equal to 20Mb.
const DefaultMaxHeap int = 20 * 1024 * 1024

// SliceProvider is a Provider backed by a single Go slice whose capacity is fixed at creation.
// The break moves through the slice's capacity, so the backing array never moves.
type SliceProvider struct {
	buf []byte
}

var _ Provider = &SliceProvider{}

// NewSliceProvider creates a SliceProvider that can grow to at most maxHeap bytes. A maxHeap of
// zero selects DefaultMaxHeap.
func NewSliceProvider(maxHeap int) (*SliceProvider, error) {
	if maxHeap < 0 {
		return nil, errors.Newf("maximum heap size must not be negative, but was %d", maxHeap)
	}
	if maxHeap == 0 {
		maxHeap = DefaultMaxHeap
	}

	return &SliceProvider{
		buf: make([]byte, 0, maxHeap),
	}, nil
}

func (p *SliceProvider) Sbrk(increment int) (int, error) {
	if increment < 0 {
		return 0, errors.Newf("the region cannot shrink: sbrk increment was %d", increment)
	}

	old := len(p.buf)
	if increment > cap(p.buf)-old {
		return 0, errors.Wrapf(memutils.ErrOutOfMemory, "sbrk of %d bytes at break %d exceeds the %d byte maximum", increment, old, cap(p.buf))
	}

	p.buf = p.buf[:old+increment]
	return old, nil
}

func (p *SliceProvider) Bytes() []byte { return p.buf }

func (p *SliceProvider) Size() int { return len(p.buf) }

// MaxSize returns the number of bytes the region can grow to
func (p *SliceProvider) MaxSize() int { return cap(p.buf) }

// Reset rewinds the break to zero. Offsets previously handed out become invalid.
func (p *SliceProvider) Reset() {
	p.buf = p.buf[:0]
}
