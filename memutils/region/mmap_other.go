//go:build !unix

package region

import (
	"github.com/cockroachdb/errors"
)

// MmapProvider falls back to an ordinary Go slice on platforms without mmap.
type MmapProvider struct {
	SliceProvider
	closed bool
}

var _ Provider = &MmapProvider{}

func NewMmapProvider(maxHeap int) (*MmapProvider, error) {
	slice, err := NewSliceProvider(maxHeap)
	if err != nil {
		return nil, err
	}

	return &MmapProvider{SliceProvider: *slice}, nil
}

func (p *MmapProvider) Sbrk(increment int) (int, error) {
	if p.closed {
		return 0, errors.New("the region has been closed")
	}
	return p.SliceProvider.Sbrk(increment)
}

func (p *MmapProvider) Close() error {
	p.closed = true
	p.buf = nil
	return nil
}
