// Package region provides the growable raw memory a heap is carved out of.
package region

//go:generate mockgen -source provider.go -destination mocks/mock_provider.go -package mocks

// Provider supplies one contiguous region of memory that can only grow. Offsets handed out by a
// Provider remain valid, and Bytes continues to alias the same backing memory, for the lifetime
// of the Provider.
type Provider interface {
	// Sbrk extends the region by exactly increment bytes and returns the offset of the first
	// byte of the extension. It returns an error wrapping memutils.ErrOutOfMemory when the backing
	// store cannot grow that far, in which case the region is unchanged.
	Sbrk(increment int) (int, error)
	// Bytes returns the region from offset 0 up to the current break
	Bytes() []byte
	// Size returns the current break, in bytes
	Size() int
}
