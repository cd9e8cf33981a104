package memutils

import "github.com/cockroachdb/errors"

// PowerOfTwoError is the error returned from CheckPow2 or other methods if the number being tested is not a power of two
var PowerOfTwoError error = errors.New("number must be a power of two")

// ErrOutOfMemory is returned when the region provider cannot extend the heap far enough to satisfy a request.
// Callers observe it wrapped and may retry with a smaller request.
var ErrOutOfMemory error = errors.New("region provider is exhausted")

// ErrInvalidSize is returned when a requested size is negative or cannot be encoded in a boundary tag
var ErrInvalidSize error = errors.New("invalid allocation size")
