package heap_test

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/segheap/heap"
	"github.com/vkngwrapper/segheap/memutils"
	"github.com/vkngwrapper/segheap/memutils/region"
)

type block struct {
	Offset heap.Pointer
	Size   int
	Free   bool
}

func createHeap(t *testing.T, maxHeap int, options heap.CreateOptions) *heap.Allocator {
	provider, err := region.NewSliceProvider(maxHeap)
	require.NoError(t, err)

	a, err := heap.New(nil, provider, options)
	require.NoError(t, err)
	require.NoError(t, a.Validate())
	return a
}

func blocks(t *testing.T, a *heap.Allocator) []block {
	var out []block
	err := a.VisitAllBlocks(func(bp heap.Pointer, size int, free bool) error {
		out = append(out, block{bp, size, free})
		return nil
	})
	require.NoError(t, err)
	return out
}

func fill(data []byte, seed byte) {
	for i := range data {
		data[i] = seed + byte(i)
	}
}

func requireFilled(t *testing.T, data []byte, seed byte) {
	for i := range data {
		require.Equal(t, seed+byte(i), data[i], "byte %d", i)
	}
}

func TestInit(t *testing.T) {
	a := createHeap(t, 0, heap.CreateOptions{})

	require.Equal(t, 16+heap.DefaultChunkSize, a.HeapSize())
	require.Equal(t, []block{{16, heap.DefaultChunkSize, true}}, blocks(t, a))

	var stats memutils.DetailedStatistics
	stats.Clear()
	a.AddDetailedStatistics(&stats)

	require.Equal(t, memutils.DetailedStatistics{
		Statistics: memutils.Statistics{
			HeapBytes:       16 + heap.DefaultChunkSize,
			BlockCount:      1,
			AllocationCount: 0,
			AllocationBytes: 0,
			FreeBlockCount:  1,
			FreeBytes:       heap.DefaultChunkSize,
		},
		AllocationSizeMin: math.MaxInt,
		AllocationSizeMax: 0,
		FreeBlockSizeMin:  heap.DefaultChunkSize,
		FreeBlockSizeMax:  heap.DefaultChunkSize,
	}, stats)
}

func TestAllocateZero(t *testing.T) {
	a := createHeap(t, 0, heap.CreateOptions{})

	p, err := a.Allocate(0)
	require.NoError(t, err)
	require.Equal(t, heap.Null, p)
	require.Equal(t, 16+heap.DefaultChunkSize, a.HeapSize())

	_, err = a.Allocate(-1)
	require.True(t, errors.Is(err, memutils.ErrInvalidSize))

	_, err = a.Allocate(math.MaxInt)
	require.True(t, errors.Is(err, memutils.ErrInvalidSize))
}

func TestReuseFreedBlock(t *testing.T) {
	a := createHeap(t, 0, heap.CreateOptions{})

	p1, err := a.Allocate(100)
	require.NoError(t, err)
	p2, err := a.Allocate(200)
	require.NoError(t, err)
	require.Equal(t, []block{{16, 112, false}, {128, 208, false}, {336, 704, true}}, blocks(t, a))

	a.Free(p1)
	require.NoError(t, a.Validate())

	heapSize := a.HeapSize()
	p3, err := a.Allocate(90)
	require.NoError(t, err)
	require.Equal(t, p1, p3)
	require.Equal(t, heapSize, a.HeapSize())

	a.Free(p2)
	require.NoError(t, a.Validate())
	a.Free(p3)
	require.NoError(t, a.Validate())

	require.Equal(t, []block{{16, heap.DefaultChunkSize, true}}, blocks(t, a))
}

func TestCoalesceFreedNeighbors(t *testing.T) {
	a := createHeap(t, 0, heap.CreateOptions{})

	p1, err := a.Allocate(100)
	require.NoError(t, err)
	p2, err := a.Allocate(200)
	require.NoError(t, err)
	// Consumes the leftover exactly so p2 has an allocated right neighbor
	guard, err := a.Allocate(696)
	require.NoError(t, err)
	require.Equal(t, heap.Pointer(336), guard)

	size1 := a.UsableSize(p1) + 8
	size2 := a.UsableSize(p2) + 8

	a.Free(p1)
	p3, err := a.Allocate(90)
	require.NoError(t, err)
	require.Equal(t, p1, p3)

	a.Free(p2)
	a.Free(p3)
	require.NoError(t, a.Validate())

	require.Equal(t, []block{{16, size1 + size2, true}, {336, 704, false}}, blocks(t, a))

	a.Free(guard)
	require.Equal(t, []block{{16, heap.DefaultChunkSize, true}}, blocks(t, a))
}

func TestCoalesceAllCases(t *testing.T) {
	a := createHeap(t, 0, heap.CreateOptions{})

	var ptrs []heap.Pointer
	for i := 0; i < 5; i++ {
		p, err := a.Allocate(120)
		require.NoError(t, err)
		ptrs = append(ptrs, p)
	}
	// Five 128-byte blocks followed by a 384-byte leftover
	require.Equal(t, heap.Pointer(16), ptrs[0])
	require.Equal(t, heap.Pointer(528), ptrs[4])

	// Both neighbors allocated
	a.Free(ptrs[1])
	require.NoError(t, a.Validate())
	require.Equal(t, block{144, 128, true}, blocks(t, a)[1])

	// Previous neighbor free
	a.Free(ptrs[2])
	require.NoError(t, a.Validate())
	require.Equal(t, block{144, 256, true}, blocks(t, a)[1])

	// Next neighbor free
	a.Free(ptrs[0])
	require.NoError(t, a.Validate())
	require.Equal(t, block{16, 384, true}, blocks(t, a)[0])

	// Both neighbors free
	a.Free(ptrs[4])
	require.NoError(t, a.Validate())
	a.Free(ptrs[3])
	require.NoError(t, a.Validate())
	require.Equal(t, []block{{16, heap.DefaultChunkSize, true}}, blocks(t, a))
}

func TestMinimumBlockSize(t *testing.T) {
	a := createHeap(t, 0, heap.CreateOptions{})

	p1, err := a.Allocate(5)
	require.NoError(t, err)
	p2, err := a.Allocate(8)
	require.NoError(t, err)

	require.Equal(t, 8, a.UsableSize(p1))
	require.Equal(t, 8, a.UsableSize(p2))
	require.GreaterOrEqual(t, int(p2-p1), heap.MinBlockSize)
	require.Len(t, a.Bytes(p1), 8)
}

func TestSplitSmallRemainderLow(t *testing.T) {
	a := createHeap(t, 0, heap.CreateOptions{})

	// 1008-byte block from a 1024-byte free block leaves 16 bytes, kept at the low end
	p, err := a.Allocate(1000)
	require.NoError(t, err)
	require.Equal(t, heap.Pointer(32), p)
	require.Equal(t, []block{{16, 16, true}, {32, 1008, false}}, blocks(t, a))
	require.NoError(t, a.Validate())
}

func TestSplitThresholdBoundary(t *testing.T) {
	a := createHeap(t, 0, heap.CreateOptions{})

	// Remainder of exactly 340 is not possible with 8-byte sizes; 336 stays low, 344 goes high
	p, err := a.Allocate(1024 - 336 - 8)
	require.NoError(t, err)
	require.Equal(t, []block{{16, 336, true}, {352, 688, false}}, blocks(t, a))
	a.Free(p)

	p, err = a.Allocate(1024 - 344 - 8)
	require.NoError(t, err)
	require.Equal(t, heap.Pointer(16), p)
	require.Equal(t, []block{{16, 680, false}, {696, 344, true}}, blocks(t, a))
}

func TestSplitThresholdOption(t *testing.T) {
	a := createHeap(t, 0, heap.CreateOptions{SplitThreshold: 16})

	p, err := a.Allocate(1000 - 8)
	require.NoError(t, err)
	require.Equal(t, heap.Pointer(16), p)
	require.Equal(t, []block{{16, 1000, false}, {1016, 24, true}}, blocks(t, a))
}

func TestAllocateGrowsRegion(t *testing.T) {
	a := createHeap(t, 0, heap.CreateOptions{})

	p, err := a.Allocate(2000)
	require.NoError(t, err)

	// The new extension merges with the initial free chunk before placement
	require.Equal(t, heap.Pointer(16), p)
	require.Equal(t, 16+heap.DefaultChunkSize+2008, a.HeapSize())
	require.Equal(t, []block{{16, 2008, false}, {2024, 1024, true}}, blocks(t, a))
	require.NoError(t, a.Validate())
}

func TestAllocateGrowsByChunk(t *testing.T) {
	a := createHeap(t, 0, heap.CreateOptions{ChunkSize: 4096})

	p, err := a.Allocate(4096)
	require.NoError(t, err)
	require.NoError(t, a.Validate())

	q, err := a.Allocate(24)
	require.NoError(t, err)
	require.NotEqual(t, p, q)
	require.Equal(t, 16+4096+4104, a.HeapSize())
}

func TestRoundTripNoGrowth(t *testing.T) {
	a := createHeap(t, 0, heap.CreateOptions{})

	for _, size := range []int{1, 8, 24, 100, 500, 1016, 3000, 10000} {
		p, err := a.Allocate(size)
		require.NoError(t, err)
		heapSize := a.HeapSize()
		a.Free(p)

		q, err := a.Allocate(size)
		require.NoError(t, err)
		require.Equal(t, heapSize, a.HeapSize(), "size %d", size)
		a.Free(q)
		require.NoError(t, a.Validate())
	}
}

func TestAlignment(t *testing.T) {
	a := createHeap(t, 0, heap.CreateOptions{})

	for size := 1; size < 2000; size += 37 {
		p, err := a.Allocate(size)
		require.NoError(t, err)
		require.Zero(t, int(p)%heap.Alignment)
		require.GreaterOrEqual(t, a.UsableSize(p), size)
	}
	require.NoError(t, a.Validate())
}

func TestOutOfMemory(t *testing.T) {
	a := createHeap(t, 4096, heap.CreateOptions{})

	p, err := a.Allocate(2000)
	require.NoError(t, err)

	_, err = a.Allocate(2000)
	require.Error(t, err)
	require.True(t, errors.Is(err, memutils.ErrOutOfMemory))
	require.NoError(t, a.Validate())

	// A smaller request still succeeds afterward
	q, err := a.Allocate(500)
	require.NoError(t, err)
	require.NotEqual(t, heap.Null, q)

	a.Free(p)
	a.Free(q)
	require.NoError(t, a.Validate())
}

func TestFreeNull(t *testing.T) {
	a := createHeap(t, 0, heap.CreateOptions{})
	a.Free(heap.Null)
	require.Equal(t, []block{{16, heap.DefaultChunkSize, true}}, blocks(t, a))
}

func TestReallocateNull(t *testing.T) {
	a := createHeap(t, 0, heap.CreateOptions{})
	b := createHeap(t, 0, heap.CreateOptions{})

	p, err := a.Reallocate(heap.Null, 64)
	require.NoError(t, err)
	q, err := b.Allocate(64)
	require.NoError(t, err)

	require.Equal(t, q, p)
	require.Equal(t, blocks(t, b), blocks(t, a))
}

func TestReallocateZero(t *testing.T) {
	a := createHeap(t, 0, heap.CreateOptions{})

	p, err := a.Allocate(64)
	require.NoError(t, err)

	p, err = a.Reallocate(p, 0)
	require.NoError(t, err)
	require.Equal(t, heap.Null, p)
	require.Equal(t, []block{{16, heap.DefaultChunkSize, true}}, blocks(t, a))

	p, err = a.Reallocate(heap.Null, 0)
	require.NoError(t, err)
	require.Equal(t, heap.Null, p)
}

func TestReallocateShrink(t *testing.T) {
	a := createHeap(t, 0, heap.CreateOptions{})

	p, err := a.Allocate(200)
	require.NoError(t, err)
	before := blocks(t, a)

	q, err := a.Reallocate(p, 10)
	require.NoError(t, err)
	require.Equal(t, p, q)
	require.Equal(t, before, blocks(t, a))
}

func TestReallocateGrowInPlace(t *testing.T) {
	a := createHeap(t, 0, heap.CreateOptions{})

	p, err := a.Allocate(100)
	require.NoError(t, err)
	fill(a.Bytes(p)[:100], 7)

	q, err := a.Reallocate(p, 500)
	require.NoError(t, err)
	require.Equal(t, p, q)
	require.GreaterOrEqual(t, a.UsableSize(q), 500)
	requireFilled(t, a.Bytes(q)[:100], 7)

	// The whole free neighbor is absorbed
	require.Equal(t, []block{{16, heap.DefaultChunkSize, false}}, blocks(t, a))
	require.NoError(t, a.Validate())
}

func TestReallocateCopy(t *testing.T) {
	a := createHeap(t, 0, heap.CreateOptions{})

	p, err := a.Allocate(100)
	require.NoError(t, err)
	pinned, err := a.Allocate(100)
	require.NoError(t, err)
	fill(a.Bytes(p)[:100], 42)

	q, err := a.Reallocate(p, 500)
	require.NoError(t, err)
	require.NotEqual(t, p, q)
	requireFilled(t, a.Bytes(q)[:100], 42)
	require.NoError(t, a.Validate())

	require.Equal(t, []block{
		{16, 112, true},
		{128, 112, false},
		{240, 288, true},
		{528, 512, false},
	}, blocks(t, a))

	a.Free(pinned)
	a.Free(q)
	require.Equal(t, []block{{16, heap.DefaultChunkSize, true}}, blocks(t, a))
}

func TestReallocateFailureKeepsBlock(t *testing.T) {
	a := createHeap(t, 2048, heap.CreateOptions{})

	p, err := a.Allocate(900)
	require.NoError(t, err)
	fill(a.Bytes(p)[:900], 3)
	before := blocks(t, a)

	q, err := a.Reallocate(p, 1500)
	require.Error(t, err)
	require.True(t, errors.Is(err, memutils.ErrOutOfMemory))
	require.Equal(t, heap.Null, q)

	require.Equal(t, before, blocks(t, a))
	requireFilled(t, a.Bytes(p)[:900], 3)
	require.NoError(t, a.Validate())
}

func TestPointerFromBytes(t *testing.T) {
	a := createHeap(t, 0, heap.CreateOptions{})

	p, err := a.Allocate(48)
	require.NoError(t, err)

	q, err := a.PointerFromBytes(a.Bytes(p))
	require.NoError(t, err)
	require.Equal(t, p, q)

	_, err = a.PointerFromBytes(make([]byte, 16))
	require.Error(t, err)

	_, err = a.PointerFromBytes(a.Bytes(p)[1:])
	require.Error(t, err)
}

func TestBuildStatsString(t *testing.T) {
	a := createHeap(t, 0, heap.CreateOptions{Flags: heap.AllocatorCreateSynchronized})

	_, err := a.Allocate(100)
	require.NoError(t, err)

	var doc struct {
		Flags string
		Total struct {
			HeapBytes       int
			Allocations     int
			AllocationBytes int
			FreeBlocks      int
			FreeBytes       int
		}
		FreeLists []struct {
			Class  int
			Blocks int
		}
		Blocks []struct {
			Offset int
			Size   int
			Free   bool
		}
	}

	require.NoError(t, json.Unmarshal([]byte(a.BuildStatsString(true)), &doc))
	require.Equal(t, "AllocatorCreateSynchronized", doc.Flags)
	require.Equal(t, 16+heap.DefaultChunkSize, doc.Total.HeapBytes)
	require.Equal(t, 1, doc.Total.Allocations)
	require.Equal(t, 112, doc.Total.AllocationBytes)
	require.Equal(t, 1, doc.Total.FreeBlocks)
	require.Equal(t, 912, doc.Total.FreeBytes)
	require.Len(t, doc.FreeLists, 1)
	require.Equal(t, 9, doc.FreeLists[0].Class)
	require.Len(t, doc.Blocks, 2)

	doc.Blocks = nil
	require.NoError(t, json.Unmarshal([]byte(a.BuildStatsString(false)), &doc))
	require.Empty(t, doc.Blocks)
}

func TestCreateOptionsValidation(t *testing.T) {
	provider, err := region.NewSliceProvider(0)
	require.NoError(t, err)

	_, err = heap.New(nil, provider, heap.CreateOptions{ChunkSize: 100})
	require.Error(t, err)

	_, err = heap.New(nil, provider, heap.CreateOptions{ChunkSize: 8})
	require.Error(t, err)

	_, err = heap.New(nil, provider, heap.CreateOptions{SplitThreshold: 4})
	require.Error(t, err)

	_, err = heap.New(nil, provider, heap.CreateOptions{SizeClasses: -1})
	require.Error(t, err)

	_, err = heap.New(nil, nil, heap.CreateOptions{})
	require.Error(t, err)

	require.Equal(t, "", heap.CreateFlags(0).String())
}
