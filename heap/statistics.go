package heap

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/segheap/memutils"
)

// VisitAllBlocks calls handleBlock once for every block between the prologue and the epilogue,
// in address order. Sizes include boundary tags. Iteration stops at the first error returned.
func (a *Allocator) VisitAllBlocks(handleBlock func(bp Pointer, size int, free bool) error) error {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	return a.visitAllBlocks(handleBlock)
}

func (a *Allocator) visitAllBlocks(handleBlock func(bp Pointer, size int, free bool) error) error {
	for bp := a.nextBlock(a.prologue); a.blockSize(bp) > 0; bp = a.nextBlock(bp) {
		err := handleBlock(bp, a.blockSize(bp), !a.isAllocated(bp))
		if err != nil {
			return err
		}
	}

	return nil
}

// AddStatistics sums this heap's block statistics into stats
func (a *Allocator) AddStatistics(stats *memutils.Statistics) {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	stats.HeapBytes += len(a.mem)
	_ = a.visitAllBlocks(func(bp Pointer, size int, free bool) error {
		stats.BlockCount++
		if free {
			stats.FreeBlockCount++
			stats.FreeBytes += size
		} else {
			stats.AllocationCount++
			stats.AllocationBytes += size
		}
		return nil
	})
}

// AddDetailedStatistics sums this heap's block statistics, including size extremes, into stats
func (a *Allocator) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	a.addDetailedStatistics(stats)
}

func (a *Allocator) addDetailedStatistics(stats *memutils.DetailedStatistics) {
	stats.HeapBytes += len(a.mem)
	_ = a.visitAllBlocks(func(bp Pointer, size int, free bool) error {
		if free {
			stats.AddFreeBlock(size)
		} else {
			stats.AddAllocation(size)
		}
		return nil
	})
}

// FreeListLengths returns the number of blocks currently in each size class list
func (a *Allocator) FreeListLengths() []int {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	return a.freeListLengths()
}

func (a *Allocator) freeListLengths() []int {
	lengths := make([]int, len(a.freeLists.heads))
	for class, head := range a.freeLists.heads {
		for bp := head; bp != Null; bp = a.freeLists.next(bp) {
			lengths[class]++
		}
	}
	return lengths
}

// BuildStatsString returns a JSON document describing the heap. When detailed is true, every
// block and every free list is listed as well.
func (a *Allocator) BuildStatsString(detailed bool) string {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	var stats memutils.DetailedStatistics
	stats.Clear()
	a.addDetailedStatistics(&stats)

	writer := jwriter.NewWriter()
	obj := writer.Object()

	obj.Name("Flags").String(a.createFlags.String())
	obj.Name("ChunkSize").Int(a.chunkSize)
	obj.Name("SplitThreshold").Int(a.splitThreshold)

	total := obj.Name("Total").Object()
	total.Name("HeapBytes").Int(stats.HeapBytes)
	total.Name("Blocks").Int(stats.BlockCount)
	total.Name("Allocations").Int(stats.AllocationCount)
	total.Name("AllocationBytes").Int(stats.AllocationBytes)
	total.Name("FreeBlocks").Int(stats.FreeBlockCount)
	total.Name("FreeBytes").Int(stats.FreeBytes)
	total.Name("Utilization").Float64(stats.Utilization())
	if stats.AllocationCount > 0 {
		total.Name("AllocationSizeMin").Int(stats.AllocationSizeMin)
		total.Name("AllocationSizeMax").Int(stats.AllocationSizeMax)
	}
	if stats.FreeBlockCount > 0 {
		total.Name("FreeBlockSizeMin").Int(stats.FreeBlockSizeMin)
		total.Name("FreeBlockSizeMax").Int(stats.FreeBlockSizeMax)
	}
	total.End()

	if detailed {
		lists := obj.Name("FreeLists").Array()
		for class, length := range a.freeListLengths() {
			if length == 0 {
				continue
			}
			list := lists.Object()
			list.Name("Class").Int(class)
			list.Name("MinSize").Int(1 << class)
			list.Name("Blocks").Int(length)
			list.End()
		}
		lists.End()

		blocks := obj.Name("Blocks").Array()
		_ = a.visitAllBlocks(func(bp Pointer, size int, free bool) error {
			block := blocks.Object()
			block.Name("Offset").Int(int(bp))
			block.Name("Size").Int(size)
			block.Name("Free").Bool(free)
			block.End()
			return nil
		})
		blocks.End()
	}

	obj.End()
	return string(writer.Bytes())
}
