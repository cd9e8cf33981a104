package main

import (
	"io"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/segheap/heap"
	"github.com/vkngwrapper/segheap/memutils"
	"github.com/vkngwrapper/segheap/memutils/region"
	"github.com/vkngwrapper/segheap/trace"
	"github.com/zeebo/xxh3"
	"golang.org/x/exp/slog"
)

type replayConfig struct {
	Verbose        bool
	Check          bool
	Stats          bool
	Mmap           bool
	MaxHeap        int
	ChunkSize      int
	SplitThreshold int
}

type replayResult struct {
	Ops         int
	Elapsed     time.Duration
	PeakPayload int
	HeapSize    int
	// Utilization is the peak aggregate payload divided by the final heap size
	Utilization float64
	// Blocks describes the heap's blocks once the trace has finished
	Blocks memutils.DetailedStatistics
	Stats  string
}

func (r replayResult) throughput() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.Ops) / r.Elapsed.Seconds()
}

// liveBlock tracks one trace id while it is allocated
type liveBlock struct {
	ptr      heap.Pointer
	size     int
	checksum uint64
}

func newProvider(config replayConfig) (region.Provider, error) {
	if config.Mmap {
		return region.NewMmapProvider(config.MaxHeap)
	}
	return region.NewSliceProvider(config.MaxHeap)
}

// fillPattern writes the bytes owned by id so that a later overlap with another id's payload
// changes the checksum
func fillPattern(payload []byte, id int) {
	for i := range payload {
		payload[i] = byte(id*131 + i*7 + 1)
	}
}

func patternChecksum(size int, id int) uint64 {
	buf := make([]byte, size)
	fillPattern(buf, id)
	return xxh3.Hash(buf)
}

func replay(logger *slog.Logger, t *trace.Trace, config replayConfig) (replayResult, error) {
	var result replayResult

	provider, err := newProvider(config)
	if err != nil {
		return result, err
	}
	if closer, ok := provider.(io.Closer); ok {
		defer closer.Close()
	}

	allocator, err := heap.New(logger, provider, heap.CreateOptions{
		ChunkSize:      config.ChunkSize,
		SplitThreshold: config.SplitThreshold,
	})
	if err != nil {
		return result, err
	}

	// Sized from the ids in use, since the header's id count is only an upper bound
	ids := 0
	for _, op := range t.Ops {
		ids = memutils.Max(ids, op.ID+1)
	}
	blocks := make([]*liveBlock, ids)
	livePayload := 0

	start := time.Now()
	for index, op := range t.Ops {
		switch op.Type {
		case trace.OpAlloc:
			if blocks[op.ID] != nil {
				return result, errors.Newf("op %d: id %d is allocated twice", index, op.ID)
			}
			ptr, err := allocator.Allocate(op.Size)
			if err != nil {
				return result, errors.Wrapf(err, "op %d: allocate %d bytes", index, op.Size)
			}
			block := &liveBlock{ptr: ptr, size: op.Size}
			if err := writeBlock(allocator, block, op.ID); err != nil {
				return result, errors.Wrapf(err, "op %d", index)
			}
			blocks[op.ID] = block
			livePayload += op.Size

		case trace.OpRealloc:
			block := blocks[op.ID]
			if block == nil {
				return result, errors.Newf("op %d: id %d is reallocated while not allocated", index, op.ID)
			}
			if err := verifyBlock(allocator, block, op.ID); err != nil {
				return result, errors.Wrapf(err, "op %d", index)
			}

			ptr, err := allocator.Reallocate(block.ptr, op.Size)
			if err != nil {
				return result, errors.Wrapf(err, "op %d: reallocate id %d to %d bytes", index, op.ID, op.Size)
			}

			kept := memutils.Min(block.size, op.Size)
			if op.Size > 0 && xxh3.Hash(allocator.Bytes(ptr)[:kept]) != patternChecksum(kept, op.ID) {
				return result, errors.Newf("op %d: reallocate of id %d did not preserve its first %d bytes", index, op.ID, kept)
			}

			livePayload += op.Size - block.size
			block.ptr, block.size = ptr, op.Size
			if err := writeBlock(allocator, block, op.ID); err != nil {
				return result, errors.Wrapf(err, "op %d", index)
			}

		case trace.OpFree:
			block := blocks[op.ID]
			if block == nil {
				return result, errors.Newf("op %d: id %d is freed while not allocated", index, op.ID)
			}
			if err := verifyBlock(allocator, block, op.ID); err != nil {
				return result, errors.Wrapf(err, "op %d", index)
			}
			allocator.Free(block.ptr)
			blocks[op.ID] = nil
			livePayload -= block.size
		}

		result.PeakPayload = memutils.Max(result.PeakPayload, livePayload)

		if config.Check {
			if err := allocator.Validate(); err != nil {
				return result, errors.Wrapf(err, "op %d: heap is inconsistent", index)
			}
		}
	}
	result.Elapsed = time.Since(start)
	result.Ops = len(t.Ops)

	if err := allocator.Validate(); err != nil {
		return result, errors.Wrap(err, "heap is inconsistent after replay")
	}

	result.HeapSize = allocator.HeapSize()
	if result.HeapSize > 0 {
		result.Utilization = float64(result.PeakPayload) / float64(result.HeapSize)
	}
	result.Blocks.Clear()
	allocator.AddDetailedStatistics(&result.Blocks)
	if config.Stats {
		result.Stats = allocator.BuildStatsString(true)
	}

	return result, nil
}

// writeBlock fills the block's payload and records its checksum. A request of zero bytes owns no
// payload.
func writeBlock(allocator *heap.Allocator, block *liveBlock, id int) error {
	if block.size == 0 {
		if block.ptr != heap.Null {
			return errors.Newf("id %d: a zero byte request returned a block", id)
		}
		return nil
	}

	if int(block.ptr)%heap.Alignment != 0 {
		return errors.Newf("id %d: payload at offset %d is not %d-byte aligned", id, block.ptr, heap.Alignment)
	}
	payload := allocator.Bytes(block.ptr)
	if len(payload) < block.size {
		return errors.Newf("id %d: payload holds %d bytes but %d were requested", id, len(payload), block.size)
	}

	fillPattern(payload[:block.size], id)
	block.checksum = xxh3.Hash(payload[:block.size])
	return nil
}

func verifyBlock(allocator *heap.Allocator, block *liveBlock, id int) error {
	if block.size == 0 {
		return nil
	}
	if xxh3.Hash(allocator.Bytes(block.ptr)[:block.size]) != block.checksum {
		return errors.Newf("id %d: payload at offset %d was overwritten", id, block.ptr)
	}
	return nil
}
