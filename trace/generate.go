package trace

import (
	"fmt"

	"golang.org/x/exp/rand"
)

// Generate builds a random, well-formed trace of numOps operations, one fewer when an odd
// budget leaves a single slot with nothing live to free. Every id is
// allocated once, may be reallocated, and is freed before the trace ends. Sizes are drawn
// from [1, maxSize].
func Generate(seed uint64, numOps int, maxSize int) *Trace {
	r := rand.New(rand.NewSource(seed))
	t := &Trace{
		Name:   fmt.Sprintf("random-%d", seed),
		Weight: 1,
		Ops:    make([]Op, 0, numOps),
	}

	var live []int
	peak, current := 0, 0
	sizes := map[int]int{}

	for len(t.Ops) < numOps {
		remaining := numOps - len(t.Ops)
		if remaining < 2 && len(live) == 0 {
			break
		}

		choice := r.Intn(10)
		switch {
		case remaining <= len(live) || (len(live) > 0 && choice < 3):
			idx := r.Intn(len(live))
			id := live[idx]
			live[idx] = live[len(live)-1]
			live = live[:len(live)-1]
			current -= sizes[id]
			t.Ops = append(t.Ops, Op{Type: OpFree, ID: id})

		case len(live) > 0 && choice < 5:
			id := live[r.Intn(len(live))]
			size := 1 + r.Intn(maxSize)
			current += size - sizes[id]
			sizes[id] = size
			t.Ops = append(t.Ops, Op{Type: OpRealloc, ID: id, Size: size})

		default:
			// Every allocation needs room for its matching free
			if remaining < len(live)+2 {
				continue
			}
			id := t.NumIDs
			t.NumIDs++
			size := 1 + r.Intn(maxSize)
			sizes[id] = size
			current += size
			live = append(live, id)
			t.Ops = append(t.Ops, Op{Type: OpAlloc, ID: id, Size: size})
		}

		if current > peak {
			peak = current
		}
	}

	t.SuggestedHeapSize = peak
	return t
}
