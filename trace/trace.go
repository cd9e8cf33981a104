// Package trace reads, writes and generates allocator workloads in the malloc-lab trace format:
// four header lines (suggested heap size, id count, operation count, weight) followed by one
// operation per line, "a <id> <size>", "r <id> <size>" or "f <id>".
package trace

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/segheap/memutils"
)

// OpType identifies the allocator call a trace line replays
type OpType uint8

const (
	OpAlloc OpType = iota
	OpRealloc
	OpFree
)

var opTypeMapping = map[OpType]string{
	OpAlloc:   "a",
	OpRealloc: "r",
	OpFree:    "f",
}

func (t OpType) String() string {
	return opTypeMapping[t]
}

// Op is one line of a trace. ID names the block across the operations that touch it.
type Op struct {
	Type OpType
	ID   int
	// Size is unused for OpFree
	Size int
}

// Trace is a parsed workload. SuggestedHeapSize and Weight are carried from the header for
// reporting and do not constrain replay.
type Trace struct {
	Name              string
	SuggestedHeapSize int
	NumIDs            int
	Weight            int
	Ops               []Op
}

// maxPreallocatedOps bounds how much of a header's declared operation count is trusted up front.
// The count itself is checked once every line has been read.
const maxPreallocatedOps = 1 << 16

// ErrMalformed is wrapped by every parse failure
var ErrMalformed error = errors.New("malformed trace")

// ReadFile parses the trace at path, naming it after the file
func ReadFile(path string) (*Trace, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open trace %s", path)
	}
	defer f.Close()

	t, err := Parse(f)
	if err != nil {
		return nil, errors.Wrapf(err, "trace %s", path)
	}
	t.Name = filepath.Base(path)
	return t, nil
}

// Parse reads a trace. Blank lines are skipped and everything after a '#' is ignored.
func Parse(r io.Reader) (*Trace, error) {
	scanner := bufio.NewScanner(r)
	lineNumber := 0

	nextLine := func() ([]string, bool) {
		for scanner.Scan() {
			lineNumber++
			line := scanner.Text()
			if idx := strings.IndexByte(line, '#'); idx >= 0 {
				line = line[:idx]
			}
			fields := strings.Fields(line)
			if len(fields) > 0 {
				return fields, true
			}
		}
		return nil, false
	}

	var header [4]int
	for i := range header {
		fields, ok := nextLine()
		if !ok {
			return nil, errors.Wrapf(ErrMalformed, "header ended after %d of 4 lines", i)
		}
		if len(fields) != 1 {
			return nil, errors.Wrapf(ErrMalformed, "line %d: expected a single header value", lineNumber)
		}
		value, err := strconv.Atoi(fields[0])
		if err != nil || value < 0 {
			return nil, errors.Wrapf(ErrMalformed, "line %d: header value %q is not a non-negative integer", lineNumber, fields[0])
		}
		header[i] = value
	}

	t := &Trace{
		SuggestedHeapSize: header[0],
		NumIDs:            header[1],
		Weight:            header[3],
		Ops:               make([]Op, 0, memutils.Min(header[2], maxPreallocatedOps)),
	}

	for {
		fields, ok := nextLine()
		if !ok {
			break
		}

		op, err := parseOp(fields, t.NumIDs)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", lineNumber)
		}
		t.Ops = append(t.Ops, op)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read trace")
	}

	if len(t.Ops) != header[2] {
		return nil, errors.Wrapf(ErrMalformed, "header declares %d operations but the trace has %d", header[2], len(t.Ops))
	}

	return t, nil
}

func parseOp(fields []string, numIDs int) (Op, error) {
	var op Op
	switch fields[0] {
	case "a":
		op.Type = OpAlloc
	case "r":
		op.Type = OpRealloc
	case "f":
		op.Type = OpFree
	default:
		return op, errors.Wrapf(ErrMalformed, "unknown operation %q", fields[0])
	}

	expected := 3
	if op.Type == OpFree {
		expected = 2
	}
	if len(fields) != expected {
		return op, errors.Wrapf(ErrMalformed, "operation %q takes %d arguments, got %d", fields[0], expected-1, len(fields)-1)
	}

	id, err := strconv.Atoi(fields[1])
	if err != nil || id < 0 || id >= numIDs {
		return op, errors.Wrapf(ErrMalformed, "id %q is not in [0, %d)", fields[1], numIDs)
	}
	op.ID = id

	if op.Type != OpFree {
		size, err := strconv.Atoi(fields[2])
		if err != nil || size < 0 {
			return op, errors.Wrapf(ErrMalformed, "size %q is not a non-negative integer", fields[2])
		}
		op.Size = size
	}

	return op, nil
}

// WriteTo writes t in the format Parse reads
func (t *Trace) WriteTo(w io.Writer) (int64, error) {
	bw := bufio.NewWriter(w)
	var written int64

	n, err := fmt.Fprintf(bw, "%d\n%d\n%d\n%d\n", t.SuggestedHeapSize, t.NumIDs, len(t.Ops), t.Weight)
	written += int64(n)
	if err != nil {
		return written, err
	}

	for _, op := range t.Ops {
		if op.Type == OpFree {
			n, err = fmt.Fprintf(bw, "%s %d\n", op.Type, op.ID)
		} else {
			n, err = fmt.Fprintf(bw, "%s %d %d\n", op.Type, op.ID, op.Size)
		}
		written += int64(n)
		if err != nil {
			return written, err
		}
	}

	return written, bw.Flush()
}
