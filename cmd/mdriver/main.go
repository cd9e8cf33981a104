package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/docopt/docopt-go"
	"github.com/sourcegraph/conc"
	"github.com/vkngwrapper/segheap/memutils"
	"github.com/vkngwrapper/segheap/trace"
	"golang.org/x/exp/slog"
)

const usage = `Segregated heap trace driver.
Usage:
  mdriver -h | --help
  mdriver [--verbose] [--check] [--stats] [--mmap] [--max-heap=BYTES]
          [--chunk-size=BYTES] [--split-threshold=BYTES] <trace>...
  mdriver --generate=FILE [--seed=SEED] [--ops=OPS] [--max-size=BYTES]
Options:
  -h --help                  Show this screen.
  --verbose                  Log every allocator operation to stderr.
  --check                    Validate the heap after every operation, not only at the end.
  --stats                    Print the detailed heap statistics of each trace as JSON.
  --mmap                     Back each heap with an anonymous memory mapping instead of a Go slice.
  --max-heap=BYTES           Largest region a heap may grow to [default: 20971520].
  --chunk-size=BYTES         Minimum number of bytes the heap grows by [default: 1024].
  --split-threshold=BYTES    Largest remainder that is split off below an allocation [default: 340].
  --generate=FILE            Write a random trace to FILE instead of replaying traces.
  --seed=SEED                Seed for the random trace [default: 1].
  --ops=OPS                  Number of operations in the random trace [default: 10000].
  --max-size=BYTES           Largest request in the random trace [default: 4096].`

func main() {
	opts, _ := docopt.ParseDoc(usage)

	if out, _ := opts.String("--generate"); out != "" {
		if err := generate(opts, out); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		return
	}

	var config replayConfig
	var err error
	config.Verbose, _ = opts.Bool("--verbose")
	config.Check, _ = opts.Bool("--check")
	config.Stats, _ = opts.Bool("--stats")
	config.Mmap, _ = opts.Bool("--mmap")
	if config.MaxHeap, err = opts.Int("--max-heap"); err != nil {
		fmt.Fprintln(os.Stderr, "error: --max-heap needs to be an integer")
		os.Exit(1)
	}
	if config.ChunkSize, err = opts.Int("--chunk-size"); err != nil {
		fmt.Fprintln(os.Stderr, "error: --chunk-size needs to be an integer")
		os.Exit(1)
	}
	if config.SplitThreshold, err = opts.Int("--split-threshold"); err != nil {
		fmt.Fprintln(os.Stderr, "error: --split-threshold needs to be an integer")
		os.Exit(1)
	}
	paths, _ := opts["<trace>"].([]string)

	level := slog.LevelWarn
	if config.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	traces := make([]*trace.Trace, 0, len(paths))
	for _, path := range paths {
		t, err := trace.ReadFile(path)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		traces = append(traces, t)
	}

	results := make([]replayResult, len(traces))
	errs := make([]error, len(traces))
	var wg conc.WaitGroup
	for i := range traces {
		i := i
		wg.Go(func() {
			results[i], errs[i] = replay(logger.With("trace", traces[i].Name), traces[i], config)
		})
	}
	wg.Wait()

	failed := false
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "trace\tvalid\tutil\tops\tsecs\tKops/s\theap\tfree blocks")
	var total memutils.DetailedStatistics
	total.Clear()
	var totalUtil float64
	var totalWeight, totalOps int
	var totalTime time.Duration
	for i, t := range traces {
		if errs[i] != nil {
			failed = true
			fmt.Fprintf(w, "%s\tno\t-\t-\t-\t-\t-\t-\n", t.Name)
			logger.Error("trace failed", "trace", t.Name, "error", errs[i])
			continue
		}
		r := results[i]
		fmt.Fprintf(w, "%s\tyes\t%.1f%%\t%d\t%.6f\t%.0f\t%d\t%d\n", t.Name, r.Utilization*100, r.Ops, r.Elapsed.Seconds(), r.throughput()/1000,
			r.Blocks.HeapBytes, r.Blocks.FreeBlockCount)
		total.AddDetailedStatistics(&r.Blocks)
		totalUtil += r.Utilization * float64(t.Weight)
		totalWeight += t.Weight
		totalOps += r.Ops
		totalTime += r.Elapsed
	}
	if totalWeight > 0 && totalTime > 0 {
		fmt.Fprintf(w, "total\t\t%.1f%%\t%d\t%.6f\t%.0f\t%d\t%d\n", totalUtil/float64(totalWeight)*100, totalOps, totalTime.Seconds(),
			float64(totalOps)/totalTime.Seconds()/1000, total.HeapBytes, total.FreeBlockCount)
	}
	w.Flush()

	if config.Stats {
		for i, t := range traces {
			if errs[i] == nil {
				fmt.Printf("%s: %s\n", t.Name, results[i].Stats)
			}
		}
	}

	if failed {
		os.Exit(1)
	}
}

func generate(opts docopt.Opts, out string) error {
	seed, err := opts.Int("--seed")
	if err != nil || seed < 0 {
		return errors.New("--seed needs to be a non-negative integer")
	}
	ops, err := opts.Int("--ops")
	if err != nil || ops < 0 {
		return errors.New("--ops needs to be a non-negative integer")
	}
	maxSize, err := opts.Int("--max-size")
	if err != nil || maxSize < 1 {
		return errors.New("--max-size needs to be a positive integer")
	}

	f, err := os.Create(out)
	if err != nil {
		return errors.Wrap(err, "failed to create trace file")
	}

	_, err = trace.Generate(uint64(seed), ops, maxSize).WriteTo(f)
	closeErr := f.Close()
	if err != nil {
		return errors.Wrap(err, "failed to write trace file")
	}
	return errors.Wrap(closeErr, "failed to close trace file")
}
