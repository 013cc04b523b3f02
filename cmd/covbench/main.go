// Command covbench drives a synthetic randomized workload against
// rawstore, phobos, or intmultistore directly, timing each operation
// and reporting latency percentiles. It is grounded on the original
// fuzz/load harness's random-operation loop and the original bench
// crate's timing table.
package main

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/cockroachdb/errors"
	"github.com/guptarohit/asciigraph"
	"github.com/kr/pretty"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/a-n-d-r-e-w-l/covenant/intmultistore"
	"github.com/a-n-d-r-e-w-l/covenant/phobos"
	"github.com/a-n-d-r-e-w-l/covenant/seqstore"
	"github.com/a-n-d-r-e-w-l/covenant/seqstore/backing"
	"github.com/a-n-d-r-e-w-l/covenant/seqstore/rawstore"
)

type runConfig struct {
	target     string
	dir        string
	ops        int
	workers    int
	seed       int64
	readRatio  float64
	plot       bool
	verboseLog bool
}

func main() {
	cfg := &runConfig{}
	root := &cobra.Command{
		Use:   "covbench",
		Short: "synthetic load and latency benchmark for covenant's storage layers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cfg)
		},
	}
	flags := root.Flags()
	flags.StringVar(&cfg.target, "target", "intmultistore", "subsystem to exercise: rawstore, phobos, or intmultistore")
	flags.StringVar(&cfg.dir, "dir", "", "working directory (default: a temp dir, removed on exit)")
	flags.IntVar(&cfg.ops, "ops", 10000, "total operations to run")
	flags.IntVar(&cfg.workers, "workers", 4, "concurrent synthetic workers")
	flags.Int64Var(&cfg.seed, "seed", 1, "PRNG seed")
	flags.Float64Var(&cfg.readRatio, "read-ratio", 0.7, "fraction of operations that are reads")
	flags.BoolVar(&cfg.plot, "plot", false, "print an asciigraph plot of per-iteration latency")
	flags.BoolVar(&cfg.verboseLog, "verbose", false, "dump failing operations with kr/pretty")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "covbench:", err)
		os.Exit(1)
	}
}

func run(cfg *runConfig) error {
	dir := cfg.dir
	if dir == "" {
		tmp, err := os.MkdirTemp("", "covbench-*")
		if err != nil {
			return err
		}
		defer os.RemoveAll(tmp)
		dir = tmp
	}

	switch cfg.target {
	case "rawstore":
		return benchRawstore(cfg, dir)
	case "phobos":
		return benchPhobos(cfg, dir)
	case "intmultistore":
		return benchIntmultistore(cfg, dir)
	default:
		return fmt.Errorf("unknown target %q", cfg.target)
	}
}

// workload runs cfg.ops operations across cfg.workers goroutines,
// serializing each op through mu (the stores here are single-writer,
// per spec.md §5 — "multiple concurrent hashers" model the CPU-bound
// preparation, not concurrent mutation of the store), and returns a
// latency histogram plus the per-op latencies in completion order.
func workload(cfg *runConfig, mu *sync.Mutex, op func(rng *rand.Rand) error) (*hdrhistogram.Histogram, []float64, error) {
	hist := hdrhistogram.New(1, 10_000_000, 3)
	var histMu sync.Mutex
	series := make([]float64, 0, cfg.ops)
	var seriesMu sync.Mutex

	var g errgroup.Group
	perWorker := cfg.ops / cfg.workers
	for w := 0; w < cfg.workers; w++ {
		seed := cfg.seed + int64(w)
		n := perWorker
		if w < cfg.ops%cfg.workers {
			n++
		}
		g.Go(func() error {
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < n; i++ {
				start := time.Now()
				mu.Lock()
				err := op(rng)
				mu.Unlock()
				elapsed := time.Since(start)
				if err != nil {
					if cfg.verboseLog {
						fmt.Fprintf(os.Stderr, "op failed: %# v\n", pretty.Formatter(err))
					}
					continue
				}
				histMu.Lock()
				_ = hist.RecordValue(elapsed.Microseconds())
				histMu.Unlock()
				seriesMu.Lock()
				series = append(series, float64(elapsed.Microseconds()))
				seriesMu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return hist, series, nil
}

func report(hist *hdrhistogram.Histogram, series []float64, cfg *runConfig) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"metric", "microseconds"})
	table.Append([]string{"count", fmt.Sprintf("%d", hist.TotalCount())})
	table.Append([]string{"p50", fmt.Sprintf("%d", hist.ValueAtQuantile(50))})
	table.Append([]string{"p90", fmt.Sprintf("%d", hist.ValueAtQuantile(90))})
	table.Append([]string{"p99", fmt.Sprintf("%d", hist.ValueAtQuantile(99))})
	table.Append([]string{"max", fmt.Sprintf("%d", hist.Max())})
	table.Render()

	if cfg.plot && len(series) > 1 {
		fmt.Println(asciigraph.Plot(series, asciigraph.Height(12), asciigraph.Caption(cfg.target+" latency (us)")))
	}
}

func benchRawstore(cfg *runConfig, dir string) error {
	b, err := backing.NewFile(filepath.Join(dir, "bench.slab"))
	if err != nil {
		return err
	}
	defer b.Close()
	s, err := rawstore.New(b, []byte("covbench-rawstore"))
	if err != nil {
		return err
	}

	var mu sync.Mutex
	var ids []seqstore.ID
	hist, series, err := workload(cfg, &mu, func(rng *rand.Rand) error {
		if rng.Float64() < cfg.readRatio && len(ids) > 0 {
			id := ids[rng.Intn(len(ids))]
			_, err := s.Get(id)
			return err
		}
		payload := make([]byte, 1+rng.Intn(256))
		rng.Read(payload)
		id, err := s.Add(payload)
		if err != nil {
			return err
		}
		ids = append(ids, id)
		return nil
	})
	if err != nil {
		return err
	}
	report(hist, series, cfg)
	return nil
}

func benchPhobos(cfg *runConfig, dir string) error {
	db, err := phobos.Open(dir, "bench")
	if err != nil {
		return err
	}
	defer db.Close()

	var mu sync.Mutex
	var keys [][]byte
	hist, series, err := workload(cfg, &mu, func(rng *rand.Rand) error {
		if rng.Float64() < cfg.readRatio && len(keys) > 0 {
			k := keys[rng.Intn(len(keys))]
			_, _ = db.Get(k)
			return nil
		}
		k := []byte(fmt.Sprintf("key-%d", rng.Int63()))
		if err := db.Set(k, rng.Uint64()); err != nil {
			return err
		}
		keys = append(keys, k)
		return nil
	})
	if err != nil {
		return err
	}
	report(hist, series, cfg)
	return nil
}

func benchIntmultistore(cfg *runConfig, dir string) error {
	store, err := intmultistore.Open(dir, "bench")
	if err != nil {
		return err
	}
	defer store.Close()

	var mu sync.Mutex
	var keys []string
	hist, series, err := workload(cfg, &mu, func(rng *rand.Rand) error {
		if rng.Float64() < cfg.readRatio && len(keys) > 0 {
			k := keys[rng.Intn(len(keys))]
			_, err := store.Get(k)
			if err != nil && !errors.Is(err, intmultistore.ErrKeyNotFound) {
				return err
			}
			return nil
		}
		k := fmt.Sprintf("key-%d", rng.Intn(max(1, len(keys)+1)))
		if err := store.Insert(k, rng.Uint64()); err != nil && !errors.Is(err, intmultistore.ErrValueExists) {
			return err
		}
		keys = append(keys, k)
		return nil
	})
	if err != nil {
		return err
	}
	report(hist, series, cfg)
	return nil
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
