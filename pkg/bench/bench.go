// Package bench drives a block through synthetic decoding steps and reports
// latency and memory statistics.
package bench

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"blockbench/pkg/kvcache"
	"blockbench/pkg/logutil"
	"blockbench/pkg/model"
	"blockbench/pkg/tensor"
)

// Options controls a benchmark run.
type Options struct {
	Block *model.Block

	// Steps is the number of timed forward calls.
	Steps int

	// Warmup steps run first and are not timed. They still grow the cache.
	Warmup int

	// Batch is the number of sequences decoded together. Defaults to 1.
	Batch int

	// Seed seeds the random inputs.
	Seed uint64

	// Progress, if set, is called after every step with the number of
	// completed steps, warmup included.
	Progress func(done, total int)
}

// Result holds the measurements of a run.
type Result struct {
	// Latencies of the timed steps, in order.
	Latencies []time.Duration
	Warmup    int
	Elapsed   time.Duration

	CacheLen   int
	CacheBytes int64

	// CacheReserved counts the cache's spare capacity as well.
	CacheReserved int64
}

// Run performs opts.Warmup + opts.Steps decoding steps. Each step feeds a
// single random token through the block together with an alibi tensor
// covering every cached position, and threads the returned cache into the
// next step.
//
// If ctx is canceled Run stops between steps and returns the steps completed
// so far along with the context error.
func Run(ctx context.Context, opts Options) (*Result, error) {
	if opts.Block == nil {
		return nil, errors.New("no block to run")
	}
	if opts.Steps < 0 || opts.Warmup < 0 {
		return nil, fmt.Errorf("step counts must not be negative, got %d steps and %d warmup", opts.Steps, opts.Warmup)
	}
	batch := max(opts.Batch, 1)

	block := opts.Block
	cfg := block.Config
	normal := tensor.NewNormal(0, 1, opts.Seed)
	total := opts.Warmup + opts.Steps

	result := &Result{Warmup: opts.Warmup, Latencies: make([]time.Duration, 0, opts.Steps)}

	var cache *kvcache.Cache
	start := time.Now()
	for i := range total {
		if err := ctx.Err(); err != nil {
			return result.finish(start, cache, block.DType), err
		}

		stepStart := time.Now()

		input := tensor.RandN([]int{batch, 1, cfg.HiddenSize}, normal).Round(block.DType)
		pastLen := 0
		if cache != nil {
			pastLen = cache.Len()
		}
		alibi, err := model.BuildAlibiTensor(pastLen+1, cfg.NumHeads, block.DType)
		if err != nil {
			return nil, err
		}

		if _, cache, err = block.Forward(input, alibi, cache, true); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}

		latency := time.Since(stepStart)
		if i >= opts.Warmup {
			result.Latencies = append(result.Latencies, latency)
		}
		logutil.Trace("step", "index", i, "warmup", i < opts.Warmup, "latency", latency)

		if opts.Progress != nil {
			opts.Progress(i+1, total)
		}
	}

	result.finish(start, cache, block.DType)
	slog.Debug("benchmark finished", "steps", len(result.Latencies), "warmup", opts.Warmup,
		"elapsed", result.Elapsed, "cache_len", result.CacheLen)
	return result, nil
}

func (r *Result) finish(start time.Time, cache *kvcache.Cache, d tensor.DType) *Result {
	r.Elapsed = time.Since(start)
	if cache != nil {
		r.CacheLen = cache.Len()
		r.CacheBytes = cache.Size(d)
		r.CacheReserved = cache.Reserved(d)
	}
	return r
}
