package tensor

import (
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// workers bounds the goroutines used by Linear and Matmul.
var workers atomic.Int64

func init() {
	workers.Store(int64(runtime.GOMAXPROCS(0)))
}

// SetWorkers sets how many goroutines the heavy kernels may use.
// Values below 1 reset it to GOMAXPROCS.
func SetWorkers(n int) {
	if n < 1 {
		n = runtime.GOMAXPROCS(0)
	}
	workers.Store(int64(n))
}

// Workers returns the current kernel parallelism.
func Workers() int {
	return int(workers.Load())
}

// parallelFor splits [0, n) into contiguous chunks and runs fn on each.
func parallelFor(n int, fn func(start, end int)) {
	w := min(Workers(), n)
	if w <= 1 {
		fn(0, n)
		return
	}

	var g errgroup.Group
	g.SetLimit(w)
	chunk := (n + w - 1) / w
	for start := 0; start < n; start += chunk {
		end := min(start+chunk, n)
		g.Go(func() error {
			fn(start, end)
			return nil
		})
	}
	_ = g.Wait()
}
