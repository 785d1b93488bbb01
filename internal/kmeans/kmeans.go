// Package kmeans implements the parallel k-means clustering used only
// during bulk index build (spec.md §1 "Parallel k-means used only during
// bulk index build; only its public entry points matter to the core").
// Worker fan-out is bounded by build_threads via golang.org/x/sync/errgroup,
// the pool-of-workers idiom used across the retrieved example repos for
// CPU-bound fan-out.
package kmeans

import (
	"context"
	"math"
	"math/rand/v2"

	"golang.org/x/sync/errgroup"

	"github.com/ivfrabitq/vqidx/internal/floating"
)

// Result is the set of centroids k-means converged to, one per cluster,
// plus which centroids were empty (no assigned points) so build can filter
// them out (spec.md §4.4 step 2 "Filter out empty centroids").
type Result struct {
	Centroids [][]float32
	NonEmpty  []bool
}

// Options controls clustering.
type Options struct {
	K              int
	MaxIterations  int
	Spherical      bool // normalize centroids during k-means (spec.md §6)
	BuildThreads   int
	Seed           uint64
}

// Run clusters samples into opts.K centroids using Lloyd's algorithm,
// parallelizing the assignment step across opts.BuildThreads workers.
func Run(ctx context.Context, samples [][]float32, opts Options) (*Result, error) {
	if len(samples) == 0 || opts.K <= 0 {
		return &Result{}, nil
	}
	k := opts.K
	if k > len(samples) {
		k = len(samples)
	}
	dim := len(samples[0])

	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0xA5A5A5A5))
	centroids := make([][]float32, k)
	perm := rng.Perm(len(samples))
	for i := 0; i < k; i++ {
		centroids[i] = append([]float32(nil), samples[perm[i]]...)
	}

	maxIter := opts.MaxIterations
	if maxIter <= 0 {
		maxIter = 25
	}
	threads := opts.BuildThreads
	if threads < 1 {
		threads = 1
	}

	assignments := make([]int, len(samples))
	for iter := 0; iter < maxIter; iter++ {
		if err := assign(ctx, samples, centroids, assignments, threads); err != nil {
			return nil, err
		}

		sums := make([][]float32, k)
		counts := make([]int, k)
		for i := range sums {
			sums[i] = make([]float32, dim)
		}
		for i, v := range samples {
			c := assignments[i]
			sums[c] = floating.Add(sums[c], v)
			counts[c]++
		}

		moved := false
		for c := 0; c < k; c++ {
			if counts[c] == 0 {
				continue
			}
			next := make([]float32, dim)
			for d := 0; d < dim; d++ {
				next[d] = sums[c][d] / float32(counts[c])
			}
			if opts.Spherical {
				next = floating.Normalize(next)
			}
			if !approxEqual(centroids[c], next) {
				moved = true
			}
			centroids[c] = next
		}
		if !moved {
			break
		}
	}

	nonEmpty := make([]bool, k)
	counts := make([]int, k)
	for _, c := range assignments {
		counts[c]++
	}
	for i, n := range counts {
		nonEmpty[i] = n > 0
	}

	return &Result{Centroids: centroids, NonEmpty: nonEmpty}, nil
}

func assign(ctx context.Context, samples [][]float32, centroids [][]float32, assignments []int, threads int) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(threads)
	chunk := (len(samples) + threads - 1) / threads
	if chunk < 1 {
		chunk = 1
	}
	for start := 0; start < len(samples); start += chunk {
		start := start
		end := start + chunk
		if end > len(samples) {
			end = len(samples)
		}
		g.Go(func() error {
			for i := start; i < end; i++ {
				select {
				case <-ctx.Done():
					return ctx.Err()
				default:
				}
				best, bestDist := 0, float32(math.MaxFloat32)
				for c, centroid := range centroids {
					d := floating.SquaredL2(samples[i], centroid)
					if d < bestDist {
						best, bestDist = c, d
					}
				}
				assignments[i] = best
			}
			return nil
		})
	}
	return g.Wait()
}

func approxEqual(a, b []float32) bool {
	for i := range a {
		if math.Abs(float64(a[i]-b[i])) > 1e-6 {
			return false
		}
	}
	return true
}

// Sample draws up to n vectors from the next iterator using reservoir
// sampling, matching build's "sample up to lists.last()*sampling_factor
// vectors from the host's scan" (spec.md §4.4 step 1) without requiring the
// whole scan to be buffered up front.
func Sample(n int, seed uint64, next func() ([]float32, bool)) [][]float32 {
	rng := rand.New(rand.NewPCG(seed, seed^0x1234))
	out := make([][]float32, 0, n)
	count := 0
	for {
		v, ok := next()
		if !ok {
			break
		}
		count++
		if len(out) < n {
			out = append(out, v)
			continue
		}
		j := rng.IntN(count)
		if j < n {
			out[j] = v
		}
	}
	return out
}
