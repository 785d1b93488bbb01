package kmeans

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunSeparatesObviousClusters(t *testing.T) {
	var samples [][]float32
	for i := 0; i < 20; i++ {
		samples = append(samples, []float32{0, 0})
	}
	for i := 0; i < 20; i++ {
		samples = append(samples, []float32{100, 100})
	}

	res, err := Run(context.Background(), samples, Options{K: 2, BuildThreads: 4, Seed: 1})
	require.NoError(t, err)
	require.Len(t, res.Centroids, 2)

	var low, high bool
	for i, c := range res.Centroids {
		if !res.NonEmpty[i] {
			continue
		}
		if c[0] < 10 {
			low = true
		}
		if c[0] > 90 {
			high = true
		}
	}
	assert.True(t, low)
	assert.True(t, high)
}

func TestRunHandlesEmptyInput(t *testing.T) {
	res, err := Run(context.Background(), nil, Options{K: 3})
	require.NoError(t, err)
	assert.Empty(t, res.Centroids)
}

func TestSampleReturnsAtMostN(t *testing.T) {
	i := 0
	next := func() ([]float32, bool) {
		if i >= 50 {
			return nil, false
		}
		i++
		return []float32{float32(i)}, true
	}
	out := Sample(10, 42, next)
	assert.Len(t, out, 10)
}
