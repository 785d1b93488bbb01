package pghost

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestOpenAgainstLiveDatabase only runs when VQIDX_TEST_DSN names a reachable
// Postgres instance; pghost has no in-memory fake for lib/pq's wire protocol,
// so this is skipped in ordinary unit test runs the way the teacher skips its
// HDF5-official-suite fixtures when the fixture files aren't present.
func TestOpenAgainstLiveDatabase(t *testing.T) {
	dsn := os.Getenv("VQIDX_TEST_DSN")
	if dsn == "" {
		t.Skip("set VQIDX_TEST_DSN to a reachable postgres DSN to run this test")
	}
	h, err := Open(dsn, Config{Table: "vqidx_rows"})
	require.NoError(t, err)
	defer h.Close()

	count := 0
	err = h.Traverse(context.Background(), func(uint64, *int32, []float32) bool {
		count++
		return true
	})
	require.NoError(t, err)
}
