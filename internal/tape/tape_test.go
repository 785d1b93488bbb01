package tape

import (
	"path/filepath"
	"testing"

	"github.com/ivfrabitq/vqidx/internal/page"
	"github.com/stretchr/testify/require"
)

type strTuple string

func (s strTuple) Encode() []byte { return []byte(s) }

func openRel(t *testing.T) *page.Relation {
	t.Helper()
	r, err := page.Open(filepath.Join(t.TempDir(), "tape.dat"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestPushAndEach(t *testing.T) {
	rel := openRel(t)
	tp, err := Create(rel, true)
	require.NoError(t, err)

	var ptrs []Pointer
	for i := 0; i < 5; i++ {
		p, err := tp.Push(strTuple("tuple"))
		require.NoError(t, err)
		ptrs = append(ptrs, p)
	}

	count := 0
	require.NoError(t, tp.Each(func(p Pointer, data []byte) bool {
		require.Equal(t, "tuple", string(data))
		count++
		return true
	}))
	require.Equal(t, 5, count)

	for _, p := range ptrs {
		data, err := tp.Get(p)
		require.NoError(t, err)
		require.Equal(t, "tuple", string(data))
	}
}

func TestPushSpillsAcrossPages(t *testing.T) {
	rel := openRel(t)
	tp, err := Create(rel, true)
	require.NoError(t, err)

	big := make([]byte, 2000)
	var last page.ID
	for i := 0; i < 10; i++ {
		p, err := tp.Push(rawTuple(big))
		require.NoError(t, err)
		last = p.Page
	}
	require.NotEqual(t, tp.Head(), last, "expected the tape to have extended past its head page")

	g, err := rel.Read(tp.Head())
	require.NoError(t, err)
	defer g.Close()
	require.Equal(t, last, g.Page().GetOpaque().Skip)
}

func TestCompactDropsFilteredTuples(t *testing.T) {
	rel := openRel(t)
	tp, err := Create(rel, true)
	require.NoError(t, err)

	_, err = tp.Push(strTuple("keep"))
	require.NoError(t, err)
	_, err = tp.Push(strTuple("drop"))
	require.NoError(t, err)

	newHead, err := tp.Compact(func(data []byte) bool { return string(data) == "keep" })
	require.NoError(t, err)

	compacted := Open(rel, newHead)
	var seen []string
	require.NoError(t, compacted.Each(func(_ Pointer, data []byte) bool {
		seen = append(seen, string(data))
		return true
	}))
	require.Equal(t, []string{"keep"}, seen)
}
