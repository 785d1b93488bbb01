package page

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *Relation {
	t.Helper()
	r, err := Open(filepath.Join(t.TempDir(), "rel.dat"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestExtendThenReadWrite(t *testing.T) {
	r := openTemp(t)

	g, err := r.Extend(Opaque{Next: None, Skip: 0}, true)
	require.NoError(t, err)
	id := g.ID()
	slot, ok := g.Page().Alloc([]byte("payload"))
	require.True(t, ok)
	require.NoError(t, g.Close())

	rg, err := r.Read(id)
	require.NoError(t, err)
	defer rg.Close()
	got, err := rg.Page().Get(slot)
	require.NoError(t, err)
	require.Equal(t, "payload", string(got))
}

func TestSearchFindsPageWithSpace(t *testing.T) {
	r := openTemp(t)
	g, err := r.Extend(Opaque{Next: None, Skip: 0}, true)
	require.NoError(t, err)
	require.NoError(t, g.Close())

	found, err := r.Search(100)
	require.NoError(t, err)
	require.NotNil(t, found)
	defer found.Close()
	require.Equal(t, g.ID(), found.ID())
}

func TestSearchReturnsNilWhenNoneQualify(t *testing.T) {
	r := openTemp(t)
	found, err := r.Search(100)
	require.NoError(t, err)
	require.Nil(t, found)
}

func TestWriteGuardAbortDiscardsChanges(t *testing.T) {
	r := openTemp(t)
	g, err := r.Extend(Opaque{Next: None, Skip: 0}, false)
	require.NoError(t, err)
	id := g.ID()
	require.NoError(t, g.Close())

	wg, err := r.Write(id, false)
	require.NoError(t, err)
	_, _ = wg.Page().Alloc([]byte("discarded"))
	wg.Abort()
	require.NoError(t, wg.Close())

	rg, err := r.Read(id)
	require.NoError(t, err)
	defer rg.Close()
	require.Equal(t, 0, rg.Page().Len())
}
