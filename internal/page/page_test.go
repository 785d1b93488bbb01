package page

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEmptyPage(t *testing.T) {
	p := NewEmpty(Opaque{Next: None, Skip: None})
	assert.Equal(t, 0, p.Len())
	assert.Equal(t, opaqueStart-headerSize, p.Freespace())

	op := p.GetOpaque()
	assert.Equal(t, None, op.Next)
	assert.Equal(t, None, op.Skip)
}

func TestAllocGetFree(t *testing.T) {
	p := NewEmpty(Opaque{Next: None, Skip: None})

	id1, ok := p.Alloc([]byte("hello"))
	require.True(t, ok)
	assert.Equal(t, 1, id1)

	id2, ok := p.Alloc([]byte("world!"))
	require.True(t, ok)
	assert.Equal(t, 2, id2)

	got1, err := p.Get(id1)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got1))

	got2, err := p.Get(id2)
	require.NoError(t, err)
	assert.Equal(t, "world!", string(got2))

	require.NoError(t, p.Free(id1))
	_, err = p.Get(id1)
	assert.ErrorIs(t, err, ErrSlotFreed)
}

func TestAllocFailsWhenOversized(t *testing.T) {
	p := NewEmpty(Opaque{Next: None, Skip: None})
	big := make([]byte, Size)
	_, ok := p.Alloc(big)
	assert.False(t, ok)
}

func TestAllocRespectsFreespaceBoundary(t *testing.T) {
	p := NewEmpty(Opaque{Next: None, Skip: None})
	exact := make([]byte, p.Freespace()-lpSize)
	_, ok := p.Alloc(exact)
	assert.True(t, ok)
	assert.Equal(t, 0, p.Freespace())

	_, ok = p.Alloc([]byte{1})
	assert.False(t, ok)
}

func TestGetBadSlot(t *testing.T) {
	p := NewEmpty(Opaque{Next: None, Skip: None})
	_, err := p.Get(0)
	assert.ErrorIs(t, err, ErrBadSlot)
	_, err = p.Get(1)
	assert.ErrorIs(t, err, ErrBadSlot)
}

func TestClearResetsPage(t *testing.T) {
	p := NewEmpty(Opaque{Next: None, Skip: None})
	_, _ = p.Alloc([]byte("x"))
	p.Clear(Opaque{Next: 7, Skip: 7})
	assert.Equal(t, 0, p.Len())
	assert.Equal(t, uint32(7), p.GetOpaque().Next)
}
