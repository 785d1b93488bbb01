// Package page implements the fixed-size, slotted, line-pointer paged store
// of spec.md §3/§4.1: a relation is a flat file of 8192-byte pages, each with
// a growing line-pointer array at the low end, a heap growing down from the
// high end, and an 8-byte-aligned Opaque trailer.
package page

import (
	"encoding/binary"
	"errors"

	"github.com/ivfrabitq/vqidx/internal/errs"
)

const (
	// Size is the fixed page size in bytes.
	Size = 8192

	headerSize  = 12 // pd_lower(4) + pd_upper(4) + pd_special(4)
	opaqueSize  = 8  // next(4) + skip(4)
	lpSize      = 4  // off(2) + len(2)
	opaqueStart = Size - opaqueSize
)

// None marks an absent page/slot link.
const None uint32 = 0xFFFFFFFF

var (
	ErrCorruption  = errors.New("page: corrupt page header")
	ErrBadSlot     = errors.New("page: invalid slot id")
	ErrSlotFreed   = errors.New("page: slot has been freed")
	ErrNoSpace     = errors.New("page: not enough free space")
	ErrTooLarge    = errors.New("page: payload larger than a page can ever hold")
)

// Opaque is the per-page trailer: next is the forward tape link, skip (only
// meaningful on a tape's head page, spec.md §9) points at the tape's current
// tail page.
type Opaque struct {
	Next uint32
	Skip uint32
}

// Page is the in-memory mirror of one 8192-byte on-disk page.
type Page struct {
	buf [Size]byte
}

// NewEmpty returns a freshly initialized page with the given opaque trailer
// and no slots.
func NewEmpty(op Opaque) *Page {
	p := &Page{}
	p.setHeader(headerSize, opaqueStart, opaqueStart)
	p.SetOpaque(op)
	return p
}

func (p *Page) header() (lower, upper, special uint32) {
	lower = binary.LittleEndian.Uint32(p.buf[0:4])
	upper = binary.LittleEndian.Uint32(p.buf[4:8])
	special = binary.LittleEndian.Uint32(p.buf[8:12])
	return
}

func (p *Page) setHeader(lower, upper, special uint32) {
	binary.LittleEndian.PutUint32(p.buf[0:4], lower)
	binary.LittleEndian.PutUint32(p.buf[4:8], upper)
	binary.LittleEndian.PutUint32(p.buf[8:12], special)
}

// Len returns the number of slots currently in the line-pointer array
// (including freed ones — freed slots have length 0 but keep their index).
func (p *Page) Len() int {
	lower, _, _ := p.header()
	return int(lower-headerSize) / lpSize
}

func (p *Page) lpOffset(i int) int {
	return headerSize + (i-1)*lpSize
}

// Get returns a view of slot i's bytes. Slot indices start at 1; slot 0 is
// reserved per spec.md §4.1.
func (p *Page) Get(i int) ([]byte, error) {
	off, ln, err := p.slot(i)
	if err != nil {
		return nil, err
	}
	if ln == 0 {
		return nil, ErrSlotFreed
	}
	return p.buf[off : off+ln], nil
}

// GetMut returns a mutable view of slot i's bytes. Callers must never
// resize in place — the slice is exactly the original length.
func (p *Page) GetMut(i int) ([]byte, error) {
	off, ln, err := p.slot(i)
	if err != nil {
		return nil, err
	}
	if ln == 0 {
		return nil, ErrSlotFreed
	}
	return p.buf[off : off+ln], nil
}

func (p *Page) slot(i int) (off, ln uint32, err error) {
	if i < 1 || i > p.Len() {
		return 0, 0, ErrBadSlot
	}
	pos := p.lpOffset(i)
	off = uint32(binary.LittleEndian.Uint16(p.buf[pos : pos+2]))
	ln = uint32(binary.LittleEndian.Uint16(p.buf[pos+2 : pos+4]))
	return off, ln, nil
}

func (p *Page) setSlot(i int, off, ln uint32) {
	pos := p.lpOffset(i)
	binary.LittleEndian.PutUint16(p.buf[pos:pos+2], uint16(off))
	binary.LittleEndian.PutUint16(p.buf[pos+2:pos+4], uint16(ln))
}

// Freespace reports the gap between the line-pointer array and the heap. A
// new slot needs room in it for its bytes plus one new line pointer.
func (p *Page) Freespace() int {
	lower, upper, _ := p.header()
	space := int(upper) - int(lower)
	if space < 0 {
		return 0
	}
	return space
}

// Alloc reserves bytes for a new tuple and returns its slot id, or false if
// there isn't room. Alloc fails iff len(data)+lpSize > Freespace()
// (spec.md §4.1).
func (p *Page) Alloc(data []byte) (int, bool) {
	if len(data) > Size-headerSize-opaqueSize-lpSize {
		return 0, false
	}
	if len(data)+lpSize > p.Freespace() {
		return 0, false
	}
	lower, upper, special := p.header()
	newUpper := upper - uint32(len(data))
	copy(p.buf[newUpper:upper], data)

	slotID := p.Len() + 1
	newLower := lower + lpSize
	p.setHeader(newLower, newUpper, special)
	p.setSlot(slotID, newUpper, uint32(len(data)))
	return slotID, true
}

// Free marks slot i's length as zero. The line pointer (and its slot id)
// stays reserved; the bytes themselves are not reclaimed until a tape
// compaction pass rewrites the page.
func (p *Page) Free(i int) error {
	off, _, err := p.slot(i)
	if err != nil {
		return err
	}
	p.setSlot(i, off, 0)
	return nil
}

// Clear resets the page to an empty page carrying a new opaque trailer.
func (p *Page) Clear(op Opaque) {
	p.setHeader(headerSize, opaqueStart, opaqueStart)
	for i := headerSize; i < opaqueStart; i++ {
		p.buf[i] = 0
	}
	p.SetOpaque(op)
}

// GetOpaque reads the trailer.
func (p *Page) GetOpaque() Opaque {
	return Opaque{
		Next: binary.LittleEndian.Uint32(p.buf[opaqueStart : opaqueStart+4]),
		Skip: binary.LittleEndian.Uint32(p.buf[opaqueStart+4 : opaqueStart+8]),
	}
}

// SetOpaque writes the trailer.
func (p *Page) SetOpaque(op Opaque) {
	binary.LittleEndian.PutUint32(p.buf[opaqueStart:opaqueStart+4], op.Next)
	binary.LittleEndian.PutUint32(p.buf[opaqueStart+4:opaqueStart+8], op.Skip)
}

func (p *Page) bytes() []byte { return p.buf[:] }

func validateHeader(lower, upper, special uint32) error {
	if lower > upper || upper > special || special > Size {
		return errs.Wrap("page header", ErrCorruption)
	}
	return nil
}
