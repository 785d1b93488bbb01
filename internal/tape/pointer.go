// Package tape implements the append-only typed linked list of pages that
// every tuple kind in this index (vectors, HeightK codes, Height0 leaves) is
// stored on (spec.md §3 Tape<T>, §4.2).
package tape

import (
	"encoding/binary"

	"github.com/ivfrabitq/vqidx/internal/page"
)

// Pointer is a weak cross-page reference (page_id, slot) — spec.md §9:
// "cross-page references are (page_id, slot) values, never raw pointers."
// Dereferencing always goes through a fresh guard that revalidates the slot.
type Pointer struct {
	Page page.ID
	Slot uint16
}

// Nil is the pointer value used where "no pointer" must be encoded, e.g. an
// Err(metadata) tail VectorTuple's chain field has no meaningful pointer.
var Nil = Pointer{Page: page.None, Slot: 0xFFFF}

func (p Pointer) IsNil() bool { return p.Page == page.None }

// EncodePointer writes a pointer in the fixed 6-byte archive layout used
// throughout the on-disk tuple formats.
func EncodePointer(b []byte, p Pointer) {
	binary.LittleEndian.PutUint32(b[0:4], p.Page)
	binary.LittleEndian.PutUint16(b[4:6], p.Slot)
}

// DecodePointer reads a pointer written by EncodePointer.
func DecodePointer(b []byte) Pointer {
	return Pointer{
		Page: binary.LittleEndian.Uint32(b[0:4]),
		Slot: binary.LittleEndian.Uint16(b[4:6]),
	}
}

const PointerSize = 6
