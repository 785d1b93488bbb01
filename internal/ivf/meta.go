package ivf

import (
	"encoding/binary"

	"github.com/ivfrabitq/vqidx/internal/floating"
	"github.com/ivfrabitq/vqidx/internal/tape"
)

// metaVersion is the on-disk format version written into MetaTuple's
// reserved version byte (spec.md §6 "Forward compatibility is not
// guaranteed; an explicit version byte lives in the meta tuple's reserved
// field").
const metaVersion = 1

// MetaTuple is the single tuple at page 0, slot 1 (spec.md §3).
type MetaTuple struct {
	Dims         uint16
	HeightOfRoot uint8
	IsResidual   bool
	VectorsFirst uint32
	Mean         tape.Pointer
	First        uint32
	Version      uint8
	Distance     floating.Distance
	Kind         floating.Kind
}

const metaTupleSize = 2 + 1 + 1 + 4 + tape.PointerSize + 4 + 1 + 1 + 1

func (m *MetaTuple) Encode() []byte {
	buf := make([]byte, metaTupleSize)
	binary.LittleEndian.PutUint16(buf[0:2], m.Dims)
	buf[2] = m.HeightOfRoot
	if m.IsResidual {
		buf[3] = 1
	}
	binary.LittleEndian.PutUint32(buf[4:8], m.VectorsFirst)
	tape.EncodePointer(buf[8:8+tape.PointerSize], m.Mean)
	off := 8 + tape.PointerSize
	binary.LittleEndian.PutUint32(buf[off:off+4], m.First)
	buf[off+4] = m.Version
	buf[off+5] = byte(m.Distance)
	buf[off+6] = byte(m.Kind)
	return buf
}

// DecodeMetaTuple parses bytes produced by MetaTuple.Encode.
func DecodeMetaTuple(b []byte) *MetaTuple {
	m := &MetaTuple{}
	m.Dims = binary.LittleEndian.Uint16(b[0:2])
	m.HeightOfRoot = b[2]
	m.IsResidual = b[3] != 0
	m.VectorsFirst = binary.LittleEndian.Uint32(b[4:8])
	m.Mean = tape.DecodePointer(b[8 : 8+tape.PointerSize])
	off := 8 + tape.PointerSize
	m.First = binary.LittleEndian.Uint32(b[off : off+4])
	m.Version = b[off+4]
	m.Distance = floating.Distance(b[off+5])
	m.Kind = floating.Kind(b[off+6])
	return m
}
