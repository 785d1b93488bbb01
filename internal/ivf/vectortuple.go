// Package ivf implements the IVF tree of spec.md §4.4: the MetaTuple,
// HeightK internal-node tuples, Height0 leaf tuples, and the
// build/insert/bulkdelete/maintain operations over them.
package ivf

import (
	"encoding/binary"
	"math"

	"github.com/ivfrabitq/vqidx/internal/floating"
	"github.com/ivfrabitq/vqidx/internal/page"
	"github.com/ivfrabitq/vqidx/internal/tape"
)

// VectorMeta is the vector-kind metadata carried by a tail VectorTuple,
// here the squared norm of the vector as stored (already normalized for
// cosine).
type VectorMeta struct {
	Norm float32
}

// VectorTuple stores one full-precision vector, possibly split across a
// chain of tuples when it exceeds one page (spec.md §3). Non-tail pieces
// carry Chain pointing at the next piece; the tail piece carries Meta
// instead.
type VectorTuple struct {
	Payload  uint64
	HasPayload bool
	Kind     floating.Kind
	Slice    []float32
	IsTail   bool
	Chain    tape.Pointer
	Meta     VectorMeta
}

const vectorTupleHeader = 1 + 8 + 1 + 6 + 4 + 2 // flags + payload + kind + chain + normOrPad + count

func (v *VectorTuple) Encode() []byte {
	elemSize := 4
	if v.Kind == floating.KindF16 {
		elemSize = 2
	}
	buf := make([]byte, vectorTupleHeader+len(v.Slice)*elemSize)
	flags := byte(0)
	if v.HasPayload {
		flags |= 1
	}
	if v.IsTail {
		flags |= 2
	}
	buf[0] = flags
	binary.LittleEndian.PutUint64(buf[1:9], v.Payload)
	buf[9] = byte(v.Kind)
	if v.IsTail {
		binary.LittleEndian.PutUint32(buf[16:20], math.Float32bits(v.Meta.Norm))
	} else {
		tape.EncodePointer(buf[10:16], v.Chain)
	}
	binary.LittleEndian.PutUint16(buf[20:22], uint16(len(v.Slice)))
	off := vectorTupleHeader
	for _, x := range v.Slice {
		if v.Kind == floating.KindF16 {
			binary.LittleEndian.PutUint16(buf[off:off+2], floating.F32ToF16(x))
			off += 2
		} else {
			binary.LittleEndian.PutUint32(buf[off:off+4], math.Float32bits(x))
			off += 4
		}
	}
	return buf
}

// DecodeVectorTuple parses bytes produced by VectorTuple.Encode.
func DecodeVectorTuple(b []byte) *VectorTuple {
	v := &VectorTuple{}
	flags := b[0]
	v.HasPayload = flags&1 != 0
	v.IsTail = flags&2 != 0
	v.Payload = binary.LittleEndian.Uint64(b[1:9])
	v.Kind = floating.Kind(b[9])
	if v.IsTail {
		v.Meta.Norm = math.Float32frombits(binary.LittleEndian.Uint32(b[16:20]))
	} else {
		v.Chain = tape.DecodePointer(b[10:16])
	}
	n := int(binary.LittleEndian.Uint16(b[20:22]))
	v.Slice = make([]float32, n)
	off := vectorTupleHeader
	for i := 0; i < n; i++ {
		if v.Kind == floating.KindF16 {
			v.Slice[i] = floating.F16ToF32(binary.LittleEndian.Uint16(b[off : off+2]))
			off += 2
		} else {
			v.Slice[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[off : off+4]))
			off += 4
		}
	}
	return v
}

// maxFloatsPerChunk bounds each VectorTuple piece so it always fits one
// page's payload even after the line-pointer and opaque overhead.
func maxFloatsPerChunk(kind floating.Kind) int {
	elemSize := 4
	if kind == floating.KindF16 {
		elemSize = 2
	}
	budget := page.Size - 96 - vectorTupleHeader
	return budget / elemSize
}

// WriteVector splits v into a chain of VectorTuple pieces (spec.md §3's
// "possibly split across a chain of tuples when it exceeds one page") and
// pushes them tail-first so each non-tail piece can carry a concrete
// forward pointer. Returns the pointer to the head piece.
func WriteVector(tp *tape.Tape, v []float32, kind floating.Kind, payload *uint64, meta VectorMeta) (tape.Pointer, error) {
	chunkLen := maxFloatsPerChunk(kind)
	if chunkLen < 1 {
		chunkLen = 1
	}
	var chunks [][]float32
	for off := 0; off < len(v); off += chunkLen {
		end := off + chunkLen
		if end > len(v) {
			end = len(v)
		}
		chunks = append(chunks, v[off:end])
	}
	if len(chunks) == 0 {
		chunks = [][]float32{{}}
	}

	var next tape.Pointer
	for i := len(chunks) - 1; i >= 0; i-- {
		vt := &VectorTuple{Kind: kind, Slice: chunks[i]}
		if payload != nil {
			vt.HasPayload = true
			vt.Payload = *payload
		}
		if i == len(chunks)-1 {
			vt.IsTail = true
			vt.Meta = meta
		} else {
			vt.Chain = next
		}
		ptr, err := tp.Push(vt)
		if err != nil {
			return tape.Pointer{}, err
		}
		next = ptr
	}
	return next, nil
}

// ReadVector follows a VectorTuple chain from head and reconstructs the
// full-precision vector plus its tail metadata.
func ReadVector(tp *tape.Tape, head tape.Pointer) ([]float32, VectorMeta, error) {
	var out []float32
	ptr := head
	for {
		data, err := tp.Get(ptr)
		if err != nil {
			return nil, VectorMeta{}, err
		}
		vt := DecodeVectorTuple(data)
		out = append(out, vt.Slice...)
		if vt.IsTail {
			return out, vt.Meta, nil
		}
		ptr = vt.Chain
	}
}
