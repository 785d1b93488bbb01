package ivf

import (
	"encoding/binary"
	"math"

	"github.com/ivfrabitq/vqidx/internal/rabitq"
	"github.com/ivfrabitq/vqidx/internal/tape"
)

// HeightKTuple is an internal-node entry for one child, K>=1 (spec.md §3).
// Mean points to the child's centroid VectorTuple; First points at the
// head of the child's HeightK-1 chain (or the child's leaf tape when K==1);
// the factor_*/T fields are the RaBitQ code of the centroid.
type HeightKTuple struct {
	Mean      tape.Pointer
	First     uint32
	DisU2     float32
	FactorPPC float32
	FactorIP  float32
	FactorErr float32
	T         []uint64 // the centroid's RaBitQ code bits (code.go's Code.Bits)
}

const heightKHeader = tape.PointerSize + 4 + 4*4 + 2

func (h *HeightKTuple) Encode() []byte {
	buf := make([]byte, heightKHeader+len(h.T)*8)
	tape.EncodePointer(buf[0:tape.PointerSize], h.Mean)
	off := tape.PointerSize
	binary.LittleEndian.PutUint32(buf[off:off+4], h.First)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:off+4], math.Float32bits(h.DisU2))
	off += 4
	binary.LittleEndian.PutUint32(buf[off:off+4], math.Float32bits(h.FactorPPC))
	off += 4
	binary.LittleEndian.PutUint32(buf[off:off+4], math.Float32bits(h.FactorIP))
	off += 4
	binary.LittleEndian.PutUint32(buf[off:off+4], math.Float32bits(h.FactorErr))
	off += 4
	binary.LittleEndian.PutUint16(buf[off:off+2], uint16(len(h.T)))
	off += 2
	for _, w := range h.T {
		binary.LittleEndian.PutUint64(buf[off:off+8], w)
		off += 8
	}
	return buf
}

// DecodeHeightKTuple parses bytes produced by HeightKTuple.Encode.
func DecodeHeightKTuple(b []byte) *HeightKTuple {
	h := &HeightKTuple{}
	h.Mean = tape.DecodePointer(b[0:tape.PointerSize])
	off := tape.PointerSize
	h.First = binary.LittleEndian.Uint32(b[off : off+4])
	off += 4
	h.DisU2 = math.Float32frombits(binary.LittleEndian.Uint32(b[off : off+4]))
	off += 4
	h.FactorPPC = math.Float32frombits(binary.LittleEndian.Uint32(b[off : off+4]))
	off += 4
	h.FactorIP = math.Float32frombits(binary.LittleEndian.Uint32(b[off : off+4]))
	off += 4
	h.FactorErr = math.Float32frombits(binary.LittleEndian.Uint32(b[off : off+4]))
	off += 4
	n := int(binary.LittleEndian.Uint16(b[off : off+2]))
	off += 2
	h.T = make([]uint64, n)
	for i := 0; i < n; i++ {
		h.T[i] = binary.LittleEndian.Uint64(b[off : off+8])
		off += 8
	}
	return h
}

// Code reconstructs a rabitq.Code view over this tuple's stored factors, so
// the search pipeline can evaluate an estimator against it the same way it
// would against a Height0 slot's code.
func (h *HeightKTuple) Code(dim int) *rabitq.Code {
	return &rabitq.Code{
		Bits:      h.T,
		Dim:       dim,
		DisU2:     h.DisU2,
		FactorPPC: h.FactorPPC,
		FactorIP:  h.FactorIP,
		FactorErr: h.FactorErr,
	}
}

// NewHeightKTuple builds a HeightKTuple for a child given its centroid's
// pointer, its chain head, and its RaBitQ code.
func NewHeightKTuple(mean tape.Pointer, first uint32, code *rabitq.Code) *HeightKTuple {
	return &HeightKTuple{
		Mean:      mean,
		First:     first,
		DisU2:     code.DisU2,
		FactorPPC: code.FactorPPC,
		FactorIP:  code.FactorIP,
		FactorErr: code.FactorErr,
		T:         code.Bits,
	}
}
