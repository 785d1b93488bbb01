package ivf

import (
	"encoding/binary"
	"math"

	"github.com/ivfrabitq/vqidx/internal/rabitq"
	"github.com/ivfrabitq/vqidx/internal/tape"
)

// Height0Tuple is a leaf tuple packing up to 32 vector codes (spec.md §3).
type Height0Tuple struct {
	Dims      int
	Mask      [32]bool
	Mean      [32]tape.Pointer
	Payload   [32]uint64
	DisU2     [32]float32
	FactorPPC [32]float32
	FactorIP  [32]float32
	FactorErr [32]float32
	Packed    *rabitq.PackedGroup
}

// NewHeight0Tuple returns an empty leaf tuple ready for slots to be filled.
func NewHeight0Tuple(dims int) *Height0Tuple {
	return &Height0Tuple{Dims: dims, Packed: rabitq.NewPackedGroup(dims)}
}

// FreeSlot returns the first unused slot index, or -1 if the tuple is full.
func (h *Height0Tuple) FreeSlot() int {
	for i := 0; i < 32; i++ {
		if !h.Mask[i] {
			return i
		}
	}
	return -1
}

// SetSlot writes a code into slot i and marks it live.
func (h *Height0Tuple) SetSlot(i int, mean tape.Pointer, payload uint64, code *rabitq.Code) {
	h.Mask[i] = true
	h.Mean[i] = mean
	h.Payload[i] = payload
	h.DisU2[i] = code.DisU2
	h.FactorPPC[i] = code.FactorPPC
	h.FactorIP[i] = code.FactorIP
	h.FactorErr[i] = code.FactorErr
	h.Packed.SetLane(i, code)
}

// Code reconstructs slot i's rabitq.Code for rerank-time use.
func (h *Height0Tuple) Code(i int) *rabitq.Code {
	bits := make([]uint64, (h.Dims+63)/64)
	for d := 0; d < h.Dims; d++ {
		if h.Packed.Bit(i, d) {
			bits[d/64] |= 1 << (uint(d) % 64)
		}
	}
	return &rabitq.Code{
		Bits:      bits,
		Dim:       h.Dims,
		DisU2:     h.DisU2[i],
		FactorPPC: h.FactorPPC[i],
		FactorIP:  h.FactorIP[i],
		FactorErr: h.FactorErr[i],
	}
}

const height0FixedSize = 4 + 32*tape.PointerSize + 32*8 + 32*4*4 + 2

func (h *Height0Tuple) Encode() []byte {
	buf := make([]byte, height0FixedSize+len(h.Packed.Buf))
	var maskBits uint32
	for i := 0; i < 32; i++ {
		if h.Mask[i] {
			maskBits |= 1 << uint(i)
		}
	}
	binary.LittleEndian.PutUint32(buf[0:4], maskBits)
	off := 4
	for i := 0; i < 32; i++ {
		tape.EncodePointer(buf[off:off+tape.PointerSize], h.Mean[i])
		off += tape.PointerSize
	}
	for i := 0; i < 32; i++ {
		binary.LittleEndian.PutUint64(buf[off:off+8], h.Payload[i])
		off += 8
	}
	writeF32Array := func(arr [32]float32) {
		for i := 0; i < 32; i++ {
			binary.LittleEndian.PutUint32(buf[off:off+4], math.Float32bits(arr[i]))
			off += 4
		}
	}
	writeF32Array(h.DisU2)
	writeF32Array(h.FactorPPC)
	writeF32Array(h.FactorIP)
	writeF32Array(h.FactorErr)
	binary.LittleEndian.PutUint16(buf[off:off+2], uint16(h.Dims))
	off += 2
	copy(buf[off:], h.Packed.Buf)
	return buf
}

// DecodeHeight0Tuple parses bytes produced by Height0Tuple.Encode.
func DecodeHeight0Tuple(b []byte) *Height0Tuple {
	h := &Height0Tuple{}
	maskBits := binary.LittleEndian.Uint32(b[0:4])
	off := 4
	for i := 0; i < 32; i++ {
		h.Mask[i] = maskBits&(1<<uint(i)) != 0
		h.Mean[i] = tape.DecodePointer(b[off : off+tape.PointerSize])
		off += tape.PointerSize
	}
	for i := 0; i < 32; i++ {
		h.Payload[i] = binary.LittleEndian.Uint64(b[off : off+8])
		off += 8
	}
	readF32Array := func() [32]float32 {
		var arr [32]float32
		for i := 0; i < 32; i++ {
			arr[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[off : off+4]))
			off += 4
		}
		return arr
	}
	h.DisU2 = readF32Array()
	h.FactorPPC = readF32Array()
	h.FactorIP = readF32Array()
	h.FactorErr = readF32Array()
	h.Dims = int(binary.LittleEndian.Uint16(b[off : off+2]))
	off += 2
	blocks := (h.Dims + 3) / 4
	buf := make([]byte, blocks*16)
	copy(buf, b[off:])
	h.Packed = &rabitq.PackedGroup{Dim: h.Dims, Blocks: blocks, Buf: buf}
	return h
}
