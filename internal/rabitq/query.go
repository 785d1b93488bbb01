package rabitq

import "math"

// QueryCode is the u8-quantized rotated query used at search time
// (spec.md §4.3): an affine per-coordinate quantization into [0,255] with
// parameters (k, b) such that x_i ≈ k*u8_i + b, plus the precomputed sum of
// the u8 codes.
type QueryCode struct {
	Dim       int
	U8        []uint8
	K         float32
	B         float32
	SumOfCode int64
}

// EncodeQuery rotates q and quantizes it to 8 bits per coordinate.
func EncodeQuery(q []float32) *QueryCode {
	rot := RotationFor(len(q)).Project(q)
	lo, hi := rot[0], rot[0]
	for _, x := range rot {
		if x < lo {
			lo = x
		}
		if x > hi {
			hi = x
		}
	}
	span := hi - lo
	k := span / 255
	if k == 0 {
		k = 1
	}
	u8 := make([]uint8, len(rot))
	var sum int64
	for i, x := range rot {
		v := int((x - lo) / k)
		if v < 0 {
			v = 0
		}
		if v > 255 {
			v = 255
		}
		u8[i] = uint8(v)
		sum += int64(v)
	}
	return &QueryCode{Dim: len(q), U8: u8, K: k, B: lo, SumOfCode: sum}
}

// reduceSumOfXY computes sum_i code_i * query_u8_i for one lane of a packed
// group — the cheap reduction the estimator is built from (spec.md §4.3).
func reduceSumOfXY(lane int, g *PackedGroup, qc *QueryCode) int64 {
	var sum int64
	for d := 0; d < g.Dim; d++ {
		if g.Bit(lane, d) {
			sum += int64(qc.U8[d])
		}
	}
	return sum
}

// reduceSumOfX computes sum_i query_u8_i, independent of any code.
func reduceSumOfX(qc *QueryCode) int64 {
	return qc.SumOfCode
}

// EstimateBounds is the estimator result E(q,c): a point estimate plus the
// symmetric error half-width, so that true_dist in [Lower, Upper]
// (spec.md §4.3/§8 property 3).
type EstimateBounds struct {
	Estimate float32
	Err      float32
}

func (b EstimateBounds) Lower() float32 { return b.Estimate - b.Err }
func (b EstimateBounds) Upper() float32 { return b.Estimate + b.Err }

// qErrScale is T(q), a cheap function of the query's quantization spread
// used to scale factor_err into an absolute error bound. A wider u8 range
// means coarser quantization, hence a larger T(q).
func qErrScale(qc *QueryCode) float32 {
	return qc.K * float32(math.Sqrt(float64(qc.Dim)))
}

// EstimateDot estimates -dot(q, decode(code)) (the Dot distance convention,
// spec.md §1) for one lane of a packed group, given the code's stored
// factors.
func EstimateDot(lane int, g *PackedGroup, qc *QueryCode, c *Code) EstimateBounds {
	sxy := reduceSumOfXY(lane, g, qc)
	sx := reduceSumOfX(qc)
	// ip(x, c') recovered per code.go's factor calibration, then rescaled
	// from the u8 quantization back to the rotated query's true scale:
	// q ≈ k*u8 + b, so dot(q, x) ≈ k*ip(u8_as_code, x) + b*sum(x_i).
	ipCode := c.FactorIP*float32(sxy) + c.FactorPPC*float32(sx)
	dot := qc.K*ipCode + qc.B*sumBits(c)
	bound := EstimateBounds{
		Estimate: -dot,
		Err:      c.FactorErr * qErrScale(qc),
	}
	return bound
}

// EstimateL2 estimates squared L2 distance for one lane, using
// ||q||^2 + ||x||^2 - 2*dot(q,x).
func EstimateL2(lane int, g *PackedGroup, qc *QueryCode, c *Code, queryNormSq float32) EstimateBounds {
	dotBound := EstimateDot(lane, g, qc, c)
	est := queryNormSq + c.DisU2 + 2*dotBound.Estimate
	return EstimateBounds{Estimate: est, Err: 2 * dotBound.Err}
}

func sumBits(c *Code) float32 {
	var s float32
	for i := 0; i < c.Dim; i++ {
		if c.Bit(i) {
			s++
		}
	}
	return s
}
