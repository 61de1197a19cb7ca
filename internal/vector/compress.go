package vector

import (
	"math"

	"github.com/coccobas/agent-memory/internal/apperr"
)

// Compressor is a vector compression strategy (spec.md §4.6).
type Compressor interface {
	Compress(v []float32) (Compressed, error)
	// Decompress returns an error for strategies that cannot invert
	// (sparse random projection).
	Decompress(c Compressed) ([]float32, error)
	Method() string
}

// Compressed is the on-disk representation of a compressed vector.
type Compressed struct {
	Method string
	Dim    int // original input dimension
	Data   []byte
	Min    float64 // scalar quantization range
	Max    float64
}

// ScalarQuantizer compresses each component to a fixed bit width using a
// symmetric integer range over [min, max]. Range is auto-computed on first
// compress when both Min and Max are left at zero.
type ScalarQuantizer struct {
	Bits int // 8 or 16
	Min  float64
	Max  float64

	autoRange bool
}

// NewScalarQuantizer builds a quantizer for the given bit width. When min
// and max are both zero, the range auto-computes from the first vector
// compressed.
func NewScalarQuantizer(bits int, min, max float64) (*ScalarQuantizer, error) {
	if bits != 8 && bits != 16 {
		return nil, apperr.Validation("bits", "scalar quantization supports only 8 or 16 bits")
	}
	if min != 0 || max != 0 {
		if min >= max {
			return nil, apperr.Validation("range", "min must be less than max")
		}
		return &ScalarQuantizer{Bits: bits, Min: min, Max: max}, nil
	}
	return &ScalarQuantizer{Bits: bits, autoRange: true}, nil
}

func (q *ScalarQuantizer) Method() string {
	if q.Bits == 8 {
		return "scalar8"
	}
	return "scalar16"
}

func (q *ScalarQuantizer) levels() float64 {
	if q.Bits == 8 {
		return 127 // symmetric signed int8 range [-127, 127]
	}
	return 32767 // symmetric signed int16 range
}

func (q *ScalarQuantizer) Compress(v []float32) (Compressed, error) {
	if len(v) == 0 {
		return Compressed{}, apperr.Validation("vector", "cannot compress an empty vector")
	}
	if q.autoRange {
		min, max := float64(v[0]), float64(v[0])
		for _, x := range v {
			if float64(x) < min {
				min = float64(x)
			}
			if float64(x) > max {
				max = float64(x)
			}
		}
		if min == max {
			max = min + 1
		}
		q.Min, q.Max = min, max
		q.autoRange = false
	}
	if q.Min >= q.Max {
		return Compressed{}, apperr.Validation("range", "min must be less than max")
	}

	span := q.Max - q.Min
	levels := q.levels()
	out := Compressed{Method: q.Method(), Dim: len(v), Min: q.Min, Max: q.Max}

	bytesPer := 1
	if q.Bits == 16 {
		bytesPer = 2
	}
	out.Data = make([]byte, len(v)*bytesPer)
	for i, x := range v {
		normalized := (float64(x) - q.Min) / span*2 - 1 // map to [-1, 1]
		code := int32(math.Round(normalized * levels))
		if code > int32(levels) {
			code = int32(levels)
		}
		if code < -int32(levels) {
			code = -int32(levels)
		}
		if q.Bits == 8 {
			out.Data[i] = byte(int8(code))
		} else {
			u := uint16(int16(code))
			out.Data[i*2] = byte(u)
			out.Data[i*2+1] = byte(u >> 8)
		}
	}
	return out, nil
}

func (q *ScalarQuantizer) Decompress(c Compressed) ([]float32, error) {
	if c.Min >= c.Max {
		return nil, apperr.Validation("range", "min must be less than max")
	}
	span := c.Max - c.Min
	levels := q.levels()
	out := make([]float32, c.Dim)
	bytesPer := 1
	if q.Bits == 16 {
		bytesPer = 2
	}
	for i := 0; i < c.Dim; i++ {
		var code int32
		if q.Bits == 8 {
			code = int32(int8(c.Data[i]))
		} else {
			u := uint16(c.Data[i*2]) | uint16(c.Data[i*2+1])<<8
			code = int32(int16(u))
		}
		normalized := float64(code) / levels // back to [-1, 1]
		out[i] = float32((normalized+1)/2*span + c.Min)
	}
	return out, nil
}

// SparseRandomProjection compresses from d_in to a smaller d_out using a
// deterministic seeded ternary matrix ({-1, 0, +1}) at a configurable
// density, scaled by 1/sqrt(d_out). Decompression is unsupported.
type SparseRandomProjection struct {
	DOut    int
	Density float64 // fraction of non-zero entries, default 1/3
	Seed    int64

	matrix  [][]int8 // lazily built on first compress, [DOut][dIn]
	builtIn int
}

// NewSparseRandomProjection builds a projector targeting dOut output
// dimensions. density <= 0 defaults to 1/3.
func NewSparseRandomProjection(dOut int, density float64, seed int64) (*SparseRandomProjection, error) {
	if dOut <= 0 {
		return nil, apperr.Validation("dOut", "output dimension must be positive")
	}
	if density <= 0 {
		density = 1.0 / 3.0
	}
	return &SparseRandomProjection{DOut: dOut, Density: density, Seed: seed}, nil
}

func (p *SparseRandomProjection) Method() string { return "sparse_random_projection" }

// lcg is a tiny deterministic linear congruential generator so the matrix
// is reproducible from (seed, dIn, dOut) without pulling in math/rand's
// stream-position subtleties across Go versions.
type lcg struct{ state uint64 }

func newLCG(seed int64) *lcg { return &lcg{state: uint64(seed)*2862933555777941757 + 3037000493} }

func (g *lcg) next() uint64 {
	g.state = g.state*6364136223846793005 + 1442695040888963407
	return g.state
}

func (g *lcg) float64() float64 {
	return float64(g.next()>>11) / float64(1<<53)
}

func (p *SparseRandomProjection) ensureMatrix(dIn int) {
	if p.matrix != nil && p.builtIn == dIn {
		return
	}
	gen := newLCG(p.Seed)
	m := make([][]int8, p.DOut)
	for i := range m {
		row := make([]int8, dIn)
		for j := range row {
			r := gen.float64()
			switch {
			case r < p.Density/2:
				row[j] = -1
			case r < p.Density:
				row[j] = 1
			default:
				row[j] = 0
			}
		}
		m[i] = row
	}
	p.matrix = m
	p.builtIn = dIn
}

func (p *SparseRandomProjection) Compress(v []float32) (Compressed, error) {
	if len(v) == 0 {
		return Compressed{}, apperr.Validation("vector", "cannot compress an empty vector")
	}
	p.ensureMatrix(len(v))
	scale := 1 / math.Sqrt(float64(p.DOut))
	out := make([]byte, p.DOut*4)
	for i := 0; i < p.DOut; i++ {
		var sum float64
		row := p.matrix[i]
		for j, x := range v {
			if row[j] != 0 {
				sum += float64(row[j]) * float64(x)
			}
		}
		val := float32(sum * scale)
		putFloat32(out[i*4:], val)
	}
	return Compressed{Method: p.Method(), Dim: len(v), Data: out}, nil
}

func (p *SparseRandomProjection) Decompress(Compressed) ([]float32, error) {
	return nil, apperr.New(apperr.CodeVectorError, "sparse random projection does not support decompression")
}

func putFloat32(b []byte, f float32) {
	bits := math.Float32bits(f)
	b[0] = byte(bits)
	b[1] = byte(bits >> 8)
	b[2] = byte(bits >> 16)
	b[3] = byte(bits >> 24)
}

func getFloat32(b []byte) float32 {
	bits := uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
	return math.Float32frombits(bits)
}
