package vector

import (
	"math"
	"testing"
)

func cosineSim(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func unitVector(n int, seed int64) []float32 {
	g := newLCG(seed)
	v := make([]float32, n)
	var sumSq float64
	for i := range v {
		x := g.float64()*2 - 1
		v[i] = float32(x)
		sumSq += x * x
	}
	norm := math.Sqrt(sumSq)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}

func TestScalarQuantizationRoundTrip8Bit(t *testing.T) {
	v := unitVector(64, 42)
	q, err := NewScalarQuantizer(8, -1, 1)
	if err != nil {
		t.Fatalf("new quantizer: %v", err)
	}
	c, err := q.Compress(v)
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	out, err := q.Decompress(c)
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if sim := cosineSim(v, out); sim < 0.95 {
		t.Errorf("8-bit round trip similarity too low: %f", sim)
	}
}

func TestScalarQuantizationRoundTrip16Bit(t *testing.T) {
	v := unitVector(64, 7)
	q, err := NewScalarQuantizer(16, -1, 1)
	if err != nil {
		t.Fatalf("new quantizer: %v", err)
	}
	c, err := q.Compress(v)
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	out, err := q.Decompress(c)
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if sim := cosineSim(v, out); sim < 0.999 {
		t.Errorf("16-bit round trip similarity too low: %f", sim)
	}
}

func TestScalarQuantizationRejectsInvalidRange(t *testing.T) {
	if _, err := NewScalarQuantizer(8, 1, 1); err == nil {
		t.Fatal("expected error when min >= max")
	}
	if _, err := NewScalarQuantizer(12, 0, 0); err == nil {
		t.Fatal("expected error for unsupported bit width")
	}
}

func TestSparseRandomProjectionDeterministic(t *testing.T) {
	v := unitVector(128, 1)
	p1, _ := NewSparseRandomProjection(32, 0, 99)
	p2, _ := NewSparseRandomProjection(32, 0, 99)

	c1, err := p1.Compress(v)
	if err != nil {
		t.Fatalf("compress 1: %v", err)
	}
	c2, err := p2.Compress(v)
	if err != nil {
		t.Fatalf("compress 2: %v", err)
	}
	if string(c1.Data) != string(c2.Data) {
		t.Error("expected deterministic output for the same seed")
	}
}

func TestSparseRandomProjectionDecompressUnsupported(t *testing.T) {
	p, _ := NewSparseRandomProjection(16, 0, 1)
	v := unitVector(32, 2)
	c, err := p.Compress(v)
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	if _, err := p.Decompress(c); err == nil {
		t.Fatal("expected decompress to be unsupported")
	}
}
