package local

import (
	"math"
	"math/rand"
	"testing"
)

func TestQ4MatrixApproximatesDense(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	// 70 columns leaves a partial last group and an odd nibble count.
	const rows, cols = 9, 70
	w := make([]float32, rows*cols)
	for i := range w {
		w[i] = float32(rng.NormFloat64())
	}
	x := make([]float32, cols)
	for i := range x {
		x[i] = float32(rng.NormFloat64())
	}

	dense := newMatrix(QuantF32, w, rows, cols)
	q4 := newMatrix(QuantQ4, w, rows, cols)
	if q4.Rows() != rows || q4.Cols() != cols {
		t.Fatalf("unexpected shape %dx%d", q4.Rows(), q4.Cols())
	}

	want := make([]float32, rows)
	got := make([]float32, rows)
	dense.MulVec(want, x)
	q4.MulVec(got, x)
	for i := range want {
		// relative to the row norm, 4-bit error stays well under 20%
		var norm float64
		for j := 0; j < cols; j++ {
			norm += math.Abs(float64(w[i*cols+j] * x[j]))
		}
		if diff := math.Abs(float64(got[i] - want[i])); diff > 0.2*norm {
			t.Fatalf("row %d: q4=%v dense=%v (norm %v)", i, got[i], want[i], norm)
		}
	}
}

func TestQ4ZeroRow(t *testing.T) {
	m := newMatrix(QuantQ4, make([]float32, 2*5), 2, 5)
	out := []float32{1, 1}
	m.MulVec(out, []float32{1, 2, 3, 4, 5})
	if out[0] != 0 || out[1] != 0 {
		t.Fatalf("zero weights must produce zero output, got %v", out)
	}
}

func TestParseQuantization(t *testing.T) {
	for in, want := range map[string]Quantization{"": QuantQ4, "sym_int4": QuantQ4, "FP32": QuantF32} {
		got, err := ParseQuantization(in)
		if err != nil || got != want {
			t.Errorf("ParseQuantization(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseQuantization("q2"); err == nil {
		t.Errorf("expected error")
	}
}
