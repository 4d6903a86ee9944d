package local

import (
	"fmt"
	"math"
	"strings"
)

// Quantization selects how projection weights are held in memory.
type Quantization string

const (
	// QuantQ4 keeps symmetric 4-bit weights with one scale per group of inputs.
	QuantQ4 Quantization = "q4"
	// QuantF32 keeps the checkpoint's float32 weights.
	QuantF32 Quantization = "f32"
)

// q4Group is the number of inputs sharing one scale.
const q4Group = 32

// ParseQuantization accepts "", q4, int4, f32 and fp32.
func ParseQuantization(s string) (Quantization, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "q4", "int4", "sym_int4":
		return QuantQ4, nil
	case "f32", "fp32", "none":
		return QuantF32, nil
	}
	return "", fmt.Errorf("unknown quantization %q", s)
}

// matrix is a (rows, cols) weight applied to a vector of cols inputs.
type matrix interface {
	MulVec(out, x []float32)
	Rows() int
	Cols() int
}

func newMatrix(q Quantization, w []float32, rows, cols int) matrix {
	if q == QuantQ4 {
		return quantizeQ4(w, rows, cols)
	}
	return &denseMatrix{rows: rows, cols: cols, w: w}
}

type denseMatrix struct {
	rows, cols int
	w          []float32
}

func (m *denseMatrix) Rows() int { return m.rows }
func (m *denseMatrix) Cols() int { return m.cols }

func (m *denseMatrix) MulVec(out, x []float32) {
	for i := 0; i < m.rows; i++ {
		row := m.w[i*m.cols : (i+1)*m.cols]
		var sum float32
		for j, v := range row {
			sum += v * x[j]
		}
		out[i] = sum
	}
}

// q4Matrix packs two 4-bit values per byte, low nibble first. Values are
// stored offset by 8 so the nibble range 0..15 maps to -8..7.
type q4Matrix struct {
	rows, cols int
	rowBytes   int
	groups     int
	packed     []byte
	scales     []float32
}

func quantizeQ4(w []float32, rows, cols int) *q4Matrix {
	groups := (cols + q4Group - 1) / q4Group
	m := &q4Matrix{
		rows:     rows,
		cols:     cols,
		rowBytes: (cols + 1) / 2,
		groups:   groups,
	}
	m.packed = make([]byte, rows*m.rowBytes)
	m.scales = make([]float32, rows*groups)
	for i := 0; i < rows; i++ {
		row := w[i*cols : (i+1)*cols]
		dst := m.packed[i*m.rowBytes : (i+1)*m.rowBytes]
		for g := 0; g < groups; g++ {
			lo, hi := g*q4Group, min((g+1)*q4Group, cols)
			var absMax float32
			for _, v := range row[lo:hi] {
				absMax = max(absMax, float32(math.Abs(float64(v))))
			}
			scale := absMax / 7
			m.scales[i*groups+g] = scale
			for j := lo; j < hi; j++ {
				var q int
				if scale != 0 {
					q = int(math.Round(float64(row[j] / scale)))
				}
				q = max(-8, min(7, q))
				nib := byte(q + 8)
				if j%2 == 0 {
					dst[j/2] |= nib
				} else {
					dst[j/2] |= nib << 4
				}
			}
		}
	}
	return m
}

func (m *q4Matrix) Rows() int { return m.rows }
func (m *q4Matrix) Cols() int { return m.cols }

func (m *q4Matrix) MulVec(out, x []float32) {
	for i := 0; i < m.rows; i++ {
		row := m.packed[i*m.rowBytes : (i+1)*m.rowBytes]
		scales := m.scales[i*m.groups : (i+1)*m.groups]
		var total float32
		for g, scale := range scales {
			if scale == 0 {
				continue
			}
			lo, hi := g*q4Group, min((g+1)*q4Group, m.cols)
			var sum float32
			for j := lo; j < hi; j++ {
				b := row[j/2]
				if j%2 == 1 {
					b >>= 4
				}
				sum += float32(int(b&0x0f)-8) * x[j]
			}
			total += sum * scale
		}
		out[i] = total
	}
}
