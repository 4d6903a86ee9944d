package kvcache

import (
	"math"
	"testing"
)

func row(dim int, seed float32) []float32 {
	out := make([]float32, dim)
	for i := range out {
		out[i] = seed*float32(i+1) - float32(dim)/4
	}
	return out
}

func fill(t *testing.T, c Cache, positions int) {
	t.Helper()
	for pos := 0; pos < positions; pos++ {
		for layer := 0; layer < c.Layers(); layer++ {
			seed := float32(layer*10+pos) * 0.1
			if err := c.Store(layer, pos, row(c.Dim(), seed), row(c.Dim(), -seed)); err != nil {
				t.Fatalf("store layer=%d pos=%d: %v", layer, pos, err)
			}
		}
	}
}

func TestFullCacheRoundTrip(t *testing.T) {
	c, err := New(KindFull, 2, 8, 4)
	if err != nil {
		t.Fatal(err)
	}
	fill(t, c, 3)
	if c.Len() != 3 {
		t.Fatalf("expected len 3, got %d", c.Len())
	}
	got := c.Key(1, 2, nil)
	want := row(8, float32(12)*0.1)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("key[%d]=%v want %v", i, got[i], want[i])
		}
	}
}

func TestQuantizedCacheApproximates(t *testing.T) {
	c, err := New(KindQuantized, 1, 16, 2)
	if err != nil {
		t.Fatal(err)
	}
	k := row(16, 0.37)
	if err := c.Store(0, 0, k, k); err != nil {
		t.Fatal(err)
	}
	var absMax float64
	for _, x := range k {
		absMax = math.Max(absMax, math.Abs(float64(x)))
	}
	got := c.Value(0, 0, nil)
	for i := range k {
		if diff := math.Abs(float64(got[i] - k[i])); diff > absMax/127 {
			t.Fatalf("element %d: error %g exceeds one quantization step", i, diff)
		}
	}
	if c.Bytes() >= EstimateBytes(KindFull, 1, 16, 2) {
		t.Fatalf("quantized cache should be smaller than full precision")
	}
}

func TestZeroRowQuantizes(t *testing.T) {
	c, _ := New(KindQuantized, 1, 4, 1)
	if err := c.Store(0, 0, make([]float32, 4), make([]float32, 4)); err != nil {
		t.Fatal(err)
	}
	for _, x := range c.Key(0, 0, nil) {
		if x != 0 {
			t.Fatalf("expected zeros, got %v", x)
		}
	}
}

func TestStoreBounds(t *testing.T) {
	c, _ := New(KindFull, 1, 2, 2)
	if err := c.Store(0, 1, []float32{1, 2}, []float32{1, 2}); err == nil {
		t.Fatalf("expected gap error")
	}
	if err := c.Store(1, 0, []float32{1, 2}, []float32{1, 2}); err == nil {
		t.Fatalf("expected layer error")
	}
	if err := c.Store(0, 0, []float32{1}, []float32{1, 2}); err == nil {
		t.Fatalf("expected width error")
	}
	fill(t, c, 2)
	if err := c.Store(0, 2, []float32{1, 2}, []float32{1, 2}); err == nil {
		t.Fatalf("expected capacity error")
	}
}

func TestOverwriteDropsLaterPositions(t *testing.T) {
	c, _ := New(KindFull, 1, 2, 4)
	fill(t, c, 4)
	if err := c.Store(0, 1, []float32{9, 9}, []float32{9, 9}); err != nil {
		t.Fatal(err)
	}
	if c.Len() != 2 {
		t.Fatalf("expected len 2 after overwrite, got %d", c.Len())
	}
	c.Truncate(1)
	if c.Len() != 1 {
		t.Fatalf("expected len 1 after truncate, got %d", c.Len())
	}
}

func TestReadPastLenPanics(t *testing.T) {
	mustPanic := func(t *testing.T, read func()) {
		t.Helper()
		defer func() {
			if recover() == nil {
				t.Fatal("expected a panic for an unstored position")
			}
		}()
		read()
	}
	for _, kind := range []Kind{KindFull, KindQuantized} {
		t.Run(kind.String(), func(t *testing.T) {
			c, _ := New(kind, 2, 4, 8)
			fill(t, c, 3)
			c.Key(1, 2, nil)
			c.Truncate(2)
			mustPanic(t, func() { c.Key(1, 2, nil) })
			mustPanic(t, func() { c.Value(0, 5, nil) })
			mustPanic(t, func() { c.Key(2, 0, nil) })
			mustPanic(t, func() { c.Value(0, -1, nil) })
		})
	}
}

func TestConvertPreservesCommittedState(t *testing.T) {
	full, _ := New(KindFull, 3, 8, 6)
	fill(t, full, 4)

	q, err := Convert(full, KindQuantized)
	if err != nil {
		t.Fatal(err)
	}
	if q == full || q.Kind() != KindQuantized {
		t.Fatalf("expected a new quantized cache")
	}
	if q.Len() != 4 || q.Layers() != 3 || q.Capacity() != 6 {
		t.Fatalf("shape not preserved: len=%d layers=%d cap=%d", q.Len(), q.Layers(), q.Capacity())
	}

	back, err := Convert(q, KindFull)
	if err != nil {
		t.Fatal(err)
	}
	for layer := 0; layer < 3; layer++ {
		for pos := 0; pos < 4; pos++ {
			want := full.Key(layer, pos, nil)
			got := back.Key(layer, pos, nil)
			for i := range want {
				if math.Abs(float64(got[i]-want[i])) > 0.2 {
					t.Fatalf("layer %d pos %d elem %d: %v vs %v", layer, pos, i, got[i], want[i])
				}
			}
		}
	}

	same, _ := Convert(back, KindFull)
	if same != back {
		t.Fatalf("converting to the same kind should return the input")
	}
}

func TestParseKind(t *testing.T) {
	for in, want := range map[string]Kind{"full": KindFull, "F32": KindFull, "int8": KindQuantized, " quantized ": KindQuantized} {
		got, err := ParseKind(in)
		if err != nil || got != want {
			t.Errorf("ParseKind(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseKind("fp8"); err == nil {
		t.Errorf("expected error for unknown kind")
	}
}
