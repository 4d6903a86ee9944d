package kvcache

import "math"

// quantizedCache keeps each row as int8 values scaled by the row's absolute maximum.
type quantizedCache struct {
	shape
	k      []int8
	v      []int8
	kScale []float32
	vScale []float32
}

func newQuantized(layers, dim, capacity int) *quantizedCache {
	n := layers * capacity * dim
	rows := layers * capacity
	return &quantizedCache{
		shape:  newShape(layers, dim, capacity),
		k:      make([]int8, n),
		v:      make([]int8, n),
		kScale: make([]float32, rows),
		vScale: make([]float32, rows),
	}
}

func (c *quantizedCache) Kind() Kind { return KindQuantized }

func (c *quantizedCache) Store(layer, pos int, k, v []float32) error {
	if err := c.check(layer, pos, k, v); err != nil {
		return err
	}
	off := c.row(layer, pos)
	idx := layer*c.capacity + pos
	c.kScale[idx] = quantizeRow(c.k[off:off+c.dim], k)
	c.vScale[idx] = quantizeRow(c.v[off:off+c.dim], v)
	c.filled[layer] = pos + 1
	return nil
}

func (c *quantizedCache) Key(layer, pos int, dst []float32) []float32 {
	c.stored(layer, pos)
	dst = grow(dst, c.dim)
	off := c.row(layer, pos)
	dequantizeRow(dst, c.k[off:off+c.dim], c.kScale[layer*c.capacity+pos])
	return dst
}

func (c *quantizedCache) Value(layer, pos int, dst []float32) []float32 {
	c.stored(layer, pos)
	dst = grow(dst, c.dim)
	off := c.row(layer, pos)
	dequantizeRow(dst, c.v[off:off+c.dim], c.vScale[layer*c.capacity+pos])
	return dst
}

func (c *quantizedCache) Bytes() int64 {
	return EstimateBytes(KindQuantized, c.layers, c.dim, c.capacity)
}

func quantizeRow(dst []int8, src []float32) float32 {
	var absMax float32
	for _, x := range src {
		absMax = max(absMax, float32(math.Abs(float64(x))))
	}
	if absMax == 0 {
		clear(dst)
		return 0
	}
	scale := absMax / 127
	for i, x := range src {
		q := math.Round(float64(x / scale))
		dst[i] = int8(max(-127, min(127, q)))
	}
	return scale
}

func dequantizeRow(dst []float32, src []int8, scale float32) {
	for i, q := range src {
		dst[i] = float32(q) * scale
	}
}
