package kvcache

type fullCache struct {
	shape
	k []float32
	v []float32
}

func newFull(layers, dim, capacity int) *fullCache {
	n := layers * capacity * dim
	return &fullCache{
		shape: newShape(layers, dim, capacity),
		k:     make([]float32, n),
		v:     make([]float32, n),
	}
}

func (c *fullCache) Kind() Kind { return KindFull }

func (c *fullCache) Store(layer, pos int, k, v []float32) error {
	if err := c.check(layer, pos, k, v); err != nil {
		return err
	}
	off := c.row(layer, pos)
	copy(c.k[off:off+c.dim], k)
	copy(c.v[off:off+c.dim], v)
	c.filled[layer] = pos + 1
	return nil
}

func (c *fullCache) Key(layer, pos int, dst []float32) []float32 {
	c.stored(layer, pos)
	dst = grow(dst, c.dim)
	off := c.row(layer, pos)
	copy(dst, c.k[off:off+c.dim])
	return dst
}

func (c *fullCache) Value(layer, pos int, dst []float32) []float32 {
	c.stored(layer, pos)
	dst = grow(dst, c.dim)
	off := c.row(layer, pos)
	copy(dst, c.v[off:off+c.dim])
	return dst
}

func (c *fullCache) Bytes() int64 {
	return EstimateBytes(KindFull, c.layers, c.dim, c.capacity)
}
