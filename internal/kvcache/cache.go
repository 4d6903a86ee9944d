// Package kvcache stores the per-layer attention keys and values of the
// positions a model has already evaluated.
//
// Two representations exist: full precision rows and int8 rows with a per-row
// scale. A cache never changes representation in place; Convert builds a new
// cache from the committed positions of an old one.
package kvcache

import (
	"fmt"
	"strings"
)

// Kind identifies a cache representation.
type Kind int

const (
	// KindFull stores float32 rows.
	KindFull Kind = iota
	// KindQuantized stores int8 rows with one float32 scale per row.
	KindQuantized
)

func (k Kind) String() string {
	switch k {
	case KindFull:
		return "full"
	case KindQuantized:
		return "quantized"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind accepts the names used in configuration files.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "full", "f32", "fp32":
		return KindFull, nil
	case "quantized", "q8", "int8":
		return KindQuantized, nil
	}
	return 0, fmt.Errorf("unknown kv cache kind %q", s)
}

// Cache is the storage a transformer reads during attention.
//
// Positions are filled in order per layer. Storing at a position below the
// current length overwrites it and drops every later position of that layer.
type Cache interface {
	Kind() Kind
	Layers() int
	// Dim is the width of one key or value row.
	Dim() int
	Capacity() int
	// Len is the number of positions stored in every layer.
	Len() int
	Store(layer, pos int, k, v []float32) error
	// Key copies the key row into dst, growing it when needed, and returns it.
	// It panics unless pos was stored in layer and not truncated since.
	Key(layer, pos int, dst []float32) []float32
	// Value is Key for the value row.
	Value(layer, pos int, dst []float32) []float32
	// Truncate drops positions at and after n.
	Truncate(n int)
	// Bytes is the allocated payload size.
	Bytes() int64
}

// New allocates an empty cache of the given kind.
func New(kind Kind, layers, dim, capacity int) (Cache, error) {
	if layers <= 0 || dim <= 0 || capacity <= 0 {
		return nil, fmt.Errorf("kvcache: invalid shape layers=%d dim=%d capacity=%d", layers, dim, capacity)
	}
	switch kind {
	case KindFull:
		return newFull(layers, dim, capacity), nil
	case KindQuantized:
		return newQuantized(layers, dim, capacity), nil
	}
	return nil, fmt.Errorf("kvcache: unsupported kind %s", kind)
}

// EstimateBytes returns the payload size of a cache with the given shape.
func EstimateBytes(kind Kind, layers, dim, capacity int) int64 {
	rows := int64(layers) * int64(capacity) * 2
	switch kind {
	case KindQuantized:
		return rows * (int64(dim) + 4)
	default:
		return rows * int64(dim) * 4
	}
}

// bookkeeping shared by both representations.
type shape struct {
	layers   int
	dim      int
	capacity int
	filled   []int
}

func newShape(layers, dim, capacity int) shape {
	return shape{layers: layers, dim: dim, capacity: capacity, filled: make([]int, layers)}
}

func (s *shape) Layers() int   { return s.layers }
func (s *shape) Dim() int      { return s.dim }
func (s *shape) Capacity() int { return s.capacity }

func (s *shape) Len() int {
	n := s.capacity
	for _, f := range s.filled {
		n = min(n, f)
	}
	return n
}

func (s *shape) Truncate(n int) {
	n = max(n, 0)
	for i := range s.filled {
		s.filled[i] = min(s.filled[i], n)
	}
}

func (s *shape) check(layer, pos int, k, v []float32) error {
	if layer < 0 || layer >= s.layers {
		return fmt.Errorf("kvcache: layer %d out of range [0,%d)", layer, s.layers)
	}
	if pos < 0 || pos >= s.capacity {
		return fmt.Errorf("kvcache: position %d out of bounds (capacity %d)", pos, s.capacity)
	}
	if pos > s.filled[layer] {
		return fmt.Errorf("kvcache: position %d leaves a gap in layer %d (len %d)", pos, layer, s.filled[layer])
	}
	if len(k) != s.dim || len(v) != s.dim {
		return fmt.Errorf("kvcache: row width %d/%d, want %d", len(k), len(v), s.dim)
	}
	return nil
}

// stored panics when (layer, pos) holds no live row.
func (s *shape) stored(layer, pos int) {
	if layer < 0 || layer >= s.layers || pos < 0 || pos >= s.filled[layer] {
		filled := 0
		if layer >= 0 && layer < s.layers {
			filled = s.filled[layer]
		}
		panic(fmt.Sprintf("kvcache: read of layer %d position %d, layer holds %d positions", layer, pos, filled))
	}
}

func (s *shape) row(layer, pos int) int {
	return (layer*s.capacity + pos) * s.dim
}

func grow(dst []float32, n int) []float32 {
	if cap(dst) < n {
		return make([]float32, n)
	}
	return dst[:n]
}
