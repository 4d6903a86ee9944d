// internal/providers/local/checkpoint.go

// Package local runs small transformer checkpoints in process.
//
// Checkpoints use the llama2.c layout: a header of seven little-endian int32
// values followed by float32 tensors in a family specific order. A negative
// vocabulary size in the header marks a checkpoint that carries its own
// classifier instead of sharing the embedding table.
package local

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

var endian = binary.LittleEndian

const (
	headerBytes = 7 * 4
	// readChunk bounds the values decoded per read so that a corrupt header
	// cannot allocate more than the stream actually holds.
	readChunk   = 1 << 16
)

// Config is the checkpoint header.
type Config struct {
	Dim        int
	HiddenDim  int
	NumLayers  int
	NumHeads   int
	NumKVHeads int
	VocabSize  int
	SeqLen     int
}

// HeadSize is the width of one attention head.
func (c Config) HeadSize() int { return c.Dim / c.NumHeads }

// KVDim is the width of one key or value row.
func (c Config) KVDim() int { return c.HeadSize() * c.NumKVHeads }

// KVMul is the number of query heads sharing one key/value head.
func (c Config) KVMul() int { return c.NumHeads / c.NumKVHeads }

func (c Config) validate() error {
	switch {
	case c.Dim <= 0, c.HiddenDim <= 0, c.NumLayers <= 0, c.NumHeads <= 0, c.NumKVHeads <= 0, c.VocabSize <= 0, c.SeqLen <= 0:
		return fmt.Errorf("invalid header %+v", c)
	case c.Dim%c.NumHeads != 0:
		return fmt.Errorf("dim %d not divisible by %d heads", c.Dim, c.NumHeads)
	case c.NumHeads%c.NumKVHeads != 0:
		return fmt.Errorf("%d heads not divisible by %d kv heads", c.NumHeads, c.NumKVHeads)
	case c.HeadSize()%2 != 0:
		return fmt.Errorf("head size %d must be even", c.HeadSize())
	}
	if _, err := c.checkpointSize(false); err != nil {
		return err
	}
	return nil
}

// checkpointSize is the byte size of a checkpoint with this header. Both
// family layouts hold the same number of values.
func (c Config) checkpointSize(shared bool) (int64, error) {
	dim, hidden, kv, L := int64(c.Dim), int64(c.HiddenDim), int64(c.KVDim()), int64(c.NumLayers)
	// embedding, norms, wq+wo, wk+wv, w1+w2+w3, final norm, freq_cis
	terms := [][]int64{
		{int64(c.VocabSize), dim},
		{2, L, dim},
		{2, L, dim, dim},
		{2, L, kv, dim},
		{3, L, hidden, dim},
		{dim},
		{int64(c.SeqLen), int64(c.HeadSize())},
	}
	if !shared {
		terms = append(terms, []int64{int64(c.VocabSize), dim})
	}
	total := int64(headerBytes)
	for _, factors := range terms {
		n, ok := checkedProduct(append(factors, 4)...)
		if !ok || total > math.MaxInt64-n {
			return 0, fmt.Errorf("header %+v describes an impossibly large checkpoint", c)
		}
		total += n
	}
	return total, nil
}

func checkedProduct(factors ...int64) (int64, bool) {
	p := int64(1)
	for _, f := range factors {
		if f != 0 && p > math.MaxInt64/f {
			return 0, false
		}
		p *= f
	}
	return p, true
}

// readConfig reads the header and reports whether the classifier is shared
// with the embedding table.
func readConfig(r io.Reader) (Config, bool, error) {
	// binary reader expects exact binary size for int
	var header struct {
		Dim        int32
		HiddenDim  int32
		NumLayers  int32
		NumHeads   int32
		NumKVHeads int32
		VocabSize  int32
		SeqLen     int32
	}
	if err := binary.Read(r, endian, &header); err != nil {
		return Config{}, false, fmt.Errorf("read header: %w", err)
	}
	cfg := Config{
		Dim:        int(header.Dim),
		HiddenDim:  int(header.HiddenDim),
		NumLayers:  int(header.NumLayers),
		NumHeads:   int(header.NumHeads),
		NumKVHeads: int(header.NumKVHeads),
		VocabSize:  int(header.VocabSize),
		SeqLen:     int(header.SeqLen),
	}
	shared := cfg.VocabSize > 0
	if cfg.VocabSize < 0 {
		cfg.VocabSize = -cfg.VocabSize
	}
	if err := cfg.validate(); err != nil {
		return Config{}, false, err
	}
	return cfg, shared, nil
}

// tensorReader reads consecutive float32 tensors and remembers the first error.
type tensorReader struct {
	r   io.Reader
	err error
}

func (t *tensorReader) read(name string, n int) []float32 {
	if t.err != nil {
		return nil
	}
	out := make([]float32, 0, min(n, readChunk))
	buf := make([]float32, min(n, readChunk))
	for len(out) < n {
		chunk := buf[:min(n-len(out), len(buf))]
		if err := binary.Read(t.r, endian, chunk); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				err = io.ErrUnexpectedEOF
			}
			t.err = fmt.Errorf("read %s (%d values): %w", name, n, err)
			return nil
		}
		out = append(out, chunk...)
	}
	return out
}

// skip discards n float32 values.
func (t *tensorReader) skip(name string, n int) {
	if t.err != nil {
		return
	}
	if _, err := io.CopyN(io.Discard, t.r, int64(n)*4); err != nil {
		t.err = fmt.Errorf("skip %s: %w", name, io.ErrUnexpectedEOF)
	}
}

// perLayer slices a stacked tensor into one block per layer.
func perLayer(all []float32, layers int) [][]float32 {
	size := len(all) / layers
	out := make([][]float32, layers)
	for l := range out {
		out[l] = all[l*size : (l+1)*size]
	}
	return out
}
