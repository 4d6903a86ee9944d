package local

import (
	"fmt"
	"io"
	"math"
	"slices"
	"sort"
	"strings"
)

type layerWeights struct {
	rmsAtt []float32
	rmsFFN []float32

	wq, wk, wv, wo matrix
	// w1 is the gate projection, w3 the up projection, w2 the down projection.
	w1, w2, w3 matrix
}

type weights struct {
	embedding []float32 // (vocab, dim)
	layers    []layerWeights
	rmsFinal  []float32
	cls       matrix
}

// Family pairs a checkpoint layout with the rotary embedding its attention uses.
type Family struct {
	Name string
	// RotaryFraction is the share of each head the rotary embedding rotates.
	RotaryFraction float64

	load func(r io.Reader, cfg Config, shared bool, q Quantization) (*weights, error)
}

var families = map[string]Family{
	"llama": {Name: "llama", RotaryFraction: 1, load: loadSeparate},
	"glm":   {Name: "glm", RotaryFraction: 0.5, load: loadFused},
}

// LookupFamily returns the registered family, defaulting to llama for "".
func LookupFamily(name string) (Family, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = "llama"
	}
	f, ok := families[name]
	if !ok {
		return Family{}, fmt.Errorf("unknown model family %q (known: %s)", name, strings.Join(Families(), ", "))
	}
	return f, nil
}

// Families lists the registered family names.
func Families() []string {
	names := make([]string, 0, len(families))
	for name := range families {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// rotaryDims is the number of leading dimensions of each head that rotate.
func (f Family) rotaryDims(headSize int) int {
	n := int(float64(headSize) * f.RotaryFraction)
	return n - n%2
}

// rope rotates consecutive pairs in the first rotDims of every head of vec.
func rope(vec []float32, headSize, rotDims, pos int) {
	for h := 0; h+headSize <= len(vec); h += headSize {
		head := vec[h : h+headSize]
		for i := 0; i+1 < rotDims; i += 2 {
			freq := 1.0 / math.Pow(10000, float64(i)/float64(rotDims))
			val := float64(pos) * freq
			fcr, fci := float32(math.Cos(val)), float32(math.Sin(val))
			v0, v1 := head[i], head[i+1]
			head[i] = v0*fcr - v1*fci
			head[i+1] = v0*fci + v1*fcr
		}
	}
}

// loadSeparate reads a checkpoint with one tensor per projection.
func loadSeparate(r io.Reader, cfg Config, shared bool, q Quantization) (*weights, error) {
	t := &tensorReader{r: r}
	dim, hidden, kvDim, L := cfg.Dim, cfg.HiddenDim, cfg.KVDim(), cfg.NumLayers

	emb := t.read("token_embedding", cfg.VocabSize*dim)
	rmsAtt := t.read("rms_att", L*dim)
	wq := t.read("wq", L*dim*dim)
	wk := t.read("wk", L*kvDim*dim)
	wv := t.read("wv", L*kvDim*dim)
	wo := t.read("wo", L*dim*dim)
	rmsFFN := t.read("rms_ffn", L*dim)
	w1 := t.read("w1", L*hidden*dim)
	w2 := t.read("w2", L*dim*hidden)
	w3 := t.read("w3", L*hidden*dim)
	rmsFinal := t.read("rms_final", dim)
	t.skip("freq_cis", cfg.SeqLen*cfg.HeadSize())
	var wcls []float32
	if !shared {
		wcls = t.read("wcls", cfg.VocabSize*dim)
	}
	if t.err != nil {
		return nil, t.err
	}

	w := &weights{embedding: emb, rmsFinal: rmsFinal, layers: make([]layerWeights, L)}
	qs, ks, vs, os := perLayer(wq, L), perLayer(wk, L), perLayer(wv, L), perLayer(wo, L)
	g, d, u := perLayer(w1, L), perLayer(w2, L), perLayer(w3, L)
	ra, rf := perLayer(rmsAtt, L), perLayer(rmsFFN, L)
	for l := range w.layers {
		w.layers[l] = layerWeights{
			rmsAtt: ra[l],
			rmsFFN: rf[l],
			wq:     newMatrix(q, qs[l], dim, dim),
			wk:     newMatrix(q, ks[l], kvDim, dim),
			wv:     newMatrix(q, vs[l], kvDim, dim),
			wo:     newMatrix(q, os[l], dim, dim),
			w1:     newMatrix(q, g[l], hidden, dim),
			w2:     newMatrix(q, d[l], dim, hidden),
			w3:     newMatrix(q, u[l], hidden, dim),
		}
	}
	w.cls = classifier(q, emb, wcls, cfg)
	return w, nil
}

// loadFused reads a checkpoint whose attention input projection is one
// (dim+2*kvDim, dim) tensor and whose gate and up projections are one
// (2*hidden, dim) tensor. Both are split row-wise at load time.
func loadFused(r io.Reader, cfg Config, shared bool, q Quantization) (*weights, error) {
	t := &tensorReader{r: r}
	dim, hidden, kvDim, L := cfg.Dim, cfg.HiddenDim, cfg.KVDim(), cfg.NumLayers
	qkvRows := dim + 2*kvDim

	emb := t.read("token_embedding", cfg.VocabSize*dim)
	rmsAtt := t.read("rms_att", L*dim)
	wqkv := t.read("wqkv", L*qkvRows*dim)
	wo := t.read("wo", L*dim*dim)
	rmsFFN := t.read("rms_ffn", L*dim)
	gateUp := t.read("w_gate_up", L*2*hidden*dim)
	w2 := t.read("w2", L*dim*hidden)
	rmsFinal := t.read("rms_final", dim)
	t.skip("freq_cis", cfg.SeqLen*cfg.HeadSize())
	var wcls []float32
	if !shared {
		wcls = t.read("wcls", cfg.VocabSize*dim)
	}
	if t.err != nil {
		return nil, t.err
	}

	w := &weights{embedding: emb, rmsFinal: rmsFinal, layers: make([]layerWeights, L)}
	qkv, gu := perLayer(wqkv, L), perLayer(gateUp, L)
	os, d := perLayer(wo, L), perLayer(w2, L)
	ra, rf := perLayer(rmsAtt, L), perLayer(rmsFFN, L)
	for l := range w.layers {
		// split rows: [q | k | v] and [gate | up]
		qPart := slices.Clone(qkv[l][:dim*dim])
		kPart := slices.Clone(qkv[l][dim*dim : (dim+kvDim)*dim])
		vPart := slices.Clone(qkv[l][(dim+kvDim)*dim:])
		gate := slices.Clone(gu[l][:hidden*dim])
		up := slices.Clone(gu[l][hidden*dim:])
		w.layers[l] = layerWeights{
			rmsAtt: ra[l],
			rmsFFN: rf[l],
			wq:     newMatrix(q, qPart, dim, dim),
			wk:     newMatrix(q, kPart, kvDim, dim),
			wv:     newMatrix(q, vPart, kvDim, dim),
			wo:     newMatrix(q, os[l], dim, dim),
			w1:     newMatrix(q, gate, hidden, dim),
			w2:     newMatrix(q, d[l], dim, hidden),
			w3:     newMatrix(q, up, hidden, dim),
		}
	}
	w.cls = classifier(q, emb, wcls, cfg)
	return w, nil
}

func classifier(q Quantization, emb, wcls []float32, cfg Config) matrix {
	if wcls == nil {
		wcls = emb
	}
	return newMatrix(q, wcls, cfg.VocabSize, cfg.Dim)
}
