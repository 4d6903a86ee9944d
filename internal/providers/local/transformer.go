package local

import (
	"math"
	"sync"

	"github.com/mwiater/genbench/internal/kvcache"
)

type runState struct {
	x      []float32 // (dim,) activation at current position
	xb     []float32 // (dim,) inside a residual branch
	xb2    []float32 // (dim,)
	hb     []float32 // (hidden,) gate
	hb2    []float32 // (hidden,) up
	q      []float32 // (dim,)
	k      []float32 // (kvDim,)
	v      []float32 // (kvDim,)
	att    []float32 // (heads, seqLen)
	keys   []float32 // (seqLen, kvDim) keys of the current layer read from the cache
	values []float32 // (seqLen, kvDim)
	logits []float32 // (vocab,)
}

func newRunState(cfg Config) runState {
	return runState{
		x:      make([]float32, cfg.Dim),
		xb:     make([]float32, cfg.Dim),
		xb2:    make([]float32, cfg.Dim),
		hb:     make([]float32, cfg.HiddenDim),
		hb2:    make([]float32, cfg.HiddenDim),
		q:      make([]float32, cfg.Dim),
		k:      make([]float32, cfg.KVDim()),
		v:      make([]float32, cfg.KVDim()),
		att:    make([]float32, cfg.NumHeads*cfg.SeqLen),
		keys:   make([]float32, cfg.SeqLen*cfg.KVDim()),
		values: make([]float32, cfg.SeqLen*cfg.KVDim()),
		logits: make([]float32, cfg.VocabSize),
	}
}

// forward evaluates token at pos, stores its keys and values in cache and
// leaves the next-token logits in s.logits.
func forward(token, pos int, cfg Config, fam Family, w *weights, s *runState, cache kvcache.Cache) error {
	var wg sync.WaitGroup

	x := s.x
	dim := cfg.Dim
	kvDim := cfg.KVDim()
	kvMul := cfg.KVMul()
	headSize := cfg.HeadSize()
	rotDims := fam.rotaryDims(headSize)

	copy(x, w.embedding[token*dim:(token+1)*dim])

	for l, lw := range w.layers {
		rmsNorm(s.xb, x, lw.rmsAtt)

		wg.Add(3)
		go func() { lw.wq.MulVec(s.q, s.xb); wg.Done() }()
		go func() { lw.wk.MulVec(s.k, s.xb); wg.Done() }()
		go func() { lw.wv.MulVec(s.v, s.xb); wg.Done() }()
		wg.Wait()

		rope(s.q, headSize, rotDims, pos)
		rope(s.k, headSize, rotDims, pos)

		if err := cache.Store(l, pos, s.k, s.v); err != nil {
			return err
		}
		for t := 0; t <= pos; t++ {
			cache.Key(l, t, s.keys[t*kvDim:(t+1)*kvDim])
			cache.Value(l, t, s.values[t*kvDim:(t+1)*kvDim])
		}

		wg.Add(cfg.NumHeads)
		for h := 0; h < cfg.NumHeads; h++ {
			go func(h int) {
				defer wg.Done()
				q := s.q[h*headSize : (h+1)*headSize]
				att := s.att[h*cfg.SeqLen : h*cfg.SeqLen+pos+1]
				koff := (h / kvMul) * headSize
				scale := float32(1 / math.Sqrt(float64(headSize)))
				for t := range att {
					k := s.keys[t*kvDim+koff : t*kvDim+koff+headSize]
					var score float32
					for i, qi := range q {
						score += qi * k[i]
					}
					att[t] = score * scale
				}
				softmax(att)

				out := s.xb[h*headSize : (h+1)*headSize]
				clear(out)
				for t, a := range att {
					v := s.values[t*kvDim+koff : t*kvDim+koff+headSize]
					for i := range out {
						out[i] += a * v[i]
					}
				}
			}(h)
		}
		wg.Wait()

		lw.wo.MulVec(s.xb2, s.xb)
		accum(x, s.xb2)

		rmsNorm(s.xb, x, lw.rmsFFN)

		wg.Add(2)
		go func() { lw.w1.MulVec(s.hb, s.xb); wg.Done() }()
		go func() { lw.w3.MulVec(s.hb2, s.xb); wg.Done() }()
		wg.Wait()

		// silu(gate) * up
		for i, g := range s.hb {
			s.hb[i] = g / (1 + float32(math.Exp(-float64(g)))) * s.hb2[i]
		}

		lw.w2.MulVec(s.xb, s.hb)
		accum(x, s.xb)
	}

	rmsNorm(x, x, w.rmsFinal)
	w.cls.MulVec(s.logits, x)
	return nil
}

func accum(a, b []float32) {
	for i := range a {
		a[i] += b[i]
	}
}

func rmsNorm(o, x, weight []float32) {
	var ss float32
	for _, v := range x {
		ss += v * v
	}
	ss /= float32(len(x))
	ss += 1e-5
	ss = 1 / float32(math.Sqrt(float64(ss)))
	for i, v := range x {
		o[i] = weight[i] * (v * ss)
	}
}

func softmax(x []float32) {
	if len(x) == 0 {
		return
	}
	maxVal := x[0]
	for _, v := range x {
		maxVal = max(maxVal, v)
	}
	var sum float32
	for i, v := range x {
		x[i] = float32(math.Exp(float64(v - maxVal)))
		sum += x[i]
	}
	for i := range x {
		x[i] /= sum
	}
}
