package local

import (
	"bytes"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
)

// testPieces are merged vocabulary entries after the byte tokens, in
// ascending merge priority.
var testPieces = []string{
	" ", "a", "b", "c", "d", "e", "h", "l", "o", "r", "w",
	"he", "ll", "llo", "hello", " hello", "or", "wor", "ld", "world", " world",
}

func testVocab(withBytes bool) ([]string, []float32) {
	words := []string{"<unk>", "<s>", "</s>"}
	if withBytes {
		for b := 0; b < 256; b++ {
			words = append(words, fmt.Sprintf("<0x%02X>", b))
		}
	}
	words = append(words, testPieces...)
	scores := make([]float32, len(words))
	for i := range scores {
		scores[i] = float32(i)
	}
	return words, scores
}

func testTokenizer(t *testing.T, withBytes bool) *Tokenizer {
	t.Helper()
	words, scores := testVocab(withBytes)
	var buf bytes.Buffer
	if err := writeTokenizer(&buf, words, scores); err != nil {
		t.Fatal(err)
	}
	tok, err := ReadTokenizer(&buf, len(words))
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func testConfig(vocab int) Config {
	return Config{Dim: 16, HiddenDim: 32, NumLayers: 2, NumHeads: 4, NumKVHeads: 2, VocabSize: vocab, SeqLen: 32}
}

// rawWeights mirrors the separate-projection layout, one slice per tensor
// stacked over layers.
type rawWeights struct {
	emb, rmsAtt, wq, wk, wv, wo, rmsFFN, w1, w2, w3, rmsFinal, freq, wcls []float32
}

func allocRaw(cfg Config) rawWeights {
	dim, hidden, kv, L := cfg.Dim, cfg.HiddenDim, cfg.KVDim(), cfg.NumLayers
	return rawWeights{
		emb:      make([]float32, cfg.VocabSize*dim),
		rmsAtt:   make([]float32, L*dim),
		wq:       make([]float32, L*dim*dim),
		wk:       make([]float32, L*kv*dim),
		wv:       make([]float32, L*kv*dim),
		wo:       make([]float32, L*dim*dim),
		rmsFFN:   make([]float32, L*dim),
		w1:       make([]float32, L*hidden*dim),
		w2:       make([]float32, L*dim*hidden),
		w3:       make([]float32, L*hidden*dim),
		rmsFinal: make([]float32, dim),
		freq:     make([]float32, cfg.SeqLen*cfg.HeadSize()),
		wcls:     make([]float32, cfg.VocabSize*dim),
	}
}

func randomWeights(cfg Config, seed int64) rawWeights {
	rng := rand.New(rand.NewSource(seed))
	r := allocRaw(cfg)
	for _, s := range [][]float32{r.emb, r.wq, r.wk, r.wv, r.wo, r.w1, r.w2, r.w3, r.wcls} {
		for i := range s {
			s[i] = float32(rng.NormFloat64() * 0.2)
		}
	}
	for _, s := range [][]float32{r.rmsAtt, r.rmsFFN, r.rmsFinal} {
		for i := range s {
			s[i] = 1
		}
	}
	return r
}

// constantWeights builds a model whose logits always favour winner.
func constantWeights(cfg Config, winner int) rawWeights {
	r := allocRaw(cfg)
	for _, s := range [][]float32{r.emb, r.rmsAtt, r.rmsFFN, r.rmsFinal} {
		for i := range s {
			s[i] = 1
		}
	}
	for i := 0; i < cfg.Dim; i++ {
		r.wcls[winner*cfg.Dim+i] = 1
	}
	return r
}

func (r rawWeights) encode(t *testing.T, cfg Config, family string, shared bool) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := writeConfig(&buf, cfg, shared); err != nil {
		t.Fatal(err)
	}
	write := func(s []float32) {
		if err := writeFloats(&buf, s); err != nil {
			t.Fatal(err)
		}
	}
	L := cfg.NumLayers
	write(r.emb)
	write(r.rmsAtt)
	switch family {
	case "glm":
		q, k, v := perLayer(r.wq, L), perLayer(r.wk, L), perLayer(r.wv, L)
		for l := 0; l < L; l++ {
			write(q[l])
			write(k[l])
			write(v[l])
		}
		write(r.wo)
		write(r.rmsFFN)
		g, u := perLayer(r.w1, L), perLayer(r.w3, L)
		for l := 0; l < L; l++ {
			write(g[l])
			write(u[l])
		}
		write(r.w2)
	default:
		write(r.wq)
		write(r.wk)
		write(r.wv)
		write(r.wo)
		write(r.rmsFFN)
		write(r.w1)
		write(r.w2)
		write(r.w3)
	}
	write(r.rmsFinal)
	write(r.freq)
	if !shared {
		write(r.wcls)
	}
	return buf.Bytes()
}

func newTestModel(t *testing.T, r rawWeights, cfg Config, opts Options) *Model {
	t.Helper()
	words, scores := testVocab(true)
	var tok bytes.Buffer
	if err := writeTokenizer(&tok, words, scores); err != nil {
		t.Fatal(err)
	}
	family := opts.Family
	if family == "" {
		family = "llama"
	}
	ckpt := r.encode(t, cfg, family, false)
	m, err := New("test-model", bytes.NewReader(ckpt), &tok, opts)
	if err != nil {
		t.Fatalf("load test model: %v", err)
	}
	return m
}

// writeModelDir writes a loadable model directory and returns its path.
func writeModelDir(t *testing.T, r rawWeights, cfg Config) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, DefaultCheckpointFile), r.encode(t, cfg, "llama", false), 0o644); err != nil {
		t.Fatal(err)
	}
	words, scores := testVocab(true)
	var tok bytes.Buffer
	if err := writeTokenizer(&tok, words, scores); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, DefaultTokenizerFile), tok.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func testVocabSize() int {
	words, _ := testVocab(true)
	return len(words)
}
