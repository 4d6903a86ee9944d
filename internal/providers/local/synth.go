package local

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
)

// synthPieces extend the byte vocabulary of synthetic models, lowest merge
// priority first.
var synthPieces = []string{
	" ", "a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k", "l", "m",
	"n", "o", "p", "q", "r", "s", "t", "u", "v", "w", "x", "y", "z", ".", ",",
	"th", "he", "in", "er", "an", "re", "on", "at", "en", "nd",
	" t", " a", " th", "the", " the", "ing", " of", " and",
}

// SyntheticVocab returns the words and scores of the synthetic tokenizer:
// the three special tokens, the 256 byte tokens and synthPieces.
func SyntheticVocab() ([]string, []float32) {
	words := []string{"<unk>", "<s>", "</s>"}
	for b := 0; b < 256; b++ {
		words = append(words, fmt.Sprintf("<0x%02X>", b))
	}
	words = append(words, synthPieces...)
	scores := make([]float32, len(words))
	for i := range scores {
		scores[i] = float32(i)
	}
	return words, scores
}

// SyntheticConfig is a small shape that runs quickly on any machine.
func SyntheticConfig() Config {
	words, _ := SyntheticVocab()
	return Config{Dim: 64, HiddenDim: 172, NumLayers: 2, NumHeads: 4, NumKVHeads: 2, VocabSize: len(words), SeqLen: 2048}
}

// WriteRandom writes a model directory with randomly initialised weights in
// the layout of family, plus the synthetic tokenizer. The vocabulary size of
// cfg is replaced by the synthetic one.
func WriteRandom(dir string, cfg Config, family string, seed int64) error {
	fam, err := LookupFamily(family)
	if err != nil {
		return err
	}
	words, scores := SyntheticVocab()
	cfg.VocabSize = len(words)
	if err := cfg.validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := writeFile(filepath.Join(dir, DefaultCheckpointFile), func(w io.Writer) error {
		return writeRandomCheckpoint(w, cfg, fam, seed)
	}); err != nil {
		return err
	}
	return writeFile(filepath.Join(dir, DefaultTokenizerFile), func(w io.Writer) error {
		return writeTokenizer(w, words, scores)
	})
}

func writeFile(path string, fill func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(f)
	if err := fill(bw); err != nil {
		f.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// writeRandomCheckpoint emits tensors in the order the family loader reads
// them. Fused families interleave their projections per layer, so the
// per-layer tensors are written layer by layer in both layouts.
func writeRandomCheckpoint(w io.Writer, cfg Config, fam Family, seed int64) error {
	rng := rand.New(rand.NewSource(seed))
	random := func(n int) []float32 {
		s := make([]float32, n)
		for i := range s {
			s[i] = float32(rng.NormFloat64() * 0.05)
		}
		return s
	}
	ones := func(n int) []float32 {
		s := make([]float32, n)
		for i := range s {
			s[i] = 1
		}
		return s
	}

	if err := writeConfig(w, cfg, false); err != nil {
		return err
	}
	dim, hidden, kv, L := cfg.Dim, cfg.HiddenDim, cfg.KVDim(), cfg.NumLayers

	tensors := [][]float32{random(cfg.VocabSize * dim), ones(L * dim)}
	if fam.Name == "glm" {
		for l := 0; l < L; l++ {
			tensors = append(tensors, random((dim+2*kv)*dim))
		}
		tensors = append(tensors, random(L*dim*dim), ones(L*dim))
		for l := 0; l < L; l++ {
			tensors = append(tensors, random(2*hidden*dim))
		}
		tensors = append(tensors, random(L*dim*hidden))
	} else {
		tensors = append(tensors,
			random(L*dim*dim), random(L*kv*dim), random(L*kv*dim), random(L*dim*dim),
			ones(L*dim),
			random(L*hidden*dim), random(L*dim*hidden), random(L*hidden*dim))
	}
	tensors = append(tensors,
		ones(dim),
		make([]float32, cfg.SeqLen*cfg.HeadSize()),
		random(cfg.VocabSize*dim))

	for _, t := range tensors {
		if err := writeFloats(w, t); err != nil {
			return err
		}
	}
	return nil
}

// writeConfig is the inverse of readConfig.
func writeConfig(w io.Writer, cfg Config, shared bool) error {
	vocab := int32(cfg.VocabSize)
	if !shared {
		vocab = -vocab
	}
	header := []int32{
		int32(cfg.Dim), int32(cfg.HiddenDim), int32(cfg.NumLayers),
		int32(cfg.NumHeads), int32(cfg.NumKVHeads), vocab, int32(cfg.SeqLen),
	}
	return binary.Write(w, endian, header)
}

func writeFloats(w io.Writer, s []float32) error {
	return binary.Write(w, endian, s)
}

// writeTokenizer writes words and scores in the layout ReadTokenizer reads.
func writeTokenizer(w io.Writer, words []string, scores []float32) error {
	maxLen := 0
	for _, word := range words {
		maxLen = max(maxLen, len(word))
	}
	if err := binary.Write(w, endian, int32(maxLen)); err != nil {
		return err
	}
	for i, word := range words {
		if err := binary.Write(w, endian, scores[i]); err != nil {
			return err
		}
		if err := binary.Write(w, endian, int32(len(word))); err != nil {
			return err
		}
		if _, err := io.WriteString(w, word); err != nil {
			return err
		}
	}
	return nil
}
