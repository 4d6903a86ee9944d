package local

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

const (
	bosID = 1
	eosID = 2
	// byteOffset is the id of <0x00>; byte b maps to b+byteOffset.
	byteOffset = 3
)

var errUnrepresentable = errors.New("no token or byte fallback for input")

// Tokenizer is a score-ordered BPE vocabulary in the llama2.c tokenizer.bin
// layout: an int32 max token length, then per token a float32 score, an
// int32 length and the raw bytes.
type Tokenizer struct {
	words   []string
	scores  []float32
	index   map[string]int
	maxLen  int
	hasByte bool
}

// ReadTokenizer reads vocabSize entries.
func ReadTokenizer(r io.Reader, vocabSize int) (*Tokenizer, error) {
	var maxLen int32
	if err := binary.Read(r, endian, &maxLen); err != nil {
		return nil, fmt.Errorf("read tokenizer header: %w", err)
	}
	t := &Tokenizer{
		words:  make([]string, 0, vocabSize),
		scores: make([]float32, 0, vocabSize),
		index:  make(map[string]int, vocabSize),
		maxLen: int(maxLen),
	}
	for i := 0; i < vocabSize; i++ {
		var score float32
		if err := binary.Read(r, endian, &score); err != nil {
			return nil, fmt.Errorf("read token %d score: %w", i, err)
		}
		var n int32
		if err := binary.Read(r, endian, &n); err != nil {
			return nil, fmt.Errorf("read token %d length: %w", i, err)
		}
		if n < 0 || int(n) > max(int(maxLen), 64) {
			return nil, fmt.Errorf("token %d has invalid length %d", i, n)
		}
		word := make([]byte, n)
		if _, err := io.ReadFull(r, word); err != nil {
			return nil, fmt.Errorf("read token %d: %w", i, err)
		}
		t.add(string(word), score)
	}
	t.hasByte = vocabSize >= byteOffset+256 && t.words[byteOffset] == "<0x00>" && t.words[byteOffset+255] == "<0xFF>"
	return t, nil
}

func (t *Tokenizer) add(word string, score float32) {
	id := len(t.words)
	t.words = append(t.words, word)
	t.scores = append(t.scores, score)
	// first occurrence wins, like a linear scan
	if _, ok := t.index[word]; !ok {
		t.index[word] = id
	}
}

// VocabSize is the number of entries.
func (t *Tokenizer) VocabSize() int { return len(t.words) }

// Encode converts text to ids. A dummy space is prepended to non-empty text,
// then each codepoint is looked up, falling back to <0xXX> byte tokens, and
// adjacent pairs are merged by descending score until no merge applies.
func (t *Tokenizer) Encode(text string, addBOS bool) ([]int, error) {
	var tokens []int
	if addBOS {
		tokens = append(tokens, bosID)
	}
	if text == "" {
		return tokens, nil
	}
	start := len(tokens)

	if id, ok := t.index[" "]; ok {
		tokens = append(tokens, id)
	} else if t.hasByte {
		tokens = append(tokens, int(' ')+byteOffset)
	} else {
		return nil, errUnrepresentable
	}

	for i := 0; i < len(text); {
		_, size := utf8.DecodeRuneInString(text[i:])
		piece := text[i : i+size]
		i += size
		if id, ok := t.index[piece]; ok {
			tokens = append(tokens, id)
			continue
		}
		if !t.hasByte {
			return nil, fmt.Errorf("%w: %q", errUnrepresentable, piece)
		}
		for j := 0; j < len(piece); j++ {
			tokens = append(tokens, int(piece[j])+byteOffset)
		}
	}

	body := t.merge(tokens[start:])
	return append(tokens[:start], body...), nil
}

func (t *Tokenizer) merge(tokens []int) []int {
	for len(tokens) > 1 {
		bestScore, bestID, bestIdx := float32(-1e10), -1, -1
		for i := 0; i < len(tokens)-1; i++ {
			id, ok := t.index[t.words[tokens[i]]+t.words[tokens[i+1]]]
			if ok && t.scores[id] > bestScore {
				bestScore, bestID, bestIdx = t.scores[id], id, i
			}
		}
		if bestIdx == -1 {
			break
		}
		tokens[bestIdx] = bestID
		tokens = append(tokens[:bestIdx+1], tokens[bestIdx+2:]...)
	}
	return tokens
}

// Decode concatenates token pieces. BOS and EOS are dropped, byte tokens are
// expanded to raw bytes and the dummy leading space is stripped.
func (t *Tokenizer) Decode(tokens []int) (string, error) {
	var b strings.Builder
	for _, id := range tokens {
		if id < 0 || id >= len(t.words) {
			return "", fmt.Errorf("token id %d out of range [0,%d)", id, len(t.words))
		}
		if id == bosID || id == eosID {
			continue
		}
		if t.hasByte && id >= byteOffset && id < byteOffset+256 {
			b.WriteByte(byte(id - byteOffset))
			continue
		}
		b.WriteString(t.words[id])
	}
	return strings.TrimPrefix(b.String(), " "), nil
}
