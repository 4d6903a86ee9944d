package local

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"

	"github.com/mwiater/genbench/internal/generation"
	"github.com/mwiater/genbench/internal/kvcache"
	"github.com/mwiater/genbench/internal/logging"
	"github.com/mwiater/genbench/internal/metrics"
	"github.com/mwiater/genbench/internal/providers"
)

const (
	// DefaultCheckpointFile is the weights file name inside a model directory.
	DefaultCheckpointFile = "model.bin"
	// DefaultTokenizerFile is the vocabulary file name inside a model directory.
	DefaultTokenizerFile = "tokenizer.bin"
)

// Options configures how a checkpoint is loaded and run.
type Options struct {
	Family         string
	Quantization   Quantization
	CachePolicy    kvcache.Policy
	CheckpointFile string
	TokenizerFile  string
}

// Model is an in-process transformer. It keeps the tokens it has evaluated
// together with their keys and values so later calls with Reset=false can
// skip the shared prefix. A Model is not safe for concurrent use.
type Model struct {
	name   string
	cfg    Config
	family Family
	w      *weights
	tok    *Tokenizer
	policy kvcache.Policy

	state   runState
	cache   kvcache.Cache
	history []int
	// primed reports whether state.logits belong to the last token of history.
	primed bool
}

var (
	_ providers.Backend = (*Model)(nil)
	_ providers.Encoder = (*Model)(nil)
)

// Open loads dir/model.bin and dir/tokenizer.bin, or the file names set in opts.
func Open(name, dir string, opts Options) (*Model, error) {
	ckptName := opts.CheckpointFile
	if ckptName == "" {
		ckptName = DefaultCheckpointFile
	}
	tokName := opts.TokenizerFile
	if tokName == "" {
		tokName = DefaultTokenizerFile
	}
	ckptPath := filepath.Join(dir, ckptName)
	tokPath := filepath.Join(dir, tokName)

	ckpt, err := os.Open(ckptPath)
	if err != nil {
		return nil, &providers.ModelLoadError{Model: name, Path: ckptPath, Err: err}
	}
	defer ckpt.Close()
	info, err := ckpt.Stat()
	if err != nil {
		return nil, &providers.ModelLoadError{Model: name, Path: ckptPath, Err: err}
	}
	tok, err := os.Open(tokPath)
	if err != nil {
		return nil, &providers.ModelLoadError{Model: name, Path: tokPath, Err: err}
	}
	defer tok.Close()

	m, err := load(name, bufio.NewReaderSize(ckpt, 1<<20), info.Size(), bufio.NewReader(tok), opts)
	if err != nil {
		var loadErr *providers.ModelLoadError
		if errors.As(err, &loadErr) && loadErr.Path == "" {
			loadErr.Path = dir
		}
		return nil, err
	}
	return m, nil
}

// New reads a checkpoint and a tokenizer from streams.
func New(name string, checkpoint, tokenizer io.Reader, opts Options) (*Model, error) {
	return load(name, checkpoint, -1, tokenizer, opts)
}

// load is New with the checkpoint size in bytes, or -1 when unknown.
func load(name string, checkpoint io.Reader, size int64, tokenizer io.Reader, opts Options) (*Model, error) {
	fam, err := LookupFamily(opts.Family)
	if err != nil {
		return nil, &providers.ModelLoadError{Model: name, Err: err}
	}
	q := opts.Quantization
	if q == "" {
		q = QuantQ4
	}
	cfg, shared, err := readConfig(checkpoint)
	if err != nil {
		return nil, &providers.ModelLoadError{Model: name, Err: err}
	}
	if size >= 0 {
		want, err := cfg.checkpointSize(shared)
		if err != nil {
			return nil, &providers.ModelLoadError{Model: name, Err: err}
		}
		if size < want {
			return nil, &providers.ModelLoadError{Model: name, Err: fmt.Errorf("checkpoint holds %d bytes, header needs %d: %w", size, want, io.ErrUnexpectedEOF)}
		}
	}
	w, err := fam.load(checkpoint, cfg, shared, q)
	if err != nil {
		return nil, &providers.ModelLoadError{Model: name, Err: err}
	}
	tok, err := ReadTokenizer(tokenizer, cfg.VocabSize)
	if err != nil {
		return nil, &providers.ModelLoadError{Model: name, Err: err}
	}
	policy := opts.CachePolicy
	if policy.Mode == "" {
		policy = kvcache.DefaultPolicy()
	}
	logging.Debugf("local: loaded %s family=%s quant=%s dim=%d layers=%d heads=%d/%d vocab=%d seq=%d",
		name, fam.Name, q, cfg.Dim, cfg.NumLayers, cfg.NumHeads, cfg.NumKVHeads, cfg.VocabSize, cfg.SeqLen)
	return &Model{
		name:   name,
		cfg:    cfg,
		family: fam,
		w:      w,
		tok:    tok,
		policy: policy,
		state:  newRunState(cfg),
	}, nil
}

// Name returns the model identifier.
func (m *Model) Name() string { return m.name }

// Config returns the checkpoint header.
func (m *Model) Config() Config { return m.cfg }

// CacheKind reports the representation of the current cache.
func (m *Model) CacheKind() (kvcache.Kind, bool) {
	if m.cache == nil {
		return 0, false
	}
	return m.cache.Kind(), true
}

// Tokenize encodes text with the checkpoint's vocabulary.
func (m *Model) Tokenize(_ context.Context, text string, addBOS bool) ([]int, error) {
	ids, err := m.tok.Encode(text, addBOS)
	if err != nil {
		return nil, &generation.EncodingError{Model: m.name, Text: text, Err: err}
	}
	return ids, nil
}

// Decode turns ids back into text.
func (m *Model) Decode(_ context.Context, tokens []int) (string, error) {
	return m.tok.Decode(tokens)
}

// Encode evaluates inputs into the cache so a following Predict with
// Reset=false starts sampling immediately.
func (m *Model) Encode(ctx context.Context, inputs []int, cfg generation.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	return m.prefill(ctx, inputs, cfg)
}

// Predict evaluates inputs and then samples until EOS or the context window
// is full. The caller bounds the stream by breaking out of it.
func (m *Model) Predict(ctx context.Context, inputs []int, cfg generation.Config) iter.Seq2[int, error] {
	return func(yield func(int, error) bool) {
		if err := cfg.Validate(); err != nil {
			yield(0, err)
			return
		}
		if err := m.prefill(ctx, inputs, cfg); err != nil {
			yield(0, err)
			return
		}
		s := newSampler(cfg)
		for {
			if err := ctx.Err(); err != nil {
				yield(0, err)
				return
			}
			next := s.sample(m.state.logits, m.history)
			if next == eosID {
				return
			}
			if !yield(next, nil) {
				return
			}
			pos := len(m.history)
			if pos >= m.cfg.SeqLen {
				return
			}
			if err := m.step(next, pos); err != nil {
				yield(0, err)
				return
			}
		}
	}
}

// Generate runs the token loop over Predict.
func (m *Model) Generate(ctx context.Context, inputs []int, cfg generation.Config) ([]int, error) {
	out, err := generation.Collect(m.Predict(ctx, inputs, cfg), cfg.MaxNewTokens)
	var genErr *generation.GenerationError
	if errors.As(err, &genErr) && genErr.Model == "" {
		genErr.Model = m.name
	}
	return out, err
}

// Close drops the cache and evaluated history.
func (m *Model) Close() error {
	m.cache = nil
	m.history = nil
	m.primed = false
	return nil
}

// prefill brings the cache to the state of inputs, reusing the common prefix
// with the previous call when cfg.Reset is false.
func (m *Model) prefill(ctx context.Context, inputs []int, cfg generation.Config) error {
	if len(inputs) == 0 {
		return errors.New("empty prompt")
	}
	if len(inputs) > m.cfg.SeqLen {
		return fmt.Errorf("prompt of %d tokens exceeds context window %d", len(inputs), m.cfg.SeqLen)
	}
	for _, id := range inputs {
		if id < 0 || id >= m.cfg.VocabSize {
			return fmt.Errorf("token id %d out of range [0,%d)", id, m.cfg.VocabSize)
		}
	}

	contextLen := min(m.cfg.SeqLen, len(inputs)+generation.Bound(cfg.MaxNewTokens))
	kind := m.policy.Select(m.cfg.Dim, m.cfg.KVDim(), m.cfg.NumLayers, contextLen)

	keep := 0
	if !cfg.Reset && m.cache != nil {
		keep = commonPrefix(m.history, inputs)
	}
	if err := m.ensureCache(kind, keep > 0); err != nil {
		return err
	}

	if keep == len(inputs) && keep == len(m.history) && m.primed {
		logging.Debugf("local: %s reusing %d cached tokens", m.name, keep)
		return nil
	}
	if keep == len(inputs) {
		// the last input must be evaluated again to produce logits
		keep--
	}
	m.cache.Truncate(keep)
	m.history = m.history[:keep]
	m.primed = false
	if keep > 0 {
		logging.Debugf("local: %s reusing %d of %d prompt tokens", m.name, keep, len(inputs))
	}

	for pos := keep; pos < len(inputs); pos++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := m.step(inputs[pos], pos); err != nil {
			return err
		}
	}
	return nil
}

// ensureCache makes the cache match kind. With keepState the committed
// positions of an old cache of another kind are carried over by conversion;
// otherwise a fresh cache is allocated.
func (m *Model) ensureCache(kind kvcache.Kind, keepState bool) error {
	if m.cache != nil && m.cache.Kind() == kind {
		return nil
	}
	var (
		next kvcache.Cache
		err  error
	)
	if m.cache != nil && keepState {
		from := m.cache.Kind()
		m.cache.Truncate(len(m.history))
		next, err = kvcache.Convert(m.cache, kind)
		if err != nil {
			return err
		}
		metrics.ObserveCacheConversion(from.String(), kind.String())
		logging.LogEvent("local: %s converted kv cache %s -> %s (%d positions)", m.name, from, kind, next.Len())
	} else {
		next, err = kvcache.New(kind, m.cfg.NumLayers, m.cfg.KVDim(), m.cfg.SeqLen)
		if err != nil {
			return err
		}
		m.history = m.history[:0]
		m.primed = false
	}
	m.cache = next
	metrics.SetCacheBytes(m.name, next.Bytes())
	return nil
}

func (m *Model) step(token, pos int) error {
	if err := forward(token, pos, m.cfg, m.family, m.w, &m.state, m.cache); err != nil {
		m.primed = false
		return err
	}
	m.history = append(m.history, token)
	m.primed = true
	return nil
}

func commonPrefix(a, b []int) int {
	n := 0
	for n < len(a) && n < len(b) && a[n] == b[n] {
		n++
	}
	return n
}
