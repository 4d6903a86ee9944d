// internal/metrics/timed.go
package metrics

import (
	"context"
	"errors"
	"iter"
	"sync"
	"time"

	"github.com/mwiater/genbench/internal/generation"
	"github.com/mwiater/genbench/internal/logging"
	"github.com/mwiater/genbench/internal/providers"
)

// TimedModel is a decorator that wraps a Backend to record per-call latency.
//
// Each token step is timed from the moment the consumer hands control back
// to the backend until the backend yields, so time spent by the consumer is
// not counted. A token the consumer refuses is not counted either.
type TimedModel struct {
	wrapped providers.Backend
	now     func() time.Time

	mu      sync.Mutex
	last    LatencyRecord
	hasLast bool
}

// Option configures a TimedModel.
type Option func(*TimedModel)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *TimedModel) {
		if now != nil {
			t.now = now
		}
	}
}

// Wrap creates a timing decorator around an existing backend.
func Wrap(wrapped providers.Backend, opts ...Option) *TimedModel {
	logging.Debugf("[METRICS] Wrapping %s with timing instrumentation", wrapped.Name())
	t := &TimedModel{wrapped: wrapped, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

var _ providers.Backend = (*TimedModel)(nil)

// Unwrap returns the decorated backend.
func (t *TimedModel) Unwrap() providers.Backend { return t.wrapped }

// Name passes the call through to the wrapped backend.
func (t *TimedModel) Name() string { return t.wrapped.Name() }

// Tokenize passes the call through to the wrapped backend.
func (t *TimedModel) Tokenize(ctx context.Context, text string, addBOS bool) ([]int, error) {
	return t.wrapped.Tokenize(ctx, text, addBOS)
}

// Decode passes the call through to the wrapped backend.
func (t *TimedModel) Decode(ctx context.Context, tokens []int) (string, error) {
	return t.wrapped.Decode(ctx, tokens)
}

// Close passes the call through to the wrapped backend.
func (t *TimedModel) Close() error { return t.wrapped.Close() }

// Predict intercepts the wrapped token stream to time it. When the backend
// can encode, the prompt is encoded and timed first and the stream continues
// from the encoded state. The record is stored when the stream ends without
// an error.
func (t *TimedModel) Predict(ctx context.Context, inputs []int, cfg generation.Config) iter.Seq2[int, error] {
	return func(yield func(int, error) bool) {
		var encode time.Duration
		streamCfg := cfg
		if enc, ok := t.wrapped.(providers.Encoder); ok {
			start := t.now()
			if err := enc.Encode(ctx, inputs, cfg); err != nil {
				yield(0, err)
				return
			}
			encode = t.now().Sub(start)
			streamCfg = cfg.With(generation.WithReset(false))
		}

		var steps []time.Duration
		failed := false
		defer func() {
			if !failed {
				t.record(encode, steps)
			}
		}()

		mark := t.now()
		for token, err := range t.wrapped.Predict(ctx, inputs, streamCfg) {
			elapsed := t.now().Sub(mark)
			if err != nil {
				failed = true
				yield(0, err)
				return
			}
			if !yield(token, nil) {
				return
			}
			steps = append(steps, elapsed)
			mark = t.now()
		}
	}
}

// Generate runs the token loop over the timed stream.
func (t *TimedModel) Generate(ctx context.Context, inputs []int, cfg generation.Config) ([]int, error) {
	out, err := generation.Collect(t.Predict(ctx, inputs, cfg), cfg.MaxNewTokens)
	var genErr *generation.GenerationError
	if errors.As(err, &genErr) && genErr.Model == "" {
		genErr.Model = t.Name()
	}
	return out, err
}

// LastLatency returns the record of the most recent completed call.
func (t *TimedModel) LastLatency() (LatencyRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last, t.hasLast
}

func (t *TimedModel) record(encode time.Duration, steps []time.Duration) {
	rec := NewLatencyRecord(encode, steps)
	t.mu.Lock()
	t.last = rec
	t.hasLast = true
	t.mu.Unlock()
	ObserveLatency(t.Name(), rec, steps)
	logging.Debugf("[METRICS] %s first=%s rest_mean=%s encode=%s tokens=%d",
		t.Name(), rec.FirstCost, rec.RestCostMean, rec.EncoderTime, rec.Tokens)
}
