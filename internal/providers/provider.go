// internal/providers/provider.go

// Package providers defines the interfaces for the model backends the loop and
// the benchmark driver talk to. It provides a common abstraction layer for
// tokenizing, generating and decoding, regardless of whether the model runs
// in-process or behind an HTTP server.
package providers

import (
	"context"
	"iter"

	"github.com/mwiater/genbench/internal/generation"
)

// Model is the generation capability every backend exposes.
type Model interface {
	// Name returns the identifier used in logs, metrics and reports.
	Name() string
	// Tokenize converts text to token ids, optionally prefixed with BOS.
	Tokenize(ctx context.Context, text string, addBOS bool) ([]int, error)
	// Decode converts token ids back to text.
	Decode(ctx context.Context, tokens []int) (string, error)
	// Generate runs the token loop and returns at most cfg.MaxNewTokens+1 tokens.
	Generate(ctx context.Context, inputs []int, cfg generation.Config) ([]int, error)
	// Close releases resources held by the backend.
	Close() error
}

// Predictor produces a lazy token stream for a prompt. The stream is
// potentially unbounded; consumers stop it by breaking out of the range loop.
type Predictor interface {
	Predict(ctx context.Context, inputs []int, cfg generation.Config) iter.Seq2[int, error]
}

// Encoder is implemented by backends that can evaluate a prompt ahead of
// prediction. After Encode, a Predict call with Reset=false continues from the
// encoded state without evaluating the prompt again.
type Encoder interface {
	Encode(ctx context.Context, inputs []int, cfg generation.Config) error
}

// Backend is a Model that also exposes its token stream.
type Backend interface {
	Model
	Predictor
}
