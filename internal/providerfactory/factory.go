// internal/providerfactory/factory.go
package providerfactory

import (
	"context"
	"fmt"
	"os"

	"github.com/mwiater/genbench/internal/appconfig"
	"github.com/mwiater/genbench/internal/hub"
	"github.com/mwiater/genbench/internal/kvcache"
	"github.com/mwiater/genbench/internal/logging"
	"github.com/mwiater/genbench/internal/metrics"
	"github.com/mwiater/genbench/internal/providers"
	"github.com/mwiater/genbench/internal/providers/llamacpp"
	"github.com/mwiater/genbench/internal/providers/local"
)

// NewBackend selects and loads the backend declared by entry. Local models
// are read from the location hub.Resolve gives for the entry id; llama.cpp
// models are asked to load on their server.
func NewBackend(ctx context.Context, cfg appconfig.Config, entry appconfig.ModelEntry) (providers.Backend, error) {
	switch entry.Backend {
	case appconfig.BackendLocal, "":
		return newLocal(cfg, entry)
	case appconfig.BackendLlamaCpp:
		return newLlamaCpp(ctx, cfg, entry)
	default:
		return nil, &providers.ModelLoadError{Model: entry.ID, Err: fmt.Errorf("unsupported backend %q", entry.Backend)}
	}
}

// NewTimedBackend is NewBackend wrapped with latency instrumentation.
func NewTimedBackend(ctx context.Context, cfg appconfig.Config, entry appconfig.ModelEntry, opts ...metrics.Option) (*metrics.TimedModel, error) {
	backend, err := NewBackend(ctx, cfg, entry)
	if err != nil {
		return nil, err
	}
	return metrics.Wrap(backend, opts...), nil
}

func newLocal(cfg appconfig.Config, entry appconfig.ModelEntry) (providers.Backend, error) {
	mode, err := kvcache.ParseMode(entry.KVCache)
	if err != nil {
		return nil, &providers.ModelLoadError{Model: entry.ID, Err: err}
	}
	quant, err := local.ParseQuantization(entry.Quantize)
	if err != nil {
		return nil, &providers.ModelLoadError{Model: entry.ID, Err: err}
	}
	policy := kvcache.DefaultPolicy()
	policy.Mode = mode

	path := hub.Resolve(entry.ID, cfg.LocalModelHub)
	if _, err := os.Stat(path); err != nil {
		return nil, &providers.ModelLoadError{Model: entry.ID, Path: path, Err: err}
	}
	logging.LogEvent("Loading %s (family=%s quant=%s kv_cache=%s) from %s", entry.ID, entry.Family, quant, mode, path)
	return local.Open(entry.ID, path, local.Options{
		Family:       entry.Family,
		Quantization: quant,
		CachePolicy:  policy,
	})
}

func newLlamaCpp(ctx context.Context, cfg appconfig.Config, entry appconfig.ModelEntry) (providers.Backend, error) {
	backend := llamacpp.New(entry.ID, llamacpp.Options{URL: entry.URL, Timeout: cfg.RequestTimeout()})
	if err := backend.EnsureModelReady(ctx); err != nil {
		return nil, &providers.ModelLoadError{Model: entry.ID, Path: entry.URL, Err: err}
	}
	logging.LogEvent("Using llama.cpp server %s for %s", entry.URL, entry.ID)
	return backend, nil
}
