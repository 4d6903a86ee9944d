package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds every genbench collector. It is private to the process so
// the Go runtime collectors of the default registry stay out of the
// textfile output.
var Registry = prometheus.NewRegistry()

var latencyBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

var (
	GeneratedTokens = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Name: "genbench_generated_tokens_total",
		Help: "Tokens accepted by the generation loop",
	}, []string{"model"})

	FirstTokenSeconds = promauto.With(Registry).NewHistogramVec(prometheus.HistogramOpts{
		Name:    "genbench_first_token_seconds",
		Help:    "Encode time plus first token latency per generation call",
		Buckets: latencyBuckets,
	}, []string{"model"})

	TokenSeconds = promauto.With(Registry).NewHistogramVec(prometheus.HistogramOpts{
		Name:    "genbench_token_seconds",
		Help:    "Latency of each token after the first",
		Buckets: latencyBuckets,
	}, []string{"model"})

	EncodeSeconds = promauto.With(Registry).NewHistogramVec(prometheus.HistogramOpts{
		Name:    "genbench_encode_seconds",
		Help:    "Prompt evaluation time per generation call",
		Buckets: latencyBuckets,
	}, []string{"model"})

	CacheConversions = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Name: "genbench_kv_cache_conversions_total",
		Help: "KV caches rebuilt in another representation",
	}, []string{"from", "to"})

	CacheBytes = promauto.With(Registry).NewGaugeVec(prometheus.GaugeOpts{
		Name: "genbench_kv_cache_bytes",
		Help: "Allocated KV cache payload per model",
	}, []string{"model"})
)

// ObserveLatency records one generation call.
func ObserveLatency(model string, rec LatencyRecord, steps []time.Duration) {
	GeneratedTokens.WithLabelValues(model).Add(float64(rec.Tokens))
	EncodeSeconds.WithLabelValues(model).Observe(rec.EncoderTime.Seconds())
	if rec.Tokens > 0 {
		FirstTokenSeconds.WithLabelValues(model).Observe(rec.FirstCost.Seconds())
	}
	if len(steps) > 1 {
		h := TokenSeconds.WithLabelValues(model)
		for _, d := range steps[1:] {
			h.Observe(d.Seconds())
		}
	}
}

// ObserveCacheConversion counts a KV cache representation change.
func ObserveCacheConversion(from, to string) {
	CacheConversions.WithLabelValues(from, to).Inc()
}

// SetCacheBytes publishes the current KV cache size of a model.
func SetCacheBytes(model string, bytes int64) {
	CacheBytes.WithLabelValues(model).Set(float64(bytes))
}

// WriteTextfile writes the registry in the node exporter textfile format.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, Registry)
}
