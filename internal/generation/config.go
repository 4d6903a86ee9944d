// internal/generation/config.go

// Package generation holds the sampling configuration and the token loop
// shared by every backend that can produce text autoregressively.
package generation

import "fmt"

const (
	// DefaultMaxNewTokens bounds the number of generated tokens.
	DefaultMaxNewTokens = 128
	// DefaultTopK keeps the 40 most likely tokens before sampling.
	DefaultTopK = 40
	// DefaultTopP is the nucleus sampling threshold.
	DefaultTopP = 0.95
	// DefaultTemperature scales logits before sampling.
	DefaultTemperature = 0.80
	// DefaultRepetitionPenalty penalizes recently seen tokens.
	DefaultRepetitionPenalty = 1.1
	// DefaultTFSZ disables tail-free sampling.
	DefaultTFSZ = 1.0
	// DefaultMirostatTau is the target surprise for mirostat sampling.
	DefaultMirostatTau = 5.0
	// DefaultMirostatEta is the mirostat learning rate.
	DefaultMirostatEta = 0.1
)

// Config is the set of sampling and control parameters for one generation call.
// It is passed by value; build it with NewConfig and options.
type Config struct {
	MaxNewTokens      int
	TopK              int
	TopP              float64
	Temperature       float64
	RepetitionPenalty float64
	Reset             bool
	FrequencyPenalty  float64
	PresencePenalty   float64
	TFSZ              float64
	MirostatMode      int
	MirostatTau       float64
	MirostatEta       float64
	// Stop is accepted but not interpreted by the loop or the backends.
	Stop []string
	// Seed fixes the sampler RNG; zero means time-seeded.
	Seed int64
}

// Option overrides a single Config field.
type Option func(*Config)

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxNewTokens:      DefaultMaxNewTokens,
		TopK:              DefaultTopK,
		TopP:              DefaultTopP,
		Temperature:       DefaultTemperature,
		RepetitionPenalty: DefaultRepetitionPenalty,
		Reset:             true,
		TFSZ:              DefaultTFSZ,
		MirostatTau:       DefaultMirostatTau,
		MirostatEta:       DefaultMirostatEta,
	}
}

// NewConfig applies opts on top of DefaultConfig.
func NewConfig(opts ...Option) Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}

// With returns a copy of c with opts applied.
func (c Config) With(opts ...Option) Config {
	out := c
	out.Stop = append([]string(nil), c.Stop...)
	for _, opt := range opts {
		if opt != nil {
			opt(&out)
		}
	}
	return out
}

// Validate reports parameter combinations no backend can honour.
func (c Config) Validate() error {
	if c.MaxNewTokens < 0 {
		return fmt.Errorf("max_new_tokens must be >= 0, got %d", c.MaxNewTokens)
	}
	if c.TopK < 0 {
		return fmt.Errorf("top_k must be >= 0, got %d", c.TopK)
	}
	if c.TopP <= 0 || c.TopP > 1 {
		return fmt.Errorf("top_p must be in (0, 1], got %g", c.TopP)
	}
	if c.Temperature < 0 {
		return fmt.Errorf("temperature must be >= 0, got %g", c.Temperature)
	}
	if c.RepetitionPenalty <= 0 {
		return fmt.Errorf("repetition_penalty must be > 0, got %g", c.RepetitionPenalty)
	}
	if c.TFSZ <= 0 || c.TFSZ > 1 {
		return fmt.Errorf("tfs_z must be in (0, 1], got %g", c.TFSZ)
	}
	switch c.MirostatMode {
	case 0, 1, 2:
	default:
		return fmt.Errorf("mirostat_mode must be 0, 1 or 2, got %d", c.MirostatMode)
	}
	return nil
}

// Greedy reports whether sampling collapses to argmax.
func (c Config) Greedy() bool {
	return c.Temperature <= 0 || (c.TopK == 1 && c.MirostatMode == 0)
}

func WithMaxNewTokens(n int) Option { return func(c *Config) { c.MaxNewTokens = n } }

func WithTopK(k int) Option { return func(c *Config) { c.TopK = k } }

func WithTopP(p float64) Option { return func(c *Config) { c.TopP = p } }

func WithTemperature(t float64) Option { return func(c *Config) { c.Temperature = t } }

func WithRepetitionPenalty(p float64) Option { return func(c *Config) { c.RepetitionPenalty = p } }

func WithReset(reset bool) Option { return func(c *Config) { c.Reset = reset } }

func WithFrequencyPenalty(p float64) Option { return func(c *Config) { c.FrequencyPenalty = p } }

func WithPresencePenalty(p float64) Option { return func(c *Config) { c.PresencePenalty = p } }

func WithTFSZ(z float64) Option { return func(c *Config) { c.TFSZ = z } }

// WithMirostat selects mirostat mode 1 or 2 with its target surprise and learning rate.
func WithMirostat(mode int, tau, eta float64) Option {
	return func(c *Config) {
		c.MirostatMode = mode
		c.MirostatTau = tau
		c.MirostatEta = eta
	}
}

func WithStop(stop ...string) Option {
	return func(c *Config) { c.Stop = append([]string(nil), stop...) }
}

func WithSeed(seed int64) Option { return func(c *Config) { c.Seed = seed } }

// Greedy switches to deterministic argmax decoding with no repetition penalty.
func Greedy() Option {
	return func(c *Config) {
		c.Temperature = 0
		c.TopK = 1
		c.RepetitionPenalty = 1.0
		c.MirostatMode = 0
	}
}
