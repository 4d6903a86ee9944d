// internal/appconfig/appconfig.go
// Package appconfig manages loading and interpreting application configuration.
package appconfig

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	// DefaultConfigPath is the default path to the application's configuration file.
	DefaultConfigPath = "config/config.yaml"
	// EnvPrefix prefixes environment overrides, e.g. GENBENCH_WARM_UP.
	EnvPrefix = "GENBENCH"
	// defaultRequestTimeout is the default timeout for HTTP requests.
	defaultRequestTimeout = 600 * time.Second
)

// Backend names understood by the provider factory.
const (
	BackendLocal    = "local"
	BackendLlamaCpp = "llamacpp"
)

// Report formats.
const (
	FormatCSV   = "csv"
	FormatJSON  = "json"
	FormatArrow = "arrow"
	FormatHTML  = "html"
)

// Config represents the top-level application configuration.
type Config struct {
	RepoIDs           []string     `mapstructure:"repo_id" json:"repo_id"`
	LocalModelHub     string       `mapstructure:"local_model_hub" json:"local_model_hub"`
	WarmUp            int          `mapstructure:"warm_up" json:"warm_up"`
	NumTrials         int          `mapstructure:"num_trials" json:"num_trials"`
	InOutPairs        []string     `mapstructure:"in_out_pairs" json:"in_out_pairs"`
	PromptDir         string       `mapstructure:"prompt_dir" json:"prompt_dir"`
	ResultsDir        string       `mapstructure:"results_dir" json:"results_dir"`
	ReportFormats     []string     `mapstructure:"report_formats" json:"report_formats"`
	SynthesizePrompts bool         `mapstructure:"synthesize_prompts" json:"synthesize_prompts"`
	ContinueOnError   bool         `mapstructure:"continue_on_error" json:"continue_on_error"`
	Backend           string       `mapstructure:"backend" json:"backend"`
	LlamaCppURL       string       `mapstructure:"llamacpp_url" json:"llamacpp_url"`
	Quantize          string       `mapstructure:"quantize" json:"quantize"`
	KVCache           string       `mapstructure:"kv_cache" json:"kv_cache"`
	Models            []ModelEntry `mapstructure:"models" json:"models"`
	TimeoutSeconds    int          `mapstructure:"timeout" json:"timeout"`
	LogFile           string       `mapstructure:"log_file" json:"log_file"`
	LogLevel          string       `mapstructure:"log_level" json:"log_level"`
	MetricsFile       string       `mapstructure:"metrics_file" json:"metrics_file"`
	Debug             bool         `mapstructure:"debug" json:"debug"`
	ConfigPath        string       `mapstructure:"-" json:"-"`
}

// ModelEntry declares one model to benchmark. Empty fields inherit the
// top-level defaults.
type ModelEntry struct {
	ID       string `mapstructure:"id" json:"id"`
	Backend  string `mapstructure:"backend" json:"backend,omitempty"`
	Family   string `mapstructure:"family" json:"family,omitempty"`
	Quantize string `mapstructure:"quantize" json:"quantize,omitempty"`
	KVCache  string `mapstructure:"kv_cache" json:"kv_cache,omitempty"`
	URL      string `mapstructure:"url" json:"url,omitempty"`
}

// ConfigError reports a configuration that could not be read or is invalid.
type ConfigError struct {
	Path     string
	Problems []string
	Err      error
}

func (e *ConfigError) Error() string {
	where := e.Path
	if where == "" {
		where = "config"
	}
	if len(e.Problems) > 0 {
		return fmt.Sprintf("%s: %s", where, strings.Join(e.Problems, "; "))
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", where, e.Err)
	}
	return where + ": invalid configuration"
}

func (e *ConfigError) Unwrap() error { return e.Err }

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("repo_id", []string{})
	v.SetDefault("local_model_hub", "")
	v.SetDefault("warm_up", 1)
	v.SetDefault("num_trials", 3)
	v.SetDefault("in_out_pairs", []string{"32-32", "1024-128"})
	v.SetDefault("prompt_dir", "prompt")
	v.SetDefault("results_dir", ".")
	v.SetDefault("report_formats", []string{FormatCSV})
	v.SetDefault("synthesize_prompts", true)
	v.SetDefault("continue_on_error", false)
	v.SetDefault("backend", BackendLocal)
	v.SetDefault("llamacpp_url", "http://127.0.0.1:8080")
	v.SetDefault("quantize", "q4")
	v.SetDefault("kv_cache", "auto")
	v.SetDefault("timeout", int(defaultRequestTimeout.Seconds()))
	v.SetDefault("log_file", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("metrics_file", "")
	v.SetDefault("debug", false)
}

// NewViper returns a viper instance with defaults and GENBENCH_ environment
// overrides registered.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// Read loads the config file at path into v. A missing file at the default
// path is not an error; the defaults apply.
func Read(v *viper.Viper, path string) error {
	if path == "" {
		path = DefaultConfigPath
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) && path == DefaultConfigPath {
			return nil
		}
		return &ConfigError{Path: path, Err: err}
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return &ConfigError{Path: path, Err: err}
	}
	return nil
}

// Decode materializes the merged settings of v (flags > env > file >
// defaults), then validates them against the schema and semantically.
func Decode(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, &ConfigError{Path: v.ConfigFileUsed(), Err: fmt.Errorf("unmarshal config: %w", err)}
	}
	cfg.ConfigPath = v.ConfigFileUsed()
	if err := ValidateSchema(cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Load reads the application configuration from path.
func Load(path string) (Config, error) {
	v := NewViper()
	if err := Read(v, path); err != nil {
		return Config{}, err
	}
	return Decode(v)
}

// RequestTimeout returns the timeout duration for HTTP requests, falling back to the default if not specified.
func (c Config) RequestTimeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return defaultRequestTimeout
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Pairs parses InOutPairs.
func (c Config) Pairs() ([]Pair, error) {
	out := make([]Pair, 0, len(c.InOutPairs))
	for _, raw := range c.InOutPairs {
		p, err := ParsePair(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// ModelEntries returns the models to benchmark with defaults applied. The
// models list wins over repo_id when both are present.
func (c Config) ModelEntries() []ModelEntry {
	entries := c.Models
	if len(entries) == 0 {
		entries = make([]ModelEntry, 0, len(c.RepoIDs))
		for _, id := range c.RepoIDs {
			entries = append(entries, ModelEntry{ID: id})
		}
	}
	out := make([]ModelEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, c.withDefaults(e))
	}
	return out
}

// FindModel returns the entry with the given id, or an entry built from the
// defaults when the id is not declared.
func (c Config) FindModel(id string) ModelEntry {
	for _, e := range c.ModelEntries() {
		if e.ID == id {
			return e
		}
	}
	return c.withDefaults(ModelEntry{ID: id})
}

func (c Config) withDefaults(e ModelEntry) ModelEntry {
	e.ID = strings.TrimSpace(e.ID)
	if e.Backend == "" {
		e.Backend = c.Backend
	}
	if e.Family == "" {
		e.Family = InferFamily(e.ID)
	}
	if e.Quantize == "" {
		e.Quantize = c.Quantize
	}
	if e.KVCache == "" {
		e.KVCache = c.KVCache
	}
	if e.URL == "" {
		e.URL = c.LlamaCppURL
	}
	return e
}

// InferFamily guesses the architecture family from a repository id.
func InferFamily(repoID string) string {
	if strings.Contains(strings.ToLower(repoID), "glm") {
		return "glm"
	}
	return "llama"
}

// Validate checks the semantic rules the schema cannot express.
func (c Config) Validate() error {
	var problems []string
	if len(c.ModelEntries()) == 0 {
		problems = append(problems, "no models configured (set repo_id or models)")
	}
	for i, e := range c.ModelEntries() {
		if e.ID == "" {
			problems = append(problems, fmt.Sprintf("models[%d]: id is required", i))
		}
		if e.Backend == BackendLlamaCpp && strings.TrimSpace(e.URL) == "" {
			problems = append(problems, fmt.Sprintf("models[%d]: llamacpp backend needs a url", i))
		}
	}
	if len(c.InOutPairs) == 0 {
		problems = append(problems, "in_out_pairs must not be empty")
	}
	if _, err := c.Pairs(); err != nil {
		problems = append(problems, err.Error())
	}
	if len(problems) > 0 {
		return &ConfigError{Path: c.ConfigPath, Problems: problems}
	}
	return nil
}
