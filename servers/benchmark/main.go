// main.go
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.yaml.in/yaml/v3"

	"github.com/mwiater/genbench/internal/appconfig"
	"github.com/mwiater/genbench/internal/benchmark"
	"github.com/mwiater/genbench/internal/generation"
	"github.com/mwiater/genbench/internal/logging"
	"github.com/mwiater/genbench/internal/metrics"
	"github.com/mwiater/genbench/internal/providers"
)

type BenchRequest struct {
	// Models restricts the run to these configured ids; empty runs all of them.
	Models []string `json:"models,omitempty"`

	// Optional overrides of the genbench configuration.
	InOutPairs      []string `json:"in_out_pairs,omitempty"`
	WarmUp          *int     `json:"warm_up,omitempty"`
	NumTrials       *int     `json:"num_trials,omitempty"`
	ContinueOnError *bool    `json:"continue_on_error,omitempty"`
}

type BenchResp struct {
	OK        bool            `json:"ok"`
	ElapsedMS int64           `json:"elapsed_ms"`
	Rows      []benchmark.Row `json:"rows"`
	Failed    []string        `json:"failed,omitempty"`
}

type ErrResp struct {
	OK        bool   `json:"ok"`
	Error     string `json:"error"`
	Kind      string `json:"kind,omitempty"`
	ElapsedMS int64  `json:"elapsed_ms,omitempty"`
}

type HealthResp struct {
	OK             bool   `json:"ok"`
	Listen         string `json:"listen"`
	Config         string `json:"config"`
	TimeoutSeconds int    `json:"timeout_seconds"`
	Models         int    `json:"models"`
}

type Server struct {
	mu      sync.Mutex
	cfg     *Config
	bench   appconfig.Config
	timeout time.Duration
}

var runBenchmark = benchmark.BenchmarkModels

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	bench, err := appconfig.Load(cfg.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "genbench config error: %v\n", err)
		os.Exit(1)
	}
	if err := logging.Init(bench.LogFile, logging.WithLevel(bench.LogLevel)); err != nil {
		fmt.Fprintf(os.Stderr, "logging error: %v\n", err)
		os.Exit(1)
	}
	defer logging.Close()

	s := &Server{cfg: cfg, bench: bench, timeout: time.Duration(cfg.TimeoutSeconds) * time.Second}
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logging.LogEvent("benchmark config: host=%s port=%d genbench_config=%s models=%d", cfg.Host, cfg.Port, cfg.ConfigPath, len(bench.ModelEntries()))
	logging.LogEvent("benchmark timeout: %ds", cfg.TimeoutSeconds)
	logging.LogEvent("listening on %s (GOOS=%s)", srv.Addr, runtime.GOOS)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logging.Warnf("server stopped: %v", err)
		os.Exit(1)
	}
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, HealthResp{
			OK:             true,
			Listen:         fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
			Config:         s.cfg.ConfigPath,
			TimeoutSeconds: s.cfg.TimeoutSeconds,
			Models:         len(s.bench.ModelEntries()),
		})
	})
	mux.Handle("GET /metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("POST /benchmark", s.handleBench)
	return mux
}

func (s *Server) handleBench(w http.ResponseWriter, r *http.Request) {
	// One benchmark at a time: runs share the machine and the metrics registry.
	logging.LogEvent("benchmark request from %s", r.RemoteAddr)
	s.mu.Lock()
	defer s.mu.Unlock()

	var req BenchRequest
	if err := decodeJSON(w, r, &req, 1<<20 /* 1 MiB */); err != nil {
		logging.Warnf("benchmark decode error: %v", err)
		writeJSON(w, http.StatusBadRequest, ErrResp{OK: false, Error: "invalid JSON: " + err.Error()})
		return
	}

	cfg, err := s.configFor(req)
	if err != nil {
		logging.Warnf("benchmark validation error: %v", err)
		writeJSON(w, http.StatusBadRequest, ErrResp{OK: false, Error: err.Error(), Kind: "config"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	start := time.Now()
	results, runErr := runBenchmark(ctx, cfg, benchmark.Results{}, nil)
	elapsed := time.Since(start).Milliseconds()

	if runErr != nil {
		status, kind := classify(runErr)
		logging.Warnf("benchmark run error: %v (kind=%s elapsed_ms=%d)", runErr, kind, elapsed)
		writeJSON(w, status, ErrResp{OK: false, Error: runErr.Error(), Kind: kind, ElapsedMS: elapsed})
		return
	}

	logging.LogEvent("benchmark complete (rows=%d elapsed_ms=%d)", len(results.Rows), elapsed)
	writeJSON(w, http.StatusOK, BenchResp{OK: true, ElapsedMS: elapsed, Rows: results.Rows, Failed: results.Failed})
}

// configFor applies the request overrides to the server's configuration.
func (s *Server) configFor(req BenchRequest) (appconfig.Config, error) {
	cfg := s.bench
	if len(req.Models) > 0 {
		var picked []appconfig.ModelEntry
		for _, id := range req.Models {
			idx := slices.IndexFunc(cfg.ModelEntries(), func(e appconfig.ModelEntry) bool { return e.ID == id })
			if idx < 0 {
				return cfg, fmt.Errorf("model %q is not configured", id)
			}
			picked = append(picked, cfg.ModelEntries()[idx])
		}
		cfg.Models, cfg.RepoIDs = picked, nil
	}
	if len(req.InOutPairs) > 0 {
		cfg.InOutPairs = req.InOutPairs
	}
	if req.WarmUp != nil {
		cfg.WarmUp = *req.WarmUp
	}
	if req.NumTrials != nil {
		cfg.NumTrials = *req.NumTrials
	}
	if req.ContinueOnError != nil {
		cfg.ContinueOnError = *req.ContinueOnError
	}
	if err := appconfig.ValidateSchema(cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func classify(err error) (int, string) {
	var (
		cfgErr  *appconfig.ConfigError
		loadErr *providers.ModelLoadError
		encErr  *generation.EncodingError
		genErr  *generation.GenerationError
	)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	case errors.As(err, &cfgErr):
		return http.StatusBadRequest, "config"
	case errors.As(err, &loadErr):
		return http.StatusInternalServerError, "model_load"
	case errors.As(err, &encErr):
		return http.StatusInternalServerError, "encoding"
	case errors.As(err, &genErr):
		return http.StatusInternalServerError, "generation"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

type Config struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	ConfigPath     string `yaml:"config"`
	TimeoutSeconds int    `yaml:"timeout"`
}

var (
	configOnce sync.Once
	configVal  *Config
	configErr  error
)

func loadConfig() (*Config, error) {
	configOnce.Do(func() {
		path := filepath.Join("servers", "benchmark", "benchmark.yml")
		configVal, configErr = readConfig(path)
	})
	return configVal, configErr
}

func readConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.Host) == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("invalid port %d", cfg.Port)
	}
	if cfg.ConfigPath == "" {
		cfg.ConfigPath = appconfig.DefaultConfigPath
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 3600
	}
	return &cfg, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any, maxBytes int64) error {
	if r.Body == nil {
		return errors.New("empty body")
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
