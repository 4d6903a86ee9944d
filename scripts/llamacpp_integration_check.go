// scripts/llamacpp_integration_check.go
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/mwiater/genbench/internal/appconfig"
	"github.com/mwiater/genbench/internal/generation"
	"github.com/mwiater/genbench/internal/metrics"
	"github.com/mwiater/genbench/internal/providers/llamacpp"
)

// main probes a running llama.cpp server the way the benchmark uses it:
// model listing, load, tokenize and one timed greedy generation.
func main() {
	configPath := flag.String("config", appconfig.DefaultConfigPath, "Path to the genbench config")
	hostURL := flag.String("url", "", "Override llama.cpp host URL")
	modelName := flag.String("model", "", "Override model name")
	maxNew := flag.Int("max-new-tokens", 8, "max_new_tokens for the generation probe")
	timeout := flag.Duration("timeout", 30*time.Second, "HTTP timeout")
	flag.Parse()

	url, model, err := resolveTarget(*configPath, *hostURL, *modelName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Target host: %s\n", url)
	fmt.Printf("Target model: %s\n\n", model)

	client := &http.Client{Timeout: *timeout}
	if err := checkModels(client, url); err != nil {
		fmt.Fprintf(os.Stderr, "models check failed: %v\n", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 4*(*timeout))
	defer cancel()
	if err := probeGeneration(ctx, url, model, *maxNew, *timeout); err != nil {
		fmt.Fprintf(os.Stderr, "generation probe failed: %v\n", err)
		os.Exit(1)
	}
}

func resolveTarget(configPath, overrideURL, overrideModel string) (string, string, error) {
	if overrideURL != "" {
		model := overrideModel
		if model == "" {
			model = "model"
		}
		return overrideURL, model, nil
	}

	cfg, err := appconfig.Load(configPath)
	if err != nil {
		return "", "", err
	}
	for _, entry := range cfg.ModelEntries() {
		if entry.Backend != appconfig.BackendLlamaCpp {
			continue
		}
		if overrideModel == "" || overrideModel == entry.ID {
			return entry.URL, entry.ID, nil
		}
	}
	return "", "", fmt.Errorf("no llama.cpp model found in %s", configPath)
}

func checkModels(client *http.Client, baseURL string) error {
	fmt.Println("== /models ==")
	resp, err := client.Get(strings.TrimRight(baseURL, "/") + "/models")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	fmt.Printf("Status: %s\n", resp.Status)
	fmt.Println(indentJSON(body))
	fmt.Println()
	return nil
}

func probeGeneration(ctx context.Context, url, model string, maxNew int, timeout time.Duration) error {
	backend := llamacpp.New(model, llamacpp.Options{URL: url, Timeout: timeout})
	defer backend.Close()

	fmt.Println("== load ==")
	if err := backend.EnsureModelReady(ctx); err != nil {
		return err
	}
	fmt.Println("ready")

	timed := metrics.Wrap(backend)
	fmt.Println("\n== tokenize ==")
	ids, err := timed.Tokenize(ctx, "The quick brown fox jumps over the lazy dog.", true)
	if err != nil {
		return err
	}
	fmt.Printf("%d tokens: %v\n", len(ids), ids)

	fmt.Println("\n== generate ==")
	cfg := generation.NewConfig(generation.Greedy(), generation.WithMaxNewTokens(maxNew))
	out, err := timed.Generate(ctx, ids, cfg)
	if err != nil {
		return err
	}
	text, err := timed.Decode(ctx, out)
	if err != nil {
		return err
	}
	fmt.Printf("%d tokens (bound %d): %q\n", len(out), generation.Bound(maxNew), text)
	if len(out) > generation.Bound(maxNew) {
		return fmt.Errorf("server returned %d tokens, more than the bound %d", len(out), generation.Bound(maxNew))
	}
	if rec, ok := timed.LastLatency(); ok {
		fmt.Printf("1st token: %s  2+: %s/token  encoder: %s\n", rec.FirstCost, rec.RestCostMean, rec.EncoderTime)
	}
	return nil
}

func indentJSON(body []byte) string {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return string(body)
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return string(body)
	}
	return string(out)
}
