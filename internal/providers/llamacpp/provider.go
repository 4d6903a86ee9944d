// internal/providers/llamacpp/provider.go
// Package llamacpp provides a Backend served by llama.cpp's native HTTP API.
package llamacpp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"
	"time"

	"github.com/mwiater/genbench/internal/generation"
	"github.com/mwiater/genbench/internal/logging"
	"github.com/mwiater/genbench/internal/providers"
)

const defaultTimeout = 600 * time.Second

// Options configures a Backend.
type Options struct {
	URL     string
	Timeout time.Duration
	// Client replaces the default HTTP client.
	Client *http.Client
}

// Backend implements providers.Backend over the /tokenize, /detokenize and
// streaming /completion endpoints of a llama.cpp server.
type Backend struct {
	model   string
	url     string
	client  *http.Client
	timeout time.Duration
}

var _ providers.Backend = (*Backend)(nil)

// New constructs a Backend for model hosted at opts.URL.
func New(model string, opts Options) *Backend {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{
			Timeout:   timeout,
			Transport: &http.Transport{ForceAttemptHTTP2: false},
		}
	}
	return &Backend{
		model:   model,
		url:     strings.TrimRight(strings.TrimSpace(opts.URL), "/"),
		client:  client,
		timeout: timeout,
	}
}

// Name returns the model identifier.
func (b *Backend) Name() string { return b.model }

type modelsResponse struct {
	Data   []llamaModel `json:"data"`
	Models []llamaModel `json:"models"`
}

type llamaModel struct {
	ID     string      `json:"id"`
	Name   string      `json:"name"`
	Model  string      `json:"model"`
	Path   string      `json:"path"`
	Status statusField `json:"status"`
}

// EnsureModelReady triggers a load request when the router endpoints are available.
func (b *Backend) EnsureModelReady(ctx context.Context) error {
	payload := map[string]any{"model": b.model}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	endpoint := b.url + "/models/load"
	logging.LogRequest("GENBENCH->LLM", b.hostIdentifier(), b.model, body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	logging.LogRequest("LLM->GENBENCH", b.hostIdentifier(), b.model, respBody)

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusMethodNotAllowed {
		// Router endpoints not available; the server hosts a single model.
		return nil
	}
	if resp.StatusCode >= 400 {
		if isAlreadyLoadedError(resp.StatusCode, respBody) {
			return b.waitForModelLoaded(ctx)
		}
		return fmt.Errorf("llama.cpp: /models/load returned %s: %s", resp.Status, strings.TrimSpace(string(respBody)))
	}
	return b.waitForModelLoaded(ctx)
}

// Tokenize converts text to token ids on the server.
func (b *Backend) Tokenize(ctx context.Context, text string, addBOS bool) ([]int, error) {
	var out struct {
		Tokens []int `json:"tokens"`
	}
	payload := map[string]any{"content": text, "add_special": addBOS}
	if err := b.postJSON(ctx, "/tokenize", payload, &out); err != nil {
		return nil, &generation.EncodingError{Model: b.model, Text: text, Err: err}
	}
	return out.Tokens, nil
}

// Decode converts token ids back to text on the server.
func (b *Backend) Decode(ctx context.Context, tokens []int) (string, error) {
	var out struct {
		Content string `json:"content"`
	}
	if tokens == nil {
		tokens = []int{}
	}
	if err := b.postJSON(ctx, "/detokenize", map[string]any{"tokens": tokens}, &out); err != nil {
		return "", err
	}
	return out.Content, nil
}

// Predict streams tokens from /completion. The prompt is sent as token ids
// and the server is asked for one token more than MaxNewTokens, matching
// what Collect accepts. Stopping the iteration closes the response.
func (b *Backend) Predict(ctx context.Context, inputs []int, cfg generation.Config) iter.Seq2[int, error] {
	return func(yield func(int, error) bool) {
		payload := map[string]any{
			"model":         b.model,
			"prompt":        inputs,
			"n_predict":     generation.Bound(cfg.MaxNewTokens),
			"stream":        true,
			"return_tokens": true,
			"cache_prompt":  !cfg.Reset,
		}
		applyParameters(payload, cfg)

		body, err := json.Marshal(payload)
		if err != nil {
			yield(0, err)
			return
		}
		logging.LogRequest("GENBENCH->LLM", b.hostIdentifier(), b.model, body)

		streamCtx, cancel := context.WithTimeout(ctx, b.timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(streamCtx, http.MethodPost, b.url+"/completion", bytes.NewReader(body))
		if err != nil {
			yield(0, err)
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "text/event-stream")

		resp, err := b.client.Do(req)
		if err != nil {
			yield(0, err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			raw, _ := io.ReadAll(resp.Body)
			logging.LogRequest("LLM->GENBENCH", b.hostIdentifier(), b.model, raw)
			yield(0, fmt.Errorf("llama.cpp: /completion returned %s: %s", resp.Status, strings.TrimSpace(string(raw))))
			return
		}

		reader := bufio.NewReader(resp.Body)
		for {
			line, err := reader.ReadString('\n')
			if err != nil && !errors.Is(err, io.EOF) {
				yield(0, err)
				return
			}
			done := errors.Is(err, io.EOF)
			line = strings.TrimSpace(line)
			if strings.HasPrefix(line, "data:") {
				data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
				if data == "[DONE]" {
					return
				}
				logging.LogRequest("LLM->GENBENCH", b.hostIdentifier(), b.model, data)

				var chunk completionChunk
				if err := json.Unmarshal([]byte(data), &chunk); err != nil {
					yield(0, err)
					return
				}
				if chunk.Error != nil {
					yield(0, fmt.Errorf("llama.cpp: %s", chunk.Error.Message))
					return
				}
				if len(chunk.Tokens) == 0 && !chunk.Stop && chunk.Content != "" {
					yield(0, errors.New("llama.cpp: stream chunk carries no token ids; server does not support return_tokens"))
					return
				}
				for _, tok := range chunk.Tokens {
					if !yield(tok, nil) {
						return
					}
				}
				if chunk.Stop {
					return
				}
			}
			if done {
				return
			}
		}
	}
}

// Generate runs the token loop over the server stream.
func (b *Backend) Generate(ctx context.Context, inputs []int, cfg generation.Config) ([]int, error) {
	out, err := generation.Collect(b.Predict(ctx, inputs, cfg), cfg.MaxNewTokens)
	var genErr *generation.GenerationError
	if errors.As(err, &genErr) && genErr.Model == "" {
		genErr.Model = b.model
	}
	return out, err
}

// Close releases any resources held by the backend.
func (b *Backend) Close() error {
	b.client.CloseIdleConnections()
	return nil
}

type completionChunk struct {
	Content string `json:"content"`
	Tokens  []int  `json:"tokens"`
	Stop    bool   `json:"stop"`
	Error   *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (b *Backend) postJSON(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	logging.LogRequest("GENBENCH->LLM", b.hostIdentifier(), b.model, body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	logging.LogRequest("LLM->GENBENCH", b.hostIdentifier(), b.model, raw)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("llama.cpp: %s returned %s: %s", path, resp.Status, strings.TrimSpace(string(raw)))
	}
	return json.Unmarshal(raw, out)
}

func parseModels(body []byte) ([]llamaModel, error) {
	var wrapped modelsResponse
	if err := json.Unmarshal(body, &wrapped); err == nil {
		if len(wrapped.Models) > 0 {
			return wrapped.Models, nil
		}
		if len(wrapped.Data) > 0 {
			return wrapped.Data, nil
		}
	}

	var direct []llamaModel
	if err := json.Unmarshal(body, &direct); err == nil && len(direct) > 0 {
		return direct, nil
	}

	var names struct {
		Models []string `json:"models"`
	}
	if err := json.Unmarshal(body, &names); err == nil && len(names.Models) > 0 {
		out := make([]llamaModel, 0, len(names.Models))
		for _, name := range names.Models {
			out = append(out, llamaModel{Name: name})
		}
		return out, nil
	}

	return nil, fmt.Errorf("llama.cpp: unrecognized /models response")
}

func modelDisplayName(model llamaModel) string {
	if strings.TrimSpace(model.ID) != "" {
		return strings.TrimSpace(model.ID)
	}
	if strings.TrimSpace(model.Name) != "" {
		return strings.TrimSpace(model.Name)
	}
	if strings.TrimSpace(model.Model) != "" {
		return strings.TrimSpace(model.Model)
	}
	return strings.TrimSpace(model.Path)
}

type statusField struct {
	Value string
}

func (s *statusField) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		s.Value = ""
		return nil
	}
	if trimmed[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		s.Value = v
		return nil
	}
	var obj struct {
		Value string `json:"value"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	s.Value = obj.Value
	return nil
}

func (b *Backend) fetchModels(ctx context.Context) ([]llamaModel, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.url+"/models", nil)
	if err != nil {
		return nil, err
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("llama.cpp: /models returned %s", resp.Status)
	}
	return parseModels(body)
}

func (b *Backend) waitForModelLoaded(ctx context.Context) error {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		loaded, err := b.isModelLoaded(ctx)
		if err != nil {
			return err
		}
		if loaded {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("llama.cpp: model %s did not load before timeout", b.model)
		case <-ticker.C:
		}
	}
}

func (b *Backend) isModelLoaded(ctx context.Context) (bool, error) {
	models, err := b.fetchModels(ctx)
	if err != nil {
		return false, err
	}
	for _, item := range models {
		if strings.EqualFold(modelDisplayName(item), b.model) {
			return strings.EqualFold(strings.TrimSpace(item.Status.Value), "loaded"), nil
		}
	}
	return false, nil
}

func isAlreadyLoadedError(statusCode int, body []byte) bool {
	if statusCode != http.StatusBadRequest {
		return false
	}
	text := strings.ToLower(strings.TrimSpace(string(body)))
	if strings.Contains(text, "already loaded") {
		return true
	}
	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if strings.Contains(strings.ToLower(payload.Error.Message), "already loaded") {
			return true
		}
	}
	return false
}

// applyParameters forwards the sampling configuration. Stop strings are not
// forwarded.
func applyParameters(payload map[string]any, cfg generation.Config) {
	payload["top_k"] = cfg.TopK
	payload["top_p"] = cfg.TopP
	payload["temperature"] = cfg.Temperature
	payload["repeat_penalty"] = cfg.RepetitionPenalty
	payload["frequency_penalty"] = cfg.FrequencyPenalty
	payload["presence_penalty"] = cfg.PresencePenalty
	payload["tfs_z"] = cfg.TFSZ
	payload["mirostat"] = cfg.MirostatMode
	payload["mirostat_tau"] = cfg.MirostatTau
	payload["mirostat_eta"] = cfg.MirostatEta
	if cfg.Seed != 0 {
		payload["seed"] = cfg.Seed
	}
}

// hostIdentifier returns the server URL used in request logs.
func (b *Backend) hostIdentifier() string {
	if b.url != "" {
		return b.url
	}
	return "llama.cpp-host"
}
