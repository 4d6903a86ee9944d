package benchmark

import (
	"bytes"
	"context"
	"errors"
	"iter"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/mwiater/genbench/internal/appconfig"
	"github.com/mwiater/genbench/internal/generation"
	"github.com/mwiater/genbench/internal/metrics"
	"github.com/mwiater/genbench/internal/providers"
	"github.com/mwiater/genbench/internal/providers/local"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

// wordBackend tokenizes one id per word and produces an endless stream
// whose step cost depends on how many calls came before.
type wordBackend struct {
	name  string
	clock *fakeClock
	// stepCost returns the fake duration of every step of call n (0-based).
	stepCost func(call int) time.Duration
	failOn   int // call index that fails, -1 for none

	calls   int
	prompts [][]int
	closed  bool
}

func (b *wordBackend) Name() string { return b.name }

func (b *wordBackend) Tokenize(_ context.Context, text string, addBOS bool) ([]int, error) {
	var ids []int
	if addBOS {
		ids = append(ids, 1)
	}
	for range strings.Fields(text) {
		ids = append(ids, 10+len(ids))
	}
	return ids, nil
}

func (b *wordBackend) Decode(_ context.Context, tokens []int) (string, error) {
	return strings.Repeat("w ", len(tokens)), nil
}

func (b *wordBackend) Generate(ctx context.Context, inputs []int, cfg generation.Config) ([]int, error) {
	return generation.Collect(b.Predict(ctx, inputs, cfg), cfg.MaxNewTokens)
}

func (b *wordBackend) Predict(_ context.Context, inputs []int, _ generation.Config) iter.Seq2[int, error] {
	call := b.calls
	b.calls++
	b.prompts = append(b.prompts, append([]int(nil), inputs...))
	return func(yield func(int, error) bool) {
		for i := 0; ; i++ {
			b.clock.Advance(b.stepCost(call))
			if call == b.failOn {
				yield(0, errors.New("device lost"))
				return
			}
			if !yield(500+i, nil) {
				return
			}
		}
	}
}

func (b *wordBackend) Close() error {
	b.closed = true
	return nil
}

// encodingWordBackend adds a fixed-cost prefill.
type encodingWordBackend struct {
	*wordBackend
	cost time.Duration
}

func (b encodingWordBackend) Encode(context.Context, []int, generation.Config) error {
	b.clock.Advance(b.cost)
	return nil
}

func withBackends(t *testing.T, clock *fakeClock, backends map[string]providers.Backend, loadErr map[string]error) {
	t.Helper()
	prevBackend, prevNow := newBackend, now
	newBackend = func(_ context.Context, _ appconfig.Config, entry appconfig.ModelEntry, _ ...metrics.Option) (*metrics.TimedModel, error) {
		if err := loadErr[entry.ID]; err != nil {
			return nil, err
		}
		return metrics.Wrap(backends[entry.ID], metrics.WithClock(clock.Now)), nil
	}
	now = clock.Now
	t.Cleanup(func() { newBackend, now = prevBackend, prevNow })
}

func testConfig(t *testing.T, ids ...string) appconfig.Config {
	return appconfig.Config{
		RepoIDs:           ids,
		WarmUp:            1,
		NumTrials:         2,
		InOutPairs:        []string{"32-32"},
		PromptDir:         t.TempDir(),
		SynthesizePrompts: true,
		Backend:           appconfig.BackendLocal,
	}
}

func TestBenchmarkModelsEndToEnd(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	backend := &wordBackend{name: "org/tiny", clock: clock, failOn: -1,
		stepCost: func(int) time.Duration { return 10 * time.Millisecond }}
	encoding := encodingWordBackend{wordBackend: backend, cost: 5 * time.Millisecond}
	withBackends(t, clock, map[string]providers.Backend{"org/tiny": encoding}, nil)

	results, err := BenchmarkModels(context.Background(), testConfig(t, "org/tiny"), Results{}, nil)
	if err != nil {
		t.Fatalf("BenchmarkModels: %v", err)
	}
	if len(results.Rows) != 1 {
		t.Fatalf("expected one row, got %+v", results.Rows)
	}
	row := results.Rows[0]
	if row.Model != "org/tiny" || row.Pair != "32-32" || row.Trials != 2 || row.PromptTokenCount != 32 {
		t.Fatalf("unexpected row %+v", row)
	}
	if row.FirstTokenMean <= 0 || row.RestTokenMean <= 0 || row.EncoderTimeMean <= 0 {
		t.Fatalf("latencies must be positive: %+v", row)
	}
	if math.Abs(row.FirstTokenMean-0.015) > 1e-9 || math.Abs(row.RestTokenMean-0.010) > 1e-9 || math.Abs(row.EncoderTimeMean-0.005) > 1e-9 {
		t.Fatalf("unexpected means %+v", row)
	}
	if backend.calls != 3 {
		t.Fatalf("expected warm_up + num_trials = 3 calls, got %d", backend.calls)
	}
	if !backend.closed {
		t.Fatalf("backend must be closed after its pairs")
	}
	for _, p := range backend.prompts {
		if len(p) != 32 || p[0] != 1 {
			t.Fatalf("prompt must be BOS-prefixed and sliced to 32 tokens, got %d", len(p))
		}
	}
}

func TestWarmUpNeverAggregated(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	backend := &wordBackend{name: "m", clock: clock, failOn: -1, stepCost: func(call int) time.Duration {
		if call == 0 {
			return time.Hour
		}
		return time.Duration(call) * time.Millisecond
	}}
	withBackends(t, clock, map[string]providers.Backend{"m": backend}, nil)

	cfg := testConfig(t, "m")
	cfg.InOutPairs = []string{"4-3"}
	results, err := BenchmarkModels(context.Background(), cfg, Results{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	row := results.Rows[0]
	// trials are calls 1 and 2 with 1ms and 2ms steps
	if math.Abs(row.FirstTokenMean-0.0015) > 1e-9 || math.Abs(row.RestTokenMean-0.0015) > 1e-9 {
		t.Fatalf("warm-up leaked into the aggregate: %+v", row)
	}
	if row.Stats.FirstCost.Max > 0.002+1e-9 {
		t.Fatalf("warm-up leaked into the max: %+v", row.Stats.FirstCost)
	}
	if row.Stats.Tokens.Mean != 4 {
		t.Fatalf("out=3 must produce 4 tokens per call, got %v", row.Stats.Tokens.Mean)
	}
}

func TestBenchmarkModelsAccumulates(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	cost := func(int) time.Duration { return time.Millisecond }
	withBackends(t, clock, map[string]providers.Backend{
		"a": &wordBackend{name: "a", clock: clock, failOn: -1, stepCost: cost},
		"b": &wordBackend{name: "b", clock: clock, failOn: -1, stepCost: cost},
	}, nil)

	cfg := testConfig(t, "a", "b")
	cfg.InOutPairs = []string{"8-2", "16-4"}
	prior := Results{Rows: []Row{{Model: "earlier"}}}
	results, err := BenchmarkModels(context.Background(), cfg, prior, nil)
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, r := range results.Rows {
		got = append(got, r.Model+"/"+r.Pair)
	}
	want := []string{"earlier/", "a/8-2", "a/16-4", "b/8-2", "b/16-4"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("rows (-want +got):\n%s", diff)
	}
}

func TestBenchmarkModelsFailurePolicy(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	cost := func(int) time.Duration { return time.Millisecond }
	loadErr := &providers.ModelLoadError{Model: "broken", Err: os.ErrNotExist}

	t.Run("abort", func(t *testing.T) {
		withBackends(t, clock, map[string]providers.Backend{
			"ok": &wordBackend{name: "ok", clock: clock, failOn: -1, stepCost: cost},
		}, map[string]error{"broken": loadErr})
		results, err := BenchmarkModels(context.Background(), testConfig(t, "ok", "broken", "ok"), Results{}, nil)
		var target *providers.ModelLoadError
		if !errors.As(err, &target) {
			t.Fatalf("expected ModelLoadError, got %v", err)
		}
		if len(results.Rows) != 1 || results.Rows[0].Model != "ok" {
			t.Fatalf("partial results must be returned, got %+v", results.Rows)
		}
	})

	t.Run("generation error", func(t *testing.T) {
		withBackends(t, clock, map[string]providers.Backend{
			"flaky": &wordBackend{name: "flaky", clock: clock, failOn: 1, stepCost: cost},
		}, nil)
		_, err := BenchmarkModels(context.Background(), testConfig(t, "flaky"), Results{}, nil)
		var genErr *generation.GenerationError
		if !errors.As(err, &genErr) || genErr.Model != "flaky" {
			t.Fatalf("expected GenerationError, got %v", err)
		}
	})

	t.Run("continue on error", func(t *testing.T) {
		withBackends(t, clock, map[string]providers.Backend{
			"ok": &wordBackend{name: "ok", clock: clock, failOn: -1, stepCost: cost},
		}, map[string]error{"broken": loadErr})
		cfg := testConfig(t, "broken", "ok")
		cfg.ContinueOnError = true
		var buf bytes.Buffer
		results, err := BenchmarkModels(context.Background(), cfg, Results{}, ConsoleObserver{Out: &buf})
		if err != nil {
			t.Fatalf("continue_on_error must not fail the run: %v", err)
		}
		if len(results.Rows) != 1 || results.Rows[0].Model != "ok" {
			t.Fatalf("expected only the healthy model, got %+v", results.Rows)
		}
		if diff := cmp.Diff([]string{"broken"}, results.Failed); diff != "" {
			t.Fatalf("failed models (-want +got):\n%s", diff)
		}
		if !strings.Contains(buf.String(), "broken failed") {
			t.Fatalf("console must report the failure:\n%s", buf.String())
		}
	})
}

func TestConsoleObserverPrintsText(t *testing.T) {
	ev := TrialEvent{
		Model:   "m",
		Pair:    appconfig.Pair{In: 32, Out: 32},
		Trial:   1,
		Total:   2,
		Elapsed: 40 * time.Millisecond,
		Latency: metrics.LatencyRecord{FirstCost: 20 * time.Millisecond, RestCostMean: 10 * time.Millisecond},
		Text:    "once upon a time",
	}

	var buf bytes.Buffer
	ConsoleObserver{Out: &buf}.TrialCompleted(ev)
	out := buf.String()
	if !strings.Contains(out, "once upon a time") || !strings.Contains(out, "first=0.0200s") {
		t.Fatalf("default console output must carry text and latency:\n%s", out)
	}

	buf.Reset()
	ConsoleObserver{Out: &buf, HideText: true}.TrialCompleted(ev)
	if strings.Contains(buf.String(), "once upon a time") {
		t.Fatalf("HideText must drop the decoded output:\n%s", buf.String())
	}
}

func TestBuildPrompt(t *testing.T) {
	backend := &wordBackend{name: "m"}
	dir := t.TempDir()
	cfg := appconfig.Config{PromptDir: dir}

	if err := os.WriteFile(PromptPath(dir, 4), []byte("one two three four five six"), 0o644); err != nil {
		t.Fatal(err)
	}
	ids, err := buildPrompt(context.Background(), backend, cfg, 4)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]int{1, 11, 12, 13}, ids); diff != "" {
		t.Fatalf("prompt must be sliced to the input length (-want +got):\n%s", diff)
	}

	if err := os.WriteFile(PromptPath(dir, 64), []byte("short prompt"), 0o644); err != nil {
		t.Fatal(err)
	}
	ids, err = buildPrompt(context.Background(), backend, cfg, 64)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 3 {
		t.Fatalf("a short prompt passes through unchanged, got %d tokens", len(ids))
	}

	if _, err := buildPrompt(context.Background(), backend, cfg, 128); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("missing prompt without synthesis must fail, got %v", err)
	}

	cfg.SynthesizePrompts = true
	ids, err = buildPrompt(context.Background(), backend, cfg, 1024)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1024 {
		t.Fatalf("synthesized prompt must reach 1024 tokens, got %d", len(ids))
	}
	if got := PromptPath("prompt", 32); got != filepath.Join("prompt", "32.txt") {
		t.Fatalf("unexpected prompt path %q", got)
	}
}

func TestBenchmarkModelsLocalBackend(t *testing.T) {
	if testing.Short() {
		t.Skip("runs the in-process transformer")
	}
	hubDir := t.TempDir()
	shape := local.SyntheticConfig()
	shape.SeqLen = 96
	if err := local.WriteRandom(filepath.Join(hubDir, "tiny"), shape, "llama", 3); err != nil {
		t.Fatal(err)
	}
	cfg := testConfig(t, "org/tiny")
	cfg.LocalModelHub = hubDir
	cfg.Quantize = "q4"
	cfg.KVCache = "auto"

	results, err := BenchmarkModels(context.Background(), cfg, Results{}, nil)
	if err != nil {
		t.Fatalf("BenchmarkModels: %v", err)
	}
	if len(results.Rows) != 1 || results.Rows[0].Pair != "32-32" {
		t.Fatalf("unexpected rows %+v", results.Rows)
	}
	row := results.Rows[0]
	if row.FirstTokenMean <= 0 || row.EncoderTimeMean <= 0 || row.RestTokenMean < 0 {
		t.Fatalf("unexpected latencies %+v", row)
	}
	if row.FirstTokenMean < row.EncoderTimeMean {
		t.Fatalf("first token latency includes the encoder time: %+v", row)
	}
}
