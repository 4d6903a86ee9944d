package metrics

import (
	"context"
	"errors"
	"iter"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/mwiater/genbench/internal/generation"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

// scriptedBackend spends a scripted amount of fake time before each token.
type scriptedBackend struct {
	name   string
	clock  *fakeClock
	steps  []time.Duration
	failAt int // token index that fails, -1 for none

	produced int
	lastCfg  generation.Config
}

func (b *scriptedBackend) Name() string { return b.name }
func (b *scriptedBackend) Tokenize(context.Context, string, bool) ([]int, error) {
	return []int{1, 2, 3}, nil
}
func (b *scriptedBackend) Decode(context.Context, []int) (string, error) { return "text", nil }
func (b *scriptedBackend) Close() error                                  { return nil }
func (b *scriptedBackend) Generate(ctx context.Context, inputs []int, cfg generation.Config) ([]int, error) {
	return generation.Collect(b.Predict(ctx, inputs, cfg), cfg.MaxNewTokens)
}

func (b *scriptedBackend) Predict(_ context.Context, _ []int, cfg generation.Config) iter.Seq2[int, error] {
	b.lastCfg = cfg
	return func(yield func(int, error) bool) {
		for i, d := range b.steps {
			b.clock.Advance(d)
			b.produced = i + 1
			if i == b.failAt {
				yield(0, errors.New("device lost"))
				return
			}
			if !yield(100+i, nil) {
				return
			}
		}
	}
}

// encodingBackend adds a timed prefill.
type encodingBackend struct {
	scriptedBackend
	encode  time.Duration
	encoded bool
}

func (b *encodingBackend) Encode(context.Context, []int, generation.Config) error {
	b.clock.Advance(b.encode)
	b.encoded = true
	return nil
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func TestTimedGenerateRecordsLatency(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	backend := &scriptedBackend{name: "timed-basic", clock: clock, failAt: -1,
		steps: []time.Duration{ms(50), ms(10), ms(20), ms(30), ms(999)}}
	tm := Wrap(backend, WithClock(clock.Now))

	out, err := tm.Generate(context.Background(), []int{1}, generation.NewConfig(generation.WithMaxNewTokens(3)))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]int{100, 101, 102, 103}, out); diff != "" {
		t.Fatalf("tokens must pass through unchanged (-want +got):\n%s", diff)
	}

	rec, ok := tm.LastLatency()
	if !ok {
		t.Fatalf("expected a latency record")
	}
	want := LatencyRecord{FirstCost: ms(50), RestCostMean: ms(20), Tokens: 4}
	if diff := cmp.Diff(want, rec); diff != "" {
		t.Fatalf("discarded token must not be timed (-want +got):\n%s", diff)
	}
	if got := testutil.ToFloat64(GeneratedTokens.WithLabelValues("timed-basic")); got != 4 {
		t.Fatalf("expected 4 generated tokens in the counter, got %v", got)
	}
}

func TestTimedIncludesEncodeInFirstCost(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	backend := &encodingBackend{
		scriptedBackend: scriptedBackend{name: "timed-encode", clock: clock, failAt: -1, steps: []time.Duration{ms(5), ms(7)}},
		encode:          ms(40),
	}
	tm := Wrap(backend, WithClock(clock.Now))

	if _, err := tm.Generate(context.Background(), []int{1, 2}, generation.NewConfig(generation.WithMaxNewTokens(8))); err != nil {
		t.Fatal(err)
	}
	if !backend.encoded {
		t.Fatalf("expected Encode to run")
	}
	if backend.lastCfg.Reset {
		t.Fatalf("stream after Encode must continue with Reset=false")
	}
	rec, _ := tm.LastLatency()
	want := LatencyRecord{FirstCost: ms(45), RestCostMean: ms(7), EncoderTime: ms(40), Tokens: 2}
	if diff := cmp.Diff(want, rec); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
}

func TestTimedExcludesConsumerTime(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	backend := &scriptedBackend{name: "timed-consumer", clock: clock, failAt: -1,
		steps: []time.Duration{ms(3), ms(3), ms(3)}}
	tm := Wrap(backend, WithClock(clock.Now))

	for _, err := range tm.Predict(context.Background(), []int{1}, generation.DefaultConfig()) {
		if err != nil {
			t.Fatal(err)
		}
		clock.Advance(time.Second) // printing, logging
	}
	rec, _ := tm.LastLatency()
	if rec.FirstCost != ms(3) || rec.RestCostMean != ms(3) {
		t.Fatalf("consumer time leaked into the record: %+v", rec)
	}
}

func TestTimedPropagatesErrors(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	backend := &scriptedBackend{name: "timed-error", clock: clock, failAt: 2,
		steps: []time.Duration{ms(1), ms(1), ms(1), ms(1)}}
	tm := Wrap(backend, WithClock(clock.Now))

	out, err := tm.Generate(context.Background(), []int{1}, generation.NewConfig(generation.WithMaxNewTokens(10)))
	var genErr *generation.GenerationError
	if !errors.As(err, &genErr) || genErr.Model != "timed-error" {
		t.Fatalf("expected GenerationError naming the model, got %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("tokens before the failure should be returned, got %v", out)
	}
	if _, ok := tm.LastLatency(); ok {
		t.Fatalf("failed calls must not produce a record")
	}
}

func TestNewLatencyRecord(t *testing.T) {
	cases := []struct {
		name   string
		encode time.Duration
		steps  []time.Duration
		want   LatencyRecord
	}{
		{"no tokens", ms(4), nil, LatencyRecord{FirstCost: ms(4), EncoderTime: ms(4)}},
		{"one token", 0, []time.Duration{ms(9)}, LatencyRecord{FirstCost: ms(9), Tokens: 1}},
		{"many", ms(1), []time.Duration{ms(2), ms(4), ms(8)}, LatencyRecord{FirstCost: ms(3), RestCostMean: ms(6), EncoderTime: ms(1), Tokens: 3}},
	}
	for _, tc := range cases {
		if diff := cmp.Diff(tc.want, NewLatencyRecord(tc.encode, tc.steps)); diff != "" {
			t.Errorf("%s (-want +got):\n%s", tc.name, diff)
		}
	}
}
