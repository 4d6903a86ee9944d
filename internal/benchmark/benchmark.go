// internal/benchmark/benchmark.go
package benchmark

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/mwiater/genbench/internal/appconfig"
	"github.com/mwiater/genbench/internal/generation"
	"github.com/mwiater/genbench/internal/logging"
	"github.com/mwiater/genbench/internal/metrics"
	"github.com/mwiater/genbench/internal/providerfactory"
)

var (
	newBackend = providerfactory.NewTimedBackend
	readFile   = os.ReadFile
	now        = time.Now
)

// BenchmarkModels loads every configured model, runs warm_up + num_trials
// greedy generations per input/output pair and appends one row per pair to
// results. Warm-up calls are timed like the rest but never aggregated.
//
// A load, tokenization or generation failure stops the run and is returned
// with the rows accumulated so far, unless continue_on_error is set, in which
// case the failing model is skipped.
func BenchmarkModels(ctx context.Context, cfg appconfig.Config, results Results, observer Observer) (Results, error) {
	if observer == nil {
		observer = NopObserver{}
	}
	pairs, err := cfg.Pairs()
	if err != nil {
		return results, &appconfig.ConfigError{Path: cfg.ConfigPath, Err: err}
	}
	entries := cfg.ModelEntries()

	for i, entry := range entries {
		observer.ModelStarted(entry.ID, i, len(entries))
		rows, err := benchmarkModel(ctx, cfg, entry, pairs, observer)
		observer.ModelFinished(entry.ID, err)
		if err != nil {
			if cfg.ContinueOnError && ctx.Err() == nil {
				logging.Warnf("Skipping %s: %v", entry.ID, err)
				results.Failed = append(results.Failed, entry.ID)
				continue
			}
			return results, err
		}
		results = results.Append(rows...)
	}
	return results, nil
}

func benchmarkModel(ctx context.Context, cfg appconfig.Config, entry appconfig.ModelEntry, pairs []appconfig.Pair, observer Observer) ([]Row, error) {
	st := now()
	model, err := newBackend(ctx, cfg, entry)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := model.Close(); err != nil {
			logging.Warnf("Closing %s: %v", entry.ID, err)
		}
	}()
	loadTime := now().Sub(st)
	logging.LogEvent(">> loading of model %s costs %s", entry.ID, loadTime)
	observer.ModelLoaded(entry.ID, loadTime)

	total := cfg.WarmUp + cfg.NumTrials
	rows := make([]Row, 0, len(pairs))
	for _, pair := range pairs {
		inputs, err := buildPrompt(ctx, model, cfg, pair.In)
		if err != nil {
			return nil, err
		}
		genCfg := generation.NewConfig(generation.Greedy(), generation.WithMaxNewTokens(pair.Out))

		var stats metrics.LatencyStats
		for i := 0; i < total; i++ {
			st := now()
			out, err := model.Generate(ctx, inputs, genCfg)
			if err != nil {
				return nil, err
			}
			elapsed := now().Sub(st)
			rec, ok := model.LastLatency()
			if !ok {
				return nil, &generation.GenerationError{Model: entry.ID, Err: fmt.Errorf("no latency recorded")}
			}
			text, err := model.Decode(ctx, out)
			if err != nil {
				logging.Warnf("Decoding output of %s: %v", entry.ID, err)
			}
			warmUp := i < cfg.WarmUp
			if !warmUp {
				stats.Add(rec)
			}
			logging.Debugf("model generate cost: %s (%s trial %d/%d warm_up=%v)", elapsed, pair.Label(), i+1, total, warmUp)
			observer.TrialCompleted(TrialEvent{
				Model:     entry.ID,
				Pair:      pair,
				Trial:     i + 1,
				Total:     total,
				WarmUp:    warmUp,
				Elapsed:   elapsed,
				Latency:   rec,
				Generated: len(out),
				Text:      text,
			})
		}
		rows = append(rows, NewRow(entry.ID, pair, len(inputs), stats))
	}
	return rows, nil
}
