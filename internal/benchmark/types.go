package benchmark

import (
	"github.com/mwiater/genbench/internal/appconfig"
	"github.com/mwiater/genbench/internal/metrics"
)

// Row is the aggregated latency of one model over one input/output pair.
// The means are in seconds, averaged over the measured trials only.
type Row struct {
	Model            string               `json:"model"`
	Pair             string               `json:"in_out"`
	InputTokens      int                  `json:"input_tokens"`
	OutputTokens     int                  `json:"output_tokens"`
	PromptTokenCount int                  `json:"prompt_tokens"`
	FirstTokenMean   float64              `json:"first_token_avg_s"`
	RestTokenMean    float64              `json:"rest_token_avg_s"`
	EncoderTimeMean  float64              `json:"encoder_time_avg_s"`
	Trials           int                  `json:"trials"`
	Stats            metrics.LatencyStats `json:"stats"`
}

// NewRow builds a row from the running statistics of the measured trials.
func NewRow(model string, pair appconfig.Pair, promptTokens int, stats metrics.LatencyStats) Row {
	return Row{
		Model:            model,
		Pair:             pair.Label(),
		InputTokens:      pair.In,
		OutputTokens:     pair.Out,
		PromptTokenCount: promptTokens,
		FirstTokenMean:   stats.FirstCost.Mean,
		RestTokenMean:    stats.RestCostMean.Mean,
		EncoderTimeMean:  stats.EncoderTime.Mean,
		Trials:           int(stats.Count()),
		Stats:            stats,
	}
}

// Results accumulates rows across models. It is passed into and returned
// from BenchmarkModels rather than kept in package state.
type Results struct {
	Rows []Row `json:"rows"`
	// Failed lists models skipped with continue_on_error.
	Failed []string `json:"failed,omitempty"`
}

// Append returns r with rows added.
func (r Results) Append(rows ...Row) Results {
	r.Rows = append(r.Rows, rows...)
	return r
}
