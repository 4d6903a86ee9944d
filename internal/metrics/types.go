// internal/metrics/types.go
package metrics

import (
	"encoding/json"
	"math"
	"time"
)

// LatencyRecord is the timing of one generation call.
type LatencyRecord struct {
	// FirstCost is the encode time plus the time to produce the first token.
	FirstCost time.Duration `json:"first_cost"`
	// RestCostMean is the mean time per token after the first, zero when
	// fewer than two tokens were produced.
	RestCostMean time.Duration `json:"rest_cost_mean"`
	// EncoderTime is the prompt evaluation time, zero for backends without
	// a separate encode phase.
	EncoderTime time.Duration `json:"encoder_time"`
	// Tokens is the number of tokens the consumer accepted.
	Tokens int `json:"tokens"`
}

// NewLatencyRecord derives a record from the encode time and the per-token step times.
func NewLatencyRecord(encode time.Duration, steps []time.Duration) LatencyRecord {
	rec := LatencyRecord{EncoderTime: encode, FirstCost: encode, Tokens: len(steps)}
	if len(steps) == 0 {
		return rec
	}
	rec.FirstCost += steps[0]
	if rest := steps[1:]; len(rest) > 0 {
		var total time.Duration
		for _, d := range rest {
			total += d
		}
		rec.RestCostMean = total / time.Duration(len(rest))
	}
	return rec
}

// RunningStat holds the necessary values for online calculation of mean, variance, and stddev.
type RunningStat struct {
	Count int64
	Mean  float64
	M2    float64 // Sum of squares of differences from the current mean
	Min   float64
	Max   float64
}

// runningStatJSON is the serialized form of RunningStat. M2 travels as the
// sample deviation.
type runningStatJSON struct {
	Count  int64   `json:"count"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// NewRunningStat rebuilds a statistic from its summary values.
func NewRunningStat(count int64, mean, stddev, lo, hi float64) RunningStat {
	rs := RunningStat{Count: count, Mean: mean, Min: lo, Max: hi}
	if count > 1 {
		rs.M2 = stddev * stddev * float64(count-1)
	}
	return rs
}

func (rs RunningStat) MarshalJSON() ([]byte, error) {
	return json.Marshal(runningStatJSON{Count: rs.Count, Mean: rs.Mean, StdDev: rs.StdDev(), Min: rs.Min, Max: rs.Max})
}

func (rs *RunningStat) UnmarshalJSON(data []byte) error {
	var v runningStatJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*rs = NewRunningStat(v.Count, v.Mean, v.StdDev, v.Min, v.Max)
	return nil
}

// Update folds value into the statistic using Welford's online algorithm.
func (rs *RunningStat) Update(value float64) {
	rs.Count++
	if rs.Count == 1 {
		rs.Min = value
		rs.Max = value
	} else {
		if value < rs.Min {
			rs.Min = value
		}
		if value > rs.Max {
			rs.Max = value
		}
	}

	delta := value - rs.Mean
	rs.Mean += delta / float64(rs.Count)
	delta2 := value - rs.Mean
	rs.M2 += delta * delta2
}

// StdDev is the sample standard deviation, zero for fewer than two values.
func (rs RunningStat) StdDev() float64 {
	if rs.Count < 2 {
		return 0
	}
	return math.Sqrt(rs.M2 / float64(rs.Count-1))
}

// LatencyStats aggregates latency records in seconds.
type LatencyStats struct {
	FirstCost    RunningStat `json:"first_cost_s"`
	RestCostMean RunningStat `json:"rest_cost_mean_s"`
	EncoderTime  RunningStat `json:"encoder_time_s"`
	Tokens       RunningStat `json:"tokens"`
}

// Add folds one record into the aggregate.
func (s *LatencyStats) Add(rec LatencyRecord) {
	s.FirstCost.Update(rec.FirstCost.Seconds())
	s.RestCostMean.Update(rec.RestCostMean.Seconds())
	s.EncoderTime.Update(rec.EncoderTime.Seconds())
	s.Tokens.Update(float64(rec.Tokens))
}

// Count is the number of records added.
func (s LatencyStats) Count() int64 { return s.FirstCost.Count }
