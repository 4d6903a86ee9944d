package metrics

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestRunningStatWelford(t *testing.T) {
	var rs RunningStat
	for _, v := range []float64{2, 4, 4, 4, 5, 5, 7, 9} {
		rs.Update(v)
	}
	if rs.Count != 8 || math.Abs(rs.Mean-5) > 1e-12 || rs.Min != 2 || rs.Max != 9 {
		t.Fatalf("unexpected stat %+v", rs)
	}
	if got, want := rs.StdDev(), math.Sqrt(32.0/7.0); math.Abs(got-want) > 1e-9 {
		t.Fatalf("stddev %v want %v", got, want)
	}
	var single RunningStat
	single.Update(3)
	if single.StdDev() != 0 {
		t.Fatalf("stddev of one value must be zero")
	}
}

func TestRunningStatJSONKeepsDeviation(t *testing.T) {
	var s LatencyStats
	s.Add(LatencyRecord{FirstCost: time.Second})
	s.Add(LatencyRecord{FirstCost: 3 * time.Second})

	data, err := json.Marshal(s)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"std_dev":1.414`) {
		t.Fatalf("expected the deviation in %s", data)
	}
	var back LatencyStats
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if got := back.FirstCost.StdDev(); math.Abs(got-math.Sqrt2) > 1e-9 {
		t.Fatalf("stddev after round trip %v, want %v", got, math.Sqrt2)
	}
	if back.FirstCost.Count != 2 || back.FirstCost.Min != 1 || back.FirstCost.Max != 3 {
		t.Fatalf("unexpected stat %+v", back.FirstCost)
	}
}

func TestLatencyStatsAdd(t *testing.T) {
	var s LatencyStats
	s.Add(LatencyRecord{FirstCost: time.Second, RestCostMean: 100 * time.Millisecond, EncoderTime: 500 * time.Millisecond, Tokens: 4})
	s.Add(LatencyRecord{FirstCost: 3 * time.Second, RestCostMean: 300 * time.Millisecond, EncoderTime: 1500 * time.Millisecond, Tokens: 6})
	if s.Count() != 2 {
		t.Fatalf("count %d", s.Count())
	}
	if s.FirstCost.Mean != 2 || math.Abs(s.RestCostMean.Mean-0.2) > 1e-12 || s.EncoderTime.Mean != 1 || s.Tokens.Mean != 5 {
		t.Fatalf("unexpected means %+v", s)
	}
}

func TestWriteTextfile(t *testing.T) {
	ObserveCacheConversion("full", "quantized")
	SetCacheBytes("textfile-model", 2048)

	path := filepath.Join(t.TempDir(), "genbench.prom")
	if err := WriteTextfile(path); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	text := string(data)
	for _, want := range []string{
		`genbench_kv_cache_conversions_total{from="full",to="quantized"}`,
		`genbench_kv_cache_bytes{model="textfile-model"} 2048`,
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("textfile missing %q:\n%s", want, text)
		}
	}
}
