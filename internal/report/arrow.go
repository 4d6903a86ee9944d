package report

import (
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/mwiater/genbench/internal/benchmark"
	"github.com/mwiater/genbench/internal/metrics"
)

// Column order of the Arrow schema.
const (
	colModel = iota
	colPair
	colInputTokens
	colOutputTokens
	colPromptTokens
	colFirstMean
	colRestMean
	colEncoderMean
	colFirstStdDev
	colRestStdDev
	colTrials
)

var rowSchema = arrow.NewSchema([]arrow.Field{
	{Name: "model", Type: arrow.BinaryTypes.String},
	{Name: "in_out", Type: arrow.BinaryTypes.String},
	{Name: "input_tokens", Type: arrow.PrimitiveTypes.Int64},
	{Name: "output_tokens", Type: arrow.PrimitiveTypes.Int64},
	{Name: "prompt_tokens", Type: arrow.PrimitiveTypes.Int64},
	{Name: "first_token_avg_s", Type: arrow.PrimitiveTypes.Float64},
	{Name: "rest_token_avg_s", Type: arrow.PrimitiveTypes.Float64},
	{Name: "encoder_time_avg_s", Type: arrow.PrimitiveTypes.Float64},
	{Name: "first_token_std_s", Type: arrow.PrimitiveTypes.Float64},
	{Name: "rest_token_std_s", Type: arrow.PrimitiveTypes.Float64},
	{Name: "trials", Type: arrow.PrimitiveTypes.Int64},
}, nil)

var allocator memory.Allocator = memory.NewGoAllocator()

// WriteArrow writes rows as a single record batch in the Arrow IPC file format.
func WriteArrow(w io.Writer, rows []benchmark.Row) error {
	b := array.NewRecordBuilder(allocator, rowSchema)
	defer b.Release()

	for _, row := range rows {
		b.Field(colModel).(*array.StringBuilder).Append(row.Model)
		b.Field(colPair).(*array.StringBuilder).Append(row.Pair)
		b.Field(colInputTokens).(*array.Int64Builder).Append(int64(row.InputTokens))
		b.Field(colOutputTokens).(*array.Int64Builder).Append(int64(row.OutputTokens))
		b.Field(colPromptTokens).(*array.Int64Builder).Append(int64(row.PromptTokenCount))
		b.Field(colFirstMean).(*array.Float64Builder).Append(row.FirstTokenMean)
		b.Field(colRestMean).(*array.Float64Builder).Append(row.RestTokenMean)
		b.Field(colEncoderMean).(*array.Float64Builder).Append(row.EncoderTimeMean)
		b.Field(colFirstStdDev).(*array.Float64Builder).Append(row.Stats.FirstCost.StdDev())
		b.Field(colRestStdDev).(*array.Float64Builder).Append(row.Stats.RestCostMean.StdDev())
		b.Field(colTrials).(*array.Int64Builder).Append(int64(row.Trials))
	}
	rec := b.NewRecord()
	defer rec.Release()

	fw, err := ipc.NewFileWriter(w, ipc.WithSchema(rowSchema), ipc.WithAllocator(allocator))
	if err != nil {
		return err
	}
	if err := fw.Write(rec); err != nil {
		fw.Close()
		return err
	}
	return fw.Close()
}

// ReadArrow parses a file written by WriteArrow. Min and max are not stored
// and stay zero.
func ReadArrow(r ipc.ReadAtSeeker) (benchmark.Results, error) {
	fr, err := ipc.NewFileReader(r, ipc.WithAllocator(allocator))
	if err != nil {
		return benchmark.Results{}, err
	}
	defer fr.Close()
	for i, field := range rowSchema.Fields() {
		if got := fr.Schema().Fields(); i >= len(got) || got[i].Name != field.Name || !arrow.TypeEqual(got[i].Type, field.Type) {
			return benchmark.Results{}, fmt.Errorf("unexpected schema: %s", fr.Schema())
		}
	}

	var results benchmark.Results
	for i := 0; i < fr.NumRecords(); i++ {
		rec, err := fr.Record(i)
		if err != nil {
			return results, err
		}
		results = results.Append(rowsFromRecord(rec)...)
	}
	return results, nil
}

func rowsFromRecord(rec arrow.Record) []benchmark.Row {
	str := func(col int) *array.String { return rec.Column(col).(*array.String) }
	i64 := func(col int) *array.Int64 { return rec.Column(col).(*array.Int64) }
	f64 := func(col int) *array.Float64 { return rec.Column(col).(*array.Float64) }

	rows := make([]benchmark.Row, rec.NumRows())
	for j := range rows {
		trials := i64(colTrials).Value(j)
		rows[j] = benchmark.Row{
			Model:            str(colModel).Value(j),
			Pair:             str(colPair).Value(j),
			InputTokens:      int(i64(colInputTokens).Value(j)),
			OutputTokens:     int(i64(colOutputTokens).Value(j)),
			PromptTokenCount: int(i64(colPromptTokens).Value(j)),
			FirstTokenMean:   f64(colFirstMean).Value(j),
			RestTokenMean:    f64(colRestMean).Value(j),
			EncoderTimeMean:  f64(colEncoderMean).Value(j),
			Trials:           int(trials),
			Stats: metrics.LatencyStats{
				FirstCost:    statFrom(trials, f64(colFirstMean).Value(j), f64(colFirstStdDev).Value(j)),
				RestCostMean: statFrom(trials, f64(colRestMean).Value(j), f64(colRestStdDev).Value(j)),
				EncoderTime:  statFrom(trials, f64(colEncoderMean).Value(j), 0),
			},
		}
	}
	return rows
}

// statFrom rebuilds the running sums behind a mean and sample deviation.
// Arrow rows carry no extremes.
func statFrom(count int64, mean, stddev float64) metrics.RunningStat {
	return metrics.NewRunningStat(count, mean, stddev, 0, 0)
}
