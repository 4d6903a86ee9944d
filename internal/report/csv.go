package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/mwiater/genbench/internal/appconfig"
	"github.com/mwiater/genbench/internal/benchmark"
)

// csvHeader keeps an unnamed leading index column.
var csvHeader = []string{
	"",
	"model",
	"1st token avg latency (s)",
	"2+ avg latency (s/token)",
	"encoder time (s)",
	"input/output tokens",
}

// WriteCSV writes one line per row, indexed from zero.
func WriteCSV(w io.Writer, rows []benchmark.Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for i, row := range rows {
		record := []string{
			strconv.Itoa(i),
			row.Model,
			formatSeconds(row.FirstTokenMean),
			formatSeconds(row.RestTokenMean),
			formatSeconds(row.EncoderTimeMean),
			row.Pair,
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSV parses a file written by WriteCSV. Trial counts and statistics
// are not part of the CSV and stay zero.
func ReadCSV(r io.Reader) (benchmark.Results, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(csvHeader)
	records, err := cr.ReadAll()
	if err != nil {
		return benchmark.Results{}, err
	}
	if len(records) == 0 {
		return benchmark.Results{}, fmt.Errorf("empty report")
	}
	for i, name := range csvHeader {
		if records[0][i] != name {
			return benchmark.Results{}, fmt.Errorf("unexpected column %d %q, want %q", i, records[0][i], name)
		}
	}

	var results benchmark.Results
	for line, rec := range records[1:] {
		row, err := parseCSVRecord(rec)
		if err != nil {
			return results, fmt.Errorf("line %d: %w", line+2, err)
		}
		results = results.Append(row)
	}
	return results, nil
}

func parseCSVRecord(rec []string) (benchmark.Row, error) {
	pair, err := appconfig.ParsePair(rec[5])
	if err != nil {
		return benchmark.Row{}, err
	}
	row := benchmark.Row{Model: rec[1], Pair: pair.Label(), InputTokens: pair.In, OutputTokens: pair.Out}
	for i, dst := range []*float64{&row.FirstTokenMean, &row.RestTokenMean, &row.EncoderTimeMean} {
		v, err := strconv.ParseFloat(rec[2+i], 64)
		if err != nil {
			return benchmark.Row{}, fmt.Errorf("column %q: %w", csvHeader[2+i], err)
		}
		*dst = v
	}
	return row, nil
}

// formatSeconds prints the shortest representation that parses back to v.
func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
