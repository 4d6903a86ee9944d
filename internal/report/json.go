package report

import (
	"encoding/json"
	"io"
	"time"

	"github.com/mwiater/genbench/internal/benchmark"
)

type jsonReport struct {
	Date   string          `json:"date"`
	Rows   []benchmark.Row `json:"rows"`
	Failed []string        `json:"failed,omitempty"`
}

// WriteJSON writes the rows with their per-trial statistics.
func WriteJSON(w io.Writer, results benchmark.Results, date time.Time) error {
	doc := jsonReport{Date: date.Format("2006-01-02"), Rows: results.Rows, Failed: results.Failed}
	if doc.Rows == nil {
		doc.Rows = []benchmark.Row{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

// ReadJSON parses a file written by WriteJSON.
func ReadJSON(r io.Reader) (benchmark.Results, error) {
	var doc jsonReport
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return benchmark.Results{}, err
	}
	return benchmark.Results{Rows: doc.Rows, Failed: doc.Failed}, nil
}
