// internal/report/report.go
package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mwiater/genbench/internal/appconfig"
	"github.com/mwiater/genbench/internal/benchmark"
	"github.com/mwiater/genbench/internal/logging"
)

// FilePrefix starts every report file name.
const FilePrefix = "results"

// FileName returns results-YYYY-MM-DD.<ext> for date.
func FileName(date time.Time, ext string) string {
	return fmt.Sprintf("%s-%s.%s", FilePrefix, date.Format("2006-01-02"), ext)
}

type writerFunc func(io.Writer, benchmark.Results, time.Time) error

var writers = map[string]writerFunc{
	appconfig.FormatCSV: func(w io.Writer, r benchmark.Results, _ time.Time) error {
		return WriteCSV(w, r.Rows)
	},
	appconfig.FormatJSON: WriteJSON,
	appconfig.FormatArrow: func(w io.Writer, r benchmark.Results, _ time.Time) error {
		return WriteArrow(w, r.Rows)
	},
	appconfig.FormatHTML: WriteHTML,
}

// Write stores results in dir once per format and returns the written paths.
// An existing file for the same date is overwritten.
func Write(dir string, formats []string, results benchmark.Results, date time.Time) ([]string, error) {
	if len(formats) == 0 {
		formats = []string{appconfig.FormatCSV}
	}
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create results dir: %w", err)
	}

	paths := make([]string, 0, len(formats))
	for _, format := range formats {
		write, ok := writers[strings.ToLower(format)]
		if !ok {
			return paths, fmt.Errorf("unsupported report format %q", format)
		}
		path := filepath.Join(dir, FileName(date, strings.ToLower(format)))
		if err := writeFile(path, func(w io.Writer) error { return write(w, results, date) }); err != nil {
			return paths, fmt.Errorf("write %s: %w", path, err)
		}
		logging.LogEvent("Wrote %d rows to %s", len(results.Rows), path)
		paths = append(paths, path)
	}
	return paths, nil
}

// Read loads a report written by Write, picking the reader from the file
// extension.
func Read(path string) (benchmark.Results, error) {
	f, err := os.Open(path)
	if err != nil {
		return benchmark.Results{}, err
	}
	defer f.Close()

	switch ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), ".")); ext {
	case appconfig.FormatCSV:
		return ReadCSV(f)
	case appconfig.FormatJSON:
		return ReadJSON(f)
	case appconfig.FormatArrow:
		return ReadArrow(f)
	default:
		return benchmark.Results{}, fmt.Errorf("cannot read %q reports", ext)
	}
}

func writeFile(path string, fill func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := fill(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
