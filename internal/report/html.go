package report

import (
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/mwiater/genbench/internal/benchmark"
)

type htmlReportData struct {
	Title     string
	Generated string
	Rows      []benchmark.Row
	Failed    []string
	RowsJSON  template.JS
}

// WriteHTML writes a standalone dashboard with a comparison table and one
// bar chart per latency column.
func WriteHTML(w io.Writer, results benchmark.Results, date time.Time) error {
	rows := results.Rows
	if rows == nil {
		rows = []benchmark.Row{}
	}
	raw, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("encode rows: %w", err)
	}
	data := htmlReportData{
		Title:     "genbench latency report",
		Generated: date.Format("2006-01-02"),
		Rows:      rows,
		Failed:    results.Failed,
		RowsJSON:  template.JS(raw),
	}
	return htmlTemplate.Execute(w, data)
}

var htmlTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"seconds": func(v float64) string { return fmt.Sprintf("%.4f", v) },
}).Parse(htmlReportTemplate))

const htmlReportTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>{{ .Title }}</title>
  <link href="https://cdn.jsdelivr.net/npm/bootstrap@5.3.3/dist/css/bootstrap.min.css" rel="stylesheet">
  <script src="https://cdn.jsdelivr.net/npm/chart.js@4.4.1/dist/chart.umd.min.js"></script>
  <style>
    :root {
      --primary: #1E293B;
      --secondary: #475569;
      --accent: #3B82F6;
      --border: #E2E8F0;
      --background: #F8FAFC;
    }
    body {
      background-color: var(--background);
      color: var(--primary);
    }
    .chart-card {
      border: 1px solid var(--border);
      border-radius: 12px;
      box-shadow: 0 4px 12px rgba(15, 23, 42, 0.08);
    }
    .chart-title {
      font-weight: 600;
      margin-bottom: 0.25rem;
    }
    .chart-subtitle {
      font-size: 0.85rem;
      color: var(--secondary);
      margin-bottom: 0.75rem;
    }
    .chart-canvas {
      position: relative;
      height: 320px;
    }
    td.num {
      text-align: right;
      font-variant-numeric: tabular-nums;
    }
  </style>
</head>
<body>
  <nav class="navbar navbar-dark bg-dark">
    <div class="container-fluid">
      <span class="navbar-brand mb-0 h1">{{ .Title }}</span>
      <span class="text-light">Generated: {{ .Generated }}</span>
    </div>
  </nav>
  <main class="container-fluid my-4">
    {{- if .Failed }}
    <div class="alert alert-warning">Skipped after errors: {{ range $i, $m := .Failed }}{{ if $i }}, {{ end }}{{ $m }}{{ end }}</div>
    {{- end }}
    <section>
      <div class="card shadow-sm">
        <div class="card-header bg-white"><h5 class="mb-0">Latency by model</h5></div>
        <div class="card-body table-responsive">
          <table class="table table-striped table-hover table-bordered table-sm" id="latencyTable">
            <thead class="table-light">
              <tr>
                <th></th><th>model</th><th>input/output tokens</th>
                <th>1st token avg latency (s)</th><th>2+ avg latency (s/token)</th><th>encoder time (s)</th><th>trials</th>
              </tr>
            </thead>
            <tbody>
              {{- range $i, $r := .Rows }}
              <tr>
                <td>{{ $i }}</td><td>{{ $r.Model }}</td><td>{{ $r.Pair }}</td>
                <td class="num">{{ seconds $r.FirstTokenMean }}</td>
                <td class="num">{{ seconds $r.RestTokenMean }}</td>
                <td class="num">{{ seconds $r.EncoderTimeMean }}</td>
                <td class="num">{{ $r.Trials }}</td>
              </tr>
              {{- end }}
            </tbody>
          </table>
        </div>
      </div>
    </section>
    <section class="mt-4">
      <div class="row g-3">
        <div class="col-xl-4">
          <div class="card chart-card"><div class="card-body">
            <div class="chart-title">First token</div>
            <div class="chart-subtitle">Encode plus first decode step, seconds (lower is better).</div>
            <div class="chart-canvas"><canvas id="firstChart"></canvas></div>
          </div></div>
        </div>
        <div class="col-xl-4">
          <div class="card chart-card"><div class="card-body">
            <div class="chart-title">Next tokens</div>
            <div class="chart-subtitle">Mean seconds per token after the first.</div>
            <div class="chart-canvas"><canvas id="restChart"></canvas></div>
          </div></div>
        </div>
        <div class="col-xl-4">
          <div class="card chart-card"><div class="card-body">
            <div class="chart-title">Encoder</div>
            <div class="chart-subtitle">Prompt evaluation, seconds.</div>
            <div class="chart-canvas"><canvas id="encoderChart"></canvas></div>
          </div></div>
        </div>
      </div>
    </section>
  </main>
  <script>
    const rows = {{ .RowsJSON }};
    const labels = rows.map(r => r.model + " " + r.in_out);
    const palette = ["#334155", "#3B82F6", "#64748B", "#0EA5E9", "#94A3B8", "#1D4ED8"];
    function bars(id, field) {
      const el = document.getElementById(id);
      if (!el || rows.length === 0) return;
      new Chart(el, {
        type: "bar",
        data: {
          labels: labels,
          datasets: [{
            data: rows.map(r => r[field]),
            backgroundColor: rows.map((_, i) => palette[i % palette.length])
          }]
        },
        options: {
          maintainAspectRatio: false,
          plugins: { legend: { display: false } },
          scales: { y: { beginAtZero: true } }
        }
      });
    }
    bars("firstChart", "first_token_avg_s");
    bars("restChart", "rest_token_avg_s");
    bars("encoderChart", "encoder_time_avg_s");
  </script>
</body>
</html>
`
