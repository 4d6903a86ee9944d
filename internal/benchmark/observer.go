package benchmark

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"

	"github.com/mwiater/genbench/internal/appconfig"
	"github.com/mwiater/genbench/internal/metrics"
)

// TrialEvent describes one finished generation call.
type TrialEvent struct {
	Model     string
	Pair      appconfig.Pair
	Trial     int
	Total     int
	WarmUp    bool
	Elapsed   time.Duration
	Latency   metrics.LatencyRecord
	Generated int
	Text      string
}

// Observer receives progress from BenchmarkModels. Calls arrive on the
// driver goroutine in order.
type Observer interface {
	ModelStarted(model string, index, total int)
	ModelLoaded(model string, took time.Duration)
	TrialCompleted(ev TrialEvent)
	ModelFinished(model string, err error)
}

// NopObserver ignores every event.
type NopObserver struct{}

func (NopObserver) ModelStarted(string, int, int) {}
func (NopObserver) ModelLoaded(string, time.Duration) {}
func (NopObserver) TrialCompleted(TrialEvent) {}
func (NopObserver) ModelFinished(string, error) {}

// ConsoleObserver prints each call's output and latency.
type ConsoleObserver struct {
	Out io.Writer
	// HideText suppresses the decoded output of every call.
	HideText bool
}

var (
	headerColor = color.New(color.FgCyan, color.Bold)
	warmColor   = color.New(color.FgYellow)
	okColor     = color.New(color.FgGreen)
	errColor    = color.New(color.FgRed, color.Bold)
)

func (c ConsoleObserver) ModelStarted(model string, index, total int) {
	headerColor.Fprintf(c.Out, "==> [%d/%d] %s\n", index+1, total, model)
}

func (c ConsoleObserver) ModelLoaded(model string, took time.Duration) {
	fmt.Fprintf(c.Out, ">> loading of model costs %.3fs\n", took.Seconds())
}

func (c ConsoleObserver) TrialCompleted(ev TrialEvent) {
	tag := okColor.Sprintf("trial %d/%d", ev.Trial, ev.Total)
	if ev.WarmUp {
		tag = warmColor.Sprintf("warm-up %d/%d", ev.Trial, ev.Total)
	}
	fmt.Fprintf(c.Out, "%s %s model generate cost: %.4fs first=%.4fs rest=%.4fs/token encoder=%.4fs tokens=%d\n",
		ev.Pair.Label(), tag, ev.Elapsed.Seconds(),
		ev.Latency.FirstCost.Seconds(), ev.Latency.RestCostMean.Seconds(), ev.Latency.EncoderTime.Seconds(), ev.Generated)
	if !c.HideText {
		fmt.Fprintln(c.Out, ev.Text)
	}
}

func (c ConsoleObserver) ModelFinished(model string, err error) {
	if err != nil {
		errColor.Fprintf(c.Out, "!! %s failed: %v\n", model, err)
		return
	}
	okColor.Fprintf(c.Out, "<== %s done\n", model)
}
