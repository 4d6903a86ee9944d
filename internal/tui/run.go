package tui

import (
	"context"
	"errors"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mwiater/genbench/internal/appconfig"
	"github.com/mwiater/genbench/internal/benchmark"
)

// ErrAborted is returned by Run when the user quits before the run ends.
var ErrAborted = errors.New("benchmark aborted")

type sender interface {
	Send(msg tea.Msg)
}

// observer forwards benchmark events to a running program.
type observer struct{ p sender }

// NewObserver returns a benchmark.Observer that sends its events to p.
func NewObserver(p sender) benchmark.Observer { return observer{p: p} }

func (o observer) ModelStarted(model string, index, total int) {
	o.p.Send(modelStartedMsg{model: model, index: index, total: total})
}

func (o observer) ModelLoaded(model string, took time.Duration) {
	o.p.Send(modelLoadedMsg{model: model, took: took})
}

func (o observer) TrialCompleted(ev benchmark.TrialEvent) {
	o.p.Send(trialMsg(ev))
}

func (o observer) ModelFinished(model string, err error) {
	o.p.Send(modelFinishedMsg{model: model, err: err})
}

// RunFunc is the benchmark body driven by Run.
type RunFunc func(ctx context.Context, observer benchmark.Observer) (benchmark.Results, error)

// Run shows a progress view while run executes on its own goroutine and
// returns run's results. Quitting the view cancels run's context.
func Run(ctx context.Context, cfg appconfig.Config, run RunFunc, opts ...tea.ProgramOption) (benchmark.Results, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m := newModel(cfg, cancel)
	p := tea.NewProgram(m, opts...)

	type outcome struct {
		results benchmark.Results
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		results, err := run(ctx, NewObserver(p))
		p.Send(runDoneMsg{err: err})
		done <- outcome{results, err}
	}()

	if _, err := p.Run(); err != nil {
		cancel()
		<-done
		return benchmark.Results{}, err
	}
	out := <-done
	if m.aborted && out.err != nil {
		return out.results, errors.Join(ErrAborted, out.err)
	}
	return out.results, out.err
}
